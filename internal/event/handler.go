package event

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"eventhub/internal/constants"
	"eventhub/internal/logger"
	"eventhub/pkg/errors"
	"eventhub/pkg/models"
)

type APIHandler struct {
	Lifecycle *Lifecycle
	Logger    logger.Logger
}

func NewAPIHandler(lifecycle *Lifecycle, log logger.Logger) *APIHandler {
	return &APIHandler{
		Lifecycle: lifecycle,
		Logger:    log,
	}
}

func (h *APIHandler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		events := v1.Group("/events")
		{
			events.POST("", h.SubmitEvent)
			events.GET("", h.ListEvents)
			events.GET("/counts", h.CountsByStatus)
			events.GET("/:event_id", h.GetEvent)
			events.GET("/:event_id/history", h.GetHistory)
			events.POST("/:event_id/cancel", h.CancelEvent)
			events.POST("/:event_id/reingest", h.ReingestEvent)
		}
	}
}

func (h *APIHandler) handleError(c *gin.Context, err error) {
	h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := errors.ToHTTPStatus(err)
	response := errors.ToErrorResponse(err)

	c.JSON(status, response)
}

// SubmitEvent ingests a submission synchronously. A duplicate returns
// 409 without persisting; a schema or payload rejection returns the
// persisted FAILED event alongside 422.
func (h *APIHandler) SubmitEvent(c *gin.Context) {
	var msg models.SubmissionEnvelope
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	event, err := h.Lifecycle.Ingest(c.Request.Context(), msg)
	if err != nil {
		if event != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"event": event,
				"error": errors.ToErrorResponse(err),
			})
			return
		}
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, event)
}

func (h *APIHandler) GetEvent(c *gin.Context) {
	eventID := c.Param("event_id")

	event, err := h.Lifecycle.Get(c.Request.Context(), eventID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	if event == nil {
		h.handleError(c, errors.ErrNotFound.WithDetail("event_id", eventID))
		return
	}

	c.JSON(http.StatusOK, event)
}

func (h *APIHandler) ListEvents(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(err))
		return
	}

	events, err := h.Lifecycle.List(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (h *APIHandler) CountsByStatus(c *gin.Context) {
	counts, err := h.Lifecycle.Counts(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, counts)
}

func (h *APIHandler) GetHistory(c *gin.Context) {
	eventID := c.Param("event_id")
	limit := parseLimit(c.Query("limit"))
	offset := parseOffset(c.Query("offset"))

	rows, err := h.Lifecycle.History(c.Request.Context(), eventID, limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"event_id": eventID,
		"attempts": rows,
		"count":    len(rows),
	})
}

func (h *APIHandler) CancelEvent(c *gin.Context) {
	eventID := c.Param("event_id")

	event, err := h.Lifecycle.Cancel(c.Request.Context(), eventID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, event)
}

func (h *APIHandler) ReingestEvent(c *gin.Context) {
	eventID := c.Param("event_id")

	event, err := h.Lifecycle.Reingest(c.Request.Context(), eventID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, event)
}

func parseFilter(c *gin.Context) (Filter, error) {
	filter := Filter{
		EventType:     c.Query("event_type"),
		Source:        c.Query("source"),
		PayloadHash:   c.Query("payload_hash"),
		CorrelationID: c.Query("correlation_id"),
		TenantID:      c.Query("tenant_id"),
		Limit:         parseLimit(c.Query("limit")),
		Offset:        parseOffset(c.Query("offset")),
	}

	if s := c.Query("status"); s != "" {
		status := Status(s)
		if !status.Valid() {
			return Filter{}, errors.ErrValidation.WithDetail("message", "unknown status: "+s)
		}
		filter.Status = status
	}

	if from := c.Query("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return Filter{}, errors.ErrValidation.WithCause(err).WithDetail("message", "'from' must be RFC3339")
		}
		filter.From = &t
	}

	if to := c.Query("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return Filter{}, errors.ErrValidation.WithCause(err).WithDetail("message", "'to' must be RFC3339")
		}
		filter.To = &t
	}

	return filter, nil
}

func parseLimit(limitStr string) int {
	if limitStr == "" {
		return constants.DefaultLimit
	}
	parsed, err := strconv.Atoi(limitStr)
	if err != nil || parsed <= 0 || parsed > constants.MaxLimit {
		return constants.DefaultLimit
	}
	return parsed
}

func parseOffset(offsetStr string) int {
	if offsetStr == "" {
		return 0
	}
	parsed, err := strconv.Atoi(offsetStr)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}
