package schema

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"eventhub/internal/constants"
	"eventhub/internal/logger"
	"eventhub/pkg/errors"
)

type Handler struct {
	Registry *Registry
	Logger   logger.Logger
}

func NewHandler(registry *Registry, log logger.Logger) *Handler {
	return &Handler{
		Registry: registry,
		Logger:   log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		schemas := v1.Group("/schemas")
		{
			schemas.POST("", h.RegisterSchema)
			schemas.GET("", h.ListSchemas)
			schemas.GET("/deprecated", h.ListDeprecated)
			schemas.GET("/:event_type/resolve", h.ResolveSchema)
			schemas.GET("/:event_type/usage", h.GetUsageStats)
			schemas.GET("/:event_type/compatibility", h.CheckCompatibility)
			schemas.GET("/:event_type/versions/:version", h.GetSchema)
			schemas.POST("/:event_type/versions/:version/deprecate", h.DeprecateSchema)
		}
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := errors.ToHTTPStatus(err)
	response := errors.ToErrorResponse(err)

	c.JSON(status, response)
}

func (h *Handler) RegisterSchema(c *gin.Context) {
	var req RegisterSchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	schema, err := h.Registry.Register(c.Request.Context(), req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, schema)
}

func (h *Handler) ListSchemas(c *gin.Context) {
	eventType := c.Query("event_type")
	limit := parseLimit(c.Query("limit"))

	schemas, err := h.Registry.ListSchemas(c.Request.Context(), eventType, limit)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, schemas)
}

func (h *Handler) ListDeprecated(c *gin.Context) {
	schemas, err := h.Registry.ListDeprecated(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, schemas)
}

// ResolveSchema performs active resolution: the exact version when
// given, otherwise the highest eligible version for the event type.
func (h *Handler) ResolveSchema(c *gin.Context) {
	eventType := c.Param("event_type")
	version := c.Query("version")

	schema, err := h.Registry.Resolve(c.Request.Context(), eventType, version)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, schema)
}

// GetSchema is an exact-version lookup regardless of lifecycle state.
func (h *Handler) GetSchema(c *gin.Context) {
	eventType := c.Param("event_type")
	version := c.Param("version")

	schema, err := h.Registry.ResolveAny(c.Request.Context(), eventType, version)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, schema)
}

func (h *Handler) DeprecateSchema(c *gin.Context) {
	eventType := c.Param("event_type")
	version := c.Param("version")

	var req DeprecateSchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	schema, err := h.Registry.Deprecate(c.Request.Context(), eventType, version, req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, schema)
}

func (h *Handler) CheckCompatibility(c *gin.Context) {
	eventType := c.Param("event_type")
	from := c.Query("from")
	to := c.Query("to")

	if from == "" || to == "" {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(
			errors.ErrValidation.WithDetail("message", "query parameters 'from' and 'to' are required")))
		return
	}

	compatible, err := h.Registry.IsCompatible(c.Request.Context(), eventType, from, to)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"event_type": eventType,
		"from":       from,
		"to":         to,
		"compatible": compatible,
	})
}

func (h *Handler) GetUsageStats(c *gin.Context) {
	eventType := c.Param("event_type")

	stats, err := h.Registry.UsageStats(c.Request.Context(), eventType)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
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
