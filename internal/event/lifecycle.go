package event

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"eventhub/internal/config"
	"eventhub/internal/constants"
	"eventhub/internal/dedup"
	"eventhub/internal/history"
	"eventhub/internal/logger"
	"eventhub/internal/schema"
	pkgerrors "eventhub/pkg/errors"
	"eventhub/pkg/logging"
	"eventhub/pkg/metrics"
	"eventhub/pkg/models"
	"eventhub/pkg/retry"
	"eventhub/pkg/tracing"
)

// Handler is the integrator-supplied processing function invoked during
// a PROCESSING attempt. It must be idempotent under at-least-once
// invocation. A nil error marks the attempt successful.
type Handler func(ctx context.Context, e *Event) error

// Lifecycle owns the event state machine. Every transition is a
// conditional store update keyed on the expected prior status, so a
// lost claim is a logged no-op, never an error.
type Lifecycle struct {
	store       Store
	recorder    *history.Recorder
	registry    *schema.Registry
	validator   *schema.PayloadValidator
	dedup       *dedup.Checker
	cfg         config.ProcessingConfig
	retention   config.RetentionConfig
	logger      logger.Logger
	processorID string
	now         func() time.Time
}

func NewLifecycle(
	store Store,
	recorder *history.Recorder,
	registry *schema.Registry,
	validator *schema.PayloadValidator,
	checker *dedup.Checker,
	cfg config.ProcessingConfig,
	retention config.RetentionConfig,
	processorID string,
	log logger.Logger,
) *Lifecycle {
	return &Lifecycle{
		store:       store,
		recorder:    recorder,
		registry:    registry,
		validator:   validator,
		dedup:       checker,
		cfg:         cfg,
		retention:   retention,
		logger:      log,
		processorID: processorID,
		now:         time.Now,
	}
}

// Ingest validates a submission and persists it as a PENDING event. A
// schema or payload failure still persists the event, directly as
// FAILED with the error recorded and zero attempts consumed. A dedup
// hit persists nothing and returns ErrDuplicateEvent.
func (l *Lifecycle) Ingest(ctx context.Context, msg models.SubmissionEnvelope) (*Event, error) {
	if err := models.ValidateSubmissionEnvelope(&msg); err != nil {
		metrics.EventsIngestedTotal.WithLabelValues("rejected").Inc()
		return nil, pkgerrors.ErrValidation.WithCause(err).
			WithDetail("message", err.Error())
	}

	payloadJSON, err := json.Marshal(msg.Payload)
	if err != nil {
		metrics.EventsIngestedTotal.WithLabelValues("rejected").Inc()
		return nil, pkgerrors.ErrValidation.WithCause(err).
			WithDetail("message", "payload is not serializable")
	}

	payloadHash := msg.PayloadHash
	if payloadHash == "" {
		payloadHash, err = l.dedup.Hasher().HashPayload(msg.Payload)
		if err != nil {
			metrics.EventsIngestedTotal.WithLabelValues("rejected").Inc()
			return nil, pkgerrors.ErrValidation.WithCause(err)
		}
	}

	if err := l.dedup.Check(ctx, msg.EventID, msg.EventType, payloadHash); err != nil {
		if pkgerrors.IsDuplicateEvent(err) {
			metrics.EventsIngestedTotal.WithLabelValues("duplicate").Inc()
			l.logger.InfowCtx(ctx, "Duplicate event rejected",
				"event_type", msg.EventType,
				"payload_hash", payloadHash,
			)
			return nil, err
		}
		return nil, err
	}

	e := l.buildEvent(msg, payloadHash, int64(len(payloadJSON)))

	// The dedup slot is held from here on. Until the event row is
	// durably stored, every error path must give the slot back so the
	// producer's retry of the same content is not rejected.
	resolved, resolveErr := l.registry.Resolve(ctx, msg.EventType, msg.SchemaVersion)
	if resolveErr != nil {
		if pkgerrors.IsSchemaNotFound(resolveErr) {
			return l.failAtIngestion(ctx, e, payloadHash, resolveErr)
		}
		l.dedup.Release(ctx, msg.EventType, payloadHash)
		return nil, resolveErr
	}
	e.SchemaVersion = resolved.Version

	l.registry.RecordUsage(ctx, resolved)

	result := l.validator.Validate(ctx, msg, resolved)
	if !result.OK {
		validationErr := pkgerrors.ErrValidation.
			WithDetail("message", describeValidation(result)).
			WithDetail("missing_required", result.MissingRequired)
		return l.failAtIngestion(ctx, e, payloadHash, validationErr)
	}

	if err := l.store.Create(ctx, e); err != nil {
		metrics.EventsIngestedTotal.WithLabelValues("rejected").Inc()
		l.dedup.Release(ctx, msg.EventType, payloadHash)
		return nil, err
	}

	metrics.EventsIngestedTotal.WithLabelValues("accepted").Inc()
	l.logger.InfowCtx(ctx, "Event ingested",
		"event_id", e.EventID,
		"event_type", e.EventType,
		"schema_version", e.SchemaVersion,
		"priority", e.Priority,
	)

	return e, nil
}

// ProcessOnce runs one full processing attempt: claim, history begin,
// handler invocation under the configured timeout, then the outcome
// transition. A lost claim or a terminal event is a logged no-op.
func (l *Lifecycle) ProcessOnce(ctx context.Context, eventID string, handler Handler) error {
	e, err := l.Get(ctx, eventID)
	if err != nil {
		return err
	}
	if e == nil {
		return pkgerrors.ErrNotFound.WithDetail("event_id", eventID)
	}

	ctx = logging.WithEventID(ctx, e.EventID)

	switch e.Status {
	case StatusPending, StatusRetry:
		// eligible for an attempt
	case StatusProcessing:
		l.logger.WarnwCtx(ctx, "Event already has an attempt in flight, skipping")
		return nil
	default:
		l.logger.WarnwCtx(ctx, "Event not eligible for processing, skipping",
			"status", e.Status,
		)
		return nil
	}

	claimed, err := l.claim(ctx, e)
	if err != nil {
		return err
	}
	if !claimed {
		metrics.RetrySweepClaimsTotal.WithLabelValues("lost").Inc()
		l.logger.InfowCtx(ctx, "Claim lost, another actor moved the event")
		return nil
	}
	metrics.RetrySweepClaimsTotal.WithLabelValues("won").Inc()

	attemptNumber := e.ProcessingAttempts + 1
	handle, err := l.recorder.Begin(ctx, history.BeginAttempt{
		EventID:       e.EventID,
		AttemptNumber: attemptNumber,
		ProcessorID:   l.processorID,
		InputSize:     e.PayloadSize,
		InputHash:     e.PayloadHash,
		TraceID:       tracing.TraceIDFromContext(ctx),
		SpanID:        tracing.SpanIDFromContext(ctx),
		CorrelationID: e.CorrelationID,
	})
	if err != nil {
		if pkgerrors.IsConcurrentAttempt(err) {
			l.logger.WarnwCtx(ctx, "Open attempt row already exists, skipping",
				"attempt_number", attemptNumber,
			)
			return nil
		}
		return err
	}

	start := l.now()
	handlerErr := l.invokeHandler(ctx, e, handler)
	duration := l.now().Sub(start)

	if handlerErr == nil {
		return l.completeSuccess(ctx, e, handle, duration)
	}
	return l.completeFailure(ctx, e, handle, attemptNumber, duration, handlerErr)
}

func (l *Lifecycle) claim(ctx context.Context, e *Event) (bool, error) {
	from := e.Status
	now := l.now()
	return l.store.ConditionalUpdate(ctx, e.EventID, from, func(ev *Event) {
		ev.Status = StatusProcessing
		if ev.ProcessingTimestamp == nil {
			ev.ProcessingTimestamp = &now
		}
		*e = *ev
	})
}

func (l *Lifecycle) invokeHandler(ctx context.Context, e *Event, handler Handler) error {
	handlerCtx := ctx
	if l.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		handlerCtx, cancel = context.WithTimeout(ctx, l.cfg.HandlerTimeout)
		defer cancel()
	}
	return handler(handlerCtx, e)
}

func (l *Lifecycle) completeSuccess(ctx context.Context, e *Event, handle *history.Handle, duration time.Duration) error {
	durationMs := duration.Milliseconds()

	applied, err := l.store.ConditionalUpdate(ctx, e.EventID, StatusProcessing, func(ev *Event) {
		ev.Status = StatusProcessed
		ev.NextRetryAt = nil
		ev.ProcessingError = ""
		ev.ProcessingDurationMs = &durationMs
	})
	if err != nil {
		return err
	}
	if !applied {
		// The event was cancelled or expired mid-flight; the late
		// completion is a no-op against the terminal row.
		l.logger.WarnwCtx(ctx, "Event moved during processing, dropping completion")
		return l.recorder.Complete(ctx, handle, history.Outcome{Status: history.StatusCancelled})
	}

	metrics.ProcessingAttemptsTotal.WithLabelValues("success").Inc()
	metrics.ObserveProcessingDuration(duration, "success")
	l.logger.InfowCtx(ctx, "Event processed",
		"duration_ms", durationMs,
	)

	return l.recorder.Complete(ctx, handle, history.Outcome{Status: history.StatusSuccess})
}

func (l *Lifecycle) completeFailure(ctx context.Context, e *Event, handle *history.Handle, attemptNumber int, duration time.Duration, handlerErr error) error {
	timedOut := stderrors.Is(handlerErr, context.DeadlineExceeded)

	attemptStatus := history.StatusFailed
	metricStatus := "failed"
	errorCode := pkgerrors.ErrorCode(handlerErr)
	if timedOut {
		attemptStatus = history.StatusTimeout
		metricStatus = "timeout"
		errorCode = pkgerrors.ErrTimeout.Code
	}

	exhausted := attemptNumber >= e.MaxAttempts
	var nextRetryAt *time.Time
	if !exhausted {
		next := l.now().Add(retry.NextRetryInterval(
			attemptNumber, l.cfg.RetryBaseInterval, l.cfg.RetryMaxInterval, l.cfg.RetryJitterPct,
		))
		nextRetryAt = &next
	}

	applied, err := l.store.ConditionalUpdate(ctx, e.EventID, StatusProcessing, func(ev *Event) {
		ev.ProcessingAttempts = attemptNumber
		ev.ProcessingError = handlerErr.Error()
		ev.NextRetryAt = nextRetryAt
		if ev.CanRetry() {
			ev.Status = StatusRetry
		} else {
			ev.Status = StatusFailed
		}
	})
	if err != nil {
		return err
	}
	if !applied {
		l.logger.WarnwCtx(ctx, "Event moved during processing, dropping failure outcome",
			"error", handlerErr,
		)
		return l.recorder.Complete(ctx, handle, history.Outcome{Status: history.StatusCancelled})
	}

	metrics.ProcessingAttemptsTotal.WithLabelValues(metricStatus).Inc()
	metrics.ObserveProcessingDuration(duration, metricStatus)

	if exhausted {
		l.logger.ErrorwCtx(ctx, "Event exhausted its attempts",
			"attempts", attemptNumber,
			"max_attempts", e.MaxAttempts,
			"error", handlerErr,
		)
	} else {
		l.logger.WarnwCtx(ctx, "Attempt failed, retry scheduled",
			"attempt", attemptNumber,
			"max_attempts", e.MaxAttempts,
			"next_retry_at", nextRetryAt,
			"error", handlerErr,
		)
	}

	return l.recorder.Complete(ctx, handle, history.Outcome{
		Status:       attemptStatus,
		ErrorMessage: handlerErr.Error(),
		ErrorCode:    errorCode,
	})
}

// Cancel moves a non-terminal event to CANCELLED. It is idempotent: a
// terminal event is returned unchanged. An in-flight handler is not
// interrupted; its completion later no-ops against the terminal row.
func (l *Lifecycle) Cancel(ctx context.Context, eventID string) (*Event, error) {
	e, err := l.store.FindByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, pkgerrors.ErrNotFound.WithDetail("event_id", eventID)
	}
	if e.IsTerminal() {
		l.logger.InfowCtx(ctx, "Cancel requested for terminal event, no-op",
			"event_id", eventID,
			"status", e.Status,
		)
		return e, nil
	}

	applied, err := l.store.ConditionalUpdate(ctx, eventID, e.Status, func(ev *Event) {
		ev.Status = StatusCancelled
		ev.NextRetryAt = nil
		*e = *ev
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		// Another actor moved the event first; report its current state.
		return l.Cancel(ctx, eventID)
	}

	l.logger.InfowCtx(ctx, "Event cancelled", "event_id", eventID)
	return e, nil
}

// Reingest resets a FAILED event back to PENDING with zero attempts.
// This is the only way a FAILED event moves again.
func (l *Lifecycle) Reingest(ctx context.Context, eventID string) (*Event, error) {
	e, err := l.store.FindByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, pkgerrors.ErrNotFound.WithDetail("event_id", eventID)
	}
	if e.Status != StatusFailed {
		if e.IsTerminal() {
			return nil, pkgerrors.ErrTerminalState.WithDetail("status", string(e.Status))
		}
		return nil, pkgerrors.ErrConflict.
			WithDetail("message", fmt.Sprintf("only FAILED events can be re-ingested, event is %s", e.Status))
	}

	applied, err := l.store.ConditionalUpdate(ctx, eventID, StatusFailed, func(ev *Event) {
		ev.Status = StatusPending
		ev.ProcessingAttempts = 0
		ev.NextRetryAt = nil
		ev.ProcessingError = ""
		*e = *ev
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, pkgerrors.ErrConflict.
			WithDetail("message", "event moved while re-ingesting, retry the request")
	}

	l.logger.InfowCtx(ctx, "Failed event re-ingested", "event_id", eventID)
	return e, nil
}

// Get reads an event, lazily expiring it when its retention window has
// passed.
func (l *Lifecycle) Get(ctx context.Context, eventID string) (*Event, error) {
	e, err := l.store.FindByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, nil
	}

	if !e.IsTerminal() && e.IsExpired(l.now()) {
		if expired, err := l.Expire(ctx, e); err == nil && expired {
			e.Status = StatusExpired
		}
	}

	return e, nil
}

// List queries events by filter. Expiry is not applied lazily here;
// the sweep keeps listings honest.
func (l *Lifecycle) List(ctx context.Context, filter Filter) ([]Event, error) {
	return l.store.Find(ctx, filter)
}

// Counts returns the number of events per status.
func (l *Lifecycle) Counts(ctx context.Context) (map[Status]int64, error) {
	return l.store.CountByStatus(ctx)
}

// History returns the attempt ledger for an event, newest first.
func (l *Lifecycle) History(ctx context.Context, eventID string, limit, offset int) ([]history.ProcessingHistory, error) {
	return l.recorder.History(ctx, eventID, limit, offset)
}

// Expire moves a non-terminal event past its expiresAt to EXPIRED.
func (l *Lifecycle) Expire(ctx context.Context, e *Event) (bool, error) {
	if e.IsTerminal() || !e.IsExpired(l.now()) {
		return false, nil
	}

	applied, err := l.store.ConditionalUpdate(ctx, e.EventID, e.Status, func(ev *Event) {
		ev.Status = StatusExpired
		ev.NextRetryAt = nil
	})
	if err != nil {
		return false, err
	}
	if applied {
		metrics.EventsExpiredTotal.Inc()
		l.logger.InfowCtx(ctx, "Event expired",
			"event_id", e.EventID,
			"expires_at", e.ExpiresAt,
		)
	}

	return applied, nil
}

// ForceTimeout recovers a stuck PROCESSING event: the orphaned open
// history row is closed with TIMEOUT and the event moves to RETRY when
// attempts remain, FAILED otherwise.
func (l *Lifecycle) ForceTimeout(ctx context.Context, e *Event) error {
	open, err := l.recorder.FindOpen(ctx, e.EventID)
	if err != nil {
		return err
	}

	attemptNumber := e.ProcessingAttempts + 1
	if open != nil {
		attemptNumber = open.AttemptNumber
		if err := l.recorder.CloseOrphan(ctx, open); err != nil {
			return err
		}
	}

	exhausted := attemptNumber >= e.MaxAttempts
	var nextRetryAt *time.Time
	if !exhausted {
		next := l.now().Add(retry.NextRetryInterval(
			attemptNumber, l.cfg.RetryBaseInterval, l.cfg.RetryMaxInterval, l.cfg.RetryJitterPct,
		))
		nextRetryAt = &next
	}

	applied, err := l.store.ConditionalUpdate(ctx, e.EventID, StatusProcessing, func(ev *Event) {
		ev.ProcessingAttempts = attemptNumber
		ev.ProcessingError = "processing attempt timed out"
		ev.NextRetryAt = nextRetryAt
		if exhausted {
			ev.Status = StatusFailed
		} else {
			ev.Status = StatusRetry
		}
	})
	if err != nil {
		return err
	}
	if !applied {
		metrics.StuckEventsTotal.WithLabelValues("claim_lost").Inc()
		l.logger.InfowCtx(ctx, "Stuck event moved by another actor",
			"event_id", e.EventID,
		)
		return nil
	}

	outcome := "retried"
	if exhausted {
		outcome = "failed"
	}
	metrics.StuckEventsTotal.WithLabelValues(outcome).Inc()
	l.logger.WarnwCtx(ctx, "Stuck event recovered",
		"event_id", e.EventID,
		"attempt", attemptNumber,
		"outcome", outcome,
	)

	return nil
}

func (l *Lifecycle) buildEvent(msg models.SubmissionEnvelope, payloadHash string, payloadSize int64) *Event {
	now := l.now()

	priority := Priority(strings.ToUpper(msg.Priority))
	if !priority.Valid() {
		priority = PriorityMedium
	}

	maxAttempts := msg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = l.cfg.MaxAttemptsDefault
	}
	if maxAttempts <= 0 {
		maxAttempts = constants.DefaultMaxAttempts
	}

	retentionDays := msg.RetentionDays
	if retentionDays <= 0 {
		retentionDays = l.retention.DefaultDays
	}
	if retentionDays <= 0 {
		retentionDays = constants.DefaultRetentionDays
	}
	expiresAt := now.AddDate(0, 0, retentionDays)

	var metadata map[string]interface{}
	if msg.Metadata.TraceID != "" || len(msg.Metadata.Extra) > 0 {
		metadata = make(map[string]interface{})
		if msg.Metadata.TraceID != "" {
			metadata["trace_id"] = msg.Metadata.TraceID
		}
		for k, v := range msg.Metadata.Extra {
			metadata[k] = v
		}
	}

	return &Event{
		EventID:        msg.EventID,
		EventType:      msg.EventType,
		Source:         msg.Source,
		SchemaVersion:  msg.SchemaVersion,
		Payload:        msg.Payload,
		PayloadSize:    payloadSize,
		PayloadHash:    payloadHash,
		Compressed:     msg.Compressed,
		Encrypted:      msg.Encrypted,
		EventTimestamp: msg.EventTimestamp,
		ExpiresAt:      &expiresAt,
		Status:         StatusPending,
		Priority:       priority,
		MaxAttempts:    maxAttempts,
		PartitionKey:   msg.PartitionKey,
		ShardID:        msg.ShardID,
		SequenceNumber: msg.SequenceNumber,
		CorrelationID:  msg.CorrelationID,
		UserID:         msg.UserID,
		TenantID:       msg.TenantID,
		Tags:           msg.Tags,
		Metadata:       metadata,
		RetentionDays:  retentionDays,
	}
}

// failAtIngestion persists the event directly as FAILED. The failure
// is not a processing attempt, so the attempt counter stays at zero.
// When even the FAILED row cannot be stored, the dedup slot is released
// so a resubmission of the same content is not locked out.
func (l *Lifecycle) failAtIngestion(ctx context.Context, e *Event, payloadHash string, cause error) (*Event, error) {
	e.Status = StatusFailed
	e.ProcessingError = cause.Error()

	if err := l.store.Create(ctx, e); err != nil {
		metrics.EventsIngestedTotal.WithLabelValues("rejected").Inc()
		l.dedup.Release(ctx, e.EventType, payloadHash)
		return nil, err
	}

	metrics.EventsIngestedTotal.WithLabelValues("invalid").Inc()
	l.logger.WarnwCtx(ctx, "Event failed at ingestion",
		"event_id", e.EventID,
		"event_type", e.EventType,
		"error", cause,
	)

	return e, cause
}

func describeValidation(result schema.ValidationResult) string {
	var parts []string
	if len(result.MissingRequired) > 0 {
		parts = append(parts, fmt.Sprintf("missing required fields: %s", strings.Join(result.MissingRequired, ", ")))
	}
	for _, v := range result.Violations {
		parts = append(parts, v.Message)
	}
	return strings.Join(parts, "; ")
}
