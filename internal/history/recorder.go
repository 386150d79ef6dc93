package history

import (
	"context"
	"time"

	"eventhub/internal/logger"
)

// BeginAttempt carries everything the recorder needs to open a new
// attempt row for an event.
type BeginAttempt struct {
	EventID       string
	AttemptNumber int
	ProcessorID   string
	InputSize     int64
	InputHash     string
	TraceID       string
	SpanID        string
	CorrelationID string
}

// Outcome closes an attempt. Status must be one of the terminal
// attempt statuses (SUCCESS, FAILED, TIMEOUT, CANCELLED, RETRY).
type Outcome struct {
	Status       Status
	ErrorMessage string
	ErrorCode    string
	ErrorDetail  string
	OutputSize   int64
	OutputHash   string
	MemoryUsedMB int64
}

// Handle refers to the open attempt row between Begin and Complete.
type Handle struct {
	row    *ProcessingHistory
	closed bool
}

func (h *Handle) Row() *ProcessingHistory {
	return h.row
}

// Recorder is the append-only ledger of processing attempts. Begin
// enforces at most one open attempt per event; the backing store's
// partial unique index makes the guard hold across processes.
type Recorder struct {
	store  Store
	logger logger.Logger
	now    func() time.Time
}

func NewRecorder(store Store, log logger.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: log,
		now:    time.Now,
	}
}

// Begin opens attempt row attempt.AttemptNumber with status STARTED.
// Returns ErrConcurrentAttempt when an open row already exists for the
// event.
func (r *Recorder) Begin(ctx context.Context, attempt BeginAttempt) (*Handle, error) {
	row := &ProcessingHistory{
		EventID:         attempt.EventID,
		AttemptNumber:   attempt.AttemptNumber,
		Status:          StatusStarted,
		ProcessingStart: r.now(),
		ProcessorID:     attempt.ProcessorID,
		InputSize:       attempt.InputSize,
		InputHash:       attempt.InputHash,
		TraceID:         attempt.TraceID,
		SpanID:          attempt.SpanID,
		CorrelationID:   attempt.CorrelationID,
	}

	if err := r.store.Insert(ctx, row); err != nil {
		return nil, err
	}

	return &Handle{row: row}, nil
}

// Complete closes the attempt. Calling it a second time on the same
// handle is a logged no-op so duration is never double-counted.
func (r *Recorder) Complete(ctx context.Context, handle *Handle, outcome Outcome) error {
	if handle == nil || handle.row == nil {
		return nil
	}
	if handle.closed {
		r.logger.WarnwCtx(ctx, "Attempt already completed, ignoring",
			"event_id", handle.row.EventID,
			"attempt_number", handle.row.AttemptNumber,
		)
		return nil
	}

	end := r.now()
	duration := end.Sub(handle.row.ProcessingStart).Milliseconds()

	handle.row.Status = outcome.Status
	handle.row.ProcessingEnd = &end
	handle.row.DurationMs = &duration
	handle.row.ErrorMessage = outcome.ErrorMessage
	handle.row.ErrorCode = outcome.ErrorCode
	handle.row.ErrorDetail = outcome.ErrorDetail
	handle.row.OutputSize = outcome.OutputSize
	handle.row.OutputHash = outcome.OutputHash
	handle.row.MemoryUsedMB = outcome.MemoryUsedMB

	if err := r.store.Update(ctx, handle.row); err != nil {
		return err
	}

	handle.closed = true
	return nil
}

// CloseOrphan force-closes an open row left behind by a stuck or
// crashed processor, marking it TIMEOUT.
func (r *Recorder) CloseOrphan(ctx context.Context, row *ProcessingHistory) error {
	end := r.now()
	duration := end.Sub(row.ProcessingStart).Milliseconds()

	row.Status = StatusTimeout
	row.ProcessingEnd = &end
	row.DurationMs = &duration
	if row.ErrorMessage == "" {
		row.ErrorMessage = "processing attempt timed out without completing"
		row.ErrorCode = "TIMEOUT"
	}

	return r.store.Update(ctx, row)
}

// History returns the attempt rows for an event, most recent first.
func (r *Recorder) History(ctx context.Context, eventID string, limit, offset int) ([]ProcessingHistory, error) {
	return r.store.Query(ctx, eventID, limit, offset)
}

// OpenAttemptsStartedBefore lists in-flight attempt rows older than
// cutoff, oldest first.
func (r *Recorder) OpenAttemptsStartedBefore(ctx context.Context, cutoff time.Time, limit int) ([]ProcessingHistory, error) {
	return r.store.FindOpenStartedBefore(ctx, cutoff, limit)
}

// FindOpen returns the in-flight attempt row for an event, if any.
func (r *Recorder) FindOpen(ctx context.Context, eventID string) (*ProcessingHistory, error) {
	return r.store.FindOpen(ctx, eventID)
}

// Purge drops the attempt ledger of an event removed by retention.
func (r *Recorder) Purge(ctx context.Context, eventID string) error {
	return r.store.DeleteForEvent(ctx, eventID)
}
