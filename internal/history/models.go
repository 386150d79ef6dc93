package history

import "time"

type Status string

const (
	StatusStarted    Status = "STARTED"
	StatusProcessing Status = "PROCESSING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusTimeout    Status = "TIMEOUT"
	StatusRetry      Status = "RETRY"
)

// Open reports whether the row describes an attempt still in flight.
func (s Status) Open() bool {
	return s == StatusStarted || s == StatusProcessing
}

// ProcessingHistory is one row of the append-only attempt ledger. Rows
// are never mutated after processing_end is set, except to fill
// duration_ms at close time.
type ProcessingHistory struct {
	ID              string     `json:"id" db:"id"`
	EventID         string     `json:"event_id" db:"event_id"`
	AttemptNumber   int        `json:"attempt_number" db:"attempt_number"`
	Status          Status     `json:"status" db:"status"`
	ProcessingStart time.Time  `json:"processing_start" db:"processing_start"`
	ProcessingEnd   *time.Time `json:"processing_end,omitempty" db:"processing_end"`
	DurationMs      *int64     `json:"duration_ms,omitempty" db:"duration_ms"`
	ErrorMessage    string     `json:"error_message,omitempty" db:"error_message"`
	ErrorCode       string     `json:"error_code,omitempty" db:"error_code"`
	ErrorDetail     string     `json:"error_detail,omitempty" db:"error_detail"`
	ProcessorID     string     `json:"processor_id,omitempty" db:"processor_id"`
	MemoryUsedMB    int64      `json:"memory_used_mb,omitempty" db:"memory_used_mb"`
	InputSize       int64      `json:"input_size,omitempty" db:"input_size"`
	OutputSize      int64      `json:"output_size,omitempty" db:"output_size"`
	InputHash       string     `json:"input_hash,omitempty" db:"input_hash"`
	OutputHash      string     `json:"output_hash,omitempty" db:"output_hash"`
	TraceID         string     `json:"trace_id,omitempty" db:"trace_id"`
	SpanID          string     `json:"span_id,omitempty" db:"span_id"`
	CorrelationID   string     `json:"correlation_id,omitempty" db:"correlation_id"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}
