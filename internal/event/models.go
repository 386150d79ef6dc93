package event

import (
	"time"

	"eventhub/pkg/models"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusProcessed  Status = "PROCESSED"
	StatusFailed     Status = "FAILED"
	StatusRetry      Status = "RETRY"
	StatusCancelled  Status = "CANCELLED"
	StatusExpired    Status = "EXPIRED"
)

// Terminal statuses admit no further transitions. FAILED is not
// terminal: an operator may re-ingest a failed event.
func (s Status) Terminal() bool {
	return s == StatusProcessed || s == StatusCancelled || s == StatusExpired
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusProcessed, StatusFailed,
		StatusRetry, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Rank orders priorities for retry scheduling. Unknown values sort
// lowest.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

func (p Priority) Valid() bool {
	return p.Rank() > 0
}

// Event is one ingested business occurrence. It is mutated only
// through lifecycle transitions expressed as conditional store updates.
type Event struct {
	EventID              string                 `json:"event_id" db:"event_id"`
	EventType            string                 `json:"event_type" db:"event_type"`
	Source               string                 `json:"source" db:"source"`
	SchemaVersion        string                 `json:"schema_version,omitempty" db:"schema_version"`
	Payload              map[string]interface{} `json:"payload" db:"payload"`
	PayloadSize          int64                  `json:"payload_size" db:"payload_size"`
	PayloadHash          string                 `json:"payload_hash" db:"payload_hash"`
	Compressed           bool                   `json:"compressed" db:"compressed"`
	Encrypted            bool                   `json:"encrypted" db:"encrypted"`
	EventTimestamp       time.Time              `json:"event_timestamp" db:"event_timestamp"`
	ProcessingTimestamp  *time.Time             `json:"processing_timestamp,omitempty" db:"processing_timestamp"`
	ExpiresAt            *time.Time             `json:"expires_at,omitempty" db:"expires_at"`
	Status               Status                 `json:"status" db:"status"`
	Priority             Priority               `json:"priority" db:"priority"`
	ProcessingAttempts   int                    `json:"processing_attempts" db:"processing_attempts"`
	MaxAttempts          int                    `json:"max_attempts" db:"max_attempts"`
	NextRetryAt          *time.Time             `json:"next_retry_at,omitempty" db:"next_retry_at"`
	ProcessingError      string                 `json:"processing_error,omitempty" db:"processing_error"`
	ProcessingDurationMs *int64                 `json:"processing_duration_ms,omitempty" db:"processing_duration_ms"`
	PartitionKey         string                 `json:"partition_key,omitempty" db:"partition_key"`
	ShardID              string                 `json:"shard_id,omitempty" db:"shard_id"`
	SequenceNumber       int64                  `json:"sequence_number,omitempty" db:"sequence_number"`
	CorrelationID        string                 `json:"correlation_id,omitempty" db:"correlation_id"`
	UserID               string                 `json:"user_id,omitempty" db:"user_id"`
	TenantID             string                 `json:"tenant_id,omitempty" db:"tenant_id"`
	Tags                 []string               `json:"tags,omitempty" db:"tags"`
	Metadata             map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	RetentionDays        int                    `json:"retention_days" db:"retention_days"`
	CreatedAt            time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at" db:"updated_at"`
}

func (e *Event) IsTerminal() bool {
	return e.Status.Terminal()
}

func (e *Event) CanRetry() bool {
	return e.ProcessingAttempts < e.MaxAttempts
}

func (e *Event) IsExpired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// OutboundEnvelope rebuilds the wire envelope for a processed event so
// it can be published downstream, stamped with ingestion metadata.
func (e *Event) OutboundEnvelope() models.SubmissionEnvelope {
	return models.SubmissionEnvelope{
		EventID:        e.EventID,
		EventType:      e.EventType,
		Source:         e.Source,
		SchemaVersion:  e.SchemaVersion,
		EventTimestamp: e.EventTimestamp,
		Payload:        e.Payload,
		PayloadHash:    e.PayloadHash,
		Compressed:     e.Compressed,
		Encrypted:      e.Encrypted,
		Priority:       string(e.Priority),
		MaxAttempts:    e.MaxAttempts,
		RetentionDays:  e.RetentionDays,
		CorrelationID:  e.CorrelationID,
		UserID:         e.UserID,
		TenantID:       e.TenantID,
		Tags:           e.Tags,
		PartitionKey:   e.PartitionKey,
		ShardID:        e.ShardID,
		SequenceNumber: e.SequenceNumber,
		Metadata: models.Metadata{
			Ingestion: &models.IngestionInfo{
				AcceptedAt:    e.CreatedAt,
				SchemaVersion: e.SchemaVersion,
			},
		},
	}
}

// Filter drives the event query surface. Zero values are ignored.
type Filter struct {
	Status        Status
	EventType     string
	Source        string
	PayloadHash   string
	CorrelationID string
	TenantID      string
	From          *time.Time
	To            *time.Time
	Limit         int
	Offset        int
}
