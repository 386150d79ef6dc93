package models

import "time"

// SubmissionEnvelope is the wire format producers publish to the ingest
// topic. It carries the event identity, classification and payload plus
// the opaque routing hints computed upstream (partition key, shard id,
// sequence number).
type SubmissionEnvelope struct {
	EventID        string                 `json:"event_id"`
	EventType      string                 `json:"event_type"`
	Source         string                 `json:"source"`
	SchemaVersion  string                 `json:"schema_version,omitempty"`
	EventTimestamp time.Time              `json:"event_timestamp"`
	Payload        map[string]interface{} `json:"payload"`
	PayloadHash    string                 `json:"payload_hash,omitempty"`
	Compressed     bool                   `json:"compressed,omitempty"`
	Encrypted      bool                   `json:"encrypted,omitempty"`
	Priority       string                 `json:"priority,omitempty"`
	MaxAttempts    int                    `json:"max_attempts,omitempty"`
	RetentionDays  int                    `json:"retention_days,omitempty"`
	CorrelationID  string                 `json:"correlation_id,omitempty"`
	UserID         string                 `json:"user_id,omitempty"`
	TenantID       string                 `json:"tenant_id,omitempty"`
	Tags           []string               `json:"tags,omitempty"`
	PartitionKey   string                 `json:"partition_key,omitempty"`
	ShardID        string                 `json:"shard_id,omitempty"`
	SequenceNumber int64                  `json:"sequence_number,omitempty"`
	Metadata       Metadata               `json:"metadata"`
}

type Metadata struct {
	TraceID   string                 `json:"trace_id,omitempty"`
	Ingestion *IngestionInfo         `json:"ingestion,omitempty"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

type IngestionInfo struct {
	AcceptedAt    time.Time `json:"accepted_at"`
	SchemaVersion string    `json:"schema_version"`
}

func (env *SubmissionEnvelope) GetPayloadField(name string) (interface{}, bool) {
	if env.Payload == nil {
		return nil, false
	}

	value, ok := env.Payload[name]
	return value, ok
}
