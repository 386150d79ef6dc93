package models

import "time"

type SubmissionEnvelopeBuilder struct {
	envelope *SubmissionEnvelope
}

func NewSubmissionEnvelopeBuilder() *SubmissionEnvelopeBuilder {
	return &SubmissionEnvelopeBuilder{
		envelope: &SubmissionEnvelope{
			Payload:  make(map[string]interface{}),
			Metadata: Metadata{},
		},
	}
}

func (b *SubmissionEnvelopeBuilder) WithEventID(id string) *SubmissionEnvelopeBuilder {
	b.envelope.EventID = id
	return b
}

func (b *SubmissionEnvelopeBuilder) WithEventType(eventType string) *SubmissionEnvelopeBuilder {
	b.envelope.EventType = eventType
	return b
}

func (b *SubmissionEnvelopeBuilder) WithSource(source string) *SubmissionEnvelopeBuilder {
	b.envelope.Source = source
	return b
}

func (b *SubmissionEnvelopeBuilder) WithSchemaVersion(version string) *SubmissionEnvelopeBuilder {
	b.envelope.SchemaVersion = version
	return b
}

func (b *SubmissionEnvelopeBuilder) WithEventTimestamp(ts time.Time) *SubmissionEnvelopeBuilder {
	b.envelope.EventTimestamp = ts
	return b
}

func (b *SubmissionEnvelopeBuilder) WithPayload(payload map[string]interface{}) *SubmissionEnvelopeBuilder {
	b.envelope.Payload = payload
	return b
}

func (b *SubmissionEnvelopeBuilder) WithPriority(priority string) *SubmissionEnvelopeBuilder {
	b.envelope.Priority = priority
	return b
}

func (b *SubmissionEnvelopeBuilder) WithTraceID(traceID string) *SubmissionEnvelopeBuilder {
	b.envelope.Metadata.TraceID = traceID
	return b
}

func (b *SubmissionEnvelopeBuilder) WithPlacement(partitionKey, shardID string, sequenceNumber int64) *SubmissionEnvelopeBuilder {
	b.envelope.PartitionKey = partitionKey
	b.envelope.ShardID = shardID
	b.envelope.SequenceNumber = sequenceNumber
	return b
}

func (b *SubmissionEnvelopeBuilder) Build() *SubmissionEnvelope {
	if b.envelope.EventTimestamp.IsZero() {
		b.envelope.EventTimestamp = time.Now()
	}
	return b.envelope
}
