package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderSetsAllFields(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	env := NewSubmissionEnvelopeBuilder().
		WithEventID("evt-1").
		WithEventType("user.created").
		WithSource("signup-api").
		WithSchemaVersion("2.1").
		WithEventTimestamp(ts).
		WithPayload(map[string]interface{}{"user_id": "u-1"}).
		WithPriority("HIGH").
		WithTraceID("trace-abc").
		WithPlacement("u-1", "shard-3", 42).
		Build()

	assert.Equal(t, "evt-1", env.EventID)
	assert.Equal(t, "user.created", env.EventType)
	assert.Equal(t, "signup-api", env.Source)
	assert.Equal(t, "2.1", env.SchemaVersion)
	assert.Equal(t, ts, env.EventTimestamp)
	assert.Equal(t, "HIGH", env.Priority)
	assert.Equal(t, "trace-abc", env.Metadata.TraceID)
	assert.Equal(t, "u-1", env.PartitionKey)
	assert.Equal(t, "shard-3", env.ShardID)
	assert.Equal(t, int64(42), env.SequenceNumber)

	value, ok := env.GetPayloadField("user_id")
	require.True(t, ok)
	assert.Equal(t, "u-1", value)
}

func TestBuilderDefaultsTimestamp(t *testing.T) {
	env := NewSubmissionEnvelopeBuilder().
		WithEventID("evt-2").
		WithEventType("order.placed").
		WithSource("checkout").
		Build()

	assert.False(t, env.EventTimestamp.IsZero())
	assert.NotNil(t, env.Payload)
}

func TestValidateSubmissionEnvelope(t *testing.T) {
	valid := func() *SubmissionEnvelope {
		return NewSubmissionEnvelopeBuilder().
			WithEventID("evt-1").
			WithEventType("user.created").
			WithSource("signup-api").
			WithPayload(map[string]interface{}{"user_id": "u-1"}).
			Build()
	}

	require.NoError(t, ValidateSubmissionEnvelope(valid()))

	tests := []struct {
		name   string
		mutate func(*SubmissionEnvelope)
		field  string
	}{
		{"missing event id", func(e *SubmissionEnvelope) { e.EventID = "" }, "event_id"},
		{"missing event type", func(e *SubmissionEnvelope) { e.EventType = "" }, "event_type"},
		{"missing source", func(e *SubmissionEnvelope) { e.Source = "" }, "source"},
		{"zero timestamp", func(e *SubmissionEnvelope) { e.EventTimestamp = time.Time{} }, "event_timestamp"},
		{"nil payload", func(e *SubmissionEnvelope) { e.Payload = nil }, "payload"},
		{"negative max attempts", func(e *SubmissionEnvelope) { e.MaxAttempts = -1 }, "max_attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := valid()
			tt.mutate(env)

			err := ValidateSubmissionEnvelope(env)
			require.Error(t, err)

			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tt.field, validationErr.Field)
		})
	}

	err := ValidateSubmissionEnvelope(nil)
	require.Error(t, err)
}

func TestGetPayloadFieldNilPayload(t *testing.T) {
	env := &SubmissionEnvelope{}
	_, ok := env.GetPayloadField("anything")
	assert.False(t, ok)
}
