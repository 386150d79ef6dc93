package integration

import (
	"time"

	"github.com/google/uuid"

	"eventhub/internal/config"
	"eventhub/internal/constants"
	"eventhub/internal/event"
	"eventhub/internal/logger"
	"eventhub/internal/schema"
)

const (
	containerStartupTimeout = 60
	timestampDelay          = 10 * time.Millisecond
)

func createTestLogger() logger.Logger {
	return logger.NopLogger()
}

func createTestDedupConfig() config.DedupConfig {
	return config.DedupConfig{
		HashAlgorithm: "sha256",
		Window:        5 * time.Minute,
		OnRedisError:  constants.FallbackDeny,
	}
}

func createTestEvent(eventType, source string, payload map[string]interface{}) *event.Event {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &event.Event{
		EventID:        uuid.New().String(),
		EventType:      eventType,
		Source:         source,
		Payload:        payload,
		PayloadSize:    64,
		PayloadHash:    uuid.New().String(),
		EventTimestamp: now,
		Status:         event.StatusPending,
		Priority:       event.PriorityMedium,
		MaxAttempts:    3,
		RetentionDays:  30,
	}
}

func createTestSchema(eventType, version string) *schema.EventSchema {
	return &schema.EventSchema{
		EventType: eventType,
		Version:   version,
		SchemaJSON: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"user_id": map[string]interface{}{"type": "string"},
			},
		},
		RequiredFields: []string{"user_id"},
		Active:         true,
	}
}
