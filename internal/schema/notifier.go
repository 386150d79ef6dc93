package schema

import (
	"context"
	"time"

	"github.com/google/uuid"

	"eventhub/internal/broker"
	"eventhub/pkg/models"
)

const (
	schemaEventRegistered = "schema.registered"
	schemaEventDeprecated = "schema.deprecated"
)

// SchemaEventProducer publishes registry lifecycle changes so that
// running services can refresh cached schemas.
type SchemaEventProducer struct {
	producer broker.Producer
	topic    string
}

func NewSchemaEventProducer(producer broker.Producer, topic string) *SchemaEventProducer {
	return &SchemaEventProducer{
		producer: producer,
		topic:    topic,
	}
}

func (p *SchemaEventProducer) SchemaRegistered(ctx context.Context, schema *EventSchema) error {
	return p.publish(ctx, schemaEventRegistered, schema)
}

func (p *SchemaEventProducer) SchemaDeprecated(ctx context.Context, schema *EventSchema) error {
	return p.publish(ctx, schemaEventDeprecated, schema)
}

func (p *SchemaEventProducer) publish(ctx context.Context, changeType string, schema *EventSchema) error {
	if p.producer == nil || p.topic == "" {
		return nil
	}

	payload := map[string]interface{}{
		"change":     changeType,
		"event_type": schema.EventType,
		"version":    schema.Version,
		"active":     schema.Active,
		"deprecated": schema.Deprecated,
	}
	if schema.DeprecationDate != nil {
		payload["deprecation_date"] = schema.DeprecationDate.Format(time.RFC3339)
	}
	if schema.MigrationGuide != "" {
		payload["migration_guide"] = schema.MigrationGuide
	}

	envelope := models.SubmissionEnvelope{
		EventID:        uuid.New().String(),
		EventType:      changeType,
		Source:         "registry-service",
		EventTimestamp: time.Now(),
		Payload:        payload,
		Metadata:       models.Metadata{},
	}

	return p.producer.Publish(ctx, p.topic, envelope)
}
