package broker

import (
	"context"

	"eventhub/pkg/models"
)

// TypeKafka is the only broker backend currently wired. The factory
// switches on it so another backend can slot in without touching callers.
const TypeKafka = "kafka"

// Producer publishes submission envelopes to a topic.
type Producer interface {
	Publish(ctx context.Context, topic string, msg models.SubmissionEnvelope) error
	Close() error
}

// Consumer delivers envelopes from a topic to a handler until ctx is
// cancelled. SetServiceName scopes the consumer group per service.
type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

// HandlerFunc processes one envelope. A non-nil error leaves the message
// eligible for redelivery.
type HandlerFunc func(ctx context.Context, msg models.SubmissionEnvelope) error
