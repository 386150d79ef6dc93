package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"eventhub/internal/broker"
	"eventhub/internal/config"
	"eventhub/internal/logger"
)

// Base carries the pieces every service binary shares: config, logger,
// and the broker endpoints once InitBroker has run.
type Base struct {
	Config   *config.Config
	Logger   logger.Logger
	Producer broker.Producer
	Consumer broker.Consumer
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{Config: cfg, Logger: log}
}

// InitBroker opens the producer and consumer pair. The serviceName, when
// set, scopes the consumer group so each service reads its own offsets.
func (b *Base) InitBroker(serviceName string) error {
	producer, err := broker.NewProducer(b.Config.Broker, b.Logger)
	if err != nil {
		return fmt.Errorf("create producer: %w", err)
	}

	consumer, err := broker.NewConsumer(b.Config.Broker, b.Logger)
	if err != nil {
		if closeErr := producer.Close(); closeErr != nil {
			b.Logger.Warnw("Failed to close producer after consumer error", "error", closeErr)
		}
		return fmt.Errorf("create consumer: %w", err)
	}

	if serviceName != "" {
		consumer.SetServiceName(serviceName)
	}

	b.Producer = producer
	b.Consumer = consumer

	b.Logger.Infow("Broker initialized", "type", b.Config.Broker.Type, "service", serviceName)
	return nil
}

func (b *Base) ShutdownBroker() []error {
	var errs []error

	if b.Producer != nil {
		if err := b.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close: %w", err))
		}
		b.Producer = nil
	}

	if b.Consumer != nil {
		if err := b.Consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer close: %w", err))
		}
		b.Consumer = nil
	}

	return errs
}

// Shutdown closes the broker first, then runs the service-specific
// teardown. All errors are collected so a failing component never
// blocks the rest from closing.
func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	errs := b.ShutdownBroker()

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	if len(errs) > 0 {
		for _, err := range errs {
			b.Logger.Errorw("Shutdown error", "error", err)
		}
		return fmt.Errorf("shutdown: %w", errors.Join(errs...))
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
