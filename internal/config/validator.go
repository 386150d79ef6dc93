package config

import (
	"fmt"

	"eventhub/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errors = append(errors, err)
	}

	if err := validateProcessing(cfg.Processing); err != nil {
		errors = append(errors, err)
	}

	if err := validateDedup(cfg.Dedup); err != nil {
		errors = append(errors, err)
	}

	if err := validateRetention(cfg.Retention); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.Type == "" {
		return nil // broker is optional for the registry service
	}

	if cfg.Type != "kafka" {
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unsupported broker type %q", cfg.Type),
		}
	}

	if len(cfg.Kafka.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one broker address is required",
		}
	}

	return nil
}

func validateProcessing(cfg ProcessingConfig) error {
	if cfg.MaxAttemptsDefault < 1 {
		return &ValidationError{
			Field:   "processing.max_attempts_default",
			Message: "max attempts must be at least 1",
		}
	}

	if cfg.RetryBaseInterval <= 0 {
		return &ValidationError{
			Field:   "processing.retry_base_interval",
			Message: "retry base interval must be positive",
		}
	}

	if cfg.RetryMaxInterval < cfg.RetryBaseInterval {
		return &ValidationError{
			Field:   "processing.retry_max_interval",
			Message: "retry max interval must be >= base interval",
		}
	}

	if cfg.RetryJitterPct < 0 || cfg.RetryJitterPct >= 1 {
		return &ValidationError{
			Field:   "processing.retry_jitter_pct",
			Message: fmt.Sprintf("jitter must be in [0, 1), got %v", cfg.RetryJitterPct),
		}
	}

	if cfg.SchedulerInterval <= 0 {
		return &ValidationError{
			Field:   "processing.scheduler_interval",
			Message: "scheduler interval must be positive",
		}
	}

	if cfg.WorkerLimit < 1 {
		return &ValidationError{
			Field:   "processing.worker_limit",
			Message: "worker limit must be at least 1",
		}
	}

	return nil
}

func validateDedup(cfg DedupConfig) error {
	switch cfg.HashAlgorithm {
	case constants.HashAlgorithmSHA256, constants.HashAlgorithmMD5:
	default:
		return &ValidationError{
			Field:   "dedup.hash_algorithm",
			Message: fmt.Sprintf("unsupported hash algorithm %q", cfg.HashAlgorithm),
		}
	}

	if cfg.Window <= 0 {
		return &ValidationError{
			Field:   "dedup.window",
			Message: "dedup window must be positive",
		}
	}

	switch cfg.OnRedisError {
	case constants.FallbackAllow, constants.FallbackDeny:
	default:
		return &ValidationError{
			Field:   "dedup.on_redis_error",
			Message: fmt.Sprintf("must be %q or %q, got %q", constants.FallbackAllow, constants.FallbackDeny, cfg.OnRedisError),
		}
	}

	return nil
}

func validateRetention(cfg RetentionConfig) error {
	if cfg.DefaultDays < 1 {
		return &ValidationError{
			Field:   "retention.default_days",
			Message: "retention days must be at least 1",
		}
	}

	return nil
}
