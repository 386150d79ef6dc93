package models

import "fmt"

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateSubmissionEnvelope(env *SubmissionEnvelope) error {
	if env == nil {
		return &ValidationError{
			Field:   "envelope",
			Message: "submission envelope cannot be nil",
		}
	}

	if env.EventID == "" {
		return &ValidationError{
			Field:   "event_id",
			Message: "event ID is required",
		}
	}

	if env.EventType == "" {
		return &ValidationError{
			Field:   "event_type",
			Message: "event type is required",
		}
	}

	if env.Source == "" {
		return &ValidationError{
			Field:   "source",
			Message: "event source is required",
		}
	}

	if env.EventTimestamp.IsZero() {
		return &ValidationError{
			Field:   "event_timestamp",
			Message: "event timestamp is required",
		}
	}

	if env.Payload == nil {
		return &ValidationError{
			Field:   "payload",
			Message: "event payload cannot be nil",
		}
	}

	if env.MaxAttempts < 0 {
		return &ValidationError{
			Field:   "max_attempts",
			Message: "max attempts cannot be negative",
		}
	}

	return nil
}
