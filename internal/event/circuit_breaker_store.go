package event

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"eventhub/internal/config"
	"eventhub/pkg/circuitbreaker"
)

// CircuitBreakerStore shields the lifecycle from a failing Postgres by
// wrapping every Store call in a shared breaker. With the breaker
// disabled it is a transparent passthrough.
type CircuitBreakerStore struct {
	store Store
	cb    *circuitbreaker.Wrapper
}

func NewCircuitBreakerStore(store Store, cfg config.CircuitBreakerConfig) *CircuitBreakerStore {
	if !cfg.Enabled {
		return &CircuitBreakerStore{store: store}
	}

	cbConfig := circuitbreaker.DefaultConfig("postgres-events")
	if cfg.MaxRequests > 0 {
		cbConfig.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		cbConfig.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		cbConfig.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
		cbConfig.ReadyToTrip = func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(cfg.MinRequests) {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		}
	}

	return &CircuitBreakerStore{
		store: store,
		cb:    circuitbreaker.NewWrapper(cbConfig),
	}
}

func (s *CircuitBreakerStore) execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if s.cb == nil {
		return fn()
	}

	result, err := s.cb.ExecuteWithContext(ctx, fn)
	s.cb.RecordRequest(err == nil)

	if err != nil && s.cb.IsOpen() {
		return nil, fmt.Errorf("circuit breaker is open for postgres-events: %w", err)
	}
	return result, err
}

func (s *CircuitBreakerStore) Create(ctx context.Context, e *Event) error {
	_, err := s.execute(ctx, func() (interface{}, error) {
		return nil, s.store.Create(ctx, e)
	})
	return err
}

func (s *CircuitBreakerStore) FindByID(ctx context.Context, eventID string) (*Event, error) {
	result, err := s.execute(ctx, func() (interface{}, error) {
		return s.store.FindByID(ctx, eventID)
	})
	if err != nil {
		return nil, err
	}
	e, _ := result.(*Event)
	return e, nil
}

func (s *CircuitBreakerStore) ConditionalUpdate(ctx context.Context, eventID string, expected Status, mutate func(*Event)) (bool, error) {
	result, err := s.execute(ctx, func() (interface{}, error) {
		return s.store.ConditionalUpdate(ctx, eventID, expected, mutate)
	})
	if err != nil {
		return false, err
	}
	applied, _ := result.(bool)
	return applied, nil
}

func (s *CircuitBreakerStore) Find(ctx context.Context, filter Filter) ([]Event, error) {
	result, err := s.execute(ctx, func() (interface{}, error) {
		return s.store.Find(ctx, filter)
	})
	if err != nil {
		return nil, err
	}
	events, _ := result.([]Event)
	return events, nil
}

func (s *CircuitBreakerStore) FindDueRetries(ctx context.Context, now time.Time, limit int) ([]Event, error) {
	result, err := s.execute(ctx, func() (interface{}, error) {
		return s.store.FindDueRetries(ctx, now, limit)
	})
	if err != nil {
		return nil, err
	}
	events, _ := result.([]Event)
	return events, nil
}

func (s *CircuitBreakerStore) FindStuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]Event, error) {
	result, err := s.execute(ctx, func() (interface{}, error) {
		return s.store.FindStuckProcessing(ctx, cutoff, limit)
	})
	if err != nil {
		return nil, err
	}
	events, _ := result.([]Event)
	return events, nil
}

func (s *CircuitBreakerStore) FindExpiredCandidates(ctx context.Context, now time.Time, limit int) ([]Event, error) {
	result, err := s.execute(ctx, func() (interface{}, error) {
		return s.store.FindExpiredCandidates(ctx, now, limit)
	})
	if err != nil {
		return nil, err
	}
	events, _ := result.([]Event)
	return events, nil
}

func (s *CircuitBreakerStore) FindPurgeable(ctx context.Context, now time.Time, limit int) ([]Event, error) {
	result, err := s.execute(ctx, func() (interface{}, error) {
		return s.store.FindPurgeable(ctx, now, limit)
	})
	if err != nil {
		return nil, err
	}
	events, _ := result.([]Event)
	return events, nil
}

func (s *CircuitBreakerStore) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	result, err := s.execute(ctx, func() (interface{}, error) {
		return s.store.CountByStatus(ctx)
	})
	if err != nil {
		return nil, err
	}
	counts, _ := result.(map[Status]int64)
	return counts, nil
}

func (s *CircuitBreakerStore) Delete(ctx context.Context, eventID string) error {
	_, err := s.execute(ctx, func() (interface{}, error) {
		return nil, s.store.Delete(ctx, eventID)
	})
	return err
}
