package scheduler

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventhub/internal/config"
	"eventhub/internal/event"
	"eventhub/internal/history"
	"eventhub/internal/logger"
	pkgerrors "eventhub/pkg/errors"
)

type memEventStore struct {
	mu     sync.Mutex
	events map[string]*event.Event
}

func newMemEventStore() *memEventStore {
	return &memEventStore{events: make(map[string]*event.Event)}
}

func (s *memEventStore) Create(ctx context.Context, e *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *e
	s.events[e.EventID] = &copied
	return nil
}

func (s *memEventStore) FindByID(ctx context.Context, eventID string) (*event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[eventID]
	if !ok {
		return nil, nil
	}
	copied := *e
	return &copied, nil
}

func (s *memEventStore) ConditionalUpdate(ctx context.Context, eventID string, expected event.Status, mutate func(*event.Event)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[eventID]
	if !ok {
		return false, pkgerrors.ErrNotFound.WithDetail("event_id", eventID)
	}
	if e.Status != expected {
		return false, nil
	}
	copied := *e
	mutate(&copied)
	copied.UpdatedAt = time.Now()
	s.events[eventID] = &copied
	return true, nil
}

func (s *memEventStore) Find(ctx context.Context, filter event.Filter) ([]event.Event, error) {
	return nil, nil
}

func (s *memEventStore) FindDueRetries(ctx context.Context, now time.Time, limit int) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.Event
	for _, e := range s.events {
		if e.Status == event.StatusRetry && e.NextRetryAt != nil && !e.NextRetryAt.After(now) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out, nil
}

func (s *memEventStore) FindStuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.Event
	for _, e := range s.events {
		if e.Status == event.StatusProcessing && e.UpdatedAt.Before(cutoff) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *memEventStore) FindExpiredCandidates(ctx context.Context, now time.Time, limit int) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.Event
	for _, e := range s.events {
		if !e.IsTerminal() && e.IsExpired(now) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *memEventStore) FindPurgeable(ctx context.Context, now time.Time, limit int) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.Event
	for _, e := range s.events {
		if e.IsTerminal() && e.IsExpired(now) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *memEventStore) CountByStatus(ctx context.Context) (map[event.Status]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[event.Status]int64)
	for _, e := range s.events {
		counts[e.Status]++
	}
	return counts, nil
}

func (s *memEventStore) Delete(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, eventID)
	return nil
}

func (s *memEventStore) status(t *testing.T, eventID string) event.Status {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[eventID]
	require.True(t, ok, "event %s not in store", eventID)
	return e.Status
}

type memHistoryStore struct {
	mu   sync.Mutex
	rows []*history.ProcessingHistory
}

func (s *memHistoryStore) Insert(ctx context.Context, row *history.ProcessingHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.rows {
		if existing.EventID == row.EventID && existing.Status.Open() {
			return pkgerrors.ErrConcurrentAttempt
		}
	}
	copied := *row
	copied.ID = row.EventID + "-h"
	row.ID = copied.ID
	s.rows = append(s.rows, &copied)
	return nil
}

func (s *memHistoryStore) Update(ctx context.Context, row *history.ProcessingHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.rows {
		if existing.ID == row.ID {
			copied := *row
			s.rows[i] = &copied
			return nil
		}
	}
	return pkgerrors.ErrNotFound
}

func (s *memHistoryStore) Query(ctx context.Context, eventID string, limit, offset int) ([]history.ProcessingHistory, error) {
	return nil, nil
}

func (s *memHistoryStore) FindOpen(ctx context.Context, eventID string) (*history.ProcessingHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.EventID == eventID && row.Status.Open() {
			copied := *row
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *memHistoryStore) FindOpenStartedBefore(ctx context.Context, cutoff time.Time, limit int) ([]history.ProcessingHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []history.ProcessingHistory
	for _, row := range s.rows {
		if row.Status.Open() && row.ProcessingStart.Before(cutoff) {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (s *memHistoryStore) DeleteForEvent(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	for _, row := range s.rows {
		if row.EventID != eventID {
			kept = append(kept, row)
		}
	}
	s.rows = kept
	return nil
}

func newTestScheduler(t *testing.T, handler event.Handler) (*Scheduler, *memEventStore, *memHistoryStore) {
	t.Helper()

	store := newMemEventStore()
	histStore := &memHistoryStore{}
	nop := logger.NopLogger()
	recorder := history.NewRecorder(histStore, nop)

	cfg := config.ProcessingConfig{
		MaxAttemptsDefault:     3,
		RetryBaseInterval:      time.Second,
		RetryMaxInterval:       time.Minute,
		StuckProcessingTimeout: time.Minute,
		WorkerLimit:            4,
		SweepBatchSize:         50,
	}
	retention := config.RetentionConfig{DefaultDays: 30, PurgeBatchSize: 50}

	lifecycle := event.NewLifecycle(store, recorder, nil, nil, nil, cfg, retention, "sched-test", nop)
	return New(lifecycle, store, recorder, handler, cfg, retention, nop), store, histStore
}

func retryEvent(id string, due time.Time, attempts, maxAttempts int) *event.Event {
	return &event.Event{
		EventID:            id,
		EventType:          "user.created",
		Status:             event.StatusRetry,
		ProcessingAttempts: attempts,
		MaxAttempts:        maxAttempts,
		NextRetryAt:        &due,
	}
}

func TestSweepRetriesProcessesDueEvents(t *testing.T) {
	var mu sync.Mutex
	var processed []string
	handler := func(ctx context.Context, e *event.Event) error {
		mu.Lock()
		processed = append(processed, e.EventID)
		mu.Unlock()
		return nil
	}

	sched, store, _ := newTestScheduler(t, handler)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Create(ctx, retryEvent("evt-due-1", now.Add(-time.Minute), 1, 3)))
	require.NoError(t, store.Create(ctx, retryEvent("evt-due-2", now.Add(-time.Second), 1, 3)))
	require.NoError(t, store.Create(ctx, retryEvent("evt-future", now.Add(time.Hour), 1, 3)))

	require.NoError(t, sched.sweepRetries(ctx))

	mu.Lock()
	sort.Strings(processed)
	mu.Unlock()
	assert.Equal(t, []string{"evt-due-1", "evt-due-2"}, processed)

	assert.Equal(t, event.StatusProcessed, store.status(t, "evt-due-1"))
	assert.Equal(t, event.StatusProcessed, store.status(t, "evt-due-2"))
	assert.Equal(t, event.StatusRetry, store.status(t, "evt-future"))
}

func TestSweepStuckRecoversProcessingEvents(t *testing.T) {
	sched, store, histStore := newTestScheduler(t, nil)
	ctx := context.Background()

	stale := &event.Event{
		EventID:            "evt-stuck",
		EventType:          "user.created",
		Status:             event.StatusProcessing,
		ProcessingAttempts: 0,
		MaxAttempts:        3,
		UpdatedAt:          time.Now().Add(-time.Hour),
	}
	require.NoError(t, store.Create(ctx, stale))
	require.NoError(t, histStore.Insert(ctx, &history.ProcessingHistory{
		EventID:         "evt-stuck",
		AttemptNumber:   1,
		Status:          history.StatusStarted,
		ProcessingStart: time.Now().Add(-time.Hour),
	}))

	require.NoError(t, sched.sweepStuck(ctx))

	assert.Equal(t, event.StatusRetry, store.status(t, "evt-stuck"))
	open, err := histStore.FindOpen(ctx, "evt-stuck")
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestSweepStuckClosesOrphanRows(t *testing.T) {
	sched, store, histStore := newTestScheduler(t, nil)
	ctx := context.Background()

	// The event moved to FAILED but its attempt row was never closed.
	require.NoError(t, store.Create(ctx, &event.Event{
		EventID:            "evt-moved",
		Status:             event.StatusFailed,
		ProcessingAttempts: 3,
		MaxAttempts:        3,
	}))
	require.NoError(t, histStore.Insert(ctx, &history.ProcessingHistory{
		EventID:         "evt-moved",
		AttemptNumber:   3,
		Status:          history.StatusProcessing,
		ProcessingStart: time.Now().Add(-time.Hour),
	}))

	// Still PROCESSING with a fresh heartbeat; its old row belongs to
	// the ForceTimeout path, not the orphan closer.
	require.NoError(t, store.Create(ctx, &event.Event{
		EventID:     "evt-active",
		Status:      event.StatusProcessing,
		MaxAttempts: 3,
		UpdatedAt:   time.Now(),
	}))
	require.NoError(t, histStore.Insert(ctx, &history.ProcessingHistory{
		EventID:         "evt-active",
		AttemptNumber:   1,
		Status:          history.StatusStarted,
		ProcessingStart: time.Now().Add(-time.Hour),
	}))

	require.NoError(t, sched.sweepStuck(ctx))

	open, err := histStore.FindOpen(ctx, "evt-moved")
	require.NoError(t, err)
	assert.Nil(t, open)

	open, err = histStore.FindOpen(ctx, "evt-active")
	require.NoError(t, err)
	assert.NotNil(t, open)
}

func TestSweepExpiredTransitionsEvents(t *testing.T) {
	sched, store, _ := newTestScheduler(t, nil)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	require.NoError(t, store.Create(ctx, &event.Event{
		EventID:   "evt-old-pending",
		Status:    event.StatusPending,
		ExpiresAt: &past,
	}))
	require.NoError(t, store.Create(ctx, &event.Event{
		EventID:   "evt-fresh",
		Status:    event.StatusPending,
	}))

	require.NoError(t, sched.sweepExpired(ctx))

	assert.Equal(t, event.StatusExpired, store.status(t, "evt-old-pending"))
	assert.Equal(t, event.StatusPending, store.status(t, "evt-fresh"))
}

func TestPurgeRemovesExpiredTerminalEvents(t *testing.T) {
	sched, store, histStore := newTestScheduler(t, nil)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	require.NoError(t, store.Create(ctx, &event.Event{
		EventID:   "evt-done",
		Status:    event.StatusProcessed,
		ExpiresAt: &past,
	}))
	require.NoError(t, histStore.Insert(ctx, &history.ProcessingHistory{
		EventID:       "evt-done",
		AttemptNumber: 1,
		Status:        history.StatusSuccess,
	}))
	require.NoError(t, store.Create(ctx, &event.Event{
		EventID:   "evt-live",
		Status:    event.StatusPending,
		ExpiresAt: &past,
	}))

	require.NoError(t, sched.purgeExpired(ctx))

	found, err := store.FindByID(ctx, "evt-done")
	require.NoError(t, err)
	assert.Nil(t, found)
	assert.Empty(t, histStore.rows)

	// Non-terminal events are never purged, only expired.
	found, err = store.FindByID(ctx, "evt-live")
	require.NoError(t, err)
	assert.NotNil(t, found)
}
