package history

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventhub/internal/logger"
	"eventhub/pkg/errors"
)

type fakeStore struct {
	rows []*ProcessingHistory
}

func (f *fakeStore) Insert(ctx context.Context, row *ProcessingHistory) error {
	for _, existing := range f.rows {
		if existing.EventID == row.EventID && existing.Status.Open() {
			return errors.ErrConcurrentAttempt.WithDetail("event_id", row.EventID)
		}
	}
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	copied := *row
	f.rows = append(f.rows, &copied)
	return nil
}

func (f *fakeStore) Update(ctx context.Context, row *ProcessingHistory) error {
	for i, existing := range f.rows {
		if existing.ID == row.ID {
			copied := *row
			f.rows[i] = &copied
			return nil
		}
	}
	return errors.ErrNotFound.WithDetail("history_id", row.ID)
}

func (f *fakeStore) Query(ctx context.Context, eventID string, limit, offset int) ([]ProcessingHistory, error) {
	var result []ProcessingHistory
	for i := len(f.rows) - 1; i >= 0; i-- {
		if f.rows[i].EventID == eventID {
			result = append(result, *f.rows[i])
		}
	}
	if offset > len(result) {
		offset = len(result)
	}
	result = result[offset:]
	if limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (f *fakeStore) FindOpen(ctx context.Context, eventID string) (*ProcessingHistory, error) {
	for _, row := range f.rows {
		if row.EventID == eventID && row.Status.Open() {
			copied := *row
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindOpenStartedBefore(ctx context.Context, cutoff time.Time, limit int) ([]ProcessingHistory, error) {
	var result []ProcessingHistory
	for _, row := range f.rows {
		if row.Status.Open() && row.ProcessingStart.Before(cutoff) {
			result = append(result, *row)
		}
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (f *fakeStore) DeleteForEvent(ctx context.Context, eventID string) error {
	kept := f.rows[:0]
	for _, row := range f.rows {
		if row.EventID != eventID {
			kept = append(kept, row)
		}
	}
	f.rows = kept
	return nil
}

func TestBeginRejectsConcurrentAttempt(t *testing.T) {
	store := &fakeStore{}
	recorder := NewRecorder(store, logger.NopLogger())
	ctx := context.Background()

	_, err := recorder.Begin(ctx, BeginAttempt{EventID: "evt-1", AttemptNumber: 1})
	require.NoError(t, err)

	_, err = recorder.Begin(ctx, BeginAttempt{EventID: "evt-1", AttemptNumber: 2})
	require.Error(t, err)
	assert.True(t, errors.IsConcurrentAttempt(err))

	// A different event is unaffected.
	_, err = recorder.Begin(ctx, BeginAttempt{EventID: "evt-2", AttemptNumber: 1})
	assert.NoError(t, err)
}

func TestCompleteFillsDurationAndIsIdempotent(t *testing.T) {
	store := &fakeStore{}
	recorder := NewRecorder(store, logger.NopLogger())

	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	current := start
	recorder.now = func() time.Time { return current }

	ctx := context.Background()
	handle, err := recorder.Begin(ctx, BeginAttempt{EventID: "evt-1", AttemptNumber: 1})
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, handle.Row().Status)
	assert.Equal(t, start, handle.Row().ProcessingStart)

	current = start.Add(1500 * time.Millisecond)
	err = recorder.Complete(ctx, handle, Outcome{
		Status:       StatusFailed,
		ErrorMessage: "boom",
		ErrorCode:    "HANDLER_ERROR",
	})
	require.NoError(t, err)

	rows, err := recorder.History(ctx, "evt-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, StatusFailed, rows[0].Status)
	require.NotNil(t, rows[0].DurationMs)
	assert.Equal(t, int64(1500), *rows[0].DurationMs)
	assert.Equal(t, "boom", rows[0].ErrorMessage)

	// Second completion must not rewrite the row.
	current = start.Add(10 * time.Second)
	err = recorder.Complete(ctx, handle, Outcome{Status: StatusSuccess})
	require.NoError(t, err)

	rows, err = recorder.History(ctx, "evt-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, StatusFailed, rows[0].Status)
	assert.Equal(t, int64(1500), *rows[0].DurationMs)
}

func TestAttemptNumbersAreContiguousAndOrdered(t *testing.T) {
	store := &fakeStore{}
	recorder := NewRecorder(store, logger.NopLogger())
	ctx := context.Background()

	for attempt := 1; attempt <= 3; attempt++ {
		handle, err := recorder.Begin(ctx, BeginAttempt{EventID: "evt-1", AttemptNumber: attempt})
		require.NoError(t, err)
		require.NoError(t, recorder.Complete(ctx, handle, Outcome{Status: StatusFailed}))
	}

	rows, err := recorder.History(ctx, "evt-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// Most recent attempt first, contiguous 1-based numbering.
	for i, row := range rows {
		assert.Equal(t, 3-i, row.AttemptNumber)
	}
}

func TestCloseOrphanMarksTimeout(t *testing.T) {
	store := &fakeStore{}
	recorder := NewRecorder(store, logger.NopLogger())
	ctx := context.Background()

	_, err := recorder.Begin(ctx, BeginAttempt{EventID: "evt-1", AttemptNumber: 1})
	require.NoError(t, err)

	open, err := recorder.FindOpen(ctx, "evt-1")
	require.NoError(t, err)
	require.NotNil(t, open)

	require.NoError(t, recorder.CloseOrphan(ctx, open))

	closed, err := recorder.FindOpen(ctx, "evt-1")
	require.NoError(t, err)
	assert.Nil(t, closed)

	rows, err := recorder.History(ctx, "evt-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, StatusTimeout, rows[0].Status)
	assert.NotNil(t, rows[0].ProcessingEnd)
	assert.Equal(t, "TIMEOUT", rows[0].ErrorCode)
}
