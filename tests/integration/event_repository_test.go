package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventhub/internal/constants"
	"eventhub/internal/event"
	pkgerrors "eventhub/pkg/errors"
)

func TestEventRepository_CreateAndFindByID(t *testing.T) {
	infra := SetupPostgres(t)

	store := event.NewStore(infra.PostgresDB)
	ctx := context.Background()

	e := createTestEvent("user.created", "signup-api", map[string]interface{}{"user_id": "u-1"})
	e.Tags = []string{"priority", "signup"}
	e.Metadata = map[string]interface{}{"trace_id": "abc123"}

	err := store.Create(ctx, e)
	require.NoError(t, err)
	assert.False(t, e.CreatedAt.IsZero())
	assert.False(t, e.UpdatedAt.IsZero())

	found, err := store.FindByID(ctx, e.EventID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, e.EventID, found.EventID)
	assert.Equal(t, "user.created", found.EventType)
	assert.Equal(t, "signup-api", found.Source)
	assert.Equal(t, event.StatusPending, found.Status)
	assert.Equal(t, event.PriorityMedium, found.Priority)
	assert.Equal(t, "u-1", found.Payload["user_id"])
	assert.Equal(t, []string{"priority", "signup"}, found.Tags)
	assert.Equal(t, "abc123", found.Metadata["trace_id"])
}

func TestEventRepository_FindByID_NotFound(t *testing.T) {
	infra := SetupPostgres(t)

	store := event.NewStore(infra.PostgresDB)
	ctx := context.Background()

	found, err := store.FindByID(ctx, "missing-event")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestEventRepository_Create_DuplicateID(t *testing.T) {
	infra := SetupPostgres(t)

	store := event.NewStore(infra.PostgresDB)
	ctx := context.Background()

	e := createTestEvent("user.created", "signup-api", map[string]interface{}{"user_id": "u-1"})
	require.NoError(t, store.Create(ctx, e))

	dup := createTestEvent("user.created", "signup-api", map[string]interface{}{"user_id": "u-2"})
	dup.EventID = e.EventID
	err := store.Create(ctx, dup)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))
}

func TestEventRepository_ConditionalUpdate_AppliesWhenStatusMatches(t *testing.T) {
	infra := SetupPostgres(t)

	store := event.NewStore(infra.PostgresDB)
	ctx := context.Background()

	e := createTestEvent("user.created", "signup-api", map[string]interface{}{"user_id": "u-1"})
	require.NoError(t, store.Create(ctx, e))

	applied, err := store.ConditionalUpdate(ctx, e.EventID, event.StatusPending, func(ev *event.Event) {
		ev.Status = event.StatusProcessing
		now := time.Now().UTC()
		ev.ProcessingTimestamp = &now
	})
	require.NoError(t, err)
	assert.True(t, applied)

	found, err := store.FindByID(ctx, e.EventID)
	require.NoError(t, err)
	assert.Equal(t, event.StatusProcessing, found.Status)
	assert.NotNil(t, found.ProcessingTimestamp)
}

func TestEventRepository_ConditionalUpdate_LosesWhenStatusMoved(t *testing.T) {
	infra := SetupPostgres(t)

	store := event.NewStore(infra.PostgresDB)
	ctx := context.Background()

	e := createTestEvent("user.created", "signup-api", map[string]interface{}{"user_id": "u-1"})
	require.NoError(t, store.Create(ctx, e))

	applied, err := store.ConditionalUpdate(ctx, e.EventID, event.StatusPending, func(ev *event.Event) {
		ev.Status = event.StatusProcessing
	})
	require.NoError(t, err)
	require.True(t, applied)

	// A second claimer expecting PENDING must lose without error.
	applied, err = store.ConditionalUpdate(ctx, e.EventID, event.StatusPending, func(ev *event.Event) {
		ev.Status = event.StatusProcessing
	})
	require.NoError(t, err)
	assert.False(t, applied)

	found, err := store.FindByID(ctx, e.EventID)
	require.NoError(t, err)
	assert.Equal(t, event.StatusProcessing, found.Status)
}

func TestEventRepository_ConditionalUpdate_NotFound(t *testing.T) {
	infra := SetupPostgres(t)

	store := event.NewStore(infra.PostgresDB)
	ctx := context.Background()

	_, err := store.ConditionalUpdate(ctx, "missing-event", event.StatusPending, func(ev *event.Event) {})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestEventRepository_FindDueRetries_PriorityOrder(t *testing.T) {
	infra := SetupPostgres(t)

	store := event.NewStore(infra.PostgresDB)
	ctx := context.Background()
	now := time.Now().UTC()

	due := func(priority event.Priority, offset time.Duration) *event.Event {
		e := createTestEvent("order.placed", "checkout", map[string]interface{}{"order_id": "o-1"})
		e.Status = event.StatusRetry
		e.Priority = priority
		at := now.Add(offset)
		e.NextRetryAt = &at
		require.NoError(t, store.Create(ctx, e))
		return e
	}

	low := due(event.PriorityLow, -3*time.Minute)
	critical := due(event.PriorityCritical, -1*time.Minute)
	highOld := due(event.PriorityHigh, -2*time.Minute)
	highNew := due(event.PriorityHigh, -1*time.Minute)
	due(event.PriorityMedium, 10*time.Minute) // not due yet

	events, err := store.FindDueRetries(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, events, 4)

	assert.Equal(t, critical.EventID, events[0].EventID)
	assert.Equal(t, highOld.EventID, events[1].EventID)
	assert.Equal(t, highNew.EventID, events[2].EventID)
	assert.Equal(t, low.EventID, events[3].EventID)
}

func TestEventRepository_FindStuckProcessing(t *testing.T) {
	infra := SetupPostgres(t)

	store := event.NewStore(infra.PostgresDB)
	ctx := context.Background()

	stuck := createTestEvent("order.placed", "checkout", map[string]interface{}{"order_id": "o-1"})
	stuck.Status = event.StatusProcessing
	require.NoError(t, store.Create(ctx, stuck))

	fresh := createTestEvent("order.placed", "checkout", map[string]interface{}{"order_id": "o-2"})
	fresh.Status = event.StatusProcessing
	require.NoError(t, store.Create(ctx, fresh))

	time.Sleep(timestampDelay)
	cutoff := time.Now().UTC()

	events, err := store.FindStuckProcessing(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Both rows predate the cutoff here; a cutoff before their
	// updated_at must exclude them.
	events, err = store.FindStuckProcessing(ctx, stuck.UpdatedAt.Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEventRepository_FindExpiredAndPurgeable(t *testing.T) {
	infra := SetupPostgres(t)

	store := event.NewStore(infra.PostgresDB)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Hour)

	pendingExpired := createTestEvent("user.created", "signup-api", map[string]interface{}{"user_id": "u-1"})
	pendingExpired.ExpiresAt = &past
	require.NoError(t, store.Create(ctx, pendingExpired))

	processedExpired := createTestEvent("user.created", "signup-api", map[string]interface{}{"user_id": "u-2"})
	processedExpired.Status = event.StatusProcessed
	processedExpired.ExpiresAt = &past
	require.NoError(t, store.Create(ctx, processedExpired))

	future := now.Add(time.Hour)
	alive := createTestEvent("user.created", "signup-api", map[string]interface{}{"user_id": "u-3"})
	alive.ExpiresAt = &future
	require.NoError(t, store.Create(ctx, alive))

	expired, err := store.FindExpiredCandidates(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, pendingExpired.EventID, expired[0].EventID)

	purgeable, err := store.FindPurgeable(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, purgeable, 1)
	assert.Equal(t, processedExpired.EventID, purgeable[0].EventID)
}

func TestEventRepository_Find_Filters(t *testing.T) {
	infra := SetupPostgres(t)

	store := event.NewStore(infra.PostgresDB)
	ctx := context.Background()

	a := createTestEvent("user.created", "signup-api", map[string]interface{}{"user_id": "u-1"})
	a.TenantID = "tenant-a"
	require.NoError(t, store.Create(ctx, a))
	time.Sleep(timestampDelay)

	b := createTestEvent("order.placed", "checkout", map[string]interface{}{"order_id": "o-1"})
	b.TenantID = "tenant-b"
	b.Status = event.StatusFailed
	require.NoError(t, store.Create(ctx, b))

	byType, err := store.Find(ctx, event.Filter{EventType: "user.created", Limit: 10})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, a.EventID, byType[0].EventID)

	byStatus, err := store.Find(ctx, event.Filter{Status: event.StatusFailed, Limit: 10})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, b.EventID, byStatus[0].EventID)

	byTenant, err := store.Find(ctx, event.Filter{TenantID: "tenant-a", Limit: 10})
	require.NoError(t, err)
	require.Len(t, byTenant, 1)
	assert.Equal(t, a.EventID, byTenant[0].EventID)

	all, err := store.Find(ctx, event.Filter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b.EventID, all[0].EventID) // newest first
}

func TestEventRepository_CountByStatus(t *testing.T) {
	infra := SetupPostgres(t)

	store := event.NewStore(infra.PostgresDB)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e := createTestEvent("user.created", "signup-api", map[string]interface{}{"user_id": "u"})
		require.NoError(t, store.Create(ctx, e))
	}
	failed := createTestEvent("user.created", "signup-api", map[string]interface{}{"user_id": "u"})
	failed.Status = event.StatusFailed
	require.NoError(t, store.Create(ctx, failed))

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[event.StatusPending])
	assert.Equal(t, int64(1), counts[event.StatusFailed])
}

func TestEventRepository_Delete(t *testing.T) {
	infra := SetupPostgres(t)

	store := event.NewStore(infra.PostgresDB)
	ctx := context.Background()

	e := createTestEvent("user.created", "signup-api", map[string]interface{}{"user_id": "u-1"})
	require.NoError(t, store.Create(ctx, e))
	require.NoError(t, store.Delete(ctx, e.EventID))

	found, err := store.FindByID(ctx, e.EventID)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestEventRepository_ColumnDefaults(t *testing.T) {
	infra := SetupPostgres(t)
	ctx := context.Background()

	// A minimal insert exercises the table defaults directly.
	_, err := infra.PostgresDB.ExecContext(ctx,
		`INSERT INTO events (event_id, event_type, source, payload, event_timestamp)
		 VALUES ($1, 'user.created', 'signup-api', '{}'::jsonb, NOW())`, "evt-defaults")
	require.NoError(t, err)

	var status string
	var retentionDays int
	err = infra.PostgresDB.QueryRowContext(ctx,
		`SELECT status, retention_days FROM events WHERE event_id = $1`, "evt-defaults").
		Scan(&status, &retentionDays)
	require.NoError(t, err)
	assert.Equal(t, string(event.StatusPending), status)
	assert.Equal(t, constants.DefaultRetentionDays, retentionDays)
}
