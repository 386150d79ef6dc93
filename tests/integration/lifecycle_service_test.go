package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventhub/internal/config"
	"eventhub/internal/dedup"
	"eventhub/internal/event"
	"eventhub/internal/history"
	"eventhub/internal/schema"
	"eventhub/pkg/cel"
	pkgerrors "eventhub/pkg/errors"
	"eventhub/pkg/models"
)

type lifecycleFixture struct {
	lifecycle *event.Lifecycle
	events    event.Store
	histories history.Store
}

func setupLifecycle(t *testing.T) *lifecycleFixture {
	t.Helper()
	infra := SetupTestInfra(t)
	ctx := context.Background()

	evaluator, err := cel.NewEvaluator()
	require.NoError(t, err)

	log := createTestLogger()
	schemaStore := schema.NewStore(infra.MongoDB)
	registry := schema.NewRegistry(schemaStore, evaluator, nil, log)

	_, err = registry.Register(ctx, schema.RegisterSchemaRequest{
		EventType: "user.created",
		Version:   "1.0",
		SchemaJSON: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"user_id": map[string]interface{}{"type": "string"},
			},
		},
		RequiredFields: []string{"user_id"},
	})
	require.NoError(t, err)

	eventStore := event.NewStore(infra.PostgresDB)
	historyStore := history.NewStore(infra.PostgresDB)
	checker := dedup.NewChecker(dedup.NewRepository(infra.RedisClient), createTestDedupConfig(), log)

	cfg := config.ProcessingConfig{
		MaxAttemptsDefault:     3,
		RetryBaseInterval:      time.Second,
		RetryMaxInterval:       time.Minute,
		RetryJitterPct:         0.2,
		HandlerTimeout:         5 * time.Second,
		StuckProcessingTimeout: 5 * time.Minute,
	}
	retention := config.RetentionConfig{DefaultDays: 30}

	lc := event.NewLifecycle(
		eventStore,
		history.NewRecorder(historyStore, log),
		registry,
		schema.NewPayloadValidator(evaluator),
		checker,
		cfg,
		retention,
		"integration-test",
		log,
	)

	return &lifecycleFixture{lifecycle: lc, events: eventStore, histories: historyStore}
}

func submission(payload map[string]interface{}) models.SubmissionEnvelope {
	return *models.NewSubmissionEnvelopeBuilder().
		WithEventID(uuid.New().String()).
		WithEventType("user.created").
		WithSource("signup-api").
		WithEventTimestamp(time.Now().UTC()).
		WithPayload(payload).
		Build()
}

func TestLifecycle_IngestAndProcess(t *testing.T) {
	f := setupLifecycle(t)
	ctx := context.Background()

	e, err := f.lifecycle.Ingest(ctx, submission(map[string]interface{}{"user_id": "u-1"}))
	require.NoError(t, err)
	assert.Equal(t, event.StatusPending, e.Status)
	assert.Equal(t, "1.0", e.SchemaVersion)

	err = f.lifecycle.ProcessOnce(ctx, e.EventID, func(ctx context.Context, e *event.Event) error {
		return nil
	})
	require.NoError(t, err)

	found, err := f.events.FindByID(ctx, e.EventID)
	require.NoError(t, err)
	assert.Equal(t, event.StatusProcessed, found.Status)
	assert.NotNil(t, found.ProcessingTimestamp)

	rows, err := f.histories.Query(ctx, e.EventID, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, history.StatusSuccess, rows[0].Status)
	assert.Equal(t, 1, rows[0].AttemptNumber)
	assert.Equal(t, "integration-test", rows[0].ProcessorID)
}

func TestLifecycle_IngestRejectsDuplicateContent(t *testing.T) {
	f := setupLifecycle(t)
	ctx := context.Background()

	payload := map[string]interface{}{"user_id": "u-dup"}

	_, err := f.lifecycle.Ingest(ctx, submission(payload))
	require.NoError(t, err)

	_, err = f.lifecycle.Ingest(ctx, submission(payload))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsDuplicateEvent(err))
}

func TestLifecycle_IngestPersistsInvalidPayloadAsFailed(t *testing.T) {
	f := setupLifecycle(t)
	ctx := context.Background()

	e, err := f.lifecycle.Ingest(ctx, submission(map[string]interface{}{"name": "no user id"}))
	require.Error(t, err)
	require.NotNil(t, e)

	found, err := f.events.FindByID(ctx, e.EventID)
	require.NoError(t, err)
	assert.Equal(t, event.StatusFailed, found.Status)
	assert.Contains(t, found.ProcessingError, "user_id")
}

func TestLifecycle_FailureSchedulesRetryThenExhausts(t *testing.T) {
	f := setupLifecycle(t)
	ctx := context.Background()

	e, err := f.lifecycle.Ingest(ctx, submission(map[string]interface{}{"user_id": "u-retry"}))
	require.NoError(t, err)

	fail := func(ctx context.Context, e *event.Event) error {
		return errors.New("downstream unavailable")
	}

	require.NoError(t, f.lifecycle.ProcessOnce(ctx, e.EventID, fail))

	found, err := f.events.FindByID(ctx, e.EventID)
	require.NoError(t, err)
	assert.Equal(t, event.StatusRetry, found.Status)
	assert.Equal(t, 1, found.ProcessingAttempts)
	require.NotNil(t, found.NextRetryAt)

	// Drive the remaining attempts to exhaustion.
	for attempt := 2; attempt <= 3; attempt++ {
		require.NoError(t, f.lifecycle.ProcessOnce(ctx, e.EventID, fail))
	}

	found, err = f.events.FindByID(ctx, e.EventID)
	require.NoError(t, err)
	assert.Equal(t, event.StatusFailed, found.Status)
	assert.Equal(t, 3, found.ProcessingAttempts)
	assert.Nil(t, found.NextRetryAt)

	rows, err := f.histories.Query(ctx, e.EventID, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.Equal(t, history.StatusFailed, row.Status)
	}
}

func TestLifecycle_CancelThenReingest(t *testing.T) {
	f := setupLifecycle(t)
	ctx := context.Background()

	e, err := f.lifecycle.Ingest(ctx, submission(map[string]interface{}{"user_id": "u-cancel"}))
	require.NoError(t, err)

	cancelled, err := f.lifecycle.Cancel(ctx, e.EventID)
	require.NoError(t, err)
	assert.Equal(t, event.StatusCancelled, cancelled.Status)

	// Cancelled is terminal, so re-ingestion is refused.
	_, err = f.lifecycle.Reingest(ctx, e.EventID)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrTerminalState))
}

func TestLifecycle_ReingestFailedEvent(t *testing.T) {
	f := setupLifecycle(t)
	ctx := context.Background()

	e, err := f.lifecycle.Ingest(ctx, submission(map[string]interface{}{"user_id": "u-reset"}))
	require.NoError(t, err)

	fail := func(ctx context.Context, e *event.Event) error {
		return errors.New("downstream unavailable")
	}
	for attempt := 1; attempt <= 3; attempt++ {
		require.NoError(t, f.lifecycle.ProcessOnce(ctx, e.EventID, fail))
	}

	reset, err := f.lifecycle.Reingest(ctx, e.EventID)
	require.NoError(t, err)
	assert.Equal(t, event.StatusPending, reset.Status)
	assert.Zero(t, reset.ProcessingAttempts)

	require.NoError(t, f.lifecycle.ProcessOnce(ctx, e.EventID, func(ctx context.Context, e *event.Event) error {
		return nil
	}))

	found, err := f.events.FindByID(ctx, e.EventID)
	require.NoError(t, err)
	assert.Equal(t, event.StatusProcessed, found.Status)
}
