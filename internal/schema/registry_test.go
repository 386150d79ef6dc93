package schema

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventhub/internal/logger"
	"eventhub/pkg/cel"
	pkgerrors "eventhub/pkg/errors"
)

type memStore struct {
	schemas map[string]*EventSchema
	usage   map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		schemas: make(map[string]*EventSchema),
		usage:   make(map[string]int),
	}
}

func (s *memStore) key(eventType, version string) string {
	return eventType + "-" + version
}

func (s *memStore) Get(ctx context.Context, eventType, version string) (*EventSchema, error) {
	sc, ok := s.schemas[s.key(eventType, version)]
	if !ok {
		return nil, nil
	}
	copied := *sc
	return &copied, nil
}

func (s *memStore) ListByType(ctx context.Context, eventType string) ([]EventSchema, error) {
	var out []EventSchema
	for _, sc := range s.schemas {
		if sc.EventType == eventType {
			out = append(out, *sc)
		}
	}
	return out, nil
}

func (s *memStore) ListActive(ctx context.Context, eventType string) ([]EventSchema, error) {
	var out []EventSchema
	for _, sc := range s.schemas {
		if sc.EventType == eventType && sc.Active {
			out = append(out, *sc)
		}
	}
	return out, nil
}

func (s *memStore) List(ctx context.Context, limit int) ([]EventSchema, error) {
	var out []EventSchema
	for _, sc := range s.schemas {
		out = append(out, *sc)
	}
	return out, nil
}

func (s *memStore) ListDeprecated(ctx context.Context) ([]EventSchema, error) {
	var out []EventSchema
	for _, sc := range s.schemas {
		if sc.Deprecated {
			out = append(out, *sc)
		}
	}
	return out, nil
}

func (s *memStore) Insert(ctx context.Context, schema *EventSchema) error {
	k := s.key(schema.EventType, schema.Version)
	if _, exists := s.schemas[k]; exists {
		return pkgerrors.ErrDuplicateSchema.
			WithDetail("event_type", schema.EventType).
			WithDetail("version", schema.Version)
	}
	if schema.CreatedAt.IsZero() {
		schema.CreatedAt = time.Now()
	}
	copied := *schema
	s.schemas[k] = &copied
	return nil
}

func (s *memStore) Update(ctx context.Context, schema *EventSchema) error {
	k := s.key(schema.EventType, schema.Version)
	if _, exists := s.schemas[k]; !exists {
		return pkgerrors.ErrSchemaNotFound
	}
	copied := *schema
	s.schemas[k] = &copied
	return nil
}

func (s *memStore) IncrementUsage(ctx context.Context, eventType, version string) error {
	s.usage[s.key(eventType, version)]++
	return nil
}

func (s *memStore) CountActive(ctx context.Context) (int64, error) {
	var n int64
	for _, sc := range s.schemas {
		if sc.Active && !sc.Deprecated {
			n++
		}
	}
	return n, nil
}

func newTestRegistry(t *testing.T) (*Registry, *memStore) {
	t.Helper()
	evaluator, err := cel.NewEvaluator()
	require.NoError(t, err)

	store := newMemStore()
	return NewRegistry(store, evaluator, nil, logger.NopLogger()), store
}

func seed(t *testing.T, store *memStore, schema EventSchema) {
	t.Helper()
	require.NoError(t, store.Insert(context.Background(), &schema))
}

func TestResolveExactVersion(t *testing.T) {
	registry, store := newTestRegistry(t)
	seed(t, store, EventSchema{EventType: "order.placed", Version: "1.0", Active: true})

	schema, err := registry.Resolve(context.Background(), "order.placed", "1.0")
	require.NoError(t, err)
	assert.Equal(t, "1.0", schema.Version)

	_, err = registry.Resolve(context.Background(), "order.placed", "9.9")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsSchemaNotFound(err))
}

func TestResolveExactRejectsInactive(t *testing.T) {
	registry, store := newTestRegistry(t)
	now := time.Now()
	seed(t, store, EventSchema{
		EventType:       "order.placed",
		Version:         "1.0",
		Active:          true,
		Deprecated:      true,
		DeprecationDate: &now,
	})

	_, err := registry.Resolve(context.Background(), "order.placed", "1.0")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsSchemaNotFound(err))
}

func TestResolveLatestSkipsDeprecated(t *testing.T) {
	registry, store := newTestRegistry(t)
	past := time.Now().Add(-time.Hour)

	seed(t, store, EventSchema{EventType: "order.placed", Version: "1.0", Active: true})
	seed(t, store, EventSchema{EventType: "order.placed", Version: "2.0", Active: true})
	seed(t, store, EventSchema{
		EventType:       "order.placed",
		Version:         "3.0",
		Active:          true,
		Deprecated:      true,
		DeprecationDate: &past,
	})

	schema, err := registry.Resolve(context.Background(), "order.placed", "")
	require.NoError(t, err)
	assert.Equal(t, "2.0", schema.Version)
}

func TestResolveLatestHonorsFutureDeprecation(t *testing.T) {
	registry, store := newTestRegistry(t)
	future := time.Now().Add(24 * time.Hour)

	seed(t, store, EventSchema{EventType: "order.placed", Version: "1.0", Active: true})
	seed(t, store, EventSchema{
		EventType:       "order.placed",
		Version:         "2.0",
		Active:          true,
		Deprecated:      true,
		DeprecationDate: &future,
	})

	// A deprecation that has not taken effect yet keeps the version
	// resolvable.
	schema, err := registry.Resolve(context.Background(), "order.placed", "")
	require.NoError(t, err)
	assert.Equal(t, "2.0", schema.Version)
}

func TestResolveLatestNoActiveSchema(t *testing.T) {
	registry, _ := newTestRegistry(t)

	_, err := registry.Resolve(context.Background(), "ghost.event", "")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsSchemaNotFound(err))
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	req := RegisterSchemaRequest{EventType: "order.placed", Version: "1.0"}
	_, err := registry.Register(ctx, req)
	require.NoError(t, err)

	_, err = registry.Register(ctx, req)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrDuplicateSchema))
}

func TestRegisterValidatesRules(t *testing.T) {
	registry, _ := newTestRegistry(t)

	_, err := registry.Register(context.Background(), RegisterSchemaRequest{
		EventType:     "order.placed",
		Version:       "1.0",
		BusinessRules: []string{"this is not CEL ((("},
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestDeprecateSetsEffectiveDate(t *testing.T) {
	registry, store := newTestRegistry(t)
	ctx := context.Background()
	seed(t, store, EventSchema{EventType: "order.placed", Version: "1.0", Active: true})

	effective := time.Now().Add(72 * time.Hour)
	schema, err := registry.Deprecate(ctx, "order.placed", "1.0", DeprecateSchemaRequest{
		EffectiveDate:  &effective,
		MigrationGuide: "move to 2.0",
	})
	require.NoError(t, err)
	assert.True(t, schema.Deprecated)
	require.NotNil(t, schema.DeprecationDate)
	assert.Equal(t, effective, *schema.DeprecationDate)
	assert.Equal(t, "move to 2.0", schema.MigrationGuide)

	// Exact lookup through ResolveAny still serves the deprecated schema.
	got, err := registry.ResolveAny(ctx, "order.placed", "1.0")
	require.NoError(t, err)
	assert.True(t, got.Deprecated)
}

func TestIsCompatible(t *testing.T) {
	registry, store := newTestRegistry(t)
	ctx := context.Background()
	seed(t, store, EventSchema{
		EventType:           "order.placed",
		Version:             "1.0",
		Active:              true,
		CompatibilityMatrix: []string{"1.1", "2.0"},
	})

	tests := []struct {
		name     string
		from     string
		to       string
		expected bool
	}{
		{"identity", "1.0", "1.0", true},
		{"listed in matrix", "1.0", "2.0", true},
		{"numeric equivalent in matrix", "1.0", "1.1.0", true},
		{"not listed", "1.0", "3.0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compatible, err := registry.IsCompatible(ctx, "order.placed", tt.from, tt.to)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, compatible)
		})
	}

	_, err := registry.IsCompatible(ctx, "order.placed", "9.9", "1.0")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsSchemaNotFound(err))
}

func TestRecordUsageIncrementsCounters(t *testing.T) {
	registry, store := newTestRegistry(t)
	ctx := context.Background()
	seed(t, store, EventSchema{EventType: "order.placed", Version: "1.0", Active: true})

	schema, err := registry.Resolve(ctx, "order.placed", "1.0")
	require.NoError(t, err)

	registry.RecordUsage(ctx, schema)
	registry.RecordUsage(ctx, schema)

	assert.Equal(t, 2, store.usage["order.placed-1.0"])
}
