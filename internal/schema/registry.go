package schema

import (
	"context"
	"fmt"
	"time"

	"eventhub/internal/logger"
	"eventhub/pkg/cel"
	pkgerrors "eventhub/pkg/errors"
	"eventhub/pkg/metrics"
)

// Notifier publishes schema lifecycle changes to interested consumers.
type Notifier interface {
	SchemaRegistered(ctx context.Context, schema *EventSchema) error
	SchemaDeprecated(ctx context.Context, schema *EventSchema) error
}

type Registry struct {
	store     Store
	evaluator *cel.Evaluator
	notifier  Notifier
	logger    logger.Logger
	now       func() time.Time
}

func NewRegistry(store Store, evaluator *cel.Evaluator, notifier Notifier, log logger.Logger) *Registry {
	return &Registry{
		store:     store,
		evaluator: evaluator,
		notifier:  notifier,
		logger:    log,
		now:       time.Now,
	}
}

// Resolve returns the schema an ingested payload must be validated
// against. With an explicit version it is an exact lookup that must hit
// an active schema; without one it picks the highest eligible version
// for the event type, tie-broken by most recent creation.
func (r *Registry) Resolve(ctx context.Context, eventType, version string) (*EventSchema, error) {
	if version != "" {
		schema, err := r.store.Get(ctx, eventType, version)
		if err != nil {
			metrics.SchemaResolutionsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		if schema == nil {
			metrics.SchemaResolutionsTotal.WithLabelValues("not_found").Inc()
			return nil, pkgerrors.ErrSchemaNotFound.
				WithDetail("event_type", eventType).
				WithDetail("version", version)
		}
		if !schema.IsActive() {
			metrics.SchemaResolutionsTotal.WithLabelValues("inactive").Inc()
			return nil, pkgerrors.ErrSchemaNotFound.
				WithDetail("event_type", eventType).
				WithDetail("version", version).
				WithDetail("message", fmt.Sprintf("schema %s is not active", schema.FullVersion()))
		}
		metrics.SchemaResolutionsTotal.WithLabelValues("hit").Inc()
		return schema, nil
	}

	schema, err := r.resolveLatest(ctx, eventType)
	if err != nil {
		return nil, err
	}
	metrics.SchemaResolutionsTotal.WithLabelValues("hit").Inc()
	return schema, nil
}

// ResolveAny looks up a schema by exact version regardless of its
// lifecycle state. Events already bound to a deprecated version are
// validated through this path.
func (r *Registry) ResolveAny(ctx context.Context, eventType, version string) (*EventSchema, error) {
	schema, err := r.store.Get(ctx, eventType, version)
	if err != nil {
		return nil, err
	}
	if schema == nil {
		return nil, pkgerrors.ErrSchemaNotFound.
			WithDetail("event_type", eventType).
			WithDetail("version", version)
	}
	return schema, nil
}

func (r *Registry) resolveLatest(ctx context.Context, eventType string) (*EventSchema, error) {
	schemas, err := r.store.ListActive(ctx, eventType)
	if err != nil {
		metrics.SchemaResolutionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	now := r.now()
	var best *EventSchema
	for i := range schemas {
		candidate := &schemas[i]
		if !candidate.EligibleAt(now) {
			continue
		}
		if best == nil {
			best = candidate
			continue
		}
		switch CompareVersions(candidate.Version, best.Version) {
		case 1:
			best = candidate
		case 0:
			if candidate.CreatedAt.After(best.CreatedAt) {
				best = candidate
			}
		}
	}

	if best == nil {
		metrics.SchemaResolutionsTotal.WithLabelValues("not_found").Inc()
		return nil, pkgerrors.ErrSchemaNotFound.
			WithDetail("event_type", eventType).
			WithDetail("message", fmt.Sprintf("no active schema for event type '%s'", eventType))
	}

	return best, nil
}

func (r *Registry) Register(ctx context.Context, req RegisterSchemaRequest) (*EventSchema, error) {
	if err := r.validateRules(req.BusinessRules, req.DataQualityRules); err != nil {
		return nil, pkgerrors.ErrValidation.WithCause(err).WithDetail("message", err.Error())
	}

	schema := &EventSchema{
		EventType:           req.EventType,
		Version:             req.Version,
		Description:         req.Description,
		SchemaJSON:          req.SchemaJSON,
		RequiredFields:      req.RequiredFields,
		OptionalFields:      req.OptionalFields,
		BusinessRules:       req.BusinessRules,
		DataQualityRules:    req.DataQualityRules,
		CompatibilityMatrix: req.CompatibilityMatrix,
		Examples:            req.Examples,
		Tags:                req.Tags,
		Active:              true,
		Deprecated:          false,
		CreatedBy:           req.CreatedBy,
		UpdatedBy:           req.CreatedBy,
	}

	if err := r.store.Insert(ctx, schema); err != nil {
		return nil, err
	}

	r.logger.InfowCtx(ctx, "Schema registered",
		"event_type", schema.EventType,
		"version", schema.Version,
	)
	r.refreshActiveGauge(ctx)

	if r.notifier != nil {
		if err := r.notifier.SchemaRegistered(ctx, schema); err != nil {
			r.logger.WarnwCtx(ctx, "Failed to publish schema registration event",
				"error", err,
				"event_type", schema.EventType,
				"version", schema.Version,
			)
		}
	}

	return schema, nil
}

func (r *Registry) Deprecate(ctx context.Context, eventType, version string, req DeprecateSchemaRequest) (*EventSchema, error) {
	schema, err := r.store.Get(ctx, eventType, version)
	if err != nil {
		return nil, err
	}
	if schema == nil {
		return nil, pkgerrors.ErrSchemaNotFound.
			WithDetail("event_type", eventType).
			WithDetail("version", version)
	}

	effective := r.now()
	if req.EffectiveDate != nil {
		effective = *req.EffectiveDate
	}

	schema.Deprecated = true
	schema.DeprecationDate = &effective
	schema.MigrationGuide = req.MigrationGuide
	if req.UpdatedBy != "" {
		schema.UpdatedBy = req.UpdatedBy
	}

	if err := r.store.Update(ctx, schema); err != nil {
		return nil, err
	}

	r.logger.InfowCtx(ctx, "Schema deprecated",
		"event_type", eventType,
		"version", version,
		"effective_date", effective,
	)
	r.refreshActiveGauge(ctx)

	if r.notifier != nil {
		if err := r.notifier.SchemaDeprecated(ctx, schema); err != nil {
			r.logger.WarnwCtx(ctx, "Failed to publish schema deprecation event",
				"error", err,
				"event_type", eventType,
				"version", version,
			)
		}
	}

	return schema, nil
}

// RecordUsage bumps the schema usage counters. It is a side effect of
// validation and never fails the caller.
func (r *Registry) RecordUsage(ctx context.Context, schema *EventSchema) {
	if schema == nil {
		return
	}
	if err := r.store.IncrementUsage(ctx, schema.EventType, schema.Version); err != nil {
		r.logger.WarnwCtx(ctx, "Failed to record schema usage",
			"error", err,
			"event_type", schema.EventType,
			"version", schema.Version,
		)
	}
}

// IsCompatible reports whether an event produced against fromVersion
// may be handled as toVersion, per the declared compatibility matrix of
// the source schema. Identical versions are always compatible.
func (r *Registry) IsCompatible(ctx context.Context, eventType, fromVersion, toVersion string) (bool, error) {
	if CompareVersions(fromVersion, toVersion) == 0 {
		return true, nil
	}

	schema, err := r.ResolveAny(ctx, eventType, fromVersion)
	if err != nil {
		return false, err
	}

	for _, v := range schema.CompatibilityMatrix {
		if v == toVersion || CompareVersions(v, toVersion) == 0 {
			return true, nil
		}
	}

	return false, nil
}

func (r *Registry) ListSchemas(ctx context.Context, eventType string, limit int) ([]EventSchema, error) {
	if eventType != "" {
		return r.store.ListByType(ctx, eventType)
	}
	return r.store.List(ctx, limit)
}

func (r *Registry) ListDeprecated(ctx context.Context) ([]EventSchema, error) {
	return r.store.ListDeprecated(ctx)
}

func (r *Registry) UsageStats(ctx context.Context, eventType string) ([]SchemaUsageStats, error) {
	schemas, err := r.store.ListByType(ctx, eventType)
	if err != nil {
		return nil, err
	}

	stats := make([]SchemaUsageStats, 0, len(schemas))
	for _, s := range schemas {
		stats = append(stats, SchemaUsageStats{
			EventType:  s.EventType,
			Version:    s.Version,
			UsageCount: s.UsageCount,
			LastUsed:   s.LastUsed,
			Active:     s.Active,
			Deprecated: s.Deprecated,
		})
	}

	return stats, nil
}

func (r *Registry) validateRules(businessRules, dataQualityRules []string) error {
	if r.evaluator == nil {
		return nil
	}
	for i, expr := range businessRules {
		if err := r.evaluator.ValidateRuleExpression(expr); err != nil {
			return fmt.Errorf("invalid business rule [%d]: %w", i, err)
		}
	}
	for i, expr := range dataQualityRules {
		if err := r.evaluator.ValidateRuleExpression(expr); err != nil {
			return fmt.Errorf("invalid data quality rule [%d]: %w", i, err)
		}
	}
	return nil
}

func (r *Registry) refreshActiveGauge(ctx context.Context) {
	count, err := r.store.CountActive(ctx)
	if err != nil {
		return
	}
	metrics.ActiveSchemas.Set(float64(count))
}
