package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"eventhub/internal/config"
	"eventhub/internal/constants"
	"eventhub/internal/logger"
	"eventhub/pkg/errors"
	"eventhub/pkg/metrics"
)

type Repository interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

type RedisRepository struct {
	client *redis.Client
}

func NewRepository(client *redis.Client) Repository {
	return &RedisRepository{client: client}
}

func (r *RedisRepository) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	success, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SetNX failed: %w", err)
	}
	return success, nil
}

func (r *RedisRepository) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis DEL failed: %w", err)
	}
	return nil
}

// Checker rejects events whose content was already accepted within the
// dedup window. The window key is event type plus payload hash, so a
// producer retrying the same content under a fresh event id still hits
// the window.
type Checker struct {
	repo   Repository
	hasher *Hasher
	cfg    config.DedupConfig
	logger logger.Logger
}

func NewChecker(repo Repository, cfg config.DedupConfig, log logger.Logger) *Checker {
	return &Checker{
		repo:   repo,
		hasher: NewHasher(cfg.HashAlgorithm),
		cfg:    cfg,
		logger: log,
	}
}

func (c *Checker) Hasher() *Hasher {
	return c.hasher
}

func (c *Checker) key(eventType, payloadHash string) string {
	return constants.CacheKeyPrefixDedup + eventType + ":" + payloadHash
}

// Check claims the dedup slot for (eventType, payloadHash). It returns
// ErrDuplicateEvent when another event already holds the slot.
func (c *Checker) Check(ctx context.Context, eventID, eventType, payloadHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	unique, err := c.repo.SetNX(ctx, c.key(eventType, payloadHash), eventID, c.cfg.Window)
	if err != nil {
		return c.handleRedisError(ctx, err, eventID)
	}

	if !unique {
		metrics.DedupChecksTotal.WithLabelValues("duplicate").Inc()
		return errors.ErrDuplicateEvent.
			WithDetail("event_type", eventType).
			WithDetail("payload_hash", payloadHash)
	}

	metrics.DedupChecksTotal.WithLabelValues("unique").Inc()
	return nil
}

// Release frees a slot claimed by Check so the same content can be
// resubmitted after the event failed to persist. Best effort: on a
// redis error the slot simply ages out with the window TTL.
func (c *Checker) Release(ctx context.Context, eventType, payloadHash string) {
	if err := c.repo.Delete(ctx, c.key(eventType, payloadHash)); err != nil {
		c.logger.WarnwCtx(ctx, "Failed to release dedup slot, it will expire with the window",
			"error", err,
			"event_type", eventType,
			"payload_hash", payloadHash,
		)
	}
}

func (c *Checker) handleRedisError(ctx context.Context, err error, eventID string) error {
	metrics.DedupChecksTotal.WithLabelValues("error").Inc()

	if c.cfg.OnRedisError == constants.FallbackAllow {
		c.logger.WarnwCtx(ctx, "Redis error during dedup check, accepting event (fallback: allow)",
			"error", err,
			"event_id", eventID,
		)
		return nil
	}

	return fmt.Errorf("redis error during dedup check for event %s: %w", eventID, err)
}
