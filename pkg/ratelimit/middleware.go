package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"eventhub/pkg/metrics"
)

type RateLimitConfig struct {
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

func DefaultConfig() RateLimitConfig {
	return RateLimitConfig{
		RPS:             10.0,
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// registry keeps one token bucket per client address and evicts
// buckets idle longer than MaxAge.
type registry struct {
	mu      sync.Mutex
	clients map[string]*client
	cfg     RateLimitConfig
}

func (r *registry) get(addr string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[addr]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rate.Limit(r.cfg.RPS), r.cfg.Burst)}
		r.clients[addr] = c
	}
	c.lastSeen = time.Now()
	return c.limiter
}

func (r *registry) evictIdle() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.cfg.MaxAge)
	for addr, c := range r.clients {
		if c.lastSeen.Before(cutoff) {
			delete(r.clients, addr)
		}
	}
}

// RateLimitMiddleware enforces a per-client token bucket keyed on the
// caller's IP.
func RateLimitMiddleware(cfg RateLimitConfig) gin.HandlerFunc {
	reg := &registry{
		clients: make(map[string]*client),
		cfg:     cfg,
	}

	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for range ticker.C {
			reg.evictIdle()
		}
	}()

	limitHeader := strconv.Itoa(int(cfg.RPS))

	return func(c *gin.Context) {
		addr := c.ClientIP()
		if addr == "" {
			addr = c.RemoteIP()
		}

		limiter := reg.get(addr)
		c.Header("X-RateLimit-Limit", limitHeader)

		if !limiter.Allow() {
			metrics.RateLimitRequestsTotal.WithLabelValues("limited").Inc()
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", "1")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"error_code": "RATE_LIMIT_EXCEEDED",
			})
			c.Abort()
			return
		}

		metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()

		remaining := int(limiter.Tokens())
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		c.Next()
	}
}
