// Package ratelimit applies a per-client token bucket. Analysis
// endpoints are far more expensive than file listings, so each route
// declares its own token cost.
package ratelimit

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	maxTokens float64
	perSecond float64
	logger    *zap.Logger
	stop      chan struct{}
}

type Config struct {
	// Tokens granted per client per minute.
	TokensPerMinute int
	Logger          *zap.Logger
}

func New(cfg Config) *Limiter {
	if cfg.TokensPerMinute <= 0 {
		cfg.TokensPerMinute = 60
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	l := &Limiter{
		buckets:   make(map[string]*bucket),
		maxTokens: float64(cfg.TokensPerMinute),
		perSecond: float64(cfg.TokensPerMinute) / 60.0,
		logger:    cfg.Logger,
		stop:      make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Middleware charges cost tokens per request against the client's bucket.
func (l *Limiter) Middleware(cost int) fiber.Handler {
	if cost <= 0 {
		cost = 1
	}
	return func(c *fiber.Ctx) error {
		key := c.IP()
		if !l.allow(key, float64(cost)) {
			l.logger.Warn("Rate limit exceeded",
				zap.String("ip", key),
				zap.String("path", c.Path()),
			)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}
		return c.Next()
	}
}

func (l *Limiter) allow(key string, cost float64) bool {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.maxTokens, lastRefill: time.Now()}
		l.buckets[key] = b
	}
	l.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.lastRefill).Seconds() * l.perSecond
	if b.tokens > l.maxTokens {
		b.tokens = l.maxTokens
	}
	b.lastRefill = now

	if b.tokens < cost {
		return false
	}
	b.tokens -= cost
	return true
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			now := time.Now()
			for key, b := range l.buckets {
				b.mu.Lock()
				idle := now.Sub(b.lastRefill)
				b.mu.Unlock()
				if idle > 10*time.Minute {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

func (l *Limiter) Stop() {
	close(l.stop)
}
