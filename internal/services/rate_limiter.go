package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/sembalun/guard/internal/clock"
	"github.com/sembalun/guard/internal/models"
)

// RateLimitStore is a fixed-window counter backend. Attempt must be atomic per key.
type RateLimitStore interface {
	Attempt(ctx context.Context, key string, rule models.RateLimitRule, now time.Time) (models.RateLimitResult, error)
	Reset(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// RateLimiter enforces fixed-window attempt limits per opaque key
type RateLimiter struct {
	store  RateLimitStore
	clock  clock.Clock
	logger *slog.Logger
}

// NewRateLimiter creates a RateLimiter over store
func NewRateLimiter(store RateLimitStore, clk clock.Clock, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		store:  store,
		clock:  clk,
		logger: logger,
	}
}

// CheckRateLimit counts one attempt against key and reports whether it is admitted.
// A rule that cannot admit anything denies outright. Backend failures fail open so
// a Redis outage does not lock every user out.
func (l *RateLimiter) CheckRateLimit(ctx context.Context, key string, rule models.RateLimitRule) models.RateLimitResult {
	now := l.clock.Now()

	if !rule.Valid() {
		l.logger.Error("rate limit rule rejects every attempt",
			slog.String("key", key),
			slog.Int("max", rule.Max),
			slog.Duration("window", rule.Window))
		return models.LimitedResult(rule.Max, now.Add(rule.Window))
	}

	result, err := l.store.Attempt(ctx, key, rule, now)
	if err != nil {
		l.logger.Error("rate limit backend unavailable, allowing attempt",
			slog.String("key", key),
			slog.Any("error", err))
		return models.AllowedResult(rule.Max, rule.Max-1, now.Add(rule.Window))
	}

	if !result.Allowed {
		l.logger.Warn("rate limit exceeded",
			slog.String("key", key),
			slog.Time("reset_time", result.ResetTime))
	}

	return result
}

// ResetRateLimit forgets every attempt recorded for key
func (l *RateLimiter) ResetRateLimit(ctx context.Context, key string) {
	if err := l.store.Reset(ctx, key); err != nil {
		l.logger.Error("failed to reset rate limit",
			slog.String("key", key),
			slog.Any("error", err))
	}
}

// Sweep drops counters whose window has closed
func (l *RateLimiter) Sweep(ctx context.Context) (int, error) {
	return l.store.DeleteExpired(ctx, l.clock.Now())
}
