package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sembalun/guard/internal/models"
)

const redisRateLimitPrefix = "sembalun:rl:"

// Same fixed-window transition as models.ApplyAttempt, evaluated atomically by Redis.
var redisFixedWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local max = tonumber(ARGV[2])
local window = tonumber(ARGV[3])

local count = tonumber(redis.call('HGET', key, 'count'))
local reset = tonumber(redis.call('HGET', key, 'reset'))

if count == nil or reset == nil or now >= reset then
  reset = now + window
  redis.call('HSET', key, 'count', 1, 'reset', reset)
  redis.call('PEXPIRE', key, window)
  return {1, max - 1, reset}
end

if count >= max then
  return {0, 0, reset}
end

count = redis.call('HINCRBY', key, 'count', 1)
return {1, max - count, reset}
`)

// RedisConfig holds connection settings for the shared rate limit backend
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

// RedisRateLimitRepository shares fixed-window counters between API replicas.
// Keys carry a PEXPIRE equal to the window, so expired counters vanish on their own.
type RedisRateLimitRepository struct {
	client redis.UniversalClient
}

// NewRedisRateLimitRepository connects to Redis and verifies the connection
func NewRedisRateLimitRepository(ctx context.Context, cfg RedisConfig) (*RedisRateLimitRepository, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisRateLimitRepository{client: client}, nil
}

// NewRedisRateLimitRepositoryFromClient wraps an existing client
func NewRedisRateLimitRepositoryFromClient(client redis.UniversalClient) *RedisRateLimitRepository {
	return &RedisRateLimitRepository{client: client}
}

// Attempt records one attempt for key and returns the decision
func (r *RedisRateLimitRepository) Attempt(ctx context.Context, key string, rule models.RateLimitRule, now time.Time) (models.RateLimitResult, error) {
	windowMS := rule.Window.Milliseconds()
	if windowMS <= 0 {
		return models.RateLimitResult{}, fmt.Errorf("window must be at least 1ms, got %s", rule.Window)
	}

	res, err := redisFixedWindowScript.Run(ctx, r.client,
		[]string{redisRateLimitPrefix + key},
		now.UnixMilli(), rule.Max, windowMS,
	).Result()
	if err != nil {
		return models.RateLimitResult{}, fmt.Errorf("running rate limit script: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 3 {
		return models.RateLimitResult{}, fmt.Errorf("unexpected rate limit script result: %T", res)
	}

	allowed, ok1 := values[0].(int64)
	remaining, ok2 := values[1].(int64)
	resetMS, ok3 := values[2].(int64)
	if !ok1 || !ok2 || !ok3 {
		return models.RateLimitResult{}, fmt.Errorf("unexpected rate limit script values: %v", values)
	}

	resetTime := time.UnixMilli(resetMS)
	if allowed == 1 {
		return models.AllowedResult(rule.Max, int(remaining), resetTime), nil
	}
	return models.LimitedResult(rule.Max, resetTime), nil
}

// Reset removes the counter for key
func (r *RedisRateLimitRepository) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, redisRateLimitPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit: %w", err)
	}
	return nil
}

// DeleteExpired is a no-op: Redis expires counters itself
func (r *RedisRateLimitRepository) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

// HealthCheck checks that Redis is reachable
func (r *RedisRateLimitRepository) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the Redis connection pool
func (r *RedisRateLimitRepository) Close() error {
	return r.client.Close()
}
