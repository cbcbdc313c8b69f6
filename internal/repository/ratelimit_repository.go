package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRateLimiterDisabled is returned when no Redis client is configured.
var ErrRateLimiterDisabled = errors.New("redis rate limiter disabled")

// RateLimitRepository keeps fixed-window request counters in Redis.
type RateLimitRepository struct {
	client *redis.Client
	prefix string
}

// NewRateLimitRepository constructs the repository. A nil client disables it.
func NewRateLimitRepository(client *redis.Client, prefix string) *RateLimitRepository {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RateLimitRepository{client: client, prefix: prefix}
}

// Enabled reports whether a Redis client backs the repository.
func (r *RateLimitRepository) Enabled() bool {
	return r != nil && r.client != nil
}

// Hit increments the counter of key for the current window and returns the
// new count along with the time left in the window.
func (r *RateLimitRepository) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if !r.Enabled() {
		return 0, 0, ErrRateLimiterDisabled
	}
	bucket := time.Now().UTC().Truncate(window).Unix()
	redisKey := fmt.Sprintf("%s:%s:%d", r.prefix, key, bucket)

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.ExpireNX(ctx, redisKey, window)
		ttl = pipe.TTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("redis rate limit %s: %w", key, err)
	}
	remaining := ttl.Val()
	if remaining < 0 {
		remaining = window
	}
	return incr.Val(), remaining, nil
}
