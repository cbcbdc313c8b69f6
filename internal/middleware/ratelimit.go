package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/sma-attendance-api/pkg/errors"
	"github.com/noah-isme/sma-attendance-api/pkg/response"
)

type windowCounter interface {
	Enabled() bool
	Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RateLimiter caps requests per caller per minute. Redis keeps a shared fixed
// window across instances; without Redis, or when Redis errors, each instance
// falls back to its own token bucket.
type RateLimiter struct {
	name      string
	perMinute int
	counter   windowCounter
	local     *tokenBucket
	logger    *zap.Logger
}

// NewRateLimiter builds a limiter; counter may be nil.
func NewRateLimiter(name string, perMinute int, counter windowCounter, logger *zap.Logger) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		name:      name,
		perMinute: perMinute,
		counter:   counter,
		local:     newTokenBucket(perMinute, perMinute),
		logger:    logger,
	}
}

// Middleware keys the limit on the authenticated caller, or the client IP before authentication.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if caller, ok := CurrentCaller(c); ok {
			key = caller.UserID
		}
		if key == "" {
			key = "unknown"
		}
		allowed, retryAfter := l.allow(c.Request.Context(), l.name+":"+key)
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Round(time.Second)/time.Second)))
			response.Error(c, appErrors.ErrRateLimited)
			c.Abort()
			return
		}
		c.Next()
	}
}

func (l *RateLimiter) allow(ctx context.Context, key string) (bool, time.Duration) {
	if l.counter != nil && l.counter.Enabled() {
		count, remaining, err := l.counter.Hit(ctx, key, time.Minute)
		if err == nil {
			return count <= int64(l.perMinute), remaining
		}
		l.logger.Warn("redis rate limiter unavailable, using local bucket", zap.String("limiter", l.name), zap.Error(err))
	}
	if l.local.allow(key, time.Now()) {
		return true, 0
	}
	return false, time.Minute / time.Duration(l.perMinute)
}

// tokenBucket is the per-instance fallback limiter. Buckets untouched for a
// full refill period are dropped: they would be full again anyway.
type tokenBucket struct {
	capacity  int
	rate      int
	mu        sync.Mutex
	state     map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	tokens int
	last   time.Time
}

func newTokenBucket(capacity, perMinute int) *tokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	return &tokenBucket{capacity: capacity, rate: perMinute, state: make(map[string]*bucket)}
}

// refillPeriod is how long an idle bucket takes to fill back to capacity.
func (l *tokenBucket) refillPeriod() time.Duration {
	period := time.Duration(float64(time.Minute) * float64(l.capacity) / float64(l.rate))
	if period < time.Minute {
		return time.Minute
	}
	return period
}

func (l *tokenBucket) sweep(now time.Time) {
	period := l.refillPeriod()
	if now.Sub(l.lastSweep) < period {
		return
	}
	l.lastSweep = now
	for key, b := range l.state {
		if now.Sub(b.last) >= period {
			delete(l.state, key)
		}
	}
}

func (l *tokenBucket) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(now)
	b, ok := l.state[key]
	if !ok {
		l.state[key] = &bucket{tokens: l.capacity - 1, last: now}
		return true
	}
	refill := int(now.Sub(b.last).Minutes() * float64(l.rate))
	if refill > 0 {
		b.tokens += refill
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}
