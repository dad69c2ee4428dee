package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter bounds the number of attempts an identity may make within a window.
type Limiter interface {
	Check(ctx context.Context, identity, action string) (Decision, error)
}

// RedisLimiter implements a fixed-window counter on Redis INCR/EXPIRE.
type RedisLimiter struct {
	client      *redis.Client
	window      time.Duration
	maxAttempts int
	logger      *zap.Logger
}

// NewRedisLimiter constructs a limiter. A nil client yields a limiter that always allows.
func NewRedisLimiter(client *redis.Client, window time.Duration, maxAttempts int, logger *zap.Logger) *RedisLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLimiter{client: client, window: window, maxAttempts: maxAttempts, logger: logger}
}

// Check counts an attempt for the identity and reports whether it is within bounds.
// Redis unavailability fails open: submissions keep working without the limiter.
func (l *RedisLimiter) Check(ctx context.Context, identity, action string) (Decision, error) {
	if l.client == nil {
		return Decision{Allowed: true}, nil
	}

	key := fmt.Sprintf("ratelimit:%s:%s", action, identity)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn("rate limiter unavailable", zap.String("action", action), zap.Error(err))
		return Decision{Allowed: true}, nil
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			l.logger.Warn("rate limiter expire failed", zap.String("action", action), zap.Error(err))
		}
	}

	if count <= int64(l.maxAttempts) {
		return Decision{Allowed: true}, nil
	}

	ttl, err := l.client.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = l.window
	}
	return Decision{Allowed: false, RetryAfter: ttl}, nil
}
