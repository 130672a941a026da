package telephony

import (
	"context"
	"time"

	"voice-secretary/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Limiter caps the number of outbound calls a user has in flight.
type Limiter interface {
	Acquire(ctx context.Context, userID string) (bool, error)
	Release(ctx context.Context, userID string) error
}

// RedisLimiter keeps one counter per user in Redis so the cap holds across instances.
type RedisLimiter struct {
	rdb   redis.Scripter
	limit int
	ttl   time.Duration
}

// NewRedisLimiter returns nil when limit is not positive (no cap).
func NewRedisLimiter(rdb redis.Scripter, limit int, ttl time.Duration) *RedisLimiter {
	if rdb == nil || limit <= 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisLimiter{rdb: rdb, limit: limit, ttl: ttl}
}

func limiterKey(userID string) string { return "voice:calls:active:" + userID }

func (l *RedisLimiter) Acquire(ctx context.Context, userID string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.rdb, limiterKey(userID), l.limit, l.ttl)
}

func (l *RedisLimiter) Release(ctx context.Context, userID string) error {
	return utils.ReleaseConcurrencyCap(ctx, l.rdb, limiterKey(userID))
}
