package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window is one fixed-window budget: at most Max hits per Period.
type Window struct {
	Max    int
	Period time.Duration
}

// Limiter counts hits per key in fixed windows using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
}

// New creates a [Limiter] whose keys all start with prefix.
func New(redisClient redis.UniversalClient, prefix string) *Limiter {
	return &Limiter{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (l *Limiter) key(name string) string {
	if l.prefix == "" {
		return name
	}
	return l.prefix + ":" + name
}

// Hit records one hit against name and returns ErrRateLimited once the
// window's budget is exceeded.
func (l *Limiter) Hit(ctx context.Context, name string, w Window) error {
	count, err := l.incrementWithTTL(ctx, l.key(name), w.Period)
	if err != nil {
		return err
	}
	if count > int64(w.Max) {
		return ErrRateLimited
	}
	return nil
}

// Count returns the hits recorded for name in the current window.
func (l *Limiter) Count(ctx context.Context, name string) (int, error) {
	count, err := l.redis.Get(ctx, l.key(name)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// Reset clears the counters for names.
func (l *Limiter) Reset(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = l.key(n)
	}
	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
