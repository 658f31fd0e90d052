package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wastehub/onboard/internal/rate"
)

// LockoutConfig holds the PIN failure lockout policy.
type LockoutConfig struct {
	Threshold int
	// Duration is both the failure counting window and how long a lock
	// lasts.
	Duration time.Duration
}

var (
	// ErrLockoutUnavailable indicates the lockout backend is unreachable.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// LockoutLimiter counts failed PIN checks per account and locks the
// account once the threshold is reached.
type LockoutLimiter struct {
	redis   redis.UniversalClient
	counter *rate.Limiter
	prefix  string
	config  LockoutConfig
}

func NewLockoutLimiter(redisClient redis.UniversalClient, counter *rate.Limiter, prefix string, cfg LockoutConfig) *LockoutLimiter {
	return &LockoutLimiter{redis: redisClient, counter: counter, prefix: prefix, config: cfg}
}

func failuresKey(accountID string) string {
	return "pinf:" + accountID
}

func (l *LockoutLimiter) lockKey(accountID string) string {
	return l.prefix + ":pinlock:" + accountID
}

// Locked reports whether accountID is currently locked.
func (l *LockoutLimiter) Locked(ctx context.Context, accountID string) (bool, error) {
	n, err := l.redis.Exists(ctx, l.lockKey(accountID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return n > 0, nil
}

// RecordFailure counts a failed PIN. It returns true when this failure
// locked the account.
func (l *LockoutLimiter) RecordFailure(ctx context.Context, accountID string) (bool, error) {
	err := l.counter.Hit(ctx, failuresKey(accountID), rate.Window{Max: l.config.Threshold - 1, Period: l.config.Duration})
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, rate.ErrRateLimited) {
		return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	if err := l.redis.Set(ctx, l.lockKey(accountID), 1, l.config.Duration).Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if err := l.counter.Reset(ctx, failuresKey(accountID)); err != nil {
		return true, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return true, nil
}

// Reset clears the failure counter after a successful PIN.
func (l *LockoutLimiter) Reset(ctx context.Context, accountID string) error {
	if err := l.counter.Reset(ctx, failuresKey(accountID)); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// FailureCount returns the failures counted in the current window.
func (l *LockoutLimiter) FailureCount(ctx context.Context, accountID string) (int, error) {
	n, err := l.counter.Count(ctx, failuresKey(accountID))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return n, nil
}
