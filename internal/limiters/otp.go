package limiters

import (
	"context"
	"errors"
	"fmt"

	"github.com/wastehub/onboard/internal/rate"
)

var (
	ErrOTPRateLimited      = errors.New("otp requests rate limited")
	ErrOTPRedisUnavailable = errors.New("otp limiter redis unavailable")
)

type OTPConfig struct {
	EnableIPThrottle bool
	PerContact       rate.Window
	PerIP            rate.Window
}

// OTPRequestLimiter throttles how often codes are sent to one contact and
// from one client IP.
type OTPRequestLimiter struct {
	limiter *rate.Limiter
	config  OTPConfig
}

func NewOTPRequestLimiter(l *rate.Limiter, cfg OTPConfig) *OTPRequestLimiter {
	return &OTPRequestLimiter{limiter: l, config: cfg}
}

// Enforce records a send to contact from ip.
func (l *OTPRequestLimiter) Enforce(ctx context.Context, role, contact, ip string) error {
	if l == nil {
		return nil
	}
	if err := l.hit(ctx, "otpr:"+role+":"+contact, l.config.PerContact); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.hit(ctx, "otpri:"+ip, l.config.PerIP); err != nil {
			return err
		}
	}
	return nil
}

func (l *OTPRequestLimiter) hit(ctx context.Context, key string, w rate.Window) error {
	if w.Max <= 0 {
		return nil
	}
	err := l.limiter.Hit(ctx, key, w)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		return ErrOTPRateLimited
	default:
		return fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}
}
