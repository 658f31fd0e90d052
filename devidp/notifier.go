package devidp

import (
	"context"
	"time"

	"github.com/wastehub/onboard/session"
	"go.uber.org/zap"
)

// Delivery is one code to hand to its recipient.
type Delivery struct {
	Role      session.Role
	Contact   string
	DeviceID  string
	Code      string
	ExpiresAt time.Time
}

// Notifier delivers codes out of band.
type Notifier interface {
	Deliver(ctx context.Context, d Delivery) error
}

// NotifierFunc adapts a function to [Notifier].
type NotifierFunc func(ctx context.Context, d Delivery) error

func (f NotifierFunc) Deliver(ctx context.Context, d Delivery) error {
	return f(ctx, d)
}

// LogNotifier writes codes to the log. It exists for local development
// only and must never front real accounts.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Deliver(_ context.Context, d Delivery) error {
	n.Logger.Info("otp issued",
		zap.String("role", d.Role.String()),
		zap.String("contact", d.Contact),
		zap.String("code", d.Code),
		zap.Time("expires_at", d.ExpiresAt),
	)
	return nil
}
