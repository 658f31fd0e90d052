package onboard

import (
	"context"

	"github.com/wastehub/onboard/flow"
	"github.com/wastehub/onboard/idp"
	"github.com/wastehub/onboard/session"
)

const (
	stepAdminRequestOTP = "admin_request_otp"
	stepAdminVerifyOTP  = "admin_verify_otp"
)

// AdminRequestOTP starts an administrator login by email.
func (e *Engine) AdminRequestOTP(ctx context.Context, s session.Session, in AdminRequestOTPInput) (StepResult, error) {
	if err := e.require(ctx, stepAdminRequestOTP, s, flow.RouteAdminRequestOTP); err != nil {
		return StepResult{}, err
	}

	email, ok := normalizeEmail(in.Email)
	if !ok {
		return StepResult{}, e.fail(ctx, s, flow.RouteAdminRequestOTP, auditEventOTPRequested,
			validationError(stepAdminRequestOTP, ErrInvalidEmail, map[string]string{"email": "enter a valid email address"}))
	}
	deviceID, ok := resolveDeviceID(in.DeviceID, s.DeviceID)
	if !ok {
		return StepResult{}, e.fail(ctx, s, flow.RouteAdminRequestOTP, auditEventOTPRequested,
			validationError(stepAdminRequestOTP, ErrInvalidDeviceID, map[string]string{"device_id": "invalid device id"}))
	}

	var receipt idp.OTPReceipt
	err := e.timed(func() error {
		var err error
		receipt, err = e.provider.RequestOTP(ctx, idp.OTPRequest{
			Role:     session.RoleAdministrator,
			Email:    email,
			DeviceID: deviceID,
		})
		return err
	})
	if err != nil {
		return StepResult{}, e.fail(ctx, s, flow.RouteAdminRequestOTP, auditEventOTPRequested,
			e.mapProviderError(ctx, stepAdminRequestOTP, otpMessages, err))
	}

	next := fresh(s)
	next.DeviceID = deviceID
	next.Login = &session.LoginContext{
		Role:            session.RoleAdministrator,
		Phase:           session.LoginOTPRequested,
		PendingEmail:    email,
		PendingDeviceID: deviceID,
		SentAt:          e.sentAt(receipt),
		StartedAt:       e.now(),
	}

	e.metricInc(MetricOTPRequested)
	e.emitAudit(ctx, auditEventOTPRequested, true, next, flow.RouteAdminRequestOTP, nil, func() map[string]string {
		return map[string]string{"contact": MaskEmail(email), "flow": "admin_login"}
	})
	return e.advance(next), nil
}

// AdminVerifyOTP completes an administrator login in a single step.
func (e *Engine) AdminVerifyOTP(ctx context.Context, s session.Session, in VerifyOTPInput) (StepResult, error) {
	if err := e.require(ctx, stepAdminVerifyOTP, s, flow.RouteAdminVerifyOTP); err != nil {
		return StepResult{}, err
	}
	if !validOTP(in.OTP) {
		return StepResult{}, e.fail(ctx, s, flow.RouteAdminVerifyOTP, auditEventOTPFailure,
			validationError(stepAdminVerifyOTP, ErrInvalidOTP, map[string]string{"otp": "enter the 4 digit code"}))
	}
	l := s.Login

	var bundle idp.TokenBundle
	err := e.timed(func() error {
		var err error
		bundle, err = e.provider.VerifyOTP(ctx, idp.OTPVerification{
			Role:     session.RoleAdministrator,
			Email:    l.PendingEmail,
			DeviceID: l.PendingDeviceID,
			OTP:      in.OTP,
		})
		return err
	})
	if err != nil {
		e.metricInc(MetricOTPFailure)
		return StepResult{}, e.fail(ctx, s, flow.RouteAdminVerifyOTP, auditEventOTPFailure,
			e.mapProviderError(ctx, stepAdminVerifyOTP, verifyMessages, err))
	}

	next := elevated(s)
	next.Role = session.RoleAdministrator
	next.Status = session.StatusComplete
	next.Tokens = bundle.Tokens
	next.Email = l.PendingEmail
	next.DeviceID = l.PendingDeviceID
	next.NextStep = bundle.NextStep

	e.metricInc(MetricAdminLoginSuccess)
	e.emitAudit(ctx, auditEventAdminLoginComplete, true, next, flow.RouteAdminVerifyOTP, nil, nil)
	return e.advance(next), nil
}
