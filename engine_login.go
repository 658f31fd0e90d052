package onboard

import (
	"context"

	"github.com/wastehub/onboard/flow"
	"github.com/wastehub/onboard/idp"
	"github.com/wastehub/onboard/session"
	"go.uber.org/zap"
)

const (
	stepLoginRequestOTP = "login_request_otp"
	stepLoginResendOTP  = "login_resend_otp"
	stepLoginVerifyOTP  = "login_verify_otp"
	stepLoginVerifyPIN  = "login_verify_pin"
	stepLogout          = "logout"
)

// LoginRequestOTP starts a facility manager login.
func (e *Engine) LoginRequestOTP(ctx context.Context, s session.Session, in RequestOTPInput) (StepResult, error) {
	if err := e.require(ctx, stepLoginRequestOTP, s, flow.RouteLoginRequestOTP); err != nil {
		return StepResult{}, err
	}

	phone, ok := e.normalizePhone(in.Phone)
	if !ok {
		return StepResult{}, e.fail(ctx, s, flow.RouteLoginRequestOTP, auditEventOTPRequested,
			validationError(stepLoginRequestOTP, ErrInvalidPhone, map[string]string{"phone": "enter a valid phone number"}))
	}
	deviceID, ok := resolveDeviceID(in.DeviceID, s.DeviceID)
	if !ok {
		return StepResult{}, e.fail(ctx, s, flow.RouteLoginRequestOTP, auditEventOTPRequested,
			validationError(stepLoginRequestOTP, ErrInvalidDeviceID, map[string]string{"device_id": "invalid device id"}))
	}

	var receipt idp.OTPReceipt
	err := e.timed(func() error {
		var err error
		receipt, err = e.provider.RequestOTP(ctx, idp.OTPRequest{
			Role:     session.RoleFacilityManager,
			Phone:    phone,
			DeviceID: deviceID,
		})
		return err
	})
	if err != nil {
		return StepResult{}, e.fail(ctx, s, flow.RouteLoginRequestOTP, auditEventOTPRequested,
			e.mapProviderError(ctx, stepLoginRequestOTP, otpMessages, err))
	}

	now := e.now()
	next := fresh(s)
	next.DeviceID = deviceID
	next.Login = &session.LoginContext{
		Role:            session.RoleFacilityManager,
		Phase:           session.LoginOTPRequested,
		PendingPhone:    phone,
		PendingDeviceID: deviceID,
		SentAt:          e.sentAt(receipt),
		StartedAt:       now,
	}

	e.metricInc(MetricOTPRequested)
	e.emitAudit(ctx, auditEventOTPRequested, true, next, flow.RouteLoginRequestOTP, nil, func() map[string]string {
		return map[string]string{"contact": MaskPhone(phone), "flow": "login"}
	})
	return e.advance(next), nil
}

// LoginResendOTP requests a new login code. The login context keeps its
// start time, so resending does not extend the login window.
func (e *Engine) LoginResendOTP(ctx context.Context, s session.Session) (StepResult, error) {
	if err := e.require(ctx, stepLoginResendOTP, s, flow.RouteLoginResendOTP); err != nil {
		return StepResult{}, err
	}
	l := s.Login

	var receipt idp.OTPReceipt
	err := e.timed(func() error {
		var err error
		receipt, err = e.provider.RequestOTP(ctx, idp.OTPRequest{
			Role:     session.RoleFacilityManager,
			Phone:    l.PendingPhone,
			DeviceID: l.PendingDeviceID,
		})
		return err
	})
	if err != nil {
		return StepResult{}, e.fail(ctx, s, flow.RouteLoginResendOTP, auditEventOTPResent,
			e.mapProviderError(ctx, stepLoginResendOTP, otpMessages, err))
	}

	next := s.Clone()
	next.Login.SentAt = e.sentAt(receipt)

	e.metricInc(MetricOTPResent)
	e.emitAudit(ctx, auditEventOTPResent, true, next, flow.RouteLoginResendOTP, nil, nil)
	return e.advance(next), nil
}

// LoginVerifyOTP submits the login code. A registered account continues to
// the PIN prompt holding intermediate tokens. An account still in
// registration resumes its registration at the reported status.
func (e *Engine) LoginVerifyOTP(ctx context.Context, s session.Session, in VerifyOTPInput) (StepResult, error) {
	if err := e.require(ctx, stepLoginVerifyOTP, s, flow.RouteLoginVerifyOTP); err != nil {
		return StepResult{}, err
	}
	if !validOTP(in.OTP) {
		return StepResult{}, e.fail(ctx, s, flow.RouteLoginVerifyOTP, auditEventOTPFailure,
			validationError(stepLoginVerifyOTP, ErrInvalidOTP, map[string]string{"otp": "enter the 4 digit code"}))
	}
	l := s.Login

	var bundle idp.TokenBundle
	err := e.timed(func() error {
		var err error
		bundle, err = e.provider.VerifyOTP(ctx, idp.OTPVerification{
			Role:     session.RoleFacilityManager,
			Phone:    l.PendingPhone,
			DeviceID: l.PendingDeviceID,
			OTP:      in.OTP,
		})
		return err
	})
	if err != nil {
		e.metricInc(MetricOTPFailure)
		return StepResult{}, e.fail(ctx, s, flow.RouteLoginVerifyOTP, auditEventOTPFailure,
			e.mapProviderError(ctx, stepLoginVerifyOTP, verifyMessages, err))
	}

	var next session.Session
	switch bundle.Status {
	case session.StatusNone:
		return StepResult{}, e.fail(ctx, s, flow.RouteLoginVerifyOTP, auditEventOTPFailure,
			e.contractError(ctx, stepLoginVerifyOTP, "verification returned no registration status"))
	case session.StatusComplete:
		next = e.pinPrompt(s, l.PendingPhone, l.PendingDeviceID, bundle.Tokens)
		next.Login.StartedAt = l.StartedAt
	default:
		e.logger.Info("login resumed registration",
			zap.String("registration_status", bundle.Status.String()),
			zap.String("request_id", requestIDFromContext(ctx)),
		)
		next = elevated(s)
		next.Role = session.RoleFacilityManager
		next.Status = bundle.Status
		next.Tokens = bundle.Tokens
		next.Phone = l.PendingPhone
		next.DeviceID = l.PendingDeviceID
		next.NextStep = bundle.NextStep
	}

	e.metricInc(MetricLoginOTPVerified)
	e.emitAudit(ctx, auditEventLoginOTPVerified, true, next, flow.RouteLoginVerifyOTP, nil, func() map[string]string {
		return map[string]string{"registration_status": bundle.Status.String()}
	})
	return e.advance(next), nil
}

// LoginVerifyPIN checks the PIN with the intermediate tokens and, on
// success, turns the login context into a full session.
func (e *Engine) LoginVerifyPIN(ctx context.Context, s session.Session, in VerifyPINInput) (StepResult, error) {
	if err := e.require(ctx, stepLoginVerifyPIN, s, flow.RouteLoginVerifyPIN); err != nil {
		return StepResult{}, err
	}
	if !validPIN(in.PIN) {
		return StepResult{}, e.fail(ctx, s, flow.RouteLoginVerifyPIN, auditEventLoginFailure,
			validationError(stepLoginVerifyPIN, ErrInvalidPIN, map[string]string{"pin": "PIN must be 6 digits"}))
	}
	l := s.Login
	pending := *l.PendingTokens

	var bundle idp.TokenBundle
	err := e.timed(func() error {
		var err error
		bundle, err = e.provider.VerifyPIN(ctx, pending.AccessToken, in.PIN)
		return err
	})
	if err != nil {
		e.metricInc(MetricLoginPINFailure)
		return StepResult{}, e.fail(ctx, s, flow.RouteLoginVerifyPIN, auditEventLoginFailure,
			e.mapProviderError(ctx, stepLoginVerifyPIN, pinMessages, err))
	}

	next := elevated(s)
	next.Role = session.RoleFacilityManager
	next.Status = session.StatusComplete
	next.Tokens = rotated(pending, bundle.Tokens)
	next.Phone = l.PendingPhone
	next.DeviceID = l.PendingDeviceID
	next.NextStep = bundle.NextStep

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginCompleted, true, next, flow.RouteLoginVerifyPIN, nil, nil)
	return e.advance(next), nil
}

// Logout ends the provider session when there is one and asks the caller
// to destroy the stored session. Provider failures are logged and ignored.
func (e *Engine) Logout(ctx context.Context, s session.Session) (StepResult, error) {
	if !e.ready() {
		return StepResult{}, ErrEngineNotReady
	}

	token := s.Tokens.AccessToken
	if token == "" && s.Login != nil && s.Login.PendingTokens != nil {
		token = s.Login.PendingTokens.AccessToken
	}
	if token != "" {
		if err := e.timed(func() error { return e.provider.Logout(ctx, token) }); err != nil {
			e.logger.Warn("provider logout failed",
				zap.String("kind", idp.KindOf(err).String()),
				zap.String("request_id", requestIDFromContext(ctx)),
			)
		}
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, s, flow.RouteLogout, nil, nil)
	return StepResult{Destroy: true, Redirect: flow.RouteLoginRequestOTP}, nil
}

// pinPrompt builds a session waiting for the PIN of a registered account.
// The tokens stay in the login context until the PIN is verified.
func (e *Engine) pinPrompt(s session.Session, phone, deviceID string, tokens session.Tokens) session.Session {
	now := e.now()
	next := elevated(s)
	next.DeviceID = deviceID
	t := tokens
	next.Login = &session.LoginContext{
		Role:            session.RoleFacilityManager,
		Phase:           session.LoginOTPVerified,
		PendingPhone:    phone,
		PendingDeviceID: deviceID,
		SentAt:          now,
		StartedAt:       now,
		PendingTokens:   &t,
	}
	return next
}
