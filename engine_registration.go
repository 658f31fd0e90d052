package onboard

import (
	"context"
	"time"

	"github.com/wastehub/onboard/flow"
	"github.com/wastehub/onboard/idp"
	"github.com/wastehub/onboard/session"
	"go.uber.org/zap"
)

const (
	stepRequestOTP      = "request_otp"
	stepResendOTP       = "resend_otp"
	stepVerifyOTP       = "verify_otp"
	stepCompleteProfile = "complete_profile"
	stepRefreshApproval = "refresh_approval"
	stepCreatePIN       = "create_pin"
)

// RequestOTP starts a facility manager registration: it validates the
// phone number, asks the provider to send a code and records the pending
// challenge.
func (e *Engine) RequestOTP(ctx context.Context, s session.Session, in RequestOTPInput) (StepResult, error) {
	if err := e.require(ctx, stepRequestOTP, s, flow.RouteRequestOTP); err != nil {
		return StepResult{}, err
	}

	phone, ok := e.normalizePhone(in.Phone)
	if !ok {
		return StepResult{}, e.fail(ctx, s, flow.RouteRequestOTP, auditEventOTPRequested,
			validationError(stepRequestOTP, ErrInvalidPhone, map[string]string{"phone": "enter a valid phone number"}))
	}
	deviceID, ok := resolveDeviceID(in.DeviceID, s.DeviceID)
	if !ok {
		return StepResult{}, e.fail(ctx, s, flow.RouteRequestOTP, auditEventOTPRequested,
			validationError(stepRequestOTP, ErrInvalidDeviceID, map[string]string{"device_id": "invalid device id"}))
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
		return StepResult{}, e.fail(ctx, s, flow.RouteRequestOTP, auditEventOTPRequested,
			e.mapProviderError(ctx, stepRequestOTP, otpMessages, err))
	}

	next := fresh(s)
	next.DeviceID = deviceID
	next.Pending = &session.Challenge{
		Phone:    phone,
		DeviceID: deviceID,
		SentAt:   e.sentAt(receipt),
	}

	e.metricInc(MetricOTPRequested)
	e.emitAudit(ctx, auditEventOTPRequested, true, next, flow.RouteRequestOTP, nil, func() map[string]string {
		return map[string]string{"contact": MaskPhone(phone), "flow": "registration"}
	})
	return e.advance(next), nil
}

// ResendOTP asks the provider for a new code for the pending challenge.
// The position does not change.
func (e *Engine) ResendOTP(ctx context.Context, s session.Session) (StepResult, error) {
	if err := e.require(ctx, stepResendOTP, s, flow.RouteResendOTP); err != nil {
		return StepResult{}, err
	}
	p := s.Pending

	var receipt idp.OTPReceipt
	err := e.timed(func() error {
		var err error
		receipt, err = e.provider.RequestOTP(ctx, idp.OTPRequest{
			Role:     session.RoleFacilityManager,
			Phone:    p.Phone,
			DeviceID: p.DeviceID,
		})
		return err
	})
	if err != nil {
		return StepResult{}, e.fail(ctx, s, flow.RouteResendOTP, auditEventOTPResent,
			e.mapProviderError(ctx, stepResendOTP, otpMessages, err))
	}

	next := s.Clone()
	next.Pending.SentAt = e.sentAt(receipt)

	e.metricInc(MetricOTPResent)
	e.emitAudit(ctx, auditEventOTPResent, true, next, flow.RouteResendOTP, nil, nil)
	return e.advance(next), nil
}

// VerifyOTP submits the registration code. On success the session holds
// the provider tokens and the registration status the provider reported.
// An account that already finished registration continues at the PIN
// prompt instead of being signed in by the code alone.
func (e *Engine) VerifyOTP(ctx context.Context, s session.Session, in VerifyOTPInput) (StepResult, error) {
	if err := e.require(ctx, stepVerifyOTP, s, flow.RouteVerifyOTP); err != nil {
		return StepResult{}, err
	}
	if !validOTP(in.OTP) {
		return StepResult{}, e.fail(ctx, s, flow.RouteVerifyOTP, auditEventOTPFailure,
			validationError(stepVerifyOTP, ErrInvalidOTP, map[string]string{"otp": "enter the 4 digit code"}))
	}
	p := s.Pending

	var bundle idp.TokenBundle
	err := e.timed(func() error {
		var err error
		bundle, err = e.provider.VerifyOTP(ctx, idp.OTPVerification{
			Role:     session.RoleFacilityManager,
			Phone:    p.Phone,
			DeviceID: p.DeviceID,
			OTP:      in.OTP,
		})
		return err
	})
	if err != nil {
		e.metricInc(MetricOTPFailure)
		return StepResult{}, e.fail(ctx, s, flow.RouteVerifyOTP, auditEventOTPFailure,
			e.mapProviderError(ctx, stepVerifyOTP, verifyMessages, err))
	}
	if bundle.Status == session.StatusNone {
		return StepResult{}, e.fail(ctx, s, flow.RouteVerifyOTP, auditEventOTPFailure,
			e.contractError(ctx, stepVerifyOTP, "verification returned no registration status"))
	}

	var next session.Session
	if bundle.Status == session.StatusComplete {
		next = e.pinPrompt(s, p.Phone, p.DeviceID, bundle.Tokens)
	} else {
		next = elevated(s)
		next.Role = session.RoleFacilityManager
		next.Status = bundle.Status
		next.Tokens = bundle.Tokens
		next.Phone = p.Phone
		next.DeviceID = p.DeviceID
		next.NextStep = bundle.NextStep
	}

	e.metricInc(MetricOTPVerified)
	e.emitAudit(ctx, auditEventOTPVerified, true, next, flow.RouteVerifyOTP, nil, func() map[string]string {
		return map[string]string{"registration_status": bundle.Status.String()}
	})
	return e.advance(next), nil
}

// CompleteProfile validates and submits the company profile.
func (e *Engine) CompleteProfile(ctx context.Context, s session.Session, in CompleteProfileInput) (StepResult, error) {
	if err := e.require(ctx, stepCompleteProfile, s, flow.RouteCompleteProfile); err != nil {
		return StepResult{}, err
	}

	profile := in.Profile
	if fields := e.validateProfile(&profile, e.now()); len(fields) > 0 {
		return StepResult{}, e.fail(ctx, s, flow.RouteCompleteProfile, auditEventProfileSubmitted,
			validationError(stepCompleteProfile, ErrInvalidProfile, fields))
	}

	var bundle idp.TokenBundle
	used, err := e.withTokens(ctx, stepCompleteProfile, s, func(accessToken string) error {
		var err error
		bundle, err = e.provider.CreateCompanyProfile(ctx, accessToken, profile)
		return err
	})
	if err != nil {
		return StepResult{}, e.fail(ctx, s, flow.RouteCompleteProfile, auditEventProfileSubmitted,
			keepRotated(e.mapProviderError(ctx, stepCompleteProfile, profileMessages, err), s, used))
	}
	held := rotated(used, bundle.Tokens)
	if !reports(bundle.Status, session.StatusAwaitingApproval) {
		return StepResult{}, e.fail(ctx, s, flow.RouteCompleteProfile, auditEventProfileSubmitted,
			keepRotated(e.contractError(ctx, stepCompleteProfile, "profile submission reported status "+bundle.Status.String()), s, held))
	}

	next := s.WithTokens(held)
	next.Status = session.StatusAwaitingApproval
	next.NextStep = bundle.NextStep

	e.metricInc(MetricProfileSubmitted)
	e.emitAudit(ctx, auditEventProfileSubmitted, true, next, flow.RouteCompleteProfile, nil, nil)
	return e.advance(next), nil
}

// RefreshApproval polls the provider for the registration status while the
// profile waits for an administrator. The only move it accepts is to
// approved; any other reported status is a provider contract error.
func (e *Engine) RefreshApproval(ctx context.Context, s session.Session) (StepResult, error) {
	if err := e.require(ctx, stepRefreshApproval, s, flow.RouteAwaitApproval); err != nil {
		return StepResult{}, err
	}

	var report idp.StatusReport
	tokens, err := e.withTokens(ctx, stepRefreshApproval, s, func(accessToken string) error {
		var err error
		report, err = e.provider.RegistrationStatus(ctx, accessToken)
		return err
	})
	if err != nil {
		return StepResult{}, e.fail(ctx, s, flow.RouteAwaitApproval, auditEventApprovalObserved,
			keepRotated(e.mapProviderError(ctx, stepRefreshApproval, statusMessages, err), s, tokens))
	}

	next := s.WithTokens(tokens)
	switch report.Status {
	case session.StatusAwaitingApproval:
	case session.StatusApproved:
		e.logger.Info("registration approved",
			zap.String("request_id", requestIDFromContext(ctx)),
		)
		next.Status = session.StatusApproved
		if report.NextStep != "" {
			next.NextStep = report.NextStep
		}
		e.metricInc(MetricApprovalObserved)
		e.emitAudit(ctx, auditEventApprovalObserved, true, next, flow.RouteAwaitApproval, nil, func() map[string]string {
			return map[string]string{"registration_status": report.Status.String()}
		})
	default:
		return StepResult{}, e.fail(ctx, s, flow.RouteAwaitApproval, auditEventApprovalObserved,
			keepRotated(e.contractError(ctx, stepRefreshApproval, "awaiting approval but provider reported status "+report.Status.String()), s, tokens))
	}
	return e.advance(next), nil
}

// CreatePIN validates the new PIN locally and sets it at the provider,
// which completes the registration.
func (e *Engine) CreatePIN(ctx context.Context, s session.Session, in CreatePINInput) (StepResult, error) {
	if err := e.require(ctx, stepCreatePIN, s, flow.RouteCreatePIN); err != nil {
		return StepResult{}, err
	}
	if !validPIN(in.PIN) {
		return StepResult{}, e.fail(ctx, s, flow.RouteCreatePIN, auditEventPINCreated,
			validationError(stepCreatePIN, ErrInvalidPIN, map[string]string{"pin": "PIN must be 6 digits"}))
	}
	if in.PIN != in.Confirmation {
		return StepResult{}, e.fail(ctx, s, flow.RouteCreatePIN, auditEventPINCreated,
			validationError(stepCreatePIN, ErrPINMismatch, map[string]string{"confirmation": "PINs do not match"}))
	}

	var bundle idp.TokenBundle
	used, err := e.withTokens(ctx, stepCreatePIN, s, func(accessToken string) error {
		var err error
		bundle, err = e.provider.CreatePIN(ctx, accessToken, in.PIN)
		return err
	})
	if err != nil {
		return StepResult{}, e.fail(ctx, s, flow.RouteCreatePIN, auditEventPINCreated,
			keepRotated(e.mapProviderError(ctx, stepCreatePIN, pinMessages, err), s, used))
	}
	held := rotated(used, bundle.Tokens)
	if !reports(bundle.Status, session.StatusComplete) {
		return StepResult{}, e.fail(ctx, s, flow.RouteCreatePIN, auditEventPINCreated,
			keepRotated(e.contractError(ctx, stepCreatePIN, "pin creation reported status "+bundle.Status.String()), s, held))
	}

	next := s.WithTokens(held)
	next.Status = session.StatusComplete
	next.NextStep = bundle.NextStep

	e.metricInc(MetricPINCreated)
	e.emitAudit(ctx, auditEventPINCreated, true, next, flow.RouteCreatePIN, nil, nil)
	return e.advance(next), nil
}

func (e *Engine) sentAt(r idp.OTPReceipt) time.Time {
	if r.SentAt.IsZero() {
		return e.now()
	}
	return r.SentAt
}

// reports tells whether a provider status is absent or equal to want. A
// step's resulting status comes from the state machine, never from the
// provider.
func reports(got, want session.RegistrationStatus) bool {
	return got == session.StatusNone || got == want
}

// rotated prefers tokens returned by the provider over the ones the call
// used.
func rotated(used, got session.Tokens) session.Tokens {
	if got.AccessToken == "" {
		return used
	}
	return got
}
