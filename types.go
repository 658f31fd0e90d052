package onboard

import (
	"github.com/wastehub/onboard/flow"
	"github.com/wastehub/onboard/idp"
	"github.com/wastehub/onboard/session"
)

// CompanyProfile is the facility manager's company data submitted on the
// complete-profile step.
type CompanyProfile = idp.CompanyProfile

// RequestOTPInput starts a facility manager registration or login.
type RequestOTPInput struct {
	Phone string
	// DeviceID is optional; one is generated when empty.
	DeviceID string
}

// AdminRequestOTPInput starts an administrator login.
type AdminRequestOTPInput struct {
	Email    string
	DeviceID string
}

// VerifyOTPInput carries the code typed by the user.
type VerifyOTPInput struct {
	OTP string
}

// CompleteProfileInput carries the company profile form.
type CompleteProfileInput struct {
	Profile CompanyProfile
}

// CreatePINInput carries a new PIN and its confirmation.
type CreatePINInput struct {
	PIN          string
	Confirmation string
}

// VerifyPINInput carries the PIN typed at login.
type VerifyPINInput struct {
	PIN string
}

// StepResult is the outcome of a successful step. The caller saves Session
// once and redirects to Redirect. When Destroy is set the caller destroys
// the stored session instead of saving it.
type StepResult struct {
	Session  session.Session
	Redirect flow.Route
	Destroy  bool
}
