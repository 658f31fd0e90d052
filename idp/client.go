package idp

import (
	"context"
	"time"

	"github.com/wastehub/onboard/session"
)

// Client is the set of identity provider operations the onboarding engine
// needs.
type Client interface {
	RequestOTP(ctx context.Context, req OTPRequest) (OTPReceipt, error)
	VerifyOTP(ctx context.Context, req OTPVerification) (TokenBundle, error)
	CreateCompanyProfile(ctx context.Context, accessToken string, profile CompanyProfile) (TokenBundle, error)
	RegistrationStatus(ctx context.Context, accessToken string) (StatusReport, error)
	CreatePIN(ctx context.Context, accessToken, pin string) (TokenBundle, error)
	VerifyPIN(ctx context.Context, accessToken, pin string) (TokenBundle, error)
	Refresh(ctx context.Context, refreshToken string) (TokenBundle, error)
	Logout(ctx context.Context, accessToken string) error
}

// OTPRequest asks the provider to send a code. Facility managers use Phone,
// administrators use Email.
type OTPRequest struct {
	Role     session.Role
	Phone    string
	Email    string
	DeviceID string
}

// OTPReceipt confirms that a code was sent.
type OTPReceipt struct {
	SentAt time.Time
}

// OTPVerification submits a code for the challenge identified by contact
// and device.
type OTPVerification struct {
	Role     session.Role
	Phone    string
	Email    string
	DeviceID string
	OTP      string
}

// TokenBundle is returned by every call that issues or rotates tokens.
// Status is StatusNone when the provider sent no registration status.
type TokenBundle struct {
	Tokens   session.Tokens
	Status   session.RegistrationStatus
	NextStep string
}

// StatusReport is the answer to a registration status poll.
type StatusReport struct {
	Status   session.RegistrationStatus
	NextStep string
}

// CompanyProfile is the facility manager's company data.
type CompanyProfile struct {
	CompanyName  string `json:"company_name"`
	CompanyType  string `json:"company_type"`
	Address      string `json:"address"`
	Province     string `json:"province"`
	City         string `json:"city"`
	PostalCode   string `json:"postal_code"`
	CompanyPhone string `json:"company_phone"`
	CompanyEmail string `json:"company_email"`
	Website      string `json:"website"`
	FoundedDate  string `json:"founded_date"`
	TaxID        string `json:"tax_id"`
	Description  string `json:"description"`
	LogoURL      string `json:"logo_url,omitempty"`
}
