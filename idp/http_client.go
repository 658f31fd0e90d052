package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wastehub/onboard/session"
)

const (
	maxResponseBytes = 1 << 20

	// DefaultTimeout bounds a single provider call.
	DefaultTimeout = 10 * time.Second
)

const (
	pathOTPRequest         = "/v1/otp/request"
	pathOTPVerify          = "/v1/otp/verify"
	pathCompanyProfile     = "/v1/company-profile"
	pathRegistrationStatus = "/v1/registration-status"
	pathPIN                = "/v1/pin"
	pathPINVerify          = "/v1/pin/verify"
	pathTokenRefresh       = "/v1/token/refresh"
	pathLogout             = "/v1/logout"
)

// HTTPClient implements [Client] over JSON/HTTPS.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient validates baseURL and returns a client. A nil httpClient
// gets one with [DefaultTimeout].
func NewHTTPClient(baseURL string, httpClient *http.Client) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid provider base url %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(u.String(), "/"),
		httpClient: httpClient,
	}, nil
}

type otpRequestBody struct {
	Role     string `json:"role"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	DeviceID string `json:"device_id"`
}

type otpReceiptBody struct {
	OTPSentAt time.Time `json:"otp_sent_at"`
}

type otpVerifyBody struct {
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	OTP      string `json:"otp"`
	DeviceID string `json:"device_id"`
	Role     string `json:"role"`
}

type tokenBundleBody struct {
	AccessToken        string `json:"access_token"`
	RefreshToken       string `json:"refresh_token"`
	SessionID          string `json:"session_id"`
	TokenType          string `json:"token_type"`
	RegistrationStatus string `json:"registration_status"`
	NextStep           string `json:"next_step"`
}

type statusBody struct {
	RegistrationStatus string `json:"registration_status"`
	NextStep           string `json:"next_step"`
}

type pinBody struct {
	PIN string `json:"pin"`
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

type errorBody struct {
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors"`
}

// RequestOTP sends a new code, replacing any active challenge for the same
// contact and device.
func (c *HTTPClient) RequestOTP(ctx context.Context, req OTPRequest) (OTPReceipt, error) {
	var out otpReceiptBody
	body := otpRequestBody{Role: req.Role.String(), Phone: req.Phone, Email: req.Email, DeviceID: req.DeviceID}
	if err := c.do(ctx, "request_otp", http.MethodPost, pathOTPRequest, "", body, &out); err != nil {
		return OTPReceipt{}, err
	}
	return OTPReceipt{SentAt: out.OTPSentAt}, nil
}

// VerifyOTP submits a code and returns the issued tokens.
func (c *HTTPClient) VerifyOTP(ctx context.Context, req OTPVerification) (TokenBundle, error) {
	body := otpVerifyBody{Phone: req.Phone, Email: req.Email, OTP: req.OTP, DeviceID: req.DeviceID, Role: req.Role.String()}
	return c.tokenCall(ctx, "verify_otp", http.MethodPost, pathOTPVerify, "", body)
}

// CreateCompanyProfile submits the company profile for approval.
func (c *HTTPClient) CreateCompanyProfile(ctx context.Context, accessToken string, profile CompanyProfile) (TokenBundle, error) {
	return c.tokenCall(ctx, "create_company_profile", http.MethodPost, pathCompanyProfile, accessToken, profile)
}

// RegistrationStatus polls the account's registration status.
func (c *HTTPClient) RegistrationStatus(ctx context.Context, accessToken string) (StatusReport, error) {
	const op = "registration_status"
	var out statusBody
	if err := c.do(ctx, op, http.MethodGet, pathRegistrationStatus, accessToken, nil, &out); err != nil {
		return StatusReport{}, err
	}
	status, ok := session.ParseRegistrationStatus(out.RegistrationStatus)
	if !ok {
		return StatusReport{}, &Error{Op: op, Kind: KindUnknown, Message: "unknown registration status " + out.RegistrationStatus}
	}
	return StatusReport{Status: status, NextStep: out.NextStep}, nil
}

// CreatePIN sets the account PIN.
func (c *HTTPClient) CreatePIN(ctx context.Context, accessToken, pin string) (TokenBundle, error) {
	return c.tokenCall(ctx, "create_pin", http.MethodPost, pathPIN, accessToken, pinBody{PIN: pin})
}

// VerifyPIN checks the PIN as the second login factor.
func (c *HTTPClient) VerifyPIN(ctx context.Context, accessToken, pin string) (TokenBundle, error) {
	return c.tokenCall(ctx, "verify_pin", http.MethodPost, pathPINVerify, accessToken, pinBody{PIN: pin})
}

// Refresh rotates the token pair.
func (c *HTTPClient) Refresh(ctx context.Context, refreshToken string) (TokenBundle, error) {
	return c.tokenCall(ctx, "refresh", http.MethodPost, pathTokenRefresh, "", refreshBody{RefreshToken: refreshToken})
}

// Logout revokes the provider session.
func (c *HTTPClient) Logout(ctx context.Context, accessToken string) error {
	return c.do(ctx, "logout", http.MethodPost, pathLogout, accessToken, nil, nil)
}

func (c *HTTPClient) tokenCall(ctx context.Context, op, method, path, bearer string, body any) (TokenBundle, error) {
	var out tokenBundleBody
	if err := c.do(ctx, op, method, path, bearer, body, &out); err != nil {
		return TokenBundle{}, err
	}
	if out.AccessToken == "" {
		return TokenBundle{}, &Error{Op: op, Kind: KindUnknown, Message: "response without access token"}
	}

	status := session.StatusNone
	if out.RegistrationStatus != "" {
		var ok bool
		status, ok = session.ParseRegistrationStatus(out.RegistrationStatus)
		if !ok {
			return TokenBundle{}, &Error{Op: op, Kind: KindUnknown, Message: "unknown registration status " + out.RegistrationStatus}
		}
	}

	tokenType := out.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return TokenBundle{
		Tokens: session.Tokens{
			AccessToken:  out.AccessToken,
			RefreshToken: out.RefreshToken,
			TokenType:    tokenType,
			SessionID:    out.SessionID,
		},
		Status:   status,
		NextStep: out.NextStep,
	}, nil
}

func (c *HTTPClient) do(ctx context.Context, op, method, path, bearer string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &Error{Op: op, Kind: KindUnknown, Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &Error{Op: op, Kind: KindTransport, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Op: op, Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &Error{Op: op, Kind: KindTransport, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		return &Error{
			Op:      op,
			Kind:    kindForStatus(resp.StatusCode, len(eb.Errors) > 0),
			Status:  resp.StatusCode,
			Message: eb.Message,
			Fields:  eb.Errors,
		}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Op: op, Kind: KindUnknown, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
