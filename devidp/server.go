package devidp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/wastehub/onboard/idp"
	"github.com/wastehub/onboard/middleware"
	"github.com/wastehub/onboard/session"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

type otpRequestBody struct {
	Role     string `json:"role"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
	DeviceID string `json:"device_id"`
}

type otpVerifyBody struct {
	otpRequestBody
	OTP string `json:"otp"`
}

type pinBody struct {
	PIN string `json:"pin"`
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenBundleBody struct {
	AccessToken        string `json:"access_token"`
	RefreshToken       string `json:"refresh_token"`
	SessionID          string `json:"session_id"`
	TokenType          string `json:"token_type"`
	RegistrationStatus string `json:"registration_status,omitempty"`
	NextStep           string `json:"next_step,omitempty"`
}

type statusBody struct {
	RegistrationStatus string `json:"registration_status"`
	NextStep           string `json:"next_step"`
}

type errorBody struct {
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

type handler struct {
	provider *Provider
	logger   *zap.Logger
}

// NewHandler serves the provider's JSON API, wrapped in the access logger.
func NewHandler(p *Provider, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{provider: p, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/otp/request", h.requestOTP)
	mux.HandleFunc("POST /v1/otp/verify", h.verifyOTP)
	mux.HandleFunc("POST /v1/company-profile", h.companyProfile)
	mux.HandleFunc("GET /v1/registration-status", h.registrationStatus)
	mux.HandleFunc("POST /v1/pin", h.createPIN)
	mux.HandleFunc("POST /v1/pin/verify", h.verifyPIN)
	mux.HandleFunc("POST /v1/token/refresh", h.refresh)
	mux.HandleFunc("POST /v1/logout", h.logout)
	mux.HandleFunc("GET /v1/admin/accounts", h.accounts)
	mux.HandleFunc("POST /v1/admin/accounts/{id}/approve", h.approve)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return middleware.RequestLogger(logger)(mux)
}

func (h *handler) requestOTP(w http.ResponseWriter, r *http.Request) {
	var body otpRequestBody
	if !h.decode(w, r, &body) {
		return
	}
	role, ok := session.ParseRole(body.Role)
	if !ok {
		h.fail(w, invalid("request_otp", map[string]string{"role": "unknown role"}))
		return
	}

	receipt, err := h.provider.RequestOTP(r.Context(), idp.OTPRequest{
		Role:     role,
		Phone:    body.Phone,
		Email:    body.Email,
		DeviceID: body.DeviceID,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]time.Time{"otp_sent_at": receipt.SentAt})
}

func (h *handler) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var body otpVerifyBody
	if !h.decode(w, r, &body) {
		return
	}
	role, ok := session.ParseRole(body.Role)
	if !ok {
		h.fail(w, invalid("verify_otp", map[string]string{"role": "unknown role"}))
		return
	}

	bundle, err := h.provider.VerifyOTP(r.Context(), idp.OTPVerification{
		Role:     role,
		Phone:    body.Phone,
		Email:    body.Email,
		DeviceID: body.DeviceID,
		OTP:      body.OTP,
	})
	h.writeBundle(w, bundle, err)
}

func (h *handler) companyProfile(w http.ResponseWriter, r *http.Request) {
	var body idp.CompanyProfile
	if !h.decode(w, r, &body) {
		return
	}
	bundle, err := h.provider.CreateCompanyProfile(r.Context(), bearer(r), body)
	h.writeBundle(w, bundle, err)
}

func (h *handler) registrationStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.provider.RegistrationStatus(r.Context(), bearer(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusBody{
		RegistrationStatus: report.Status.String(),
		NextStep:           report.NextStep,
	})
}

func (h *handler) createPIN(w http.ResponseWriter, r *http.Request) {
	var body pinBody
	if !h.decode(w, r, &body) {
		return
	}
	bundle, err := h.provider.CreatePIN(r.Context(), bearer(r), body.PIN)
	h.writeBundle(w, bundle, err)
}

func (h *handler) verifyPIN(w http.ResponseWriter, r *http.Request) {
	var body pinBody
	if !h.decode(w, r, &body) {
		return
	}
	bundle, err := h.provider.VerifyPIN(r.Context(), bearer(r), body.PIN)
	h.writeBundle(w, bundle, err)
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if !h.decode(w, r, &body) {
		return
	}
	bundle, err := h.provider.Refresh(r.Context(), body.RefreshToken)
	h.writeBundle(w, bundle, err)
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.provider.Logout(r.Context(), bearer(r)); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) accounts(w http.ResponseWriter, r *http.Request) {
	list, err := h.provider.Accounts(r.Context(), bearer(r), r.URL.Query().Get("status"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]AccountSummary{"accounts": list})
}

func (h *handler) approve(w http.ResponseWriter, r *http.Request) {
	summary, err := h.provider.Approve(r.Context(), bearer(r), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Message: "malformed json body"})
		return false
	}
	return true
}

func (h *handler) writeBundle(w http.ResponseWriter, b idp.TokenBundle, err error) {
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenBundleBody{
		AccessToken:        b.Tokens.AccessToken,
		RefreshToken:       b.Tokens.RefreshToken,
		SessionID:          b.Tokens.SessionID,
		TokenType:          b.Tokens.TokenType,
		RegistrationStatus: b.Status.String(),
		NextStep:           b.NextStep,
	})
}

func (h *handler) fail(w http.ResponseWriter, err error) {
	var e *idp.Error
	if !errors.As(err, &e) {
		h.logger.Error("unexpected provider error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Message: "internal error"})
		return
	}

	status := statusFor(e)
	if status >= 500 {
		h.logger.Error("provider operation failed", zap.String("op", e.Op), zap.Error(e))
	}
	writeJSON(w, status, errorBody{Message: e.Message, Errors: e.Fields})
}

func bearer(r *http.Request) string {
	v := r.Header.Get("Authorization")
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
