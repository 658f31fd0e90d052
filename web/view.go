package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/wastehub/onboard"
	"github.com/wastehub/onboard/flow"
	"github.com/wastehub/onboard/session"
)

// View is the JSON body of a step page.
type View struct {
	Route    flow.Route `json:"route"`
	Path     string     `json:"path"`
	Position string     `json:"position"`
	Contact  string     `json:"contact,omitempty"`
	Status   string     `json:"registration_status,omitempty"`
	NextStep string     `json:"next_step,omitempty"`
	OTP      *OTPView   `json:"otp,omitempty"`
	Error    *ErrorView `json:"error,omitempty"`
}

// OTPView is the countdown shown while a code is outstanding. The provider
// enforces both limits; these values only drive the page.
type OTPView struct {
	SentAt    time.Time `json:"sent_at"`
	ExpiresIn int       `json:"expires_in_seconds"`
	ResendIn  int       `json:"resend_in_seconds"`
}

// ErrorView describes a failed step.
type ErrorView struct {
	Kind    string            `json:"kind"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// DashboardView is the principal summary returned by the dashboards. It
// never carries OTP or PIN state.
type DashboardView struct {
	Role      string `json:"role"`
	Contact   string `json:"contact"`
	SessionID string `json:"session_id,omitempty"`
	Status    string `json:"registration_status,omitempty"`
}

func (s *Server) view(route flow.Route, sess session.Session) View {
	v := View{
		Route:    route,
		Path:     route.Path(),
		Position: flow.Locate(sess).String(),
		NextStep: sess.NextStep,
	}
	if sess.Status != session.StatusNone {
		v.Status = sess.Status.String()
	}

	switch {
	case sess.Pending != nil:
		v.Contact = onboard.MaskPhone(sess.Pending.Phone)
		v.OTP = s.countdown(sess.Pending.SentAt)
	case sess.Login != nil && sess.Login.PendingEmail != "":
		v.Contact = onboard.MaskEmail(sess.Login.PendingEmail)
		v.OTP = s.countdown(sess.Login.SentAt)
	case sess.Login != nil:
		v.Contact = onboard.MaskPhone(sess.Login.PendingPhone)
		if sess.Login.Phase == session.LoginOTPRequested {
			v.OTP = s.countdown(sess.Login.SentAt)
		}
	case sess.Email != "":
		v.Contact = onboard.MaskEmail(sess.Email)
	case sess.Phone != "":
		v.Contact = onboard.MaskPhone(sess.Phone)
	}
	return v
}

func (s *Server) countdown(sentAt time.Time) *OTPView {
	elapsed := s.now().Sub(sentAt)
	return &OTPView{
		SentAt:    sentAt,
		ExpiresIn: remaining(s.cfg.Flow.OTPTTL, elapsed),
		ResendIn:  remaining(s.cfg.Flow.ResendCooldown, elapsed),
	}
}

func remaining(limit, elapsed time.Duration) int {
	left := limit - elapsed
	if left <= 0 {
		return 0
	}
	return int((left + time.Second - 1) / time.Second)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
