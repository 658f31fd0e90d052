package onboard

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/wastehub/onboard/flow"
	"github.com/wastehub/onboard/session"
)

var (
	// ErrInvalidPhone is returned when a phone number fails the country rule.
	ErrInvalidPhone = errors.New("invalid phone number")
	// ErrInvalidOTP is returned for anything other than four ASCII digits.
	ErrInvalidOTP = errors.New("invalid otp format")
	// ErrInvalidPIN is returned for anything other than six ASCII digits.
	ErrInvalidPIN = errors.New("invalid pin format")
	// ErrPINMismatch is returned when the PIN confirmation differs.
	ErrPINMismatch = errors.New("pin confirmation mismatch")
	// ErrInvalidEmail is returned for a malformed administrator email.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrInvalidDeviceID is returned for a malformed client device id.
	ErrInvalidDeviceID = errors.New("invalid device id")
	// ErrInvalidProfile is returned when one or more company profile fields fail.
	ErrInvalidProfile = errors.New("invalid company profile")
	// ErrStepNotAllowed is returned when a step runs against a session at the
	// wrong position.
	ErrStepNotAllowed = errors.New("step not allowed from current position")
	// ErrEngineNotReady is returned by methods called on a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrStoreUnavailable is returned when the session store cannot be reached.
	ErrStoreUnavailable = session.ErrStoreUnavailable
	// ErrSessionExpired is returned when the provider no longer accepts the
	// session's tokens and a refresh could not recover them.
	ErrSessionExpired = errors.New("session expired")
	// ErrProviderContract is returned when the provider answers with data
	// the engine cannot interpret.
	ErrProviderContract = errors.New("identity provider contract violation")
)

// ErrorKind classifies a failed step for the HTTP layer.
type ErrorKind uint8

const (
	// KindInternal is an unexpected failure.
	KindInternal ErrorKind = iota
	KindValidation
	KindRejected
	KindUnauthorized
	KindRateLimited
	KindLocked
	KindTransport
	// KindSessionExpired means the session must be destroyed.
	KindSessionExpired
	// KindOutOfOrder means the session is not at the step's entry position.
	KindOutOfOrder
	// KindUnavailable means session storage is down.
	KindUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindRejected:
		return "rejected"
	case KindUnauthorized:
		return "unauthorized"
	case KindRateLimited:
		return "rate_limited"
	case KindLocked:
		return "locked"
	case KindTransport:
		return "transport"
	case KindSessionExpired:
		return "session_expired"
	case KindOutOfOrder:
		return "out_of_order"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// HTTPStatus returns the response status for a step failing with k.
// Kinds that end in a redirect report 303.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindValidation, KindRejected:
		return http.StatusUnprocessableEntity
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindLocked:
		return http.StatusForbidden
	case KindTransport:
		return http.StatusBadGateway
	case KindSessionExpired, KindOutOfOrder:
		return http.StatusSeeOther
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// StepError is returned by every Engine step. The caller's session is
// unchanged whenever a StepError is returned, except for Tokens.
type StepError struct {
	Step    string
	Kind    ErrorKind
	Message string
	Fields  map[string]string
	// Redirect is set for KindOutOfOrder and KindSessionExpired.
	Redirect flow.Route
	// Tokens is set when a refresh rotated the session tokens before the
	// step failed. Persist them with [Engine.CommitFailed].
	Tokens   *session.Tokens
	Err      error
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Step, e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a step error, or KindInternal for anything
// else.
func KindOf(err error) ErrorKind {
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return KindUnavailable
	}
	return KindInternal
}

func validationError(step string, err error, fields map[string]string) *StepError {
	msg := "please correct the highlighted fields"
	if len(fields) == 1 {
		for _, v := range fields {
			msg = v
		}
	}
	return &StepError{Step: step, Kind: KindValidation, Message: msg, Fields: fields, Err: err}
}
