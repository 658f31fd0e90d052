package idp

import (
	"errors"
	"fmt"
)

// Kind classifies a provider failure.
type Kind uint8

const (
	// KindUnknown covers responses that break the provider contract, such
	// as an undecodable body or an unrecognised registration status.
	KindUnknown Kind = iota
	// KindValidation is a 400/422 response carrying field errors.
	KindValidation
	// KindRejected is any other 4xx the provider used to refuse a request.
	KindRejected
	// KindUnauthorized is a 401: wrong code, wrong PIN or a dead token.
	KindUnauthorized
	// KindLocked is a 403: the account is locked.
	KindLocked
	// KindRateLimited is a 429.
	KindRateLimited
	// KindTransport means no usable response: network error, timeout, 5xx.
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindRejected:
		return "rejected"
	case KindUnauthorized:
		return "unauthorized"
	case KindLocked:
		return "locked"
	case KindRateLimited:
		return "rate_limited"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Error is returned by every [Client] method on failure.
type Error struct {
	Op      string
	Kind    Kind
	Status  int
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("idp %s: %s", e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err. Errors that did not come from this
// package are reported as [KindUnknown].
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// kindForStatus maps a non-2xx status to a kind. hasFields tells a 400/422
// with field errors apart from a plain refusal.
func kindForStatus(status int, hasFields bool) Kind {
	switch {
	case status == 401:
		return KindUnauthorized
	case status == 403:
		return KindLocked
	case status == 429:
		return KindRateLimited
	case status == 400 || status == 422:
		if hasFields {
			return KindValidation
		}
		return KindRejected
	case status >= 400 && status < 500:
		return KindRejected
	case status >= 500:
		return KindTransport
	default:
		return KindUnknown
	}
}
