package devidp

import (
	"net/http"

	"github.com/wastehub/onboard/idp"
)

func failure(op string, kind idp.Kind, status int, msg string) *idp.Error {
	return &idp.Error{Op: op, Kind: kind, Status: status, Message: msg}
}

func invalid(op string, fields map[string]string) *idp.Error {
	return &idp.Error{
		Op:      op,
		Kind:    idp.KindValidation,
		Status:  http.StatusUnprocessableEntity,
		Message: "validation failed",
		Fields:  fields,
	}
}

func unavailable(op string, err error) *idp.Error {
	return &idp.Error{Op: op, Kind: idp.KindTransport, Status: http.StatusServiceUnavailable, Message: "backend unavailable", Err: err}
}

func internalError(op string, err error) *idp.Error {
	return &idp.Error{Op: op, Kind: idp.KindUnknown, Status: http.StatusInternalServerError, Message: "internal error", Err: err}
}

// statusFor is the HTTP status an error is served with.
func statusFor(e *idp.Error) int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Kind {
	case idp.KindValidation:
		return http.StatusUnprocessableEntity
	case idp.KindRejected:
		return http.StatusConflict
	case idp.KindUnauthorized:
		return http.StatusUnauthorized
	case idp.KindLocked:
		return http.StatusForbidden
	case idp.KindRateLimited:
		return http.StatusTooManyRequests
	case idp.KindTransport:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
