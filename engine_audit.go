package onboard

import (
	"context"
	"errors"

	"github.com/wastehub/onboard/flow"
	"github.com/wastehub/onboard/session"
)

const (
	auditEventOTPRequested       = "otp_requested"
	auditEventOTPResent          = "otp_resent"
	auditEventOTPVerified        = "otp_verified"
	auditEventOTPFailure         = "otp_failure"
	auditEventProfileSubmitted   = "profile_submitted"
	auditEventApprovalObserved   = "approval_observed"
	auditEventPINCreated         = "pin_created"
	auditEventLoginOTPVerified   = "login_otp_verified"
	auditEventLoginCompleted     = "login_completed"
	auditEventLoginFailure       = "login_failure"
	auditEventAdminLoginComplete = "admin_login_completed"
	auditEventTokenRefreshed     = "token_refreshed"
	auditEventSessionExpired     = "session_expired"
	auditEventGuardRedirect      = "guard_redirect"
	auditEventSessionReset       = "session_reset"
	auditEventLogout             = "logout"
)

// AuditErrorCode is the stable error label written to audit events.
type AuditErrorCode string

const (
	auditErrValidation     AuditErrorCode = "validation"
	auditErrRejected       AuditErrorCode = "rejected"
	auditErrUnauthorized   AuditErrorCode = "unauthorized"
	auditErrRateLimited    AuditErrorCode = "rate_limited"
	auditErrLocked         AuditErrorCode = "locked"
	auditErrTransport      AuditErrorCode = "provider_unavailable"
	auditErrSessionExpired AuditErrorCode = "session_expired"
	auditErrOutOfOrder     AuditErrorCode = "out_of_order"
	auditErrUnavailable    AuditErrorCode = "backend_unavailable"
	auditErrInternal       AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	s session.Session,
	route flow.Route,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	role := s.Role
	if role == session.RoleNone && s.Login != nil {
		role = s.Login.Role
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		Role:      role.String(),
		Route:     string(route),
		SessionID: s.Tokens.SessionID,
		RequestID: requestIDFromContext(ctx),
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	var se *StepError
	if !errors.As(err, &se) {
		if errors.Is(err, ErrStoreUnavailable) {
			return auditErrUnavailable
		}
		return auditErrInternal
	}

	switch se.Kind {
	case KindValidation:
		return auditErrValidation
	case KindRejected:
		return auditErrRejected
	case KindUnauthorized:
		return auditErrUnauthorized
	case KindRateLimited:
		return auditErrRateLimited
	case KindLocked:
		return auditErrLocked
	case KindTransport:
		return auditErrTransport
	case KindSessionExpired:
		return auditErrSessionExpired
	case KindOutOfOrder:
		return auditErrOutOfOrder
	case KindUnavailable:
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
