package session

import "time"

// Role identifies which onboarding arm a session belongs to.
type Role uint8

const (
	// RoleNone is the role of a session that has not verified any OTP.
	RoleNone Role = iota
	// RoleFacilityManager is the pengelola (facility manager) role.
	RoleFacilityManager
	// RoleAdministrator is the platform administrator role.
	RoleAdministrator
)

// String returns the provider wire name of the role.
func (r Role) String() string {
	switch r {
	case RoleFacilityManager:
		return "facility_manager"
	case RoleAdministrator:
		return "administrator"
	default:
		return "none"
	}
}

// ParseRole maps a provider wire name back to a Role.
func ParseRole(v string) (Role, bool) {
	switch v {
	case "facility_manager", "pengelola":
		return RoleFacilityManager, true
	case "administrator", "admin":
		return RoleAdministrator, true
	case "", "none":
		return RoleNone, true
	default:
		return RoleNone, false
	}
}

// RegistrationStatus is the onboarding stage of a facility manager account.
// It only ever records transitions the identity provider confirmed.
type RegistrationStatus uint8

const (
	// StatusNone means the provider has not reported a status yet.
	StatusNone RegistrationStatus = iota
	// StatusUncomplete means OTP verified, company profile missing.
	StatusUncomplete
	// StatusAwaitingApproval means the profile is waiting for an administrator.
	StatusAwaitingApproval
	// StatusApproved means the account was approved and needs a PIN.
	StatusApproved
	// StatusComplete means the PIN exists and onboarding is finished.
	StatusComplete
)

// String returns the provider wire name of the status.
func (s RegistrationStatus) String() string {
	switch s {
	case StatusUncomplete:
		return "uncomplete"
	case StatusAwaitingApproval:
		return "awaiting_approval"
	case StatusApproved:
		return "approved"
	case StatusComplete:
		return "complete"
	default:
		return ""
	}
}

// ParseRegistrationStatus maps a provider wire value to a status. Unknown
// values are reported with ok=false and must not be stored.
func ParseRegistrationStatus(v string) (RegistrationStatus, bool) {
	switch v {
	case "uncomplete", "incomplete":
		return StatusUncomplete, true
	case "awaiting_approval", "pending_approval":
		return StatusAwaitingApproval, true
	case "approved":
		return StatusApproved, true
	case "complete", "completed":
		return StatusComplete, true
	default:
		return StatusNone, false
	}
}

// Tokens is the opaque credential bundle issued by the identity provider.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	SessionID    string
}

// Empty reports whether no access token is held.
func (t Tokens) Empty() bool {
	return t.AccessToken == ""
}

// Challenge is a registration OTP challenge that has been sent but not yet
// verified.
type Challenge struct {
	Phone    string
	Email    string
	DeviceID string
	SentAt   time.Time
}

// LoginPhase is the position inside the login sub-flow.
type LoginPhase uint8

const (
	// LoginOTPRequested means an OTP was sent for login.
	LoginOTPRequested LoginPhase = iota + 1
	// LoginOTPVerified means the OTP passed and the PIN is outstanding.
	LoginOTPVerified
)

// LoginContext is the transient state of a login in progress. Tokens held
// in PendingTokens are intermediate and never authorize protected routes.
type LoginContext struct {
	Role            Role
	Phase           LoginPhase
	PendingPhone    string
	PendingEmail    string
	PendingDeviceID string
	SentAt          time.Time
	StartedAt       time.Time
	PendingTokens   *Tokens
}

// Expired reports whether the context was abandoned for longer than ttl.
func (l *LoginContext) Expired(now time.Time, ttl time.Duration) bool {
	if l == nil || ttl <= 0 {
		return false
	}
	return now.Sub(l.StartedAt) > ttl
}

// Session is the server-owned state of one browser client.
//
// Session is a value: handlers receive a copy, derive a new value on
// success and hand it back to a [Store]. A failed step never has a
// half-updated Session to persist.
type Session struct {
	// Handle is the store key for server-side stores. It is never exposed
	// to the client unsigned.
	Handle string

	Role   Role
	Status RegistrationStatus
	Tokens Tokens

	DeviceID string
	Phone    string
	Email    string
	NextStep string

	Pending *Challenge
	Login   *LoginContext

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsZero reports whether the session carries no identity or flow state.
func (s Session) IsZero() bool {
	return s.Role == RoleNone &&
		s.Status == StatusNone &&
		s.Tokens.Empty() &&
		s.Pending == nil &&
		s.Login == nil &&
		s.Phone == "" &&
		s.Email == ""
}

// Clone returns a deep copy so pointer fields can be changed independently.
func (s Session) Clone() Session {
	out := s
	if s.Pending != nil {
		p := *s.Pending
		out.Pending = &p
	}
	if s.Login != nil {
		l := *s.Login
		if s.Login.PendingTokens != nil {
			t := *s.Login.PendingTokens
			l.PendingTokens = &t
		}
		out.Login = &l
	}
	return out
}

// Reset returns an empty session that keeps only the store handle and the
// creation time, so a store can overwrite the same key.
func (s Session) Reset() Session {
	return Session{Handle: s.Handle, CreatedAt: s.CreatedAt}
}

// WithTokens returns a copy holding the given tokens.
func (s Session) WithTokens(t Tokens) Session {
	out := s.Clone()
	out.Tokens = t
	return out
}

// ClearPending returns a copy without a registration challenge.
func (s Session) ClearPending() Session {
	out := s.Clone()
	out.Pending = nil
	return out
}

// ClearLogin returns a copy without a login context.
func (s Session) ClearLogin() Session {
	out := s.Clone()
	out.Login = nil
	return out
}
