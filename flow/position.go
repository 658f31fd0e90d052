package flow

import "github.com/wastehub/onboard/session"

// Stage is the step a session has reached inside its role's flow.
type Stage uint8

const (
	StageUnauthenticated Stage = iota
	StageOTPPending
	StageUncomplete
	StageAwaitingApproval
	StageApproved
	StageComplete
	StageLoginOTPRequested
	StageLoginOTPVerified
)

func (s Stage) String() string {
	switch s {
	case StageOTPPending:
		return "otp_pending"
	case StageUncomplete:
		return "uncomplete"
	case StageAwaitingApproval:
		return "awaiting_approval"
	case StageApproved:
		return "approved"
	case StageComplete:
		return "complete"
	case StageLoginOTPRequested:
		return "login_otp_requested"
	case StageLoginOTPVerified:
		return "login_otp_verified"
	default:
		return "unauthenticated"
	}
}

// Position is the (role, stage) pair a session occupies.
type Position struct {
	Role  session.Role
	Stage Stage
}

func (p Position) String() string {
	return p.Role.String() + "/" + p.Stage.String()
}

// Unauthenticated is the position of an empty session.
var Unauthenticated = Position{Role: session.RoleNone, Stage: StageUnauthenticated}

func fm(stage Stage) Position {
	return Position{Role: session.RoleFacilityManager, Stage: stage}
}

func admin(stage Stage) Position {
	return Position{Role: session.RoleAdministrator, Stage: stage}
}

// Locate classifies s. Inconsistent sessions locate to [Unauthenticated];
// use [Check] to tell them apart from genuinely empty ones.
func Locate(s session.Session) Position {
	p, _ := Check(s)
	return p
}

// Check classifies s and reports whether its fields are mutually
// consistent. An inconsistent session must be reset by the caller.
func Check(s session.Session) (Position, bool) {
	if s.Login != nil {
		return checkLogin(s)
	}

	if s.Pending != nil {
		if !s.Tokens.Empty() || s.Role != session.RoleNone || s.Status != session.StatusNone {
			return Unauthenticated, false
		}
		return fm(StageOTPPending), true
	}

	if s.Tokens.Empty() {
		if s.Role != session.RoleNone || s.Status != session.StatusNone {
			return Unauthenticated, false
		}
		return Unauthenticated, true
	}

	switch s.Role {
	case session.RoleFacilityManager:
		switch s.Status {
		case session.StatusUncomplete:
			return fm(StageUncomplete), true
		case session.StatusAwaitingApproval:
			return fm(StageAwaitingApproval), true
		case session.StatusApproved:
			return fm(StageApproved), true
		case session.StatusComplete:
			return fm(StageComplete), true
		default:
			return Unauthenticated, false
		}
	case session.RoleAdministrator:
		if s.Status != session.StatusNone && s.Status != session.StatusComplete {
			return Unauthenticated, false
		}
		return admin(StageComplete), true
	default:
		return Unauthenticated, false
	}
}

func checkLogin(s session.Session) (Position, bool) {
	l := s.Login
	if !s.Tokens.Empty() || s.Pending != nil || s.Role != session.RoleNone {
		return Unauthenticated, false
	}

	switch l.Role {
	case session.RoleFacilityManager:
		switch l.Phase {
		case session.LoginOTPRequested:
			if l.PendingTokens != nil {
				return Unauthenticated, false
			}
			return fm(StageLoginOTPRequested), true
		case session.LoginOTPVerified:
			if l.PendingTokens == nil || l.PendingTokens.Empty() {
				return Unauthenticated, false
			}
			return fm(StageLoginOTPVerified), true
		}
	case session.RoleAdministrator:
		if l.Phase == session.LoginOTPRequested && l.PendingTokens == nil {
			return admin(StageLoginOTPRequested), true
		}
	}
	return Unauthenticated, false
}
