package flow

import (
	"errors"
	"fmt"
)

// ErrIncompleteTable is returned by [Validate] when the route tables do not
// cover every reachable position.
var ErrIncompleteTable = errors.New("flow table incomplete")

type table struct {
	positions    []Position
	canonical    map[Position]Route
	requirements map[Route][]Position
	paths        map[Route]string
	routes       []Route
}

var reachable = []Position{
	Unauthenticated,
	fm(StageOTPPending),
	fm(StageUncomplete),
	fm(StageAwaitingApproval),
	fm(StageApproved),
	fm(StageComplete),
	fm(StageLoginOTPRequested),
	fm(StageLoginOTPVerified),
	admin(StageLoginOTPRequested),
	admin(StageComplete),
}

var canonicalRoutes = map[Position]Route{
	Unauthenticated:               RouteLoginRequestOTP,
	fm(StageOTPPending):           RouteVerifyOTP,
	fm(StageUncomplete):           RouteCompleteProfile,
	fm(StageAwaitingApproval):     RouteAwaitApproval,
	fm(StageApproved):             RouteCreatePIN,
	fm(StageComplete):             RouteManagerDashboard,
	fm(StageLoginOTPRequested):    RouteLoginVerifyOTP,
	fm(StageLoginOTPVerified):     RouteLoginVerifyPIN,
	admin(StageLoginOTPRequested): RouteAdminVerifyOTP,
	admin(StageComplete):          RouteAdminDashboard,
}

var routeRequirements = map[Route][]Position{
	RouteRequestOTP:       {Unauthenticated},
	RouteVerifyOTP:        {fm(StageOTPPending)},
	RouteResendOTP:        {fm(StageOTPPending)},
	RouteCompleteProfile:  {fm(StageUncomplete)},
	RouteAwaitApproval:    {fm(StageAwaitingApproval)},
	RouteCreatePIN:        {fm(StageApproved)},
	RouteLoginRequestOTP:  {Unauthenticated},
	RouteLoginVerifyOTP:   {fm(StageLoginOTPRequested)},
	RouteLoginResendOTP:   {fm(StageLoginOTPRequested)},
	RouteLoginVerifyPIN:   {fm(StageLoginOTPVerified)},
	RouteAdminRequestOTP:  {Unauthenticated},
	RouteAdminVerifyOTP:   {admin(StageLoginOTPRequested)},
	RouteManagerDashboard: {fm(StageComplete)},
	RouteAdminDashboard:   {admin(StageComplete)},
	RouteLogout:           reachable,
}

var defaultTable = table{
	positions:    reachable,
	canonical:    canonicalRoutes,
	requirements: routeRequirements,
	paths:        routePaths,
	routes:       allRoutes,
}

// Positions returns every reachable position.
func Positions() []Position {
	out := make([]Position, len(reachable))
	copy(out, reachable)
	return out
}

// Canonical returns the route a session at p belongs on. Positions outside
// the table fall back to the login entry route.
func Canonical(p Position) Route {
	if r, ok := canonicalRoutes[p]; ok {
		return r
	}
	return RouteLoginRequestOTP
}

// Requirement returns the positions route r accepts.
func Requirement(r Route) []Position {
	req := routeRequirements[r]
	out := make([]Position, len(req))
	copy(out, req)
	return out
}

// Decision is the outcome of [Authorize].
type Decision struct {
	Allowed  bool
	Redirect Route
}

// Authorize decides whether a session at p may use route r. When it may
// not, Redirect names the canonical route for p.
func Authorize(p Position, r Route) Decision {
	if accepts(routeRequirements[r], p) {
		return Decision{Allowed: true}
	}
	return Decision{Redirect: Canonical(p)}
}

// Validate checks the package tables: every reachable position has a
// canonical route that accepts it, every route has a path and at least one
// accepted position, and no route accepts an unreachable position.
func Validate() error {
	return validateTable(defaultTable)
}

func validateTable(t table) error {
	known := make(map[Position]bool, len(t.positions))
	for _, p := range t.positions {
		known[p] = true
	}

	for _, p := range t.positions {
		r, ok := t.canonical[p]
		if !ok {
			return fmt.Errorf("%w: no canonical route for %s", ErrIncompleteTable, p)
		}
		if !accepts(t.requirements[r], p) {
			return fmt.Errorf("%w: canonical route %s rejects %s", ErrIncompleteTable, r, p)
		}
	}
	for p := range t.canonical {
		if !known[p] {
			return fmt.Errorf("%w: canonical route for unreachable %s", ErrIncompleteTable, p)
		}
	}

	seen := make(map[string]Route, len(t.routes))
	for _, r := range t.routes {
		path := t.paths[r]
		if path == "" {
			return fmt.Errorf("%w: route %s has no path", ErrIncompleteTable, r)
		}
		if other, dup := seen[path]; dup {
			return fmt.Errorf("%w: routes %s and %s share %s", ErrIncompleteTable, other, r, path)
		}
		seen[path] = r

		req := t.requirements[r]
		if len(req) == 0 {
			return fmt.Errorf("%w: route %s accepts no position", ErrIncompleteTable, r)
		}
		for _, p := range req {
			if !known[p] {
				return fmt.Errorf("%w: route %s accepts unreachable %s", ErrIncompleteTable, r, p)
			}
		}
	}
	return nil
}

func accepts(req []Position, p Position) bool {
	for _, q := range req {
		if q == p {
			return true
		}
	}
	return false
}
