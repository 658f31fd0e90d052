package middleware

import (
	"net/http"

	"github.com/wastehub/onboard"
	"github.com/wastehub/onboard/flow"
)

// RequireFacilityManager admits only facility managers who finished
// registration and signed in with their PIN.
func RequireFacilityManager(engine *onboard.Engine) func(http.Handler) http.Handler {
	return Guard(engine, flow.RouteManagerDashboard)
}

// RequireAdministrator admits only signed-in administrators.
func RequireAdministrator(engine *onboard.Engine) func(http.Handler) http.Handler {
	return Guard(engine, flow.RouteAdminDashboard)
}
