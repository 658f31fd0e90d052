package flow

// Route names one step or page of the onboarding surface.
type Route string

const (
	RouteRequestOTP       Route = "request-otp"
	RouteVerifyOTP        Route = "verify-otp"
	RouteResendOTP        Route = "resend-otp"
	RouteCompleteProfile  Route = "complete-profile"
	RouteAwaitApproval    Route = "await-approval"
	RouteCreatePIN        Route = "create-pin"
	RouteLoginRequestOTP  Route = "login-request-otp"
	RouteLoginVerifyOTP   Route = "login-verify-otp"
	RouteLoginResendOTP   Route = "login-resend-otp"
	RouteLoginVerifyPIN   Route = "login-verify-pin"
	RouteAdminRequestOTP  Route = "admin-request-otp"
	RouteAdminVerifyOTP   Route = "admin-verify-otp"
	RouteManagerDashboard Route = "manager-dashboard"
	RouteAdminDashboard   Route = "admin-dashboard"
	RouteLogout           Route = "logout"
)

var routePaths = map[Route]string{
	RouteRequestOTP:       "/register/request-otp",
	RouteVerifyOTP:        "/register/verify-otp",
	RouteResendOTP:        "/register/verify-otp/resend",
	RouteCompleteProfile:  "/register/complete-profile",
	RouteAwaitApproval:    "/register/await-approval",
	RouteCreatePIN:        "/register/create-pin",
	RouteLoginRequestOTP:  "/login",
	RouteLoginVerifyOTP:   "/login/verify-otp",
	RouteLoginResendOTP:   "/login/verify-otp/resend",
	RouteLoginVerifyPIN:   "/login/verify-pin",
	RouteAdminRequestOTP:  "/admin/login",
	RouteAdminVerifyOTP:   "/admin/login/verify-otp",
	RouteManagerDashboard: "/pengelola/dashboard",
	RouteAdminDashboard:   "/admin/dashboard",
	RouteLogout:           "/logout",
}

var allRoutes = []Route{
	RouteRequestOTP,
	RouteVerifyOTP,
	RouteResendOTP,
	RouteCompleteProfile,
	RouteAwaitApproval,
	RouteCreatePIN,
	RouteLoginRequestOTP,
	RouteLoginVerifyOTP,
	RouteLoginResendOTP,
	RouteLoginVerifyPIN,
	RouteAdminRequestOTP,
	RouteAdminVerifyOTP,
	RouteManagerDashboard,
	RouteAdminDashboard,
	RouteLogout,
}

// Routes returns every route in declaration order.
func Routes() []Route {
	out := make([]Route, len(allRoutes))
	copy(out, allRoutes)
	return out
}

// Path returns the URL path served for r, or "" for an unknown route.
func (r Route) Path() string {
	return routePaths[r]
}

// String returns the route name.
func (r Route) String() string {
	return string(r)
}

// RouteForPath maps a URL path back to its route.
func RouteForPath(path string) (Route, bool) {
	for r, p := range routePaths {
		if p == path {
			return r, true
		}
	}
	return "", false
}

// IsEntry reports whether r starts a flow from an empty session.
func (r Route) IsEntry() bool {
	switch r {
	case RouteRequestOTP, RouteLoginRequestOTP, RouteAdminRequestOTP:
		return true
	default:
		return false
	}
}
