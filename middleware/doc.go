// Package middleware adapts the onboarding engine to net/http.
//
// # Guards
//
//   - [Guard] admits a request when the session's position is accepted by
//     the route and otherwise redirects to the canonical route.
//   - [RequireFacilityManager] and [RequireAdministrator] guard the
//     dashboards.
//
// Admitted handlers read the session with [SessionFromContext].
// [RequestLogger] writes access logs and assigns request ids.
//
// # What this package must NOT do
//
//   - Decide routing itself; every decision comes from the flow table via
//     Engine.Authorize.
//   - Admit a request when the session store fails.
package middleware
