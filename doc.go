// Package onboard runs the facility manager ("pengelola") registration and
// login flows and the administrator login on top of an external identity
// provider.
//
// Each user's progress lives in a server-held [session.Session]. An
// [Engine] step takes the current session by value, validates input, calls
// the provider, and returns a [StepResult] holding the next session and the
// route to redirect to. The caller persists the result with
// [Engine.Commit]; a failed step returns a *[StepError] and leaves nothing
// to save.
//
// # Architecture boundaries
//
// Route authorization is decided by package flow from the session alone.
// Provider HTTP details live in package idp and are classified by error
// kind before they reach this package. HTTP handlers in package web and
// the guard in package middleware are thin adapters over [Engine].
//
// # What this package must NOT do
//
//   - Log or audit OTPs, PINs or provider tokens.
//   - Persist a session that a failed step touched.
//   - Treat tokens held in a login context as authorization.
package onboard
