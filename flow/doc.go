// Package flow is the onboarding and login state machine.
//
// A session is classified into a [Position] by [Locate]. Every position has
// exactly one canonical [Route], and every route names the positions it
// accepts. [Authorize] compares the two and either allows the request or
// names the canonical route to redirect to. The tables in this package are
// the only place step ordering is defined; [Validate] checks them for
// completeness.
package flow
