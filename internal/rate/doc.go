// Package rate provides fixed-window Redis counters: INCR plus EXPIRE on
// the first hit of a window.
//
// # What this package must NOT do
//
//   - Implement domain-specific policies (those live in internal/limiters).
//   - Be imported outside the onboard module.
package rate
