// Package limiters provides the development identity provider's abuse
// limits, built on the internal/rate counters.
//
// # Limiters
//
//   - [OTPRequestLimiter]: per-contact and per-IP throttle on code sends.
//   - [LockoutLimiter]: per-account PIN failure lockout.
//
// [OTPRequestLimiter] is nil-safe.
//
// # What this package must NOT do
//
//   - Import onboard or any sibling internal package except internal/rate.
//   - Decide the HTTP answer to a limit; devidp maps the errors.
package limiters
