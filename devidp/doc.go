// Package devidp is a development identity provider. It serves the same
// JSON API the onboarding engine consumes through [idp.HTTPClient] and
// keeps its state in Redis:
//
//   - accounts, created on a facility manager's first verified code;
//   - OTP challenges, one per contact and device, replaced on resend and
//     dropped after OTP.MaxAttempts wrong codes;
//   - argon2id PIN hashes, with a lockout after PIN.LockThreshold failures;
//   - opaque access/refresh tokens that rotate on every issuing call.
//
// Administrators approve accounts through
// POST /v1/admin/accounts/{id}/approve. With OTP.FixedCode set every code
// is that value, which suits demos and end-to-end tests.
//
// [Provider] also satisfies [idp.Client] directly, returning the same
// *[idp.Error] values the HTTP client would produce.
//
// # What this package must NOT do
//
//   - Serve real users: codes are logged by the default notifier.
//   - Store plaintext codes, PINs or tokens.
package devidp
