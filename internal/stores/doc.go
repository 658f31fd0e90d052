// Package stores provides the Redis records behind the development
// identity provider: OTP challenges, accounts and token sessions.
//
// # Design
//
// OTP challenges are versioned binary records with a TTL, consumed with
// WATCH/MULTI optimistic transactions and retried on contention. Accounts
// are Redis hashes indexed by (role, contact) with one set per
// registration status. Token sessions map digests of opaque tokens to a
// provider session; a session has one live pair at a time.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control. It does NOT
// generate codes or tokens, enforce rate limits, or decide what a status
// transition means; the devidp package does.
//
// # What this package must NOT do
//
//   - Import onboard or any sibling internal package.
//   - Store plaintext codes or tokens.
//   - Use non-constant-time comparisons for secret matching.
package stores
