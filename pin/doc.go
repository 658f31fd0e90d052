// Package pin hashes and verifies six-digit PINs with Argon2id.
//
// Hashes are PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher.NeedsRehash] reports hashes made with weaker parameters so the
// caller can re-hash after the next successful check.
//
// The onboarding engine never sees a stored PIN; this package serves the
// development identity provider, which owns PINs the way the real
// provider does.
package pin
