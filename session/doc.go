// Package session holds the server-owned onboarding session and the stores
// that persist it between requests.
//
// # Session values
//
// [Session] is passed by value. Steps derive a new value and hand it to a
// [Store] in a single Save; there is no partial update API.
//
// # Stores
//
// [RedisStore] keeps the encoded session in Redis and gives the browser a
// signed handle. [CookieStore] seals the encoded session into the cookie
// itself. Both treat a missing, tampered or expired cookie as an empty
// session.
//
// # Architecture boundaries
//
// This package does not know about routes or the identity provider. It
// must not import onboard, flow or idp.
package session
