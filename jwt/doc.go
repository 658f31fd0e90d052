// Package jwt signs and verifies the short session handle carried in the
// session cookie. The handle names a server-side session record; it never
// embeds tokens or contact details.
package jwt
