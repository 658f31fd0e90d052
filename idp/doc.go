// Package idp is the client for the external identity provider that owns
// accounts, OTP challenges, PINs and tokens.
//
// Every failure is an [*Error] carrying a [Kind]; callers switch on
// [KindOf] instead of inspecting HTTP details.
package idp
