// Package internal holds helpers private to the onboard module: random
// OTP and opaque token generation, and the digests stored in their place.
//
// # Sub-packages
//
//   - stores: Redis records behind the development identity provider
//     (OTP challenges, accounts, token sessions)
//   - limiters: OTP request throttling and PIN failure lockout
//   - rate: fixed-window Redis counter primitives
//   - config: daemon configuration loaded with viper
//
// # What this package must NOT do
//
//   - Export types that appear in the public onboard API.
//   - Log generated secrets.
package internal
