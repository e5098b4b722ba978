// Package middleware exposes HTTP middleware built on top of
// authcore.Engine validation: a token guard, a role gate, and double-submit
// CSRF enforcement for cookie-authenticated requests.
//
// # Guards
//
//   - [Guard] — extracts the bearer or cookie access token, calls
//     Engine.Validate, and injects the AuthContext into the request context.
//   - [RequireRole] — rejects requests below a minimum role with a generic
//     403 that never names the required role.
//   - [CSRF] — double-submit cookie check for state-changing requests.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement authentication logic itself — all decisions are delegated to
// Engine.Validate.
package middleware
