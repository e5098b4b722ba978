// Package jwt wraps github.com/golang-jwt/jwt/v5 with the authcore claim
// set and validation policy.
//
// Access tokens are signed JWTs carrying sub, role, sid, jti, rev, iss,
// aud, exp, and iat. The audience is environment-specific (for example
// "authcore-prod" vs "authcore-dev") so a token minted in one environment
// can never replay into another.
//
// The authorization type of a token — anonymous versus authenticated — is
// derived exclusively from the signed claim shape: anonymous tokens carry a
// bare subject with no role claim. It is never read from a request header,
// which closes the historical self-declared auth-type bypass.
//
// # What this package must NOT do
//
//   - Perform any I/O. Validation is pure CPU work on the hot path.
//   - Accept unsigned ("none") or unexpected signing algorithms.
package jwt
