// Package httpapi exposes the authcore engine over HTTP.
//
// Routes:
//
//	POST /auth/anonymous       — bootstrap an anonymous identity + session
//	POST /auth/magic-link      — request a passwordless login link
//	GET  /auth/verify          — consume a magic-link token
//	POST /auth/oauth/callback  — resolve a provider callback
//	POST /auth/oauth/link      — confirm a manual-link prompt (signed in)
//	POST /auth/refresh         — rotate the refresh token
//	POST /auth/signout         — revoke the current session
//	GET  /auth/sessions        — list the caller's live sessions
//	GET  /auth/me              — introspect the caller's identity
//	POST /admin/sessions/revoke — revoke any session (operator)
//	POST /admin/users/revoke-all — revoke all of a user's sessions (operator)
//	POST /admin/users/role     — advance a user's role (operator)
//	GET  /metrics              — Prometheus text exposition
//
// Browser clients authenticate by cookie and are covered by double-submit
// CSRF; API clients authenticate by bearer header and are exempt. Every
// auth response carries Cache-Control: no-store.
package httpapi
