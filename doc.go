// Package authcore provides the federated authentication and session
// lifecycle core: anonymous session bootstrap, passwordless magic-link
// authentication with atomic one-time consumption, OAuth account linking
// across identity providers, JWT issuance and validation with revocation,
// per-user session caps with FIFO eviction, CSRF protection for
// cookie-based sessions, and a monotonic role-advancement state machine.
//
// The package is designed for concurrent, stateless server workloads:
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build], and every cross-request
// coordination point (magic-link consumption, refresh rotation, provider
// subject uniqueness) is a single atomic conditional write in Redis rather
// than an in-process lock — handlers may run in different processes.
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder],
// [Config], and value types (TokenBundle, FederationResult, SessionInfo,
// AuthContext). All internal coordination — record stores, flow
// classification, rate limiting, audit dispatch — lives under internal/
// and is never exported.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its
//     public API.
//   - Trust any client-supplied header for an authorization decision. The
//     auth type of a request derives solely from the validated token's
//     signed claim shape.
//   - Perform I/O outside of Engine methods (construction via Builder is
//     allocation-only until Build).
package authcore
