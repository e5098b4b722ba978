// Package flows classifies OAuth callbacks into account-linking flows.
//
// Classification is a pure function over the already-resolved account
// state: it performs no I/O and makes no trust decisions based on anything
// the client supplied outside the provider's verified claims. The engine
// resolves the state (subject owner, email owner, session user), asks
// [Classify] which of the five linking flows applies, and then switches
// over the closed [Flow] enum exhaustively — adding a sixth flow is a
// compile-time-visible change.
package flows
