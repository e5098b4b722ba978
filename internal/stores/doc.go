// Package stores contains the Redis-backed record stores for users and
// magic-link tokens.
//
// Every race-sensitive transition is a single atomic conditional write:
// user mutation is a value compare-and-swap on the whole record, provider
// subject claims are create-if-absent on a secondary index key, and
// magic-link consumption is an atomic get-validate-delete. When a
// precondition fails the caller treats it as "someone else already
// completed this transition" and maps it to the matching user-facing
// outcome instead of retrying blindly.
package stores
