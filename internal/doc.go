// Package internal contains helper utilities that are intentionally private
// to authcore, including secure random token generation and the opaque
// refresh-token wire codec.
//
// # Sub-packages
//
//   - internal/stores: Redis-backed record stores (users, magic links)
//   - internal/rate: fixed-window rate limiting
//   - internal/flows: federation flow classification
package internal
