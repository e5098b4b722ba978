// Package rate implements fixed-window rate limiting on Redis counters for
// magic-link issuance: a per-email budget and a per-source-address budget,
// each over a rolling window anchored at the first hit.
package rate
