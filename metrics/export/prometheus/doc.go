// Package prometheus renders authcore engine metrics in Prometheus text
// exposition format without pulling in a client library: the engine's
// lock-free snapshot is formatted directly.
package prometheus
