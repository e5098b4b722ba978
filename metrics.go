package authcore

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter.
type MetricID uint16

const (
	// MetricBootstrap counts anonymous session bootstraps.
	MetricBootstrap MetricID = iota
	// MetricMagicLinkRequest counts accepted magic-link requests.
	MetricMagicLinkRequest
	// MetricMagicLinkRateLimited counts rate-limited magic-link requests.
	MetricMagicLinkRateLimited
	// MetricMagicLinkVerifySuccess counts winning verifications.
	MetricMagicLinkVerifySuccess
	// MetricMagicLinkVerifyFailure counts rejected verifications.
	MetricMagicLinkVerifyFailure
	// MetricFederationSignIn counts returning OAuth sign-ins.
	MetricFederationSignIn
	// MetricFederationNewUser counts accounts created from callbacks.
	MetricFederationNewUser
	// MetricFederationLinked counts provider links to existing accounts.
	MetricFederationLinked
	// MetricFederationRejected counts rejected callbacks.
	MetricFederationRejected
	// MetricFederationManualPrompt counts pending-decision responses.
	MetricFederationManualPrompt
	// MetricRefreshSuccess counts successful refresh rotations.
	MetricRefreshSuccess
	// MetricRefreshFailure counts failed refresh attempts.
	MetricRefreshFailure
	// MetricRefreshReuseDetected counts replayed refresh tokens.
	MetricRefreshReuseDetected
	// MetricSessionCreated counts created sessions.
	MetricSessionCreated
	// MetricSessionEvicted counts cap-driven evictions.
	MetricSessionEvicted
	// MetricSessionRevoked counts explicit revocations.
	MetricSessionRevoked
	// MetricRevokeAll counts bulk revocations.
	MetricRevokeAll
	// MetricRoleAdvanced counts role advancements.
	MetricRoleAdvanced
	// MetricValidateSuccess counts successful token validations.
	MetricValidateSuccess
	// MetricValidateFailure counts failed token validations.
	MetricValidateFailure
	// MetricCSRFRejected counts requests rejected by the CSRF check.
	MetricCSRFRejected
	// MetricValidateLatency is the validation latency histogram.
	MetricValidateLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free engine counters. Counters are padded to a cache
// line each so hot-path increments do not false-share.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a [Metrics] set from configuration.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are being collected.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc increments one counter. No-op when metrics are disabled.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records a validation latency sample.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricValidateLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value reads one counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies all counters and histograms.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricValidateLatency].buckets[i])
		}
		s.Histograms[MetricValidateLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
