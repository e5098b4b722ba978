// Package internaldefs holds the shared metric naming tables used by the
// exposition exporters.
package internaldefs

import (
	authcore "github.com/tickerboard/authcore"
)

// CounterDef names one engine counter for exposition.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exposition.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs is the full counter exposition table, in display order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricBootstrap, Name: "authcore_bootstrap_total", Help: "Anonymous identity bootstraps."},
	{ID: authcore.MetricMagicLinkRequest, Name: "authcore_magic_link_request_total", Help: "Accepted magic-link requests."},
	{ID: authcore.MetricMagicLinkRateLimited, Name: "authcore_magic_link_rate_limited_total", Help: "Rate-limited magic-link requests."},
	{ID: authcore.MetricMagicLinkVerifySuccess, Name: "authcore_magic_link_verify_success_total", Help: "Successful magic-link verifications."},
	{ID: authcore.MetricMagicLinkVerifyFailure, Name: "authcore_magic_link_verify_failure_total", Help: "Rejected magic-link verifications."},
	{ID: authcore.MetricFederationSignIn, Name: "authcore_federation_sign_in_total", Help: "Returning federated sign-ins."},
	{ID: authcore.MetricFederationNewUser, Name: "authcore_federation_new_user_total", Help: "Accounts created from OAuth callbacks."},
	{ID: authcore.MetricFederationLinked, Name: "authcore_federation_linked_total", Help: "Providers linked to existing accounts."},
	{ID: authcore.MetricFederationRejected, Name: "authcore_federation_rejected_total", Help: "Rejected OAuth callbacks."},
	{ID: authcore.MetricFederationManualPrompt, Name: "authcore_federation_manual_prompt_total", Help: "Callbacks answered with a manual-link prompt."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Failed refresh attempts."},
	{ID: authcore.MetricRefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Detected refresh token reuses."},
	{ID: authcore.MetricSessionCreated, Name: "authcore_session_created_total", Help: "Created sessions."},
	{ID: authcore.MetricSessionEvicted, Name: "authcore_session_evicted_total", Help: "Sessions evicted by the per-user cap."},
	{ID: authcore.MetricSessionRevoked, Name: "authcore_session_revoked_total", Help: "Explicitly revoked sessions."},
	{ID: authcore.MetricRevokeAll, Name: "authcore_revoke_all_total", Help: "Bulk revocation operations."},
	{ID: authcore.MetricRoleAdvanced, Name: "authcore_role_advanced_total", Help: "Role advancements."},
	{ID: authcore.MetricValidateSuccess, Name: "authcore_validate_success_total", Help: "Successful token validations."},
	{ID: authcore.MetricValidateFailure, Name: "authcore_validate_failure_total", Help: "Failed token validations."},
	{ID: authcore.MetricCSRFRejected, Name: "authcore_csrf_rejected_total", Help: "Requests rejected by the CSRF check."},
}

// HistogramDefs is the histogram exposition table.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricValidateLatency, Name: "authcore_validate_latency_seconds", Help: "Validate latency histogram."},
}

// HistogramBounds are the upper bucket bounds in seconds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix mirrors HistogramBounds with characters legal in
// OTel instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a raw snapshot slice to the fixed
// bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into the cumulative form
// Prometheus histograms expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
