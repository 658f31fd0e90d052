package onboard

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter or histogram.
type MetricID uint16

const (
	MetricOTPRequested MetricID = iota
	MetricOTPResent
	MetricOTPVerified
	MetricOTPFailure
	MetricProfileSubmitted
	MetricApprovalObserved
	MetricPINCreated
	MetricLoginOTPVerified
	MetricLoginSuccess
	MetricLoginPINFailure
	MetricAdminLoginSuccess
	MetricValidationFailure
	MetricProviderRejected
	MetricProviderUnauthorized
	MetricProviderLocked
	MetricProviderRateLimited
	MetricProviderTransport
	MetricTokenRefreshed
	MetricSessionExpired
	MetricSessionReset
	MetricLoginContextExpired
	MetricGuardAllowed
	MetricGuardRedirect
	MetricStoreUnavailable
	MetricLogout
	// MetricProviderLatency is the only histogram.
	MetricProviderLatency
	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricOTPRequested:         "otp_requested",
	MetricOTPResent:            "otp_resent",
	MetricOTPVerified:          "otp_verified",
	MetricOTPFailure:           "otp_failure",
	MetricProfileSubmitted:     "profile_submitted",
	MetricApprovalObserved:     "approval_observed",
	MetricPINCreated:           "pin_created",
	MetricLoginOTPVerified:     "login_otp_verified",
	MetricLoginSuccess:         "login_success",
	MetricLoginPINFailure:      "login_pin_failure",
	MetricAdminLoginSuccess:    "admin_login_success",
	MetricValidationFailure:    "validation_failure",
	MetricProviderRejected:     "provider_rejected",
	MetricProviderUnauthorized: "provider_unauthorized",
	MetricProviderLocked:       "provider_locked",
	MetricProviderRateLimited:  "provider_rate_limited",
	MetricProviderTransport:    "provider_transport",
	MetricTokenRefreshed:       "token_refreshed",
	MetricSessionExpired:       "session_expired",
	MetricSessionReset:         "session_reset",
	MetricLoginContextExpired:  "login_context_expired",
	MetricGuardAllowed:         "guard_allowed",
	MetricGuardRedirect:        "guard_redirect",
	MetricStoreUnavailable:     "store_unavailable",
	MetricLogout:               "logout",
	MetricProviderLatency:      "provider_latency",
}

// String returns the snake_case metric name used by exporters.
func (id MetricID) String() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

// MetricIDs returns every metric id in order.
func MetricIDs() []MetricID {
	out := make([]MetricID, 0, metricIDCount)
	for id := MetricID(0); id < metricIDCount; id++ {
		out = append(out, id)
	}
	return out
}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

// HistogramBucketBounds are the upper bounds of the latency buckets; the
// last bucket is unbounded.
var HistogramBucketBounds = [histBucketCount - 1]time.Duration{
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	2500 * time.Millisecond,
	5 * time.Second,
}

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters and the provider latency histogram.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a [Metrics]. When cfg.Enabled is false every
// operation is a no-op.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into the histogram for id. Only MetricProviderLatency
// has a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id != MetricProviderLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter, and the latency histogram when enabled.
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
		if id == MetricProviderLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricProviderLatency].buckets[i])
		}
		s.Histograms[MetricProviderLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	for i, bound := range HistogramBucketBounds {
		if d <= bound {
			return i
		}
	}
	return histBucketCount - 1
}
