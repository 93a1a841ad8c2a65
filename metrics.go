package authcore

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one counter or histogram in the in-process metrics
// system.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginLocked
	MetricAccountInactiveRejected
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuseDetected
	MetricVerifySuccess
	MetricVerifyFailure
	MetricTokenRevokedRejected
	MetricTokenVersionStaleRejected
	MetricLogout
	MetricLogoutAll
	MetricSessionCreated
	MetricSessionRevoked
	MetricPasswordChanged
	MetricPasswordResetRequested
	MetricPasswordResetConfirmed
	MetricPasswordResetRejected
	MetricKeyRotated
	MetricVerifyLatency
	metricIDCount
)

// MetricName returns the export name of a metric, stable across releases.
func MetricName(id MetricID) string {
	switch id {
	case MetricLoginSuccess:
		return "login_success_total"
	case MetricLoginFailure:
		return "login_failure_total"
	case MetricLoginLocked:
		return "login_locked_total"
	case MetricAccountInactiveRejected:
		return "account_inactive_rejected_total"
	case MetricRefreshSuccess:
		return "refresh_success_total"
	case MetricRefreshFailure:
		return "refresh_failure_total"
	case MetricRefreshReuseDetected:
		return "refresh_reuse_detected_total"
	case MetricVerifySuccess:
		return "verify_success_total"
	case MetricVerifyFailure:
		return "verify_failure_total"
	case MetricTokenRevokedRejected:
		return "token_revoked_rejected_total"
	case MetricTokenVersionStaleRejected:
		return "token_version_stale_rejected_total"
	case MetricLogout:
		return "logout_total"
	case MetricLogoutAll:
		return "logout_all_total"
	case MetricSessionCreated:
		return "session_created_total"
	case MetricSessionRevoked:
		return "session_revoked_total"
	case MetricPasswordChanged:
		return "password_changed_total"
	case MetricPasswordResetRequested:
		return "password_reset_requested_total"
	case MetricPasswordResetConfirmed:
		return "password_reset_confirmed_total"
	case MetricPasswordResetRejected:
		return "password_reset_rejected_total"
	case MetricKeyRotated:
		return "signing_key_rotated_total"
	case MetricVerifyLatency:
		return "verify_latency_ms"
	default:
		return "unknown"
	}
}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

// HistogramBucketBoundsMs are the upper bounds (ms) of the latency buckets;
// the last bucket is open-ended.
var HistogramBucketBoundsMs = [histBucketCount - 1]int64{5, 10, 25, 50, 100, 250, 500}

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

// paddedCounter keeps each counter on its own cache line so concurrent
// increments on different IDs never false-share.
type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds atomic counters and optional latency histograms. All
// methods are safe on a nil receiver, which behaves as disabled.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time deep copy of all metrics.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a [Metrics] instance. When Enabled is false all
// operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recording.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether histograms are recording.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to a counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records one latency sample.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricVerifyLatency {
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

// Snapshot deep-copies every counter and histogram.
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
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricVerifyLatency].buckets[i])
		}
		s.Histograms[MetricVerifyLatency] = buckets
	}

	return s
}

// MetricIDs returns every defined metric ID, for exporters.
func MetricIDs() []MetricID {
	ids := make([]MetricID, 0, int(metricIDCount))
	for id := MetricID(0); id < metricIDCount; id++ {
		ids = append(ids, id)
	}
	return ids
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()
	for i, bound := range HistogramBucketBoundsMs {
		if ms <= bound {
			return i
		}
	}
	return histBucketCount - 1
}
