package authgate

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one counter (or the refresh latency histogram) in [Metrics].
type MetricID uint16

const (
	// MetricRequest counts requests sent through the pipeline, replays excluded.
	MetricRequest MetricID = iota
	// MetricRequestTransportError counts requests that received no response.
	MetricRequestTransportError
	// MetricAuthorizationDenied counts 401 responses on first attempts.
	MetricAuthorizationDenied
	// MetricRefreshStarted counts refresh flights that reached the network.
	MetricRefreshStarted
	// MetricRefreshJoined counts callers that attached to an in-flight refresh.
	MetricRefreshJoined
	MetricRefreshSuccess
	MetricRefreshExpired
	MetricRefreshUnavailable
	// MetricRefreshSoftFailure counts refreshes that failed without clearing the session.
	MetricRefreshSoftFailure
	// MetricRefreshDiscarded counts refresh results dropped because the session was signed out
	// or replaced during the exchange.
	MetricRefreshDiscarded
	MetricPendingQueued
	MetricPendingReplayed
	MetricPendingRejected
	MetricPendingTimeout
	MetricPendingQueueFull
	// MetricReplay counts replays of the request that triggered a refresh.
	MetricReplay
	// MetricReplayDenied counts replayed requests denied a second time.
	MetricReplayDenied
	// MetricStaleTokenReplay counts replays that reused a token refreshed by someone else.
	MetricStaleTokenReplay
	MetricPreemptiveRefresh
	MetricAntiForgeryFetch
	MetricAntiForgeryFailure
	MetricSignInSuccess
	MetricSignInFailure
	MetricLogout
	MetricLogoutFailure
	MetricSessionCleared
	MetricSignInRequired
	// MetricRefreshLatency is the refresh round-trip histogram. Its counter slot is unused.
	MetricRefreshLatency
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

// Metrics holds lock-free counters for one client. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of a client's counters and, when enabled, its
// latency histogram buckets.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns a metrics set configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether the refresh latency histogram is recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to id. It is a no-op on a nil or disabled Metrics and is safe for concurrent use.
func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

// Add increments id by n.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount || n == 0 {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Observe records d in the histogram of id. Only MetricRefreshLatency carries a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricRefreshLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current value of counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter, and the latency histogram when enabled. A disabled Metrics
// yields empty maps.
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
		if id == MetricRefreshLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricRefreshLatency].buckets[i])
		}
		s.Histograms[MetricRefreshLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 25:
		return 0
	case ms <= 50:
		return 1
	case ms <= 100:
		return 2
	case ms <= 250:
		return 3
	case ms <= 500:
		return 4
	case ms <= 1000:
		return 5
	case ms <= 2500:
		return 6
	default:
		return 7
	}
}
