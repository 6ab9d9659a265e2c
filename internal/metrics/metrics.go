// Package metrics exposes the synchronization layer's counters to Prometheus
// and keeps fetch latency quantiles in DDSketches.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "solsync"

// Recorder groups the counters of one Client. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	notModified *prometheus.CounterVec
	anomalies   *prometheus.CounterVec
	dedupShared *prometheus.CounterVec
	fetchErrors *prometheus.CounterVec
	fallbacks   prometheus.Counter
	polls       prometheus.Counter

	latency *LatencyTracker
}

// New creates a Recorder and registers its collectors on reg. A nil reg
// leaves the collectors unregistered, which is what tests want.
func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_hits_total",
			Help: "Fetches answered from a fresh in-memory entry.",
		}, []string{"resource"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_misses_total",
			Help: "Fetches that reached the network.",
		}, []string{"resource"}),
		notModified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "not_modified_total",
			Help: "Conditional requests confirmed with 304.",
		}, []string{"resource"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "revalidation_anomalies_total",
			Help: "304 responses received for keys without a cached entry.",
		}, []string{"resource"}),
		dedupShared: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dedup_shared_total",
			Help: "Callers served by another caller's in-flight request.",
		}, []string{"resource"}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "fetch_errors_total",
			Help: "Failed fetches.",
		}, []string{"resource"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifier_fallbacks_total",
			Help: "Change notifier transitions from streaming to polling.",
		}),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifier_polls_total",
			Help: "Stats polls issued by the change notifier.",
		}),
		latency: NewLatencyTracker(0.01),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{
			r.cacheHits, r.cacheMisses, r.notModified, r.anomalies,
			r.dedupShared, r.fetchErrors, r.fallbacks, r.polls,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

func (r *Recorder) CacheHit(resource string) {
	if r != nil {
		r.cacheHits.WithLabelValues(resource).Inc()
	}
}

func (r *Recorder) CacheMiss(resource string) {
	if r != nil {
		r.cacheMisses.WithLabelValues(resource).Inc()
	}
}

func (r *Recorder) NotModified(resource string) {
	if r != nil {
		r.notModified.WithLabelValues(resource).Inc()
	}
}

func (r *Recorder) Anomaly(resource string) {
	if r != nil {
		r.anomalies.WithLabelValues(resource).Inc()
	}
}

func (r *Recorder) DedupShared(resource string) {
	if r != nil {
		r.dedupShared.WithLabelValues(resource).Inc()
	}
}

func (r *Recorder) FetchError(resource string) {
	if r != nil {
		r.fetchErrors.WithLabelValues(resource).Inc()
	}
}

func (r *Recorder) Fallback() {
	if r != nil {
		r.fallbacks.Inc()
	}
}

func (r *Recorder) Poll() {
	if r != nil {
		r.polls.Inc()
	}
}

// ObserveLatency records how long one round-trip to endpoint took.
func (r *Recorder) ObserveLatency(endpoint string, d time.Duration) {
	if r != nil {
		r.latency.Record(endpoint, d)
	}
}

// Latency returns the latency tracker, or nil for a nil Recorder.
func (r *Recorder) Latency() *LatencyTracker {
	if r == nil {
		return nil
	}
	return r.latency
}
