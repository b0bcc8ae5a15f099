// Package metrics implements the Prometheus-backed telemetry component
// (§6.6), grounded on the naming convention the teacher's stats package
// uses for counters and latencies (stats/target_stats.go) but wired to
// github.com/prometheus/client_golang instead of a hand-rolled registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Set groups every metric the core emits. Callers embedding the core into
// their own process pass their own registry to NewSet, or use
// NewSet(prometheus.DefaultRegisterer).
type Set struct {
	FetchCount     *prometheus.CounterVec
	SyncDuration   *prometheus.HistogramVec
	BucketCount    *prometheus.CounterVec
	StateGauge     *prometheus.GaugeVec
	SyncErrorCount *prometheus.CounterVec
}

// Bucket labels for BucketCount, matching the reconciler's five buckets.
const (
	BucketPutLocal    = "put_local"
	BucketPutRemote   = "put_remote"
	BucketDelLocal    = "del_local"
	BucketDelRemote   = "del_remote"
	BucketUpdateLocal = "update_local"
)

// NewSet constructs and registers a Set against reg. reg may be nil, in
// which case the metrics are constructed but left unregistered (useful in
// tests that don't want to pollute prometheus.DefaultRegisterer).
func NewSet(reg prometheus.Registerer) *Set {
	s := &Set{
		FetchCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "usersync",
			Name:      "fetch_total",
			Help:      "Number of rate-limited provider fetches issued, by service.",
		}, []string{"service"}),
		SyncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "usersync",
			Name:      "sync_duration_seconds",
			Help:      "Duration of a completed sync() run, by service and outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "outcome"}),
		BucketCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "usersync",
			Name:      "reconcile_bucket_total",
			Help:      "Number of scripts classified into each reconciler bucket, by service.",
		}, []string{"service", "bucket"}),
		StateGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "usersync",
			Name:      "state",
			Help:      "1 for the currently-held state value of a state cell, 0 otherwise.",
		}, []string{"service", "cell", "value"}),
		SyncErrorCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "usersync",
			Name:      "sync_errors_total",
			Help:      "Number of sync() runs that ended in syncState=error, by service.",
		}, []string{"service"}),
	}
	if reg != nil {
		reg.MustRegister(s.FetchCount, s.SyncDuration, s.BucketCount, s.StateGauge, s.SyncErrorCount)
	}
	return s
}

// ObserveState flips the gauge for (service, cell, newValue) to 1 and the
// gauge for every other value in allValues for that (service, cell) pair to 0.
func (s *Set) ObserveState(service, cell string, allValues []string, newValue string) {
	for _, v := range allValues {
		if v == newValue {
			s.StateGauge.WithLabelValues(service, cell, v).Set(1)
		} else {
			s.StateGauge.WithLabelValues(service, cell, v).Set(0)
		}
	}
}
