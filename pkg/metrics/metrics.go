package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Transaction metrics
	TxnCommitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sdpconfig_txn_commits_total",
			Help: "Total number of transactions successfully committed",
		},
	)

	TxnConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sdpconfig_txn_conflicts_total",
			Help: "Total number of commit attempts that hit a predicate conflict and were retried",
		},
	)

	TxnRetriesExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sdpconfig_txn_retries_exhausted_total",
			Help: "Total number of transactions that gave up after exhausting their commit retry budget",
		},
	)

	TxnCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sdpconfig_txn_commit_duration_seconds",
			Help:    "Time from Run's first attempt to a successful commit, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Watcher metrics
	WatchWakeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdpconfig_watch_wake_total",
			Help: "Total number of times a watcher woke a waiting caller, by reason",
		},
		[]string{"reason"},
	)

	WatchWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sdpconfig_watch_wait_duration_seconds",
			Help:    "Time a caller spent blocked in Subscription.Wait before waking",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Lease metrics
	LeaseKeepaliveFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sdpconfig_lease_keepalive_failures_total",
			Help: "Total number of failed lease keepalive refresh attempts",
		},
	)
)

func init() {
	prometheus.MustRegister(TxnCommitsTotal)
	prometheus.MustRegister(TxnConflictsTotal)
	prometheus.MustRegister(TxnRetriesExhaustedTotal)
	prometheus.MustRegister(TxnCommitDuration)
	prometheus.MustRegister(WatchWakeTotal)
	prometheus.MustRegister(WatchWaitDuration)
	prometheus.MustRegister(LeaseKeepaliveFailuresTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
