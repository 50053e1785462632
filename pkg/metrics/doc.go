/*
Package metrics defines and registers the Prometheus metrics this
client exposes: transaction outcomes, watcher wake behavior, and lease
keepalive health. Metrics are registered against the default
Prometheus registry at package init and exposed via Handler for
scraping.

# Metrics Catalog

sdpconfig_txn_commits_total:
  - Type: Counter
  - Description: Transactions successfully committed

sdpconfig_txn_conflicts_total:
  - Type: Counter
  - Description: Commit attempts that hit a predicate conflict and were retried

sdpconfig_txn_retries_exhausted_total:
  - Type: Counter
  - Description: Transactions that gave up after exhausting their commit retry budget

sdpconfig_txn_commit_duration_seconds:
  - Type: Histogram
  - Description: Time from Run's first attempt to a successful commit

sdpconfig_watch_wake_total{reason}:
  - Type: Counter
  - Labels: reason ("point", "range_insert", "range_delete")
  - Description: Times a Subscription's Wait was woken, by the filtering rule that let the event through

sdpconfig_watch_wait_duration_seconds:
  - Type: Histogram
  - Description: Time a caller spent blocked in Subscription.Wait before waking

sdpconfig_lease_keepalive_failures_total:
  - Type: Counter
  - Description: Failed lease keepalive refresh attempts

# Usage

	timer := metrics.NewTimer()
	err := runner.Run(ctx, fn)
	timer.ObserveDuration(metrics.TxnCommitDuration)
	if err != nil {
		metrics.TxnRetriesExhaustedTotal.Inc()
	}

	http.Handle("/metrics", metrics.Handler())
*/
package metrics
