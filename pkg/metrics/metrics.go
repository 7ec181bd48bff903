// Package metrics provides the centralized Prometheus metrics registry for
// the scanner. All metrics are defined in their respective packages
// (ratelimit, endata, scan, sink) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the scanner.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Pacing Metrics (pkg/ratelimit):
//   - cinescan_pace_reports_total{outcome} (Counter): Outcome reports by "success"/"failure"
//   - cinescan_pace_interval_seconds (Gauge): Current adaptive inter-request interval
//   - cinescan_pace_cooldowns_total (Counter): Error-storm cooldowns engaged
//   - cinescan_pace_cooldown_seconds (Histogram): Cooldown pause durations
//
// Lookup Metrics (pkg/endata):
//   - cinescan_lookups_total{outcome} (Counter): Lookups by outcome (record, no_record, error)
//   - cinescan_lookup_errors_total{class} (Counter): Lookup errors by class (client, server, network, decode)
//   - cinescan_lookup_duration_seconds (Histogram): Round-trip duration of one attempt
//
// Scan Metrics (pkg/scan):
//   - cinescan_queue_remaining (Gauge): Identifiers still waiting in the queue
//   - cinescan_workers_active (Gauge): Workers currently running
//   - cinescan_identifiers_total{outcome} (Counter): Finished identifiers by outcome
//     (record, no_record, failure, malformed, abandoned)
//   - cinescan_retries_total (Counter): Retry attempts across all identifiers
//   - cinescan_retry_backoff_seconds (Histogram): Backoff duration slept between retries
//
// Sink Metrics (pkg/sink):
//   - cinescan_snapshots_total{result} (Counter): Snapshot persists by "success"/"error"
//   - cinescan_snapshot_records (Gauge): Records contained in the latest snapshot
//   - cinescan_mirror_rows_total (Counter): Rows newly inserted by the Postgres mirror
//
// Example Prometheus Queries:
//
//   # Hit rate over the last 5 minutes
//   sum(rate(cinescan_identifiers_total{outcome="record"}[5m])) /
//   sum(rate(cinescan_identifiers_total[5m]))
//
//   # Current pacing interval
//   cinescan_pace_interval_seconds
//
//   # Storm pressure
//   rate(cinescan_pace_cooldowns_total[15m])
//
//   # P95 lookup latency
//   histogram_quantile(0.95, rate(cinescan_lookup_duration_seconds_bucket[5m]))
//
//   # Scan ETA: remaining / completion rate
//   cinescan_queue_remaining / sum(rate(cinescan_identifiers_total[5m]))
