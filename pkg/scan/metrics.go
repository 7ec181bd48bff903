package scan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the scan lifecycle.
var (
	queueRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cinescan_queue_remaining",
		Help: "Identifiers still waiting in the work queue",
	})

	workersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cinescan_workers_active",
		Help: "Workers currently running",
	})

	identifiersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cinescan_identifiers_total",
		Help: "Identifiers by terminal outcome",
	}, []string{"outcome"}) // "record", "no_record", "failure", "malformed", "abandoned"

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cinescan_retries_total",
		Help: "Total retry attempts across all identifiers",
	})

	retryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cinescan_retry_backoff_seconds",
		Help:    "Backoff duration slept between retries",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30},
	})
)
