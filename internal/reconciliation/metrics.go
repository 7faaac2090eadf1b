package reconciliation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func gauge(name, help string) prometheus.Gauge {
	return promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tuckshop", Subsystem: "reconciliation", Name: name, Help: help,
	})
}

// Gauges hold the result of the most recent pass.
var (
	conservationViolations = gauge("conservation_violations",
		"Affiliates whose lifetime, paid, pending and available balances disagree.")
	stalePayments = gauge("stale_pending_payments",
		"Pending payments older than the stale threshold.")

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tuckshop",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Wall time of a reconciliation pass.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 11),
	})
	runErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tuckshop",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Checks that failed to complete.",
	})
)
