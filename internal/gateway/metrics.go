package gateway

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tuckshop-za/tuckshop/internal/payment"
)

var (
	checkoutsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tuckshop",
		Subsystem: "gateway",
		Name:      "checkouts_total",
		Help:      "Checkout attempts by provider and result.",
	}, []string{"provider", "result"})

	providerLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tuckshop",
		Subsystem: "gateway",
		Name:      "provider_latency_seconds",
		Help:      "Latency of payment provider API calls.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"provider"})

	abandonedCheckouts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tuckshop",
		Subsystem: "gateway",
		Name:      "abandoned_checkouts_total",
		Help:      "Pending payments failed by the sweeper because no checkout was ever opened.",
	})
)

func init() {
	prometheus.MustRegister(checkoutsTotal, providerLatency, abandonedCheckouts)
}

func checkoutResult(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, ErrInvalidPlan), errors.Is(err, ErrPriceMismatch):
		return "rejected"
	case errors.Is(err, payment.ErrDuplicate), errors.Is(err, payment.ErrNotPending):
		return "conflict"
	case errors.Is(err, ErrProviderFailed):
		return "provider_error"
	default:
		return "error"
	}
}
