// Package metrics provides the service-wide Prometheus instrumentation.
// Package-specific counters live next to the code that increments them.
package metrics

import (
	"database/sql"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tuckshop"

// Request metrics. The path label is the gin route template so cardinality
// stays bounded by the route table.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route template and status class.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method and route template.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"method", "path"})
)

// Billing metrics.
var (
	// PlanTransitionsTotal counts plan changes that were written.
	PlanTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "plan_transitions_total",
		Help:      "Applied plan transitions by source and target plan.",
	}, []string{"from", "to"})

	// DispatchTotal counts verified gateway events by kind and outcome.
	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_events_total",
		Help:      "Payment events dispatched by kind and outcome.",
	}, []string{"kind", "outcome"})

	// PollOutcomesTotal counts confirmation poll results.
	PollOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "confirmation_polls_total",
		Help:      "Confirmation poll results by flow and outcome.",
	}, []string{"flow", "outcome"})

	ActiveWebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_websocket_clients",
		Help:      "Connected realtime confirmation listeners.",
	})
)

// RegisterDB exports connection pool statistics for db. Registering the same
// pool twice is a no-op.
func RegisterDB(db *sql.DB, name string) error {
	err := prometheus.Register(collectors.NewDBStatsCollector(db, name))
	var dup prometheus.AlreadyRegisteredError
	if errors.As(err, &dup) {
		return nil
	}
	return err
}

// Middleware records request count and latency.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		observe := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(c.Request.Method, route))
		defer func() {
			observe.ObserveDuration()
			HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, statusBucket(c.Writer.Status())).Inc()
		}()
		c.Next()
	}
}

// Handler serves the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// statusBucket collapses a status code to its class, e.g. 404 -> "4xx".
func statusBucket(code int) string {
	class := code / 100
	if class < 1 {
		class = 1
	}
	if class > 5 {
		class = 5
	}
	return strconv.Itoa(class) + "xx"
}
