package webhooks

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tuckshop",
		Subsystem: "webhooks",
		Name:      "events_total",
		Help:      "Inbound gateway events by type and result.",
	}, []string{"kind", "result"})

	signatureFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tuckshop",
		Subsystem: "webhooks",
		Name:      "signature_failures_total",
		Help:      "Deliveries rejected at signature verification.",
	}, []string{"flow"})

	redeliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tuckshop",
		Subsystem: "webhooks",
		Name:      "redeliveries_total",
		Help:      "Deliveries whose event id was already recorded.",
	})
)

func init() {
	prometheus.MustRegister(eventsReceived, signatureFailures, redeliveries)
}
