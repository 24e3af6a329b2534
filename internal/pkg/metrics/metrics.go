// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tableside",
		Name:      "orders_created_total",
		Help:      "Orders accepted at creation, by service type.",
	}, []string{"service_type"})

	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tableside",
		Name:      "order_transitions_total",
		Help:      "Order status transitions, by target status and outcome.",
	}, []string{"to", "outcome"})

	RequestTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tableside",
		Name:      "service_request_transitions_total",
		Help:      "Service request status transitions, by target status and outcome.",
	}, []string{"to", "outcome"})

	DeliveryQuotes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tableside",
		Name:      "delivery_quotes_total",
		Help:      "Delivery fee quotes, by result (in_range, out_of_range, error, cached).",
	}, []string{"result"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tableside",
		Name:      "change_events_published_total",
		Help:      "Change events published, by entity type and outcome.",
	}, []string{"entity_type", "outcome"})

	EventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tableside",
		Name:      "change_events_applied_total",
		Help:      "Change events processed by a role view, by result.",
	}, []string{"result"})

	GatewayConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tableside",
		Name:      "push_gateway_connections",
		Help:      "Open websocket connections on this push gateway node.",
	})

	AlertsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tableside",
		Name:      "alerts_fired_total",
		Help:      "Alerts dispatched, by pattern and output.",
	}, []string{"pattern", "output"})
)
