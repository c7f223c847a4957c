// Package metrics provides Prometheus metrics for the channel router.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "channel_router"

var (
	// InboundMessagesTotal counts webhook deliveries by how they ended
	InboundMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inbound",
			Name:      "messages_total",
			Help:      "Inbound messages by outcome",
		},
		[]string{"outcome"},
	)

	// RoutingDecisionsTotal counts resolved routes by source
	RoutingDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "decisions_total",
			Help:      "Routing decisions by source",
		},
		[]string{"source"},
	)

	// PairingTransitionsTotal counts pairing status changes
	PairingTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pairing",
			Name:      "transitions_total",
			Help:      "Pairing code status transitions",
		},
		[]string{"status"},
	)

	// DispatchDuration tracks how long a downstream took to produce a reply
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Duration of downstream reply generation in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"path", "status"},
	)

	// OutboundSendsTotal counts replies handed to the transport
	OutboundSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbound",
			Name:      "sends_total",
			Help:      "Outbound sends by status",
		},
		[]string{"status"},
	)

	// EventsDroppedTotal counts observability records lost to a full queue
	EventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Observability records dropped because the queue was full",
		},
	)
)

// Inbound outcomes
const (
	OutcomeMissingSender = "missing_sender"
	OutcomeEmptyText     = "empty_text"
	OutcomePaired        = "paired"
	OutcomeUnroutable    = "unroutable"
	OutcomeDispatched    = "dispatched"
	OutcomeFailed        = "failed"
)
