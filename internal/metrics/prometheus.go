// Package metrics provides Prometheus metrics collection for the transport
// core: per-transport health, circuit-breaker state, request latency, and
// selection outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "transport_core"

// LatencyBuckets defines histogram buckets for latency metrics (in seconds).
var LatencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
	1.0, 2.5, 5.0, 10.0, 30.0,
}

var (
	// MessagesTotal counts messages sent per transport and outcome.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Total number of messages sent, by transport and outcome",
		},
		[]string{"transport", "message_type", "outcome"},
	)

	// MessageLatency tracks round-trip latency per transport.
	MessageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_latency_seconds",
			Help:      "Message round-trip latency in seconds, by transport",
			Buckets:   LatencyBuckets,
		},
		[]string{"transport", "message_type"},
	)

	// TransportConnectionState reports the current connection state as a
	// gauge (1 for the active state, 0 otherwise) per transport/state pair.
	TransportConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transport_connection_state",
			Help:      "Current connection state per transport (1 = active state)",
		},
		[]string{"transport", "state"},
	)

	// CircuitState reports the current circuit breaker state as a gauge.
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_state",
			Help:      "Current circuit breaker state per transport (1 = active state)",
		},
		[]string{"transport", "state"},
	)

	// CircuitTransitionsTotal counts circuit breaker state transitions.
	CircuitTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"transport", "from", "to"},
	)

	// ErrorRate reports the rolling error rate per transport.
	ErrorRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transport_error_rate",
			Help:      "Rolling error rate per transport, in [0,1]",
		},
		[]string{"transport"},
	)

	// TransportSwitchesTotal counts manager-initiated failovers between
	// transports.
	TransportSwitchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_switches_total",
			Help:      "Total number of failovers from one transport to another",
		},
		[]string{"from", "to"},
	)

	// SelectionsTotal counts model-selection outcomes.
	SelectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_selections_total",
			Help:      "Total number of model selection decisions, by outcome",
		},
		[]string{"task_type", "outcome"},
	)

	// SelectionConfidence tracks the confidence score of selection
	// responses.
	SelectionConfidence = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_selection_confidence",
			Help:      "Confidence score of model selection responses",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"task_type"},
	)

	// PendingRequests reports the number of in-flight pending requests per
	// transport.
	PendingRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Number of in-flight pending requests awaiting a response",
		},
		[]string{"transport"},
	)
)
