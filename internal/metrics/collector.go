package metrics

import (
	"time"

	"github.com/obsidian-copilot/transport-core/pkg/types"
)

// Collector provides methods to record transport-core metrics. It has no
// internal state of its own: every recorded value lives in the package's
// promauto-registered vectors, so a Collector is cheap to construct and
// safe to share.
type Collector struct{}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// RecordMessage records the outcome of a single message send.
func (c *Collector) RecordMessage(transport types.TransportKind, msgType types.MessageType, success bool, latency time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	MessagesTotal.WithLabelValues(string(transport), string(msgType), outcome).Inc()
	MessageLatency.WithLabelValues(string(transport), string(msgType)).Observe(latency.Seconds())
}

// RecordHealth updates the connection-state and error-rate gauges from a
// health snapshot.
func (c *Collector) RecordHealth(snapshot types.HealthSnapshot) {
	for _, state := range []types.ConnectionState{
		types.StateDisconnected, types.StateConnecting, types.StateConnected,
		types.StateReconnecting, types.StateFailed,
	} {
		value := 0.0
		if snapshot.ConnectionState == state {
			value = 1.0
		}
		TransportConnectionState.WithLabelValues(string(snapshot.Transport), string(state)).Set(value)
	}

	for _, state := range []types.CircuitState{types.CircuitClosed, types.CircuitOpen, types.CircuitHalfOpen} {
		value := 0.0
		if snapshot.CircuitState == state {
			value = 1.0
		}
		CircuitState.WithLabelValues(string(snapshot.Transport), string(state)).Set(value)
	}

	ErrorRate.WithLabelValues(string(snapshot.Transport)).Set(snapshot.ErrorRate)
}

// RecordCircuitTransition records a circuit breaker state change.
func (c *Collector) RecordCircuitTransition(transport types.TransportKind, from, to types.CircuitState) {
	CircuitTransitionsTotal.WithLabelValues(string(transport), string(from), string(to)).Inc()
}

// RecordTransportSwitch records a manager-initiated failover.
func (c *Collector) RecordTransportSwitch(from, to types.TransportKind) {
	TransportSwitchesTotal.WithLabelValues(string(from), string(to)).Inc()
}

// RecordSelection records a model-selection decision.
func (c *Collector) RecordSelection(taskType types.TaskType, confidence float64, fallback bool) {
	outcome := "selected"
	if fallback {
		outcome = "fallback"
	}
	SelectionsTotal.WithLabelValues(string(taskType), outcome).Inc()
	SelectionConfidence.WithLabelValues(string(taskType)).Observe(confidence)
}

// SetPendingRequests reports the current pending-request count for a
// transport.
func (c *Collector) SetPendingRequests(transport types.TransportKind, count int) {
	PendingRequests.WithLabelValues(string(transport)).Set(float64(count))
}
