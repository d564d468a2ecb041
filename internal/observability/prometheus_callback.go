// Package observability provides a Prometheus callback implementation.
package observability

import (
	"context"

	"github.com/obsidian-copilot/transport-core/internal/metrics"
	"github.com/obsidian-copilot/transport-core/pkg/types"
)

// PrometheusCallback records every dispatched event into the
// internal/metrics collector vectors.
type PrometheusCallback struct {
	collector *metrics.Collector
}

// NewPrometheusCallback creates a new Prometheus callback.
func NewPrometheusCallback() *PrometheusCallback {
	return &PrometheusCallback{
		collector: metrics.NewCollector(),
	}
}

// Name returns the callback name.
func (p *PrometheusCallback) Name() string {
	return "prometheus"
}

// OnEvent records metrics for evt. Per-message latency is recorded by
// cmd/bridge directly via the collector, off the manager's message_sent
// event; this callback covers the event types that carry no timing
// information of their own.
func (p *PrometheusCallback) OnEvent(ctx context.Context, evt Event) error {
	switch evt.Type {
	case EventHealthChanged, EventHealthUpdated, EventTransportFailed:
		if evt.Health != nil {
			p.collector.RecordHealth(*evt.Health)
		}

	case EventTransportSwitched:
		p.collector.RecordTransportSwitch(evt.Transport, evt.FallbackTo)

	case EventConnected:
		p.collector.RecordHealth(types.HealthSnapshot{
			Transport:       evt.Transport,
			ConnectionState: types.StateConnected,
			CircuitState:    types.CircuitClosed,
		})

	case EventDisconnected:
		p.collector.RecordHealth(types.HealthSnapshot{
			Transport:       evt.Transport,
			ConnectionState: types.StateDisconnected,
			CircuitState:    types.CircuitClosed,
		})
	}
	return nil
}

// Shutdown is a no-op: Prometheus vectors outlive any single callback
// instance.
func (p *PrometheusCallback) Shutdown(ctx context.Context) error {
	return nil
}
