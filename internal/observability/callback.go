// Package observability provides a callback dispatch system for transport
// events. This follows the teacher's LiteLLM-style CustomLogger pattern,
// generalized from per-LLM-call logging to per-transport-event dispatch.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/obsidian-copilot/transport-core/pkg/types"
)

// EventType identifies the kind of transport or manager event being
// dispatched to callbacks.
type EventType string

const (
	EventConnected         EventType = "connected"
	EventDisconnected      EventType = "disconnected"
	EventMessage           EventType = "message"
	EventHealthChanged     EventType = "health_changed"
	EventTransportSwitched EventType = "transport_switched"
	EventTransportFailed   EventType = "transport_failed"
	EventHealthUpdated     EventType = "health_updated"
)

// Event is the unified payload dispatched to every registered callback.
// Only the fields relevant to Type are populated; callbacks must switch on
// Type before reading the rest.
type Event struct {
	Type      EventType
	Transport types.TransportKind
	Timestamp time.Time

	// EventMessage
	Message  *types.Message
	Response *types.Response

	// EventHealthChanged / EventHealthUpdated
	Health *types.HealthSnapshot

	// EventTransportSwitched
	FallbackTo types.TransportKind

	// EventTransportFailed / circuit-open transitions
	Err error

	// Free-form context (request IDs, correlation IDs, reason strings).
	Metadata map[string]string
}

// Callback receives dispatched transport events. Implementations must not
// block for long: Dispatcher invokes OnEvent with a bounded-timeout context
// and treats a returned error as log-and-continue, never propagating it to
// the caller that triggered the event.
type Callback interface {
	Name() string
	OnEvent(ctx context.Context, evt Event) error
	Shutdown(ctx context.Context) error
}

// defaultDispatchTimeout is the deadline set on the context handed to each
// callback invocation. Dispatcher itself never waits on a callback.
const defaultDispatchTimeout = 5 * time.Second

// Dispatcher fans an Event out to every registered Callback. Per the
// ordering guarantee ("a thrown listener does not prevent subsequent
// listeners from running"), each callback runs independently: a panic or
// error from one never affects another, and the event path itself never
// blocks on callback completion.
type Dispatcher struct {
	callbacks []Callback
	logger    *Logger
	timeout   time.Duration
}

// NewDispatcher creates a new event dispatcher.
func NewDispatcher(logger *Logger) *Dispatcher {
	if logger == nil {
		logger = NewLogger(LoggerConfig{Level: slog.LevelInfo, JSONFormat: true}, nil)
	}
	return &Dispatcher{
		logger:  logger,
		timeout: defaultDispatchTimeout,
	}
}

// Register adds a callback to the dispatcher.
func (d *Dispatcher) Register(cb Callback) {
	d.callbacks = append(d.callbacks, cb)
}

// Unregister removes a callback by name.
func (d *Dispatcher) Unregister(name string) {
	for i, cb := range d.callbacks {
		if cb.Name() == name {
			d.callbacks = append(d.callbacks[:i], d.callbacks[i+1:]...)
			return
		}
	}
}

// Callbacks returns the currently registered callback names, in
// registration order.
func (d *Dispatcher) Callbacks() []string {
	names := make([]string, len(d.callbacks))
	for i, cb := range d.callbacks {
		names[i] = cb.Name()
	}
	return names
}

// Dispatch sends evt to every registered callback. Each invocation runs in
// its own goroutine under a bounded timeout; a panicking or erroring
// callback is logged and never prevents its siblings from running.
func (d *Dispatcher) Dispatch(ctx context.Context, evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	for _, cb := range d.callbacks {
		go d.invoke(ctx, cb, evt)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, cb Callback, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("callback panicked", "callback", cb.Name(), "event", evt.Type, "recovered", fmt.Sprint(r))
		}
	}()

	cbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if err := cb.OnEvent(cbCtx, evt); err != nil {
		d.logger.Error("callback failed", "callback", cb.Name(), "event", evt.Type, "error", err)
	}
}

// Shutdown gracefully shuts down all registered callbacks.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, cb := range d.callbacks {
		if err := cb.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
