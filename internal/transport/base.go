package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	transporterrors "github.com/obsidian-copilot/transport-core/pkg/errors"
	"github.com/obsidian-copilot/transport-core/internal/resilience"
	"github.com/obsidian-copilot/transport-core/pkg/types"
)

// DefaultSendTimeout is used when neither the selection context nor a
// transport-specific default supplies a deadline.
const DefaultSendTimeout = 30 * time.Second

// BaseTransport supplies the behavior spec §4.1 requires of every
// transport: configuration/state handling, health-record maintenance,
// circuit-breaker gating, the `connected`/`disconnected`/`error`/`message`/
// `health_changed` event surface, and request id generation. Concrete
// transports embed *BaseTransport and implement Connect/Disconnect/Send,
// calling back into Guard/ResolveDeadline/RecordResult/NextRequestID and
// the SetState/Emit helpers below.
type BaseTransport struct {
	kind           types.TransportKind
	caps           types.Capabilities
	defaultTimeout time.Duration

	mu     sync.RWMutex
	state  types.ConnectionState
	health healthRecord

	breaker *resilience.CircuitBreaker
	emitter *emitter
	logger  *slog.Logger
}

// NewBaseTransport constructs a BaseTransport in the disconnected state
// with a fresh, closed circuit breaker.
func NewBaseTransport(kind types.TransportKind, caps types.Capabilities, cbConfig resilience.CircuitBreakerConfig, defaultTimeout time.Duration, logger *slog.Logger, debug bool) *BaseTransport {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultSendTimeout
	}

	bt := &BaseTransport{
		kind:           kind,
		caps:           caps,
		defaultTimeout: defaultTimeout,
		state:          types.StateDisconnected,
		breaker:        resilience.NewCircuitBreaker(string(kind), cbConfig),
		emitter:        newEmitter(logger, debug),
		logger:         logger,
	}

	bt.breaker.OnStateChange(func(name string, from, to types.CircuitState) {
		bt.emitter.emit(TransportEvent{
			Name:      EventHealthChanged,
			Transport: bt.kind,
			Health:    bt.Health(),
		})
	})

	return bt
}

// Kind returns the transport's physical channel kind.
func (bt *BaseTransport) Kind() types.TransportKind {
	return bt.kind
}

// Capabilities returns the static capability descriptor.
func (bt *BaseTransport) Capabilities() types.Capabilities {
	return bt.caps
}

// State returns the current connection state.
func (bt *BaseTransport) State() types.ConnectionState {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.state
}

// Health returns a point-in-time snapshot of the rolling health record.
func (bt *BaseTransport) Health() types.HealthSnapshot {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.health.snapshot(bt.kind, bt.state, bt.breaker.State())
}

// On registers listener for event.
func (bt *BaseTransport) On(event EventName, listener Listener) SubscriptionID {
	return bt.emitter.On(event, listener)
}

// Off removes a previously registered listener.
func (bt *BaseTransport) Off(event EventName, id SubscriptionID) {
	bt.emitter.Off(event, id)
}

// SetConnected transitions to `connected` and emits `connected`, unless
// already connected (idempotent per spec §4.1).
func (bt *BaseTransport) SetConnected() {
	bt.mu.Lock()
	already := bt.state == types.StateConnected
	bt.state = types.StateConnected
	bt.mu.Unlock()

	if !already {
		bt.emitter.emit(TransportEvent{Name: EventConnected, Transport: bt.kind})
	}
}

// SetDisconnected transitions to `disconnected` and emits `disconnected`,
// unless already disconnected.
func (bt *BaseTransport) SetDisconnected() {
	bt.mu.Lock()
	already := bt.state == types.StateDisconnected
	bt.state = types.StateDisconnected
	bt.mu.Unlock()

	if !already {
		bt.emitter.emit(TransportEvent{Name: EventDisconnected, Transport: bt.kind})
	}
}

// SetState forces an arbitrary state transition (connecting, reconnecting,
// failed) without emitting connected/disconnected; used by transports
// whose lifecycle has intermediate states.
func (bt *BaseTransport) SetState(state types.ConnectionState) {
	bt.mu.Lock()
	bt.state = state
	bt.mu.Unlock()
}

// EmitMessage emits a `message` event carrying an inbound frame.
func (bt *BaseTransport) EmitMessage(msg *types.Message) {
	bt.emitter.emit(TransportEvent{Name: EventMessage, Transport: bt.kind, Message: msg})
}

// EmitError emits an `error` event; used for channel-level failures that
// don't correspond to a single pending send (e.g. a dropped socket).
func (bt *BaseTransport) EmitError(err error) {
	bt.emitter.emit(TransportEvent{Name: EventError, Transport: bt.kind, Err: err})
}

// Guard reports whether a send may proceed, returning the TransportError
// to fail fast with otherwise. It is the first call every concrete Send
// implementation makes.
func (bt *BaseTransport) Guard() error {
	if bt.State() != types.StateConnected {
		return transporterrors.NewNotConnected(string(bt.kind))
	}
	if !bt.breaker.Allow() {
		return transporterrors.NewCircuitOpen(string(bt.kind))
	}
	return nil
}

// ResolveDeadline returns a child context bound by selCtx.MaxLatencyMs if
// set, else the transport's configured default.
func (bt *BaseTransport) ResolveDeadline(ctx context.Context, selCtx types.SelectionContext) (context.Context, context.CancelFunc) {
	timeout := bt.defaultTimeout
	if selCtx.MaxLatencyMs > 0 {
		timeout = time.Duration(selCtx.MaxLatencyMs) * time.Millisecond
	}
	return context.WithTimeout(ctx, timeout)
}

// RecordResult folds a completed send's outcome into the health record and
// the circuit breaker, emitting `health_changed` when the health-record
// itself crosses an emission threshold (the breaker's own transitions emit
// independently via the OnStateChange hook wired in NewBaseTransport).
func (bt *BaseTransport) RecordResult(success bool, latency time.Duration) {
	if success {
		bt.breaker.RecordSuccess()
	} else {
		bt.breaker.RecordFailure()
	}

	bt.mu.Lock()
	changed := bt.health.record(success, float64(latency.Milliseconds()))
	snap := bt.health.snapshot(bt.kind, bt.state, bt.breaker.State())
	bt.mu.Unlock()

	if changed {
		bt.emitter.emit(TransportEvent{Name: EventHealthChanged, Transport: bt.kind, Health: snap})
	}
}

// NextRequestID mints a fresh request id for an outbound Message.
func (bt *BaseTransport) NextRequestID() string {
	return uuid.NewString()
}

// Logger exposes the transport's logger to embedding concrete types.
func (bt *BaseTransport) Logger() *slog.Logger {
	return bt.logger
}
