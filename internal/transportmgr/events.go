// Package transportmgr implements the single coordinator that owns every
// configured transport, selects which one carries a given send, fans out
// inbound messages, monitors health, and fails over between transports on
// error.
package transportmgr

import (
	"log/slog"
	"sync"
	"time"

	"github.com/obsidian-copilot/transport-core/pkg/types"
)

// EventName is the closed set of events the manager emits. Distinct from
// (but mirroring the shape of) internal/transport's per-transport event
// surface: these fire at the coordinator level, not the channel level.
type EventName string

const (
	EventTransportConnected    EventName = "transport_connected"
	EventTransportDisconnected EventName = "transport_disconnected"
	EventTransportSwitched     EventName = "transport_switched"
	EventTransportFailed       EventName = "transport_failed"
	EventHealthUpdated         EventName = "health_updated"
	EventMessage               EventName = "message"
	EventMessageSent           EventName = "message_sent"
	EventCircuitTransition     EventName = "circuit_transition"
)

// ManagerEvent is the value passed to a registered Listener.
type ManagerEvent struct {
	Name       EventName
	Transport  types.TransportKind
	FallbackTo types.TransportKind
	Reason     string
	Message    *types.Message
	Health     map[types.TransportKind]types.HealthSnapshot
	Err        error

	// MsgType, Success, Latency, and PendingCount accompany EventMessageSent.
	MsgType      types.MessageType
	Success      bool
	Latency      time.Duration
	PendingCount int

	// CircuitFrom and CircuitTo accompany EventCircuitTransition.
	CircuitFrom types.CircuitState
	CircuitTo   types.CircuitState
}

// Listener observes a single manager event.
type Listener func(evt ManagerEvent)

// SubscriptionID identifies a registered listener for later removal via Off.
type SubscriptionID uint64

// emitter is the synchronous, ordered event bus backing Manager.On/Off,
// grounded on internal/transport's emitter: per spec §5, listeners for a
// single event fire in registration order and a panicking listener never
// stops the rest.
type emitter struct {
	mu      sync.Mutex
	nextID  SubscriptionID
	byEvent map[EventName][]subscription
	logger  *slog.Logger
	debug   bool
}

type subscription struct {
	id       SubscriptionID
	listener Listener
}

func newEmitter(logger *slog.Logger, debug bool) *emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &emitter{
		byEvent: make(map[EventName][]subscription),
		logger:  logger,
		debug:   debug,
	}
}

func (e *emitter) On(event EventName, listener Listener) SubscriptionID {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.byEvent[event] = append(e.byEvent[event], subscription{id: id, listener: listener})
	return id
}

func (e *emitter) Off(event EventName, id SubscriptionID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.byEvent[event]
	for i, s := range subs {
		if s.id == id {
			e.byEvent[event] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (e *emitter) emit(evt ManagerEvent) {
	e.mu.Lock()
	subs := make([]subscription, len(e.byEvent[evt.Name]))
	copy(subs, e.byEvent[evt.Name])
	e.mu.Unlock()

	for _, s := range subs {
		e.invoke(s.listener, evt)
	}
}

func (e *emitter) invoke(listener Listener, evt ManagerEvent) {
	defer func() {
		if r := recover(); r != nil && e.debug {
			e.logger.Debug("manager event listener panicked", "event", evt.Name, "panic", r)
		}
	}()
	listener(evt)
}
