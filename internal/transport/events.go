package transport

import (
	"log/slog"
	"sync"

	"github.com/obsidian-copilot/transport-core/pkg/types"
)

// EventName is the closed set of events a transport emits.
type EventName string

const (
	EventConnected     EventName = "connected"
	EventDisconnected  EventName = "disconnected"
	EventError         EventName = "error"
	EventMessage       EventName = "message"
	EventHealthChanged EventName = "health_changed"
)

// TransportEvent is the value passed to a registered Listener.
type TransportEvent struct {
	Name      EventName
	Transport types.TransportKind
	Message   *types.Message
	Health    types.HealthSnapshot
	Err       error
}

// Listener observes a single transport event.
type Listener func(evt TransportEvent)

// SubscriptionID identifies a registered listener for later removal via Off.
type SubscriptionID uint64

// emitter is the synchronous, ordered event bus embedded in BaseTransport.
// Unlike internal/observability's Dispatcher (which fans out asynchronously
// to independent subsystems), a transport's own listeners are the manager
// reading inbound frames in real time: per spec §5, "Event listeners for a
// single event are invoked in registration order; a thrown listener does
// not prevent subsequent listeners from running" — ordering and synchronous
// delivery are the point, not isolation.
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

// On registers listener for event and returns a handle accepted by Off.
func (e *emitter) On(event EventName, listener Listener) SubscriptionID {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.byEvent[event] = append(e.byEvent[event], subscription{id: id, listener: listener})
	return id
}

// Off removes the listener registered under id for event.
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

// emit invokes every listener registered for evt.Name, in registration
// order, synchronously. A panicking or erroring listener is recovered and
// logged (debug mode only, per spec §5) without affecting the remaining
// listeners.
func (e *emitter) emit(evt TransportEvent) {
	e.mu.Lock()
	subs := make([]subscription, len(e.byEvent[evt.Name]))
	copy(subs, e.byEvent[evt.Name])
	e.mu.Unlock()

	for _, s := range subs {
		e.invoke(s.listener, evt)
	}
}

func (e *emitter) invoke(listener Listener, evt TransportEvent) {
	defer func() {
		if r := recover(); r != nil && e.debug {
			e.logger.Debug("transport event listener panicked", "event", evt.Name, "panic", r)
		}
	}()
	listener(evt)
}
