// Package modelselect implements the Enhanced Model Selection Service: a
// domain facade in front of transportmgr.Manager that translates typed
// caller requests into messages, applies user preferences, caches model
// health, and guarantees a sane response even when every transport is
// down by synthesizing a static fallback selection.
package modelselect

import (
	"log/slog"
	"sync"
)

// EventName is the closed set of events the service emits.
type EventName string

const (
	EventConnected          EventName = "connected"
	EventDisconnected       EventName = "disconnected"
	EventTransportChanged   EventName = "transport_changed"
	EventConnectionError    EventName = "connection_error"
	EventTransportHealth    EventName = "transport_health"
	EventModelSelected      EventName = "model-selected"
	EventHealthUpdated      EventName = "health-updated"
	EventPerformanceMetrics EventName = "performance-metrics"
	EventPreferencesUpdated EventName = "preferences-updated"
)

// ServiceEvent is the value passed to a registered Listener.
type ServiceEvent struct {
	Name EventName
	Err  error
	Data any
}

// Listener observes a single service event.
type Listener func(evt ServiceEvent)

// SubscriptionID identifies a registered listener for later removal via Off.
type SubscriptionID uint64

// emitter is a third, independent copy of the synchronous ordered-per-event
// bus shared in shape with internal/transport and internal/transportmgr:
// each layer owns its own event vocabulary, so the type is duplicated
// rather than coupled across package boundaries.
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
	return &emitter{byEvent: make(map[EventName][]subscription), logger: logger, debug: debug}
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

func (e *emitter) emit(evt ServiceEvent) {
	e.mu.Lock()
	subs := make([]subscription, len(e.byEvent[evt.Name]))
	copy(subs, e.byEvent[evt.Name])
	e.mu.Unlock()

	for _, s := range subs {
		e.invoke(s.listener, evt)
	}
}

func (e *emitter) invoke(listener Listener, evt ServiceEvent) {
	defer func() {
		if r := recover(); r != nil && e.debug {
			e.logger.Debug("service event listener panicked", "event", evt.Name, "panic", r)
		}
	}()
	listener(evt)
}
