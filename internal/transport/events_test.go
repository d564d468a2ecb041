package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/obsidian-copilot/transport-core/pkg/types"
)

func TestEmitter_InvokesListenersInRegistrationOrder(t *testing.T) {
	e := newEmitter(nil, false)

	var order []int
	e.On(EventConnected, func(evt TransportEvent) { order = append(order, 1) })
	e.On(EventConnected, func(evt TransportEvent) { order = append(order, 2) })
	e.On(EventConnected, func(evt TransportEvent) { order = append(order, 3) })

	e.emit(TransportEvent{Name: EventConnected})

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestEmitter_PanickingListenerDoesNotStopOthers(t *testing.T) {
	e := newEmitter(nil, true)

	secondRan := false
	e.On(EventError, func(evt TransportEvent) { panic("boom") })
	e.On(EventError, func(evt TransportEvent) { secondRan = true })

	assert.NotPanics(t, func() {
		e.emit(TransportEvent{Name: EventError})
	})
	assert.True(t, secondRan)
}

func TestEmitter_OffRemovesListener(t *testing.T) {
	e := newEmitter(nil, false)

	called := false
	id := e.On(EventDisconnected, func(evt TransportEvent) { called = true })
	e.Off(EventDisconnected, id)

	e.emit(TransportEvent{Name: EventDisconnected})

	assert.False(t, called)
}

func TestEmitter_OnlyInvokesListenersForTheEmittedEvent(t *testing.T) {
	e := newEmitter(nil, false)

	connectedCalls, messageCalls := 0, 0
	e.On(EventConnected, func(evt TransportEvent) { connectedCalls++ })
	e.On(EventMessage, func(evt TransportEvent) { messageCalls++ })

	e.emit(TransportEvent{Name: EventMessage, Transport: types.TransportHTTP})

	assert.Equal(t, 0, connectedCalls)
	assert.Equal(t, 1, messageCalls)
}
