package modelselect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitter_InvokesListenersInRegistrationOrder(t *testing.T) {
	e := newEmitter(nil, false)

	var order []int
	e.On(EventConnected, func(evt ServiceEvent) { order = append(order, 1) })
	e.On(EventConnected, func(evt ServiceEvent) { order = append(order, 2) })

	e.emit(ServiceEvent{Name: EventConnected})

	assert.Equal(t, []int{1, 2}, order)
}

func TestEmitter_OffRemovesListener(t *testing.T) {
	e := newEmitter(nil, false)

	called := false
	id := e.On(EventDisconnected, func(evt ServiceEvent) { called = true })
	e.Off(EventDisconnected, id)

	e.emit(ServiceEvent{Name: EventDisconnected})
	assert.False(t, called)
}

func TestEmitter_PanickingListenerDoesNotStopOthers(t *testing.T) {
	e := newEmitter(nil, true)

	secondRan := false
	e.On(EventConnectionError, func(evt ServiceEvent) { panic("boom") })
	e.On(EventConnectionError, func(evt ServiceEvent) { secondRan = true })

	assert.NotPanics(t, func() { e.emit(ServiceEvent{Name: EventConnectionError}) })
	assert.True(t, secondRan)
}
