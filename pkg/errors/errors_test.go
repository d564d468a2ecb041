package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransportError_ErrorMessage(t *testing.T) {
	t.Run("with transport", func(t *testing.T) {
		err := NewCircuitOpen("http")
		assert.Contains(t, err.Error(), "CircuitOpen")
		assert.Contains(t, err.Error(), "http")
	})

	t.Run("without transport", func(t *testing.T) {
		err := NewNoTransportAvailable()
		assert.Equal(t, "[NoTransportAvailable] no transport is connected", err.Error())
	})
}

func TestTransportError_Is(t *testing.T) {
	err := NewTimeout("websocket")
	assert.True(t, errors.Is(err, &TransportError{Kind: KindTimeout}))
	assert.False(t, errors.Is(err, &TransportError{Kind: KindCircuitOpen}))
}

func TestTransportError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := &TransportError{Kind: KindTransportUnavailable, Message: "dial failed", Cause: cause}
	assert.ErrorIs(t, err, cause)
}

func TestIsRetryable(t *testing.T) {
	retryable := []*TransportError{
		NewTransportUnavailable("http", "dial failed"),
		NewNotConnected("websocket"),
		NewCircuitOpen("http"),
		NewTimeout("filesystem"),
		NewQueueFull("filesystem"),
		NewNoTransportAvailable(),
		NewServiceUnavailable("http", "remote 500"),
	}
	for _, err := range retryable {
		assert.Truef(t, IsRetryable(err), "%s should be retryable", err.Kind)
	}

	notRetryable := []*TransportError{
		NewProtocolError("websocket", "malformed frame"),
		NewNoSuitableTransport("no candidate satisfies realtime requirement"),
		NewCancelled("http"),
		NewBudgetExceeded("estimated cost exceeds max_cost"),
	}
	for _, err := range notRetryable {
		assert.Falsef(t, IsRetryable(err), "%s should not be retryable", err.Kind)
	}

	assert.False(t, IsRetryable(errors.New("plain error")))
}

func TestKindOf(t *testing.T) {
	kind, ok := KindOf(NewCircuitOpen("http"))
	assert.True(t, ok)
	assert.Equal(t, KindCircuitOpen, kind)

	_, ok = KindOf(errors.New("plain error"))
	assert.False(t, ok)
}
