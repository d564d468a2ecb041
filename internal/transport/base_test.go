package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidian-copilot/transport-core/internal/resilience"
	"github.com/obsidian-copilot/transport-core/pkg/errors"
	"github.com/obsidian-copilot/transport-core/pkg/types"
)

func testCBConfig() resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		FailureThreshold: 3,
		FailureWindow:    time.Minute,
		CooldownPeriod:   20 * time.Millisecond,
	}
}

func TestBaseTransport_GuardRejectsWhenNotConnected(t *testing.T) {
	bt := NewBaseTransport(types.TransportHTTP, types.Capabilities{}, testCBConfig(), 0, nil, false)

	err := bt.Guard()
	require.Error(t, err)
	kind, ok := errors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errors.KindNotConnected, kind)
}

func TestBaseTransport_ConnectEmitsConnectedOnce(t *testing.T) {
	bt := NewBaseTransport(types.TransportHTTP, types.Capabilities{}, testCBConfig(), 0, nil, false)

	count := 0
	bt.On(EventConnected, func(evt TransportEvent) { count++ })

	bt.SetConnected()
	bt.SetConnected()

	assert.Equal(t, 1, count)
	assert.Equal(t, types.StateConnected, bt.State())
}

func TestBaseTransport_GuardRejectsWhenCircuitOpen(t *testing.T) {
	bt := NewBaseTransport(types.TransportHTTP, types.Capabilities{}, testCBConfig(), 0, nil, false)
	bt.SetConnected()

	for i := 0; i < 3; i++ {
		bt.RecordResult(false, time.Millisecond)
	}

	err := bt.Guard()
	require.Error(t, err)
	kind, _ := errors.KindOf(err)
	assert.Equal(t, errors.KindCircuitOpen, kind)
}

func TestBaseTransport_CircuitRecoversAfterCooldown(t *testing.T) {
	bt := NewBaseTransport(types.TransportHTTP, types.Capabilities{}, testCBConfig(), 0, nil, false)
	bt.SetConnected()

	for i := 0; i < 3; i++ {
		bt.RecordResult(false, time.Millisecond)
	}
	require.Error(t, bt.Guard())

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, bt.Guard(), "half-open trial should be permitted after cooldown")

	bt.RecordResult(true, time.Millisecond)
	assert.Equal(t, types.CircuitClosed, bt.Health().CircuitState)
}

func TestBaseTransport_ResolveDeadlineUsesSelectionContextOverride(t *testing.T) {
	bt := NewBaseTransport(types.TransportHTTP, types.Capabilities{}, testCBConfig(), time.Minute, nil, false)

	ctx, cancel := bt.ResolveDeadline(t.Context(), types.SelectionContext{MaxLatencyMs: 5})
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(5*time.Millisecond), deadline, 50*time.Millisecond)
}

func TestBaseTransport_RecordResultEmitsHealthChangedOnBandCrossing(t *testing.T) {
	bt := NewBaseTransport(types.TransportHTTP, types.Capabilities{}, testCBConfig(), 0, nil, false)
	bt.SetConnected()

	var got []types.HealthSnapshot
	bt.On(EventHealthChanged, func(evt TransportEvent) { got = append(got, evt.Health) })

	bt.RecordResult(true, time.Millisecond)
	bt.RecordResult(false, time.Millisecond)

	require.NotEmpty(t, got)
}

func TestBaseTransport_NextRequestIDIsUnique(t *testing.T) {
	bt := NewBaseTransport(types.TransportHTTP, types.Capabilities{}, testCBConfig(), 0, nil, false)
	assert.NotEqual(t, bt.NextRequestID(), bt.NextRequestID())
}
