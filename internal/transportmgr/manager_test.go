package transportmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidian-copilot/transport-core/internal/transport"
	transporterrors "github.com/obsidian-copilot/transport-core/pkg/errors"
	"github.com/obsidian-copilot/transport-core/pkg/types"
)

func chatCapabilities(streaming bool) types.Capabilities {
	return types.Capabilities{
		Bidirectional:   streaming,
		Streaming:       streaming,
		RealtimeCapable: streaming,
		SupportedTypes:  types.NewSupportedTypes(types.MessageTypeChatEnhanced, types.MessageTypeHealthCheckRequest),
	}
}

func testConfig(chain ...types.TransportKind) Config {
	cfg := DefaultConfig()
	if len(chain) > 0 {
		cfg.FallbackChain = chain
	}
	cfg.MonitoringInterval = time.Hour // keep the ticker from firing mid-test
	cfg.ConnectTimeout = time.Second
	return cfg
}

func chatMessage() *types.Message {
	return types.NewMessage(types.MessageTypeChatEnhanced, types.ChatEnhancedPayload{ConversationID: "c1"})
}

func chatSelCtx() types.SelectionContext {
	return types.SelectionContext{MessageType: types.MessageTypeChatEnhanced}
}

func TestManager_ConnectIsIdempotent(t *testing.T) {
	ws := newFakeTransport(types.TransportWebSocket, chatCapabilities(true))
	mgr := NewManager(testConfig(), []transport.Transport{ws}, nil, false)

	require.NoError(t, mgr.Connect(t.Context()))
	require.NoError(t, mgr.Connect(t.Context()))

	assert.Equal(t, ManagerActive, mgr.State())
	assert.Equal(t, types.TransportWebSocket, mgr.GetActiveTransport())
}

func TestManager_ConnectFailsOfflineWhenNothingConnects(t *testing.T) {
	ws := newFakeTransport(types.TransportWebSocket, chatCapabilities(true))
	ws.connectFunc = func(ctx context.Context) error {
		return transporterrors.NewTransportUnavailable("websocket", "dial failed")
	}
	mgr := NewManager(testConfig(), []transport.Transport{ws}, nil, false)

	err := mgr.Connect(t.Context())
	require.Error(t, err)
	kind, ok := transporterrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, transporterrors.KindNoTransportAvailable, kind)
	assert.Equal(t, ManagerOffline, mgr.State())
}

func TestManager_PicksDefaultByFallbackChainOrder(t *testing.T) {
	ws := newFakeTransport(types.TransportWebSocket, chatCapabilities(true))
	http := newFakeTransport(types.TransportHTTP, chatCapabilities(false))
	mgr := NewManager(testConfig(types.TransportHTTP, types.TransportWebSocket), []transport.Transport{ws, http}, nil, false)

	require.NoError(t, mgr.Connect(t.Context()))
	assert.Equal(t, types.TransportHTTP, mgr.GetActiveTransport())
}

func TestManager_SendSucceedsOnFirstCandidate(t *testing.T) {
	ws := newFakeTransport(types.TransportWebSocket, chatCapabilities(true))
	mgr := NewManager(testConfig(), []transport.Transport{ws}, nil, false)
	require.NoError(t, mgr.Connect(t.Context()))

	resp, err := mgr.Send(t.Context(), chatMessage(), chatSelCtx())
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestManager_SendFailsFastWithNoTransportConnected(t *testing.T) {
	ws := newFakeTransport(types.TransportWebSocket, chatCapabilities(true))
	mgr := NewManager(testConfig(), []transport.Transport{ws}, nil, false)
	// Deliberately skip Connect.

	_, err := mgr.Send(t.Context(), chatMessage(), chatSelCtx())
	require.Error(t, err)
	kind, _ := transporterrors.KindOf(err)
	assert.Equal(t, transporterrors.KindNoTransportAvailable, kind)
}

func TestManager_SendFailsOverToNextCandidateOnRetryableError(t *testing.T) {
	ws := newFakeTransport(types.TransportWebSocket, chatCapabilities(true))
	ws.sendFunc = func(ctx context.Context, msg *types.Message, selCtx types.SelectionContext) (*types.Response, error) {
		return nil, transporterrors.NewTransportUnavailable("websocket", "connection reset")
	}
	http := newFakeTransport(types.TransportHTTP, chatCapabilities(false))

	cfg := testConfig(types.TransportWebSocket, types.TransportHTTP)
	mgr := NewManager(cfg, []transport.Transport{ws, http}, nil, false)
	require.NoError(t, mgr.Connect(t.Context()))
	require.Equal(t, types.TransportWebSocket, mgr.GetActiveTransport())

	var switched *ManagerEvent
	mgr.On(EventTransportSwitched, func(evt ManagerEvent) { switched = &evt })

	resp, err := mgr.Send(t.Context(), chatMessage(), chatSelCtx())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, types.TransportHTTP, mgr.GetActiveTransport())
	require.NotNil(t, switched)
	assert.Equal(t, types.TransportWebSocket, switched.Transport)
	assert.Equal(t, types.TransportHTTP, switched.FallbackTo)
}

func TestManager_SendDoesNotFailOverOnNonRetryableError(t *testing.T) {
	ws := newFakeTransport(types.TransportWebSocket, chatCapabilities(true))
	ws.sendFunc = func(ctx context.Context, msg *types.Message, selCtx types.SelectionContext) (*types.Response, error) {
		return nil, transporterrors.NewProtocolError("websocket", "malformed frame")
	}
	http := newFakeTransport(types.TransportHTTP, chatCapabilities(false))

	mgr := NewManager(testConfig(types.TransportWebSocket, types.TransportHTTP), []transport.Transport{ws, http}, nil, false)
	require.NoError(t, mgr.Connect(t.Context()))

	_, err := mgr.Send(t.Context(), chatMessage(), chatSelCtx())
	require.Error(t, err)
	kind, _ := transporterrors.KindOf(err)
	assert.Equal(t, transporterrors.KindProtocolError, kind)
}

func TestManager_OpenCircuitTransportIsNeverSentTo(t *testing.T) {
	ws := newFakeTransport(types.TransportWebSocket, chatCapabilities(true))
	ws.sendFunc = func(ctx context.Context, msg *types.Message, selCtx types.SelectionContext) (*types.Response, error) {
		t.Fatal("open-circuit transport must not receive a send")
		return nil, nil
	}
	ws.setCircuitOpen()
	http := newFakeTransport(types.TransportHTTP, chatCapabilities(false))

	mgr := NewManager(testConfig(types.TransportWebSocket, types.TransportHTTP), []transport.Transport{ws, http}, nil, false)
	require.NoError(t, mgr.Connect(t.Context()))

	resp, err := mgr.Send(t.Context(), chatMessage(), chatSelCtx())
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestManager_SendReturnsNoSuitableTransportWhenCapabilityUnmet(t *testing.T) {
	fs := newFakeTransport(types.TransportFileSystem, types.Capabilities{SupportedTypes: types.NewSupportedTypes(types.MessageTypeHealthCheckRequest)})
	mgr := NewManager(testConfig(), []transport.Transport{fs}, nil, false)
	require.NoError(t, mgr.Connect(t.Context()))

	_, err := mgr.Send(t.Context(), chatMessage(), chatSelCtx())
	require.Error(t, err)
	kind, _ := transporterrors.KindOf(err)
	assert.Equal(t, transporterrors.KindNoSuitableTransport, kind)
}

func TestManager_RebindsStreamingRequestWhenFallbackCantStream(t *testing.T) {
	ws := newFakeTransport(types.TransportWebSocket, chatCapabilities(true))
	ws.sendFunc = func(ctx context.Context, msg *types.Message, selCtx types.SelectionContext) (*types.Response, error) {
		return nil, transporterrors.NewTransportUnavailable("websocket", "down")
	}

	var sawStream bool
	fs := newFakeTransport(types.TransportFileSystem, types.Capabilities{
		OfflineCapable: true,
		SupportedTypes: types.NewSupportedTypes(types.MessageTypeChatEnhanced),
	})
	fs.sendFunc = func(ctx context.Context, msg *types.Message, selCtx types.SelectionContext) (*types.Response, error) {
		chat := msg.Payload.(types.ChatEnhancedPayload)
		sawStream = chat.Stream
		return &types.Response{ID: msg.ID, Success: true}, nil
	}

	mgr := NewManager(testConfig(types.TransportWebSocket, types.TransportFileSystem), []transport.Transport{ws, fs}, nil, false)
	require.NoError(t, mgr.Connect(t.Context()))

	msg := types.NewMessage(types.MessageTypeChatEnhanced, types.ChatEnhancedPayload{ConversationID: "c1", Stream: true})
	resp, err := mgr.Send(t.Context(), msg, chatSelCtx())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.False(t, sawStream, "fallback to a non-streaming transport must clear Stream")
}

func TestManager_PreservesMessageIDAcrossFailoverAttempts(t *testing.T) {
	ws := newFakeTransport(types.TransportWebSocket, chatCapabilities(true))
	ws.sendFunc = func(ctx context.Context, msg *types.Message, selCtx types.SelectionContext) (*types.Response, error) {
		return nil, transporterrors.NewTransportUnavailable("websocket", "down")
	}

	msg := chatMessage()
	var seenID string
	http := newFakeTransport(types.TransportHTTP, chatCapabilities(false))
	http.sendFunc = func(ctx context.Context, m *types.Message, selCtx types.SelectionContext) (*types.Response, error) {
		seenID = m.ID
		return &types.Response{ID: m.ID, Success: true}, nil
	}

	mgr := NewManager(testConfig(types.TransportWebSocket, types.TransportHTTP), []transport.Transport{ws, http}, nil, false)
	require.NoError(t, mgr.Connect(t.Context()))

	_, err := mgr.Send(t.Context(), msg, chatSelCtx())
	require.NoError(t, err)
	assert.Equal(t, msg.ID, seenID)
}

func TestManager_UnsolicitedMessageFansOutToTypeSubscribers(t *testing.T) {
	ws := newFakeTransport(types.TransportWebSocket, chatCapabilities(true))
	mgr := NewManager(testConfig(), []transport.Transport{ws}, nil, false)
	require.NoError(t, mgr.Connect(t.Context()))

	received := make(chan *types.Message, 1)
	mgr.Subscribe(types.MessageTypeHealthUpdate, func(msg *types.Message) { received <- msg })

	push := types.NewMessage(types.MessageTypeHealthUpdate, types.HealthUpdatePayload{Transport: "websocket"})
	ws.pushMessage(push)

	select {
	case got := <-received:
		assert.Equal(t, push.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the unsolicited push")
	}
}

func TestManager_CorrelatedMessageDuringSendIsNotFannedOutToSubscribers(t *testing.T) {
	ws := newFakeTransport(types.TransportWebSocket, chatCapabilities(true))
	ws.sendFunc = func(ctx context.Context, msg *types.Message, selCtx types.SelectionContext) (*types.Response, error) {
		// Simulate an inbound frame correlated to this call arriving mid-flight.
		ws.pushMessage(&types.Message{ID: "chunk-1", Type: types.MessageTypeStreamChunk, CorrelationID: msg.ID})
		return &types.Response{ID: msg.ID, CorrelationID: msg.ID, Success: true}, nil
	}
	mgr := NewManager(testConfig(), []transport.Transport{ws}, nil, false)
	require.NoError(t, mgr.Connect(t.Context()))

	fanOutCount := 0
	mgr.Subscribe(types.MessageTypeStreamChunk, func(msg *types.Message) { fanOutCount++ })

	_, err := mgr.Send(t.Context(), chatMessage(), chatSelCtx())
	require.NoError(t, err)
	assert.Equal(t, 0, fanOutCount, "a message correlated to a live send must not also fan out to type subscribers")
}

func TestManager_DisconnectIsIdempotentAndStopsMonitor(t *testing.T) {
	ws := newFakeTransport(types.TransportWebSocket, chatCapabilities(true))
	mgr := NewManager(testConfig(), []transport.Transport{ws}, nil, false)
	require.NoError(t, mgr.Connect(t.Context()))

	require.NoError(t, mgr.Disconnect(t.Context()))
	require.NoError(t, mgr.Disconnect(t.Context()))
	assert.Equal(t, ManagerNone, mgr.State())
}

func TestManager_ReconcileDegradesWhenActiveDropsButAlternativesRemain(t *testing.T) {
	ws := newFakeTransport(types.TransportWebSocket, chatCapabilities(true))
	http := newFakeTransport(types.TransportHTTP, chatCapabilities(false))
	mgr := NewManager(testConfig(types.TransportWebSocket, types.TransportHTTP), []transport.Transport{ws, http}, nil, false)
	require.NoError(t, mgr.Connect(t.Context()))
	require.Equal(t, types.TransportWebSocket, mgr.GetActiveTransport())

	require.NoError(t, ws.Disconnect(t.Context()))

	assert.Eventually(t, func() bool {
		return mgr.State() == ManagerDegraded
	}, time.Second, 10*time.Millisecond)
}

func TestManager_ReconcileGoesOfflineWhenNothingRemainsConnected(t *testing.T) {
	ws := newFakeTransport(types.TransportWebSocket, chatCapabilities(true))
	mgr := NewManager(testConfig(), []transport.Transport{ws}, nil, false)
	require.NoError(t, mgr.Connect(t.Context()))

	require.NoError(t, ws.Disconnect(t.Context()))

	assert.Eventually(t, func() bool {
		return mgr.State() == ManagerOffline
	}, time.Second, 10*time.Millisecond)
}

func TestManager_MaybePromoteActiveSwitchesToStrictlyBetterCandidate(t *testing.T) {
	ws := newFakeTransport(types.TransportWebSocket, chatCapabilities(true))
	http := newFakeTransport(types.TransportHTTP, chatCapabilities(false))
	mgr := NewManager(testConfig(types.TransportWebSocket, types.TransportHTTP), []transport.Transport{ws, http}, nil, false)
	require.NoError(t, mgr.Connect(t.Context()))
	require.Equal(t, types.TransportWebSocket, mgr.GetActiveTransport())

	// Degrade the active transport's latency/error-rate while http stays clean.
	ws.setHealth(types.HealthSnapshot{LatencyMs: 4000, ErrorRate: 0.5, CircuitState: types.CircuitClosed, ConnectionState: types.StateConnected})
	http.setHealth(types.HealthSnapshot{LatencyMs: 20, ErrorRate: 0.0, CircuitState: types.CircuitClosed, ConnectionState: types.StateConnected})

	mgr.maybePromoteActive()

	assert.Equal(t, types.TransportHTTP, mgr.GetActiveTransport())
}

func TestManager_MaybePromoteActiveDoesNothingOnTie(t *testing.T) {
	ws := newFakeTransport(types.TransportWebSocket, chatCapabilities(true))
	// Same capability shape as ws and, per DefaultConfig's cost table, the
	// same cost band (0.3) — every scoring factor ties once health matches.
	http := newFakeTransport(types.TransportHTTP, chatCapabilities(true))
	mgr := NewManager(testConfig(types.TransportWebSocket, types.TransportHTTP), []transport.Transport{ws, http}, nil, false)
	require.NoError(t, mgr.Connect(t.Context()))
	require.Equal(t, types.TransportWebSocket, mgr.GetActiveTransport())

	identical := types.HealthSnapshot{LatencyMs: 50, ErrorRate: 0.0, CircuitState: types.CircuitClosed, ConnectionState: types.StateConnected}
	ws.setHealth(identical)
	identicalHTTP := identical
	http.setHealth(identicalHTTP)

	mgr.maybePromoteActive()

	assert.Equal(t, types.TransportWebSocket, mgr.GetActiveTransport(), "a tie must not cause flapping")
}
