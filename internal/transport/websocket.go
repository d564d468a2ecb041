package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"

	"github.com/obsidian-copilot/transport-core/internal/resilience"
	transporterrors "github.com/obsidian-copilot/transport-core/pkg/errors"
	"github.com/obsidian-copilot/transport-core/pkg/types"
)

// WebSocketConfig configures the full-duplex transport, per spec §4.3 and
// §6's WebSocket external interface.
type WebSocketConfig struct {
	URL                  string // ws(s)://host/ws/obsidian
	APIKey               string
	HeartbeatInterval    time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	PersistMessages      bool
	PersistQueueSize     int
}

func (c WebSocketConfig) heartbeat() time.Duration {
	if c.HeartbeatInterval > 0 {
		return c.HeartbeatInterval
	}
	return 30 * time.Second
}

func (c WebSocketConfig) backoff() ReconnectBackoff {
	b := DefaultReconnectBackoff()
	if c.ReconnectDelay > 0 {
		b.Initial = c.ReconnectDelay
	}
	if c.MaxReconnectAttempts > 0 {
		b.MaxAttempts = c.MaxReconnectAttempts
	}
	return b
}

func (c WebSocketConfig) queueSize() int {
	if c.PersistQueueSize > 0 {
		return c.PersistQueueSize
	}
	return 100
}

// wireFrame is the JSON shape exchanged on the socket: "at least type and
// data fields" per spec §6, plus id/correlation_id for request/response
// pairing.
type wireFrame struct {
	ID            string            `json:"id,omitempty"`
	Type          types.MessageType `json:"type"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Data          json.RawMessage   `json:"data,omitempty"`
}

type pendingResult struct {
	resp *types.Response
	err  error
}

type queuedSend struct {
	frame wireFrame
	id    string
}

// WebSocketTransport is the full-duplex transport built on
// github.com/coder/websocket. JSON framing is hand-rolled over
// conn.Write/conn.Read with goccy/go-json, matching the teacher's JSON
// codec choice rather than the library's own wsjson helper.
type WebSocketTransport struct {
	*BaseTransport

	cfg WebSocketConfig

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan pendingResult
	queue   []queuedSend

	stopCh chan struct{}
}

// NewWebSocketTransport builds a disconnected WebSocket transport.
func NewWebSocketTransport(cfg WebSocketConfig, cbConfig resilience.CircuitBreakerConfig, logger *slog.Logger, debug bool) *WebSocketTransport {
	caps := types.Capabilities{
		Bidirectional:   true,
		Streaming:       true,
		RealtimeCapable: true,
		OfflineCapable:  false,
		SupportedTypes:  types.NewSupportedTypes(types.RequestTypes()...),
	}

	return &WebSocketTransport{
		BaseTransport: NewBaseTransport(types.TransportWebSocket, caps, cbConfig, 0, logger, debug),
		cfg:           cfg,
		pending:       make(map[string]chan pendingResult),
	}
}

// Connect dials the socket and starts the read loop and heartbeat.
func (t *WebSocketTransport) Connect(ctx context.Context) error {
	if t.State() == types.StateConnected {
		return nil
	}
	t.SetState(types.StateConnecting)

	conn, _, err := websocket.Dial(ctx, t.cfg.URL, &websocket.DialOptions{
		HTTPHeader: t.authHeader(),
	})
	if err != nil {
		t.SetState(types.StateFailed)
		return transporterrors.NewTransportUnavailable(string(types.TransportWebSocket), err.Error())
	}

	t.mu.Lock()
	t.conn = conn
	t.stopCh = make(chan struct{})
	t.mu.Unlock()

	t.SetConnected()

	go t.readLoop()
	go t.heartbeatLoop()

	return nil
}

// Disconnect closes the socket and cancels outstanding pending requests.
func (t *WebSocketTransport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	conn := t.conn
	stop := t.stopCh
	t.conn = nil
	t.stopCh = nil
	pending := t.pending
	t.pending = make(map[string]chan pendingResult)
	t.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "disconnect")
	}
	for id, ch := range pending {
		ch <- pendingResult{err: transporterrors.NewCancelled(string(types.TransportWebSocket))}
		delete(pending, id)
	}

	t.SetDisconnected()
	return nil
}

// Send writes a framed JSON message and waits for its correlated
// response, queueing while reconnecting if cfg.PersistMessages is set.
func (t *WebSocketTransport) Send(ctx context.Context, message *types.Message, selCtx types.SelectionContext) (*types.Response, error) {
	if err := t.Guard(); err != nil {
		if t.State() == types.StateReconnecting && t.cfg.PersistMessages {
			return t.sendQueued(ctx, message, selCtx)
		}
		return nil, err
	}

	ctx, cancel := t.ResolveDeadline(ctx, selCtx)
	defer cancel()

	data, err := json.Marshal(message.Payload)
	if err != nil {
		return nil, transporterrors.NewProtocolError(string(types.TransportWebSocket), err.Error())
	}
	frame := wireFrame{ID: message.ID, Type: message.Type, CorrelationID: message.ID, Data: data}

	return t.writeAndWait(ctx, frame)
}

func (t *WebSocketTransport) sendQueued(ctx context.Context, message *types.Message, selCtx types.SelectionContext) (*types.Response, error) {
	data, err := json.Marshal(message.Payload)
	if err != nil {
		return nil, transporterrors.NewProtocolError(string(types.TransportWebSocket), err.Error())
	}
	frame := wireFrame{ID: message.ID, Type: message.Type, CorrelationID: message.ID, Data: data}

	ch := make(chan pendingResult, 1)
	t.mu.Lock()
	t.pending[message.ID] = ch
	t.queue = append(t.queue, queuedSend{frame: frame, id: message.ID})
	if len(t.queue) > t.cfg.queueSize() {
		dropped := t.queue[0]
		t.queue = t.queue[1:]
		if dropCh, ok := t.pending[dropped.id]; ok {
			delete(t.pending, dropped.id)
			dropCh <- pendingResult{err: transporterrors.NewCancelled(string(types.TransportWebSocket))}
		}
	}
	t.mu.Unlock()

	ctx, cancel := t.ResolveDeadline(ctx, selCtx)
	defer cancel()

	select {
	case res := <-ch:
		start := time.Now()
		t.RecordResult(res.err == nil, time.Since(start))
		return res.resp, res.err
	case <-ctx.Done():
		t.removePending(message.ID)
		return nil, transporterrors.NewTimeout(string(types.TransportWebSocket))
	}
}

func (t *WebSocketTransport) writeAndWait(ctx context.Context, frame wireFrame) (*types.Response, error) {
	ch := make(chan pendingResult, 1)
	t.mu.Lock()
	t.pending[frame.ID] = ch
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		t.removePending(frame.ID)
		return nil, transporterrors.NewNotConnected(string(types.TransportWebSocket))
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		t.removePending(frame.ID)
		return nil, transporterrors.NewProtocolError(string(types.TransportWebSocket), err.Error())
	}

	start := time.Now()
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		t.removePending(frame.ID)
		t.RecordResult(false, time.Since(start))
		return nil, transporterrors.NewTransportUnavailable(string(types.TransportWebSocket), err.Error())
	}

	select {
	case res := <-ch:
		t.RecordResult(res.err == nil, time.Since(start))
		return res.resp, res.err
	case <-ctx.Done():
		t.removePending(frame.ID)
		t.RecordResult(false, time.Since(start))
		return nil, transporterrors.NewTimeout(string(types.TransportWebSocket))
	}
}

func (t *WebSocketTransport) removePending(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

func (t *WebSocketTransport) authHeader() map[string][]string {
	if t.cfg.APIKey == "" {
		return nil
	}
	return map[string][]string{"Authorization": {"Bearer " + t.cfg.APIKey}}
}

// readLoop parses inbound frames in wire order, resolving pending
// requests by correlation id and fanning out everything else as `message`
// events, preserving emission order per spec §4.3's ordering guarantee.
func (t *WebSocketTransport) readLoop() {
	for {
		t.mu.Lock()
		conn := t.conn
		stop := t.stopCh
		t.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(context.Background())
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			t.handleDrop(err)
			return
		}

		var frame wireFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.EmitError(transporterrors.NewProtocolError(string(types.TransportWebSocket), "malformed frame"))
			continue
		}

		if frame.CorrelationID != "" {
			if ch, ok := t.takePending(frame.CorrelationID); ok {
				ch <- pendingResult{resp: t.decodeFrameResponse(frame)}
				continue
			}
		}

		payload, err := decodePushPayload(frame.Type, frame.Data)
		if err != nil {
			t.EmitError(err)
			continue
		}
		t.EmitMessage(&types.Message{
			ID:            frame.ID,
			Type:          frame.Type,
			Payload:       payload,
			CorrelationID: frame.CorrelationID,
			Timestamp:     time.Now().UnixMilli(),
		})
	}
}

func (t *WebSocketTransport) takePending(id string) (chan pendingResult, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	return ch, ok
}

func (t *WebSocketTransport) decodeFrameResponse(frame wireFrame) *types.Response {
	var envelope struct {
		Success bool   `json:"success"`
		Payload any    `json:"payload"`
		Error   string `json:"error"`
	}
	_ = json.Unmarshal(frame.Data, &envelope)
	success := envelope.Error == ""
	return &types.Response{
		ID:            frame.ID,
		CorrelationID: frame.CorrelationID,
		Success:       success,
		Payload:       envelope.Payload,
		Error:         envelope.Error,
		Timestamp:     time.Now().UnixMilli(),
	}
}

// handleDrop transitions to reconnecting and attempts reconnect with the
// shared backoff schedule; fatal peer closes transition straight to
// failed without retrying, per spec §4.3.
func (t *WebSocketTransport) handleDrop(err error) {
	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) && isFatalClose(closeErr.Code) {
		t.SetState(types.StateFailed)
		t.EmitError(transporterrors.NewTransportUnavailable(string(types.TransportWebSocket), "peer closed with fatal code"))
		return
	}

	t.SetState(types.StateReconnecting)
	go t.reconnectLoop()
}

func isFatalClose(code websocket.StatusCode) bool {
	switch code {
	case websocket.StatusPolicyViolation, websocket.StatusUnsupportedData, websocket.StatusInvalidFramePayloadData:
		return true
	default:
		return false
	}
}

func (t *WebSocketTransport) reconnectLoop() {
	backoff := t.cfg.backoff()
	for attempt := 1; !backoff.Exhausted(attempt); attempt++ {
		time.Sleep(backoff.Delay(attempt))

		ctx, cancel := context.WithTimeout(context.Background(), httpProbeTimeout)
		err := t.Connect(ctx)
		cancel()
		if err == nil {
			t.flushQueue()
			return
		}
	}

	t.SetState(types.StateFailed)
	t.EmitError(transporterrors.NewTransportUnavailable(string(types.TransportWebSocket), "reconnect attempts exhausted"))
}

func (t *WebSocketTransport) flushQueue() {
	t.mu.Lock()
	queued := t.queue
	t.queue = nil
	conn := t.conn
	t.mu.Unlock()

	for _, q := range queued {
		payload, err := json.Marshal(q.frame)
		if err != nil {
			continue
		}
		if conn == nil {
			continue
		}
		if err := conn.Write(context.Background(), websocket.MessageText, payload); err != nil {
			if ch, ok := t.takePending(q.id); ok {
				ch <- pendingResult{err: transporterrors.NewTransportUnavailable(string(types.TransportWebSocket), err.Error())}
			}
		}
	}
}

// heartbeatLoop pings at cfg.heartbeat() and treats a missed pong (no
// response within 2x the interval, which coder/websocket's Ping enforces
// via the context deadline) as a dead peer.
func (t *WebSocketTransport) heartbeatLoop() {
	interval := t.cfg.heartbeat()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		t.mu.Lock()
		stop := t.stopCh
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			return
		}

		select {
		case <-stop:
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*interval)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				t.handleDrop(fmt.Errorf("heartbeat: %w", err))
				return
			}
		}
	}
}
