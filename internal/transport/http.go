package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	transporterrors "github.com/obsidian-copilot/transport-core/pkg/errors"
	"github.com/obsidian-copilot/transport-core/internal/resilience"
	"github.com/obsidian-copilot/transport-core/pkg/types"
)

// httpProbeTimeout bounds the connect-time health probe, per spec §4.2:
// "Connected iff probe succeeds within a timeout (default 5 s)."
const httpProbeTimeout = 5 * time.Second

// HTTPConfig configures the request/response HTTP transport and its
// optional SSE push subscription.
type HTTPConfig struct {
	ServerURL       string
	APIKey          string
	HealthPath      string // default "/status"
	SelectionPath   string // default "/api/obsidian/model-selection"
	PreferencesPath string // default "/api/obsidian/preferences"
	PushPath        string // persistent event-stream path; empty disables it even if EnableSSE
	EnableSSE       bool
	MaxConnections  int
}

func (c HTTPConfig) healthPath() string {
	if c.HealthPath != "" {
		return c.HealthPath
	}
	return "/status"
}

func (c HTTPConfig) selectionPath() string {
	if c.SelectionPath != "" {
		return c.SelectionPath
	}
	return "/api/obsidian/model-selection"
}

func (c HTTPConfig) preferencesPath() string {
	if c.PreferencesPath != "" {
		return c.PreferencesPath
	}
	return "/api/obsidian/preferences"
}

// HTTPTransport is the request/response transport with an optional SSE
// push channel, per spec §4.2.
type HTTPTransport struct {
	*BaseTransport

	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
	backoff ReconnectBackoff

	mu         sync.Mutex
	pushCancel context.CancelFunc
	pushDone   chan struct{}
}

// NewHTTPTransport builds an HTTP transport. Connection pooling is a
// shared *http.Client whose Transport caps MaxConnsPerHost at
// cfg.MaxConnections; a golang.org/x/time/rate.Limiter additionally limits
// sends to cfg.MaxConnections per second (burst of the same size),
// following the teacher's internal/resilience rate-limiting pattern
// adapted from per-deployment TPM/RPM accounting to per-transport send rate.
func NewHTTPTransport(cfg HTTPConfig, cbConfig resilience.CircuitBreakerConfig, logger *slog.Logger, debug bool) *HTTPTransport {
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 10
	}

	caps := types.Capabilities{
		Bidirectional:   cfg.EnableSSE && cfg.PushPath != "",
		Streaming:       true,
		RealtimeCapable: false,
		OfflineCapable:  false,
		SupportedTypes:  types.NewSupportedTypes(types.RequestTypes()...),
	}

	return &HTTPTransport{
		BaseTransport: NewBaseTransport(types.TransportHTTP, caps, cbConfig, 0, logger, debug),
		cfg:           cfg,
		client: &http.Client{
			Transport: &http.Transport{MaxConnsPerHost: maxConns},
		},
		limiter: rate.NewLimiter(rate.Limit(maxConns), maxConns),
		backoff: DefaultReconnectBackoff(),
	}
}

// Connect probes cfg.healthPath() and, on success, starts the optional
// push subscription.
func (t *HTTPTransport) Connect(ctx context.Context) error {
	if t.State() == types.StateConnected {
		return nil
	}
	probeCtx, cancel := context.WithTimeout(ctx, httpProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, t.cfg.ServerURL+t.cfg.healthPath(), nil)
	if err != nil {
		return transporterrors.NewTransportUnavailable(string(types.TransportHTTP), err.Error())
	}
	t.applyHeaders(req, false)

	resp, err := t.client.Do(req)
	if err != nil {
		return transporterrors.NewTransportUnavailable(string(types.TransportHTTP), err.Error())
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return transporterrors.NewTransportUnavailable(string(types.TransportHTTP), fmt.Sprintf("health probe returned %d", resp.StatusCode))
	}

	t.SetConnected()

	if t.cfg.EnableSSE && t.cfg.PushPath != "" {
		t.startPush()
	}
	return nil
}

// Disconnect stops the push subscription (if running) and transitions to
// disconnected.
func (t *HTTPTransport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	cancel := t.pushCancel
	done := t.pushDone
	t.pushCancel = nil
	t.pushDone = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	t.SetDisconnected()
	return nil
}

// Send routes message to its static endpoint and returns the correlated
// response, streaming chat_enhanced chunks as `message` events along the
// way when the payload requests it.
func (t *HTTPTransport) Send(ctx context.Context, message *types.Message, selCtx types.SelectionContext) (*types.Response, error) {
	if err := t.Guard(); err != nil {
		return nil, err
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return nil, transporterrors.NewTimeout(string(types.TransportHTTP))
	}

	ctx, cancel := t.ResolveDeadline(ctx, selCtx)
	defer cancel()

	method, path, streaming := t.route(message)

	start := time.Now()
	resp, err := t.doRequest(ctx, method, path, message)
	if err != nil {
		t.RecordResult(false, time.Since(start))
		return nil, t.classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		t.RecordResult(false, time.Since(start))
		return nil, transporterrors.NewServiceUnavailable(string(types.TransportHTTP), fmt.Sprintf("server returned %d", resp.StatusCode))
	}

	if streaming && resp.StatusCode < 300 && strings.Contains(resp.Header.Get("Content-Type"), "text/") {
		final, err := t.consumeStream(ctx, message, resp.Body)
		t.RecordResult(err == nil, time.Since(start))
		if err != nil {
			return nil, err
		}
		return final, nil
	}

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		t.RecordResult(false, time.Since(start))
		return nil, transporterrors.NewProtocolError(string(types.TransportHTTP), readErr.Error())
	}

	respMsg, err := t.decodeResponse(message.ID, resp.StatusCode, body)
	// A 4xx application-level failure still completed the round trip; only
	// 5xx/network/protocol failures count against health and the circuit.
	success := err == nil
	t.RecordResult(success, time.Since(start))
	return respMsg, err
}

func (t *HTTPTransport) route(message *types.Message) (method, path string, streaming bool) {
	switch message.Type {
	case types.MessageTypeModelSelectionRequest:
		return http.MethodPost, t.cfg.selectionPath(), false
	case types.MessageTypeHealthCheckRequest:
		return http.MethodGet, t.cfg.healthPath(), false
	case types.MessageTypeChatEnhanced:
		if payload, ok := message.Payload.(types.ChatEnhancedPayload); ok && payload.Stream {
			return http.MethodPost, "/api/obsidian/chat/stream", true
		}
		return http.MethodPost, "/api/obsidian/chat", false
	case types.MessageTypeWorkflowRequest:
		return http.MethodPost, "/api/obsidian/workflow", false
	case types.MessageTypeTaskPlanningRequest:
		return http.MethodPost, "/api/obsidian/planning/tasks", false
	case types.MessageTypePreferencesUpdate:
		return http.MethodPost, t.cfg.preferencesPath(), false
	default:
		return http.MethodPost, "/api/obsidian/" + string(message.Type), false
	}
}

func (t *HTTPTransport) doRequest(ctx context.Context, method, path string, message *types.Message) (*http.Response, error) {
	var body io.Reader
	if method != http.MethodGet {
		encoded, err := json.Marshal(message.Payload)
		if err != nil {
			return nil, transporterrors.NewProtocolError(string(types.TransportHTTP), err.Error())
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.cfg.ServerURL+path, body)
	if err != nil {
		return nil, err
	}
	t.applyHeaders(req, method != http.MethodGet)

	return t.client.Do(req)
}

func (t *HTTPTransport) applyHeaders(req *http.Request, jsonBody bool) {
	if jsonBody {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if t.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}
}

func (t *HTTPTransport) decodeResponse(correlationID string, status int, body []byte) (*types.Response, error) {
	var envelope struct {
		Success bool   `json:"success"`
		Payload any    `json:"payload"`
		Error   string `json:"error"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, transporterrors.NewProtocolError(string(types.TransportHTTP), "non-JSON response body")
		}
	}

	resp := &types.Response{
		CorrelationID: correlationID,
		Payload:       envelope.Payload,
		Timestamp:     time.Now().UnixMilli(),
	}

	if status >= 400 {
		resp.Success = false
		if envelope.Error != "" {
			resp.Error = envelope.Error
		} else {
			resp.Error = fmt.Sprintf("request failed with status %d", status)
		}
		return resp, nil
	}

	resp.Success = true
	return resp, nil
}

func (t *HTTPTransport) consumeStream(ctx context.Context, message *types.Message, body io.ReadCloser) (*types.Response, error) {
	var last types.StreamChunkPayload
	var seen bool

	err := readChatStream(ctx, body, func(chunk *types.StreamChunkPayload) error {
		if chunk.CorrelationID == "" {
			chunk.CorrelationID = message.ID
		}
		t.EmitMessage(&types.Message{
			Type:          types.MessageTypeStreamChunk,
			Payload:       *chunk,
			CorrelationID: chunk.CorrelationID,
			Timestamp:     time.Now().UnixMilli(),
		})
		last = *chunk
		seen = true
		return nil
	})
	if err != nil {
		return nil, transporterrors.NewProtocolError(string(types.TransportHTTP), err.Error())
	}
	if !seen {
		return nil, transporterrors.NewProtocolError(string(types.TransportHTTP), "stream closed without any chunks")
	}

	return &types.Response{
		CorrelationID: message.ID,
		Success:       true,
		Payload:       last,
		Timestamp:     time.Now().UnixMilli(),
	}, nil
}

func (t *HTTPTransport) classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return transporterrors.NewTimeout(string(types.TransportHTTP))
	}
	return transporterrors.NewTransportUnavailable(string(types.TransportHTTP), err.Error())
}

// startPush launches the persistent event-stream subscription used for
// server-initiated health/metrics push, reconnecting with the shared
// backoff schedule on every drop.
func (t *HTTPTransport) startPush() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	t.mu.Lock()
	t.pushCancel = cancel
	t.pushDone = done
	t.mu.Unlock()

	go func() {
		defer close(done)
		attempt := 0
		for {
			if ctx.Err() != nil {
				return
			}
			if attempt > 0 {
				if t.backoff.Exhausted(attempt) {
					t.EmitError(transporterrors.NewTransportUnavailable(string(types.TransportHTTP), "push subscription reconnect attempts exhausted"))
					return
				}
				select {
				case <-time.After(t.backoff.Delay(attempt)):
				case <-ctx.Done():
					return
				}
			}

			if err := t.runPushOnce(ctx); err != nil {
				attempt++
				continue
			}
			attempt = 0
		}
	}()
}

func (t *HTTPTransport) runPushOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.ServerURL+t.cfg.PushPath, nil)
	if err != nil {
		return err
	}
	t.applyHeaders(req, false)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return fmt.Errorf("push subscription returned status %d", resp.StatusCode)
	}

	return readPushStream(ctx, resp.Body, func(msg *types.Message) {
		t.EmitMessage(msg)
	})
}
