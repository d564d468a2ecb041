package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/obsidian-copilot/transport-core/pkg/types"
)

// sseBufferSize mirrors the teacher's streaming forwarder default; chat
// chunks and push envelopes from one backend are small enough that 4KiB
// scan buffers, grown to 16KiB via scanner.Buffer, comfortably cover them.
const sseBufferSize = 4096

// sseDataPrefix and sseDone are the line-level SSE framing markers.
const (
	sseDataPrefix = "data: "
	sseDone       = "[DONE]"
)

// sseBufferPool reduces per-stream allocation the same way the teacher's
// internal/streaming.bufferPool does for its upstream-to-downstream
// forwarder, just on the client-reading side instead of the proxying side.
var sseBufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, sseBufferSize)
		return &buf
	},
}

func getSSEBuffer() *[]byte { return sseBufferPool.Get().(*[]byte) }
func putSSEBuffer(buf *[]byte) { sseBufferPool.Put(buf) }

// sseScan walks body line by line, invoking onData for every non-empty
// `data: ` payload. It returns nil once body is exhausted, the [DONE]
// marker arrives, or an onData call reports the terminal chunk; it returns
// ctx.Err() when it finds the context cancelled between lines, and the
// onData or scanner error otherwise. It is the single line-framing implementation shared by
// chat-stream consumption and the push-event subscription.
func sseScan(ctx context.Context, body io.ReadCloser, onData func(data []byte) (done bool, err error)) error {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	buf := getSSEBuffer()
	defer putSSEBuffer(buf)
	scanner.Buffer(*buf, sseBufferSize*4)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		data, ok := bytes.CutPrefix(line, []byte(sseDataPrefix))
		if !ok {
			// Non-`data:` SSE fields (event:, id:, retry:, comments) carry
			// no payload for this backend's stream format; ignore them.
			continue
		}
		data = bytes.TrimSpace(data)

		if bytes.Equal(data, []byte(sseDone)) {
			return nil
		}

		done, err := onData(data)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}

	return scanner.Err()
}

// maxStreamChunks and maxStreamBytes bound a single streamed correlation:
// a backend that never sends IsComplete must not be allowed to grow this
// process's memory without limit.
const (
	maxStreamChunks = 64
	maxStreamBytes  = 1 << 20
)

// readChatStream decodes a chat_enhanced streaming response body into a
// sequence of StreamChunkPayload values, invoking onChunk for each and
// stopping once a chunk reports IsComplete or the [DONE] marker arrives.
// A stream that exceeds maxStreamChunks or maxStreamBytes without
// completing is a protocol violation, not a silent truncation.
func readChatStream(ctx context.Context, body io.ReadCloser, onChunk func(*types.StreamChunkPayload) error) error {
	var chunks int
	var bytesSeen int
	return sseScan(ctx, body, func(data []byte) (bool, error) {
		chunks++
		bytesSeen += len(data)
		if chunks > maxStreamChunks || bytesSeen > maxStreamBytes {
			return false, fmt.Errorf("sse: stream exceeded %d chunks / %d bytes without completing", maxStreamChunks, maxStreamBytes)
		}

		var chunk types.StreamChunkPayload
		if err := json.Unmarshal(data, &chunk); err != nil {
			return false, fmt.Errorf("sse: decode stream chunk: %w", err)
		}
		if err := onChunk(&chunk); err != nil {
			return false, err
		}
		return chunk.IsComplete, nil
	})
}

// pushEnvelope is the wire shape of one event on the backend's persistent
// push subscription: a message-type discriminator plus its raw payload.
type pushEnvelope struct {
	Type    types.MessageType `json:"type"`
	Payload json.RawMessage   `json:"payload"`
}

// readPushStream decodes the persistent event-stream subscription used for
// server-initiated health/metrics push, invoking onMessage with a fully
// typed *types.Message for every recognized envelope. Runs until the
// context is cancelled or the stream closes (reconnection is the caller's
// responsibility via backoff.go).
func readPushStream(ctx context.Context, body io.ReadCloser, onMessage func(*types.Message)) error {
	return sseScan(ctx, body, func(data []byte) (bool, error) {
		var env pushEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return false, fmt.Errorf("sse: decode push envelope: %w", err)
		}

		payload, err := decodePushPayload(env.Type, env.Payload)
		if err != nil {
			return false, err
		}

		onMessage(&types.Message{
			Type:      env.Type,
			Payload:   payload,
			Timestamp: time.Now().UnixMilli(),
		})
		return false, nil
	})
}

func decodePushPayload(msgType types.MessageType, raw json.RawMessage) (any, error) {
	switch msgType {
	case types.MessageTypeHealthUpdate:
		var p types.HealthUpdatePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("sse: decode health_update payload: %w", err)
		}
		return p, nil
	case types.MessageTypePerformanceMetrics:
		var p types.PerformanceMetricsPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("sse: decode performance_metrics payload: %w", err)
		}
		return p, nil
	default:
		var generic map[string]any
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &generic); err != nil {
				return nil, fmt.Errorf("sse: decode %s payload: %w", msgType, err)
			}
		}
		return generic, nil
	}
}
