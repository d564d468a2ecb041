package types

import "time"

// TransportKind is the closed set of physical channels the Transport
// Manager can route through.
type TransportKind string

const (
	TransportHTTP       TransportKind = "http"
	TransportWebSocket  TransportKind = "websocket"
	TransportFileSystem TransportKind = "filesystem"
)

// ConnectionState is the lifecycle state of a single transport.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateFailed       ConnectionState = "failed"
)

// CircuitState is the circuit-breaker gate state for a transport.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// Capabilities is the immutable-after-construction capability descriptor
// for a transport.
type Capabilities struct {
	Bidirectional   bool
	Streaming       bool
	RealtimeCapable bool
	OfflineCapable  bool
	MaxMessageBytes int64
	SupportedTypes  map[MessageType]bool
}

// Supports reports whether the capability descriptor lists msgType as
// carriable.
func (c Capabilities) Supports(msgType MessageType) bool {
	return c.SupportedTypes[msgType]
}

// NewSupportedTypes builds a SupportedTypes set from a variadic list, for
// use in transport constructors.
func NewSupportedTypes(types ...MessageType) map[MessageType]bool {
	set := make(map[MessageType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return set
}

// HealthSnapshot is a point-in-time copy of a transport's rolling health
// record, safe to hand to callers outside the owning transport.
type HealthSnapshot struct {
	Transport           TransportKind `json:"transport"`
	LatencyMs           float64       `json:"latency_ms"`
	ErrorRate           float64       `json:"error_rate"`
	SuccessCount        int64         `json:"success_count"`
	FailureCount        int64         `json:"failure_count"`
	LastSuccessAt       time.Time     `json:"last_success_at,omitempty"`
	LastFailureAt       time.Time     `json:"last_failure_at,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	CircuitState        CircuitState  `json:"circuit_state"`
	ConnectionState     ConnectionState `json:"connection_state"`
}
