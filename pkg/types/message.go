// Package types defines the wire-level data model shared by every transport
// and by the Transport Manager: messages, responses, selection context, and
// the typed payloads carried for each closed message type.
package types

import (
	"time"

	"github.com/google/uuid"
)

// MessageType is the closed set of message kinds the Transport Core knows
// how to route. Request/response types flow both ways; push-only types are
// emitted by a transport without a matching pending request.
type MessageType string

const (
	MessageTypeModelSelectionRequest MessageType = "model_selection_request"
	MessageTypeHealthCheckRequest    MessageType = "health_check_request"
	MessageTypePreferencesUpdate     MessageType = "preferences_update"
	MessageTypeChatEnhanced          MessageType = "chat_enhanced"
	MessageTypeWorkflowRequest       MessageType = "workflow_request"
	MessageTypeTaskPlanningRequest   MessageType = "task_planning_request"

	// Push-only types: never sent as a request, only ever observed inbound.
	MessageTypeHealthUpdate       MessageType = "health_update"
	MessageTypePerformanceMetrics MessageType = "performance_metrics"
	MessageTypeStreamChunk        MessageType = "stream_chunk"
)

// RequestTypes lists the message types a caller may send through the
// manager. Push-only types are deliberately excluded.
func RequestTypes() []MessageType {
	return []MessageType{
		MessageTypeModelSelectionRequest,
		MessageTypeHealthCheckRequest,
		MessageTypePreferencesUpdate,
		MessageTypeChatEnhanced,
		MessageTypeWorkflowRequest,
		MessageTypeTaskPlanningRequest,
	}
}

// IsPushOnly reports whether a message type is never the subject of a
// pending request and only ever arrives as an unsolicited push.
func (t MessageType) IsPushOnly() bool {
	switch t {
	case MessageTypeHealthUpdate, MessageTypePerformanceMetrics, MessageTypeStreamChunk:
		return true
	default:
		return false
	}
}

// Message is every outbound and inbound payload exchanged with a transport.
// Payload is left as `any` at this layer; each transport and the manager
// type-assert or decode it into the concrete *Payload type matching Type.
type Message struct {
	ID            string      `json:"id"`
	Type          MessageType `json:"type"`
	Payload       any         `json:"payload"`
	Timestamp     int64       `json:"timestamp"`
	CorrelationID string      `json:"correlation_id,omitempty"`
}

// NewMessage builds a Message with a fresh client-generated ID and the
// current wall-clock timestamp in milliseconds.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Reset clears a Message for reuse via internal/pool.
func (m *Message) Reset() {
	m.ID = ""
	m.Type = ""
	m.Payload = nil
	m.Timestamp = 0
	m.CorrelationID = ""
}

// Response is the correlated reply to a request Message.
type Response struct {
	ID            string `json:"id"`
	CorrelationID string `json:"correlation_id"`
	Success       bool   `json:"success"`
	Payload       any    `json:"payload,omitempty"`
	Error         string `json:"error,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

// Reset clears a Response for reuse via internal/pool.
func (r *Response) Reset() {
	r.ID = ""
	r.CorrelationID = ""
	r.Success = false
	r.Payload = nil
	r.Error = ""
	r.Timestamp = 0
}

// Priority is the urgency band attached to a selection context.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// SelectionContext accompanies every outbound send and drives the Transport
// Manager's scoring algorithm.
type SelectionContext struct {
	MessageType      MessageType `json:"message_type"`
	Priority         Priority    `json:"priority"`
	RequiresRealtime bool        `json:"requires_realtime"`
	MaxLatencyMs     int64       `json:"max_latency_ms,omitempty"`
}

// ChatMessage is a single turn in a chat_enhanced conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatEnhancedPayload is the payload for MessageTypeChatEnhanced.
type ChatEnhancedPayload struct {
	ConversationID string        `json:"conversation_id"`
	Messages       []ChatMessage `json:"messages"`
	Stream         bool          `json:"stream"`
	VaultContext   string        `json:"vault_context,omitempty"`
	ModelHint      string        `json:"model_hint,omitempty"`
}

// WorkflowRequestPayload is the payload for MessageTypeWorkflowRequest.
type WorkflowRequestPayload struct {
	WorkflowID     string         `json:"workflow_id"`
	WorkflowType   string         `json:"workflow_type"`
	Input          map[string]any `json:"input,omitempty"`
	StepTimeoutMs  int64          `json:"step_timeout_ms,omitempty"`
}

// TaskPlanningPayload is the payload for MessageTypeTaskPlanningRequest.
type TaskPlanningPayload struct {
	Goal           string   `json:"goal"`
	ExistingTasks  []string `json:"existing_tasks,omitempty"`
	HorizonDays    int      `json:"horizon_days,omitempty"`
	Constraints    []string `json:"constraints,omitempty"`
}

// PreferencesUpdatePayload is the payload for MessageTypePreferencesUpdate.
// All fields are optional; zero values mean "leave unchanged".
type PreferencesUpdatePayload struct {
	Priority              string   `json:"priority,omitempty"`
	MaxCostPerRequest     *float64 `json:"max_cost_per_request,omitempty"`
	PreferredProviders    []string `json:"preferred_providers,omitempty"`
	FallbackEnabled       *bool    `json:"fallback_enabled,omitempty"`
	QualityThreshold      *float64 `json:"quality_threshold,omitempty"`
	TimeoutPreferenceMs   *int64   `json:"timeout_preference_ms,omitempty"`
}

// HealthUpdatePayload is the push-only payload for MessageTypeHealthUpdate.
type HealthUpdatePayload struct {
	Transport string         `json:"transport"`
	Health    HealthSnapshot `json:"health"`
}

// PerformanceSample is a single datapoint inside a PerformanceMetricsPayload.
type PerformanceSample struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// PerformanceMetricsPayload is the push-only payload for
// MessageTypePerformanceMetrics.
type PerformanceMetricsPayload struct {
	Transport     string              `json:"transport"`
	WindowSeconds int64               `json:"window_seconds"`
	Samples       []PerformanceSample `json:"samples"`
}

// StreamChunkPayload is the push-only payload for MessageTypeStreamChunk.
type StreamChunkPayload struct {
	CorrelationID string         `json:"correlation_id"`
	Content       string         `json:"content"`
	IsComplete    bool           `json:"is_complete"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}
