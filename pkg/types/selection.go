package types

// TaskType is the closed set of model-selection task categories a caller
// may request.
type TaskType string

const (
	TaskTextGeneration    TaskType = "text-generation"
	TaskCodeGeneration    TaskType = "code-generation"
	TaskChat              TaskType = "chat"
	TaskSummarization     TaskType = "summarization"
	TaskTranslation       TaskType = "translation"
	TaskEmbedding         TaskType = "embedding"
	TaskEditing           TaskType = "editing"
	TaskAnalysis          TaskType = "analysis"
	TaskPlanning          TaskType = "planning"
	TaskWorkflowExecution TaskType = "workflow-execution"
)

// QualityRequirement is the caller's desired quality/speed tradeoff.
type QualityRequirement string

const (
	QualityLow    QualityRequirement = "low"
	QualityMedium QualityRequirement = "medium"
	QualityHigh   QualityRequirement = "high"
)

// ModelSelectionRequestPayload is the payload for
// MessageTypeModelSelectionRequest.
type ModelSelectionRequestPayload struct {
	TaskType            TaskType           `json:"task_type"`
	QualityRequirement  QualityRequirement `json:"quality_requirement"`
	MaxCost             *float64           `json:"max_cost,omitempty"`
	ContextLength       int                `json:"context_length,omitempty"`
	PreferredProviders  []string           `json:"preferred_providers,omitempty"`
	TimeoutMs           int64              `json:"timeout_ms,omitempty"`
	UserPreferences     UserPreferences    `json:"user_preferences"`
}

// ModelInfo describes a single candidate or selected model.
type ModelInfo struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Provider          string   `json:"provider"`
	Capabilities      []string `json:"capabilities"`
	CostPerToken      float64  `json:"cost_per_token"`
	MaxTokens         int      `json:"max_tokens"`
	ResponseTimeAvgMs float64  `json:"response_time_avg_ms"`
	AvailabilityScore float64  `json:"availability_score"`
	QualityScore      float64  `json:"quality_score"`
}

// SelectionMetadata accompanies every SelectionResponsePayload.
type SelectionMetadata struct {
	SelectionTimeMs   int64    `json:"selection_time_ms"`
	FactorsConsidered []string `json:"factors_considered"`
	ConfidenceScore   float64  `json:"confidence_score"`
}

// SelectionResponsePayload is the response payload for a
// model_selection_request, also used as the return type of
// modelselect.Service.SelectModel (including the static fallback
// path).
type SelectionResponsePayload struct {
	SelectedModel    ModelInfo         `json:"selected_model"`
	Reasoning        string            `json:"reasoning"`
	FallbackModels   []ModelInfo       `json:"fallback_models"`
	EstimatedCost    float64           `json:"estimated_cost"`
	EstimatedTimeMs  int64             `json:"estimated_time_ms"`
	SelectionMeta    SelectionMetadata `json:"selection_metadata"`
}
