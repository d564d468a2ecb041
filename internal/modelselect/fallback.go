package modelselect

import "github.com/obsidian-copilot/transport-core/pkg/types"

// fallbackEntry is one row of the static, hard-coded fallback table keyed
// by task_type, consulted only when the manager cannot deliver a real
// selection and the caller's preferences allow it.
type fallbackEntry struct {
	model           types.ModelInfo
	estimatedCost   float64
	estimatedTimeMs int64
}

// defaultFallbackTable assigns a gpt-4-class model to code-generation and
// analysis (tasks that benefit most from the stronger model even under
// degraded connectivity) and a gpt-3.5-turbo-class model to everything
// else. The exact identifiers are a configuration default, not contract —
// per spec §4.6, only the existence and shape of a fallback entry per
// task_type is required.
func defaultFallbackTable() map[types.TaskType]fallbackEntry {
	strong := types.ModelInfo{
		ID:                "gpt-4",
		Name:              "GPT-4",
		Provider:          "openai",
		Capabilities:      []string{"text-generation", "code-generation", "analysis"},
		CostPerToken:      0.00003,
		MaxTokens:         8192,
		ResponseTimeAvgMs: 3000,
		AvailabilityScore: 1.0,
		QualityScore:      0.95,
	}
	fast := types.ModelInfo{
		ID:                "gpt-3.5-turbo",
		Name:              "GPT-3.5 Turbo",
		Provider:          "openai",
		Capabilities:      []string{"text-generation", "chat", "summarization"},
		CostPerToken:      0.000002,
		MaxTokens:         4096,
		ResponseTimeAvgMs: 800,
		AvailabilityScore: 1.0,
		QualityScore:      0.75,
	}

	table := make(map[types.TaskType]fallbackEntry, len(types.RequestTypes())+4)
	for _, t := range []types.TaskType{
		types.TaskTextGeneration, types.TaskChat, types.TaskSummarization,
		types.TaskTranslation, types.TaskEmbedding, types.TaskEditing,
		types.TaskPlanning, types.TaskWorkflowExecution,
	} {
		table[t] = fallbackEntry{model: fast, estimatedCost: 0.01, estimatedTimeMs: 1500}
	}
	table[types.TaskCodeGeneration] = fallbackEntry{model: strong, estimatedCost: 0.08, estimatedTimeMs: 4000}
	table[types.TaskAnalysis] = fallbackEntry{model: strong, estimatedCost: 0.08, estimatedTimeMs: 4000}
	return table
}

// staticFallback synthesizes a SelectionResponsePayload for taskType
// without touching a transport, per spec §4.6's "caller always receives a
// sane response" guarantee.
func staticFallback(table map[types.TaskType]fallbackEntry, taskType types.TaskType) types.SelectionResponsePayload {
	entry, ok := table[taskType]
	if !ok {
		entry = fallbackEntry{
			model: types.ModelInfo{
				ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", Provider: "openai",
				CostPerToken: 0.000002, MaxTokens: 4096,
				ResponseTimeAvgMs: 800, AvailabilityScore: 1.0, QualityScore: 0.75,
			},
			estimatedCost:   0.01,
			estimatedTimeMs: 1500,
		}
	}

	return types.SelectionResponsePayload{
		SelectedModel:   entry.model,
		Reasoning:       "fallback selection: no transport was able to deliver a live model selection",
		FallbackModels:  nil,
		EstimatedCost:   entry.estimatedCost,
		EstimatedTimeMs: entry.estimatedTimeMs,
		SelectionMeta: types.SelectionMetadata{
			FactorsConsidered: []string{"fallback"},
			ConfidenceScore:   0.3,
		},
	}
}
