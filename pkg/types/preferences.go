package types

// PreferencePriority is the caller's process-wide optimization target.
type PreferencePriority string

const (
	PreferencePerformance PreferencePriority = "performance"
	PreferenceCost        PreferencePriority = "cost"
	PreferenceBalanced    PreferencePriority = "balanced"
)

// UserPreferences is the process-wide, mutable-by-the-caller preference
// record consulted during selection-context derivation and by the static
// fallback path. Invariants: QualityThreshold in [0,1], MaxCostPerRequest
// >= 0. Callers mutate it only through
// modelselect.Service.UpdateUserPreferences, which enforces the
// invariants and merges atomically.
type UserPreferences struct {
	Priority             PreferencePriority `json:"priority"`
	MaxCostPerRequest    float64            `json:"max_cost_per_request"`
	PreferredProviders   []string           `json:"preferred_providers"`
	FallbackEnabled      bool               `json:"fallback_enabled"`
	QualityThreshold     float64            `json:"quality_threshold"`
	TimeoutPreferenceMs  int64              `json:"timeout_preference_ms"`
}

// DefaultUserPreferences returns the preference record a fresh service
// starts with.
func DefaultUserPreferences() UserPreferences {
	return UserPreferences{
		Priority:            PreferenceBalanced,
		MaxCostPerRequest:   0.5,
		PreferredProviders:  nil,
		FallbackEnabled:     true,
		QualityThreshold:    0.6,
		TimeoutPreferenceMs: 30000,
	}
}

// Clamp enforces the invariants documented on UserPreferences, mutating in
// place.
func (p *UserPreferences) Clamp() {
	if p.QualityThreshold < 0 {
		p.QualityThreshold = 0
	}
	if p.QualityThreshold > 1 {
		p.QualityThreshold = 1
	}
	if p.MaxCostPerRequest < 0 {
		p.MaxCostPerRequest = 0
	}
}

// ApplyUpdate merges a partial update into p, following the "zero value
// means unchanged" convention of PreferencesUpdatePayload.
func (p *UserPreferences) ApplyUpdate(update PreferencesUpdatePayload) {
	if update.Priority != "" {
		p.Priority = PreferencePriority(update.Priority)
	}
	if update.MaxCostPerRequest != nil {
		p.MaxCostPerRequest = *update.MaxCostPerRequest
	}
	if update.PreferredProviders != nil {
		p.PreferredProviders = update.PreferredProviders
	}
	if update.FallbackEnabled != nil {
		p.FallbackEnabled = *update.FallbackEnabled
	}
	if update.QualityThreshold != nil {
		p.QualityThreshold = *update.QualityThreshold
	}
	if update.TimeoutPreferenceMs != nil {
		p.TimeoutPreferenceMs = *update.TimeoutPreferenceMs
	}
	p.Clamp()
}
