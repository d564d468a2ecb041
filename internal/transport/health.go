package transport

import (
	"time"

	"github.com/obsidian-copilot/transport-core/pkg/types"
)

// healthWindow is how many of the most recent send outcomes feed errorRate,
// per spec §4.1: "errorRate as failures/(successes+failures) over the most
// recent 50 samples."
const healthWindow = 50

// latencyEMAAlpha is the smoothing factor for the moving-average latency,
// per spec §4.1: "simple EMA with α = 0.3 is sufficient".
const latencyEMAAlpha = 0.3

// errorBand buckets an error rate into spec §4.1's three crossing bands:
// <5%, <20%, >=20%. band 0/1/2 respectively.
func errorBand(rate float64) int {
	switch {
	case rate < 0.05:
		return 0
	case rate < 0.20:
		return 1
	default:
		return 2
	}
}

// healthRecord is the mutable rolling health state owned by a single
// transport. It is never shared outside BaseTransport; callers only ever
// see a Snapshot.
type healthRecord struct {
	latencyMs           float64
	successCount        int64
	failureCount        int64
	lastSuccessAt       time.Time
	lastFailureAt       time.Time
	consecutiveFailures int

	// window is a ring buffer of the most recent healthWindow outcomes;
	// true = success.
	window    [healthWindow]bool
	windowLen int
	windowPos int

	lastBand            int
	latencyBaselineAtEmit float64
}

// record folds one completed send's outcome into the rolling health state
// and reports whether the emission criteria in spec §4.1 were met:
// error-rate band crossing or latency-average doubling. Circuit-state
// crossings are reported separately by the breaker's own callback.
func (h *healthRecord) record(success bool, latencyMs float64) bool {
	now := time.Now()

	firstSample := h.windowLen == 0

	if success {
		h.successCount++
		h.lastSuccessAt = now
		h.consecutiveFailures = 0
	} else {
		h.failureCount++
		h.lastFailureAt = now
		h.consecutiveFailures++
	}

	h.window[h.windowPos] = success
	h.windowPos = (h.windowPos + 1) % healthWindow
	if h.windowLen < healthWindow {
		h.windowLen++
	}

	if firstSample {
		h.latencyMs = latencyMs
		h.latencyBaselineAtEmit = latencyMs
	} else {
		h.latencyMs = latencyEMAAlpha*latencyMs + (1-latencyEMAAlpha)*h.latencyMs
	}

	rate := h.errorRate()
	band := errorBand(rate)

	changed := false
	if band != h.lastBand {
		h.lastBand = band
		changed = true
	}
	if h.latencyBaselineAtEmit > 0 && h.latencyMs >= 2*h.latencyBaselineAtEmit {
		changed = true
	}
	if changed {
		h.latencyBaselineAtEmit = h.latencyMs
	}

	return changed
}

// errorRate returns failures/(successes+failures) over the in-window
// samples only.
func (h *healthRecord) errorRate() float64 {
	if h.windowLen == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < h.windowLen; i++ {
		if !h.window[i] {
			failures++
		}
	}
	return float64(failures) / float64(h.windowLen)
}

// snapshot builds the public HealthSnapshot for kind, layering in the
// caller-supplied connection and circuit state (owned by BaseTransport and
// the breaker respectively, not by healthRecord itself).
func (h *healthRecord) snapshot(kind types.TransportKind, connState types.ConnectionState, circState types.CircuitState) types.HealthSnapshot {
	return types.HealthSnapshot{
		Transport:           kind,
		LatencyMs:           h.latencyMs,
		ErrorRate:           h.errorRate(),
		SuccessCount:        h.successCount,
		FailureCount:        h.failureCount,
		LastSuccessAt:       h.lastSuccessAt,
		LastFailureAt:       h.lastFailureAt,
		ConsecutiveFailures: h.consecutiveFailures,
		CircuitState:        circState,
		ConnectionState:     connState,
	}
}
