package transportmgr

import (
	transporterrors "github.com/obsidian-copilot/transport-core/pkg/errors"
	"github.com/obsidian-copilot/transport-core/pkg/types"
)

// SelectionWeights controls the relative importance of each scoring factor
// in the candidate-ranking formula `score = wL*L + wR*R + wC*C + w$*$`.
// Weights need not sum to 1.0 — Normalize rescales them.
type SelectionWeights struct {
	Latency     float64
	Reliability float64
	Capability  float64
	Cost        float64
}

// DefaultSelectionWeights mirrors the defaults named for the scoring
// formula: latency 0.3, reliability 0.4, capability 0.2, cost 0.1.
func DefaultSelectionWeights() SelectionWeights {
	return SelectionWeights{Latency: 0.3, Reliability: 0.4, Capability: 0.2, Cost: 0.1}
}

// Normalize returns weights scaled to sum to 1.0, falling back to equal
// quarters when the input sums to zero or less.
func (w SelectionWeights) Normalize() SelectionWeights {
	sum := w.Latency + w.Reliability + w.Capability + w.Cost
	if sum <= 0 {
		return SelectionWeights{Latency: 0.25, Reliability: 0.25, Capability: 0.25, Cost: 0.25}
	}
	return SelectionWeights{
		Latency:     w.Latency / sum,
		Reliability: w.Reliability / sum,
		Capability:  w.Capability / sum,
		Cost:        w.Cost / sum,
	}
}

// referenceLatencyMs bounds the latency normalization: a candidate at or
// above this average latency scores 0 on the latency factor. Candidates
// with no samples yet (LatencyMs == 0) score a neutral 0.5 rather than a
// perfect 1.0, so an untested transport doesn't automatically outrank a
// proven fast one.
const referenceLatencyMs = 5000.0

// capabilityFit scores a fixed set of capability bits (bidirectional,
// streaming, offline) that contribute to a candidate's fit once the hard
// requirements (message-type support, realtime if required) are already
// satisfied. Richer transports — e.g. WebSocket's bidirectional,
// streaming-capable channel versus FileSystem's store-and-forward one —
// score higher here, all else equal.
func capabilityFit(caps types.Capabilities) float64 {
	total := 3.0
	have := 0.0
	if caps.Bidirectional {
		have++
	}
	if caps.Streaming {
		have++
	}
	if caps.OfflineCapable {
		have++
	}
	return have / total
}

// Candidate is one transport's scoring input: its static capabilities and
// its current health snapshot.
type Candidate struct {
	Kind         types.TransportKind
	Capabilities types.Capabilities
	Health       types.HealthSnapshot
}

// scored pairs a Candidate with its computed score for sorting.
type scored struct {
	candidate Candidate
	score     float64
}

// score computes the candidate's weighted score per the configured
// weights and cost table. It is a pure function of its inputs: identical
// (candidate, weights, costByTransport) always yields the same result.
func score(c Candidate, weights SelectionWeights, costByTransport map[types.TransportKind]float64) float64 {
	var latencyFactor float64
	if c.Health.LatencyMs <= 0 {
		latencyFactor = 0.5
	} else {
		latencyFactor = 1 - min(c.Health.LatencyMs, referenceLatencyMs)/referenceLatencyMs
	}

	reliabilityFactor := 1 - clamp01(c.Health.ErrorRate)
	capabilityFactor := capabilityFit(c.Capabilities)

	cost := costByTransport[c.Kind]
	costFactor := 1 - clamp01(cost)

	return weights.Latency*latencyFactor +
		weights.Reliability*reliabilityFactor +
		weights.Capability*capabilityFactor +
		weights.Cost*costFactor
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// filterCandidates drops any candidate whose SupportedTypes doesn't
// include selCtx.MessageType, and any whose RealtimeCapable is false when
// selCtx.RequiresRealtime is true.
func filterCandidates(candidates []Candidate, selCtx types.SelectionContext) []Candidate {
	filtered := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if !c.Capabilities.Supports(selCtx.MessageType) {
			continue
		}
		if selCtx.RequiresRealtime && !c.Capabilities.RealtimeCapable {
			continue
		}
		filtered = append(filtered, c)
	}
	return filtered
}

// SelectTransport runs the five-step selection algorithm: filter by
// capability, score the survivors, and break ties by the candidate's
// position in fallbackChain. Returns NoSuitableTransport if filtering
// leaves nothing to score.
func SelectTransport(candidates []Candidate, selCtx types.SelectionContext, weights SelectionWeights, fallbackChain []types.TransportKind, costByTransport map[types.TransportKind]float64) (types.TransportKind, error) {
	filtered := filterCandidates(candidates, selCtx)
	if len(filtered) == 0 {
		return "", transporterrors.NewNoSuitableTransport("no connected transport satisfies the selection context")
	}
	return SelectTransportScored(filtered, weights, fallbackChain, costByTransport), nil
}

// SelectTransportScored scores and ranks already-filtered candidates,
// returning the winning kind. costByTransport may be nil, in which case
// every candidate is treated as equally costed.
func SelectTransportScored(candidates []Candidate, weights SelectionWeights, fallbackChain []types.TransportKind, costByTransport map[types.TransportKind]float64) types.TransportKind {
	weights = weights.Normalize()
	chainIndex := make(map[types.TransportKind]int, len(fallbackChain))
	for i, k := range fallbackChain {
		chainIndex[k] = i
	}

	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, scored{candidate: c, score: score(c, weights, costByTransport)})
	}

	best := ranked[0]
	for _, r := range ranked[1:] {
		if r.score > best.score {
			best = r
			continue
		}
		if r.score == best.score && chainIndex[r.candidate.Kind] < chainIndex[best.candidate.Kind] {
			best = r
		}
	}
	return best.candidate.Kind
}
