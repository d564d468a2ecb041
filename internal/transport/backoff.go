package transport

import "time"

// ReconnectBackoff computes the shared exponential backoff schedule used
// by both the HTTP SSE subscription and the WebSocket transport's
// reconnect loop, per spec §4.2/§4.3: "initial 1s, ×2 per attempt, cap 30s,
// max 10 attempts."
type ReconnectBackoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
	MaxAttempts int
}

// DefaultReconnectBackoff returns the spec-mandated schedule.
func DefaultReconnectBackoff() ReconnectBackoff {
	return ReconnectBackoff{
		Initial:     time.Second,
		Multiplier:  2,
		Max:         30 * time.Second,
		MaxAttempts: 10,
	}
}

// Delay returns the backoff delay before reconnect attempt number attempt
// (1-indexed: the delay preceding the first retry). Attempt 0 or less
// returns 0 (no delay before the initial attempt).
func (b ReconnectBackoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := b.Initial
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(delay) * b.Multiplier)
		if next < delay {
			// overflow guard
			break
		}
		delay = next
	}

	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	return delay
}

// Exhausted reports whether attempt has used up the configured retry
// budget.
func (b ReconnectBackoff) Exhausted(attempt int) bool {
	return b.MaxAttempts > 0 && attempt >= b.MaxAttempts
}
