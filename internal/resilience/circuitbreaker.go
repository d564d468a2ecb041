// Package resilience implements the per-transport circuit breaker that
// gates BaseTransport.send, following the breaker's place in the
// teacher's high-availability toolkit.
package resilience

import (
	"sync"
	"time"

	"github.com/obsidian-copilot/transport-core/pkg/types"
)

// CircuitBreakerConfig controls when a breaker opens and how long it stays
// open before a half-open trial is permitted.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures, within
	// FailureWindow, that opens the circuit.
	FailureThreshold int
	// FailureWindow bounds how far back consecutive failures are counted;
	// an older failure streak is discarded rather than accumulated.
	FailureWindow time.Duration
	// CooldownPeriod is how long the circuit stays open before a single
	// half-open trial request is permitted.
	CooldownPeriod time.Duration
}

// DefaultCircuitBreakerConfig mirrors spec §4.1: 5 consecutive failures
// within 60s opens the circuit; a 30s cooldown precedes the half-open
// trial.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		FailureWindow:    60 * time.Second,
		CooldownPeriod:   30 * time.Second,
	}
}

// CircuitBreaker gates sends on a single transport. Unlike the teacher's
// reference implementation, half-open permits exactly one trial request
// at a time rather than a configurable burst, per spec §4.1: "a single
// trial call is permitted."
type CircuitBreaker struct {
	mu                  sync.Mutex
	name                string
	state               types.CircuitState
	consecutiveFailures int
	windowStart         time.Time
	openedAt            time.Time
	halfOpenTrial       bool
	config              CircuitBreakerConfig
	onStateChange       func(name string, from, to types.CircuitState)
}

// NewCircuitBreaker builds a breaker in the closed state.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		state:  types.CircuitClosed,
		config: cfg,
	}
}

// OnStateChange registers a callback invoked (asynchronously, off the
// lock) on every state transition. Used by the health-record layer to
// emit health_changed.
func (cb *CircuitBreaker) OnStateChange(fn func(name string, from, to types.CircuitState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Allow reports whether a send may proceed. It is the only place the
// breaker performs a state transition on the read path (open -> half-open
// once the cooldown elapses).
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case types.CircuitClosed:
		return true

	case types.CircuitOpen:
		if time.Since(cb.openedAt) >= cb.config.CooldownPeriod {
			cb.transitionTo(types.CircuitHalfOpen)
			cb.halfOpenTrial = true
			return true
		}
		return false

	case types.CircuitHalfOpen:
		if cb.halfOpenTrial {
			return false
		}
		cb.halfOpenTrial = true
		return true

	default:
		return false
	}
}

// RecordSuccess resets the failure streak in the closed state, or closes
// the circuit on a successful half-open trial.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case types.CircuitClosed:
		cb.consecutiveFailures = 0

	case types.CircuitHalfOpen:
		cb.transitionTo(types.CircuitClosed)
		cb.consecutiveFailures = 0
		cb.halfOpenTrial = false
	}
}

// RecordFailure accumulates the consecutive-failure streak in the closed
// state, opening the circuit at FailureThreshold, or immediately reopens
// on a failed half-open trial.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()

	switch cb.state {
	case types.CircuitClosed:
		if cb.consecutiveFailures == 0 || now.Sub(cb.windowStart) > cb.config.FailureWindow {
			cb.windowStart = now
			cb.consecutiveFailures = 0
		}
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.transitionTo(types.CircuitOpen)
			cb.openedAt = now
		}

	case types.CircuitHalfOpen:
		cb.transitionTo(types.CircuitOpen)
		cb.openedAt = now
		cb.halfOpenTrial = false
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() types.CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the breaker's owning transport name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Reset forces the breaker back to closed, clearing all counters. Used by
// tests and by an operator-initiated manual recovery.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.transitionTo(types.CircuitClosed)
	cb.consecutiveFailures = 0
	cb.halfOpenTrial = false
}

// transitionTo must be called with cb.mu held.
func (cb *CircuitBreaker) transitionTo(newState types.CircuitState) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState

	if cb.onStateChange != nil {
		go cb.onStateChange(cb.name, oldState, newState)
	}
}
