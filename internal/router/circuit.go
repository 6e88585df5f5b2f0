package router

import (
	"sync"
	"time"
)

// CircuitState represents the state of a model's circuit breaker.
type CircuitState int

const (
	StateClosed   CircuitState = iota // model is called normally
	StateOpen                         // model is skipped
	StateHalfOpen                     // one probe call allowed
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker tracks consecutive fallback-worthy failures of one model.
type CircuitBreaker struct {
	mu sync.Mutex

	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool

	threshold     int
	probeInterval time.Duration
	now           func() time.Time
}

// NewCircuitBreaker creates a breaker that opens after threshold consecutive
// failures and offers a probe once probeInterval has passed.
func NewCircuitBreaker(threshold int, probeInterval time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:         StateClosed,
		threshold:     threshold,
		probeInterval: probeInterval,
		now:           time.Now,
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// currentState moves OPEN to HALF_OPEN once the probe interval has elapsed.
// Must be called with mu held.
func (cb *CircuitBreaker) currentState() CircuitState {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.probeInterval {
		cb.state = StateHalfOpen
		cb.probing = false
	}
	return cb.state
}

// Allow reports whether the model may be called. In HALF_OPEN only the first
// caller gets through until the probe's outcome is recorded.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case StateClosed:
		return true
	case StateHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	default:
		return false
	}
}

// RecordSuccess closes the circuit and clears the failure streak.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.probing = false
}

// RecordFailure extends the failure streak, opening the circuit at the threshold.
// A failed probe reopens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	switch cb.currentState() {
	case StateClosed:
		if cb.failures >= cb.threshold {
			cb.open()
		}
	case StateHalfOpen:
		cb.open()
	}
}

// Release gives back the half-open slot when its call ended without saying
// anything about the model's health, so the next caller may try instead.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
}

func (cb *CircuitBreaker) open() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.probing = false
}

// Reset returns the breaker to the closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.probing = false
}
