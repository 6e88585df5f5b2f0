package router

import (
	"sort"
	"sync"
	"time"
)

// HealthTracker keeps one circuit breaker per model.
type HealthTracker struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	threshold     int
	probeInterval time.Duration
	now           func() time.Time
}

// NewHealthTracker creates a tracker whose breakers use the given thresholds.
func NewHealthTracker(threshold int, probeInterval time.Duration) *HealthTracker {
	return &HealthTracker{
		breakers:      make(map[string]*CircuitBreaker),
		threshold:     threshold,
		probeInterval: probeInterval,
		now:           time.Now,
	}
}

// Breaker returns (or lazily creates) the circuit breaker for a model.
func (ht *HealthTracker) Breaker(model string) *CircuitBreaker {
	ht.mu.RLock()
	cb, ok := ht.breakers[model]
	ht.mu.RUnlock()
	if ok {
		return cb
	}

	ht.mu.Lock()
	defer ht.mu.Unlock()
	if cb, ok := ht.breakers[model]; ok {
		return cb
	}
	cb = NewCircuitBreaker(ht.threshold, ht.probeInterval)
	cb.now = ht.now
	ht.breakers[model] = cb
	return cb
}

// Allow reports whether the model's circuit lets a call through.
func (ht *HealthTracker) Allow(model string) bool {
	return ht.Breaker(model).Allow()
}

func (ht *HealthTracker) RecordSuccess(model string) {
	ht.Breaker(model).RecordSuccess()
}

func (ht *HealthTracker) RecordFailure(model string) {
	ht.Breaker(model).RecordFailure()
}

// Release frees the model's half-open slot without recording an outcome.
func (ht *HealthTracker) Release(model string) {
	ht.Breaker(model).Release()
}

// ModelHealth is a point-in-time view of one model's circuit.
type ModelHealth struct {
	Model string `json:"model"`
	State string `json:"state"`
}

// Snapshot lists every tracked model's circuit state, sorted by model.
func (ht *HealthTracker) Snapshot() []ModelHealth {
	ht.mu.RLock()
	out := make([]ModelHealth, 0, len(ht.breakers))
	for model, cb := range ht.breakers {
		out = append(out, ModelHealth{Model: model, State: cb.State().String()})
	}
	ht.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}
