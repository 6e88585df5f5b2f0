package config

import (
	"errors"
	"fmt"
)

// Validate rejects model settings the orchestrator and job client cannot run with.
func (m *ModelsConfig) Validate() error {
	var errs []error
	for i, name := range m.Text.Queue {
		if name == "" {
			errs = append(errs, fmt.Errorf("text.queue[%d]: empty model name", i))
		}
	}
	r := m.Text.Retry
	if r.MaxRetries < 0 {
		errs = append(errs, errors.New("text.retry.max_retries: must not be negative"))
	}
	if r.BaseDelay < 0 || r.MaxDelay < 0 || r.MaxJitter < 0 || r.MaxRetryAfter < 0 {
		errs = append(errs, errors.New("text.retry: delays must not be negative"))
	}
	if m.Text.CircuitBreaker.Enabled && m.Text.CircuitBreaker.FailureThreshold < 1 {
		errs = append(errs, errors.New("text.circuit_breaker.failure_threshold: must be at least 1"))
	}
	if m.Image.PollInterval <= 0 {
		errs = append(errs, errors.New("image.poll_interval: must be positive"))
	}
	if m.Image.MaxAttempts < 1 {
		errs = append(errs, errors.New("image.max_attempts: must be at least 1"))
	}
	if m.Image.Standard.Version == "" || m.Image.ControlNet.Version == "" {
		errs = append(errs, errors.New("image: model versions must be set"))
	}
	return errors.Join(errs...)
}
