// Package router sends text-generation requests through an ordered queue of
// models, retrying and falling back according to how each failure classifies.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wava-studio/wava-gateway/internal/config"
	"github.com/wava-studio/wava-gateway/internal/router/adapters"
	"github.com/wava-studio/wava-gateway/internal/telemetry"
	"github.com/wava-studio/wava-gateway/internal/types"
)

// Orchestrator runs the smart-fallback loop over a Backend.
type Orchestrator struct {
	backend  adapters.Backend
	settings func() config.TextModelsConfig
	health   *HealthTracker
	sleeper  Sleeper
	rand     func(int64) int64
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

type Option func(*Orchestrator)

// WithHealthTracker enables per-model circuit breaking.
func WithHealthTracker(ht *HealthTracker) Option {
	return func(o *Orchestrator) { o.health = ht }
}

func WithSleeper(s Sleeper) Option {
	return func(o *Orchestrator) { o.sleeper = s }
}

// WithJitterSource replaces the random source used for backoff jitter.
func WithJitterSource(fn func(n int64) int64) Option {
	return func(o *Orchestrator) { o.rand = fn }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an orchestrator. settings is read once per Generate call, so a
// config reload never changes a generation that is already running.
func New(backend adapters.Backend, settings func() config.TextModelsConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:  backend,
		settings: settings,
		sleeper:  TimerSleeper{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Static returns a settings func that always yields cfg.
func Static(cfg config.TextModelsConfig) func() config.TextModelsConfig {
	return func() config.TextModelsConfig { return cfg }
}

// Health returns the circuit tracker, or nil when circuit breaking is off.
func (o *Orchestrator) Health() *HealthTracker { return o.health }

// Generate returns the first successful model answer for req.
//
// It returns *Error when a failure makes further attempts pointless,
// *ExhaustedError when every model failed, and the context's error when the
// caller gave up.
func (o *Orchestrator) Generate(ctx context.Context, credential string, req *types.GenerationRequest) (string, error) {
	if req == nil || len(req.Contents) == 0 {
		return "", &Error{Class: types.KindMalformedRequest, Err: errors.New("request has no content turns")}
	}

	cfg := o.settings()
	queue := ResolveQueue(req.Options.ModelQueue, cfg.Queue)
	backoff := Backoff{
		Base:   cfg.Retry.BaseDelay,
		Max:    cfg.Retry.MaxDelay,
		Jitter: cfg.Retry.MaxJitter,
		Rand:   o.rand,
	}

	start := time.Now()
	exhausted := &ExhaustedError{}
	for _, model := range queue {
		if err := ctx.Err(); err != nil {
			o.metrics.RecordGeneration("cancelled", msSince(start))
			return "", fmt.Errorf("generation cancelled: %w", err)
		}
		if o.health != nil && !o.health.Allow(model) {
			o.logger.Warn("skipping model with open circuit", "model", model)
			o.metrics.RecordFallback(model, "circuit_open")
			exhausted.Skipped = append(exhausted.Skipped, model)
			continue
		}

		exhausted.Attempted = append(exhausted.Attempted, model)
		call := BuildCall(model, req, cfg)

		text, abort, err := o.tryModel(ctx, credential, call, cfg, backoff)
		if err == nil {
			o.metrics.RecordGeneration("success", msSince(start))
			return text, nil
		}
		if abort {
			// Auth, malformed and cancelled calls are not evidence about the model.
			if o.health != nil {
				o.health.Release(model)
			}
			o.metrics.RecordGeneration("aborted", msSince(start))
			return "", err
		}

		exhausted.Last = err
		o.metrics.RecordFallback(model, string(types.KindOf(err)))
		o.logger.Warn("falling back to next model",
			"model", model,
			"kind", types.KindOf(err),
		)
	}

	if exhausted.Last == nil {
		exhausted.Last = &Error{Class: types.KindUnknown, Err: errors.New("no model available")}
	}
	o.metrics.RecordGeneration("exhausted", msSince(start))
	o.logger.Error("model queue exhausted",
		"attempted", exhausted.Attempted,
		"skipped", exhausted.Skipped,
		"error", exhausted.Last,
	)
	return "", exhausted
}

// tryModel makes up to MaxRetries+1 attempts against one model. abort is true
// when the error must end orchestration rather than fall back.
func (o *Orchestrator) tryModel(ctx context.Context, credential string, call *types.ModelCall, cfg config.TextModelsConfig, backoff Backoff) (string, bool, error) {
	for attempt := 1; ; attempt++ {
		text, err := o.backend.Generate(ctx, credential, call.Model, call)
		if err == nil {
			o.metrics.RecordModelAttempt(call.Model, "success")
			if o.health != nil {
				o.health.RecordSuccess(call.Model)
			}
			o.logger.Info("model attempt succeeded", "model", call.Model, "attempt", attempt)
			return text, false, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", true, fmt.Errorf("generation cancelled: %w", ctxErr)
		}

		c := Classify(err, cfg.Retry.MaxRetryAfter)
		o.metrics.RecordModelAttempt(call.Model, string(c.Kind))
		o.logger.Warn("model attempt failed",
			"model", call.Model,
			"attempt", attempt,
			"kind", c.Kind,
			"retryable", c.Retryable,
			"error", err,
		)
		failure := &Error{Class: c.Kind, Model: call.Model, Attempt: attempt, Err: err}

		if c.Kind == types.KindAuth || (!c.Retryable && !c.Fallback) {
			return "", true, failure
		}
		if !c.Retryable || attempt > cfg.Retry.MaxRetries {
			if o.health != nil {
				o.health.RecordFailure(call.Model)
			}
			return "", false, failure
		}

		wait := c.RetryAfter
		if wait <= 0 {
			wait = backoff.Delay(attempt)
		}
		o.logger.Info("retrying model", "model", call.Model, "retry", attempt, "wait", wait)
		if err := o.sleeper.Sleep(ctx, wait); err != nil {
			return "", true, fmt.Errorf("generation cancelled: %w", err)
		}
	}
}

// ResolveQueue picks the model order: the caller's override, then the
// configured queue, then the built-in default. Empty names are dropped.
func ResolveQueue(override, configured []string) []string {
	src := override
	if len(src) == 0 {
		src = configured
	}
	if len(src) == 0 {
		src = config.DefaultModelQueue
	}
	out := make([]string, 0, len(src))
	for _, m := range src {
		if m != "" {
			out = append(out, m)
		}
	}
	return out
}

// BuildCall derives the per-model call from the shared request.
func BuildCall(model string, req *types.GenerationRequest, cfg config.TextModelsConfig) *types.ModelCall {
	gc := types.GenerationConfig{
		Temperature:     cfg.Temperature,
		TopP:            cfg.TopP,
		TopK:            cfg.TopK,
		MaxOutputTokens: cfg.MaxOutputTokens,
	}
	hint := req.Options.ResponseMIMEType
	if req.ResponseSchema != nil {
		gc.ResponseSchema = req.ResponseSchema
		if hint == "" {
			hint = "application/json"
		}
	}
	gc.ResponseMIMEType = hint

	return &types.ModelCall{
		Model:             model,
		Contents:          req.Contents,
		SystemInstruction: req.SystemInstruction,
		Config:            gc,
	}
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
