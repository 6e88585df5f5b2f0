// Package prediction submits image-generation jobs and polls them to a
// terminal state.
package prediction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wava-studio/wava-gateway/internal/config"
	"github.com/wava-studio/wava-gateway/internal/telemetry"
	"github.com/wava-studio/wava-gateway/internal/types"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func timerSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Client runs one job at a time per call; it holds no per-job state and is
// safe for concurrent use.
type Client struct {
	backend  Backend
	settings func() config.ImageModelsConfig
	sleep    SleepFunc
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

type Option func(*Client)

func WithSleep(fn SleepFunc) Option {
	return func(c *Client) { c.sleep = fn }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a job client. settings supplies the poll interval, the
// attempt cap and the render recipes; it is read once per job.
func NewClient(backend Backend, settings func() config.ImageModelsConfig, opts ...Option) *Client {
	c := &Client{
		backend:  backend,
		settings: settings,
		sleep:    timerSleep,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Static returns a settings func that always yields cfg.
func Static(cfg config.ImageModelsConfig) func() config.ImageModelsConfig {
	return func() config.ImageModelsConfig { return cfg }
}

// SubmitAndAwait creates a job and polls it until it succeeds, fails, or the
// attempt cap is reached. A failed create or status request ends the job.
func (c *Client) SubmitAndAwait(ctx context.Context, version string, input map[string]any) (Output, error) {
	cfg := c.settings()
	start := time.Now()

	p, err := c.backend.Create(ctx, version, input)
	if err != nil {
		c.metrics.RecordPrediction("create_failed", msSince(start))
		return nil, err
	}
	c.logger.Info("prediction created", "id", p.ID, "status", p.Status)

	polls := 0
	for !p.Status.Terminal() {
		if polls >= cfg.MaxAttempts {
			c.metrics.RecordPrediction("timeout", msSince(start))
			c.logger.Warn("prediction poll budget exhausted", "id", p.ID, "polls", polls, "status", p.Status)
			return nil, &TimeoutError{ID: p.ID, Attempts: polls, Status: p.Status}
		}
		if err := c.sleep(ctx, cfg.PollInterval); err != nil {
			return nil, fmt.Errorf("await prediction %s: %w", p.ID, err)
		}

		next, err := c.backend.Get(ctx, p.ID)
		if err != nil {
			c.metrics.RecordPrediction("poll_failed", msSince(start))
			return nil, fmt.Errorf("poll prediction %s: %w", p.ID, err)
		}
		polls++
		c.metrics.RecordPoll(string(next.Status))

		if next.Status.Rank() < p.Status.Rank() {
			c.logger.Warn("ignoring prediction status regression",
				"id", p.ID,
				"from", p.Status,
				"to", next.Status,
			)
			next.Status = p.Status
		}
		p = next
	}

	c.metrics.RecordPrediction(string(p.Status), msSince(start))
	c.logger.Info("prediction finished", "id", p.ID, "status", p.Status, "polls", polls)

	if p.Status != types.StatusSucceeded {
		reason := p.ErrorText()
		if reason == "" {
			reason = string(p.Status)
		}
		return nil, &JobFailedError{ID: p.ID, Status: p.Status, Reason: reason}
	}
	return Output(p.Output), nil
}

// SubmitForFirst runs a job and returns its first output value.
func (c *Client) SubmitForFirst(ctx context.Context, version string, input map[string]any) (string, error) {
	out, err := c.SubmitAndAwait(ctx, version, input)
	if err != nil {
		return "", err
	}
	first, err := out.First()
	if errors.Is(err, ErrNoOutput) {
		return "", &JobFailedError{Status: types.StatusSucceeded, Reason: err.Error()}
	}
	return first, err
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
