package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	RequestTotal         *prometheus.CounterVec
	RequestDurationMs    *prometheus.HistogramVec
	ModelAttemptTotal    *prometheus.CounterVec
	ModelFallbackTotal   *prometheus.CounterVec
	GenerationDurationMs *prometheus.HistogramVec
	PredictionPollTotal  *prometheus.CounterVec
	PredictionDurationMs *prometheus.HistogramVec
	WorkflowTotal        *prometheus.CounterVec
	FilterActionTotal    *prometheus.CounterVec
	RateLimitHitTotal    *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates and registers all metrics with reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wava_http_request_total",
			Help: "Total HTTP requests handled by the gateway.",
		}, []string{"route", "method", "status"}),

		RequestDurationMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wava_http_request_duration_ms",
			Help:    "HTTP request duration in milliseconds.",
			Buckets: []float64{50, 250, 1000, 5000, 15000, 30000, 60000, 120000, 300000},
		}, []string{"route"}),

		ModelAttemptTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wava_model_attempt_total",
			Help: "Text model calls by model and outcome (success or error kind).",
		}, []string{"model", "outcome"}),

		ModelFallbackTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wava_model_fallback_total",
			Help: "Times the orchestrator moved past a model, by model and reason.",
		}, []string{"model", "reason"}),

		GenerationDurationMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wava_generation_duration_ms",
			Help:    "End-to-end text generation time including retries and fallbacks.",
			Buckets: []float64{250, 1000, 2500, 5000, 10000, 30000, 60000, 120000},
		}, []string{"outcome"}),

		PredictionPollTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wava_prediction_poll_total",
			Help: "Prediction status polls by observed status.",
		}, []string{"status"}),

		PredictionDurationMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wava_prediction_duration_ms",
			Help:    "Time from prediction submission to terminal state.",
			Buckets: []float64{1000, 5000, 10000, 20000, 45000, 90000, 180000},
		}, []string{"outcome"}),

		WorkflowTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wava_workflow_total",
			Help: "Completed workflows by name and outcome.",
		}, []string{"workflow", "outcome"}),

		FilterActionTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wava_filter_action_total",
			Help: "Total prompt filter actions taken.",
		}, []string{"filter", "action"}),

		RateLimitHitTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wava_rate_limit_hit_total",
			Help: "Requests rejected by rate limiting, by dimension.",
		}, []string{"dimension"}),
	}
}

// RecordRequest records metrics for a completed HTTP request.
func (m *Metrics) RecordRequest(route, method, status string, durationMs float64) {
	if m == nil {
		return
	}
	m.RequestTotal.WithLabelValues(route, method, status).Inc()
	m.RequestDurationMs.WithLabelValues(route).Observe(durationMs)
}

// RecordModelAttempt records one call to a text model.
func (m *Metrics) RecordModelAttempt(model, outcome string) {
	if m == nil {
		return
	}
	m.ModelAttemptTotal.WithLabelValues(model, outcome).Inc()
}

// RecordFallback records the orchestrator giving up on a model.
func (m *Metrics) RecordFallback(model, reason string) {
	if m == nil {
		return
	}
	m.ModelFallbackTotal.WithLabelValues(model, reason).Inc()
}

// RecordGeneration records a finished orchestration.
func (m *Metrics) RecordGeneration(outcome string, durationMs float64) {
	if m == nil {
		return
	}
	m.GenerationDurationMs.WithLabelValues(outcome).Observe(durationMs)
}

// RecordPoll records one prediction status observation.
func (m *Metrics) RecordPoll(status string) {
	if m == nil {
		return
	}
	m.PredictionPollTotal.WithLabelValues(status).Inc()
}

// RecordPrediction records a prediction reaching an outcome.
func (m *Metrics) RecordPrediction(outcome string, durationMs float64) {
	if m == nil {
		return
	}
	m.PredictionDurationMs.WithLabelValues(outcome).Observe(durationMs)
}

// RecordWorkflow records a finished workflow run.
func (m *Metrics) RecordWorkflow(workflow, outcome string) {
	if m == nil {
		return
	}
	m.WorkflowTotal.WithLabelValues(workflow, outcome).Inc()
}

// RecordFilterAction records a filter action metric.
func (m *Metrics) RecordFilterAction(filter, action string) {
	if m == nil {
		return
	}
	m.FilterActionTotal.WithLabelValues(filter, action).Inc()
}

func (m *Metrics) RecordRateLimitHit(dimension string) {
	if m == nil {
		return
	}
	m.RateLimitHitTotal.WithLabelValues(dimension).Inc()
}
