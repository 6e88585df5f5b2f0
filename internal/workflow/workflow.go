// Package workflow composes the text orchestrator, the recovery parser and
// the prediction client into the user-facing generation flows.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/wava-studio/wava-gateway/internal/filter"
	"github.com/wava-studio/wava-gateway/internal/store"
	"github.com/wava-studio/wava-gateway/internal/telemetry"
	"github.com/wava-studio/wava-gateway/internal/types"
)

// Workflow names, used for metrics, policy input and history rows.
const (
	NameThumbnail    = "thumbnail"
	NameDetailPlan   = "detail_plan"
	NameDetailImages = "detail_images"
	NameFeatures     = "features"
)

// MaxPromptChars bounds every prompt sent to the job backend.
const MaxPromptChars = 2000

// TextGenerator is the smart-fallback orchestrator as seen by workflows.
type TextGenerator interface {
	Generate(ctx context.Context, credential string, req *types.GenerationRequest) (string, error)
}

// Renderer runs the two image recipes and returns the first output URL.
type Renderer interface {
	RenderStandard(ctx context.Context, prompt string, width, height int) (string, error)
	RenderControlNet(ctx context.Context, imageURI, prompt string, width, height int) (string, error)
}

// RendererFactory binds a renderer to the caller's job-backend credential.
type RendererFactory func(token string) Renderer

// Caller identifies who a workflow runs for.
type Caller struct {
	GeminiKey      string
	ReplicateToken string
	Client         string
}

// Image is an uploaded reference image, already resized and base64 encoded.
type Image struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// DataURI renders the image in the form the job backend accepts.
func (i *Image) DataURI() string {
	return "data:" + i.MimeType + ";base64," + i.Data
}

func (i *Image) part() types.Part {
	return types.InlinePart(i.MimeType, i.Data)
}

// Service runs workflows. Guard and History are optional.
type Service struct {
	text      TextGenerator
	renderers RendererFactory
	guard     *filter.Chain
	history   store.Recorder
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithGuard(c *filter.Chain) Option { return func(s *Service) { s.guard = c } }
func WithHistory(r store.Recorder) Option { return func(s *Service) { s.history = r } }
func WithMetrics(m *telemetry.Metrics) Option { return func(s *Service) { s.metrics = m } }
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func New(text TextGenerator, renderers RendererFactory, opts ...Option) *Service {
	s := &Service{
		text:      text,
		renderers: renderers,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) requireGemini(c Caller) error {
	if strings.TrimSpace(c.GeminiKey) == "" {
		return &MissingCredentialError{Service: "Gemini"}
	}
	return nil
}

func (s *Service) requireReplicate(c Caller) error {
	if strings.TrimSpace(c.ReplicateToken) == "" {
		return &MissingCredentialError{Service: "Replicate"}
	}
	return nil
}

// screen runs the prompt guard over user-supplied text.
func (s *Service) screen(ctx context.Context, subj *filter.Subject) error {
	results, blocked := s.guard.Run(ctx, subj)
	for _, r := range results {
		s.metrics.RecordFilterAction(r.FilterName, string(r.Action))
		if r.Action == filter.ActionFlag {
			s.logger.Warn("prompt flagged",
				"workflow", subj.Workflow,
				"filter", r.FilterName,
				"score", r.Score,
				"detections", r.Detections,
			)
		}
	}
	if blocked != nil {
		s.logger.Warn("prompt blocked",
			"workflow", subj.Workflow,
			"filter", blocked.FilterName,
			"client", subj.Client,
		)
		return &filter.BlockedError{Filter: blocked.FilterName, Reason: blocked.Message}
	}
	return nil
}

func (s *Service) record(ctx context.Context, e *store.Entry) {
	if s.history == nil {
		return
	}
	if err := s.history.Record(ctx, e); err != nil {
		s.logger.Warn("record history failed", "workflow", e.Workflow, "error", err)
	}
}

func (s *Service) finish(workflow string, started time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = strings.ToLower(string(types.KindOf(err)))
		var blocked *filter.BlockedError
		if errors.As(err, &blocked) {
			outcome = "blocked"
		}
		s.logger.Warn("workflow failed",
			"workflow", workflow,
			"duration_ms", time.Since(started).Milliseconds(),
			"error", err,
		)
	} else {
		s.logger.Info("workflow completed",
			"workflow", workflow,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	}
	s.metrics.RecordWorkflow(workflow, outcome)
}

var newlineRe = regexp.MustCompile(`[\r\n]+`)

// SanitizePrompt collapses line breaks and bounds the length for the job backend.
func SanitizePrompt(p string) string {
	return truncate(strings.TrimSpace(newlineRe.ReplaceAllString(p, " ")), MaxPromptChars)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
