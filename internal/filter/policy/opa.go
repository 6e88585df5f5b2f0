package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/wava-studio/wava-gateway/internal/config"
	"github.com/wava-studio/wava-gateway/internal/filter"
)

const query = "[data.wava.policy.allow, data.wava.policy.reason]"

// Input is the document OPA evaluates.
type Input struct {
	Request RequestInput `json:"request"`
	Client  ClientInput  `json:"client"`
	Limits  LimitsInput  `json:"limits"`
	Time    TimeInput    `json:"time"`
}

type RequestInput struct {
	Workflow    string `json:"workflow"`
	PromptChars int    `json:"prompt_chars"`
	TextCount   int    `json:"text_count"`
	HasImage    bool   `json:"has_image"`
}

type ClientInput struct {
	ID string `json:"id"`
}

type LimitsInput struct {
	MaxPromptChars int `json:"max_prompt_chars"`
}

type TimeInput struct {
	Hour int    `json:"hour"`
	Day  string `json:"day"`
}

// Evaluator implements filter.Filter using OPA.
type Evaluator struct {
	mu       sync.RWMutex
	prepared *rego.PreparedEvalQuery
	cfg      func() config.PolicyFilterConfig
	now      func() time.Time
	logger   *slog.Logger
}

// NewEvaluator creates a policy evaluator. Call Load() to compile policies.
func NewEvaluator(cfg func() config.PolicyFilterConfig, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{cfg: cfg, now: time.Now, logger: logger}
}

func (e *Evaluator) Name() string  { return "policy" }
func (e *Evaluator) Enabled() bool { return e.cfg().Enabled }

// Load compiles every .rego file under the configured bundle path.
func (e *Evaluator) Load(ctx context.Context) error {
	cfg := e.cfg()
	modules, err := LoadRegoFiles(cfg.BundlePath)
	if err != nil {
		return fmt.Errorf("load rego files: %w", err)
	}
	if len(modules) == 0 {
		e.logger.Warn("no rego files found", "path", cfg.BundlePath)
		return nil
	}
	if err := e.LoadFromModules(ctx, modules); err != nil {
		return err
	}
	e.logger.Info("opa policies loaded", "modules", len(modules), "path", cfg.BundlePath)
	return nil
}

// LoadFromModules compiles policies from in-memory sources.
func (e *Evaluator) LoadFromModules(ctx context.Context, modules map[string]string) error {
	opts := []func(*rego.Rego){rego.Query(query)}
	for name, src := range modules {
		opts = append(opts, rego.Module(name, src))
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("prepare rego: %w", err)
	}

	e.mu.Lock()
	e.prepared = &prepared
	e.mu.Unlock()
	return nil
}

// Evaluate runs the policy against the given input. No loaded policy denies.
func (e *Evaluator) Evaluate(ctx context.Context, input Input) (bool, string, error) {
	e.mu.RLock()
	prepared := e.prepared
	e.mu.RUnlock()

	if prepared == nil {
		return false, "no policies loaded", nil
	}

	timeout := e.cfg().EvaluationTimeout
	if timeout == 0 {
		timeout = 100 * time.Millisecond
	}
	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, err := prepared.Eval(evalCtx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Sprintf("policy evaluation error: %v", err), err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, "no policy result", nil
	}

	arr, ok := results[0].Expressions[0].Value.([]interface{})
	if !ok || len(arr) < 2 {
		return false, "unexpected policy result format", nil
	}
	allowed, _ := arr[0].(bool)
	reason, _ := arr[1].(string)
	return allowed, reason, nil
}

// InputFor builds the policy document for a subject.
func (e *Evaluator) InputFor(subj *filter.Subject) Input {
	now := e.now().UTC()
	return Input{
		Request: RequestInput{
			Workflow:    subj.Workflow,
			PromptChars: subj.PromptChars(),
			TextCount:   len(subj.Texts),
			HasImage:    subj.HasImage,
		},
		Client: ClientInput{ID: subj.Client},
		Limits: LimitsInput{MaxPromptChars: e.cfg().MaxPromptChars},
		Time:   TimeInput{Hour: now.Hour(), Day: now.Weekday().String()},
	}
}

// Check implements filter.Filter.
func (e *Evaluator) Check(ctx context.Context, subj *filter.Subject) filter.Result {
	allowed, reason, err := e.Evaluate(ctx, e.InputFor(subj))
	if err != nil {
		e.logger.Error("policy evaluation failed", "workflow", subj.Workflow, "error", err)
		return filter.Result{
			Action:     filter.ActionBlock,
			FilterName: e.Name(),
			Message:    "The request could not be checked right now. Try again shortly.",
		}
	}
	if !allowed {
		if reason == "" {
			reason = "request denied by policy"
		}
		return filter.Result{Action: filter.ActionBlock, FilterName: e.Name(), Message: reason}
	}
	return filter.Result{Action: filter.ActionPass, FilterName: e.Name()}
}
