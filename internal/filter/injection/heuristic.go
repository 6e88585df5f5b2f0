package injection

import (
	"context"
	"fmt"

	"github.com/wava-studio/wava-gateway/internal/config"
	"github.com/wava-studio/wava-gateway/internal/filter"
)

// Detection records a matched injection rule.
type Detection struct {
	RuleName string
	Severity float64
	Category string
	Start    int
	End      int
}

// Scanner scores user-supplied copy against the injection heuristics.
type Scanner struct {
	rules []Rule
	cfg   func() config.InjectionFilterConfig
}

func NewScanner(cfg func() config.InjectionFilterConfig) *Scanner {
	return &Scanner{rules: DefaultRules(), cfg: cfg}
}

func (s *Scanner) Name() string  { return "injection" }
func (s *Scanner) Enabled() bool { return s.cfg().Enabled }

// Scan checks a single text and returns all detections.
func (s *Scanner) Scan(text string) []Detection {
	var detections []Detection
	for _, r := range s.rules {
		for _, loc := range r.Regex.FindAllStringIndex(text, -1) {
			detections = append(detections, Detection{
				RuleName: r.Name,
				Severity: r.Severity,
				Category: r.Category,
				Start:    loc[0],
				End:      loc[1],
			})
		}
	}
	return detections
}

// Score scans every text and returns the detections and the highest severity.
func (s *Scanner) Score(texts []string) ([]Detection, float64) {
	var all []Detection
	top := 0.0
	for _, t := range texts {
		ds := s.Scan(t)
		all = append(all, ds...)
		for _, d := range ds {
			if d.Severity > top {
				top = d.Severity
			}
		}
	}
	return all, top
}

// Check implements filter.Filter.
func (s *Scanner) Check(_ context.Context, subj *filter.Subject) filter.Result {
	detections, score := s.Score(subj.Texts)
	cfg := s.cfg()

	switch {
	case score >= cfg.BlockThreshold && len(detections) > 0:
		return filter.Result{
			Action:     filter.ActionBlock,
			FilterName: s.Name(),
			Message:    fmt.Sprintf("The text reads like instructions to the model (score %.2f). Rephrase it as product copy.", score),
			Detections: len(detections),
			Score:      score,
		}
	case score >= cfg.FlagThreshold && len(detections) > 0:
		return filter.Result{
			Action:     filter.ActionFlag,
			FilterName: s.Name(),
			Detections: len(detections),
			Score:      score,
		}
	}
	return filter.Result{Action: filter.ActionPass, FilterName: s.Name(), Score: score}
}
