package secrets

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/wava-studio/wava-gateway/internal/config"
	"github.com/wava-studio/wava-gateway/internal/filter"
)

// Detection is one matched credential in a text.
type Detection struct {
	PatternName string
	Text        int // index into the scanned texts
	Start       int
	End         int
}

// Scanner blocks prompts that carry credentials before they leave the gateway.
type Scanner struct {
	patterns []Pattern
	cfg      func() config.SecretsFilterConfig
}

func NewScanner(cfg func() config.SecretsFilterConfig) *Scanner {
	return &Scanner{patterns: DefaultPatterns(), cfg: cfg}
}

func (s *Scanner) Name() string { return "secrets" }

func (s *Scanner) Enabled() bool {
	if s.cfg == nil {
		return true
	}
	return s.cfg().Enabled
}

// Scan checks a single text.
func (s *Scanner) Scan(text string) []Detection {
	return s.scan(0, text)
}

// ScanTexts checks every text and tags detections with the text index.
func (s *Scanner) ScanTexts(texts []string) []Detection {
	var out []Detection
	for i, t := range texts {
		out = append(out, s.scan(i, t)...)
	}
	return out
}

func (s *Scanner) scan(idx int, text string) []Detection {
	var detections []Detection
	for _, p := range s.patterns {
		for _, loc := range p.Regex.FindAllStringIndex(text, -1) {
			detections = append(detections, Detection{
				PatternName: p.Name,
				Text:        idx,
				Start:       loc[0],
				End:         loc[1],
			})
		}
	}
	return detections
}

// Check implements filter.Filter.
func (s *Scanner) Check(_ context.Context, subj *filter.Subject) filter.Result {
	detections := s.ScanTexts(subj.Texts)
	if len(detections) == 0 {
		return filter.Result{Action: filter.ActionPass, FilterName: s.Name()}
	}
	return filter.Result{
		Action:     filter.ActionBlock,
		FilterName: s.Name(),
		Message:    fmt.Sprintf("The text looks like it contains a credential (%s). Remove it and try again.", names(detections)),
		Detections: len(detections),
		Score:      1,
	}
}

func names(ds []Detection) string {
	seen := map[string]bool{}
	var out []string
	for _, d := range ds {
		if !seen[d.PatternName] {
			seen[d.PatternName] = true
			out = append(out, d.PatternName)
		}
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}
