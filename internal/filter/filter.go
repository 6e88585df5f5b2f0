package filter

import (
	"context"
	"strings"
)

// Action represents the filter decision.
type Action string

const (
	ActionPass  Action = "pass"
	ActionFlag  Action = "flag"
	ActionBlock Action = "block"
)

// Result is returned by each filter.
type Result struct {
	Action     Action
	FilterName string
	Message    string
	Detections int
	Score      float64
}

// Subject is the user-supplied material a workflow is about to send to a
// text model: the free-text fields plus whether a reference image rides along.
type Subject struct {
	Workflow string
	Texts    []string
	HasImage bool
	Client   string
}

// PromptChars counts the characters across all texts.
func (s *Subject) PromptChars() int {
	n := 0
	for _, t := range s.Texts {
		n += len([]rune(t))
	}
	return n
}

// Joined returns the texts separated by newlines.
func (s *Subject) Joined() string {
	return strings.Join(s.Texts, "\n")
}

// Filter is the interface all prompt guards implement.
type Filter interface {
	Name() string
	Enabled() bool
	Check(ctx context.Context, s *Subject) Result
}

// Chain runs filters in order, stopping on the first Block.
type Chain struct {
	filters []Filter
}

// NewChain creates a filter chain from the given filters.
func NewChain(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

// Run executes all enabled filters in order. Returns all results and a pointer
// to the first blocking result (nil if no filter blocked).
func (c *Chain) Run(ctx context.Context, s *Subject) ([]Result, *Result) {
	if c == nil {
		return nil, nil
	}
	var results []Result
	for _, f := range c.filters {
		if !f.Enabled() {
			continue
		}
		r := f.Check(ctx, s)
		results = append(results, r)
		if r.Action == ActionBlock {
			return results, &r
		}
	}
	return results, nil
}

// BlockedError is returned to callers when the chain blocked a subject.
type BlockedError struct {
	Filter string
	Reason string
}

func (e *BlockedError) Error() string {
	return "prompt blocked by " + e.Filter + ": " + e.Reason
}

func (e *BlockedError) UserMessage() string {
	if e.Reason == "" {
		return "The request was blocked by the prompt guard."
	}
	return e.Reason
}
