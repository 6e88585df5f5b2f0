package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/wava-studio/wava-gateway/internal/types"
)

// Backend sends one generation call to one model and returns the model's text.
// Implementations report upstream HTTP failures as *StatusError.
type Backend interface {
	Generate(ctx context.Context, credential, model string, call *types.ModelCall) (string, error)
}

// ModelLister is implemented by backends that can enumerate their models.
type ModelLister interface {
	ListModels(ctx context.Context, credential string) ([]ModelInfo, error)
}

// ModelInfo describes one model offered by a backend.
type ModelInfo struct {
	Name             string   `json:"name"`
	DisplayName      string   `json:"display_name,omitempty"`
	InputTokenLimit  int      `json:"input_token_limit,omitempty"`
	OutputTokenLimit int      `json:"output_token_limit,omitempty"`
	Methods          []string `json:"methods,omitempty"`
}

// SupportsGenerate reports whether the model accepts generateContent calls.
func (m ModelInfo) SupportsGenerate() bool {
	for _, method := range m.Methods {
		if method == "generateContent" {
			return true
		}
	}
	return false
}

// StatusError is a non-2xx answer from an upstream API.
type StatusError struct {
	StatusCode int
	// Status is the upstream's symbolic status, e.g. RESOURCE_EXHAUSTED.
	Status  string
	Message string
}

func (e *StatusError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "upstream status %d", e.StatusCode)
	if e.Status != "" {
		b.WriteString(" " + e.Status)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	return b.String()
}
