package types

import (
	"encoding/json"
	"time"
)

// PredictionStatus is the server-owned lifecycle state of an image-generation job.
type PredictionStatus string

const (
	StatusStarting   PredictionStatus = "starting"
	StatusQueued     PredictionStatus = "queued"
	StatusProcessing PredictionStatus = "processing"
	StatusSucceeded  PredictionStatus = "succeeded"
	StatusFailed     PredictionStatus = "failed"
	StatusCanceled   PredictionStatus = "canceled"
)

// Terminal reports whether no further transitions are possible.
func (s PredictionStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// Rank orders statuses along the lifecycle. Unknown statuses rank as queued.
func (s PredictionStatus) Rank() int {
	switch s {
	case StatusProcessing:
		return 1
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return 2
	default:
		return 0
	}
}

// Prediction is a local read-only snapshot of a job record.
type Prediction struct {
	ID          string           `json:"id"`
	Version     string           `json:"version,omitempty"`
	Status      PredictionStatus `json:"status"`
	Input       map[string]any   `json:"input,omitempty"`
	Output      json.RawMessage  `json:"output,omitempty"`
	Error       json.RawMessage  `json:"error,omitempty"`
	Logs        string           `json:"logs,omitempty"`
	CreatedAt   *time.Time       `json:"created_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// ErrorText returns the backend-reported failure reason, if any.
func (p *Prediction) ErrorText() string {
	if len(p.Error) == 0 || string(p.Error) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(p.Error, &s); err == nil {
		return s
	}
	return string(p.Error)
}
