package router

import (
	"fmt"
	"strings"

	"github.com/wava-studio/wava-gateway/internal/types"
)

// Error is a classified failure of one model attempt. Returned directly, it
// means orchestration stopped without trying further models; inside an
// ExhaustedError it is the last model's failure.
type Error struct {
	Class   types.ErrorKind
	Model   string
	Attempt int
	Err     error
}

func (e *Error) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("generate: %s: %v", e.Class, e.Err)
	}
	return fmt.Sprintf("generate with %s (attempt %d): %s: %v", e.Model, e.Attempt, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Kind() types.ErrorKind { return e.Class }

// ExhaustedError reports that every model in the queue failed or was skipped.
type ExhaustedError struct {
	Attempted []string
	Skipped   []string
	Last      error
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	b.WriteString("all models failed")
	if len(e.Attempted) > 0 {
		fmt.Fprintf(&b, " (tried %s)", strings.Join(e.Attempted, ", "))
	}
	if len(e.Skipped) > 0 {
		fmt.Fprintf(&b, " (skipped %s)", strings.Join(e.Skipped, ", "))
	}
	if e.Last != nil {
		fmt.Fprintf(&b, ": %v", e.Last)
	}
	return b.String()
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// UserMessage keeps the quota hint when the last model was rate limited.
func (e *ExhaustedError) UserMessage() string {
	if types.KindOf(e.Last) == types.KindQuota {
		return "Every AI model is rate limited right now. Wait a minute and try again."
	}
	return "No AI model could answer right now. Try again shortly."
}
