package auth

import (
	"context"

	"github.com/wava-studio/wava-gateway/internal/workflow"
)

type contextKey string

const callerContextKey contextKey = "wava_caller"

func ContextWithCaller(ctx context.Context, c workflow.Caller) context.Context {
	return context.WithValue(ctx, callerContextKey, c)
}

func CallerFromContext(ctx context.Context) (workflow.Caller, bool) {
	c, ok := ctx.Value(callerContextKey).(workflow.Caller)
	return c, ok
}
