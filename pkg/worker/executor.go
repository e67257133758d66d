// Package worker consumes the durable stream and drives executions to a
// terminal status.
package worker

import "context"

// ActionExecutor performs the provider-side effect of an action. It is a
// consumed capability: retry policy, OAuth token handling and the concrete
// provider calls live behind it. Redelivery after a crash re-invokes it, so
// callers of non-idempotent actions must tolerate at-least-once semantics.
type ActionExecutor interface {
	Execute(ctx context.Context, actionKey string, payload, params map[string]any, userID string) (map[string]any, error)
}

// ActionExecutorFunc adapts a function to ActionExecutor.
type ActionExecutorFunc func(ctx context.Context, actionKey string, payload, params map[string]any, userID string) (map[string]any, error)

// Execute implements ActionExecutor.
func (f ActionExecutorFunc) Execute(ctx context.Context, actionKey string, payload, params map[string]any, userID string) (map[string]any, error) {
	return f(ctx, actionKey, payload, params, userID)
}
