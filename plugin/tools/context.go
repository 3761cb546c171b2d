// Package tools holds the built-in tools agents call through the TOOL:
// protocol.
package tools

import "context"

type contextKey int

const (
	// ContextKeyWorkspacePath overrides tool workspace paths.
	ContextKeyWorkspacePath contextKey = iota
	// ContextKeyAgentID carries the calling agent.
	ContextKeyAgentID
	// ContextKeyTaskID carries the task being executed.
	ContextKeyTaskID
)

// WorkspacePathFromContext returns the workspace path from context, if set.
func WorkspacePathFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeyWorkspacePath).(string)
	return v, ok && v != ""
}

// AgentIDFromContext returns the calling agent's ID, if set.
func AgentIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeyAgentID).(string)
	return v, ok && v != ""
}

// TaskIDFromContext returns the current task ID, if set.
func TaskIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeyTaskID).(string)
	return v, ok && v != ""
}

// WithWorkspacePath returns a context with the workspace path set.
func WithWorkspacePath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, ContextKeyWorkspacePath, path)
}

// WithCall returns a context identifying the agent and task a tool runs for.
func WithCall(ctx context.Context, agentID, taskID string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyAgentID, agentID)
	return context.WithValue(ctx, ContextKeyTaskID, taskID)
}
