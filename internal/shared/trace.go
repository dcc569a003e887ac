package shared

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}
type agentIDKey struct{}
type issueIDKey struct{}

// NewTraceID returns a fresh trace identifier for one orchestrator invocation.
func NewTraceID() string {
	return uuid.NewString()
}

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// WithAgentID attaches an agent_id to the context.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey{}, agentID)
}

// AgentID extracts agent_id from context. Returns "" if absent.
func AgentID(ctx context.Context) string {
	if v, ok := ctx.Value(agentIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithIssueID attaches the external issue id to the context.
func WithIssueID(ctx context.Context, issueID string) context.Context {
	return context.WithValue(ctx, issueIDKey{}, issueID)
}

// IssueID extracts the external issue id from context. Returns "" if absent.
func IssueID(ctx context.Context) string {
	if v, ok := ctx.Value(issueIDKey{}).(string); ok {
		return v
	}
	return ""
}
