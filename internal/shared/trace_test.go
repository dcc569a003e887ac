package shared

import (
	"context"
	"testing"
)

func TestTraceID_DefaultDash(t *testing.T) {
	ctx := context.Background()
	if got := TraceID(ctx); got != "-" {
		t.Fatalf("expected -, got %q", got)
	}
	ctx = WithTraceID(ctx, "abc-123")
	if got := TraceID(ctx); got != "abc-123" {
		t.Fatalf("expected abc-123, got %q", got)
	}
}

func TestAgentID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := AgentID(ctx); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	ctx = WithAgentID(ctx, "wr-investigate-cache-misses")
	if got := AgentID(ctx); got != "wr-investigate-cache-misses" {
		t.Fatalf("unexpected agent id %q", got)
	}
}

func TestIssueID_RoundTrip(t *testing.T) {
	ctx := WithIssueID(context.Background(), "bd-412")
	if got := IssueID(ctx); got != "bd-412" {
		t.Fatalf("unexpected issue id %q", got)
	}
}

func TestNewTraceID_Unique(t *testing.T) {
	a, b := NewTraceID(), NewTraceID()
	if a == b {
		t.Fatalf("expected unique trace ids, got %q twice", a)
	}
}
