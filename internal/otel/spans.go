package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for wrangler spans.
var (
	AttrAgentID   = attribute.Key("wrangler.agent.id")
	AttrIssueID   = attribute.Key("wrangler.issue.id")
	AttrTransport = attribute.Key("wrangler.transport")
	AttrStage     = attribute.Key("wrangler.pipeline.stage")
	AttrProfile   = attribute.Key("wrangler.profile")
	AttrModel     = attribute.Key("wrangler.model")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartClientSpan starts a span for an outbound call (tracker CLI, HTTP
// session API, tmux).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
