package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for heartbeat-master spans.
var (
	AttrAgentID        = attribute.Key("heartbeatmaster.agent.id")
	AttrTaskID         = attribute.Key("heartbeatmaster.task.id")
	AttrTaskName       = attribute.Key("heartbeatmaster.task.name")
	AttrCycleNumber    = attribute.Key("heartbeatmaster.cycle.number")
	AttrHandlerName    = attribute.Key("heartbeatmaster.handler.name")
	AttrDelegationFrom = attribute.Key("heartbeatmaster.delegation.from_agent")
	AttrDelegationTo   = attribute.Key("heartbeatmaster.delegation.to_agent")
	AttrCurationTier   = attribute.Key("heartbeatmaster.curation.tier")
	AttrCurationAction = attribute.Key("heartbeatmaster.curation.action")
	AttrFailoverID     = attribute.Key("heartbeatmaster.failover.id")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound request (Gateway).
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartClientSpan starts a span for an outbound call (graph store, gateway dispatch).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
