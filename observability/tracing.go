package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartWaitSpan starts a span for a lookup blocked on a reserved key.
	StartWaitSpan(ctx context.Context, registry, key string) (context.Context, trace.Span)

	// StartCallSpan starts a span for an intercepted call.
	StartCallSpan(ctx context.Context, function, object string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct {
	tracer trace.Tracer
}

// NewSpanManager returns a SpanManager backed by provider.
// A nil provider means the global OTel tracer provider.
func NewSpanManager(provider trace.TracerProvider) SpanManager {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &otelSpanManager{tracer: provider.Tracer("layershim")}
}

// StartWaitSpan starts a span for a blocking lookup.
func (m *otelSpanManager) StartWaitSpan(ctx context.Context, registry, key string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "layershim.registry.wait",
		trace.WithAttributes(
			attribute.String("registry", registry),
			attribute.String("key", key),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartCallSpan starts a span for an intercepted call.
func (m *otelSpanManager) StartCallSpan(ctx context.Context, function, object string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "layershim.call."+function,
		trace.WithAttributes(
			attribute.String("function", function),
			attribute.String("object", object),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
