package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Lookup and wait outcomes used as metric attributes.
const (
	OutcomeHit      = "hit"
	OutcomeAbsent   = "absent"
	OutcomeWaited   = "waited"
	OutcomeSignaled = "signaled"
	OutcomeStuck    = "stuck"
	OutcomeCanceled = "canceled"
)

// MetricsRecorder records registry and layer metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordLookup records a Get with its outcome (hit, absent, waited).
	RecordLookup(ctx context.Context, registry, outcome string)

	// RecordWait records how long a lookup blocked and how the wait ended.
	RecordWait(ctx context.Context, registry string, waited time.Duration, outcome string)

	// RecordCreate records a published payload.
	RecordCreate(ctx context.Context, registry string)

	// RecordRemove records a removed payload.
	RecordRemove(ctx context.Context, registry string)

	// RecordCapacityExhausted records a lookup refused for lack of wait slots or log space.
	RecordCapacityExhausted(ctx context.Context, registry, resource string)

	// RecordCall records an intercepted call and its latency.
	RecordCall(ctx context.Context, function string, hooked bool, duration time.Duration, err error)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	lookups     metric.Int64Counter
	waitLatency metric.Float64Histogram
	creates     metric.Int64Counter
	removes     metric.Int64Counter
	exhausted   metric.Int64Counter
	stuck       metric.Int64Counter
	calls       metric.Int64Counter
	callLatency metric.Float64Histogram
	callErrors  metric.Int64Counter
}

// newOtelMetrics creates the instruments on meter.
func newOtelMetrics(meter metric.Meter) (*otelMetrics, error) {
	lookups, err := meter.Int64Counter("layershim.registry.lookups",
		metric.WithDescription("Number of registry lookups"),
	)
	if err != nil {
		return nil, err
	}

	waitLatency, err := meter.Float64Histogram("layershim.registry.wait.latency_ms",
		metric.WithDescription("Time lookups spent waiting for a creation to publish"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	creates, err := meter.Int64Counter("layershim.registry.creates",
		metric.WithDescription("Number of published payloads"),
	)
	if err != nil {
		return nil, err
	}

	removes, err := meter.Int64Counter("layershim.registry.removes",
		metric.WithDescription("Number of removed payloads"),
	)
	if err != nil {
		return nil, err
	}

	exhausted, err := meter.Int64Counter("layershim.registry.capacity_exhausted",
		metric.WithDescription("Number of lookups refused for lack of wait capacity"),
	)
	if err != nil {
		return nil, err
	}

	stuck, err := meter.Int64Counter("layershim.registry.stuck",
		metric.WithDescription("Number of lookups that timed out waiting for a creation"),
	)
	if err != nil {
		return nil, err
	}

	calls, err := meter.Int64Counter("layershim.layer.calls",
		metric.WithDescription("Number of intercepted calls"),
	)
	if err != nil {
		return nil, err
	}

	callLatency, err := meter.Float64Histogram("layershim.layer.call.latency_ms",
		metric.WithDescription("Intercepted call latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	callErrors, err := meter.Int64Counter("layershim.layer.call.errors",
		metric.WithDescription("Number of intercepted calls that could not be dispatched"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		lookups:     lookups,
		waitLatency: waitLatency,
		creates:     creates,
		removes:     removes,
		exhausted:   exhausted,
		stuck:       stuck,
		calls:       calls,
		callLatency: callLatency,
		callErrors:  callErrors,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder backed by provider.
// A nil provider means the global OTel meter provider. If instrument
// creation fails, a no-op recorder is returned.
//
// Configure the global provider before passing nil:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder(provider metric.MeterProvider) MetricsRecorder {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	m, err := newOtelMetrics(provider.Meter("layershim"))
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// RecordLookup records a lookup.
func (m *otelMetrics) RecordLookup(ctx context.Context, registry, outcome string) {
	m.lookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("registry", registry),
		attribute.String("outcome", outcome),
	))
}

// RecordWait records a blocking wait.
func (m *otelMetrics) RecordWait(ctx context.Context, registry string, waited time.Duration, outcome string) {
	attrs := metric.WithAttributes(
		attribute.String("registry", registry),
		attribute.String("outcome", outcome),
	)
	m.waitLatency.Record(ctx, ms(waited), attrs)
	if outcome == OutcomeStuck {
		m.stuck.Add(ctx, 1, attrs)
	}
}

// RecordCreate records a publish.
func (m *otelMetrics) RecordCreate(ctx context.Context, registry string) {
	m.creates.Add(ctx, 1, metric.WithAttributes(attribute.String("registry", registry)))
}

// RecordRemove records a removal.
func (m *otelMetrics) RecordRemove(ctx context.Context, registry string) {
	m.removes.Add(ctx, 1, metric.WithAttributes(attribute.String("registry", registry)))
}

// RecordCapacityExhausted records a capacity failure.
func (m *otelMetrics) RecordCapacityExhausted(ctx context.Context, registry, resource string) {
	m.exhausted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("registry", registry),
		attribute.String("resource", resource),
	))
}

// RecordCall records an intercepted call.
func (m *otelMetrics) RecordCall(ctx context.Context, function string, hooked bool, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("function", function),
		attribute.Bool("hooked", hooked),
	)
	m.calls.Add(ctx, 1, attrs)
	m.callLatency.Record(ctx, ms(duration), attrs)
	if err != nil {
		m.callErrors.Add(ctx, 1, attrs)
	}
}
