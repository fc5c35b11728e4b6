package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope for every instrument.
const MeterName = "choreo"

// MetricsRecorder records bus metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordEmit records an envelope entering the bus.
	RecordEmit(ctx context.Context, eventType, source string)

	// RecordUnhandled records an envelope with no enabled subscriptions.
	RecordUnhandled(ctx context.Context, eventType string)

	// RecordHandler records one handler invocation including its retries.
	RecordHandler(ctx context.Context, eventType, handler string, attempts int, duration time.Duration, err error)

	// RecordRetry records a failed attempt that will be retried.
	RecordRetry(ctx context.Context, eventType, handler string, attempt int)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	emitted     metric.Int64Counter
	unhandled   metric.Int64Counter
	invocations metric.Int64Counter
	latency     metric.Float64Histogram
	errors      metric.Int64Counter
	retries     metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics(otel.Meter(MeterName))
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics(meter metric.Meter) (*otelMetrics, error) {
	emitted, err := meter.Int64Counter("choreo.events.emitted",
		metric.WithDescription("Number of envelopes emitted"),
	)
	if err != nil {
		return nil, err
	}

	unhandled, err := meter.Int64Counter("choreo.events.unhandled",
		metric.WithDescription("Number of envelopes with no enabled subscription"),
	)
	if err != nil {
		return nil, err
	}

	invocations, err := meter.Int64Counter("choreo.handler.invocations",
		metric.WithDescription("Number of handler invocations"),
	)
	if err != nil {
		return nil, err
	}

	latency, err := meter.Float64Histogram("choreo.handler.latency_ms",
		metric.WithDescription("Handler latency including retries in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	errs, err := meter.Int64Counter("choreo.handler.errors",
		metric.WithDescription("Number of handler invocations that failed"),
	)
	if err != nil {
		return nil, err
	}

	retries, err := meter.Int64Counter("choreo.handler.retries",
		metric.WithDescription("Number of handler attempts that were retried"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		emitted:     emitted,
		unhandled:   unhandled,
		invocations: invocations,
		latency:     latency,
		errors:      errs,
		retries:     retries,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// NewMetricsRecorderFor returns a recorder bound to a specific provider.
func NewMetricsRecorderFor(provider metric.MeterProvider) (MetricsRecorder, error) {
	return newOtelMetrics(provider.Meter(MeterName))
}

// RecordEmit records an emitted envelope.
func (m *otelMetrics) RecordEmit(ctx context.Context, eventType, source string) {
	m.emitted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("source", source),
	))
}

// RecordUnhandled records an envelope nobody listened to.
func (m *otelMetrics) RecordUnhandled(ctx context.Context, eventType string) {
	m.unhandled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordHandler records a handler invocation.
func (m *otelMetrics) RecordHandler(ctx context.Context, eventType, handler string, attempts int, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("handler", handler),
	)

	m.invocations.Add(ctx, 1, attrs)
	m.latency.Record(ctx, float64(duration.Milliseconds()), attrs)

	if err != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

// RecordRetry records a retried attempt.
func (m *otelMetrics) RecordRetry(ctx context.Context, eventType, handler string, attempt int) {
	m.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("handler", handler),
		attribute.Int("attempt", attempt),
	))
}
