package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/randalmurphal/choreo/pkg/choreo"
	"github.com/randalmurphal/choreo/pkg/choreo/analytics"
	"github.com/randalmurphal/choreo/pkg/choreo/cache"
	"github.com/randalmurphal/choreo/pkg/choreo/config"
	"github.com/randalmurphal/choreo/pkg/choreo/deadletter"
	"github.com/randalmurphal/choreo/pkg/choreo/llm"
	"github.com/randalmurphal/choreo/pkg/choreo/observability"
	"github.com/randalmurphal/choreo/pkg/choreo/render"
	"github.com/randalmurphal/choreo/pkg/choreo/saga"
	"github.com/randalmurphal/choreo/pkg/choreo/store"
)

// loadSettings reads the config file and applies flag overrides.
func loadSettings(opts *rootOptions) (config.Settings, error) {
	s, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Settings{}, err
	}
	if opts.LogLevel != "" {
		s.Log.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		s.Log.Format = opts.LogFormat
	}
	return s, s.Validate()
}

func newLogger(w io.Writer, s config.LogSettings) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(s.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if s.Format == "text" {
		return slog.New(slog.NewTextHandler(w, handlerOpts))
	}
	return slog.New(slog.NewJSONHandler(w, handlerOpts))
}

// telemetry owns the OpenTelemetry providers installed for one run. The
// manual reader always backs the metrics printed at exit; an OTLP endpoint
// adds periodic metric export and batched span export.
type telemetry struct {
	reader  *sdkmetric.ManualReader
	meters  *sdkmetric.MeterProvider
	tracers *sdktrace.TracerProvider
}

func setupTelemetry(ctx context.Context, s config.TelemetrySettings) (*telemetry, error) {
	t := &telemetry{}
	if s.Metrics {
		t.reader = sdkmetric.NewManualReader()
		opts := []sdkmetric.Option{sdkmetric.WithReader(t.reader)}
		if s.OTLPEndpoint != "" {
			exp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(s.OTLPEndpoint))
			if err != nil {
				return nil, fmt.Errorf("otlp metric exporter: %w", err)
			}
			opts = append(opts, sdkmetric.WithReader(
				sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(s.ExportInterval)),
			))
		}
		t.meters = sdkmetric.NewMeterProvider(opts...)
		otel.SetMeterProvider(t.meters)
	}
	if s.Tracing {
		var opts []sdktrace.TracerProviderOption
		if s.OTLPEndpoint != "" {
			exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(s.OTLPEndpoint))
			if err != nil {
				return nil, errors.Join(fmt.Errorf("otlp trace exporter: %w", err), t.shutdown(ctx))
			}
			opts = append(opts, sdktrace.WithBatcher(exp))
		}
		t.tracers = sdktrace.NewTracerProvider(opts...)
		otel.SetTracerProvider(t.tracers)
	}
	return t, nil
}

func (t *telemetry) busOptions(logger *slog.Logger) []choreo.Option {
	var opts []choreo.Option
	if t.meters != nil {
		m, err := observability.NewMetricsRecorderFor(t.meters)
		if err != nil {
			logger.Warn("metrics disabled", slog.String("error", err.Error()))
		} else {
			opts = append(opts, choreo.WithMetrics(m))
		}
	}
	if t.tracers != nil {
		opts = append(opts, choreo.WithSpanManager(observability.NewSpanManagerFor(t.tracers)))
	}
	return opts
}

// collect returns the current metric values, or nil when metrics are off.
func (t *telemetry) collect(ctx context.Context) (*metricdata.ResourceMetrics, error) {
	if t.reader == nil {
		return nil, nil
	}
	var rm metricdata.ResourceMetrics
	if err := t.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}
	return &rm, nil
}

func (t *telemetry) shutdown(ctx context.Context) error {
	var errs []error
	if t.meters != nil {
		errs = append(errs, t.meters.Shutdown(ctx))
	}
	if t.tracers != nil {
		errs = append(errs, t.tracers.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// writeMetrics prints one line per metric with its summed value.
func writeMetrics(w io.Writer, rm *metricdata.ResourceMetrics) {
	if rm == nil {
		return
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				var total int64
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
				fmt.Fprintf(w, "  %-32s %d\n", m.Name, total)
			case metricdata.Histogram[float64]:
				var count uint64
				var sum float64
				for _, dp := range data.DataPoints {
					count += dp.Count
					sum += dp.Sum
				}
				fmt.Fprintf(w, "  %-32s count=%d sum=%.2f\n", m.Name, count, sum)
			}
		}
	}
}

func newBus(s config.Settings, logger *slog.Logger, extra ...choreo.Option) *choreo.Bus {
	opts := []choreo.Option{
		choreo.WithService(s.Service),
		choreo.WithEnvironment(s.Environment),
		choreo.WithLogger(logger),
		choreo.WithRetry(s.RetryConfig()),
		choreo.WithHistoryLimit(s.Bus.HistoryLimit),
		choreo.WithMaxDepth(s.Bus.MaxDepth),
	}
	return choreo.New(append(opts, extra...)...)
}

func sagaOptions(s config.Settings, logger *slog.Logger) []saga.Option {
	return []saga.Option{
		saga.WithLimits(s.Limits()),
		saga.WithDefaultSlides(s.Saga.DefaultSlides),
		saga.WithLanguage(s.Saga.Language),
		saga.WithLogger(logger),
	}
}

func llmConfig(provider, apiKey, model string, s config.LLMSettings) llm.Config {
	return llm.Config{
		Provider:  provider,
		APIKey:    apiKey,
		BaseURL:   s.BaseURL,
		Model:     model,
		MaxTokens: s.MaxTokens,
		Timeout:   s.Timeout,
	}
}

// newLLMClient builds the configured provider, wrapped in a fallback chain
// when a second provider is named.
func newLLMClient(s config.LLMSettings, logger *slog.Logger) (llm.Client, error) {
	var primary llm.Client
	if s.Provider == llm.ProviderMock && s.MockResponse != "" {
		primary = llm.NewMockClient(s.MockResponse)
	} else {
		c, err := llm.NewClient(llmConfig(s.Provider, s.APIKey, s.Model, s))
		if err != nil {
			return nil, err
		}
		primary = c
	}
	if s.Fallback == "" {
		return primary, nil
	}

	secondary, err := llm.NewClient(llmConfig(s.Fallback, s.FallbackAPIKey, s.FallbackModel, s))
	if err != nil {
		return nil, fmt.Errorf("fallback provider: %w", err)
	}
	return llm.NewFallback(logger, primary, secondary), nil
}

// closer collects resources released at shutdown, last opened first.
type closer struct {
	fns []func() error
}

func (c *closer) add(fn func() error) {
	c.fns = append(c.fns, fn)
}

func (c *closer) Close() error {
	var errs []error
	for i := len(c.fns) - 1; i >= 0; i-- {
		errs = append(errs, c.fns[i]())
	}
	c.fns = nil
	return errors.Join(errs...)
}

// buildDependencies wires every collaborator named in s.
func buildDependencies(ctx context.Context, s config.Settings, logger *slog.Logger, res *closer) (saga.Dependencies, error) {
	client, err := newLLMClient(s.LLM, logger)
	if err != nil {
		return saga.Dependencies{}, err
	}

	var analyzer saga.ContentAnalyzer = llm.NewAnalyzer(client, s.LLM.Model)
	if s.Cache.RedisAddr != "" {
		rdb, err := cache.DialRedis(ctx, s.Cache.RedisAddr, s.Cache.RedisPassword, s.Cache.RedisDB)
		if err != nil {
			return saga.Dependencies{}, err
		}
		res.add(rdb.Close)
		analyzer = cache.NewAnalyzer(analyzer, cache.NewRedisCache(rdb, s.Cache.Prefix), s.Cache.TTL, logger)
	}

	var generator saga.StructureGenerator = saga.OutlineGenerator{}
	if s.Saga.Generator == "llm" {
		generator = llm.NewComposer(client, s.LLM.Model)
	}

	var renderer saga.Renderer = render.Placeholder{BaseURL: s.Render.PlaceholderBase}
	if s.Render.Endpoint != "" {
		renderer = render.New(s.Render.Endpoint,
			render.WithAPIKey(s.Render.APIKey),
			render.WithTimeout(s.Render.Timeout),
		)
	}

	var records store.Store = store.NewMemoryStore()
	if s.Store.Path != "" {
		sq, err := store.NewSQLiteStore(s.Store.Path)
		if err != nil {
			return saga.Dependencies{}, err
		}
		records = sq
	}
	res.add(records.Close)

	return saga.Dependencies{
		Analyzer:  analyzer,
		Generator: generator,
		Renderer:  renderer,
		Store:     records,
	}, nil
}

// newSink returns the Kafka sink when brokers are configured.
func newSink(s config.AnalyticsSettings, logger *slog.Logger) (analytics.Sink, error) {
	if len(s.KafkaBrokers) == 0 {
		return analytics.NewMemorySink(), nil
	}
	w, err := analytics.NewKafkaWriter(analytics.KafkaConfig{
		Brokers:      s.KafkaBrokers,
		Topic:        s.Topic,
		BatchTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	return analytics.NewKafkaSink(w, logger), nil
}

// newDeadLetters registers the dead letter consumer on bus and returns the
// queue with its replayer.
func newDeadLetters(s config.DeadLetterSettings, bus *choreo.Bus, logger *slog.Logger) (*deadletter.Queue, *deadletter.Replayer) {
	q := deadletter.NewQueue(deadletter.Config{
		MaxSize:    s.MaxSize,
		MaxReplays: s.MaxReplays,
		RetryDelay: s.RetryDelay,
		OnPark: func(p deadletter.Parked) {
			logger.Warn("dead letter parked",
				slog.String("id", p.ID),
				slog.String("handler", p.Handler),
				slog.String("reason", p.Reason),
				slog.String("error", p.Error.Message),
			)
		},
	})
	deadletter.NewConsumer(q, logger).Register(bus)
	return q, deadletter.NewReplayer(q, bus, logger)
}
