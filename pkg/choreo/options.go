package choreo

import (
	"log/slog"
	"time"

	cherrors "github.com/randalmurphal/choreo/pkg/choreo/errors"
	"github.com/randalmurphal/choreo/pkg/choreo/event"
	"github.com/randalmurphal/choreo/pkg/choreo/history"
	"github.com/randalmurphal/choreo/pkg/choreo/observability"
)

// DefaultMaxDepth bounds how deeply emits may nest inside handlers.
const DefaultMaxDepth = 32

// config holds static bus configuration.
type config struct {
	service       string
	environment   string
	logger        *slog.Logger
	retry         cherrors.RetryConfig
	historyLimit  int
	maxDepth      int
	metrics       observability.MetricsRecorder
	spans         observability.SpanManager
	middleware    []event.Middleware
	failureEvents bool
	now           func() time.Time
	newID         func() string
}

func defaultConfig() config {
	return config{
		service:       event.DefaultSource,
		logger:        slog.Default(),
		retry:         cherrors.DefaultRetry,
		historyLimit:  history.DefaultLimit,
		maxDepth:      DefaultMaxDepth,
		metrics:       observability.NoopMetrics{},
		spans:         observability.NoopSpanManager{},
		failureEvents: true,
	}
}

// Option configures a Bus.
type Option func(*config)

// WithService names the owning service. It is stamped as the source of
// every envelope the bus builds.
func WithService(name string) Option {
	return func(c *config) {
		if name != "" {
			c.service = name
		}
	}
}

// WithEnvironment stamps the deployment environment into envelope metadata.
func WithEnvironment(env string) Option {
	return func(c *config) {
		c.environment = env
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRetry sets the handler retry policy.
// Default: 3 attempts, 1s linear backoff, 30s per attempt.
//
// Example:
//
//	bus := choreo.New(choreo.WithRetry(errors.NewRetryConfig(
//	    errors.WithMaxAttempts(5),
//	    errors.WithBaseDelay(200*time.Millisecond),
//	)))
func WithRetry(cfg cherrors.RetryConfig) Option {
	return func(c *config) {
		c.retry = cfg
	}
}

// WithAttemptTimeout bounds each handler attempt. Zero disables the bound.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *config) {
		c.retry.AttemptTimeout = d
	}
}

// WithHistoryLimit sets how many envelopes the history keeps.
// Default: 1000
func WithHistoryLimit(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.historyLimit = n
		}
	}
}

// WithMaxDepth sets how deeply emits may nest inside handlers before the
// bus refuses to dispatch. Default: 32
func WithMaxDepth(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxDepth = n
		}
	}
}

// WithMetrics enables metrics recording.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing enables OpenTelemetry spans for emits and handlers.
func WithTracing(enabled bool) Option {
	return func(c *config) {
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}

// WithSpanManager sets a custom span manager.
func WithSpanManager(s observability.SpanManager) Option {
	return func(c *config) {
		if s != nil {
			c.spans = s
		}
	}
}

// WithMiddleware wraps every handler subscribed after construction.
// The first middleware is outermost.
func WithMiddleware(mw ...event.Middleware) Option {
	return func(c *config) {
		c.middleware = append(c.middleware, mw...)
	}
}

// WithHandlerFailureEvents controls whether exhausted handlers produce a
// workflow.handler.failed envelope. Default: true
func WithHandlerFailureEvents(enabled bool) Option {
	return func(c *config) {
		c.failureEvents = enabled
	}
}

// WithClock replaces the envelope timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// WithIDGenerator replaces the envelope id source.
func WithIDGenerator(fn func() string) Option {
	return func(c *config) {
		c.newID = fn
	}
}
