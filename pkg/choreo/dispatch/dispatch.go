// Package dispatch invokes the subscriptions for one envelope.
//
// Handlers for an envelope run sequentially in priority order, each wrapped
// in its own retry loop. Failures are isolated per subscription and returned
// as data; Process never panics and never returns an error.
package dispatch

import (
	"context"
	"errors"
	"log/slog"

	cherrors "github.com/randalmurphal/choreo/pkg/choreo/errors"
	"github.com/randalmurphal/choreo/pkg/choreo/event"
	"github.com/randalmurphal/choreo/pkg/choreo/observability"
	"github.com/randalmurphal/choreo/pkg/choreo/registry"
)

// DefaultRetry is used when the engine is built without a retry policy.
var DefaultRetry = cherrors.DefaultRetry

// Engine runs handlers. The zero value is not usable; call New.
type Engine struct {
	retry   cherrors.RetryConfig
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

// Option configures an Engine.
type Option func(*Engine)

// WithRetry sets the default retry policy.
func WithRetry(cfg cherrors.RetryConfig) Option {
	return func(e *Engine) {
		e.retry = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithSpans sets the span manager.
func WithSpans(s observability.SpanManager) Option {
	return func(e *Engine) {
		e.spans = s
	}
}

// New creates an engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		retry:   DefaultRetry,
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.retry.MaxAttempts < 1 {
		e.retry.MaxAttempts = 1
	}
	return e
}

// Retry returns the default retry policy.
func (e *Engine) Retry() cherrors.RetryConfig {
	return e.retry
}

// Process runs every enabled subscription for env in priority order and
// returns one result per subscription. With no subscriptions it logs a
// warning and returns an empty, non-nil slice.
func (e *Engine) Process(ctx context.Context, reg registry.Registry, env *event.Envelope) []event.Result {
	subs := reg.Enabled(env.Type())
	if len(subs) == 0 {
		observability.LogUnhandled(e.logger, string(env.Type()), env.ID())
		e.metrics.RecordUnhandled(ctx, string(env.Type()))
		return []event.Result{}
	}

	results := make([]event.Result, 0, len(subs))
	for _, sub := range subs {
		results = append(results, e.Invoke(ctx, sub, env))
	}
	return results
}

// Invoke runs one subscription for env under its retry policy.
func (e *Engine) Invoke(ctx context.Context, sub registry.Subscription, env *event.Envelope) event.Result {
	eventType := string(env.Type())
	ctx, span := e.spans.StartHandlerSpan(ctx, eventType, sub.Name)

	cfg := e.policyFor(sub)
	retryable := cfg.RetryableFunc
	if retryable == nil {
		retryable = cherrors.IsRetryable
	}
	// Wrap the retryable check to log and count each retried attempt.
	attempt := 0
	cfg.RetryableFunc = func(err error) bool {
		attempt++
		if !retryable(err) {
			return false
		}
		if attempt < cfg.MaxAttempts {
			observability.LogHandlerRetry(e.logger, eventType, sub.Name, attempt, cfg.Delay(attempt), err)
			e.metrics.RecordRetry(ctx, eventType, sub.Name, attempt)
		}
		return true
	}

	res := cherrors.WithRetryContext(ctx, cfg, func(ctx context.Context) (any, error) {
		return safeHandle(ctx, sub.Handler, env)
	})

	result := event.Result{
		SubscriptionID: sub.ID,
		Handler:        sub.Name,
		Attempts:       res.Attempts,
		Duration:       res.Duration,
	}

	e.metrics.RecordHandler(ctx, eventType, sub.Name, res.Attempts, res.Duration, res.Err)
	e.spans.EndSpanWithError(span, res.Err)

	if res.Err == nil {
		result.Success = true
		result.Data = res.Value
		observability.LogHandlerComplete(e.logger, eventType, sub.Name, res.Attempts, float64(res.Duration.Microseconds())/1000)
		return result
	}

	observability.LogHandlerFailed(e.logger, eventType, sub.Name, res.Attempts, res.Err)
	result.Error = errorInfo(res.Err, res.Exhausted)
	return result
}

// policyFor merges the subscription's overrides into the engine policy.
func (e *Engine) policyFor(sub registry.Subscription) cherrors.RetryConfig {
	cfg := e.retry
	if sub.Retry != nil {
		cfg = *sub.Retry
		if cfg.Sleep == nil {
			cfg.Sleep = e.retry.Sleep
		}
	}
	if sub.Timeout > 0 {
		cfg.AttemptTimeout = sub.Timeout
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return cfg
}

// safeHandle converts a handler panic into an error.
func safeHandle(ctx context.Context, h event.Handler, env *event.Envelope) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &event.PanicError{Value: r}
		}
	}()
	return h.Handle(ctx, env)
}

// errorInfo turns a final retry error into its structured form. Only a run
// that used up every attempt on retryable failures is reported retryable.
func errorInfo(err error, exhausted bool) *event.ErrorInfo {
	cause := err
	var catErr *cherrors.CategorizedError
	if errors.As(err, &catErr) && catErr.Err != nil {
		cause = catErr.Err
	}

	info := &event.ErrorInfo{
		Code:      event.CodeHandlerExecution,
		Message:   cause.Error(),
		Retryable: exhausted,
		Details:   map[string]any{},
	}
	if catErr != nil {
		info.Details["attempts"] = catErr.Retries
		info.Details["category"] = catErr.Category.String()
	}

	var valErr *cherrors.ValidationError
	if errors.As(err, &valErr) {
		info.Code = event.CodeValidation
		info.Retryable = false
		if valErr.Field != "" {
			info.Details["field"] = valErr.Field
		}
	}

	var panicErr *event.PanicError
	if errors.As(err, &panicErr) {
		info.Details["panic"] = true
	}

	var timeoutErr *cherrors.TimeoutError
	if errors.As(err, &timeoutErr) {
		info.Details["timeout"] = timeoutErr.Duration
	}

	return info
}
