package errors

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Backoff selects how the delay grows between attempts.
type Backoff int

const (
	// BackoffLinear waits BaseDelay * attempt before each retry.
	BackoffLinear Backoff = iota

	// BackoffExponential waits BaseDelay * Factor^(attempt-1) before each retry.
	BackoffExponential
)

// String returns the backoff name.
func (b Backoff) String() string {
	switch b {
	case BackoffLinear:
		return "linear"
	case BackoffExponential:
		return "exponential"
	default:
		return "unknown"
	}
}

// ParseBackoff maps a config string to a Backoff. Unknown values are linear.
func ParseBackoff(s string) Backoff {
	if s == "exponential" {
		return BackoffExponential
	}
	return BackoffLinear
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	MaxAttempts int

	// BaseDelay is the unit of backoff.
	BaseDelay time.Duration

	// MaxDelay caps a single backoff. Zero means no cap.
	MaxDelay time.Duration

	// Backoff selects linear or exponential growth.
	Backoff Backoff

	// Factor is the multiplier for exponential backoff.
	Factor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64

	// AttemptTimeout bounds each attempt. Zero means unbounded.
	AttemptTimeout time.Duration

	// RetryableFunc optionally overrides the default retryability check.
	RetryableFunc func(error) bool

	// Sleep overrides the backoff wait. Used by tests.
	Sleep SleepFunc
}

// DefaultRetry is the standard handler retry configuration.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	BaseDelay:      1 * time.Second,
	MaxDelay:       30 * time.Second,
	Backoff:        BackoffLinear,
	Factor:         2.0,
	AttemptTimeout: 30 * time.Second,
}

// NoRetry disables retries.
var NoRetry = RetryConfig{
	MaxAttempts: 1,
}

// Delay returns the wait before the given retry. attempt is the 1-based
// number of the attempt that just failed.
func (c RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 1 || c.BaseDelay <= 0 {
		return 0
	}

	var d time.Duration
	switch c.Backoff {
	case BackoffExponential:
		factor := c.Factor
		if factor <= 0 {
			factor = 2.0
		}
		d = time.Duration(float64(c.BaseDelay) * math.Pow(factor, float64(attempt-1)))
	default:
		d = c.BaseDelay * time.Duration(attempt)
	}

	if c.MaxDelay > 0 && d > c.MaxDelay {
		d = c.MaxDelay
	}
	return applyJitter(d, c.Jitter)
}

// Schedule returns every backoff wait an exhausted run would take.
func (c RetryConfig) Schedule() []time.Duration {
	if c.MaxAttempts <= 1 {
		return nil
	}
	out := make([]time.Duration, 0, c.MaxAttempts-1)
	for attempt := 1; attempt < c.MaxAttempts; attempt++ {
		out = append(out, c.Delay(attempt))
	}
	return out
}

// RetryResult contains the result of a retry operation.
type RetryResult[T any] struct {
	// Value is the result if successful.
	Value T

	// Err is the final error if all attempts failed.
	Err error

	// Attempts is the number of attempts made.
	Attempts int

	// Waited is the total backoff spent between attempts.
	Waited time.Duration

	// Duration is the total time spent retrying.
	Duration time.Duration

	// Exhausted is true when every attempt failed with a retryable error.
	Exhausted bool
}

// WithRetry executes a function with retries based on the configuration.
func WithRetry[T any](cfg RetryConfig, fn func() (T, error)) RetryResult[T] {
	return WithRetryContext(context.Background(), cfg, func(_ context.Context) (T, error) {
		return fn()
	})
}

// WithRetryContext executes a function with retries, respecting context cancellation.
// Each attempt is bounded by cfg.AttemptTimeout; an attempt that overruns is
// reported as a TimeoutError and retried.
func WithRetryContext[T any](
	ctx context.Context,
	cfg RetryConfig,
	fn func(context.Context) (T, error),
) RetryResult[T] {
	start := time.Now()
	var lastErr error
	var waited time.Duration

	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	isRetryable := cfg.RetryableFunc
	if isRetryable == nil {
		isRetryable = IsRetryable
	}

	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return RetryResult[T]{
				Err:      &CategorizedError{Err: err, Category: CategoryPermanent, Retries: attempt - 1, Context: "context cancelled"},
				Attempts: attempt - 1,
				Waited:   waited,
				Duration: time.Since(start),
			}
		}

		result, err := runAttempt(ctx, cfg.AttemptTimeout, fn)
		if err == nil {
			return RetryResult[T]{
				Value:    result,
				Attempts: attempt,
				Waited:   waited,
				Duration: time.Since(start),
			}
		}

		lastErr = err

		if !isRetryable(err) {
			return RetryResult[T]{
				Err: &CategorizedError{
					Err:      err,
					Category: CategoryPermanent,
					Retries:  attempt,
				},
				Attempts: attempt,
				Waited:   waited,
				Duration: time.Since(start),
			}
		}

		// Don't sleep after the last attempt
		if attempt < maxAttempts {
			d := cfg.Delay(attempt)
			if err := sleep(ctx, d); err != nil {
				return RetryResult[T]{
					Err:      &CategorizedError{Err: err, Category: CategoryPermanent, Retries: attempt, Context: "context cancelled during backoff"},
					Attempts: attempt,
					Waited:   waited,
					Duration: time.Since(start),
				}
			}
			waited += d
		}
	}

	return RetryResult[T]{
		Err: &CategorizedError{
			Err:      lastErr,
			Category: CategoryTransient,
			Retries:  maxAttempts,
			Context:  "max retries exceeded",
		},
		Attempts:  maxAttempts,
		Waited:    waited,
		Duration:  time.Since(start),
		Exhausted: true,
	}
}

func runAttempt[T any](
	ctx context.Context,
	timeout time.Duration,
	fn func(context.Context) (T, error),
) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := fn(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return result, &TimeoutError{Operation: err.Error(), Duration: timeout.String()}
	}
	return result, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// applyJitter returns the duration with jitter applied.
func applyJitter(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}

	// base +/- (base * jitter * random)
	jitterAmount := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + jitterAmount)
}

// RetryOption configures retry behavior.
type RetryOption func(*RetryConfig)

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(n int) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.MaxAttempts = n
	}
}

// WithBaseDelay sets the backoff unit.
func WithBaseDelay(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.BaseDelay = d
	}
}

// WithMaxDelay caps a single backoff.
func WithMaxDelay(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.MaxDelay = d
	}
}

// WithBackoff sets the backoff strategy.
func WithBackoff(b Backoff) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.Backoff = b
	}
}

// WithFactor sets the exponential multiplier.
func WithFactor(f float64) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.Factor = f
	}
}

// WithJitter sets the jitter factor.
func WithJitter(j float64) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.Jitter = j
	}
}

// WithAttemptTimeout bounds each attempt.
func WithAttemptTimeout(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.AttemptTimeout = d
	}
}

// WithRetryableFunc sets a custom retryability check.
func WithRetryableFunc(fn func(error) bool) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.RetryableFunc = fn
	}
}

// WithSleep replaces the backoff wait.
func WithSleep(fn SleepFunc) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.Sleep = fn
	}
}

// NewRetryConfig creates a retry configuration with the given options.
func NewRetryConfig(opts ...RetryOption) RetryConfig {
	cfg := DefaultRetry
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
