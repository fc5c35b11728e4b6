package errors

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSleep captures backoff waits without sleeping.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func TestDelay(t *testing.T) {
	t.Run("linear", func(t *testing.T) {
		cfg := NewRetryConfig(WithBaseDelay(100*time.Millisecond), WithBackoff(BackoffLinear))
		assert.Equal(t, time.Duration(0), cfg.Delay(0))
		assert.Equal(t, 100*time.Millisecond, cfg.Delay(1))
		assert.Equal(t, 200*time.Millisecond, cfg.Delay(2))
		assert.Equal(t, 300*time.Millisecond, cfg.Delay(3))
	})

	t.Run("exponential", func(t *testing.T) {
		cfg := NewRetryConfig(WithBaseDelay(100*time.Millisecond), WithBackoff(BackoffExponential), WithFactor(2))
		assert.Equal(t, 100*time.Millisecond, cfg.Delay(1))
		assert.Equal(t, 200*time.Millisecond, cfg.Delay(2))
		assert.Equal(t, 400*time.Millisecond, cfg.Delay(3))
	})

	t.Run("capped", func(t *testing.T) {
		cfg := NewRetryConfig(WithBaseDelay(time.Second), WithMaxDelay(1500*time.Millisecond))
		assert.Equal(t, 1500*time.Millisecond, cfg.Delay(4))
	})

	t.Run("jitter stays in range", func(t *testing.T) {
		cfg := NewRetryConfig(WithBaseDelay(100*time.Millisecond), WithJitter(0.5))
		for i := 0; i < 50; i++ {
			d := cfg.Delay(1)
			assert.GreaterOrEqual(t, d, 50*time.Millisecond)
			assert.LessOrEqual(t, d, 150*time.Millisecond)
		}
	})

	t.Run("schedule", func(t *testing.T) {
		cfg := NewRetryConfig(WithMaxAttempts(4), WithBaseDelay(10*time.Millisecond))
		assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}, cfg.Schedule())
		assert.Nil(t, NoRetry.Schedule())
	})
}

func TestParseBackoff(t *testing.T) {
	assert.Equal(t, BackoffExponential, ParseBackoff("exponential"))
	assert.Equal(t, BackoffLinear, ParseBackoff("linear"))
	assert.Equal(t, BackoffLinear, ParseBackoff(""))
	assert.Equal(t, "exponential", BackoffExponential.String())
}

func TestWithRetry(t *testing.T) {
	t.Run("success on first try", func(t *testing.T) {
		calls := 0
		cfg := NewRetryConfig(WithMaxAttempts(3))
		result := WithRetry(cfg, func() (string, error) {
			calls++
			return "success", nil
		})

		require.NoError(t, result.Err)
		assert.Equal(t, "success", result.Value)
		assert.Equal(t, 1, result.Attempts)
		assert.Equal(t, 1, calls)
	})

	t.Run("success on final attempt", func(t *testing.T) {
		rec := &recordingSleep{}
		calls := 0
		cfg := NewRetryConfig(
			WithMaxAttempts(3),
			WithBaseDelay(50*time.Millisecond),
			WithSleep(rec.sleep),
		)
		result := WithRetry(cfg, func() (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("flaky")
			}
			return "ok", nil
		})

		require.NoError(t, result.Err)
		assert.Equal(t, 3, result.Attempts)
		assert.False(t, result.Exhausted)
		assert.Equal(t, []time.Duration{50 * time.Millisecond, 100 * time.Millisecond}, rec.delays)
		assert.Equal(t, 150*time.Millisecond, result.Waited)
	})

	t.Run("max attempts exceeded", func(t *testing.T) {
		rec := &recordingSleep{}
		cfg := NewRetryConfig(
			WithMaxAttempts(3),
			WithBaseDelay(10*time.Millisecond),
			WithSleep(rec.sleep),
		)
		result := WithRetry(cfg, func() (string, error) {
			return "", &HTTPError{StatusCode: 503}
		})

		require.Error(t, result.Err)
		assert.Equal(t, 3, result.Attempts)
		assert.True(t, result.Exhausted)
		assert.True(t, IsRetryable(result.Err))
		assert.Equal(t, cfg.Schedule(), rec.delays)

		var httpErr *HTTPError
		assert.ErrorAs(t, result.Err, &httpErr)
	})

	t.Run("permanent error stops immediately", func(t *testing.T) {
		calls := 0
		cfg := NewRetryConfig(WithMaxAttempts(3))
		result := WithRetry(cfg, func() (string, error) {
			calls++
			return "", Permanent(errors.New("bad input"), "validate")
		})

		require.Error(t, result.Err)
		assert.Equal(t, 1, calls)
		assert.False(t, result.Exhausted)
		assert.True(t, IsPermanent(result.Err))
	})

	t.Run("custom retryable func", func(t *testing.T) {
		calls := 0
		cfg := NewRetryConfig(
			WithMaxAttempts(3),
			WithBaseDelay(0),
			WithRetryableFunc(func(_ error) bool { return true }),
		)
		result := WithRetry(cfg, func() (string, error) {
			calls++
			return "", &HTTPError{StatusCode: 404}
		})

		assert.Equal(t, 3, calls)
		assert.Equal(t, 3, result.Attempts)
	})

	t.Run("zero attempts runs once", func(t *testing.T) {
		calls := 0
		result := WithRetry(RetryConfig{}, func() (int, error) {
			calls++
			return 7, nil
		})
		require.NoError(t, result.Err)
		assert.Equal(t, 1, calls)
	})
}

func TestWithRetryContext(t *testing.T) {
	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		cfg := NewRetryConfig(WithMaxAttempts(3))
		result := WithRetryContext(ctx, cfg, func(_ context.Context) (string, error) {
			return "never reached", nil
		})

		require.Error(t, result.Err)
		assert.Equal(t, 0, result.Attempts)
		assert.True(t, IsPermanent(result.Err))
	})

	t.Run("cancellation during backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0

		cfg := NewRetryConfig(
			WithMaxAttempts(5),
			WithBaseDelay(time.Hour),
		)
		result := WithRetryContext(ctx, cfg, func(_ context.Context) (string, error) {
			calls++
			cancel()
			return "", errors.New("flaky")
		})

		require.Error(t, result.Err)
		assert.Equal(t, 1, calls)
		assert.ErrorIs(t, result.Err, context.Canceled)
	})

	t.Run("attempt timeout is retried", func(t *testing.T) {
		calls := 0
		cfg := NewRetryConfig(
			WithMaxAttempts(2),
			WithBaseDelay(0),
			WithAttemptTimeout(20*time.Millisecond),
		)
		result := WithRetryContext(context.Background(), cfg, func(ctx context.Context) (string, error) {
			calls++
			if calls == 1 {
				<-ctx.Done()
				return "", ctx.Err()
			}
			return "second", nil
		})

		require.NoError(t, result.Err)
		assert.Equal(t, "second", result.Value)
		assert.Equal(t, 2, calls)
	})

	t.Run("exhausted timeouts report TimeoutError", func(t *testing.T) {
		cfg := NewRetryConfig(
			WithMaxAttempts(2),
			WithBaseDelay(0),
			WithAttemptTimeout(10*time.Millisecond),
		)
		result := WithRetryContext(context.Background(), cfg, func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})

		require.Error(t, result.Err)
		var timeoutErr *TimeoutError
		assert.ErrorAs(t, result.Err, &timeoutErr)
		assert.Equal(t, "10ms", timeoutErr.Duration)
	})
}
