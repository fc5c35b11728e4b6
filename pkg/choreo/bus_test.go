package choreo_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/choreo/pkg/choreo"
	cherrors "github.com/randalmurphal/choreo/pkg/choreo/errors"
	"github.com/randalmurphal/choreo/pkg/choreo/event"
	"github.com/randalmurphal/choreo/pkg/choreo/history"
	"github.com/randalmurphal/choreo/pkg/choreo/registry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newBus(opts ...choreo.Option) *choreo.Bus {
	base := []choreo.Option{
		choreo.WithService("test-service"),
		choreo.WithLogger(discardLogger()),
		choreo.WithRetry(cherrors.NewRetryConfig(
			cherrors.WithMaxAttempts(3),
			cherrors.WithBaseDelay(time.Millisecond),
			cherrors.WithSleep(noSleep),
		)),
	}
	return choreo.New(append(base, opts...)...)
}

func ok(fn func(env *event.Envelope)) event.Handler {
	return event.HandlerFunc(func(_ context.Context, env *event.Envelope) (any, error) {
		if fn != nil {
			fn(env)
		}
		return nil, nil
	})
}

func TestEmit_NoSubscribers(t *testing.T) {
	bus := newBus()

	results := bus.Emit(context.Background(), event.MessageSent{Text: "hi"})

	require.NotNil(t, results)
	assert.Empty(t, results)
	assert.Equal(t, 1, bus.Stats().HistorySize, "unhandled envelopes are still recorded")
}

func TestEmit_StampsSource(t *testing.T) {
	bus := newBus(choreo.WithEnvironment("staging"))

	var got *event.Envelope
	bus.Subscribe(event.ChatMessageSent, ok(func(env *event.Envelope) { got = env }), 0)
	bus.Emit(context.Background(), event.MessageSent{Text: "hi"}, event.WithMetadata(event.Metadata{UserID: "u1"}))

	require.NotNil(t, got)
	assert.Equal(t, "test-service", got.Source())
	assert.Equal(t, "staging", got.Metadata().Environment)
	assert.Equal(t, "u1", got.Metadata().UserID)
	assert.Empty(t, got.CorrelationID())
	assert.Equal(t, event.SchemaVersion, got.Version())
}

func TestEmitWithCorrelation(t *testing.T) {
	bus := newBus()

	root := bus.Emit(context.Background(), event.GenerateRequested{Ref: event.Ref{RequestID: "r"}})
	assert.Empty(t, root)

	first := bus.History(history.Filter{})[0]
	bus.EmitWithCorrelation(context.Background(), event.AnalysisRequested{Ref: event.Ref{RequestID: "r"}}, first.ChainID(), first.ID())

	chain := bus.Chain(first.ID())
	require.Len(t, chain, 2)
	assert.Equal(t, first.ID(), chain[1].CorrelationID())
	assert.Equal(t, first.ID(), chain[1].CausationID())
}

func TestSubscribe_PriorityOrder(t *testing.T) {
	bus := newBus()

	var order []int
	for _, p := range []int{1, 3, 2, 3} {
		p := p
		bus.Subscribe(event.ChatMessageSent, ok(func(*event.Envelope) { order = append(order, p) }), p)
	}

	results := bus.Emit(context.Background(), event.MessageSent{})

	assert.Len(t, results, 4)
	assert.Equal(t, []int{3, 3, 2, 1}, order)
}

func TestUnsubscribe(t *testing.T) {
	bus := newBus()

	calls := 0
	id := bus.Subscribe(event.ChatMessageSent, ok(func(*event.Envelope) { calls++ }), 0)
	bus.Emit(context.Background(), event.MessageSent{})
	bus.Unsubscribe(id)
	results := bus.Emit(context.Background(), event.MessageSent{})

	assert.Equal(t, 1, calls)
	assert.Empty(t, results)
	assert.Empty(t, bus.Stats().SubscriptionsByType)

	assert.NotPanics(t, func() { bus.Unsubscribe("unknown") })
}

func TestSetEnabled(t *testing.T) {
	bus := newBus()

	calls := 0
	id := bus.Subscribe(event.ChatMessageSent, ok(func(*event.Envelope) { calls++ }), 0)

	require.True(t, bus.SetEnabled(id, false))
	assert.Empty(t, bus.Emit(context.Background(), event.MessageSent{}))

	require.True(t, bus.SetEnabled(id, true))
	assert.Len(t, bus.Emit(context.Background(), event.MessageSent{}), 1)
	assert.Equal(t, 1, calls)

	assert.False(t, bus.SetEnabled("unknown", true))
}

func TestStartStop_DoesNotGateEmit(t *testing.T) {
	bus := newBus()
	assert.False(t, bus.Running())

	calls := 0
	bus.Subscribe(event.ChatMessageSent, ok(func(*event.Envelope) { calls++ }), 0)

	bus.Emit(context.Background(), event.MessageSent{})
	bus.Start()
	assert.True(t, bus.Running())
	assert.True(t, bus.Stats().Running)
	bus.Emit(context.Background(), event.MessageSent{})
	bus.Stop()
	assert.False(t, bus.Running())
	bus.Emit(context.Background(), event.MessageSent{})

	assert.Equal(t, 3, calls)
}

func TestStats(t *testing.T) {
	bus := newBus()
	bus.Subscribe(event.ChatMessageSent, ok(nil), 0)
	bus.Subscribe(event.ChatMessageSent, ok(nil), 1)
	bus.Subscribe(event.CarouselGenerateFailed, ok(nil), 0)

	bus.Emit(context.Background(), event.MessageSent{})
	bus.Emit(context.Background(), event.MessageSent{})
	bus.Emit(context.Background(), event.AlertRaised{})

	stats := bus.Stats()
	assert.Equal(t, map[event.Type]int{
		event.ChatMessageSent:        2,
		event.CarouselGenerateFailed: 1,
	}, stats.SubscriptionsByType)
	assert.Equal(t, uint64(3), stats.TotalEventsProcessed)
	assert.Equal(t, map[event.Type]uint64{
		event.ChatMessageSent:     2,
		event.WorkflowAlertRaised: 1,
	}, stats.EventsByType)
	assert.Equal(t, 3, stats.HistorySize)
	assert.False(t, stats.Running)
}

func TestHistory_Cap(t *testing.T) {
	bus := newBus(choreo.WithHistoryLimit(10))

	for i := 0; i < 25; i++ {
		bus.Emit(context.Background(), event.MessageSent{Text: fmt.Sprint(i)})
	}

	all := bus.History(history.Filter{})
	require.Len(t, all, 10)
	for i, env := range all {
		assert.Equal(t, fmt.Sprint(15+i), env.Payload().(event.MessageSent).Text)
	}
	assert.Equal(t, uint64(25), bus.Stats().TotalEventsProcessed)
}

func TestHistory_DefaultCap(t *testing.T) {
	bus := newBus()
	for i := 0; i < history.DefaultLimit+5; i++ {
		bus.Emit(context.Background(), event.MessageSent{})
	}
	assert.Equal(t, history.DefaultLimit, bus.Stats().HistorySize)
}

func TestSnapshot_Immutable(t *testing.T) {
	bus := newBus()
	bus.Subscribe(event.ChatMessageSent, ok(nil), 0)
	before := bus.Snapshot()

	bus.Subscribe(event.ChatMessageSent, ok(nil), 0)
	bus.Emit(context.Background(), event.MessageSent{})

	assert.Equal(t, 1, before.Registry.Len())
	assert.Zero(t, before.History.Len())
	assert.Zero(t, before.TotalEvents)
	assert.Equal(t, 2, bus.Snapshot().Registry.Len())
}

func TestHandlerFailure_EmitsFailureEvent(t *testing.T) {
	bus := newBus()

	bus.Subscribe(event.CarouselSlidesGenerated, event.Named("renderer", event.HandlerFunc(func(context.Context, *event.Envelope) (any, error) {
		return nil, errors.New("render service unavailable")
	})), 0)

	var failures []event.HandlerFailed
	var failureEnv *event.Envelope
	bus.Subscribe(event.WorkflowHandlerFailed, event.On(func(_ context.Context, env *event.Envelope, p event.HandlerFailed) (any, error) {
		failures = append(failures, p)
		failureEnv = env
		return nil, nil
	}), 0)

	results := bus.Emit(context.Background(), event.SlidesGenerated{Ref: event.Ref{RequestID: "r"}})

	require.Len(t, results, 1)
	require.NotNil(t, results[0].Error)
	assert.Equal(t, event.CodeHandlerExecution, results[0].Error.Code)
	assert.True(t, results[0].Error.Retryable)
	assert.Equal(t, 3, results[0].Attempts)

	require.Len(t, failures, 1)
	f := failures[0]
	assert.Equal(t, "renderer", f.Handler)
	assert.Equal(t, 3, f.Attempts)
	assert.Equal(t, "render service unavailable", f.Error.Message)
	require.NotNil(t, f.Event)
	assert.Equal(t, event.CarouselSlidesGenerated, f.Event.Type())

	assert.Equal(t, f.Event.ChainID(), failureEnv.CorrelationID())
	assert.Equal(t, f.Event.ID(), failureEnv.CausationID())
	assert.Equal(t, uint64(1), bus.Stats().HandlerFailures)
}

func TestHandlerFailure_NoRecursion(t *testing.T) {
	bus := newBus()

	calls := 0
	bus.Subscribe(event.WorkflowHandlerFailed, event.HandlerFunc(func(context.Context, *event.Envelope) (any, error) {
		calls++
		return nil, errors.New("alerting broken")
	}), 0)
	bus.Subscribe(event.ChatMessageSent, event.HandlerFunc(func(context.Context, *event.Envelope) (any, error) {
		return nil, errors.New("down")
	}), 0)

	bus.Emit(context.Background(), event.MessageSent{})

	assert.Equal(t, 3, calls, "one failure event, retried")
	assert.Equal(t, 1, len(bus.History(history.Filter{Type: event.WorkflowHandlerFailed})))
}

func TestHandlerFailureEvents_Disabled(t *testing.T) {
	bus := newBus(choreo.WithHandlerFailureEvents(false))
	bus.Subscribe(event.ChatMessageSent, event.HandlerFunc(func(context.Context, *event.Envelope) (any, error) {
		return nil, errors.New("down")
	}), 0)

	bus.Emit(context.Background(), event.MessageSent{})

	assert.Empty(t, bus.History(history.Filter{Type: event.WorkflowHandlerFailed}))
}

func TestMaxDepth(t *testing.T) {
	bus := newBus(choreo.WithMaxDepth(3))

	var nested [][]event.Result
	bus.Subscribe(event.ChatMessageSent, event.HandlerFunc(func(ctx context.Context, env *event.Envelope) (any, error) {
		results := bus.EmitWithCorrelation(ctx, event.MessageSent{}, env.ChainID(), env.ID())
		nested = append(nested, results)
		return nil, nil
	}), 0)

	results := bus.Emit(context.Background(), event.MessageSent{})

	require.Len(t, results, 1)
	assert.True(t, results[0].Success)

	// depth 0, 1, 2 dispatch; the emit at depth 3 is refused
	require.Len(t, nested, 3)
	innermost := nested[0]
	require.Len(t, innermost, 1)
	require.NotNil(t, innermost[0].Error)
	assert.Equal(t, event.CodeDepthExceeded, innermost[0].Error.Code)
	assert.Equal(t, 4, bus.Stats().HistorySize, "refused envelope is still recorded")
}

func TestMiddleware(t *testing.T) {
	var seen []string
	mw := func(next event.Handler) event.Handler {
		return event.HandlerFunc(func(ctx context.Context, env *event.Envelope) (any, error) {
			seen = append(seen, string(env.Type()))
			return next.Handle(ctx, env)
		})
	}
	bus := newBus(choreo.WithMiddleware(mw))

	id := bus.Subscribe(event.ChatMessageSent, event.Named("sender", ok(nil)), 0)
	results := bus.Emit(context.Background(), event.MessageSent{})

	assert.Equal(t, []string{"chat.message.sent"}, seen)
	require.Len(t, results, 1)
	assert.Equal(t, "sender", results[0].Handler)
	sub, found := bus.Snapshot().Registry.Get(id)
	require.True(t, found)
	assert.Equal(t, "sender", sub.Name)
}

func TestSubscribeOptions(t *testing.T) {
	bus := newBus()

	calls := 0
	bus.Subscribe(event.ChatMessageSent, event.HandlerFunc(func(context.Context, *event.Envelope) (any, error) {
		calls++
		return nil, errors.New("down")
	}), 0, registry.WithRetry(cherrors.NoRetry), registry.WithName("once"))

	results := bus.Emit(context.Background(), event.MessageSent{})

	require.Len(t, results, 1)
	assert.Equal(t, "once", results[0].Handler)
	assert.Equal(t, 1, calls)
}

func TestConcurrentSubscribeAndEmit(t *testing.T) {
	bus := newBus()

	var mu sync.Mutex
	handled := 0
	bus.Subscribe(event.ChatMessageSent, ok(func(*event.Envelope) {
		mu.Lock()
		handled++
		mu.Unlock()
	}), 0)

	const workers = 8
	const perWorker = 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				bus.Emit(context.Background(), event.MessageSent{})
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				bus.Subscribe(event.ChatMessageReceived, ok(nil), i)
			}
		}()
	}
	wg.Wait()

	stats := bus.Stats()
	assert.Equal(t, uint64(workers*perWorker), stats.TotalEventsProcessed)
	assert.Equal(t, uint64(workers*perWorker), stats.EventsByType[event.ChatMessageSent])
	assert.Equal(t, workers*perWorker, stats.SubscriptionsByType[event.ChatMessageReceived])
	assert.Equal(t, workers*perWorker, handled)
}

func TestRedeliver(t *testing.T) {
	bus := newBus()
	calls := 0
	id := bus.Subscribe(event.ChatMessageSent, ok(func(*event.Envelope) { calls++ }), 0)

	env := event.Build(event.MessageSent{Text: "again"})
	res, err := bus.Redeliver(context.Background(), id, env)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, id, res.SubscriptionID)
	assert.Equal(t, 1, calls)
	assert.Zero(t, bus.Stats().TotalEventsProcessed, "redelivery is not recorded")

	_, err = bus.Redeliver(context.Background(), "missing", env)
	assert.ErrorIs(t, err, choreo.ErrUnknownSubscription)

	bus.SetEnabled(id, false)
	_, err = bus.Redeliver(context.Background(), id, env)
	assert.ErrorIs(t, err, choreo.ErrSubscriptionDisabled)
	assert.Equal(t, 1, calls)
}

func TestRedeliver_FailureIsCountedNotReported(t *testing.T) {
	bus := newBus()
	id := bus.Subscribe(event.ChatMessageSent, event.HandlerFunc(func(context.Context, *event.Envelope) (any, error) {
		return nil, &cherrors.ValidationError{Message: "bad"}
	}), 0)

	res, err := bus.Redeliver(context.Background(), id, event.Build(event.MessageSent{}))
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, event.CodeValidation, res.Error.Code)

	assert.Equal(t, uint64(1), bus.Stats().HandlerFailures)
	assert.Empty(t, bus.History(history.Filter{Type: event.WorkflowHandlerFailed}))
}
