package choreo

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/randalmurphal/choreo/pkg/choreo/dispatch"
	"github.com/randalmurphal/choreo/pkg/choreo/event"
	"github.com/randalmurphal/choreo/pkg/choreo/history"
	"github.com/randalmurphal/choreo/pkg/choreo/observability"
	"github.com/randalmurphal/choreo/pkg/choreo/registry"
)

// Bus is the choreography event bus. It is safe for concurrent use.
type Bus struct {
	cfg     config
	builder event.Builder
	engine  *dispatch.Engine
	state   atomic.Pointer[State]
}

// New creates a bus with an empty registry and history.
func New(opts ...Option) *Bus {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	b := &Bus{
		cfg: cfg,
		builder: event.Builder{
			Source:      cfg.service,
			Environment: cfg.environment,
			Now:         cfg.now,
			NewID:       cfg.newID,
		},
		engine: dispatch.New(
			dispatch.WithRetry(cfg.retry),
			dispatch.WithLogger(cfg.logger),
			dispatch.WithMetrics(cfg.metrics),
			dispatch.WithSpans(cfg.spans),
		),
	}
	b.state.Store(&State{
		Registry: registry.Empty(),
		History:  history.New(cfg.historyLimit),
	})
	return b
}

// Service returns the owning service name.
func (b *Bus) Service() string {
	return b.cfg.service
}

// update applies fn to the current state and swaps the result in, retrying
// when another goroutine won the race. It returns the state it installed.
func (b *Bus) update(fn func(State) State) State {
	for {
		cur := b.state.Load()
		next := fn(*cur)
		if b.state.CompareAndSwap(cur, &next) {
			return next
		}
	}
}

// Snapshot returns the current state.
func (b *Bus) Snapshot() State {
	return *b.state.Load()
}

// Subscribe registers handler for t and returns the subscription id.
// Higher priority runs first; equal priorities run in registration order.
func (b *Bus) Subscribe(t event.Type, handler event.Handler, priority int, opts ...registry.Option) string {
	if len(b.cfg.middleware) > 0 {
		handler = event.Chain(handler, b.cfg.middleware...)
	}

	var id string
	b.update(func(s State) State {
		s.Registry, id = s.Registry.Add(t, handler, priority, opts...)
		return s
	})

	b.cfg.logger.Debug("subscribed",
		"event_type", t,
		"subscription_id", id,
		"handler", event.HandlerName(handler),
		"priority", priority,
	)
	return id
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (b *Bus) Unsubscribe(id string) {
	b.update(func(s State) State {
		s.Registry = s.Registry.Remove(id)
		return s
	})
}

// SetEnabled switches a subscription on or off. It reports whether the id
// was found.
func (b *Bus) SetEnabled(id string, enabled bool) bool {
	var found bool
	b.update(func(s State) State {
		s.Registry, found = s.Registry.SetEnabled(id, enabled)
		return s
	})
	return found
}

// Start marks the bus running. The flag is reported by Stats only.
func (b *Bus) Start() {
	b.setRunning(true)
}

// Stop marks the bus stopped. Emit keeps working.
func (b *Bus) Stop() {
	b.setRunning(false)
}

func (b *Bus) setRunning(running bool) {
	b.update(func(s State) State {
		s.Running = running
		return s
	})
	observability.LogLifecycle(b.cfg.logger, b.cfg.service, running)
}

// Running reports the running flag.
func (b *Bus) Running() bool {
	return b.state.Load().Running
}

// Emit builds an envelope that starts a new chain, records it, and
// dispatches it. It returns one result per enabled subscription.
func (b *Bus) Emit(ctx context.Context, p event.Payload, opts ...event.Option) []event.Result {
	env := b.builder.Build(p, b.withTrace(ctx, opts)...)
	return b.Publish(ctx, env)
}

// EmitWithCorrelation is Emit for an envelope inside an existing chain.
// Consumers pass the inbound envelope's ChainID and ID.
func (b *Bus) EmitWithCorrelation(
	ctx context.Context,
	p event.Payload,
	correlationID, causationID string,
	opts ...event.Option,
) []event.Result {
	env := b.builder.BuildCorrelated(p, correlationID, causationID, b.withTrace(ctx, opts)...)
	return b.Publish(ctx, env)
}

func (b *Bus) withTrace(ctx context.Context, opts []event.Option) []event.Option {
	all := make([]event.Option, 0, len(opts)+1)
	all = append(all, event.WithTraceContext(ctx))
	return append(all, opts...)
}

// Publish records and dispatches an already built envelope.
//
// A nested publish, made from inside a handler, runs under the cancellation
// of the outermost dispatch rather than the handler's attempt deadline, so
// each downstream handler gets its own attempt timeout.
func (b *Bus) Publish(ctx context.Context, env *event.Envelope) []event.Result {
	ctx = event.Detach(event.WithRoot(ctx))
	eventType := string(env.Type())
	ctx, span := b.cfg.spans.StartEmitSpan(ctx, eventType, env.ID(), env.ChainID())

	snap := b.update(func(s State) State {
		return s.recorded(env)
	})
	b.cfg.metrics.RecordEmit(ctx, eventType, env.Source())

	depth := event.Depth(ctx)
	if depth >= b.cfg.maxDepth {
		observability.LogDepthExceeded(b.cfg.logger, eventType, env.ID(), depth)
		info := &event.ErrorInfo{
			Code:    event.CodeDepthExceeded,
			Message: fmt.Sprintf("max dispatch depth exceeded (%d)", b.cfg.maxDepth),
			Details: map[string]any{"depth": depth},
		}
		b.cfg.spans.EndSpanWithError(span, info)
		return []event.Result{{Error: info}}
	}

	observability.LogEmit(b.cfg.logger, eventType, env.ID(), env.ChainID(), len(snap.Registry.Enabled(env.Type())))

	ctx = event.WithDepth(ctx, depth+1)
	results := b.engine.Process(ctx, snap.Registry, env)

	failed := event.Failed(results)
	if len(failed) > 0 {
		b.update(func(s State) State {
			s.HandlerFailures += uint64(len(failed))
			return s
		})
		if b.cfg.failureEvents && env.Type() != event.WorkflowHandlerFailed {
			for _, r := range failed {
				b.reportFailure(ctx, env, r)
			}
		}
	}

	var spanErr error
	if len(failed) > 0 {
		spanErr = fmt.Errorf("%d of %d handlers failed", len(failed), len(results))
	}
	b.cfg.spans.EndSpanWithError(span, spanErr)
	return results
}

// reportFailure emits workflow.handler.failed for a handler that gave up.
func (b *Bus) reportFailure(ctx context.Context, env *event.Envelope, r event.Result) {
	info := event.ErrorInfo{Code: event.CodeHandlerExecution}
	if r.Error != nil {
		info = *r.Error
	}
	b.EmitWithCorrelation(ctx, event.HandlerFailed{
		SubscriptionID: r.SubscriptionID,
		Handler:        r.Handler,
		Attempts:       r.Attempts,
		Error:          info,
		Event:          env,
	}, env.ChainID(), env.ID(), event.WithMetadata(env.Metadata()))
}

// Errors returned by Redeliver.
var (
	ErrUnknownSubscription  = errors.New("choreo: unknown subscription")
	ErrSubscriptionDisabled = errors.New("choreo: subscription disabled")
)

// Redeliver runs one subscription for an already recorded envelope. The
// envelope is not recorded again and a failure does not produce
// workflow.handler.failed; the caller owns the outcome.
func (b *Bus) Redeliver(ctx context.Context, subscriptionID string, env *event.Envelope) (event.Result, error) {
	sub, ok := b.state.Load().Registry.Get(subscriptionID)
	if !ok {
		return event.Result{}, fmt.Errorf("%w: %s", ErrUnknownSubscription, subscriptionID)
	}
	if !sub.Enabled {
		return event.Result{}, fmt.Errorf("%w: %s", ErrSubscriptionDisabled, subscriptionID)
	}

	ctx = event.Detach(event.WithRoot(ctx))
	ctx = event.WithDepth(ctx, event.Depth(ctx)+1)
	res := b.engine.Invoke(ctx, sub, env)
	if !res.Success {
		b.update(func(s State) State {
			s.HandlerFailures++
			return s
		})
	}
	return res, nil
}

// Stats returns the current statistics.
func (b *Bus) Stats() Stats {
	return b.state.Load().Stats()
}

// History returns buffered envelopes matching f in emission order.
func (b *Bus) History(f history.Filter) []*event.Envelope {
	return b.state.Load().History.Query(f)
}

// Chain returns every buffered envelope of one correlation chain.
func (b *Bus) Chain(correlationID string) []*event.Envelope {
	return b.state.Load().History.Chain(correlationID)
}
