/*
Package choreo provides an in-process event bus for choreographed pipelines.

# Overview

A Bus carries typed envelopes between independent stages. Each stage
subscribes to one event type, does its work, and emits the next event in the
chain. There is no central coordinator: a request's progress lives only in
the envelopes it produced, tied together by a correlation id.

# Basic Usage

	bus := choreo.New(choreo.WithService("carousel-bot"))

	bus.Subscribe(event.CarouselGenerateCompleted, event.On(
	    func(ctx context.Context, env *event.Envelope, p event.GenerateCompleted) (any, error) {
	        fmt.Println("done:", p.RequestID)
	        return nil, nil
	    }), 0)

	results := bus.Emit(ctx, event.GenerateRequested{
	    Ref:         event.Ref{RequestID: "req-1", Topic: "Go generics"},
	    SlidesCount: 5,
	})

Emit returns one event.Result per subscription. Handler failures never
escape as errors or panics; they come back as results with an ErrorInfo.

# Ordering and Retry

Handlers for one envelope run sequentially, highest priority first, with
registration order breaking ties. Each handler invocation is retried with
linear backoff (BaseDelay * attempt) up to MaxAttempts. Each attempt is
bounded by a timeout (default 30s) and a timeout counts as a retryable
failure.

When a handler uses up its attempts the bus emits workflow.handler.failed,
correlated to the failed envelope, so downstream consumers can end the saga.

# State

Every mutation (Subscribe, Unsubscribe, Emit, Start, Stop) swaps in a new
immutable State through an atomic compare-and-swap. Readers never lock and
never observe a partially applied change.

Start and Stop only flip the Running flag reported by Stats. Emit works
regardless of it.
*/
package choreo
