// Package event defines the envelope, the closed event catalog, and the
// handler contract shared by every stage of the carousel pipeline.
//
// # Catalog
//
// Every event type belongs to a closed catalog. Each type has exactly one
// payload struct, and the payload decides the envelope's type:
//
//	env := event.Build(event.GenerateRequested{
//	    Ref:         event.Ref{RequestID: "req-1", ChatID: 42, Topic: "AI 2025"},
//	    SlidesCount: 5,
//	})
//	// env.Type() == event.CarouselGenerateRequested
//
// The Payload interface is sealed, so only the structs in this package can be
// carried on an envelope.
//
// # Correlation
//
// An envelope built with BuildCorrelated joins an existing chain:
//
//	next := event.BuildCorrelated(payload, in.ChainID(), in.ID())
//	// next.CorrelationID() == in.ChainID()
//	// next.CausationID() == in.ID()
//
// ChainID returns the correlation id, or the envelope's own id when it
// started the chain, so a whole saga can be pulled from history with one id.
//
// # Handlers
//
// Handlers receive the envelope and return optional result data:
//
//	h := event.On(func(ctx context.Context, env *event.Envelope, p event.SlidesGenerated) (any, error) {
//	    return len(p.Slides), nil
//	})
//
// On rejects envelopes whose payload is not P with a permanent error.
package event
