package event

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	cherrors "github.com/randalmurphal/choreo/pkg/choreo/errors"
)

// Handler processes one envelope and returns optional result data.
// A returned error is retried by the dispatcher unless it is permanent.
type Handler interface {
	Handle(ctx context.Context, env *Envelope) (any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, env *Envelope) (any, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, env *Envelope) (any, error) {
	return f(ctx, env)
}

// On wraps a function that handles a single payload type. Envelopes carrying
// another payload fail with a permanent error.
func On[P Payload](fn func(ctx context.Context, env *Envelope, p P) (any, error)) Handler {
	return &typedHandler[P]{fn: fn}
}

type typedHandler[P Payload] struct {
	fn func(ctx context.Context, env *Envelope, p P) (any, error)
}

func (h *typedHandler[P]) Handle(ctx context.Context, env *Envelope) (any, error) {
	p, ok := env.Payload().(P)
	if !ok {
		var want P
		return nil, cherrors.Permanent(&EventError{
			Event:   env,
			Message: fmt.Sprintf("unexpected payload %T, want %T", env.Payload(), want),
		}, "decode payload")
	}
	return h.fn(ctx, env, p)
}

// Named attaches a display name used in logs, metrics and results.
func Named(name string, h Handler) Handler {
	return &namedHandler{name: name, Handler: h}
}

type namedHandler struct {
	name string
	Handler
}

func (h *namedHandler) HandlerName() string { return h.name }

// HandlerName returns the display name of h.
func HandlerName(h Handler) string {
	if n, ok := h.(interface{ HandlerName() string }); ok {
		return n.HandlerName()
	}
	return fmt.Sprintf("%T", h)
}

// Middleware wraps handlers to add cross-cutting concerns.
type Middleware func(next Handler) Handler

// Chain applies middleware in order, with first middleware outermost.
// The handler's display name survives wrapping.
func Chain(h Handler, middleware ...Middleware) Handler {
	if len(middleware) == 0 {
		return h
	}
	name := HandlerName(h)
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return Named(name, h)
}

// Recovery converts handler panics into PanicError failures.
func Recovery() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, env *Envelope) (result any, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &PanicError{Value: r, Stack: debug.Stack()}
				}
			}()
			return next.Handle(ctx, env)
		})
	}
}

// Logging logs each handler invocation at debug level.
func Logging(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		name := HandlerName(next)
		return HandlerFunc(func(ctx context.Context, env *Envelope) (any, error) {
			if logger == nil {
				return next.Handle(ctx, env)
			}
			start := time.Now()
			result, err := next.Handle(ctx, env)
			logger.Debug("handler invoked",
				"event_type", env.Type(),
				"event_id", env.ID(),
				"handler", name,
				"duration_ms", time.Since(start).Milliseconds(),
				"error", err,
			)
			return result, err
		})
	}
}
