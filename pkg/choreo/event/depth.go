package event

import (
	"context"
	"time"
)

type contextKey string

const (
	depthKey contextKey = "event_depth"
	rootKey  contextKey = "event_dispatch_root"
)

// Depth returns how many dispatches enclose ctx.
func Depth(ctx context.Context) int {
	if v, ok := ctx.Value(depthKey).(int); ok {
		return v
	}
	return 0
}

// WithDepth records the dispatch nesting level on ctx.
func WithDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey, depth)
}

// WithRoot marks ctx as the context of an outermost dispatch. Contexts
// derived from it can later be detached back to its cancellation.
func WithRoot(ctx context.Context) context.Context {
	if _, ok := ctx.Value(rootKey).(*rootRef); ok {
		return ctx
	}
	r := &rootRef{}
	ctx = context.WithValue(ctx, rootKey, r)
	r.ctx = ctx
	return ctx
}

type rootRef struct {
	ctx context.Context
}

// Detach returns a context carrying every value of ctx whose deadline and
// cancellation are those of the enclosing root dispatch. Deadlines added
// inside handler attempts are dropped. Without a root, ctx is returned
// unchanged.
func Detach(ctx context.Context) context.Context {
	r, ok := ctx.Value(rootKey).(*rootRef)
	if !ok || r.ctx == nil || r.ctx == ctx {
		return ctx
	}
	return detached{values: ctx, root: r.ctx}
}

// detached takes values from one context and cancellation from another.
type detached struct {
	values context.Context
	root   context.Context
}

func (d detached) Deadline() (time.Time, bool) { return d.root.Deadline() }
func (d detached) Done() <-chan struct{}       { return d.root.Done() }
func (d detached) Err() error                  { return d.root.Err() }
func (d detached) Value(key any) any           { return d.values.Value(key) }
