package deadletter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/choreo/pkg/choreo/event"
	"github.com/randalmurphal/choreo/pkg/choreo/registry"
	"github.com/randalmurphal/choreo/pkg/choreo/saga"
)

// Subscriber is the part of the bus the consumer registers with.
type Subscriber interface {
	Subscribe(t event.Type, h event.Handler, priority int, opts ...registry.Option) string
}

// Redeliverer runs one subscription for a recorded envelope.
type Redeliverer interface {
	Redeliver(ctx context.Context, subscriptionID string, env *event.Envelope) (event.Result, error)
}

// Consumer enqueues every workflow.handler.failed.
type Consumer struct {
	queue  *Queue
	logger *slog.Logger
}

// NewConsumer creates a consumer feeding q.
func NewConsumer(q *Queue, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{queue: q, logger: logger}
}

// Register subscribes the consumer at observer priority.
func (c *Consumer) Register(bus Subscriber) string {
	return bus.Subscribe(event.WorkflowHandlerFailed, event.On(c.Handle),
		saga.PriorityObserver, registry.WithName("deadletter.enqueue"))
}

// Handle processes workflow.handler.failed.
func (c *Consumer) Handle(_ context.Context, _ *event.Envelope, p event.HandlerFailed) (any, error) {
	if p.Event == nil {
		return nil, nil
	}
	e := Entry{
		ID:             EntryID(p.Event.ID(), p.SubscriptionID),
		Envelope:       p.Event,
		SubscriptionID: p.SubscriptionID,
		Handler:        p.Handler,
		Error:          p.Error,
		Attempts:       p.Attempts,
	}
	if err := c.queue.Enqueue(e); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", e.ID, err)
	}
	c.logger.Info("dead letter recorded",
		slog.String("id", e.ID),
		slog.String("event_type", string(p.Event.Type())),
		slog.String("handler", p.Handler),
	)
	return e.ID, nil
}

// Replayer redelivers ready entries.
type Replayer struct {
	queue  *Queue
	bus    Redeliverer
	logger *slog.Logger
	batch  int
}

// NewReplayer creates a replayer.
func NewReplayer(q *Queue, bus Redeliverer, logger *slog.Logger) *Replayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Replayer{queue: q, bus: bus, logger: logger, batch: 50}
}

// ReplayReady redelivers every ready entry once and returns how many
// succeeded.
func (r *Replayer) ReplayReady(ctx context.Context) int {
	ok := 0
	for _, e := range r.queue.Ready(r.batch) {
		if r.replay(ctx, e) {
			ok++
		}
	}
	return ok
}

// Replay redelivers one waiting entry now.
func (r *Replayer) Replay(ctx context.Context, id string) (bool, error) {
	e, err := r.queue.Take(id)
	if err != nil {
		return false, err
	}
	return r.replay(ctx, e), nil
}

func (r *Replayer) replay(ctx context.Context, e Entry) bool {
	res, err := r.bus.Redeliver(ctx, e.SubscriptionID, e.Envelope)
	if err != nil {
		r.logger.Warn("dead letter not replayable", slog.String("id", e.ID), slog.String("error", err.Error()))
		r.queue.Failed(e, event.ErrorInfo{Code: event.CodeHandlerExecution, Message: err.Error()})
		return false
	}
	if !res.Success {
		info := event.ErrorInfo{Code: event.CodeHandlerExecution}
		if res.Error != nil {
			info = *res.Error
		}
		r.queue.Failed(e, info)
		return false
	}
	r.queue.Acknowledge(e)
	r.logger.Info("dead letter replayed", slog.String("id", e.ID), slog.Int("replays", e.Replays+1))
	return true
}

// Run replays ready entries every interval until ctx is done.
func (r *Replayer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReplayReady(ctx)
		}
	}
}
