// Package analytics exports saga outcomes to an analytics sink.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/randalmurphal/choreo/pkg/choreo/event"
	"github.com/randalmurphal/choreo/pkg/choreo/registry"
	"github.com/randalmurphal/choreo/pkg/choreo/saga"
)

// Record names produced by the tracker.
const (
	NameCarouselCompleted = "carousel_completed"
	NameCarouselFailed    = "carousel_failed"
)

// Record is one exported analytics fact.
type Record struct {
	Name          string         `json:"name"`
	RequestID     string         `json:"request_id"`
	CorrelationID string         `json:"correlation_id"`
	ChatID        int64          `json:"chat_id,omitempty"`
	UserID        string         `json:"user_id,omitempty"`
	Topic         string         `json:"topic"`
	Properties    map[string]any `json:"properties,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

// Sink receives analytics records.
type Sink interface {
	Write(ctx context.Context, r Record) error
	Name() string
	Close() error
}

// Tracker turns terminal saga events into analytics records.
type Tracker struct {
	bus    saga.Bus
	sink   Sink
	logger *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTracker creates a tracker writing to sink.
func NewTracker(bus saga.Bus, sink Sink, opts ...Option) *Tracker {
	t := &Tracker{bus: bus, sink: sink, logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register subscribes the tracker to both terminal types at observer
// priority and returns the subscription ids.
func (t *Tracker) Register() []string {
	return []string{
		t.bus.Subscribe(event.CarouselGenerateCompleted, event.On(t.HandleCompleted),
			saga.PriorityObserver, registry.WithName("analytics.track")),
		t.bus.Subscribe(event.CarouselGenerateFailed, event.On(t.HandleFailed),
			saga.PriorityObserver, registry.WithName("analytics.track")),
	}
}

// HandleCompleted processes carousel.generate.completed.
func (t *Tracker) HandleCompleted(ctx context.Context, env *event.Envelope, p event.GenerateCompleted) (any, error) {
	rec := record(env, p.Ref, NameCarouselCompleted)
	rec.Properties = map[string]any{
		"slide_count": p.SlideCount,
		"success":     p.Success,
	}
	return t.track(ctx, env, rec)
}

// HandleFailed processes carousel.generate.failed.
func (t *Tracker) HandleFailed(ctx context.Context, env *event.Envelope, p event.GenerateFailed) (any, error) {
	rec := record(env, p.Ref, NameCarouselFailed)
	rec.Properties = map[string]any{
		"stage":      string(p.Stage),
		"error_code": p.Error.Code,
		"retryable":  p.Error.Retryable,
	}
	return t.track(ctx, env, rec)
}

func record(env *event.Envelope, ref event.Ref, name string) Record {
	return Record{
		Name:          name,
		RequestID:     ref.RequestID,
		CorrelationID: env.ChainID(),
		ChatID:        ref.ChatID,
		UserID:        ref.UserID,
		Topic:         ref.Topic,
		OccurredAt:    env.Timestamp(),
	}
}

func (t *Tracker) track(ctx context.Context, env *event.Envelope, rec Record) (any, error) {
	if err := t.sink.Write(ctx, rec); err != nil {
		return nil, fmt.Errorf("track %s for %s: %w", rec.Name, rec.RequestID, err)
	}
	t.logger.Debug("analytics record written",
		slog.String("name", rec.Name),
		slog.String("request_id", rec.RequestID),
		slog.String("sink", t.sink.Name()),
	)

	tracked := event.EventTracked{
		Ref: event.Ref{
			RequestID: rec.RequestID,
			ChatID:    rec.ChatID,
			UserID:    rec.UserID,
			Topic:     rec.Topic,
		},
		Name: rec.Name,
		Sink: t.sink.Name(),
	}
	t.bus.EmitWithCorrelation(ctx, tracked, env.ChainID(), env.ID(), event.WithMetadata(env.Metadata()))
	return tracked, nil
}

// MemorySink keeps records in memory.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
	closed  bool
}

// NewMemorySink creates an empty memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write implements Sink.
func (s *MemorySink) Write(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	s.records = append(s.records, r)
	return nil
}

// Name implements Sink.
func (s *MemorySink) Name() string { return "memory" }

// Close implements Sink.
func (s *MemorySink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Records returns a copy of everything written.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}
