package saga

import (
	"context"
	"fmt"

	"github.com/randalmurphal/choreo/pkg/choreo/event"
)

// Archiver persists the outcome of every saga.
type Archiver struct {
	bus   Bus
	store RecordStore
}

// NewArchiver creates the archiver.
func NewArchiver(bus Bus, store RecordStore) *Archiver {
	return &Archiver{bus: bus, store: store}
}

// HandleCompleted processes carousel.generate.completed.
func (a *Archiver) HandleCompleted(ctx context.Context, env *event.Envelope, p event.GenerateCompleted) (any, error) {
	rec := a.record(env, p.Ref, StatusCompleted)
	rec.SlideCount = p.SlideCount
	rec.ImageURLs = p.ImageURLs
	return a.save(ctx, env, rec)
}

// HandleFailed processes carousel.generate.failed.
func (a *Archiver) HandleFailed(ctx context.Context, env *event.Envelope, p event.GenerateFailed) (any, error) {
	rec := a.record(env, p.Ref, StatusFailed)
	rec.ErrorCode = p.Error.Code
	rec.ErrorMessage = p.Error.Message
	return a.save(ctx, env, rec)
}

func (a *Archiver) record(env *event.Envelope, ref event.Ref, status Status) Record {
	return Record{
		RequestID:     ref.RequestID,
		CorrelationID: env.ChainID(),
		ChatID:        ref.ChatID,
		UserID:        ref.UserID,
		Topic:         ref.Topic,
		Status:        status,
		CreatedAt:     env.Timestamp(),
	}
}

func (a *Archiver) save(ctx context.Context, env *event.Envelope, rec Record) (any, error) {
	if err := a.store.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("save record %s: %w", rec.RequestID, err)
	}
	saved := event.RecordSaved{
		Ref:    event.Ref{RequestID: rec.RequestID, ChatID: rec.ChatID, UserID: rec.UserID, Topic: rec.Topic},
		Status: string(rec.Status),
	}
	forward(ctx, a.bus, env, saved)
	return saved, nil
}
