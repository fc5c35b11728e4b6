package saga

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/randalmurphal/choreo/pkg/choreo/event"
)

// Severity levels for workflow.alert.raised.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// stageTypes are the event types a saga stage consumes. A handler of one of
// these types that gives up ends the saga.
var stageTypes = map[event.Type]bool{
	event.CarouselGenerateRequested: true,
	event.ContentAnalysisRequested:  true,
	event.ContentAnalysisCompleted:  true,
	event.CarouselSlidesGenerated:   true,
	event.CarouselImagesRendered:    true,
}

// IsStage reports whether t is consumed by a saga stage.
func IsStage(t event.Type) bool {
	return stageTypes[t]
}

// FailureRouter turns workflow.handler.failed into a terminal
// carousel.generate.failed when a stage gave up, and into
// workflow.alert.raised for any other handler.
type FailureRouter struct {
	bus    Bus
	logger *slog.Logger

	mu     sync.RWMutex
	stages map[string]bool
}

// NewFailureRouter creates the router.
func NewFailureRouter(bus Bus, opts ...Option) *FailureRouter {
	o := buildOptions(opts)
	return &FailureRouter{bus: bus, logger: o.logger}
}

// TrackStage marks a subscription as a saga stage. Once any stage is
// tracked, only failures of tracked subscriptions end a saga; failures of
// other handlers on stage types raise alerts instead.
func (r *FailureRouter) TrackStage(subscriptionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stages == nil {
		r.stages = make(map[string]bool)
	}
	r.stages[subscriptionID] = true
}

func (r *FailureRouter) endsSaga(p event.HandlerFailed) bool {
	if !IsStage(p.Event.Type()) {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.stages) == 0 {
		return true
	}
	return r.stages[p.SubscriptionID]
}

// Handle processes workflow.handler.failed.
func (r *FailureRouter) Handle(ctx context.Context, env *event.Envelope, p event.HandlerFailed) (any, error) {
	if p.Event == nil || p.Event.Type().Group() == event.GroupWorkflow {
		return nil, nil
	}

	ref, _ := event.RefOf(p.Event.Payload())
	if ref.RequestID == "" {
		ref.RequestID = p.Event.ChainID()
	}

	if r.endsSaga(p) {
		r.logger.Warn("saga stage failed",
			"request_id", ref.RequestID,
			"correlation_id", env.ChainID(),
			"stage", string(p.Event.Type()),
			"handler", p.Handler,
			"attempts", p.Attempts,
			"error", p.Error.Message,
		)
		failed := event.GenerateFailed{Ref: ref, Stage: p.Event.Type(), Error: p.Error}
		forward(ctx, r.bus, env, failed)
		return failed, nil
	}

	severity := SeverityWarning
	if p.Event.Type().Terminal() {
		severity = SeverityCritical
	}
	alert := event.AlertRaised{
		Ref:      ref,
		Severity: severity,
		Reason:   fmt.Sprintf("handler %s failed on %s after %d attempts", p.Handler, p.Event.Type(), p.Attempts),
		Cause:    p.Event.Type(),
		Error:    p.Error,
	}
	r.logger.Error("workflow alert",
		"correlation_id", env.ChainID(),
		"severity", severity,
		"reason", alert.Reason,
	)
	forward(ctx, r.bus, env, alert)
	return alert, nil
}

// Notifier tells the initiating chat that its carousel failed.
type Notifier struct {
	bus       Bus
	deliverer Deliverer
}

// NewNotifier creates the failure notifier.
func NewNotifier(bus Bus, deliverer Deliverer) *Notifier {
	return &Notifier{bus: bus, deliverer: deliverer}
}

// Handle processes carousel.generate.failed.
func (n *Notifier) Handle(ctx context.Context, env *event.Envelope, p event.GenerateFailed) (any, error) {
	if p.ChatID == 0 {
		return nil, nil
	}

	text := FailureText(p)
	if err := n.deliverer.Notify(ctx, p.ChatID, text); err != nil {
		return nil, fmt.Errorf("notify chat %d: %w", p.ChatID, err)
	}

	sent := event.MessageSent{ChatID: p.ChatID, RequestID: p.RequestID, Text: text}
	forward(ctx, n.bus, env, sent)
	return sent, nil
}

// FailureText is the chat message sent for a failed carousel.
func FailureText(p event.GenerateFailed) string {
	if p.Error.Code == event.CodeValidation {
		return fmt.Sprintf("Could not start the carousel: %s (%s)", p.Error.Message, p.Error.Code)
	}
	if p.Topic != "" {
		return fmt.Sprintf("Carousel %q failed: %s (%s)", p.Topic, p.Error.Message, p.Error.Code)
	}
	return fmt.Sprintf("Carousel failed: %s (%s)", p.Error.Message, p.Error.Code)
}
