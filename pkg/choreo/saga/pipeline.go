package saga

import (
	"errors"

	"github.com/randalmurphal/choreo/pkg/choreo/event"
	"github.com/randalmurphal/choreo/pkg/choreo/registry"
)

// Dependencies are the collaborators a pipeline calls. Generator defaults to
// OutlineGenerator. Store is optional; without it outcomes are not archived.
type Dependencies struct {
	Analyzer  ContentAnalyzer
	Generator StructureGenerator
	Renderer  Renderer
	Deliverer Deliverer
	Store     RecordStore
}

func (d Dependencies) validate() error {
	var errs []error
	if d.Analyzer == nil {
		errs = append(errs, errors.New("analyzer is required"))
	}
	if d.Renderer == nil {
		errs = append(errs, errors.New("renderer is required"))
	}
	if d.Deliverer == nil {
		errs = append(errs, errors.New("deliverer is required"))
	}
	return errors.Join(errs...)
}

// Pipeline is the set of saga consumers subscribed to one bus.
type Pipeline struct {
	bus    Bus
	router *FailureRouter
	subs   []string
}

// Register subscribes every saga consumer to bus.
func Register(bus Bus, deps Dependencies, opts ...Option) (*Pipeline, error) {
	if bus == nil {
		return nil, errors.New("saga: bus is required")
	}
	if err := deps.validate(); err != nil {
		return nil, errors.Join(errors.New("saga: invalid dependencies"), err)
	}
	if deps.Generator == nil {
		deps.Generator = OutlineGenerator{}
	}

	p := &Pipeline{bus: bus, router: NewFailureRouter(bus, opts...)}

	p.stage(event.CarouselGenerateRequested, "saga.validate", event.On(NewValidator(bus, opts...).Handle))
	p.stage(event.ContentAnalysisRequested, "saga.analyze", event.On(NewAnalyst(bus, deps.Analyzer, opts...).Handle))
	p.stage(event.ContentAnalysisCompleted, "saga.compose", event.On(NewComposer(bus, deps.Generator).Handle))
	p.stage(event.CarouselSlidesGenerated, "saga.render", event.On(NewIllustrator(bus, deps.Renderer).Handle))
	p.stage(event.CarouselImagesRendered, "saga.publish", event.On(NewPublisher(bus, deps.Deliverer).Handle))

	p.add(event.ChatMessageReceived, "saga.intake", PriorityStage, event.On(NewIntake(bus, deps.Deliverer, opts...).Handle))
	p.add(event.WorkflowHandlerFailed, "saga.failure-router", PriorityStage, event.On(p.router.Handle))
	p.add(event.CarouselGenerateFailed, "saga.notify", PriorityNotify, event.On(NewNotifier(bus, deps.Deliverer).Handle))

	if deps.Store != nil {
		archiver := NewArchiver(bus, deps.Store)
		p.add(event.CarouselGenerateCompleted, "saga.archive", PriorityArchive, event.On(archiver.HandleCompleted))
		p.add(event.CarouselGenerateFailed, "saga.archive", PriorityArchive, event.On(archiver.HandleFailed))
	}
	return p, nil
}

func (p *Pipeline) add(t event.Type, name string, priority int, h event.Handler) string {
	id := p.bus.Subscribe(t, h, priority, registry.WithName(name))
	p.subs = append(p.subs, id)
	return id
}

func (p *Pipeline) stage(t event.Type, name string, h event.Handler) {
	p.router.TrackStage(p.add(t, name, PriorityStage, h))
}

// Subscriptions returns the subscription ids in registration order.
func (p *Pipeline) Subscriptions() []string {
	out := make([]string, len(p.subs))
	copy(out, p.subs)
	return out
}

// Unregister removes every subscription the pipeline made.
func (p *Pipeline) Unregister() {
	for _, id := range p.subs {
		p.bus.Unsubscribe(id)
	}
	p.subs = nil
}
