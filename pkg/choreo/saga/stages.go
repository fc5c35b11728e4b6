package saga

import (
	"context"
	"fmt"

	cherrors "github.com/randalmurphal/choreo/pkg/choreo/errors"
	"github.com/randalmurphal/choreo/pkg/choreo/event"
)

// Analyst asks the content analyzer for key points.
type Analyst struct {
	bus      Bus
	analyzer ContentAnalyzer
	limits   Limits
}

// NewAnalyst creates the analysis stage.
func NewAnalyst(bus Bus, analyzer ContentAnalyzer, opts ...Option) *Analyst {
	o := buildOptions(opts)
	return &Analyst{bus: bus, analyzer: analyzer, limits: o.limits}
}

// Handle processes content.analysis.requested.
func (a *Analyst) Handle(ctx context.Context, env *event.Envelope, p event.AnalysisRequested) (any, error) {
	analysis, err := a.analyzer.Analyze(ctx, AnalysisRequest{
		Topic:     p.Topic,
		Language:  p.Language,
		Style:     p.Style,
		MaxPoints: a.limits.MaxSlides,
	})
	if err != nil {
		return nil, fmt.Errorf("analyze %q: %w", p.Topic, err)
	}

	next := event.AnalysisCompleted{
		Ref:         p.Ref,
		SlidesCount: p.SlidesCount,
		Style:       p.Style,
		Summary:     analysis.Summary,
		KeyPoints:   analysis.KeyPoints,
	}
	forward(ctx, a.bus, env, next)
	return next, nil
}

// Composer turns an analysis into slide descriptors. It emits exactly
// min(requested, generated) slides.
type Composer struct {
	bus       Bus
	generator StructureGenerator
}

// NewComposer creates the structure stage.
func NewComposer(bus Bus, generator StructureGenerator) *Composer {
	return &Composer{bus: bus, generator: generator}
}

// Handle processes content.analysis.completed.
func (c *Composer) Handle(ctx context.Context, env *event.Envelope, p event.AnalysisCompleted) (any, error) {
	slides, err := c.generator.Generate(ctx, StructureRequest{
		Topic:       p.Topic,
		Style:       p.Style,
		Summary:     p.Summary,
		KeyPoints:   p.KeyPoints,
		SlidesCount: p.SlidesCount,
	})
	if err != nil {
		return nil, fmt.Errorf("generate structure: %w", err)
	}
	if len(slides) == 0 {
		return nil, cherrors.Permanent(&cherrors.ValidationError{Field: "slides", Message: "generator returned no slides"}, "generate structure")
	}

	n := min(p.SlidesCount, len(slides))
	out := make([]event.Slide, n)
	copy(out, slides[:n])

	next := event.SlidesGenerated{Ref: p.Ref, Style: p.Style, Slides: out}
	forward(ctx, c.bus, env, next)
	return next, nil
}

// Illustrator asks the renderer for one image per slide.
type Illustrator struct {
	bus      Bus
	renderer Renderer
}

// NewIllustrator creates the render stage.
func NewIllustrator(bus Bus, renderer Renderer) *Illustrator {
	return &Illustrator{bus: bus, renderer: renderer}
}

// Handle processes carousel.slides.generated.
func (i *Illustrator) Handle(ctx context.Context, env *event.Envelope, p event.SlidesGenerated) (any, error) {
	images, err := i.renderer.Render(ctx, RenderRequest{
		RequestID: p.RequestID,
		Topic:     p.Topic,
		Style:     p.Style,
		Slides:    p.Slides,
	})
	if err != nil {
		return nil, fmt.Errorf("render %d slides: %w", len(p.Slides), err)
	}

	next := event.ImagesRendered{Ref: p.Ref, Slides: p.Slides, Images: images}
	forward(ctx, i.bus, env, next)
	return next, nil
}

// Publisher delivers the rendered carousel and ends the saga.
type Publisher struct {
	bus       Bus
	deliverer Deliverer
}

// NewPublisher creates the completion stage.
func NewPublisher(bus Bus, deliverer Deliverer) *Publisher {
	return &Publisher{bus: bus, deliverer: deliverer}
}

// Handle processes carousel.images.rendered.
func (p *Publisher) Handle(ctx context.Context, env *event.Envelope, in event.ImagesRendered) (any, error) {
	if in.ChatID != 0 {
		err := p.deliverer.Deliver(ctx, Delivery{
			ChatID:    in.ChatID,
			RequestID: in.RequestID,
			Topic:     in.Topic,
			Images:    in.Images,
		})
		if err != nil {
			return nil, fmt.Errorf("deliver to chat %d: %w", in.ChatID, err)
		}
	}

	urls := make([]string, len(in.Images))
	for i, img := range in.Images {
		urls[i] = img.URL
	}
	next := event.GenerateCompleted{
		Ref:        in.Ref,
		Success:    true,
		SlideCount: len(in.Slides),
		ImageURLs:  urls,
	}
	forward(ctx, p.bus, env, next)
	return next, nil
}
