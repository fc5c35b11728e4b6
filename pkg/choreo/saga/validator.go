package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/randalmurphal/choreo/pkg/choreo/event"
)

// Validator checks generation requests. Valid requests continue as
// content.analysis.requested; invalid ones end the saga with
// carousel.generate.failed carrying VALIDATION_ERROR.
type Validator struct {
	bus      Bus
	limits   Limits
	language string
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates the request validator.
func NewValidator(bus Bus, opts ...Option) *Validator {
	o := buildOptions(opts)
	return &Validator{
		bus:      bus,
		limits:   o.limits,
		language: o.language,
		validate: validator.New(),
		logger:   o.logger,
	}
}

// Handle processes carousel.generate.requested.
func (v *Validator) Handle(ctx context.Context, env *event.Envelope, p event.GenerateRequested) (any, error) {
	ref := p.Ref
	if ref.RequestID == "" {
		ref.RequestID = env.ID()
	}
	ref.Topic = strings.TrimSpace(ref.Topic)

	if info := v.Check(ref.Topic, p.SlidesCount); info != nil {
		v.logger.Info("carousel request rejected",
			"request_id", ref.RequestID,
			"correlation_id", env.ChainID(),
			"reason", info.Message,
		)
		failed := event.GenerateFailed{Ref: ref, Stage: env.Type(), Error: *info}
		forward(ctx, v.bus, env, failed)
		return failed, nil
	}

	lang := p.Language
	if lang == "" {
		lang = v.language
	}
	next := event.AnalysisRequested{
		Ref:         ref,
		SlidesCount: p.SlidesCount,
		Style:       p.Style,
		Language:    lang,
	}
	forward(ctx, v.bus, env, next)
	return next, nil
}

// Check validates a topic and slide count against the limits. It returns
// nil when the request is acceptable.
func (v *Validator) Check(topic string, slides int) *event.ErrorInfo {
	var problems []string
	fields := map[string]any{}

	topicRule := fmt.Sprintf("required,max=%d", v.limits.MaxTopicLength)
	if err := v.validate.Var(topic, topicRule); err != nil {
		problems = append(problems, describe("topic", err, v.limits))
		fields["topic"] = topic
	}

	slidesRule := fmt.Sprintf("min=%d,max=%d", v.limits.MinSlides, v.limits.MaxSlides)
	if err := v.validate.Var(slides, slidesRule); err != nil {
		problems = append(problems, describe("slides_count", err, v.limits))
		fields["slides_count"] = slides
	}

	if len(problems) == 0 {
		return nil
	}
	return &event.ErrorInfo{
		Code:      event.CodeValidation,
		Message:   strings.Join(problems, "; "),
		Details:   fields,
		Retryable: false,
	}
}

func describe(field string, err error, l Limits) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Sprintf("%s is invalid", field)
	}
	switch verrs[0].Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max", "min":
		if field == "topic" {
			return fmt.Sprintf("topic must be at most %d characters", l.MaxTopicLength)
		}
		return fmt.Sprintf("%s must be between %d and %d", field, l.MinSlides, l.MaxSlides)
	default:
		return fmt.Sprintf("%s failed %s", field, verrs[0].Tag())
	}
}

// forward emits p as the next link of in's chain.
func forward(ctx context.Context, bus Bus, in *event.Envelope, p event.Payload) []event.Result {
	return bus.EmitWithCorrelation(ctx, p, in.ChainID(), in.ID(), event.WithMetadata(in.Metadata()))
}
