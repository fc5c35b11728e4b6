package saga

import (
	"context"
	"fmt"
	"strings"

	cherrors "github.com/randalmurphal/choreo/pkg/choreo/errors"
	"github.com/randalmurphal/choreo/pkg/choreo/event"
)

// OutlineGenerator builds slides without a model: a title slide, one slide
// per key point and a closing slide.
type OutlineGenerator struct{}

// Generate implements StructureGenerator.
func (OutlineGenerator) Generate(_ context.Context, req StructureRequest) ([]event.Slide, error) {
	if strings.TrimSpace(req.Topic) == "" {
		return nil, cherrors.Permanent(&cherrors.ValidationError{Field: "topic", Message: "empty"}, "outline")
	}

	slides := make([]event.Slide, 0, len(req.KeyPoints)+2)
	slides = append(slides, event.Slide{
		Title:       req.Topic,
		Body:        req.Summary,
		ImagePrompt: prompt(req.Style, req.Topic),
	})
	for _, point := range req.KeyPoints {
		title, body := splitPoint(point)
		slides = append(slides, event.Slide{
			Title:       title,
			Body:        body,
			ImagePrompt: prompt(req.Style, title),
		})
	}
	slides = append(slides, event.Slide{
		Title:       "Key takeaways",
		Body:        takeaways(req.KeyPoints),
		ImagePrompt: prompt(req.Style, req.Topic+" summary"),
	})

	for i := range slides {
		slides[i].Index = i + 1
	}
	return slides, nil
}

// splitPoint splits "Title: body" key points. Points without a colon are
// used as the title.
func splitPoint(point string) (string, string) {
	title, body, ok := strings.Cut(point, ":")
	if !ok {
		return strings.TrimSpace(point), ""
	}
	return strings.TrimSpace(title), strings.TrimSpace(body)
}

func takeaways(points []string) string {
	titles := make([]string, 0, len(points))
	for _, p := range points {
		t, _ := splitPoint(p)
		titles = append(titles, t)
	}
	return strings.Join(titles, " / ")
}

func prompt(style, subject string) string {
	if style == "" {
		return subject
	}
	return fmt.Sprintf("%s, %s style", subject, style)
}
