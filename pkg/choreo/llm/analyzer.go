package llm

import (
	"context"
	"fmt"
	"strings"

	cherrors "github.com/randalmurphal/choreo/pkg/choreo/errors"
	"github.com/randalmurphal/choreo/pkg/choreo/event"
	"github.com/randalmurphal/choreo/pkg/choreo/saga"
)

const analyzerSystemPrompt = `You plan social media carousels.
Reply with a single JSON object and nothing else:
{"summary": "<one or two sentences>", "key_points": ["<Title>: <one sentence>", ...]}`

const composerSystemPrompt = `You write the slides of a social media carousel.
Reply with a single JSON object and nothing else:
{"slides": [{"title": "<short title>", "body": "<at most 30 words>", "image_prompt": "<what the illustration shows>"}]}`

// Analyzer implements saga.ContentAnalyzer with a language model.
type Analyzer struct {
	client    Client
	model     string
	maxTokens int
}

// NewAnalyzer creates an analyzer. model may be empty to use the client's
// default.
func NewAnalyzer(client Client, model string) *Analyzer {
	return &Analyzer{client: client, model: model, maxTokens: 1024}
}

// Analyze implements saga.ContentAnalyzer.
func (a *Analyzer) Analyze(ctx context.Context, req saga.AnalysisRequest) (saga.Analysis, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", req.Topic)
	if req.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", req.Language)
	}
	if req.Style != "" {
		fmt.Fprintf(&b, "Style: %s\n", req.Style)
	}
	if req.MaxPoints > 0 {
		fmt.Fprintf(&b, "Return at most %d key points.\n", req.MaxPoints)
	}

	completion := UserPrompt(analyzerSystemPrompt, b.String())
	completion.Model = a.model
	completion.MaxTokens = a.maxTokens

	resp, err := a.client.Complete(ctx, completion)
	if err != nil {
		return saga.Analysis{}, err
	}

	var out saga.Analysis
	if err := decodeJSON(resp.Content, &out); err != nil {
		return saga.Analysis{}, err
	}
	out.KeyPoints = compact(out.KeyPoints)
	if len(out.KeyPoints) == 0 {
		return saga.Analysis{}, &cherrors.JSONParseError{Input: truncate(resp.Content, 200), Message: "no key points"}
	}
	if req.MaxPoints > 0 && len(out.KeyPoints) > req.MaxPoints {
		out.KeyPoints = out.KeyPoints[:req.MaxPoints]
	}
	return out, nil
}

// Composer implements saga.StructureGenerator with a language model.
type Composer struct {
	client    Client
	model     string
	maxTokens int
}

// NewComposer creates a slide composer.
func NewComposer(client Client, model string) *Composer {
	return &Composer{client: client, model: model, maxTokens: 2048}
}

type composed struct {
	Slides []struct {
		Title       string `json:"title"`
		Body        string `json:"body"`
		ImagePrompt string `json:"image_prompt"`
	} `json:"slides"`
}

// Generate implements saga.StructureGenerator.
func (c *Composer) Generate(ctx context.Context, req saga.StructureRequest) ([]event.Slide, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", req.Topic)
	if req.Style != "" {
		fmt.Fprintf(&b, "Style: %s\n", req.Style)
	}
	if req.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", req.Summary)
	}
	b.WriteString("Key points:\n")
	for _, p := range req.KeyPoints {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	fmt.Fprintf(&b, "Write exactly %d slides. The first slide introduces the topic.\n", req.SlidesCount)

	completion := UserPrompt(composerSystemPrompt, b.String())
	completion.Model = c.model
	completion.MaxTokens = c.maxTokens

	resp, err := c.client.Complete(ctx, completion)
	if err != nil {
		return nil, err
	}

	var out composed
	if err := decodeJSON(resp.Content, &out); err != nil {
		return nil, err
	}

	slides := make([]event.Slide, 0, len(out.Slides))
	for _, s := range out.Slides {
		if strings.TrimSpace(s.Title) == "" {
			continue
		}
		slides = append(slides, event.Slide{
			Index:       len(slides) + 1,
			Title:       strings.TrimSpace(s.Title),
			Body:        strings.TrimSpace(s.Body),
			ImagePrompt: strings.TrimSpace(s.ImagePrompt),
		})
	}
	if len(slides) == 0 {
		return nil, &cherrors.JSONParseError{Input: truncate(resp.Content, 200), Message: "no slides"}
	}
	return slides, nil
}

func compact(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
