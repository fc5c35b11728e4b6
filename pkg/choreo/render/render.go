// Package render is the client for the slide rendering service.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	cherrors "github.com/randalmurphal/choreo/pkg/choreo/errors"
	"github.com/randalmurphal/choreo/pkg/choreo/event"
	"github.com/randalmurphal/choreo/pkg/choreo/saga"
)

// HTTPRenderer implements saga.Renderer against a JSON render service.
type HTTPRenderer struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// Option configures HTTPRenderer.
type Option func(*HTTPRenderer)

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) Option {
	return func(r *HTTPRenderer) { r.apiKey = key }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *HTTPRenderer) { r.client = c }
}

// WithTimeout sets the request timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(r *HTTPRenderer) { r.client = &http.Client{Timeout: d} }
}

// New creates a renderer posting to endpoint.
func New(endpoint string, opts ...Option) *HTTPRenderer {
	r := &HTTPRenderer{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type renderRequest struct {
	RequestID string        `json:"request_id"`
	Topic     string        `json:"topic"`
	Style     string        `json:"style,omitempty"`
	Slides    []event.Slide `json:"slides"`
}

type renderResponse struct {
	Images []event.Image `json:"images"`
}

// Render implements saga.Renderer. Server errors, 408 and 429 come back as
// transient HTTPErrors; other statuses are permanent.
func (r *HTTPRenderer) Render(ctx context.Context, req saga.RenderRequest) ([]event.Image, error) {
	body, err := json.Marshal(renderRequest{
		RequestID: req.RequestID,
		Topic:     req.Topic,
		Style:     req.Style,
		Slides:    req.Slides,
	})
	if err != nil {
		return nil, cherrors.Permanent(err, "encode render request")
	}

	url := r.endpoint + "/render"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, cherrors.Permanent(err, "build render request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &cherrors.TimeoutError{Operation: "render " + req.RequestID, Duration: r.client.Timeout.String()}
		}
		return nil, fmt.Errorf("render %s: %w", req.RequestID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read render response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &cherrors.HTTPError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
			Endpoint:   url,
		}
	}

	var out renderResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &cherrors.JSONParseError{Input: string(data), Message: err.Error()}
	}
	if len(out.Images) != len(req.Slides) {
		return nil, &cherrors.JSONParseError{
			Input:   string(data),
			Message: fmt.Sprintf("expected %d images, got %d", len(req.Slides), len(out.Images)),
		}
	}
	return out.Images, nil
}

// Placeholder renders nothing and returns deterministic image URLs. It is
// used by the demo and when no render service is configured.
type Placeholder struct {
	BaseURL string
}

// Render implements saga.Renderer.
func (p Placeholder) Render(_ context.Context, req saga.RenderRequest) ([]event.Image, error) {
	base := p.BaseURL
	if base == "" {
		base = "https://placehold.co/1080x1080"
	}
	images := make([]event.Image, len(req.Slides))
	for i, s := range req.Slides {
		images[i] = event.Image{
			Index: s.Index,
			URL:   fmt.Sprintf("%s?text=%s-%d", base, req.RequestID, s.Index),
		}
	}
	return images, nil
}
