package saga

import (
	"context"
	"time"

	"github.com/randalmurphal/choreo/pkg/choreo/event"
	"github.com/randalmurphal/choreo/pkg/choreo/registry"
)

// Bus is the part of the event bus the consumers use.
type Bus interface {
	Subscribe(t event.Type, h event.Handler, priority int, opts ...registry.Option) string
	Unsubscribe(id string)
	EmitWithCorrelation(ctx context.Context, p event.Payload, correlationID, causationID string, opts ...event.Option) []event.Result
}

// AnalysisRequest asks for the key points of a topic.
type AnalysisRequest struct {
	Topic     string
	Language  string
	Style     string
	MaxPoints int
}

// Analysis is the content analyzer's answer.
type Analysis struct {
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
}

// ContentAnalyzer extracts key points from a topic.
type ContentAnalyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (Analysis, error)
}

// StructureRequest asks for slide descriptors.
type StructureRequest struct {
	Topic       string
	Style       string
	Summary     string
	KeyPoints   []string
	SlidesCount int
}

// StructureGenerator turns an analysis into slide descriptors.
type StructureGenerator interface {
	Generate(ctx context.Context, req StructureRequest) ([]event.Slide, error)
}

// RenderRequest asks for one image per slide.
type RenderRequest struct {
	RequestID string
	Topic     string
	Style     string
	Slides    []event.Slide
}

// Renderer turns slide descriptors into images.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) ([]event.Image, error)
}

// Delivery is a finished carousel bound for a chat.
type Delivery struct {
	ChatID    int64
	RequestID string
	Topic     string
	Images    []event.Image
}

// Deliverer sends results and notices to the requesting chat.
type Deliverer interface {
	Deliver(ctx context.Context, d Delivery) error
	Notify(ctx context.Context, chatID int64, text string) error
}

// Status is the outcome recorded for a saga.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Record is the persisted outcome of one saga.
type Record struct {
	RequestID     string    `json:"request_id"`
	CorrelationID string    `json:"correlation_id"`
	ChatID        int64     `json:"chat_id"`
	UserID        string    `json:"user_id,omitempty"`
	Topic         string    `json:"topic"`
	Status        Status    `json:"status"`
	SlideCount    int       `json:"slide_count"`
	ImageURLs     []string  `json:"image_urls,omitempty"`
	ErrorCode     string    `json:"error_code,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// RecordStore persists saga outcomes.
type RecordStore interface {
	Save(ctx context.Context, r Record) error
}
