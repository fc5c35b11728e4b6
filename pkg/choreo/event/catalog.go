package event

import (
	"encoding/json"
	"fmt"
)

// Type identifies an event in the catalog.
type Type string

// Group names the subsystem that produces an event type.
type Group string

const (
	GroupChat        Group = "chat-gateway"
	GroupPipeline    Group = "pipeline"
	GroupAnalysis    Group = "content-analysis"
	GroupPersistence Group = "persistence"
	GroupAnalytics   Group = "analytics"
	GroupWorkflow    Group = "workflow"
)

const (
	ChatMessageReceived Type = "chat.message.received"
	ChatMessageSent     Type = "chat.message.sent"

	CarouselGenerateRequested Type = "carousel.generate.requested"
	CarouselSlidesGenerated   Type = "carousel.slides.generated"
	CarouselImagesRendered    Type = "carousel.images.rendered"
	CarouselGenerateCompleted Type = "carousel.generate.completed"
	CarouselGenerateFailed    Type = "carousel.generate.failed"

	ContentAnalysisRequested Type = "content.analysis.requested"
	ContentAnalysisCompleted Type = "content.analysis.completed"

	PersistenceRecordSaved Type = "persistence.record.saved"

	AnalyticsEventTracked Type = "analytics.event.tracked"

	WorkflowHandlerFailed Type = "workflow.handler.failed"
	WorkflowAlertRaised   Type = "workflow.alert.raised"
)

// Spec describes one catalog entry.
type Spec struct {
	Type        Type
	Group       Group
	Description string

	// Terminal marks the types that end a carousel saga.
	Terminal bool

	decode func([]byte) (Payload, error)
}

var catalog = []Spec{
	{Type: ChatMessageReceived, Group: GroupChat, Description: "inbound chat message", decode: decoder[MessageReceived]()},
	{Type: ChatMessageSent, Group: GroupChat, Description: "outbound chat message delivered", decode: decoder[MessageSent]()},
	{Type: CarouselGenerateRequested, Group: GroupPipeline, Description: "carousel generation requested", decode: decoder[GenerateRequested]()},
	{Type: ContentAnalysisRequested, Group: GroupAnalysis, Description: "request passed validation, analysis requested", decode: decoder[AnalysisRequested]()},
	{Type: ContentAnalysisCompleted, Group: GroupAnalysis, Description: "key points extracted from the topic", decode: decoder[AnalysisCompleted]()},
	{Type: CarouselSlidesGenerated, Group: GroupPipeline, Description: "slide structure generated", decode: decoder[SlidesGenerated]()},
	{Type: CarouselImagesRendered, Group: GroupPipeline, Description: "slides rendered to images", decode: decoder[ImagesRendered]()},
	{Type: CarouselGenerateCompleted, Group: GroupPipeline, Description: "carousel delivered", Terminal: true, decode: decoder[GenerateCompleted]()},
	{Type: CarouselGenerateFailed, Group: GroupPipeline, Description: "carousel generation failed", Terminal: true, decode: decoder[GenerateFailed]()},
	{Type: PersistenceRecordSaved, Group: GroupPersistence, Description: "saga outcome persisted", decode: decoder[RecordSaved]()},
	{Type: AnalyticsEventTracked, Group: GroupAnalytics, Description: "saga outcome exported to analytics", decode: decoder[EventTracked]()},
	{Type: WorkflowHandlerFailed, Group: GroupWorkflow, Description: "handler exhausted its retries", decode: decoder[HandlerFailed]()},
	{Type: WorkflowAlertRaised, Group: GroupWorkflow, Description: "operator attention required", decode: decoder[AlertRaised]()},
}

var byType = func() map[Type]Spec {
	m := make(map[Type]Spec, len(catalog))
	for _, s := range catalog {
		m[s.Type] = s
	}
	return m
}()

func decoder[P Payload]() func([]byte) (Payload, error) {
	return func(data []byte) (Payload, error) {
		var p P
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Lookup returns the catalog entry for t.
func Lookup(t Type) (Spec, bool) {
	s, ok := byType[t]
	return s, ok
}

// Types returns every catalog type in pipeline order.
func Types() []Type {
	out := make([]Type, len(catalog))
	for i, s := range catalog {
		out[i] = s.Type
	}
	return out
}

// Specs returns every catalog entry in pipeline order.
func Specs() []Spec {
	out := make([]Spec, len(catalog))
	copy(out, catalog)
	return out
}

// TypesIn returns the types produced by group g.
func TypesIn(g Group) []Type {
	var out []Type
	for _, s := range catalog {
		if s.Group == g {
			out = append(out, s.Type)
		}
	}
	return out
}

// String returns the type name.
func (t Type) String() string {
	return string(t)
}

// Known reports whether t is in the catalog.
func (t Type) Known() bool {
	_, ok := byType[t]
	return ok
}

// Group returns the producing subsystem, or "" for unknown types.
func (t Type) Group() Group {
	return byType[t].Group
}

// Terminal reports whether t ends a carousel saga.
func (t Type) Terminal() bool {
	return byType[t].Terminal
}

// DecodePayload parses a JSON payload of the given type.
func DecodePayload(t Type, data []byte) (Payload, error) {
	s, ok := byType[t]
	if !ok {
		return nil, fmt.Errorf("unknown event type %q", t)
	}
	p, err := s.decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}
