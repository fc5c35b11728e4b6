package event

// Payload is implemented by the catalog payload structs only.
type Payload interface {
	// EventType returns the catalog type this payload is carried under.
	EventType() Type

	sealed()
}

// Ref identifies the carousel request a pipeline event belongs to.
type Ref struct {
	RequestID string `json:"request_id"`
	ChatID    int64  `json:"chat_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Topic     string `json:"topic"`
}

// Reference returns r. Embedding Ref promotes it, so every pipeline payload
// satisfies Referenced.
func (r Ref) Reference() Ref { return r }

// Referenced is implemented by payloads that carry a Ref.
type Referenced interface {
	Reference() Ref
}

// RefOf returns the request reference carried by p, if any.
func RefOf(p Payload) (Ref, bool) {
	r, ok := p.(Referenced)
	if !ok {
		return Ref{}, false
	}
	return r.Reference(), true
}

// MessageReceived is an inbound chat message.
type MessageReceived struct {
	ChatID    int64  `json:"chat_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username,omitempty"`
	MessageID int    `json:"message_id,omitempty"`
	Text      string `json:"text"`
}

// MessageSent records a message delivered to a chat.
type MessageSent struct {
	ChatID    int64  `json:"chat_id"`
	RequestID string `json:"request_id,omitempty"`
	Text      string `json:"text"`
}

// GenerateRequested starts a carousel saga.
type GenerateRequested struct {
	Ref
	SlidesCount int    `json:"slides_count"`
	Style       string `json:"style,omitempty"`
	Language    string `json:"language,omitempty"`
}

// AnalysisRequested asks the content analyzer to extract key points.
type AnalysisRequested struct {
	Ref
	SlidesCount int    `json:"slides_count"`
	Style       string `json:"style,omitempty"`
	Language    string `json:"language,omitempty"`
}

// AnalysisCompleted carries the analyzer's output.
type AnalysisCompleted struct {
	Ref
	SlidesCount int      `json:"slides_count"`
	Style       string   `json:"style,omitempty"`
	Summary     string   `json:"summary"`
	KeyPoints   []string `json:"key_points"`
}

// Slide describes one slide before rendering.
type Slide struct {
	Index       int    `json:"index"`
	Title       string `json:"title"`
	Body        string `json:"body,omitempty"`
	ImagePrompt string `json:"image_prompt,omitempty"`
}

// SlidesGenerated carries the slide structure.
type SlidesGenerated struct {
	Ref
	Style  string  `json:"style,omitempty"`
	Slides []Slide `json:"slides"`
}

// Image is a rendered slide.
type Image struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
}

// ImagesRendered carries the renderer's output.
type ImagesRendered struct {
	Ref
	Slides []Slide `json:"slides"`
	Images []Image `json:"images"`
}

// GenerateCompleted ends a saga successfully.
type GenerateCompleted struct {
	Ref
	Success    bool     `json:"success"`
	SlideCount int      `json:"slide_count"`
	ImageURLs  []string `json:"image_urls"`
}

// GenerateFailed ends a saga with an error.
type GenerateFailed struct {
	Ref
	// Stage is the event type whose handling failed.
	Stage Type      `json:"stage"`
	Error ErrorInfo `json:"error"`
}

// RecordSaved reports that a saga outcome was persisted.
type RecordSaved struct {
	Ref
	Status string `json:"status"`
}

// EventTracked reports that a saga outcome was exported to analytics.
type EventTracked struct {
	Ref
	Name string `json:"name"`
	Sink string `json:"sink"`
}

// HandlerFailed is emitted when a handler exhausts its retries.
type HandlerFailed struct {
	SubscriptionID string    `json:"subscription_id"`
	Handler        string    `json:"handler,omitempty"`
	Attempts       int       `json:"attempts"`
	Error          ErrorInfo `json:"error"`
	Event          *Envelope `json:"event"`
}

// AlertRaised asks for operator attention.
type AlertRaised struct {
	Ref
	Severity string    `json:"severity"`
	Reason   string    `json:"reason"`
	Cause    Type      `json:"cause,omitempty"`
	Error    ErrorInfo `json:"error"`
}

func (MessageReceived) EventType() Type   { return ChatMessageReceived }
func (MessageSent) EventType() Type       { return ChatMessageSent }
func (GenerateRequested) EventType() Type { return CarouselGenerateRequested }
func (AnalysisRequested) EventType() Type { return ContentAnalysisRequested }
func (AnalysisCompleted) EventType() Type { return ContentAnalysisCompleted }
func (SlidesGenerated) EventType() Type   { return CarouselSlidesGenerated }
func (ImagesRendered) EventType() Type    { return CarouselImagesRendered }
func (GenerateCompleted) EventType() Type { return CarouselGenerateCompleted }
func (GenerateFailed) EventType() Type    { return CarouselGenerateFailed }
func (RecordSaved) EventType() Type       { return PersistenceRecordSaved }
func (EventTracked) EventType() Type      { return AnalyticsEventTracked }
func (HandlerFailed) EventType() Type     { return WorkflowHandlerFailed }
func (AlertRaised) EventType() Type       { return WorkflowAlertRaised }

func (MessageReceived) sealed()   {}
func (MessageSent) sealed()       {}
func (GenerateRequested) sealed() {}
func (AnalysisRequested) sealed() {}
func (AnalysisCompleted) sealed() {}
func (SlidesGenerated) sealed()   {}
func (ImagesRendered) sealed()    {}
func (GenerateCompleted) sealed() {}
func (GenerateFailed) sealed()    {}
func (RecordSaved) sealed()       {}
func (EventTracked) sealed()      {}
func (HandlerFailed) sealed()     {}
func (AlertRaised) sealed()       {}
