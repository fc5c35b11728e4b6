package saga

import (
	"log/slog"
)

// Limits bound a generation request.
type Limits struct {
	MaxTopicLength int
	MinSlides      int
	MaxSlides      int
}

// DefaultLimits are applied when none are configured.
var DefaultLimits = Limits{
	MaxTopicLength: 200,
	MinSlides:      1,
	MaxSlides:      10,
}

// Priorities for the consumers. Stage consumers run before observers of the
// same event.
const (
	PriorityStage    = 100
	PriorityNotify   = 50
	PriorityArchive  = 10
	PriorityObserver = 0
)

type options struct {
	limits        Limits
	defaultSlides int
	language      string
	logger        *slog.Logger
}

func defaultOptions() options {
	return options{
		limits:        DefaultLimits,
		defaultSlides: 5,
		language:      "en",
		logger:        slog.Default(),
	}
}

// Option configures the consumers.
type Option func(*options)

// WithLimits sets request limits.
func WithLimits(l Limits) Option {
	return func(o *options) {
		o.limits = l
	}
}

// WithDefaultSlides sets the slide count used when a chat command names none.
func WithDefaultSlides(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.defaultSlides = n
		}
	}
}

// WithLanguage sets the analysis language used when a request names none.
func WithLanguage(lang string) Option {
	return func(o *options) {
		if lang != "" {
			o.language = lang
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
