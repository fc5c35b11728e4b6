package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"

	cherrors "github.com/randalmurphal/choreo/pkg/choreo/errors"
	"github.com/randalmurphal/choreo/pkg/choreo/saga"
)

// Settings is the typed configuration of carouselbot.
type Settings struct {
	Service     string `env:"CAROUSEL_SERVICE" validate:"required"`
	Environment string `env:"CAROUSEL_ENV"`

	Log       LogSettings
	Bus       BusSettings
	Saga      SagaSettings
	LLM       LLMSettings
	Cache     CacheSettings
	Store     StoreSettings
	Render    RenderSettings
	Telegram  TelegramSettings
	Analytics  AnalyticsSettings
	DeadLetter DeadLetterSettings
	Telemetry  TelemetrySettings
}

// LogSettings configures the slog handler.
type LogSettings struct {
	Level  string `env:"CAROUSEL_LOG_LEVEL" validate:"oneof=debug info warn error"`
	Format string `env:"CAROUSEL_LOG_FORMAT" validate:"oneof=json text"`
}

// BusSettings configures the event bus.
type BusSettings struct {
	HistoryLimit   int           `validate:"gt=0"`
	MaxDepth       int           `validate:"gt=0"`
	AttemptTimeout time.Duration `validate:"gte=0"`
	Retry          RetrySettings
}

// RetrySettings configures handler retries.
type RetrySettings struct {
	MaxAttempts int           `validate:"gte=1"`
	BaseDelay   time.Duration `validate:"gte=0"`
	MaxDelay    time.Duration `validate:"gte=0"`
	Backoff     string        `validate:"oneof=linear exponential"`
	Factor      float64       `validate:"gte=0"`
	Jitter      float64       `validate:"gte=0,lte=1"`
}

// SagaSettings bounds generation requests.
type SagaSettings struct {
	MaxTopicLength int    `validate:"gt=0"`
	MinSlides      int    `validate:"gte=1"`
	MaxSlides      int    `validate:"gtefield=MinSlides"`
	DefaultSlides  int    `validate:"gte=1"`
	Language       string `validate:"required"`

	// Generator picks the slide structure source: the built-in outline or
	// the LLM composer.
	Generator string `validate:"oneof=outline llm"`
}

// LLMSettings selects and configures the content analysis provider.
type LLMSettings struct {
	Provider  string        `env:"CAROUSEL_LLM_PROVIDER" validate:"oneof=anthropic openai openrouter local mock"`
	APIKey    string        `env:"CAROUSEL_LLM_API_KEY"`
	BaseURL   string        `env:"CAROUSEL_LLM_BASE_URL"`
	Model     string        `env:"CAROUSEL_LLM_MODEL"`
	MaxTokens int           `validate:"gte=0"`
	Timeout   time.Duration `validate:"gte=0"`

	// Fallback names a second provider tried when the first fails.
	Fallback       string `validate:"omitempty,oneof=anthropic openai openrouter local mock"`
	FallbackAPIKey string `env:"CAROUSEL_LLM_FALLBACK_API_KEY"`
	FallbackModel  string

	// MockResponse is returned by the mock provider.
	MockResponse string
}

// CacheSettings configures the analysis cache. An empty RedisAddr disables it.
type CacheSettings struct {
	RedisAddr     string        `env:"CAROUSEL_REDIS_ADDR"`
	RedisPassword string        `env:"CAROUSEL_REDIS_PASSWORD"`
	RedisDB       int           `validate:"gte=0"`
	Prefix        string
	TTL           time.Duration `validate:"gte=0"`
}

// StoreSettings configures record persistence. An empty Path keeps records
// in memory.
type StoreSettings struct {
	Path string `env:"CAROUSEL_STORE_PATH"`
}

// RenderSettings configures the render service. An empty Endpoint uses the
// placeholder renderer.
type RenderSettings struct {
	Endpoint        string        `env:"CAROUSEL_RENDER_ENDPOINT" validate:"omitempty,url"`
	APIKey          string        `env:"CAROUSEL_RENDER_API_KEY"`
	Timeout         time.Duration `validate:"gte=0"`
	PlaceholderBase string        `validate:"omitempty,url"`
}

// TelegramSettings configures the chat gateway.
type TelegramSettings struct {
	Token        string        `env:"CAROUSEL_TELEGRAM_TOKEN"`
	AllowedIDs   []int64       `env:"CAROUSEL_TELEGRAM_ALLOWED_IDS"`
	PollInterval time.Duration `validate:"gte=0"`
}

// AnalyticsSettings configures the analytics export. No brokers disables
// Kafka and records are kept in memory.
type AnalyticsSettings struct {
	KafkaBrokers []string `env:"CAROUSEL_KAFKA_BROKERS"`
	Topic        string
}

// DeadLetterSettings configures the replay of failed deliveries.
type DeadLetterSettings struct {
	MaxSize        int           `validate:"gt=0"`
	MaxReplays     int           `validate:"gt=0"`
	RetryDelay     time.Duration `validate:"gt=0"`
	ReplayInterval time.Duration `validate:"gt=0"`
}

// TelemetrySettings toggles OpenTelemetry. OTLPEndpoint is the base URL of
// an OTLP/HTTP collector, such as http://localhost:4318.
type TelemetrySettings struct {
	Metrics        bool          `env:"CAROUSEL_METRICS"`
	Tracing        bool          `env:"CAROUSEL_TRACING"`
	OTLPEndpoint   string        `env:"CAROUSEL_OTLP_ENDPOINT" validate:"omitempty,url"`
	ExportInterval time.Duration `validate:"gt=0"`
}

// Defaults returns the settings used for anything the file leaves out.
func Defaults() Settings {
	return Settings{
		Service: "carouselbot",
		Log:     LogSettings{Level: "info", Format: "json"},
		Bus: BusSettings{
			HistoryLimit:   1000,
			MaxDepth:       32,
			AttemptTimeout: 30 * time.Second,
			Retry: RetrySettings{
				MaxAttempts: 3,
				BaseDelay:   time.Second,
				MaxDelay:    30 * time.Second,
				Backoff:     "linear",
				Factor:      2.0,
			},
		},
		Saga: SagaSettings{
			MaxTopicLength: saga.DefaultLimits.MaxTopicLength,
			MinSlides:      saga.DefaultLimits.MinSlides,
			MaxSlides:      saga.DefaultLimits.MaxSlides,
			DefaultSlides:  5,
			Language:       "en",
			Generator:      "outline",
		},
		LLM: LLMSettings{
			Provider:  "anthropic",
			MaxTokens: 2048,
			Timeout:   60 * time.Second,
		},
		Cache: CacheSettings{
			Prefix: "carousel:",
			TTL:    24 * time.Hour,
		},
		Render: RenderSettings{
			Timeout:         60 * time.Second,
			PlaceholderBase: "https://placehold.co/1080x1080",
		},
		Telegram: TelegramSettings{
			PollInterval: 10 * time.Second,
		},
		Analytics: AnalyticsSettings{
			Topic: "carousel-analytics",
		},
		Telemetry: TelemetrySettings{
			ExportInterval: 30 * time.Second,
		},
		DeadLetter: DeadLetterSettings{
			MaxSize:        1000,
			MaxReplays:     3,
			RetryDelay:     time.Minute,
			ReplayInterval: 15 * time.Second,
		},
	}
}

// FromConfig fills settings from c over the defaults.
func FromConfig(c Config) Settings {
	d := Defaults()
	s := Settings{
		Service:     c.String("service", d.Service),
		Environment: c.String("environment", d.Environment),
	}

	log := c.Section("log")
	s.Log = LogSettings{
		Level:  log.String("level", d.Log.Level),
		Format: log.String("format", d.Log.Format),
	}

	bus := c.Section("bus")
	retry := bus.Section("retry")
	s.Bus = BusSettings{
		HistoryLimit:   bus.Int("history_limit", d.Bus.HistoryLimit),
		MaxDepth:       bus.Int("max_depth", d.Bus.MaxDepth),
		AttemptTimeout: bus.Duration("attempt_timeout", d.Bus.AttemptTimeout),
		Retry: RetrySettings{
			MaxAttempts: retry.Int("max_attempts", d.Bus.Retry.MaxAttempts),
			BaseDelay:   retry.Duration("base_delay", d.Bus.Retry.BaseDelay),
			MaxDelay:    retry.Duration("max_delay", d.Bus.Retry.MaxDelay),
			Backoff:     retry.String("backoff", d.Bus.Retry.Backoff),
			Factor:      retry.Float("factor", d.Bus.Retry.Factor),
			Jitter:      retry.Float("jitter", d.Bus.Retry.Jitter),
		},
	}

	sg := c.Section("saga")
	s.Saga = SagaSettings{
		MaxTopicLength: sg.Int("max_topic_length", d.Saga.MaxTopicLength),
		MinSlides:      sg.Int("min_slides", d.Saga.MinSlides),
		MaxSlides:      sg.Int("max_slides", d.Saga.MaxSlides),
		DefaultSlides:  sg.Int("default_slides", d.Saga.DefaultSlides),
		Language:       sg.String("language", d.Saga.Language),
		Generator:      sg.String("generator", d.Saga.Generator),
	}

	llm := c.Section("llm")
	s.LLM = LLMSettings{
		Provider:       llm.String("provider", d.LLM.Provider),
		APIKey:         llm.String("api_key", d.LLM.APIKey),
		BaseURL:        llm.String("base_url", d.LLM.BaseURL),
		Model:          llm.String("model", d.LLM.Model),
		MaxTokens:      llm.Int("max_tokens", d.LLM.MaxTokens),
		Timeout:        llm.Duration("timeout", d.LLM.Timeout),
		Fallback:       llm.String("fallback", d.LLM.Fallback),
		FallbackAPIKey: llm.String("fallback_api_key", d.LLM.FallbackAPIKey),
		FallbackModel:  llm.String("fallback_model", d.LLM.FallbackModel),
		MockResponse:   llm.String("mock_response", d.LLM.MockResponse),
	}

	cache := c.Section("cache")
	s.Cache = CacheSettings{
		RedisAddr:     cache.String("redis_addr", d.Cache.RedisAddr),
		RedisPassword: cache.String("redis_password", d.Cache.RedisPassword),
		RedisDB:       cache.Int("redis_db", d.Cache.RedisDB),
		Prefix:        cache.String("prefix", d.Cache.Prefix),
		TTL:           cache.Duration("ttl", d.Cache.TTL),
	}

	s.Store = StoreSettings{Path: c.String("store.path", d.Store.Path)}

	render := c.Section("render")
	s.Render = RenderSettings{
		Endpoint:        render.String("endpoint", d.Render.Endpoint),
		APIKey:          render.String("api_key", d.Render.APIKey),
		Timeout:         render.Duration("timeout", d.Render.Timeout),
		PlaceholderBase: render.String("placeholder_base", d.Render.PlaceholderBase),
	}

	tg := c.Section("telegram")
	s.Telegram = TelegramSettings{
		Token:        tg.String("token", d.Telegram.Token),
		AllowedIDs:   tg.Int64Slice("allowed_ids", d.Telegram.AllowedIDs),
		PollInterval: tg.Duration("poll_interval", d.Telegram.PollInterval),
	}

	an := c.Section("analytics")
	s.Analytics = AnalyticsSettings{
		KafkaBrokers: an.StringSlice("kafka_brokers", d.Analytics.KafkaBrokers),
		Topic:        an.String("topic", d.Analytics.Topic),
	}

	dl := c.Section("dead_letter")
	s.DeadLetter = DeadLetterSettings{
		MaxSize:        dl.Int("max_size", d.DeadLetter.MaxSize),
		MaxReplays:     dl.Int("max_replays", d.DeadLetter.MaxReplays),
		RetryDelay:     dl.Duration("retry_delay", d.DeadLetter.RetryDelay),
		ReplayInterval: dl.Duration("replay_interval", d.DeadLetter.ReplayInterval),
	}

	s.Telemetry = TelemetrySettings{
		Metrics:        c.Bool("telemetry.metrics", d.Telemetry.Metrics),
		Tracing:        c.Bool("telemetry.tracing", d.Telemetry.Tracing),
		OTLPEndpoint:   c.String("telemetry.otlp_endpoint", d.Telemetry.OTLPEndpoint),
		ExportInterval: c.Duration("telemetry.export_interval", d.Telemetry.ExportInterval),
	}
	return s
}

// ApplyEnv overlays environment variables onto s. A nil environ reads the
// process environment.
func ApplyEnv(s *Settings, environ map[string]string) error {
	if err := env.ParseWithOptions(s, env.Options{Environment: environ}); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

// Validate checks every field constraint and the cross-field rules.
func (s Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if s.Saga.DefaultSlides < s.Saga.MinSlides || s.Saga.DefaultSlides > s.Saga.MaxSlides {
		return fmt.Errorf("invalid settings: saga default_slides %d outside [%d, %d]",
			s.Saga.DefaultSlides, s.Saga.MinSlides, s.Saga.MaxSlides)
	}
	return nil
}

// Load reads path (optional), applies the environment and validates.
func Load(path string) (Settings, error) {
	return load(path, nil)
}

func load(path string, environ map[string]string) (Settings, error) {
	c := New(nil)
	if path != "" {
		var err error
		if c, err = FromFile(path); err != nil {
			return Settings{}, err
		}
	}
	s := FromConfig(c)
	if err := ApplyEnv(&s, environ); err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// ErrNoToken is returned by RequireTelegram when no bot token is set.
var ErrNoToken = errors.New("config: telegram token is required")

// RequireTelegram reports whether the chat gateway can start.
func (s Settings) RequireTelegram() error {
	if s.Telegram.Token == "" {
		return ErrNoToken
	}
	return nil
}

// RetryConfig converts the bus retry settings.
func (s Settings) RetryConfig() cherrors.RetryConfig {
	r := s.Bus.Retry
	return cherrors.NewRetryConfig(
		cherrors.WithMaxAttempts(r.MaxAttempts),
		cherrors.WithBaseDelay(r.BaseDelay),
		cherrors.WithMaxDelay(r.MaxDelay),
		cherrors.WithBackoff(cherrors.ParseBackoff(r.Backoff)),
		cherrors.WithFactor(r.Factor),
		cherrors.WithJitter(r.Jitter),
		cherrors.WithAttemptTimeout(s.Bus.AttemptTimeout),
	)
}

// Limits converts the saga settings.
func (s Settings) Limits() saga.Limits {
	return saga.Limits{
		MaxTopicLength: s.Saga.MaxTopicLength,
		MinSlides:      s.Saga.MinSlides,
		MaxSlides:      s.Saga.MaxSlides,
	}
}
