// Package llm adapts hosted language models to the carousel pipeline.
//
// Client is the provider abstraction. AnthropicClient and OpenAIClient wrap
// the vendor SDKs and translate their failures into the categorized errors
// the dispatch engine retries on. Analyzer and Composer implement the saga's
// ContentAnalyzer and StructureGenerator ports on top of any Client.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	cherrors "github.com/randalmurphal/choreo/pkg/choreo/errors"
)

// Client is a completion provider.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Provider names accepted by NewClient.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderMock      = "mock"
)

// Config selects and configures a provider.
type Config struct {
	Provider string
	APIKey   string
	// BaseURL points OpenAI-compatible clients at another endpoint.
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// NewClient creates the client named by cfg.Provider.
func NewClient(cfg Config) (Client, error) {
	switch cfg.Provider {
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, errors.New("llm: anthropic api key is required")
		}
		return NewAnthropicClient(cfg), nil
	case ProviderOpenAI, "openrouter", "local":
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, errors.New("llm: openai api key is required")
		}
		return NewOpenAIClient(cfg), nil
	case ProviderMock:
		return NewMockClient(`{"summary":"","key_points":[]}`), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

// classify maps an SDK failure onto the retry categories: a status code
// becomes an HTTPError, deadline overruns become TimeoutError.
func classify(op string, status int, msg string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return cherrors.Permanent(err, op)
	case errors.Is(err, context.DeadlineExceeded):
		return &cherrors.TimeoutError{Operation: op, Duration: "deadline"}
	case status > 0:
		return fmt.Errorf("%s: %w", op, &cherrors.HTTPError{StatusCode: status, Message: msg, Endpoint: op})
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
