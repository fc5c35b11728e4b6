package llm

import (
	"context"
	"errors"
	"log/slog"

	cherrors "github.com/randalmurphal/choreo/pkg/choreo/errors"
)

// Fallback tries clients in order, moving on after retryable failures.
type Fallback struct {
	clients []Client
	logger  *slog.Logger
}

// NewFallback creates a client chain. The first client is primary.
func NewFallback(logger *slog.Logger, clients ...Client) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{clients: clients, logger: logger}
}

// Complete implements Client. A permanent failure is returned at once.
func (f *Fallback) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if len(f.clients) == 0 {
		return nil, errors.New("llm: no clients configured")
	}
	var lastErr error
	for i, c := range f.clients {
		resp, err := c.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if cherrors.IsPermanent(err) {
			return nil, err
		}
		if i < len(f.clients)-1 {
			f.logger.Warn("llm client failed, trying next", "index", i, "error", err)
		}
	}
	return nil, lastErr
}
