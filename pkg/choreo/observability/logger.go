// Package observability provides structured logging, metrics, and tracing
// for the event bus.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds envelope context to a logger.
//
// Example:
//
//	enriched := EnrichLogger(logger, "carousel.slides.generated", evtID, corrID)
//	enriched.Info("rendering") // includes event_type, event_id, correlation_id
func EnrichLogger(logger *slog.Logger, eventType, eventID, correlationID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("event_type", eventType),
		slog.String("event_id", eventID),
		slog.String("correlation_id", correlationID),
	)
}

// LogEmit logs an emitted envelope.
func LogEmit(logger *slog.Logger, eventType, eventID, correlationID string, handlers int) {
	if logger == nil {
		return
	}
	logger.Debug("event emitted",
		slog.String("event_type", eventType),
		slog.String("event_id", eventID),
		slog.String("correlation_id", correlationID),
		slog.Int("handlers", handlers),
	)
}

// LogUnhandled logs an envelope no subscription listens to.
func LogUnhandled(logger *slog.Logger, eventType, eventID string) {
	if logger == nil {
		return
	}
	logger.Warn("unhandled event type",
		slog.String("event_type", eventType),
		slog.String("event_id", eventID),
	)
}

// LogHandlerRetry logs a failed attempt that will be retried.
func LogHandlerRetry(logger *slog.Logger, eventType, handler string, attempt int, delay time.Duration, err error) {
	if logger == nil {
		return
	}
	logger.Warn("handler attempt failed, retrying",
		slog.String("event_type", eventType),
		slog.String("handler", handler),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay),
		slog.String("error", err.Error()),
	)
}

// LogHandlerComplete logs a successful handler invocation.
func LogHandlerComplete(logger *slog.Logger, eventType, handler string, attempts int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("handler completed",
		slog.String("event_type", eventType),
		slog.String("handler", handler),
		slog.Int("attempts", attempts),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogHandlerFailed logs a handler that gave up.
func LogHandlerFailed(logger *slog.Logger, eventType, handler string, attempts int, err error) {
	if logger == nil {
		return
	}
	logger.Error("handler failed",
		slog.String("event_type", eventType),
		slog.String("handler", handler),
		slog.Int("attempts", attempts),
		slog.String("error", err.Error()),
	)
}

// LogDepthExceeded logs an emit refused by the nesting guard.
func LogDepthExceeded(logger *slog.Logger, eventType, eventID string, depth int) {
	if logger == nil {
		return
	}
	logger.Error("max dispatch depth exceeded",
		slog.String("event_type", eventType),
		slog.String("event_id", eventID),
		slog.Int("depth", depth),
	)
}

// LogLifecycle logs a bus start or stop.
func LogLifecycle(logger *slog.Logger, service string, running bool) {
	if logger == nil {
		return
	}
	msg := "bus stopped"
	if running {
		msg = "bus started"
	}
	logger.Info(msg, slog.String("service", service))
}
