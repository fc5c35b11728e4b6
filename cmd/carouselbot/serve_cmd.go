package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/choreo/pkg/choreo/analytics"
	"github.com/randalmurphal/choreo/pkg/choreo/saga"
	"github.com/randalmurphal/choreo/pkg/choreo/telegram"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot and the generation pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(root)
			if err != nil {
				return err
			}
			if err := s.RequireTelegram(); err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), s.Log)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tel, err := setupTelemetry(ctx, s.Telemetry)
			if err != nil {
				return err
			}
			if s.Telemetry.Tracing && s.Telemetry.OTLPEndpoint == "" {
				logger.Warn("tracing enabled without an OTLP endpoint; spans are not exported")
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if rm, err := tel.collect(shutdownCtx); err == nil && rm != nil {
					writeMetrics(cmd.ErrOrStderr(), rm)
				}
				if err := tel.shutdown(shutdownCtx); err != nil {
					logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
				}
			}()

			res := &closer{}
			defer func() {
				if err := res.Close(); err != nil {
					logger.Warn("resource close failed", slog.String("error", err.Error()))
				}
			}()

			bus := newBus(s, logger, tel.busOptions(logger)...)

			deps, err := buildDependencies(ctx, s, logger, res)
			if err != nil {
				return err
			}

			gateway := telegram.NewGateway(telegram.Config{
				Token:        s.Telegram.Token,
				AllowedIDs:   s.Telegram.AllowedIDs,
				PollInterval: s.Telegram.PollInterval,
			}, bus, telegram.WithLogger(logger))
			deps.Deliverer = gateway

			pipeline, err := saga.Register(bus, deps, sagaOptions(s, logger)...)
			if err != nil {
				return err
			}
			defer pipeline.Unregister()

			sink, err := newSink(s.Analytics, logger)
			if err != nil {
				return err
			}
			res.add(sink.Close)
			analytics.NewTracker(bus, sink, analytics.WithLogger(logger)).Register()

			deadLetters, replayer := newDeadLetters(s.DeadLetter, bus, logger)
			go replayer.Run(ctx, s.DeadLetter.ReplayInterval)

			bus.Start()
			defer bus.Stop()

			if err := gateway.Start(ctx); err != nil {
				return fmt.Errorf("start gateway: %w", err)
			}
			defer gateway.Stop()

			logger.Info("carouselbot serving",
				slog.String("service", s.Service),
				slog.Int("subscriptions", len(pipeline.Subscriptions())),
				slog.String("analytics_sink", sink.Name()),
			)

			<-ctx.Done()
			logger.Info("shutting down",
				slog.Any("stats", bus.Stats()),
				slog.Any("dead_letters", deadLetters.Stats()),
			)
			return nil
		},
	}
}
