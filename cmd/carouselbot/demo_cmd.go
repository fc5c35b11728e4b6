package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/choreo/pkg/choreo/analytics"
	cherrors "github.com/randalmurphal/choreo/pkg/choreo/errors"
	"github.com/randalmurphal/choreo/pkg/choreo/event"
	"github.com/randalmurphal/choreo/pkg/choreo/llm"
	"github.com/randalmurphal/choreo/pkg/choreo/render"
	"github.com/randalmurphal/choreo/pkg/choreo/saga"
	"github.com/randalmurphal/choreo/pkg/choreo/store"
)

type demoOptions struct {
	Topic  string
	Slides int
	ChatID int64
	Fail   bool
}

func newDemoCmd(root *rootOptions) *cobra.Command {
	var opts demoOptions

	cmd := &cobra.Command{
		Use:   "demo --topic <text> [--slides n] [--fail]",
		Short: "Run one carousel saga in-process with stub collaborators",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(opts.Topic) == "" {
				return fmt.Errorf("--topic is required")
			}
			return runDemo(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Topic, "topic", "", "carousel topic")
	cmd.Flags().IntVar(&opts.Slides, "slides", 5, "number of slides")
	cmd.Flags().Int64Var(&opts.ChatID, "chat-id", 1, "chat id the result is delivered to")
	cmd.Flags().BoolVar(&opts.Fail, "fail", false, "make the content analyzer fail with a 503")
	return cmd
}

// demoAnalysis is the canned answer of the demo's LLM.
func demoAnalysis(topic string) string {
	data, _ := json.Marshal(map[string]any{
		"summary": "A short tour of " + topic,
		"key_points": []string{
			"Context: why " + topic + " matters now",
			"Players: who is shaping it",
			"Risks: what can go wrong",
			"Outlook: where it goes next",
		},
	})
	return string(data)
}

// printDeliverer writes deliveries and notices instead of sending them.
type printDeliverer struct {
	mu  sync.Mutex
	out io.Writer
}

func (d *printDeliverer) Deliver(_ context.Context, del saga.Delivery) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintf(d.out, "delivered %q to chat %d:\n", del.Topic, del.ChatID)
	for _, img := range del.Images {
		fmt.Fprintf(d.out, "  [%d] %s\n", img.Index, img.URL)
	}
	return nil
}

func (d *printDeliverer) Notify(_ context.Context, chatID int64, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintf(d.out, "notice to chat %d: %s\n", chatID, text)
	return nil
}

func runDemo(ctx context.Context, out, errOut io.Writer, root *rootOptions, opts demoOptions) error {
	s, err := loadSettings(root)
	if err != nil {
		return err
	}
	if root.LogLevel == "" {
		s.Log.Level = "warn"
	}
	if root.LogFormat == "" {
		s.Log.Format = "text"
	}
	s.Bus.Retry.BaseDelay = 10 * time.Millisecond
	s.Telemetry.Metrics = true
	logger := newLogger(errOut, s.Log)

	s.Telemetry.OTLPEndpoint = ""
	tel, err := setupTelemetry(ctx, s.Telemetry)
	if err != nil {
		return err
	}
	defer func() { _ = tel.shutdown(context.Background()) }()

	bus := newBus(s, logger, tel.busOptions(logger)...)

	client := llm.NewMockClient(demoAnalysis(opts.Topic))
	if opts.Fail {
		client = client.WithError(&cherrors.HTTPError{StatusCode: 503, Message: "analysis service unavailable", Endpoint: "mock"})
	}
	records := store.NewMemoryStore()
	defer func() { _ = records.Close() }()

	pipeline, err := saga.Register(bus, saga.Dependencies{
		Analyzer:  llm.NewAnalyzer(client, ""),
		Renderer:  render.Placeholder{BaseURL: s.Render.PlaceholderBase},
		Deliverer: &printDeliverer{out: out},
		Store:     records,
	}, sagaOptions(s, logger)...)
	if err != nil {
		return err
	}
	defer pipeline.Unregister()

	sink := analytics.NewMemorySink()
	analytics.NewTracker(bus, sink, analytics.WithLogger(logger)).Register()
	deadLetters, _ := newDeadLetters(s.DeadLetter, bus, logger)

	bus.Start()
	defer bus.Stop()

	msg := event.Build(event.MessageReceived{
		ChatID: opts.ChatID,
		UserID: "demo",
		Text:   fmt.Sprintf("/carousel %d %s", opts.Slides, opts.Topic),
	}, event.WithSource(bus.Service()))
	bus.Publish(ctx, msg)

	progress := saga.Trace(bus.Chain(msg.ID()), msg.ID())
	fmt.Fprintf(out, "\nsaga %s: stage=%s terminal=%t\n", progress.RequestID, progress.Stage, progress.Terminal)
	for i, step := range progress.Steps {
		fmt.Fprintf(out, "  %2d. %s\n", i+1, step.Type)
	}
	if progress.Failure != nil {
		fmt.Fprintf(out, "failure: %s\n", saga.FailureText(*progress.Failure))
	}

	stats, err := json.MarshalIndent(bus.Stats(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nstats:\n%s\n", stats)
	fmt.Fprintf(out, "\nanalytics records: %d\n", len(sink.Records()))
	dl := deadLetters.Stats()
	fmt.Fprintf(out, "dead letters: waiting=%d parked=%d\n", dl.Waiting, dl.Parked)

	rm, err := tel.collect(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\nmetrics:")
	writeMetrics(out, rm)
	return nil
}
