package saga_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/choreo/pkg/choreo"
	cherrors "github.com/randalmurphal/choreo/pkg/choreo/errors"
	"github.com/randalmurphal/choreo/pkg/choreo/event"
	"github.com/randalmurphal/choreo/pkg/choreo/saga"
)

// wait blocks for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

type slowAnalyzer struct {
	delay time.Duration
}

func (s slowAnalyzer) Analyze(ctx context.Context, req saga.AnalysisRequest) (saga.Analysis, error) {
	if err := wait(ctx, s.delay); err != nil {
		return saga.Analysis{}, err
	}
	return saga.Analysis{Summary: req.Topic, KeyPoints: []string{"One: first", "Two: second"}}, nil
}

type slowRenderer struct {
	delay time.Duration
	next  fakeRenderer
}

func (s *slowRenderer) Render(ctx context.Context, req saga.RenderRequest) ([]event.Image, error) {
	if err := wait(ctx, s.delay); err != nil {
		return nil, err
	}
	return s.next.Render(ctx, req)
}

func newTimedFixture(t *testing.T, attempt, analyze, render time.Duration) (*choreo.Bus, *fakeDeliverer) {
	t.Helper()
	bus := choreo.New(
		choreo.WithLogger(discardLogger()),
		choreo.WithRetry(cherrors.NewRetryConfig(
			cherrors.WithMaxAttempts(2),
			cherrors.WithSleep(noSleep),
		)),
		choreo.WithAttemptTimeout(attempt),
	)
	deliverer := &fakeDeliverer{}
	_, err := saga.Register(bus, saga.Dependencies{
		Analyzer:  slowAnalyzer{delay: analyze},
		Renderer:  &slowRenderer{delay: render},
		Deliverer: deliverer,
	}, saga.WithLogger(discardLogger()))
	require.NoError(t, err)
	return bus, deliverer
}

func publishRequest(bus *choreo.Bus) *event.Envelope {
	env := event.Build(event.GenerateRequested{
		Ref:         event.Ref{RequestID: "req-slow", ChatID: 5, Topic: "Slow topic"},
		SlidesCount: 3,
	})
	bus.Publish(context.Background(), env)
	return env
}

func TestPipeline_StagesEachGetTheirOwnAttemptTimeout(t *testing.T) {
	// Each stage fits the bound; the saga as a whole does not.
	bus, deliverer := newTimedFixture(t, 200*time.Millisecond, 120*time.Millisecond, 120*time.Millisecond)
	origin := publishRequest(bus)

	progress := saga.Trace(bus.Chain(origin.ID()), origin.ID())
	assert.Equal(t, saga.StageCompleted, progress.Stage)
	assert.True(t, progress.Terminal)
	assert.Len(t, deliverer.deliveries, 1)
	assert.Zero(t, bus.Stats().HandlerFailures)
}

func TestPipeline_StageTimeoutEndsInFailedTerminal(t *testing.T) {
	bus, deliverer := newTimedFixture(t, 100*time.Millisecond, 60*time.Millisecond, 300*time.Millisecond)
	origin := publishRequest(bus)

	progress := saga.Trace(bus.Chain(origin.ID()), origin.ID())
	require.True(t, progress.Terminal, "saga ended at %s", progress.Stage)
	assert.Equal(t, saga.StageFailed, progress.Stage)
	require.NotNil(t, progress.Failure)
	assert.Equal(t, event.CarouselSlidesGenerated, progress.Failure.Stage)
	assert.True(t, progress.Failure.Error.Retryable)
	assert.Empty(t, deliverer.deliveries)
	assert.Len(t, deliverer.notices, 1)
}
