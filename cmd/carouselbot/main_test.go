package main

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/choreo/pkg/choreo/config"
	"github.com/randalmurphal/choreo/pkg/choreo/event"
	"github.com/randalmurphal/choreo/pkg/choreo/llm"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCatalogCommand(t *testing.T) {
	out, err := run(t, "catalog")
	require.NoError(t, err)

	for _, typ := range event.Types() {
		assert.Contains(t, out, string(typ))
	}
	assert.Contains(t, out, "TERMINAL")
}

func TestDemoCommand_Completes(t *testing.T) {
	out, err := run(t, "demo", "--topic", "AI trends", "--slides", "4")
	require.NoError(t, err)

	assert.Contains(t, out, `delivered "AI trends" to chat 1`)
	assert.Contains(t, out, "stage=completed terminal=true")
	assert.Contains(t, out, string(event.CarouselGenerateCompleted))
	assert.Contains(t, out, string(event.PersistenceRecordSaved))
	assert.Contains(t, out, "analytics records: 1")
	assert.Contains(t, out, "dead letters: waiting=0 parked=0")
	assert.Contains(t, out, "choreo.events.emitted")
	assert.Equal(t, 4, strings.Count(out, "placehold.co"))
}

func TestDemoCommand_Failure(t *testing.T) {
	out, err := run(t, "demo", "--topic", "AI trends", "--fail")
	require.NoError(t, err)

	assert.Contains(t, out, "stage=failed terminal=true")
	assert.Contains(t, out, "notice to chat 1")
	assert.Contains(t, out, string(event.WorkflowHandlerFailed))
	assert.Contains(t, out, "choreo.handler.retries")
	assert.Contains(t, out, "dead letters: waiting=0 parked=1", "stage failures are parked, not replayed")
	assert.NotContains(t, out, "delivered")
}

func TestDemoCommand_RequiresTopic(t *testing.T) {
	_, err := run(t, "demo")
	assert.ErrorContains(t, err, "--topic is required")
}

func TestServeCommand_RequiresToken(t *testing.T) {
	t.Setenv("CAROUSEL_TELEGRAM_TOKEN", "")
	_, err := run(t, "serve")
	assert.ErrorIs(t, err, config.ErrNoToken)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.LogSettings{Level: "warn", Format: "json"})
	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	newLogger(&buf, config.LogSettings{Level: "debug", Format: "text"}).Debug("text line")
	assert.Contains(t, buf.String(), "msg=\"text line\"")
}

func TestNewLLMClient(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	c, err := newLLMClient(config.LLMSettings{Provider: llm.ProviderMock, MockResponse: "hi"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &llm.MockClient{}, c)

	c, err = newLLMClient(config.LLMSettings{Provider: llm.ProviderMock, Fallback: llm.ProviderMock}, logger)
	require.NoError(t, err)
	assert.IsType(t, &llm.Fallback{}, c)

	_, err = newLLMClient(config.LLMSettings{Provider: llm.ProviderAnthropic}, logger)
	assert.Error(t, err)

	_, err = newLLMClient(config.LLMSettings{Provider: llm.ProviderMock, Fallback: "gemini"}, logger)
	assert.ErrorContains(t, err, "fallback provider")
}

func TestCloser_ReverseOrder(t *testing.T) {
	var order []string
	c := &closer{}
	c.add(func() error { order = append(order, "first"); return nil })
	c.add(func() error { order = append(order, "second"); return errors.New("boom") })

	err := c.Close()
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, []string{"second", "first"}, order)
	assert.NoError(t, c.Close())
}
