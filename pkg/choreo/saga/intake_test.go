package saga_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/randalmurphal/choreo/pkg/choreo/event"
	"github.com/randalmurphal/choreo/pkg/choreo/saga"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		want   saga.Command
		wantOK bool
	}{
		{"topic only", "/carousel Go generics", saga.Command{SlidesCount: 5, Topic: "Go generics"}, true},
		{"count and topic", "/carousel 3 Go generics", saga.Command{SlidesCount: 3, Topic: "Go generics"}, true},
		{"bot suffix", "/carousel@carousel_bot 7 Rust", saga.Command{SlidesCount: 7, Topic: "Rust"}, true},
		{"surrounding space", "  /carousel   AI  ", saga.Command{SlidesCount: 5, Topic: "AI"}, true},
		{"no topic", "/carousel", saga.Command{SlidesCount: 5}, true},
		{"count without topic", "/carousel 4", saga.Command{SlidesCount: 4}, true},
		{"year starts topic", "/carousel 2025 trends", saga.Command{SlidesCount: 5, Topic: "2025 trends"}, true},
		{"count at max", "/carousel 10 trends", saga.Command{SlidesCount: 10, Topic: "trends"}, true},
		{"number only above max", "/carousel 42", saga.Command{SlidesCount: 5, Topic: "42"}, true},
		{"zero is a count", "/carousel 0 AI", saga.Command{SlidesCount: 0, Topic: "AI"}, true},
		{"multiline topic", "/carousel 2 line one\nline two", saga.Command{SlidesCount: 2, Topic: "line one\nline two"}, true},
		{"other command", "/start", saga.Command{}, false},
		{"prefix collision", "/carousels AI", saga.Command{}, false},
		{"plain text", "make me a carousel", saga.Command{}, false},
		{"empty", "", saga.Command{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := saga.ParseCommand(tt.text, 5, 10)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommand_NoMaximum(t *testing.T) {
	got, ok := saga.ParseCommand("/carousel 2025 trends", 5, 0)
	assert.True(t, ok)
	assert.Equal(t, saga.Command{SlidesCount: 2025, Topic: "trends"}, got)
}

func TestFailureText(t *testing.T) {
	validation := saga.FailureText(event.GenerateFailed{
		Error: event.ErrorInfo{Code: event.CodeValidation, Message: "topic is required"},
	})
	assert.Contains(t, validation, "topic is required")
	assert.Contains(t, validation, event.CodeValidation)

	stage := saga.FailureText(event.GenerateFailed{
		Ref:   event.Ref{Topic: "AI"},
		Error: event.ErrorInfo{Code: event.CodeHandlerExecution, Message: "render timed out"},
	})
	assert.Contains(t, stage, `"AI"`)
	assert.Contains(t, stage, event.CodeHandlerExecution)
}

func TestUsageText(t *testing.T) {
	text := saga.UsageText(saga.DefaultLimits)
	assert.Contains(t, text, "1-10")
	assert.Contains(t, text, "200")
}

func TestOutlineGenerator(t *testing.T) {
	slides, err := saga.OutlineGenerator{}.Generate(t.Context(), saga.StructureRequest{
		Topic:     "Go",
		Style:     "minimal",
		Summary:   "A language",
		KeyPoints: []string{"Fast: compiles quickly", "Simple"},
	})
	assert.NoError(t, err)
	assert.Len(t, slides, 4)
	assert.Equal(t, "Go", slides[0].Title)
	assert.Equal(t, "Fast", slides[1].Title)
	assert.Equal(t, "compiles quickly", slides[1].Body)
	assert.Equal(t, "Simple", slides[2].Title)
	assert.Equal(t, "Fast / Simple", slides[3].Body)
	assert.Equal(t, "Go, minimal style", slides[0].ImagePrompt)
	for i, s := range slides {
		assert.Equal(t, i+1, s.Index)
	}

	_, err = saga.OutlineGenerator{}.Generate(t.Context(), saga.StructureRequest{Topic: " "})
	assert.Error(t, err)
}
