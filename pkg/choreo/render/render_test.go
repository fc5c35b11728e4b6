package render_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cherrors "github.com/randalmurphal/choreo/pkg/choreo/errors"
	"github.com/randalmurphal/choreo/pkg/choreo/event"
	"github.com/randalmurphal/choreo/pkg/choreo/render"
	"github.com/randalmurphal/choreo/pkg/choreo/saga"
)

var twoSlides = saga.RenderRequest{
	RequestID: "req-1",
	Topic:     "AI",
	Style:     "bold",
	Slides:    []event.Slide{{Index: 1, Title: "a"}, {Index: 2, Title: "b"}},
}

func TestHTTPRenderer_Render(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/render", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"images":[{"index":1,"url":"u1"},{"index":2,"url":"u2"}]}`))
	}))
	defer srv.Close()

	images, err := render.New(srv.URL+"/", render.WithAPIKey("secret")).Render(context.Background(), twoSlides)
	require.NoError(t, err)
	assert.Equal(t, []event.Image{{Index: 1, URL: "u1"}, {Index: 2, URL: "u2"}}, images)
	assert.Equal(t, "req-1", got["request_id"])
	assert.Len(t, got["slides"], 2)
}

func TestHTTPRenderer_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
	}{
		{"server error", http.StatusBadGateway, "upstream down", true},
		{"rate limited", http.StatusTooManyRequests, "slow down", true},
		{"bad request", http.StatusBadRequest, "bad slides", false},
		{"garbage body", http.StatusOK, "<html>", true},
		{"image count mismatch", http.StatusOK, `{"images":[{"index":1,"url":"u1"}]}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := render.New(srv.URL).Render(context.Background(), twoSlides)
			require.Error(t, err)
			assert.Equal(t, tt.retryable, cherrors.IsRetryable(err))
		})
	}
}

func TestHTTPRenderer_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := render.New(srv.URL).Render(ctx, twoSlides)
	require.Error(t, err)
	var timeoutErr *cherrors.TimeoutError
	assert.ErrorAs(t, err, &timeoutErr)
	assert.True(t, cherrors.IsRetryable(err))
}

func TestPlaceholder(t *testing.T) {
	images, err := render.Placeholder{BaseURL: "https://img.test"}.Render(context.Background(), twoSlides)
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, "https://img.test?text=req-1-2", images[1].URL)
}
