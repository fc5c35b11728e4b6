package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestCategoryString(t *testing.T) {
	tests := []struct {
		category Category
		expected string
	}{
		{CategoryTransient, "transient"},
		{CategoryPermanent, "permanent"},
		{Category(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.category.String(); got != tt.expected {
				t.Errorf("Category(%d).String() = %s, want %s", tt.category, got, tt.expected)
			}
		})
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Category
	}{
		{"nil error", nil, CategoryPermanent},
		{"HTTP 429", &HTTPError{StatusCode: 429}, CategoryTransient},
		{"HTTP 408", &HTTPError{StatusCode: 408}, CategoryTransient},
		{"HTTP 503", &HTTPError{StatusCode: 503}, CategoryTransient},
		{"HTTP 500", &HTTPError{StatusCode: 500}, CategoryTransient},
		{"HTTP 401", &HTTPError{StatusCode: 401}, CategoryPermanent},
		{"HTTP 400", &HTTPError{StatusCode: 400}, CategoryPermanent},
		{"HTTP 404", &HTTPError{StatusCode: 404}, CategoryPermanent},
		{"JSON parse error", &JSONParseError{Message: "unexpected token"}, CategoryTransient},
		{"Validation error", &ValidationError{Message: "missing field"}, CategoryPermanent},
		{"Timeout error", &TimeoutError{Operation: "render", Duration: "30s"}, CategoryTransient},
		{"deadline exceeded", context.DeadlineExceeded, CategoryTransient},
		{"canceled", context.Canceled, CategoryPermanent},
		{"wrapped canceled", fmt.Errorf("analyze: %w", context.Canceled), CategoryPermanent},
		{"Categorized error", &CategorizedError{Category: CategoryPermanent}, CategoryPermanent},
		{"Categorized wins over inner", Permanent(&HTTPError{StatusCode: 503}, "x"), CategoryPermanent},
		{"Unknown error", errors.New("unknown"), CategoryTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Categorize(tt.err); got != tt.expected {
				t.Errorf("Categorize() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestCategorizedError(t *testing.T) {
	t.Run("error message with context", func(t *testing.T) {
		err := NewCategorized(errors.New("failed"), CategoryTransient, "render")
		expected := "render: failed (category: transient, attempts: 0)"
		if got := err.Error(); got != expected {
			t.Errorf("Error() = %q, want %q", got, expected)
		}
	})

	t.Run("error message without context", func(t *testing.T) {
		err := &CategorizedError{Err: errors.New("failed"), Category: CategoryPermanent}
		if got := err.Error(); got != "failed (category: permanent, attempts: 0)" {
			t.Errorf("Error() = %q", got)
		}
	})

	t.Run("unwrap", func(t *testing.T) {
		inner := errors.New("inner error")
		err := NewCategorized(inner, CategoryPermanent, "test")
		if !errors.Is(err, inner) {
			t.Error("Unwrap should return inner error")
		}
	})
}

func TestErrorTypes(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&HTTPError{StatusCode: 502, Message: "bad gateway", Endpoint: "/render"}, "HTTP 502 at /render: bad gateway"},
		{&HTTPError{StatusCode: 404, Message: "not found"}, "HTTP 404: not found"},
		{&JSONParseError{Message: "eof"}, "JSON parse error: eof"},
		{&ValidationError{Field: "topic", Message: "required"}, "validation error on topic: required"},
		{&ValidationError{Message: "bad"}, "validation error: bad"},
		{&TimeoutError{Operation: "analyze", Duration: "1s"}, "timeout after 1s: analyze"},
	}

	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestHelperFunctions(t *testing.T) {
	transient := &HTTPError{StatusCode: 429}
	permanent := &HTTPError{StatusCode: 404}

	if !IsRetryable(transient) {
		t.Error("429 should be retryable")
	}
	if IsRetryable(permanent) {
		t.Error("404 should not be retryable")
	}
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
	if !IsPermanent(permanent) {
		t.Error("404 should be permanent")
	}
	if IsPermanent(nil) {
		t.Error("nil should not be permanent")
	}
}
