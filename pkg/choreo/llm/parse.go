package llm

import (
	"encoding/json"
	"strings"

	cherrors "github.com/randalmurphal/choreo/pkg/choreo/errors"
)

// decodeJSON extracts the first JSON object from model output into v.
// Markdown code fences and prose around the object are tolerated.
func decodeJSON(content string, v any) error {
	raw := extractObject(content)
	if raw == "" {
		return &cherrors.JSONParseError{Input: truncate(content, 200), Message: "no JSON object in response"}
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return &cherrors.JSONParseError{Input: truncate(raw, 200), Message: err.Error()}
	}
	return nil
}

func extractObject(content string) string {
	s := strings.TrimSpace(content)
	if i := strings.Index(s, "```"); i >= 0 {
		body := s[i+3:]
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			body = body[nl+1:]
		}
		if end := strings.Index(body, "```"); end >= 0 {
			body = body[:end]
		}
		s = strings.TrimSpace(body)
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
