package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/choreo/pkg/choreo/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
	}{
		{"nil map", nil},
		{"empty map", map[string]any{}},
		{"with values", map[string]any{"key": "value"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(tt.data)
			assert.NotNil(t, cfg.Raw())
		})
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		key  string
		want string
	}{
		{"key exists", map[string]any{"name": "alice"}, "name", "alice"},
		{"key missing", map[string]any{"other": "value"}, "name", "default"},
		{"empty string", map[string]any{"name": ""}, "name", ""},
		{"wrong type", map[string]any{"name": 123}, "name", "default"},
		{"dotted path", map[string]any{"llm": map[string]any{"model": "m1"}}, "llm.model", "m1"},
		{"dotted through scalar", map[string]any{"llm": "x"}, "llm.model", "default"},
		{"literal dotted key wins", map[string]any{"a.b": "lit", "a": map[string]any{"b": "nested"}}, "a.b", "lit"},
		{"nil map", nil, "name", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, config.New(tt.data).String(tt.key, "default"))
		})
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		name string
		val  any
		want time.Duration
	}{
		{"string", "1h30m", 90 * time.Minute},
		{"int seconds", 30, 30 * time.Second},
		{"int64 seconds", int64(5), 5 * time.Second},
		{"float seconds", 1.5, 1500 * time.Millisecond},
		{"duration", 2 * time.Second, 2 * time.Second},
		{"invalid string", "soon", 10 * time.Second},
		{"wrong type", true, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"timeout": tt.val})
			assert.Equal(t, tt.want, cfg.Duration("timeout", 10*time.Second))
		})
	}
}

func TestIntAndFloat(t *testing.T) {
	cfg := config.New(map[string]any{
		"int":      7,
		"int64":    int64(8),
		"whole":    9.0,
		"fraction": 9.5,
		"text":     "10",
	})

	assert.Equal(t, 7, cfg.Int("int", 0))
	assert.Equal(t, 8, cfg.Int("int64", 0))
	assert.Equal(t, 9, cfg.Int("whole", 0))
	assert.Equal(t, -1, cfg.Int("fraction", -1))
	assert.Equal(t, -1, cfg.Int("text", -1))

	assert.InDelta(t, 7.0, cfg.Float("int", 0), 0.001)
	assert.InDelta(t, 9.5, cfg.Float("fraction", 0), 0.001)
	assert.InDelta(t, 1.0, cfg.Float("missing", 1), 0.001)
}

func TestSlices(t *testing.T) {
	cfg := config.New(map[string]any{
		"brokers": []any{"a:9092", "b:9092"},
		"mixed":   []any{"a", 1},
		"ids":     []any{1, int64(2), 3.0},
		"bad_ids": []any{1, "two"},
	})

	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.StringSlice("brokers", nil))
	assert.Equal(t, []string{"d"}, cfg.StringSlice("mixed", []string{"d"}))
	assert.Equal(t, []int64{1, 2, 3}, cfg.Int64Slice("ids", nil))
	assert.Nil(t, cfg.Int64Slice("bad_ids", nil))
}

func TestSection(t *testing.T) {
	cfg := config.New(map[string]any{
		"bus": map[string]any{
			"retry": map[string]any{"max_attempts": 5},
		},
		"legacy": map[any]any{"key": "v"},
	})

	assert.Equal(t, 5, cfg.Section("bus").Section("retry").Int("max_attempts", 0))
	assert.Equal(t, 5, cfg.Int("bus.retry.max_attempts", 0))
	assert.Equal(t, "v", cfg.Section("legacy").String("key", ""))
	assert.Empty(t, cfg.Section("missing").Raw())
	assert.True(t, cfg.Has("bus.retry"))
	assert.False(t, cfg.Has("bus.nope"))
	assert.Equal(t, "d", cfg.Any("nope", "d"))
}

func TestFromYAML(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
service: bot
bus:
  retry:
    backoff: exponential
    base_delay: 250ms
telegram:
  allowed_ids: [1, 2]
`))
	require.NoError(t, err)
	assert.Equal(t, "bot", cfg.String("service", ""))
	assert.Equal(t, "exponential", cfg.String("bus.retry.backoff", ""))
	assert.Equal(t, 250*time.Millisecond, cfg.Duration("bus.retry.base_delay", 0))
	assert.Equal(t, []int64{1, 2}, cfg.Int64Slice("telegram.allowed_ids", nil))

	_, err = config.FromYAML([]byte("key: [unclosed"))
	assert.Error(t, err)
}

func TestFromJSON(t *testing.T) {
	cfg, err := config.FromJSON([]byte(`{"saga": {"max_slides": 8}}`))
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Int("saga.max_slides", 0))

	_, err = config.FromJSON([]byte("{"))
	assert.Error(t, err)
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("yaml with env expansion", func(t *testing.T) {
		t.Setenv("CHOREO_TEST_MODEL", "claude-test")
		path := filepath.Join(dir, "c.yaml")
		require.NoError(t, os.WriteFile(path, []byte("llm:\n  model: ${CHOREO_TEST_MODEL}\n"), 0o600))

		cfg, err := config.FromFile(path)
		require.NoError(t, err)
		assert.Equal(t, "claude-test", cfg.String("llm.model", ""))
	})

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(dir, "c.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"service":"x"}`), 0o600))

		cfg, err := config.FromFile(path)
		require.NoError(t, err)
		assert.Equal(t, "x", cfg.String("service", ""))
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := filepath.Join(dir, "c.toml")
		require.NoError(t, os.WriteFile(path, []byte(`service = "x"`), 0o600))

		_, err := config.FromFile(path)
		assert.ErrorContains(t, err, "unsupported config file extension")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := config.FromFile(filepath.Join(dir, "nope.yaml"))
		assert.Error(t, err)
	})
}
