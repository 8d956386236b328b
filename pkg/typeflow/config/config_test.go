package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pipelineYAML = `
pipeline:
  name: orders
  queue_length: 64
  pool_size: 4
  shutdown_poll_interval: 5ms
  metrics: true
  ratio: 0.5
`

// TestFromYAML tests loading a YAML document.
func TestFromYAML(t *testing.T) {
	cfg, err := FromYAML([]byte(pipelineYAML))
	require.NoError(t, err)

	p := cfg.Sub("pipeline")
	assert.Equal(t, "orders", p.String("name", ""))
	assert.Equal(t, 64, p.Int("queue_length", 0))
	assert.Equal(t, 4, p.Int("pool_size", 0))
	assert.Equal(t, 5*time.Millisecond, p.Duration("shutdown_poll_interval", 0))
	assert.True(t, p.Bool("metrics", false))
	assert.InDelta(t, 0.5, p.Float("ratio", 0), 1e-9)
}

// TestFromJSON tests loading a JSON document.
func TestFromJSON(t *testing.T) {
	cfg, err := FromJSON([]byte(`{"queue_length": 8, "max_depth": 12.0, "tracing": true}`))
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Int("queue_length", 0))
	assert.Equal(t, 12, cfg.Int("max_depth", 0))
	assert.True(t, cfg.Bool("tracing", false))
}

// TestDefaults tests that missing or mistyped values fall back to the default.
func TestDefaults(t *testing.T) {
	cfg := New(map[string]any{
		"name":     42,
		"fraction": 1.5,
		"timeout":  "not-a-duration",
	})

	assert.Equal(t, "fallback", cfg.String("name", "fallback"))
	assert.Equal(t, 3, cfg.Int("fraction", 3))
	assert.Equal(t, time.Second, cfg.Duration("timeout", time.Second))
	assert.False(t, cfg.Bool("missing", false))
	assert.False(t, cfg.Has("missing"))
	assert.Empty(t, cfg.Sub("missing").Raw())
}

// TestDurationNumbersAreSeconds tests that bare numbers read as seconds.
func TestDurationNumbersAreSeconds(t *testing.T) {
	cfg := New(map[string]any{"a": 2, "b": 0.25, "c": int64(3)})

	assert.Equal(t, 2*time.Second, cfg.Duration("a", 0))
	assert.Equal(t, 250*time.Millisecond, cfg.Duration("b", 0))
	assert.Equal(t, 3*time.Second, cfg.Duration("c", 0))
}

// TestFromFile tests choosing the decoder from the file extension.
func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "p.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(pipelineYAML), 0o600))
	cfg, err := FromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "orders", cfg.Sub("pipeline").String("name", ""))

	jsonPath := filepath.Join(dir, "p.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"name":"x"}`), 0o600))
	cfg, err = FromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "x", cfg.String("name", ""))

	_, err = FromFile(filepath.Join(dir, "p.toml"))
	assert.Error(t, err)

	_, err = FromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

// TestFromYAMLInvalid tests that malformed YAML is rejected.
func TestFromYAMLInvalid(t *testing.T) {
	_, err := FromYAML([]byte("a: [unclosed"))
	assert.Error(t, err)
}

// TestFromReaderEmpty tests that empty input yields an empty Config.
func TestFromReaderEmpty(t *testing.T) {
	cfg, err := FromReader(strings.NewReader(""), YAML)
	require.NoError(t, err)
	assert.Empty(t, cfg.Raw())

	_, err = FromReader(strings.NewReader("{}"), Format("toml"))
	assert.Error(t, err)
}

// TestWithEnv tests environment overrides and string parsing by the
// typed accessors.
func TestWithEnv(t *testing.T) {
	base, err := FromYAML([]byte("queue_length: 8\nname: base\n"))
	require.NoError(t, err)

	cfg := base.WithEnv("typeflow", []string{
		"TYPEFLOW_QUEUE_LENGTH=64",
		"TYPEFLOW_METRICS=true",
		"TYPEFLOW_SHUTDOWN_POLL_INTERVAL=3ms",
		"TYPEFLOW_=ignored",
		"OTHER_NAME=ignored",
		"malformed",
	})

	assert.Equal(t, 64, cfg.Int("queue_length", 0))
	assert.True(t, cfg.Bool("metrics", false))
	assert.Equal(t, 3*time.Millisecond, cfg.Duration("shutdown_poll_interval", 0))
	assert.Equal(t, "base", cfg.String("name", ""))
	assert.Equal(t, 8, base.Int("queue_length", 0), "the original is unchanged")

	var zero Config
	assert.Equal(t, "x", zero.WithEnv("app", []string{"APP_NAME=x"}).String("name", ""))
}

// TestFormatOf tests mapping file extensions to formats.
func TestFormatOf(t *testing.T) {
	tests := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{path: "a.yaml", want: YAML},
		{path: "a.YML", want: YAML},
		{path: "dir/a.json", want: JSON},
		{path: "a.toml", wantErr: true},
		{path: "noext", wantErr: true},
	}
	for _, tt := range tests {
		got, err := FormatOf(tt.path)
		if tt.wantErr {
			assert.Error(t, err, tt.path)
			continue
		}
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got)
	}
}
