package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is a configuration encoding.
type Format string

// Supported formats.
const (
	YAML Format = "yaml"
	JSON Format = "json"
)

// FormatOf picks the format for a file name by its extension.
func FormatOf(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return YAML, nil
	case ".json":
		return JSON, nil
	default:
		return "", fmt.Errorf("unsupported config file extension: %q", ext)
	}
}

// FromFile loads a YAML or JSON file.
func FromFile(path string) (Config, error) {
	format, err := FormatOf(path)
	if err != nil {
		return Config{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()
	return FromReader(f, format)
}

// FromReader decodes one document from r. An empty document yields an
// empty Config.
func FromReader(r io.Reader, format Format) (Config, error) {
	var m map[string]any
	var err error
	switch format {
	case YAML:
		err = yaml.NewDecoder(r).Decode(&m)
	case JSON:
		err = json.NewDecoder(r).Decode(&m)
	default:
		return Config{}, fmt.Errorf("unsupported config format: %q", format)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse %s: %w", format, err)
	}
	return New(m), nil
}

// FromYAML parses YAML data.
func FromYAML(data []byte) (Config, error) {
	return FromReader(bytes.NewReader(data), YAML)
}

// FromJSON parses JSON data.
func FromJSON(data []byte) (Config, error) {
	return FromReader(bytes.NewReader(data), JSON)
}

// WithEnv returns a copy of c with environment entries laid over its
// top-level keys. PREFIX_QUEUE_LENGTH=64 sets queue_length to "64"; the
// typed accessors parse such strings. environ is usually os.Environ().
func (c Config) WithEnv(prefix string, environ []string) Config {
	out := maps.Clone(c.data)
	if out == nil {
		out = make(map[string]any)
	}
	prefix = strings.ToUpper(prefix) + "_"
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) || len(name) == len(prefix) {
			continue
		}
		out[strings.ToLower(strings.TrimPrefix(name, prefix))] = value
	}
	return New(out)
}
