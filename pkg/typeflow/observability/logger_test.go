package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureLogger returns a debug-level JSON logger and a function decoding
// every record written so far.
func captureLogger() (*slog.Logger, func(t *testing.T) []map[string]any) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, func(t *testing.T) []map[string]any {
		t.Helper()
		var records []map[string]any
		for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
			if line == "" {
				continue
			}
			var rec map[string]any
			require.NoError(t, json.Unmarshal([]byte(line), &rec))
			records = append(records, rec)
		}
		return records
	}
}

func TestLogHelpers(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name  string
		log   func(*slog.Logger)
		level string
		msg   string
		attrs map[string]any
	}{
		{
			name:  "initialized",
			log:   func(l *slog.Logger) { LogPipelineInitialized(l, "orders", 3, 5) },
			level: "INFO",
			msg:   "pipeline initialized",
			attrs: map[string]any{"pipeline": "orders", "components": float64(3), "conduits": float64(5)},
		},
		{
			name:  "unknown route",
			log:   func(l *slog.Logger) { LogRouteUnknown(l, "orders", "*main.Parser", "string") },
			level: "WARN",
			msg:   "no route for message",
			attrs: map[string]any{"sender": "*main.Parser", "message_type": "string"},
		},
		{
			name:  "delivery error",
			log:   func(l *slog.Logger) { LogDeliveryError(l, "*main.Sink", "int", boom) },
			level: "ERROR",
			msg:   "delivery failed",
			attrs: map[string]any{"target": "*main.Sink", "error": "boom"},
		},
		{
			name:  "suppressed",
			log:   func(l *slog.Logger) { LogFaultSuppressed(l, "orders", boom) },
			level: "DEBUG",
			msg:   "fault suppressed",
			attrs: map[string]any{"error": "boom"},
		},
		{
			name:  "terminated",
			log:   func(l *slog.Logger) { LogPipelineTerminated(l, "orders", boom) },
			level: "ERROR",
			msg:   "pipeline terminated",
			attrs: map[string]any{"pipeline": "orders"},
		},
		{
			name:  "shutdown",
			log:   func(l *slog.Logger) { LogShutdown(l, "orders", 1.5, nil) },
			level: "INFO",
			msg:   "pipeline shut down",
			attrs: map[string]any{"duration_ms": 1.5},
		},
		{
			name:  "shutdown incomplete",
			log:   func(l *slog.Logger) { LogShutdown(l, "orders", 2, boom) },
			level: "WARN",
			msg:   "pipeline shutdown incomplete",
			attrs: map[string]any{"error": "boom"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, records := captureLogger()
			tt.log(logger)

			got := records(t)
			require.Len(t, got, 1)
			assert.Equal(t, tt.level, got[0]["level"])
			assert.Equal(t, tt.msg, got[0]["msg"])
			for k, v := range tt.attrs {
				assert.Equal(t, v, got[0][k], k)
			}
		})
	}
}

// TestLogHelpers_NilLogger tests that every helper tolerates a nil logger.
func TestLogHelpers_NilLogger(t *testing.T) {
	err := errors.New("x")
	assert.NotPanics(t, func() {
		LogPipelineInitialized(nil, "p", 0, 0)
		LogRouteUnknown(nil, "p", "s", "t")
		LogDeliveryError(nil, "t", "m", err)
		LogFaultSuppressed(nil, "p", err)
		LogPipelineTerminated(nil, "p", err)
		LogShutdown(nil, "p", 0, err)
	})
	assert.Nil(t, EnrichLogger(nil, "p", "c"))
}

func TestEnrichLogger(t *testing.T) {
	logger, records := captureLogger()
	EnrichLogger(logger, "orders", "ctx-1").Info("hello")

	got := records(t)
	require.Len(t, got, 1)
	assert.Equal(t, "orders", got[0]["pipeline"])
	assert.Equal(t, "ctx-1", got[0]["context_id"])
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, done(), 5.0)
}
