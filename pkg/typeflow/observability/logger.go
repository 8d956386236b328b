// Package observability provides the structured logging helpers, OpenTelemetry
// metrics and OpenTelemetry tracing used by typeflow pipelines.
//
// Metrics and tracing are opt-in. When disabled, pipelines use NoopMetrics and
// NoopSpanManager so the routing path pays nothing for them.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds pipeline and context identifiers to a logger.
func EnrichLogger(logger *slog.Logger, pipeline, contextID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("pipeline", pipeline),
		slog.String("context_id", contextID),
	)
}

// LogPipelineInitialized logs a successful Initialize.
func LogPipelineInitialized(logger *slog.Logger, pipeline string, components, conduits int) {
	if logger == nil {
		return
	}
	logger.Info("pipeline initialized",
		slog.String("pipeline", pipeline),
		slog.Int("components", components),
		slog.Int("conduits", conduits),
	)
}

// LogRouteUnknown logs a message that no slot accepted.
// This is the default unknown-message behaviour.
func LogRouteUnknown(logger *slog.Logger, pipeline, sender, messageType string) {
	if logger == nil {
		return
	}
	logger.Warn("no route for message",
		slog.String("pipeline", pipeline),
		slog.String("sender", sender),
		slog.String("message_type", messageType),
	)
}

// LogDeliveryError logs a failed delivery to a receiver.
func LogDeliveryError(logger *slog.Logger, target, messageType string, err error) {
	if logger == nil {
		return
	}
	logger.Error("delivery failed",
		slog.String("target", target),
		slog.String("message_type", messageType),
		slog.String("error", err.Error()),
	)
}

// LogFaultSuppressed logs a fault swallowed by an exception handler.
func LogFaultSuppressed(logger *slog.Logger, pipeline string, err error) {
	if logger == nil {
		return
	}
	logger.Debug("fault suppressed",
		slog.String("pipeline", pipeline),
		slog.String("error", err.Error()),
	)
}

// LogPipelineTerminated logs the fault that terminated a pipeline.
func LogPipelineTerminated(logger *slog.Logger, pipeline string, err error) {
	if logger == nil {
		return
	}
	logger.Error("pipeline terminated",
		slog.String("pipeline", pipeline),
		slog.String("error", err.Error()),
	)
}

// LogShutdown logs the end of a shutdown.
func LogShutdown(logger *slog.Logger, pipeline string, durationMs float64, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Warn("pipeline shutdown incomplete",
			slog.String("pipeline", pipeline),
			slog.Float64("duration_ms", durationMs),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Info("pipeline shut down",
		slog.String("pipeline", pipeline),
		slog.Float64("duration_ms", durationMs),
	)
}

// TimedOperation returns a function reporting the milliseconds elapsed since
// TimedOperation was called.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
