package typeflow

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/typeflow/pkg/typeflow/config"
	"github.com/randalmurphal/typeflow/pkg/typeflow/observability"
)

// Default limits.
const (
	// DefaultMaxDepth bounds message ancestry to stop runaway cycles.
	DefaultMaxDepth = 1000

	// DefaultQueueLength bounds each ordered worker queue.
	DefaultQueueLength = 256

	// DefaultShutdownPollInterval is how often Shutdown checks for drain.
	DefaultShutdownPollInterval = time.Millisecond
)

// Option configures a Pipeline.
type Option func(*pipelineConfig)

type pipelineConfig struct {
	name            string
	logger          *slog.Logger
	metrics         observability.MetricsRecorder
	spans           observability.SpanManager
	maxDepth        int
	poolSize        int
	poolQueueLength int
	queueLength     int
	pollInterval    time.Duration
	unknown         func(Envelope)
}

func defaultPipelineConfig(name string) pipelineConfig {
	return pipelineConfig{
		name:         name,
		logger:       slog.Default(),
		metrics:      observability.NoopMetrics{},
		spans:        observability.NoopSpanManager{},
		maxDepth:     DefaultMaxDepth,
		queueLength:  DefaultQueueLength,
		pollInterval: DefaultShutdownPollInterval,
	}
}

// WithLogger sets the pipeline logger. Default: slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(c *pipelineConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics enables OpenTelemetry metrics on the global meter provider.
func WithMetrics() Option {
	return func(c *pipelineConfig) {
		c.metrics = observability.NewMetricsRecorder()
	}
}

// WithMetricsRecorder sets a specific metrics recorder.
func WithMetricsRecorder(r observability.MetricsRecorder) Option {
	return func(c *pipelineConfig) {
		if r != nil {
			c.metrics = r
		}
	}
}

// WithTracing enables OpenTelemetry tracing on the global tracer provider.
func WithTracing() Option {
	return func(c *pipelineConfig) {
		c.spans = observability.NewSpanManager()
	}
}

// WithSpanManager sets a specific span manager.
func WithSpanManager(s observability.SpanManager) Option {
	return func(c *pipelineConfig) {
		if s != nil {
			c.spans = s
		}
	}
}

// WithMaxDepth bounds the ancestry depth of routed messages.
// Default: DefaultMaxDepth
func WithMaxDepth(n int) Option {
	return func(c *pipelineConfig) {
		if n > 0 {
			c.maxDepth = n
		}
	}
}

// WithPoolSize sets the number of workers in the shared pool used by
// pooled routes and asynchronous invocations. Default: GOMAXPROCS
func WithPoolSize(n int) Option {
	return func(c *pipelineConfig) {
		if n > 0 {
			c.poolSize = n
		}
	}
}

// WithPoolQueueLength sets how many pooled deliveries may wait for a worker.
// Default: 4 × pool size
func WithPoolQueueLength(n int) Option {
	return func(c *pipelineConfig) {
		if n > 0 {
			c.poolQueueLength = n
		}
	}
}

// WithDefaultQueueLength sets the length of ordered worker queues whose
// route does not set one. Zero means unbounded. Default: DefaultQueueLength
func WithDefaultQueueLength(n int) Option {
	return func(c *pipelineConfig) {
		if n >= 0 {
			c.queueLength = n
		}
	}
}

// WithShutdownPollInterval sets how often Shutdown checks for drain.
// Default: DefaultShutdownPollInterval
func WithShutdownPollInterval(d time.Duration) Option {
	return func(c *pipelineConfig) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithUnknownMessageHandler sets the hook called for messages no route
// accepts. The default logs a warning and continues.
func WithUnknownMessageHandler(fn func(Envelope)) Option {
	return func(c *pipelineConfig) {
		c.unknown = fn
	}
}

// WithConfig applies settings from a loaded configuration. Recognised keys:
// name, queue_length, pool_size, pool_queue_length, max_depth,
// shutdown_poll_interval, metrics and tracing. Missing keys keep the
// current value.
func WithConfig(cfg config.Config) Option {
	return func(c *pipelineConfig) {
		c.name = cfg.String("name", c.name)
		WithDefaultQueueLength(cfg.Int("queue_length", c.queueLength))(c)
		WithPoolSize(cfg.Int("pool_size", c.poolSize))(c)
		WithPoolQueueLength(cfg.Int("pool_queue_length", c.poolQueueLength))(c)
		WithMaxDepth(cfg.Int("max_depth", c.maxDepth))(c)
		WithShutdownPollInterval(cfg.Duration("shutdown_poll_interval", c.pollInterval))(c)
		if cfg.Bool("metrics", false) {
			WithMetrics()(c)
		}
		if cfg.Bool("tracing", false) {
			WithTracing()(c)
		}
	}
}
