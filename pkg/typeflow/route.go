package typeflow

import (
	"reflect"
	"time"

	"golang.org/x/time/rate"

	"github.com/randalmurphal/typeflow/pkg/typeflow/retry"
)

// Route is a declared edge between two constructed components. It becomes
// one or more conduits during Initialize.
type Route struct {
	from    *stubRecord
	to      *stubRecord
	msgType reflect.Type // nil for a generic route
	private bool
	cfg     conduitConfig
	matched int
	proto   *conduit
}

// HasPrivateChannel keeps message taps off the slots this route feeds.
func (r *Route) HasPrivateChannel() *Route {
	r.from.pipeline.checkDeclarable()
	r.private = true
	return r
}

// IsPrivate reports whether HasPrivateChannel was called.
func (r *Route) IsPrivate() bool {
	return r.private
}

// RouteBuilder is the typed half of a route declaration.
type RouteBuilder[T any] struct {
	from *stubRecord
}

// SendsMessage starts a route that carries messages of type T, or of any
// emitted type assignable to T, from the given component.
func SendsMessage[T any](from Ref) *RouteBuilder[T] {
	return &RouteBuilder[T]{from: from.record()}
}

// To completes the route.
func (b *RouteBuilder[T]) To(to Ref, opts ...ConduitOption) *Route {
	return b.from.pipeline.declareRoute(b.from, to, reflect.TypeFor[T](), opts)
}

type deliveryMode int

const (
	modeInline deliveryMode = iota
	modeOrdered
	modePooled
)

func (m deliveryMode) String() string {
	switch m {
	case modeOrdered:
		return "ordered"
	case modePooled:
		return "pooled"
	default:
		return "inline"
	}
}

// conduitConfig is the delivery policy of one route, tap or invocation.
type conduitConfig struct {
	mode        deliveryMode
	wait        bool
	queueLength int
	maxInFlight int
	rateLimit   rate.Limit
	burst       int
	retry       *retry.Config
}

// ConduitOption configures how a route delivers messages.
type ConduitOption func(*conduitConfig)

// Inline delivers on the emitting goroutine. This is the default.
func Inline() ConduitOption {
	return func(c *conduitConfig) {
		c.mode = modeInline
	}
}

// Ordered delivers through a dedicated worker queue per target instance,
// preserving emission order.
func Ordered() ConduitOption {
	return func(c *conduitConfig) {
		c.mode = modeOrdered
	}
}

// Pooled delivers on the pipeline's shared worker pool with no ordering.
func Pooled() ConduitOption {
	return func(c *conduitConfig) {
		c.mode = modePooled
	}
}

// WaitForCompletion makes an ordered or pooled route block the emitter
// until the receiver returns, and report its error.
func WaitForCompletion() ConduitOption {
	return func(c *conduitConfig) {
		c.wait = true
	}
}

// WithQueueLength bounds the target's worker queue on an ordered route.
// The first route to create a target's queue decides its length.
// Default: the pipeline's default queue length
func WithQueueLength(n int) ConduitOption {
	return func(c *conduitConfig) {
		if n > 0 {
			c.queueLength = n
		}
	}
}

// WithMaxInFlight caps how many deliveries on the route may be outstanding
// at once. Emitters block while the cap is reached.
func WithMaxInFlight(n int) ConduitOption {
	return func(c *conduitConfig) {
		if n > 0 {
			c.maxInFlight = n
		}
	}
}

// WithRateLimit limits deliveries on the route to limit per second with
// the given burst. Emitters block until a token is available.
func WithRateLimit(limit rate.Limit, burst int) ConduitOption {
	return func(c *conduitConfig) {
		c.rateLimit = limit
		c.burst = max(burst, 1)
	}
}

// WithRateInterval is WithRateLimit expressed as one delivery per interval.
func WithRateInterval(every time.Duration, burst int) ConduitOption {
	return WithRateLimit(rate.Every(every), burst)
}

// WithRetry re-runs failed deliveries according to cfg. Panics are never retried.
func WithRetry(cfg retry.Config) ConduitOption {
	return func(c *conduitConfig) {
		c.retry = &cfg
	}
}

func newConduitConfig(opts []ConduitOption) conduitConfig {
	var cfg conduitConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
