package typeflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/typeflow/pkg/typeflow/observability"
	"github.com/randalmurphal/typeflow/pkg/typeflow/registry"
	"github.com/randalmurphal/typeflow/pkg/typeflow/workqueue"
)

// rootSender keys the slot used for pipeline-level emissions: invocations,
// Send, and the fallback for message types a sender never declared.
var rootSender = reflect.TypeFor[*Pipeline]()

// slot maps a message type to the conduits receiving it from one sender.
type slot map[reflect.Type][]*conduit

// Pipeline owns a set of components, the routing table between them, and
// the workers that deliver off the emitting goroutine.
//
// Declare components, routes, taps and invocations, then call Initialize:
//
//	p := typeflow.New("arithmetic")
//	add := typeflow.Constructs(p, NewAdder)
//	mul := typeflow.Constructs(p, NewMultiplier)
//	typeflow.SendsMessage[int](add).To(mul)
//	calc := typeflow.IsInvokedBy[int, string](p)
//	if err := p.Initialize(); err != nil {
//	    return err
//	}
//	defer p.Close()
//	answer, err := calc.Invoke(ctx, 2)
//
// Declaring after Initialize panics. The routing table is read-only once
// built, so routing needs no locks.
type Pipeline struct {
	name    string
	id      string
	cfg     pipelineConfig
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager

	declMu      sync.Mutex
	sealed      atomic.Bool // Initialize has been called
	ready       atomic.Bool // Initialize succeeded
	stubs       []*stubRecord
	routes      []*Route
	taps        []tapDecl
	invocations []invocationDecl

	table     map[reflect.Type]slot
	private   map[slotKey]bool
	observers []*conduit
	fallbacks sync.Map // fallbackKey -> fallbackEntry
	conduits  int

	queues *registry.Registry[any, *workqueue.Queue]
	pool   *workqueue.Pool

	inFlight   atomic.Int64
	terminated atomic.Bool
	faultMu    sync.Mutex
	fault      error
	suppress   atomic.Pointer[func(error) bool]

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
	lifetime  context.Context // ends when the pipeline is closed
	endLife   context.CancelFunc
}

// New creates an empty pipeline.
func New(name string, opts ...Option) *Pipeline {
	cfg := defaultPipelineConfig(name)
	for _, opt := range opts {
		opt(&cfg)
	}

	poolOpts := []workqueue.PoolOption{workqueue.WithPoolLogger(cfg.logger)}
	if cfg.poolQueueLength > 0 {
		poolOpts = append(poolOpts, workqueue.WithQueueLength(cfg.poolQueueLength))
	}

	id := uuid.NewString()
	lifetime, endLife := context.WithCancel(context.Background())
	return &Pipeline{
		name:     cfg.name,
		id:       id,
		cfg:      cfg,
		logger:   cfg.logger.With(slog.String("pipeline_id", id)),
		metrics:  cfg.metrics,
		spans:    cfg.spans,
		table:    make(map[reflect.Type]slot),
		queues:   registry.New[any, *workqueue.Queue](),
		pool:     workqueue.NewPool(cfg.poolSize, poolOpts...),
		closed:   make(chan struct{}),
		lifetime: lifetime,
		endLife:  endLife,
	}
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string {
	return p.name
}

// ID returns the pipeline instance ID.
func (p *Pipeline) ID() string {
	return p.id
}

// Logger returns the pipeline logger.
func (p *Pipeline) Logger() *slog.Logger {
	return p.logger
}

func (p *Pipeline) checkDeclarable() {
	if p.sealed.Load() {
		panic("typeflow: pipeline already initialized")
	}
}

func (p *Pipeline) declareStub(rec *stubRecord) {
	p.declMu.Lock()
	defer p.declMu.Unlock()
	p.checkDeclarable()
	p.stubs = append(p.stubs, rec)
}

func (p *Pipeline) declareRoute(from *stubRecord, to Ref, msgType reflect.Type, opts []ConduitOption) *Route {
	target := to.record()
	if from.pipeline != p || target.pipeline != p {
		panic("typeflow: route endpoints belong to different pipelines")
	}
	p.declMu.Lock()
	defer p.declMu.Unlock()
	p.checkDeclarable()
	r := &Route{from: from, to: target, msgType: msgType, cfg: newConduitConfig(opts)}
	p.routes = append(p.routes, r)
	return r
}

// SuppressExceptions installs handler to decide which delivery faults are
// swallowed. A fault for which handler returns true is logged and dropped;
// any other fault terminates the pipeline.
func (p *Pipeline) SuppressExceptions(handler func(err error) bool) {
	if handler == nil {
		p.suppress.Store(nil)
		return
	}
	p.suppress.Store(&handler)
}

// InFlight returns the number of routing calls and asynchronous deliveries
// in progress.
func (p *Pipeline) InFlight() int64 {
	return p.inFlight.Load()
}

// IsTerminated reports whether the pipeline was closed or faulted.
func (p *Pipeline) IsTerminated() bool {
	return p.terminated.Load()
}

// Fault returns the fault that terminated the pipeline, or nil.
func (p *Pipeline) Fault() error {
	p.faultMu.Lock()
	defer p.faultMu.Unlock()
	return p.fault
}

// Done returns a channel closed once the pipeline has been disposed.
func (p *Pipeline) Done() <-chan struct{} {
	return p.closed
}

func (p *Pipeline) track(msg Envelope) {
	p.inFlight.Add(1)
	msg.Context().enter()
}

func (p *Pipeline) untrack(msg Envelope) {
	msg.Context().leave()
	p.inFlight.Add(-1)
}

// queueFor returns the worker queue of the receiver's component instance,
// creating it on first use.
func (p *Pipeline) queueFor(recv *receiver, length int) *workqueue.Queue {
	var key any = recv
	if recv.owner != nil {
		key = recv.owner
	}
	if length <= 0 {
		length = p.cfg.queueLength
	}
	return p.queues.GetOrCreate(key, func() *workqueue.Queue {
		return workqueue.New(
			workqueue.WithMaxLength(length),
			workqueue.WithLogger(p.logger),
			workqueue.WithPollInterval(p.cfg.pollInterval),
		)
	})
}

// escalate offers a delivery failure to the exception handler. It returns
// nil if the failure was suppressed; otherwise the pipeline is terminated
// and err is returned marked as escalated.
func (p *Pipeline) escalate(msg Envelope, err error) error {
	if alreadyEscalated(err) {
		return err
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		de.escalated = true
		observability.LogDeliveryError(p.logger, de.Target, de.MessageType, de.Err)
	}

	if h := p.suppress.Load(); h != nil && (*h)(err) {
		observability.LogFaultSuppressed(p.logger, p.name, err)
		p.metrics.RecordFault(msg.Context(), p.name, true)
		return nil
	}

	p.metrics.RecordFault(msg.Context(), p.name, false)
	p.terminate(err)
	msg.Context().Fault(err)
	return err
}

// terminate records err as the terminal fault and disposes the pipeline in
// the background, since the caller may be one of the workers being stopped.
func (p *Pipeline) terminate(err error) {
	p.faultMu.Lock()
	first := p.fault == nil
	if first {
		p.fault = err
	}
	p.faultMu.Unlock()

	p.terminated.Store(true)
	if first {
		observability.LogPipelineTerminated(p.logger, p.name, err)
		go func() { _ = p.Close() }()
	}
}

// Shutdown waits for routing and asynchronous deliveries to drain, then
// stops every worker and closes the pipeline. If ctx ends first the
// pipeline is closed anyway and ctx's error returned.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	done := observability.TimedOperation()
	ticker := time.NewTicker(p.cfg.pollInterval)
	defer ticker.Stop()

	var err error
drain:
	for p.inFlight.Load() > 0 {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break drain
		case <-ticker.C:
		}
	}

	if err == nil {
		for _, q := range p.queues.Values() {
			if qerr := q.Shutdown(ctx); qerr != nil {
				err = qerr
				break
			}
		}
	}

	err = errors.Join(err, p.Close())
	observability.LogShutdown(p.logger, p.name, done(), err)
	return err
}

// Close terminates the pipeline immediately: queued deliveries are dropped,
// workers are stopped and components implementing io.Closer are closed.
// It must not be called from inside a receiver.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.terminated.Store(true)
		for _, q := range p.queues.Values() {
			q.Stop()
		}
		p.pool.Stop()

		var errs []error
		for _, rec := range p.stubs {
			for _, c := range rec.instances {
				if closer, ok := c.(io.Closer); ok {
					if err := closer.Close(); err != nil {
						errs = append(errs, err)
					}
				}
			}
		}
		p.closeErr = errors.Join(errs...)
		p.endLife()
		close(p.closed)
	})
	<-p.closed
	return p.closeErr
}

// closeWhenIdle closes a Context the pipeline created for a single
// emission once nothing is in flight within it, or when the pipeline closes.
func (p *Pipeline) closeWhenIdle(c *Context) {
	if c.IsIdle() {
		_ = c.Close()
		return
	}
	go func() {
		_ = c.WaitIdle(p.lifetime)
		_ = c.Close()
	}()
}

func (p *Pipeline) newContext(parent context.Context) *Context {
	return NewContext(parent, WithContextLogger(p.logger), WithIdlePollInterval(p.cfg.pollInterval))
}
