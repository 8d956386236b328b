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

	"github.com/randalmurphal/typeflow/pkg/typeflow/completion"
	"github.com/randalmurphal/typeflow/pkg/typeflow/registry"
)

// Context carries the state of one logical operation across every message
// it spawns.
//
// It is a context.Context: Done closes when the Context is cancelled,
// faulted or closed. It is also a completion.Source, so an operation can be
// settled exactly once as completed, cancelled or faulted.
//
// Two counters track liveness. The in-flight counter follows messages being
// routed or waiting in an asynchronous conduit; the hold counter is raised by
// Hold for work the pipeline cannot see. The Context is idle when both are zero.
type Context struct {
	context.Context
	cancel context.CancelCauseFunc

	id           string
	logger       *slog.Logger
	pollInterval time.Duration

	inFlight atomic.Int64
	holds    atomic.Int64

	adjuncts *registry.Registry[reflect.Type, any]

	mu         sync.Mutex
	state      contextState
	reason     error
	onComplete []func()
	onCancel   []func(error)
	onFault    []func(error)

	closeOnce sync.Once
}

var _ completion.Source = (*Context)(nil)

type contextState int

const (
	statePending contextState = iota
	stateCompleted
	stateCancelled
	stateFaulted
)

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithContextLogger sets the logger. The Context adds its ID to it.
// Default: slog.Default()
func WithContextLogger(logger *slog.Logger) ContextOption {
	return func(c *Context) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithContextID sets the Context ID. Default: a random UUID.
func WithContextID(id string) ContextOption {
	return func(c *Context) {
		if id != "" {
			c.id = id
		}
	}
}

// WithIdlePollInterval sets how often WaitIdle checks the counters.
// Default: 1ms
func WithIdlePollInterval(d time.Duration) ContextOption {
	return func(c *Context) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// NewContext creates a pending Context derived from parent.
// A nil parent is treated as context.Background().
func NewContext(parent context.Context, opts ...ContextOption) *Context {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)
	c := &Context{
		Context:      ctx,
		cancel:       cancel,
		id:           uuid.NewString(),
		logger:       slog.Default(),
		pollInterval: time.Millisecond,
		adjuncts:     registry.New[reflect.Type, any](),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("context_id", c.id))
	return c
}

// ID returns the Context's identifier.
func (c *Context) ID() string {
	return c.id
}

// Logger returns a logger carrying the Context ID.
func (c *Context) Logger() *slog.Logger {
	return c.logger
}

// InFlight returns the number of messages currently tracked.
func (c *Context) InFlight() int64 {
	return c.inFlight.Load()
}

// Holds returns the number of outstanding holds.
func (c *Context) Holds() int64 {
	return c.holds.Load()
}

// IsIdle reports whether no message is in flight and no hold is outstanding.
func (c *Context) IsIdle() bool {
	return c.inFlight.Load() == 0 && c.holds.Load() == 0
}

// Hold keeps the Context from being idle until the returned release
// function is called. Calling release more than once has no effect.
func (c *Context) Hold() (release func()) {
	c.holds.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { c.decrement(&c.holds) })
	}
}

func (c *Context) enter() {
	c.inFlight.Add(1)
}

func (c *Context) leave() {
	c.decrement(&c.inFlight)
}

// decrement lowers counter unless that would make it negative, in which
// case the Context is faulted instead.
func (c *Context) decrement(counter *atomic.Int64) {
	for {
		n := counter.Load()
		if n <= 0 {
			c.Fault(ErrCounterUnderflow)
			return
		}
		if counter.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// WaitIdle blocks until the Context is idle.
//
// It returns early with the Context's reason if it is cancelled or faulted,
// or with ctx's error if ctx ends first.
func (c *Context) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		if err := c.settledReason(); err != nil {
			return err
		}
		if c.IsIdle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Context) settledReason() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateCancelled || c.state == stateFaulted {
		return c.reason
	}
	return nil
}

// OnComplete registers fn to run when the Context completes.
// If it already has, fn runs immediately.
func (c *Context) OnComplete(fn func()) {
	c.mu.Lock()
	switch c.state {
	case statePending:
		c.onComplete = append(c.onComplete, fn)
		c.mu.Unlock()
	case stateCompleted:
		c.mu.Unlock()
		fn()
	default:
		c.mu.Unlock()
	}
}

// OnCancel registers fn to run when the Context is cancelled.
// If it already was, fn runs immediately with the reason.
func (c *Context) OnCancel(fn func(reason error)) {
	c.mu.Lock()
	switch c.state {
	case statePending:
		c.onCancel = append(c.onCancel, fn)
		c.mu.Unlock()
	case stateCancelled:
		reason := c.reason
		c.mu.Unlock()
		fn(reason)
	default:
		c.mu.Unlock()
	}
}

// OnFault registers fn to run when the Context faults.
// If it already has, fn runs immediately with the error.
func (c *Context) OnFault(fn func(err error)) {
	c.mu.Lock()
	switch c.state {
	case statePending:
		c.onFault = append(c.onFault, fn)
		c.mu.Unlock()
	case stateFaulted:
		reason := c.reason
		c.mu.Unlock()
		fn(reason)
	default:
		c.mu.Unlock()
	}
}

// settle moves a pending Context to state and detaches the registered
// callbacks. It reports false, changing nothing, if the Context was already
// settled.
func (c *Context) settle(state contextState, reason error) (callbacks settleCallbacks, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != statePending {
		return callbacks, false
	}
	c.state = state
	c.reason = reason
	callbacks = settleCallbacks{c.onComplete, c.onCancel, c.onFault}
	c.onComplete, c.onCancel, c.onFault = nil, nil, nil
	return callbacks, true
}

type settleCallbacks struct {
	complete []func()
	cancel   []func(error)
	fault    []func(error)
}

// Complete marks the Context completed and runs OnComplete callbacks.
// Later calls to Complete, Cancel or Fault have no effect.
func (c *Context) Complete() {
	callbacks, ok := c.settle(stateCompleted, nil)
	if !ok {
		return
	}
	for _, fn := range callbacks.complete {
		fn()
	}
}

// Cancel marks the Context cancelled, runs OnCancel callbacks, cancels every
// Cancellable adjunct and cancels the embedded context.Context.
// A nil reason is recorded as context.Canceled.
func (c *Context) Cancel(reason error) {
	if reason == nil {
		reason = context.Canceled
	}
	callbacks, ok := c.settle(stateCancelled, reason)
	if !ok {
		return
	}
	for _, fn := range callbacks.cancel {
		fn(reason)
	}
	c.cascade(reason)
	c.cancel(reason)
}

// Fault marks the Context faulted with err, runs OnFault callbacks, cancels
// every Cancellable adjunct and cancels the embedded context.Context.
func (c *Context) Fault(err error) {
	if err == nil {
		err = errors.New("context faulted")
	}
	callbacks, ok := c.settle(stateFaulted, err)
	if !ok {
		return
	}
	c.logger.Debug("context faulted", slog.String("error", err.Error()))
	for _, fn := range callbacks.fault {
		fn(err)
	}
	c.cascade(err)
	c.cancel(err)
}

func (c *Context) cascade(reason error) {
	c.adjuncts.Range(func(_ reflect.Type, v any) bool {
		if cc, ok := v.(Cancellable); ok {
			cc.Cancel(reason)
		}
		return true
	})
}

// IsCompleted reports whether Complete settled the Context.
func (c *Context) IsCompleted() bool {
	return c.is(stateCompleted)
}

// IsCancelled reports whether Cancel settled the Context.
func (c *Context) IsCancelled() bool {
	return c.is(stateCancelled)
}

// IsFaulted reports whether Fault settled the Context.
func (c *Context) IsFaulted() bool {
	return c.is(stateFaulted)
}

func (c *Context) is(state contextState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == state
}

// Reason returns the cancellation reason or fault error, or nil.
func (c *Context) Reason() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Close disposes every io.Closer adjunct and cancels the embedded
// context.Context. It returns the joined Close errors; later calls return nil.
func (c *Context) Close() error {
	var err error
	c.closeOnce.Do(func() {
		var errs []error
		for _, v := range c.adjuncts.Values() {
			if closer, ok := v.(io.Closer); ok {
				if cerr := closer.Close(); cerr != nil {
					errs = append(errs, cerr)
				}
			}
		}
		err = errors.Join(errs...)
		c.cancel(context.Canceled)
	})
	return err
}
