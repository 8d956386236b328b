package typeflow

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// None is the output type of an invocation that returns nothing but waits
// for its work to finish.
type None struct{}

// Result is the outcome of an asynchronous invocation.
type Result[T any] struct {
	Value T
	Err   error
}

type invocationDecl struct {
	name string
	in   reflect.Type
	sink *receiver // nil when Out is None
}

// resultSink is stored on an invocation's Context and keeps the first
// output emitted within it.
type resultSink[T any] struct {
	mu    sync.Mutex
	value T
	set   bool
}

func (s *resultSink[T]) offer(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		s.value, s.set = v, true
	}
}

func (s *resultSink[T]) get() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.set
}

// Invocation is a synchronous entry point into a pipeline: it emits an In
// from the pipeline itself and returns the first Out emitted in response.
type Invocation[In, Out any] struct {
	p *Pipeline
}

// AsyncInvocation is an entry point whose calls run on the pipeline's pool.
type AsyncInvocation[In, Out any] struct {
	p *Pipeline
}

// IsInvokedBy declares an entry point taking In and producing Out. Use None
// as Out to wait for completion without a result. Initialize reports
// ErrBlackHoleInvocation if nothing receives In or nothing emits Out.
func IsInvokedBy[In, Out any](p *Pipeline) *Invocation[In, Out] {
	declareInvocation[In, Out](p, "invoke")
	return &Invocation[In, Out]{p: p}
}

// IsInvokedAsyncBy is IsInvokedBy for callers that must not block.
func IsInvokedAsyncBy[In, Out any](p *Pipeline) *AsyncInvocation[In, Out] {
	declareInvocation[In, Out](p, "invoke-async")
	return &AsyncInvocation[In, Out]{p: p}
}

func declareInvocation[In, Out any](p *Pipeline, kind string) {
	in, out := reflect.TypeFor[In](), reflect.TypeFor[Out]()
	decl := invocationDecl{
		name: fmt.Sprintf("%s(%s) %s", kind, typeName(in), typeName(out)),
		in:   in,
	}
	if out != reflect.TypeFor[None]() {
		decl.sink = &receiver{
			typ: out,
			handle: func(env Envelope) error {
				if s, ok := Adjunct[*resultSink[Out]](env.Context()); ok {
					s.offer(viewAs[Out](env).Payload())
				}
				return nil
			},
		}
	}

	p.declMu.Lock()
	defer p.declMu.Unlock()
	p.checkDeclarable()
	p.invocations = append(p.invocations, decl)
}

// Invoke emits in within a new Context derived from ctx, waits for that
// Context to go idle, and returns the first Out emitted within it.
// It returns ErrNoResult if no Out was emitted.
func (inv *Invocation[In, Out]) Invoke(ctx context.Context, in In) (Out, error) {
	return invoke[In, Out](ctx, inv.p, in, nil)
}

// InvokeAsync runs the root delivery of in on the pipeline's pool and
// reports the outcome on the returned channel, which receives exactly once.
func (inv *AsyncInvocation[In, Out]) InvokeAsync(ctx context.Context, in In) <-chan Result[Out] {
	ch := make(chan Result[Out], 1)
	p := inv.p
	p.inFlight.Add(1)
	go func() {
		defer p.inFlight.Add(-1)
		v, err := invoke[In, Out](ctx, p, in, func(route func() error) error {
			done := make(chan error, 1)
			if err := p.pool.Submit(ctx, func() { done <- route() }, func(err error) { done <- err }); err != nil {
				return err
			}
			return <-done
		})
		ch <- Result[Out]{Value: v, Err: err}
	}()
	return ch
}

// invoke runs one invocation. run, if non-nil, decides where the root
// route call executes.
func invoke[In, Out any](ctx context.Context, p *Pipeline, in In, run func(func() error) error) (Out, error) {
	var zero Out
	wantsResult := reflect.TypeFor[Out]() != reflect.TypeFor[None]()

	c := p.newContext(ctx)
	defer c.Close()

	sink := &resultSink[Out]{}
	if wantsResult {
		if err := StoreAdjunct(c, sink); err != nil {
			return zero, err
		}
	}

	route := func() error {
		return p.route(newMessage(in, nil, c, nil), false)
	}
	var err error
	if run != nil {
		err = run(route)
	} else {
		err = route()
	}
	if err != nil {
		c.Fault(err)
		return zero, err
	}

	if err := c.WaitIdle(ctx); err != nil {
		return zero, err
	}
	if !wantsResult {
		c.Complete()
		return zero, nil
	}
	v, ok := sink.get()
	if !ok {
		c.Cancel(ErrNoResult)
		return zero, ErrNoResult
	}
	c.Complete()
	return v, nil
}
