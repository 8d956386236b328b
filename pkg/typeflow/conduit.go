package typeflow

import (
	"context"
	"reflect"
	"runtime/debug"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/randalmurphal/typeflow/pkg/typeflow/completion"
	"github.com/randalmurphal/typeflow/pkg/typeflow/retry"
)

type conduitKind int

const (
	kindComponent conduitKind = iota
	kindTap
	kindSink
)

// conduit delivers messages to one resolved target. A manifold target has
// one receiver per instance; deliveries rotate through them.
type conduit struct {
	p         *Pipeline
	name      string
	kind      conduitKind
	target    reflect.Type // component type; nil for taps and sinks
	accepts   reflect.Type
	receivers []*receiver
	next      atomic.Uint64
	cfg       conduitConfig

	// Shared by every clone of one declared route.
	limiter  *rate.Limiter
	throttle *completion.Buffer[Envelope]
}

func (p *Pipeline) newConduit(name string, kind conduitKind, receivers []*receiver, cfg conduitConfig) *conduit {
	c := &conduit{
		p:         p,
		name:      name,
		kind:      kind,
		accepts:   receivers[0].typ,
		receivers: receivers,
		cfg:       cfg,
	}
	if kind == kindComponent {
		c.target = reflect.TypeOf(receivers[0].owner)
	}
	if cfg.rateLimit > 0 {
		c.limiter = rate.NewLimiter(cfg.rateLimit, cfg.burst)
	}
	if cfg.maxInFlight > 0 {
		c.throttle = completion.New[Envelope](completion.WithMaxItems(cfg.maxInFlight))
	}
	if cfg.retry != nil && cfg.retry.Retryable != nil {
		user := cfg.retry.Retryable
		rc := *cfg.retry
		rc.Retryable = func(err error) bool {
			return !retry.IsPermanent(err) && user(err)
		}
		c.cfg.retry = &rc
	}
	return c
}

// clone returns a conduit with the same policy, limiter and throttle that
// delivers to different receivers.
func (c *conduit) clone(receivers []*receiver) *conduit {
	return &conduit{
		p:         c.p,
		name:      c.name,
		kind:      c.kind,
		target:    c.target,
		accepts:   receivers[0].typ,
		receivers: receivers,
		cfg:       c.cfg,
		limiter:   c.limiter,
		throttle:  c.throttle,
	}
}

func (c *conduit) pick() *receiver {
	if len(c.receivers) == 1 {
		return c.receivers[0]
	}
	n := c.next.Add(1) - 1
	return c.receivers[n%uint64(len(c.receivers))]
}

// deliver hands msg to the conduit's target under its policy. wait forces
// asynchronous policies to block until the receiver returns. ctx derives
// from the message's Context and carries the route span.
func (c *conduit) deliver(ctx context.Context, msg Envelope, wait bool) error {
	recv := c.pick()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return c.dispatchError(msg, err)
		}
	}

	settle := func(error) {}
	if c.throttle != nil {
		slot, err := c.throttle.Add(ctx, msg)
		if err != nil {
			return c.dispatchError(msg, err)
		}
		settle = func(err error) {
			if err != nil {
				slot.Fault(err)
				return
			}
			slot.Complete()
		}
	}

	switch c.cfg.mode {
	case modeOrdered:
		q := c.p.queueFor(recv, c.cfg.queueLength)
		return c.dispatchAsync(ctx, msg, recv, wait || c.cfg.wait, settle, q.Enqueue)
	case modePooled:
		return c.dispatchAsync(ctx, msg, recv, wait || c.cfg.wait, settle, c.p.pool.Submit)
	default:
		err := c.invoke(ctx, recv, msg)
		settle(err)
		return err
	}
}

type submitFunc func(ctx context.Context, run func(), drop func(error)) error

func (c *conduit) dispatchAsync(ctx context.Context, msg Envelope, recv *receiver, wait bool, settle func(error), submit submitFunc) error {

	if wait {
		done := make(chan error, 1)
		run := func() {
			err := c.invoke(ctx, recv, msg)
			settle(err)
			done <- err
		}
		drop := func(err error) {
			settle(err)
			done <- c.dispatchError(msg, err)
		}
		if err := submit(ctx, run, drop); err != nil {
			settle(err)
			return c.dispatchError(msg, err)
		}
		return <-done
	}

	// The delivery outlives this call: keep the pipeline and the message's
	// Context busy until it runs or is dropped.
	c.p.track(msg)
	run := func() {
		defer c.p.untrack(msg)
		err := c.invoke(ctx, recv, msg)
		settle(err)
		if err != nil {
			_ = c.p.escalate(msg, err)
		}
	}
	drop := func(err error) {
		defer c.p.untrack(msg)
		settle(err)
		msg.Context().Cancel(err)
	}
	if err := submit(ctx, run, drop); err != nil {
		c.p.untrack(msg)
		settle(err)
		return c.dispatchError(msg, err)
	}
	return nil
}

// invoke runs the receiver with retries, metrics and tracing. A failure is
// returned as a *DeliveryError.
func (c *conduit) invoke(ctx context.Context, recv *receiver, msg Envelope) error {
	ctx, span := c.p.spans.StartDeliverySpan(ctx, c.name)
	start := time.Now()

	var err error
	if c.cfg.retry != nil {
		err = retry.Do(ctx, *c.cfg.retry, func(context.Context) error {
			return c.call(recv, msg)
		}).Err
	} else {
		err = c.call(recv, msg)
	}
	err = retry.StripPermanent(err)

	c.p.metrics.RecordDelivery(ctx, c.name, typeName(recv.typ), time.Since(start), err)
	c.p.spans.EndSpanWithError(span, err)
	if err == nil {
		return nil
	}
	return &DeliveryError{Target: c.name, MessageType: typeName(recv.typ), Err: err}
}

// call runs the handler, converting a panic into a permanent *PanicError.
// Failures already escalated by a nested route are permanent too.
func (c *conduit) call(recv *receiver, msg Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = retry.Permanent(&PanicError{Target: c.name, Value: r, Stack: string(debug.Stack())})
		}
	}()
	err = recv.handle(msg)
	if err != nil && alreadyEscalated(err) {
		return retry.Permanent(err)
	}
	return err
}

func (c *conduit) dispatchError(msg Envelope, err error) error {
	return &RouteError{Sender: senderName(msg), MessageType: typeName(msg.Type()), Err: err}
}
