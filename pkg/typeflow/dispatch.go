package typeflow

import (
	"context"
	"reflect"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/typeflow/pkg/typeflow/observability"
)

type fallbackKey struct {
	sender  reflect.Type
	message reflect.Type
}

type fallbackEntry struct {
	targets []*conduit
	err     error
}

func senderType(msg Envelope) reflect.Type {
	if s := msg.Sender(); s != nil {
		return reflect.TypeOf(s)
	}
	return rootSender
}

func senderName(msg Envelope) string {
	if s := msg.Sender(); s != nil {
		return typeName(reflect.TypeOf(s))
	}
	return "pipeline"
}

// route dispatches msg to every target resolved for its sender and type.
//
// One target is called directly; several are called concurrently and
// awaited. A receiver failure is escalated: suppressed failures are
// dropped, anything else terminates the pipeline and is returned.
func (p *Pipeline) route(msg Envelope, wait bool) error {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	c := msg.Context()
	c.enter()
	defer c.leave()

	if !p.ready.Load() {
		return &RouteError{Sender: senderName(msg), MessageType: typeName(msg.Type()), Err: ErrNotInitialized}
	}
	if p.terminated.Load() {
		return &RouteError{Sender: senderName(msg), MessageType: typeName(msg.Type()), Err: ErrPipelineTerminated}
	}
	if msg.Depth() > p.cfg.maxDepth {
		return &RouteError{Sender: senderName(msg), MessageType: typeName(msg.Type()), Err: ErrMaxDepthExceeded}
	}

	sender, x := senderType(msg), msg.Type()
	ctx, span := p.spans.StartRouteSpan(c, p.name, typeName(x), msg.Depth())

	targets, ok := p.table[sender][x]
	if !ok {
		var err error
		targets, err = p.fallback(sender, x)
		if err != nil {
			err = &RouteError{Sender: senderName(msg), MessageType: typeName(x), Err: err}
			p.spans.EndSpanWithError(span, err)
			return err
		}
	}
	p.metrics.RecordRoute(ctx, p.name, typeName(x), len(targets))

	var err error
	switch len(targets) {
	case 0:
		err = p.unroutable(ctx, msg)
	case 1:
		err = p.deliverTo(ctx, targets[0], msg, wait)
	default:
		var g errgroup.Group
		for _, t := range targets {
			g.Go(func() error {
				return p.deliverTo(ctx, t, msg, wait)
			})
		}
		err = g.Wait()
	}
	p.spans.EndSpanWithError(span, err)
	return err
}

// fallback resolves targets for a message type the sender has no slot
// entry for. Results are cached; the routing table itself never changes.
func (p *Pipeline) fallback(sender, x reflect.Type) ([]*conduit, error) {
	key := fallbackKey{sender: sender, message: x}
	if v, ok := p.fallbacks.Load(key); ok {
		e := v.(fallbackEntry)
		return e.targets, e.err
	}
	targets, err := p.broadcastTargets(sender, x)
	v, _ := p.fallbacks.LoadOrStore(key, fallbackEntry{targets: targets, err: err})
	e := v.(fallbackEntry)
	return e.targets, e.err
}

func (p *Pipeline) deliverTo(ctx context.Context, c *conduit, msg Envelope, wait bool) error {
	err := c.deliver(ctx, msg, wait)
	if err == nil {
		return nil
	}
	if _, ok := err.(*DeliveryError); ok {
		return p.escalate(msg, err)
	}
	return err
}

// unroutable handles a message with no targets. Error payloads are
// escalated like a receiver failure; anything else goes to the
// unknown-message hook.
func (p *Pipeline) unroutable(ctx context.Context, msg Envelope) error {
	if e, ok := msg.Data().(error); ok && e != nil {
		return p.escalate(msg, &DeliveryError{MessageType: typeName(msg.Type()), Err: e})
	}
	p.metrics.RecordUnknown(ctx, p.name, typeName(msg.Type()))
	if p.cfg.unknown != nil {
		p.cfg.unknown(msg)
		return nil
	}
	observability.LogRouteUnknown(p.logger, p.name, senderName(msg), typeName(msg.Type()))
	return nil
}
