package typeflow

import (
	"errors"
	"fmt"
	"reflect"
	"slices"

	"github.com/randalmurphal/typeflow/pkg/typeflow/observability"
)

// Initialize constructs every declared component, runs their Describe
// methods, and builds the routing table. All construction problems are
// returned together; a pipeline that fails to initialize cannot route.
//
// Steps:
//  1. Construct component instances from their factories.
//  2. Describe each instance and check manifolds agree.
//  3. Build one slot per sender type: every declared transmitter type maps
//     to the receivers it reaches, restricted by explicit routes.
//     Undeclared types resolve lazily at runtime.
//  4. Attach taps and invocation result sinks.
//  5. Build the root slot used for pipeline-level emissions.
//  6. Attach components to the pipeline.
func (p *Pipeline) Initialize() error {
	p.declMu.Lock()
	defer p.declMu.Unlock()
	if !p.sealed.CompareAndSwap(false, true) {
		return ErrAlreadyInitialized
	}

	var errs buildErrors
	p.construct(&errs)
	p.describe(&errs)
	if errs.empty() {
		p.buildSlots(&errs)
	}
	if errs.empty() {
		p.attachObservers(&errs)
	}
	if errs.empty() {
		p.buildRootSlot()
		p.checkInvocations(&errs)
	}
	if err := errs.join(); err != nil {
		p.terminated.Store(true)
		return err
	}

	for _, rec := range p.stubs {
		for i, c := range rec.instances {
			c.base().attached.Store(&attachment{
				pipeline: p,
				name:     rec.name,
				replica:  i,
				logger:   p.logger.With("pipeline", p.name, "component", rec.name, "replica", i),
			})
		}
	}

	for _, sl := range p.table {
		for _, targets := range sl {
			p.conduits += len(targets)
		}
	}
	p.ready.Store(true)
	observability.LogPipelineInitialized(p.logger, p.name, len(p.stubs), p.conduits)
	return nil
}

// buildErrors collects construction errors, dropping exact duplicates
// reported from several senders.
type buildErrors struct {
	seen map[string]bool
	errs []error
}

func (b *buildErrors) add(component, op string, err error) {
	e := &BuildError{Component: component, Op: op, Err: err}
	b.addErr(e)
}

func (b *buildErrors) addErr(err error) {
	if b.seen == nil {
		b.seen = make(map[string]bool)
	}
	if b.seen[err.Error()] {
		return
	}
	b.seen[err.Error()] = true
	b.errs = append(b.errs, err)
}

func (b *buildErrors) empty() bool {
	return len(b.errs) == 0
}

func (b *buildErrors) join() error {
	return errors.Join(b.errs...)
}

func isNilComponent(c Component) bool {
	if c == nil {
		return true
	}
	v := reflect.ValueOf(c)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

func (p *Pipeline) construct(errs *buildErrors) {
	seenTypes := make(map[reflect.Type]bool)
	seenInstances := make(map[Component]bool)

	for _, rec := range p.stubs {
		declared := typeName(rec.declared)
		if rec.factory == nil {
			errs.add(declared, "construct", ErrBlackHoleConstructor)
			continue
		}

		ok := true
		for i := 0; i < rec.size; i++ {
			c := rec.factory()
			switch {
			case isNilComponent(c):
				errs.add(declared, "construct", fmt.Errorf("%w: factory returned nil", ErrBlackHoleConstructor))
				ok = false
			case seenInstances[c] || c.base().attached.Load() != nil:
				errs.add(declared, "construct", fmt.Errorf("%w: factory returned an instance already in use", ErrReusedConstructor))
				ok = false
			}
			if !ok {
				break
			}
			seenInstances[c] = true
			rec.instances = append(rec.instances, c)
		}
		if !ok {
			rec.instances = nil
			continue
		}

		rec.typ = reflect.TypeOf(rec.instances[0])
		rec.name = typeName(rec.typ)
		for _, c := range rec.instances[1:] {
			if reflect.TypeOf(c) != rec.typ {
				errs.add(rec.name, "construct", fmt.Errorf("%w: instances of %s and %s", ErrManifoldShape, rec.name, typeName(reflect.TypeOf(c))))
			}
		}
		if seenTypes[rec.typ] {
			errs.add(rec.name, "construct", fmt.Errorf("%w: %s constructed twice", ErrReusedConstructor, rec.name))
			continue
		}
		seenTypes[rec.typ] = true
	}
}

func (p *Pipeline) describe(errs *buildErrors) {
	for _, rec := range p.stubs {
		for _, c := range rec.instances {
			d := newDescriber(c)
			c.Describe(d)
			for _, err := range d.finish() {
				errs.addErr(err)
			}
			rec.describers = append(rec.describers, d)
		}
		if len(rec.describers) < 2 {
			continue
		}
		first := rec.describers[0].shape()
		for _, d := range rec.describers[1:] {
			if !slices.Equal(first, d.shape()) {
				errs.add(rec.name, "describe", fmt.Errorf("%w: replicas declare different receivers or transmitters", ErrManifoldShape))
				break
			}
		}
	}
}

// constructed returns the stubs that produced instances.
func (p *Pipeline) constructed() []*stubRecord {
	out := make([]*stubRecord, 0, len(p.stubs))
	for _, rec := range p.stubs {
		if len(rec.describers) > 0 {
			out = append(out, rec)
		}
	}
	return out
}

// receiversFor returns, for every instance of rec, the receiver that
// accepts x. It returns nil if rec does not accept x.
func (rec *stubRecord) receiversFor(x reflect.Type) ([]*receiver, error) {
	out := make([]*receiver, 0, len(rec.describers))
	for _, d := range rec.describers {
		r, err := d.bestReceiver(x)
		if err != nil {
			return nil, err
		}
		if r == nil {
			return nil, nil
		}
		out = append(out, r)
	}
	return out, nil
}

// slotKey identifies one (sender type, message type) entry.
type slotKey struct {
	sender  reflect.Type
	message reflect.Type
}

func (p *Pipeline) buildSlots(errs *buildErrors) {
	p.private = make(map[slotKey]bool)

	for _, s := range p.constructed() {
		sl := make(slot)
		for _, x := range s.describers[0].emits {
			targets, private := p.senderTargets(s, x, true, func(component string, err error) {
				errs.add(component, "route", err)
			})
			// Declared types keep an entry even with no receiver so that
			// taps and invocation sinks can still attach to it.
			sl[x] = targets
			p.private[slotKey{s.typ, x}] = private
		}
		p.table[s.typ] = sl
	}

	for _, r := range p.routes {
		if r.matched == 0 && len(r.from.describers) > 0 && len(r.to.describers) > 0 {
			errs.add(routeName(r), "route", ErrUnderSpecifiedRoute)
		}
	}
}

// senderTargets resolves the component conduits carrying x from s. Explicit
// routes from s restrict the result to their targets; without any, x goes to
// every other component accepting it. private reports that every explicit
// route in the result is private. A nil s stands for the pipeline itself.
//
// While building, matched routes are counted. Problems go to report with the
// component they concern.
func (p *Pipeline) senderTargets(s *stubRecord, x reflect.Type, building bool, report func(component string, err error)) (targets []*conduit, private bool) {
	var explicit, implicit []*conduit
	privateRoutes := 0

	for _, d := range p.constructed() {
		recvs, err := d.receiversFor(x)
		if err != nil {
			report(d.name, err)
			continue
		}

		var chosen *Route
		if s != nil {
			if chosen, err = p.chooseRoute(s, d, x); err != nil {
				report(s.name, err)
				continue
			}
		}
		if recvs == nil {
			continue
		}
		if chosen != nil {
			if building {
				chosen.matched++
			}
			if chosen.private {
				privateRoutes++
			}
			explicit = append(explicit, chosen.conduitFor(p, recvs))
			continue
		}
		if d != s {
			implicit = append(implicit, p.newConduit(d.name, kindComponent, recvs, conduitConfig{}))
		}
	}

	if len(explicit) > 0 {
		return explicit, privateRoutes == len(explicit)
	}
	return implicit, false
}

// chooseRoute returns the explicit route from s to d that carries x, if
// any. A single typed route beats generic ones; two typed routes, or two
// generic ones, claiming the same pair is an error.
func (p *Pipeline) chooseRoute(s, d *stubRecord, x reflect.Type) (*Route, error) {
	var typed, generic []*Route
	for _, r := range p.routes {
		if r.from != s || r.to != d {
			continue
		}
		switch {
		case r.msgType == nil:
			generic = append(generic, r)
		case x.AssignableTo(r.msgType):
			typed = append(typed, r)
		}
	}
	switch {
	case len(typed) > 1:
		return nil, fmt.Errorf("%w: %d typed routes carry %s from %s to %s",
			ErrOverSpecifiedRoute, len(typed), typeName(x), s.name, d.name)
	case len(typed) == 1:
		return typed[0], nil
	case len(generic) > 1:
		return nil, fmt.Errorf("%w: %d generic routes from %s to %s",
			ErrOverSpecifiedRoute, len(generic), s.name, d.name)
	case len(generic) == 1:
		return generic[0], nil
	}
	return nil, nil
}

// conduitFor returns a conduit for this route delivering to recvs. Every
// conduit of one route shares its rate limiter and in-flight throttle.
func (r *Route) conduitFor(p *Pipeline, recvs []*receiver) *conduit {
	if r.proto == nil {
		r.proto = p.newConduit(r.to.name, kindComponent, recvs, r.cfg)
		return r.proto
	}
	return r.proto.clone(recvs)
}

func routeName(r *Route) string {
	from, to := typeName(r.from.typ), typeName(r.to.typ)
	if r.msgType == nil {
		return fmt.Sprintf("%s -> %s", from, to)
	}
	return fmt.Sprintf("%s -[%s]-> %s", from, typeName(r.msgType), to)
}

// attachObservers builds the tap and invocation sink conduits and adds them
// to every sender slot they can observe. Taps skip slots fed only by
// private routes; sinks must see every result.
func (p *Pipeline) attachObservers(errs *buildErrors) {
	for _, t := range p.taps {
		p.observers = append(p.observers, p.newConduit(t.name, kindTap, []*receiver{t.recv}, t.cfg))
	}
	for _, inv := range p.invocations {
		if inv.sink != nil {
			p.observers = append(p.observers, p.newConduit(inv.name, kindSink, []*receiver{inv.sink}, conduitConfig{}))
		}
	}

	for sender, sl := range p.table {
		for x, targets := range sl {
			private := p.private[slotKey{sender, x}]
			for _, o := range p.observers {
				if o.kind == kindTap && private {
					continue
				}
				if x.AssignableTo(o.accepts) {
					targets = append(targets, o)
				}
			}
			sl[x] = targets
		}
	}
}

// buildRootSlot precomputes pipeline-level targets for every type that a
// component receives, a tap observes, or an invocation sends.
func (p *Pipeline) buildRootSlot() {
	var keys []reflect.Type
	add := func(t reflect.Type) {
		if !slices.Contains(keys, t) {
			keys = append(keys, t)
		}
	}
	for _, rec := range p.constructed() {
		for _, r := range rec.describers[0].receivers {
			add(r.typ)
		}
	}
	for _, o := range p.observers {
		add(o.accepts)
	}
	for _, inv := range p.invocations {
		add(inv.in)
	}

	root := make(slot)
	for _, k := range keys {
		// Errors here resurface at runtime through the fallback.
		if targets, err := p.broadcastTargets(rootSender, k); err == nil && len(targets) > 0 {
			root[k] = targets
		}
	}
	p.table[rootSender] = root
}

// broadcastTargets computes the targets for a message type a sender has no
// slot entry for. Component targets follow the sender's routes as a
// declared type would. Taps observe it unless every route carrying it is
// private; invocation sinks observe it unless the pipeline itself sent it.
func (p *Pipeline) broadcastTargets(sender, x reflect.Type) ([]*conduit, error) {
	var first error
	targets, private := p.senderTargets(p.recordFor(sender), x, false, func(_ string, err error) {
		if first == nil {
			first = err
		}
	})
	if first != nil {
		return nil, first
	}

	for _, o := range p.observers {
		switch {
		case o.kind == kindTap && private:
		case o.kind == kindSink && sender == rootSender:
		case x.AssignableTo(o.accepts):
			targets = append(targets, o)
		}
	}
	return targets, nil
}

// recordFor returns the constructed stub whose instances have type typ,
// or nil for the pipeline itself.
func (p *Pipeline) recordFor(typ reflect.Type) *stubRecord {
	for _, rec := range p.constructed() {
		if rec.typ == typ {
			return rec
		}
	}
	return nil
}

func (p *Pipeline) checkInvocations(errs *buildErrors) {
	for _, inv := range p.invocations {
		targets, err := p.broadcastTargets(rootSender, inv.in)
		if err != nil {
			errs.add(inv.name, "invoke", err)
			continue
		}
		reaches := false
		for _, c := range targets {
			if c.kind == kindComponent {
				reaches = true
				break
			}
		}
		if !reaches {
			errs.add(inv.name, "invoke", fmt.Errorf("%w: nothing receives %s", ErrBlackHoleInvocation, typeName(inv.in)))
		}
		if inv.sink == nil {
			continue
		}
		if !p.anyEmits(inv.sink.typ) {
			errs.add(inv.name, "invoke", fmt.Errorf("%w: nothing emits %s", ErrBlackHoleInvocation, typeName(inv.sink.typ)))
		}
	}
}

// anyEmits reports whether some component declares a transmitter whose
// type is assignable to t.
func (p *Pipeline) anyEmits(t reflect.Type) bool {
	for _, rec := range p.constructed() {
		for _, x := range rec.describers[0].emits {
			if x.AssignableTo(t) {
				return true
			}
		}
	}
	return false
}
