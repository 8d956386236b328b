package typeflow

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync/atomic"
)

// Component is a pipeline stage. It declares what it receives and emits in
// Describe, which the pipeline calls once per instance during Initialize.
//
// Implementations embed Base:
//
//	type Adder struct {
//	    typeflow.Base
//	}
//
//	func (a *Adder) Describe(d *typeflow.Describer) {
//	    typeflow.Receives[int](d).With(a.add)
//	    typeflow.Emits[Sum](d)
//	}
type Component interface {
	Describe(d *Describer)
	base() *Base
}

// Base supplies a component's attachment to its pipeline.
type Base struct {
	attached atomic.Pointer[attachment]
}

type attachment struct {
	pipeline *Pipeline
	name     string
	replica  int
	logger   *slog.Logger
}

func (b *Base) base() *Base {
	return b
}

// Pipeline returns the pipeline the component is attached to, or nil
// before Initialize.
func (b *Base) Pipeline() *Pipeline {
	if a := b.attached.Load(); a != nil {
		return a.pipeline
	}
	return nil
}

// Logger returns a logger carrying the pipeline and component names.
// Before attachment it returns slog.Default().
func (b *Base) Logger() *slog.Logger {
	if a := b.attached.Load(); a != nil {
		return a.logger
	}
	return slog.Default()
}

// Replica returns the instance's index within its manifold. Singular
// components are replica 0.
func (b *Base) Replica() int {
	if a := b.attached.Load(); a != nil {
		return a.replica
	}
	return 0
}

// receiver binds one accepted type of one component instance to its handler.
type receiver struct {
	owner  Component
	typ    reflect.Type
	handle func(Envelope) error
}

// Describer collects a component instance's receivers and transmitters.
// It is only valid during Describe.
type Describer struct {
	component Component
	typ       reflect.Type
	receivers []*receiver
	emits     []reflect.Type
	errs      []error
	closed    bool
}

func newDescriber(c Component) *Describer {
	return &Describer{component: c, typ: reflect.TypeOf(c)}
}

func (d *Describer) fail(err error) {
	d.errs = append(d.errs, &BuildError{Component: typeName(d.typ), Op: "describe", Err: err})
}

func (d *Describer) checkOpen() {
	if d.closed {
		panic("typeflow: describer used after Describe returned")
	}
}

// finish validates the collected declarations once Describe returns.
func (d *Describer) finish() []error {
	d.closed = true
	for _, r := range d.receivers {
		if r.handle == nil {
			d.fail(fmt.Errorf("%w: %s", ErrBlackHoleReceiver, typeName(r.typ)))
		}
	}
	return d.errs
}

// bestReceiver returns the receiver that should accept messages of type x:
// an exact match if there is one, otherwise the single receiver x is
// assignable to. Several inexact candidates are ambiguous.
func (d *Describer) bestReceiver(x reflect.Type) (*receiver, error) {
	var loose []*receiver
	for _, r := range d.receivers {
		if r.handle == nil {
			continue
		}
		if r.typ == x {
			return r, nil
		}
		if x.AssignableTo(r.typ) {
			loose = append(loose, r)
		}
	}
	switch len(loose) {
	case 0:
		return nil, nil
	case 1:
		return loose[0], nil
	default:
		return nil, fmt.Errorf("%w: %s accepts %s as %s and %s",
			ErrAmbiguousReceiver, typeName(d.typ), typeName(x), typeName(loose[0].typ), typeName(loose[1].typ))
	}
}

// shape returns the declared receiver and transmitter types in order.
func (d *Describer) shape() []reflect.Type {
	out := make([]reflect.Type, 0, len(d.receivers)+len(d.emits)+1)
	for _, r := range d.receivers {
		out = append(out, r.typ)
	}
	out = append(out, nil)
	return append(out, d.emits...)
}

// Binder assigns the handler for one received type.
type Binder[T any] struct {
	d *Describer
	r *receiver
}

// Receives declares that the component accepts messages of type T, or of
// any type assignable to T. Exactly one handler must be assigned with With
// before Describe returns.
func Receives[T any](d *Describer) *Binder[T] {
	d.checkOpen()
	typ := reflect.TypeFor[T]()
	for _, r := range d.receivers {
		if r.typ == typ {
			d.fail(fmt.Errorf("%w: %s received twice", ErrDuplicateReceiver, typeName(typ)))
			return &Binder[T]{d: d, r: &receiver{owner: d.component, typ: typ}}
		}
	}
	r := &receiver{owner: d.component, typ: typ}
	d.receivers = append(d.receivers, r)
	return &Binder[T]{d: d, r: r}
}

// With assigns fn as the handler. Assigning a second handler is a build error.
func (b *Binder[T]) With(fn func(*Message[T]) error) {
	b.d.checkOpen()
	if fn == nil {
		return
	}
	if b.r.handle != nil {
		b.d.fail(fmt.Errorf("%w: handler for %s assigned twice", ErrDuplicateReceiver, typeName(b.r.typ)))
		return
	}
	b.r.handle = func(env Envelope) error {
		return fn(viewAs[T](env))
	}
}

// Emits declares that the component may emit messages of type T. It only
// shapes routing; emitting needs no declaration handle.
func Emits[T any](d *Describer) {
	d.checkOpen()
	typ := reflect.TypeFor[T]()
	for _, e := range d.emits {
		if e == typ {
			return
		}
	}
	d.emits = append(d.emits, typ)
}

// typeName renders a type for logs, metrics and errors.
func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
