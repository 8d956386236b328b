package typeflow

import (
	"reflect"
)

// Ref identifies a constructed component within a pipeline. *Stub
// implements it; routes are declared between Refs.
type Ref interface {
	record() *stubRecord
}

// stubRecord is the untyped side of a Stub, read by Initialize.
type stubRecord struct {
	pipeline *Pipeline
	declared reflect.Type
	size     int
	manifold bool
	factory  func() Component

	// Set during Initialize.
	typ        reflect.Type
	name       string
	instances  []Component
	describers []*Describer
}

// Stub is a deferred constructor for one component, or for a manifold of
// identical components sharing one factory.
type Stub[C Component] struct {
	rec *stubRecord
}

func (s *Stub[C]) record() *stubRecord {
	return s.rec
}

// Constructs declares a component built by factory during Initialize.
// A nil factory is reported by Initialize as ErrBlackHoleConstructor.
func Constructs[C Component](p *Pipeline, factory func() C) *Stub[C] {
	s := &Stub[C]{rec: &stubRecord{
		pipeline: p,
		declared: reflect.TypeFor[C](),
		size:     1,
	}}
	if factory != nil {
		s.rec.factory = func() Component { return factory() }
	}
	p.declareStub(s.rec)
	return s
}

// ConstructsMany declares a manifold of n instances. The factory is
// supplied with Using; without it Initialize reports ErrBlackHoleConstructor.
// Messages routed to a manifold are spread across its instances round-robin.
func ConstructsMany[C Component](p *Pipeline, n int) *Stub[C] {
	if n <= 0 {
		panic("typeflow: manifold size must be positive")
	}
	s := &Stub[C]{rec: &stubRecord{
		pipeline: p,
		declared: reflect.TypeFor[C](),
		size:     n,
		manifold: true,
	}}
	p.declareStub(s.rec)
	return s
}

// Using sets the factory shared by every instance of a manifold.
func (s *Stub[C]) Using(factory func() C) *Stub[C] {
	s.rec.pipeline.checkDeclarable()
	if factory == nil {
		s.rec.factory = nil
		return s
	}
	s.rec.factory = func() Component { return factory() }
	return s
}

// Instance returns the first constructed instance. It is the zero value
// before Initialize.
func (s *Stub[C]) Instance() C {
	if len(s.rec.instances) == 0 {
		var zero C
		return zero
	}
	return s.rec.instances[0].(C)
}

// Instances returns every constructed instance.
func (s *Stub[C]) Instances() []C {
	out := make([]C, len(s.rec.instances))
	for i, c := range s.rec.instances {
		out[i] = c.(C)
	}
	return out
}

// SendsMessagesTo routes every message this component emits and to
// accepts, regardless of type.
func (s *Stub[C]) SendsMessagesTo(to Ref, opts ...ConduitOption) *Route {
	return s.rec.pipeline.declareRoute(s.rec, to, nil, opts)
}
