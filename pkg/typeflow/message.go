package typeflow

import (
	"reflect"
	"slices"
)

// Envelope is the untyped view of a Message, used wherever the payload type
// is not known statically: ancestry, taps on broad types, unknown-message hooks.
type Envelope interface {
	// Data returns the payload.
	Data() any
	// Type returns the static payload type the message was emitted as.
	Type() reflect.Type
	// Sender returns the emitting component, or nil for pipeline-level emissions.
	Sender() Component
	// Context returns the Context the message belongs to.
	Context() *Context
	// Parent returns the message this one was derived from, or nil.
	Parent() Envelope
	// Ancestors returns every ancestor, root first.
	Ancestors() []Envelope
	// Depth returns the number of ancestors.
	Depth() int

	lineage() *lineage
}

// lineage is a persistent list of ancestors, newest first. Children share
// their parent's list and prepend one node.
type lineage struct {
	msg   Envelope
	next  *lineage
	depth int
}

func (l *lineage) extend(parent Envelope) *lineage {
	if parent == nil {
		return nil
	}
	depth := 1
	if l != nil {
		depth = l.depth + 1
	}
	return &lineage{msg: parent, next: l, depth: depth}
}

// Message is an immutable typed envelope.
type Message[T any] struct {
	payload T
	typ     reflect.Type
	sender  Component
	ctx     *Context
	parents *lineage
}

var _ Envelope = (*Message[int])(nil)

func newMessage[T any](payload T, sender Component, ctx *Context, parent Envelope) *Message[T] {
	var parents *lineage
	if parent != nil {
		parents = parent.lineage().extend(parent)
	}
	return &Message[T]{
		payload: payload,
		typ:     reflect.TypeFor[T](),
		sender:  sender,
		ctx:     ctx,
		parents: parents,
	}
}

// viewAs presents env as a Message[T] for a receiver accepting T. The view
// shares sender, context and ancestry with env.
func viewAs[T any](env Envelope) *Message[T] {
	if m, ok := env.(*Message[T]); ok {
		return m
	}
	var payload T
	if v, ok := env.Data().(T); ok {
		payload = v
	}
	return &Message[T]{
		payload: payload,
		typ:     reflect.TypeFor[T](),
		sender:  env.Sender(),
		ctx:     env.Context(),
		parents: env.lineage(),
	}
}

// Payload returns the typed payload.
func (m *Message[T]) Payload() T {
	return m.payload
}

// Data returns the payload as any.
func (m *Message[T]) Data() any {
	return m.payload
}

// Type returns the static payload type.
func (m *Message[T]) Type() reflect.Type {
	return m.typ
}

// Sender returns the emitting component, or nil for the pipeline itself.
func (m *Message[T]) Sender() Component {
	return m.sender
}

// Context returns the Context the message belongs to.
func (m *Message[T]) Context() *Context {
	return m.ctx
}

// Parent returns the message this one was derived from, or nil.
func (m *Message[T]) Parent() Envelope {
	if m.parents == nil {
		return nil
	}
	return m.parents.msg
}

// Ancestors returns every ancestor, root first.
func (m *Message[T]) Ancestors() []Envelope {
	if m.parents == nil {
		return nil
	}
	out := make([]Envelope, 0, m.parents.depth)
	for l := m.parents; l != nil; l = l.next {
		out = append(out, l.msg)
	}
	slices.Reverse(out)
	return out
}

// Depth returns the number of ancestors.
func (m *Message[T]) Depth() int {
	if m.parents == nil {
		return 0
	}
	return m.parents.depth
}

func (m *Message[T]) lineage() *lineage {
	return m.parents
}
