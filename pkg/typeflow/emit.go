package typeflow

import "fmt"

// Emit wraps data in a Message derived from parent and routes it from the
// component. parent is usually the message being handled; with a nil
// parent the new message starts a fresh Context, which is closed once
// everything routed within it has finished. Hold that Context to keep it
// open past its handlers.
//
// Emit returns when every inline receiver has returned and every
// asynchronous delivery has been queued. The error is the first receiver
// failure that was not suppressed, or a routing error.
func Emit[T any](from Component, parent Envelope, data T) error {
	return emit(from, parent, data, false)
}

// EmitAndWait is Emit, but ordered and pooled routes also wait for their
// receivers to return.
func EmitAndWait[T any](from Component, parent Envelope, data T) error {
	return emit(from, parent, data, true)
}

func emit[T any](from Component, parent Envelope, data T, wait bool) error {
	if isNilComponent(from) {
		panic("typeflow: Emit from nil component")
	}
	p := from.base().Pipeline()
	if p == nil {
		return fmt.Errorf("%w: %T", ErrNotAttached, from)
	}

	if parent != nil {
		return p.route(newMessage(data, from, parent.Context(), parent), wait)
	}
	ctx := p.newContext(nil)
	defer p.closeWhenIdle(ctx)
	return p.route(newMessage(data, from, ctx, nil), wait)
}

// Send routes data from the pipeline itself, as an invocation does, within
// the given Context. The caller owns a Context it passes in. A nil Context
// starts a fresh one that is closed once it goes idle.
func Send[T any](p *Pipeline, ctx *Context, data T) error {
	if ctx == nil {
		ctx = p.newContext(nil)
		defer p.closeWhenIdle(ctx)
	}
	return p.route(newMessage(data, nil, ctx, nil), false)
}
