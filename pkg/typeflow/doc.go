/*
Package typeflow provides a type-directed, in-process message pipeline.

# Overview

A pipeline is a set of components that exchange typed messages. Components
never name each other: each one declares the types it receives and the
types it emits, and the pipeline builds a routing table from those
declarations. A message of type X goes to every other component with a
receiver X is assignable to, unless explicit routes narrow that set.

The routing table is built once, by Initialize, and is read-only after
that. Most construction mistakes (a receiver with no handler, a route that
matches nothing, an ambiguous interface receiver) are reported together by
Initialize rather than surfacing at runtime.

# Basic Usage

	type Adder struct{ typeflow.Base }

	func (a *Adder) Describe(d *typeflow.Describer) {
	    typeflow.Receives[int](d).With(func(m *typeflow.Message[int]) error {
	        return typeflow.Emit(a, m, Sum(m.Payload()+2))
	    })
	    typeflow.Emits[Sum](d)
	}

	p := typeflow.New("arithmetic")
	typeflow.Constructs(p, func() *Adder { return &Adder{} })
	typeflow.Constructs(p, NewMultiplier)
	typeflow.Constructs(p, NewFormatter)
	calc := typeflow.IsInvokedBy[int, string](p)

	if err := p.Initialize(); err != nil {
	    log.Fatal(err)
	}
	defer p.Close()

	answer, err := calc.Invoke(ctx, 2)

# Receivers

Receives[T] accepts messages whose type is assignable to T, so a receiver
for an interface type accepts every implementation. A receiver for the
exact type wins over interface receivers; two interface receivers matching
the same type with no exact one is ErrAmbiguousReceiver.

# Routes

Explicit routes restrict where a sender's messages go:

	typeflow.SendsMessage[Sum](add).To(mul, typeflow.Ordered())
	parser.SendsMessagesTo(writer).HasPrivateChannel()

A typed route beats a generic one for the same pair of components. Route
options choose the delivery mode (Inline, Ordered, Pooled) and add rate
limits, in-flight caps and retries.

# Contexts

Every message belongs to a Context, which tracks how many messages of one
logical operation are still in flight. Invocations wait for their Context
to go idle. Adjuncts attach per-operation state to a Context:

	cache := typeflow.AdjunctOrCreate(msg.Context(), newLookupCache)

# Failures

A receiver that returns an error or panics produces a *DeliveryError,
which is offered to the handler installed with SuppressExceptions. A fault
that is not suppressed terminates the pipeline, faults the message's
Context and is returned to the emitter.

# Observability

Pipelines log through log/slog and can record OpenTelemetry metrics and
spans:

	p := typeflow.New("records",
	    typeflow.WithLogger(logger),
	    typeflow.WithMetrics(),
	    typeflow.WithTracing(),
	)
*/
package typeflow
