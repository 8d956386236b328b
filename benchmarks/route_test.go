package benchmarks

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/randalmurphal/typeflow/pkg/typeflow"
	"github.com/randalmurphal/typeflow/pkg/typeflow/store"
)

// Stage types for benchmarks.
type (
	A int
	B int
	C int
)

type stageA struct{ typeflow.Base }

func (s *stageA) Describe(d *typeflow.Describer) {
	typeflow.Receives[int](d).With(func(m *typeflow.Message[int]) error {
		return typeflow.Emit(s, m, A(m.Payload()))
	})
	typeflow.Emits[A](d)
}

type stageB struct{ typeflow.Base }

func (s *stageB) Describe(d *typeflow.Describer) {
	typeflow.Receives[A](d).With(func(m *typeflow.Message[A]) error {
		return typeflow.Emit(s, m, B(m.Payload()))
	})
	typeflow.Emits[B](d)
}

type stageC struct{ typeflow.Base }

func (s *stageC) Describe(d *typeflow.Describer) {
	typeflow.Receives[B](d).With(func(m *typeflow.Message[B]) error {
		return typeflow.Emit(s, m, C(m.Payload()))
	})
	typeflow.Emits[C](d)
}

// sinkC does minimal work to measure framework overhead.
type sinkC struct{ typeflow.Base }

func (s *sinkC) Describe(d *typeflow.Describer) {
	typeflow.Receives[C](d).With(func(*typeflow.Message[C]) error { return nil })
}

type anySink struct{ typeflow.Base }

func (s *anySink) Describe(d *typeflow.Describer) {
	typeflow.Receives[any](d).With(func(*typeflow.Message[any]) error { return nil })
}

func quiet() typeflow.Option {
	return typeflow.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func chain(b *testing.B, opts ...typeflow.ConduitOption) *typeflow.Pipeline {
	b.Helper()
	p := typeflow.New("bench", quiet())
	a := typeflow.Constructs(p, func() *stageA { return &stageA{} })
	bb := typeflow.Constructs(p, func() *stageB { return &stageB{} })
	c := typeflow.Constructs(p, func() *stageC { return &stageC{} })
	sink := typeflow.Constructs(p, func() *sinkC { return &sinkC{} })
	typeflow.SendsMessage[A](a).To(bb, opts...)
	typeflow.SendsMessage[B](bb).To(c, opts...)
	typeflow.SendsMessage[C](c).To(sink, opts...)
	if err := p.Initialize(); err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = p.Close() })
	return p
}

// BenchmarkSend_InlineChain routes through four inline hops.
func BenchmarkSend_InlineChain(b *testing.B) {
	p := chain(b)
	ctx := typeflow.NewContext(context.Background())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = typeflow.Send(p, ctx, i)
	}
}

// BenchmarkSend_OrderedChain routes through four queued hops and waits for
// each batch to drain.
func BenchmarkSend_OrderedChain(b *testing.B) {
	p := chain(b, typeflow.Ordered())
	ctx := typeflow.NewContext(context.Background())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = typeflow.Send(p, ctx, i)
	}
	_ = ctx.WaitIdle(context.Background())
}

// BenchmarkSend_PooledChain routes through four pooled hops.
func BenchmarkSend_PooledChain(b *testing.B) {
	p := chain(b, typeflow.Pooled())
	ctx := typeflow.NewContext(context.Background())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = typeflow.Send(p, ctx, i)
	}
	_ = ctx.WaitIdle(context.Background())
}

// BenchmarkSend_Fallback routes an undeclared type through the cached
// fallback resolution.
func BenchmarkSend_Fallback(b *testing.B) {
	p := typeflow.New("bench", quiet())
	typeflow.Constructs(p, func() *anySink { return &anySink{} })
	if err := p.Initialize(); err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = p.Close() })
	ctx := typeflow.NewContext(context.Background())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = typeflow.Send(p, ctx, float64(i))
	}
}

// BenchmarkInvoke measures a full invocation round trip.
func BenchmarkInvoke(b *testing.B) {
	p := typeflow.New("bench", quiet())
	typeflow.Constructs(p, func() *stageA { return &stageA{} })
	typeflow.Constructs(p, func() *stageB { return &stageB{} })
	inv := typeflow.IsInvokedBy[int, B](p)
	if err := p.Initialize(); err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = p.Close() })
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = inv.Invoke(ctx, i)
	}
}

// BenchmarkInitialize measures construction of the routing table.
func BenchmarkInitialize(b *testing.B) {
	for i := 0; i < b.N; i++ {
		p := typeflow.New("bench", quiet())
		typeflow.Constructs(p, func() *stageA { return &stageA{} })
		typeflow.Constructs(p, func() *stageB { return &stageB{} })
		typeflow.Constructs(p, func() *stageC { return &stageC{} })
		typeflow.ConstructsMany[*sinkC](p, 4).Using(func() *sinkC { return &sinkC{} })
		if err := p.Initialize(); err != nil {
			b.Fatal(err)
		}
		_ = p.Close()
	}
}

// BenchmarkContextCreation measures Context construction.
func BenchmarkContextCreation(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = typeflow.NewContext(context.Background())
	}
}

// BenchmarkStore_SQLitePut measures persisting a small record.
func BenchmarkStore_SQLitePut(b *testing.B) {
	st, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()
	data := []byte(`{"key":"host","value":"localhost"}`)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = st.Put(ctx, "bench", "host", data)
	}
}
