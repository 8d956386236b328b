package typeflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Message types used across tests.
type (
	Sum     int
	Product int
	Tick    struct{}
	Job     struct{ ID int }
	Item    int
	Ball    struct{}
)

// testCtx returns a context that fails the test run rather than hang it.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestPipeline returns a pipeline with a discarded log that is closed
// when the test ends.
func newTestPipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	p := New(t.Name(), opts...)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// Arithmetic chain: int -> Sum (+2) -> Product (x3) -> string.

type Adder struct{ Base }

func (a *Adder) Describe(d *Describer) {
	Receives[int](d).With(func(m *Message[int]) error {
		return Emit(a, m, Sum(m.Payload()+2))
	})
	Emits[Sum](d)
}

type Multiplier struct{ Base }

func (mu *Multiplier) Describe(d *Describer) {
	Receives[Sum](d).With(func(m *Message[Sum]) error {
		return Emit(mu, m, Product(m.Payload()*3))
	})
	Emits[Product](d)
}

type Formatter struct{ Base }

func (f *Formatter) Describe(d *Describer) {
	Receives[Product](d).With(func(m *Message[Product]) error {
		return Emit(f, m, fmt.Sprintf("The answer is %d.", m.Payload()))
	})
	Emits[string](d)
}

// arithmetic declares the three-stage chain on p and returns its stubs.
func arithmetic(p *Pipeline) (*Stub[*Adder], *Stub[*Multiplier], *Stub[*Formatter]) {
	add := Constructs(p, func() *Adder { return &Adder{} })
	mul := Constructs(p, func() *Multiplier { return &Multiplier{} })
	format := Constructs(p, func() *Formatter { return &Formatter{} })
	return add, mul, format
}

// collector records every payload it receives.
type collector[T any] struct {
	Base
	mu  sync.Mutex
	got []T
	fn  func(*Message[T]) error
}

func (c *collector[T]) Describe(d *Describer) {
	Receives[T](d).With(func(m *Message[T]) error {
		c.mu.Lock()
		c.got = append(c.got, m.Payload())
		c.mu.Unlock()
		if c.fn != nil {
			return c.fn(m)
		}
		return nil
	})
}

func (c *collector[T]) received() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]T, len(c.got))
	copy(out, c.got)
	return out
}

// failing returns err for every message.
type failing struct {
	Base
	err error
}

func (f *failing) Describe(d *Describer) {
	Receives[int](d).With(func(*Message[int]) error { return f.err })
}

// panicking panics on every message.
type panicking struct{ Base }

func (p *panicking) Describe(d *Describer) {
	Receives[int](d).With(func(*Message[int]) error { panic("boom") })
}

// fanOut emits n Items, 0 to n-1, for each int it receives.
type fanOut struct{ Base }

func (f *fanOut) Describe(d *Describer) {
	Receives[int](d).With(func(m *Message[int]) error {
		for i := range m.Payload() {
			if err := Emit(f, m, Item(i)); err != nil {
				return err
			}
		}
		return nil
	})
	Emits[Item](d)
}

func mustInitialize(t *testing.T, p *Pipeline) {
	t.Helper()
	require.NoError(t, p.Initialize())
}
