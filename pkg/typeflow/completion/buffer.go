// Package completion tracks outstanding operations that finish out of order.
//
// A Buffer holds one Slot per outstanding operation. Each slot can be
// completed, cancelled or faulted independently; settling a slot removes it
// from the buffer in constant time regardless of its position. When a
// maximum is configured, Add blocks until a slot settles, which makes the
// buffer a concurrency limiter for work whose lifetime outlives a call.
package completion

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Sentinel errors for buffer operations.
var (
	// ErrBufferClosed indicates the buffer was cancelled or closed.
	ErrBufferClosed = errors.New("completion buffer closed")

	// ErrModifiedDuringEnumeration is the panic value raised by All when the
	// buffer changes while a sequence is being consumed.
	ErrModifiedDuringEnumeration = errors.New("completion buffer modified during enumeration")
)

// Source is the contract shared by anything that can be settled exactly once.
// Both Slot and the pipeline Context implement it.
type Source interface {
	// Complete marks the operation as successfully finished.
	Complete()

	// Cancel marks the operation as abandoned for the given reason.
	Cancel(reason error)

	// Fault marks the operation as failed with the given error.
	Fault(err error)
}

// Buffer is a bounded, thread-safe, doubly-linked collection of outstanding
// operations.
//
// The zero value is not usable; create buffers with New.
type Buffer[T any] struct {
	mu      sync.Mutex
	head    *Slot[T]
	tail    *Slot[T]
	count   int
	version uint64
	closed  bool

	maxItems int64
	gate     *semaphore.Weighted

	done   context.Context
	cancel context.CancelCauseFunc
}

// Option configures a Buffer.
type Option func(*options)

type options struct {
	maxItems int64
}

// WithMaxItems bounds the number of live slots. Add blocks while the buffer
// holds n slots. Zero or negative means unbounded.
func WithMaxItems(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxItems = int64(n)
		}
	}
}

// New creates an empty buffer.
func New[T any](opts ...Option) *Buffer[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	done, cancel := context.WithCancelCause(context.Background())
	b := &Buffer[T]{
		maxItems: o.maxItems,
		done:     done,
		cancel:   cancel,
	}
	if o.maxItems > 0 {
		b.gate = semaphore.NewWeighted(o.maxItems)
	}
	return b
}

// Add appends data to the tail of the buffer and returns its slot.
//
// If the buffer is bounded and full, Add blocks until a slot settles, ctx is
// done, or the buffer is closed. In the latter cases nothing is added and the
// returned error is ctx's error or ErrBufferClosed.
func (b *Buffer[T]) Add(ctx context.Context, data T, opts ...SlotOption[T]) (*Slot[T], error) {
	if b.gate != nil {
		if err := b.acquire(ctx); err != nil {
			return nil, err
		}
	}

	s := &Slot[T]{data: data, buf: b}
	for _, opt := range opts {
		opt(s)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		if b.gate != nil {
			b.gate.Release(1)
		}
		return nil, ErrBufferClosed
	}
	if b.tail == nil {
		b.head = s
	} else {
		b.tail.next = s
		s.prev = b.tail
	}
	b.tail = s
	b.count++
	b.version++
	b.mu.Unlock()

	return s, nil
}

// acquire takes one unit of capacity, giving up when either ctx or the
// buffer-level token is done.
func (b *Buffer[T]) acquire(ctx context.Context) error {
	if b.isClosed() {
		return ErrBufferClosed
	}

	actx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(b.done, func() { cancel(ErrBufferClosed) })
	defer stop()

	if err := b.gate.Acquire(actx, 1); err != nil {
		if cause := context.Cause(actx); errors.Is(cause, ErrBufferClosed) {
			return ErrBufferClosed
		}
		return err
	}
	return nil
}

// remove unlinks s. The caller has already claimed s via its settled flag.
func (b *Buffer[T]) remove(s *Slot[T]) {
	b.mu.Lock()
	if s.prev != nil {
		s.prev.next = s.next
	} else {
		b.head = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	} else {
		b.tail = s.prev
	}
	s.prev, s.next = nil, nil
	b.count--
	b.version++
	b.mu.Unlock()

	if b.gate != nil {
		b.gate.Release(1)
	}
}

// Count returns the number of live slots.
func (b *Buffer[T]) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// IsEmpty reports whether the buffer has no live slots.
func (b *Buffer[T]) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count == 0
}

// IsFull reports whether a bounded buffer is at capacity.
// Unbounded buffers are never full.
func (b *Buffer[T]) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxItems > 0 && int64(b.count) >= b.maxItems
}

// Version returns the modification counter. It increases on every add and
// every removal.
func (b *Buffer[T]) Version() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

// All returns the live payloads from head to tail.
//
// The sequence is lazy and can be ranged over any number of times; each
// range starts from the current head. The buffer must not change while a
// range is in progress: if it does, the next step panics with
// ErrModifiedDuringEnumeration.
func (b *Buffer[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		b.mu.Lock()
		start := b.version
		node := b.head
		b.mu.Unlock()

		for node != nil {
			b.mu.Lock()
			if b.version != start {
				b.mu.Unlock()
				panic(ErrModifiedDuringEnumeration)
			}
			data, next := node.data, node.next
			b.mu.Unlock()

			if !yield(data) {
				return
			}
			node = next
		}

		b.mu.Lock()
		changed := b.version != start
		b.mu.Unlock()
		if changed {
			panic(ErrModifiedDuringEnumeration)
		}
	}
}

// Snapshot copies the live payloads from head to tail.
func (b *Buffer[T]) Snapshot() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]T, 0, b.count)
	for node := b.head; node != nil; node = node.next {
		out = append(out, node.data)
	}
	return out
}

// Cancel closes the buffer with the given reason. Producers blocked in Add
// fail with ErrBufferClosed. Live slots are left untouched and can still be
// settled.
func (b *Buffer[T]) Cancel(reason error) {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	if reason == nil {
		reason = ErrBufferClosed
	}
	b.cancel(errors.Join(ErrBufferClosed, reason))
}

// Close is Cancel without a reason.
func (b *Buffer[T]) Close() error {
	b.Cancel(nil)
	return nil
}

// WaitEmpty polls until the buffer has no live slots or ctx is done.
func (b *Buffer[T]) WaitEmpty(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for !b.IsEmpty() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (b *Buffer[T]) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
