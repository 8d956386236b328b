package completion

import "sync/atomic"

// Slot is one outstanding operation tracked by a Buffer.
//
// Complete, Cancel and Fault are idempotent: the first call wins, runs the
// matching callback and removes the slot from its buffer. Later calls do
// nothing.
type Slot[T any] struct {
	data T
	buf  *Buffer[T]

	// Guarded by buf.mu.
	prev, next *Slot[T]

	settled atomic.Bool

	onComplete func(T)
	onCancel   func(T, error)
	onFault    func(T, error)
}

// Compile-time interface check.
var _ Source = (*Slot[int])(nil)

// SlotOption registers a callback on a slot.
type SlotOption[T any] func(*Slot[T])

// OnComplete runs fn when the slot completes.
func OnComplete[T any](fn func(T)) SlotOption[T] {
	return func(s *Slot[T]) { s.onComplete = fn }
}

// OnCancel runs fn when the slot is cancelled.
func OnCancel[T any](fn func(T, error)) SlotOption[T] {
	return func(s *Slot[T]) { s.onCancel = fn }
}

// OnFault runs fn when the slot faults.
func OnFault[T any](fn func(T, error)) SlotOption[T] {
	return func(s *Slot[T]) { s.onFault = fn }
}

// Data returns the payload the slot was added with.
func (s *Slot[T]) Data() T {
	return s.data
}

// IsCompleted reports whether the slot has been settled in any way.
func (s *Slot[T]) IsCompleted() bool {
	return s.settled.Load()
}

// Complete settles the slot successfully.
func (s *Slot[T]) Complete() {
	if !s.settled.CompareAndSwap(false, true) {
		return
	}
	if s.onComplete != nil {
		s.onComplete(s.data)
	}
	s.buf.remove(s)
}

// Cancel settles the slot as cancelled.
func (s *Slot[T]) Cancel(reason error) {
	if !s.settled.CompareAndSwap(false, true) {
		return
	}
	if s.onCancel != nil {
		s.onCancel(s.data, reason)
	}
	s.buf.remove(s)
}

// Fault settles the slot as failed.
func (s *Slot[T]) Fault(err error) {
	if !s.settled.CompareAndSwap(false, true) {
		return
	}
	if s.onFault != nil {
		s.onFault(s.data, err)
	}
	s.buf.remove(s)
}
