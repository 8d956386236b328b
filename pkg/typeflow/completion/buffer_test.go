package completion

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addAll(t *testing.T, b *Buffer[int], values ...int) []*Slot[int] {
	t.Helper()
	slots := make([]*Slot[int], 0, len(values))
	for _, v := range values {
		s, err := b.Add(context.Background(), v)
		require.NoError(t, err)
		slots = append(slots, s)
	}
	return slots
}

// TestBuffer_AddPreservesOrder tests that slots enumerate in insertion order.
func TestBuffer_AddPreservesOrder(t *testing.T) {
	b := New[int]()
	addAll(t, b, 1, 2, 3, 4)

	assert.Equal(t, 4, b.Count())
	assert.False(t, b.IsEmpty())
	assert.False(t, b.IsFull())
	assert.Equal(t, []int{1, 2, 3, 4}, slices.Collect(b.All()))
}

// TestBuffer_RemoveFromAnyPosition tests settling slots at the head, middle and tail.
func TestBuffer_RemoveFromAnyPosition(t *testing.T) {
	tests := []struct {
		name   string
		remove int
		want   []int
	}{
		{name: "middle", remove: 1, want: []int{1, 3, 4}},
		{name: "head", remove: 0, want: []int{2, 3, 4}},
		{name: "tail", remove: 3, want: []int{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New[int]()
			slots := addAll(t, b, 1, 2, 3, 4)

			slots[tt.remove].Complete()

			assert.Equal(t, tt.want, slices.Collect(b.All()))
			assert.Equal(t, 3, b.Count())
		})
	}
}

// TestBuffer_RemoveEverySlot tests that settling every slot empties the buffer.
func TestBuffer_RemoveEverySlot(t *testing.T) {
	b := New[int]()
	slots := addAll(t, b, 1, 2, 3)

	slots[1].Cancel(errors.New("stop"))
	slots[0].Fault(errors.New("boom"))
	slots[2].Complete()

	assert.True(t, b.IsEmpty())
	assert.Empty(t, b.Snapshot())

	// The list must be reusable after draining.
	addAll(t, b, 7)
	assert.Equal(t, []int{7}, b.Snapshot())
}

// TestSlot_SettleIsIdempotent tests that only the first settle of a slot counts.
func TestSlot_SettleIsIdempotent(t *testing.T) {
	var completes, cancels, faults int
	b := New[int]()
	s, err := b.Add(context.Background(), 1,
		OnComplete(func(int) { completes++ }),
		OnCancel(func(int, error) { cancels++ }),
		OnFault(func(int, error) { faults++ }),
	)
	require.NoError(t, err)
	other := addAll(t, b, 2)[0]

	s.Complete()
	s.Complete()
	s.Cancel(errors.New("late"))
	s.Fault(errors.New("late"))

	assert.Equal(t, 1, completes)
	assert.Zero(t, cancels)
	assert.Zero(t, faults)
	assert.True(t, s.IsCompleted())
	assert.False(t, other.IsCompleted())
	assert.Equal(t, []int{2}, b.Snapshot())
}

// TestSlot_CallbacksReceiveData tests that settle callbacks get the slot data.
func TestSlot_CallbacksReceiveData(t *testing.T) {
	reason := errors.New("reason")
	var gotData int
	var gotErr error

	b := New[int]()
	s, err := b.Add(context.Background(), 42, OnFault(func(v int, err error) {
		gotData, gotErr = v, err
	}))
	require.NoError(t, err)

	s.Fault(reason)

	assert.Equal(t, 42, gotData)
	assert.ErrorIs(t, gotErr, reason)
	assert.Equal(t, 42, s.Data())
}

// TestBuffer_VersionBumpsOnEveryMutation tests the buffer version counter.
func TestBuffer_VersionBumpsOnEveryMutation(t *testing.T) {
	b := New[int]()
	v0 := b.Version()
	s := addAll(t, b, 1)[0]
	v1 := b.Version()
	s.Complete()
	v2 := b.Version()

	assert.Greater(t, v1, v0)
	assert.Greater(t, v2, v1)
}

// TestBuffer_EnumerationPanicsOnMutation tests that mutating during enumeration panics.
func TestBuffer_EnumerationPanicsOnMutation(t *testing.T) {
	t.Run("remove", func(t *testing.T) {
		b := New[int]()
		slots := addAll(t, b, 1, 2, 3)

		assert.PanicsWithValue(t, ErrModifiedDuringEnumeration, func() {
			for v := range b.All() {
				if v == 1 {
					slots[2].Complete()
				}
			}
		})
	})

	t.Run("add", func(t *testing.T) {
		b := New[int]()
		addAll(t, b, 1, 2)

		assert.PanicsWithValue(t, ErrModifiedDuringEnumeration, func() {
			for range b.All() {
				_, _ = b.Add(context.Background(), 9)
			}
		})
	})
}

// TestBuffer_EnumerationIsRestartable tests enumerating the same buffer twice.
func TestBuffer_EnumerationIsRestartable(t *testing.T) {
	b := New[int]()
	slots := addAll(t, b, 1, 2, 3)
	seq := b.All()

	assert.Equal(t, []int{1, 2, 3}, slices.Collect(seq))
	slots[0].Complete()
	assert.Equal(t, []int{2, 3}, slices.Collect(seq))
}

// TestBuffer_EnumerationStopsEarly tests breaking out of an enumeration.
func TestBuffer_EnumerationStopsEarly(t *testing.T) {
	b := New[int]()
	addAll(t, b, 1, 2, 3)

	var seen []int
	for v := range b.All() {
		seen = append(seen, v)
		if v == 2 {
			break
		}
	}
	assert.Equal(t, []int{1, 2}, seen)
}

// TestBuffer_CapacityBlocksUntilRelease tests that Add blocks while the buffer is full.
func TestBuffer_CapacityBlocksUntilRelease(t *testing.T) {
	b := New[int](WithMaxItems(3))
	slots := addAll(t, b, 1, 2, 3)
	require.True(t, b.IsFull())

	added := make(chan *Slot[int], 1)
	go func() {
		s, err := b.Add(context.Background(), 4)
		if err == nil {
			added <- s
		}
		close(added)
	}()

	select {
	case <-added:
		t.Fatal("fourth Add should block while buffer is full")
	case <-time.After(50 * time.Millisecond):
	}

	slots[0].Complete()

	select {
	case s, ok := <-added:
		require.True(t, ok)
		assert.Equal(t, 4, s.Data())
	case <-time.After(time.Second):
		t.Fatal("Add did not unblock after a slot completed")
	}

	assert.LessOrEqual(t, b.Count(), 3)
	assert.Equal(t, []int{2, 3, 4}, b.Snapshot())
}

// TestBuffer_AddRespectsContext tests that a blocked Add returns when its context ends.
func TestBuffer_AddRespectsContext(t *testing.T) {
	b := New[int](WithMaxItems(1))
	addAll(t, b, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Add(ctx, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, b.Count())
}

// TestBuffer_CancelUnblocksProducers tests that Cancel releases blocked producers.
func TestBuffer_CancelUnblocksProducers(t *testing.T) {
	b := New[int](WithMaxItems(1))
	first := addAll(t, b, 1)[0]

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Add(context.Background(), 2)
			errs <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	b.Cancel(errors.New("shutting down"))
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.ErrorIs(t, err, ErrBufferClosed)
	}

	// Sibling slots are untouched by a buffer-wide cancel.
	assert.False(t, first.IsCompleted())
	first.Complete()
	assert.True(t, b.IsEmpty())
}

// TestBuffer_AddAfterClose tests Add on a closed buffer.
func TestBuffer_AddAfterClose(t *testing.T) {
	b := New[int]()
	require.NoError(t, b.Close())

	_, err := b.Add(context.Background(), 1)
	assert.ErrorIs(t, err, ErrBufferClosed)
}

// TestBuffer_ConcurrentSettle tests settling slots from many goroutines.
func TestBuffer_ConcurrentSettle(t *testing.T) {
	b := New[int](WithMaxItems(8))
	const n = 200

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			s, err := b.Add(context.Background(), v)
			if err != nil {
				return
			}
			time.Sleep(time.Millisecond)
			if v%2 == 0 {
				s.Complete()
			} else {
				s.Fault(errors.New("odd"))
			}
		}(i)
	}
	wg.Wait()

	assert.True(t, b.IsEmpty())
	assert.Zero(t, b.Count())
}

// TestBuffer_WaitEmpty tests waiting for every slot to settle.
func TestBuffer_WaitEmpty(t *testing.T) {
	b := New[int]()
	s := addAll(t, b, 1)[0]

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Complete()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.WaitEmpty(ctx, time.Millisecond))
	assert.True(t, b.IsEmpty())
}
