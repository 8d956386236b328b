// Package workqueue provides the two off-path delivery primitives used by
// typeflow conduits: an ordered single-consumer Queue and a shared Pool.
package workqueue

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Sentinel errors for queue and pool operations.
var (
	// ErrQueueStopped indicates work was submitted to, or abandoned by, a stopped queue.
	ErrQueueStopped = errors.New("work queue stopped")

	// ErrPoolStopped indicates work was submitted to, or abandoned by, a stopped pool.
	ErrPoolStopped = errors.New("worker pool stopped")
)

// task is one unit of queued work. drop is called instead of run when the
// work is abandoned.
type task struct {
	run  func()
	drop func(error)
}

func (t task) abandon(err error) {
	if t.drop != nil {
		t.drop(err)
	}
}

// Queue runs work on a single background goroutine in FIFO order.
//
// Producers append to a back buffer. The consumer swaps the back buffer
// with its work buffer under the lock and runs the batch without holding it.
// When a maximum length is set, Enqueue blocks while the queue holds that
// many items; capacity is released after each batch.
type Queue struct {
	mu       sync.Mutex
	workCond *sync.Cond // signalled when work arrives or quit is requested
	roomCond *sync.Cond // broadcast after each batch

	back       []task
	work       []task
	processing int

	maxLength    int
	started      bool
	quitting     bool
	exited       chan struct{}
	logger       *slog.Logger
	pollInterval time.Duration
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxLength bounds the queue. Zero means unbounded.
func WithMaxLength(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxLength = n
		}
	}
}

// WithLogger sets the logger used to report recovered panics.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithPollInterval sets how often Shutdown checks for an empty queue.
// Default: 1ms
func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.pollInterval = d
		}
	}
}

// New creates a queue. The consumer goroutine starts on first use.
func New(opts ...Option) *Queue {
	q := &Queue{
		exited:       make(chan struct{}),
		logger:       slog.Default(),
		pollInterval: time.Millisecond,
	}
	q.workCond = sync.NewCond(&q.mu)
	q.roomCond = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the consumer goroutine if it is not running yet.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.startLocked()
}

func (q *Queue) startLocked() {
	if q.started || q.quitting {
		return
	}
	q.started = true
	go q.consume()
}

// Enqueue appends run to the queue.
//
// On a bounded queue that is full, Enqueue blocks until the consumer
// finishes a batch, ctx is done, or the queue stops. If the queue stops
// before run executes, drop is called with ErrQueueStopped. If Enqueue
// itself fails, neither function is called and the error is returned.
func (q *Queue) Enqueue(ctx context.Context, run func(), drop func(error)) error {
	if run == nil {
		panic("workqueue: run function cannot be nil")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.quitting {
		return ErrQueueStopped
	}
	q.startLocked()

	if q.maxLength > 0 && q.lenLocked() >= q.maxLength {
		stop := context.AfterFunc(ctx, func() {
			q.mu.Lock()
			q.roomCond.Broadcast()
			q.mu.Unlock()
		})
		defer stop()

		for q.lenLocked() >= q.maxLength {
			if q.quitting {
				return ErrQueueStopped
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			q.roomCond.Wait()
		}
		if q.quitting {
			return ErrQueueStopped
		}
	}

	q.back = append(q.back, task{run: run, drop: drop})
	q.workCond.Signal()
	return nil
}

// Len returns the number of items queued or in the batch being processed.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

func (q *Queue) lenLocked() int {
	return len(q.back) + q.processing
}

// consume is the consumer loop.
func (q *Queue) consume() {
	defer close(q.exited)

	for {
		q.mu.Lock()
		for len(q.back) == 0 && !q.quitting {
			q.workCond.Wait()
		}
		if q.quitting {
			abandoned := q.back
			q.back = nil
			q.roomCond.Broadcast()
			q.mu.Unlock()
			for _, t := range abandoned {
				t.abandon(ErrQueueStopped)
			}
			return
		}

		q.back, q.work = q.work[:0], q.back
		q.processing = len(q.work)
		q.mu.Unlock()

		for i, t := range q.work {
			if q.isQuitting() {
				for _, rest := range q.work[i:] {
					rest.abandon(ErrQueueStopped)
				}
				break
			}
			q.runTask(t)
		}
		clear(q.work)

		q.mu.Lock()
		q.processing = 0
		q.roomCond.Broadcast()
		q.mu.Unlock()
	}
}

// runTask runs one task, keeping the consumer alive if it panics.
func (q *Queue) runTask(t task) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("work queue task panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	t.run()
}

func (q *Queue) isQuitting() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.quitting
}

// Stop requests the consumer to quit and waits for it to exit.
// Work not yet started is abandoned; its drop function receives
// ErrQueueStopped. Stop must not be called from inside a queued task.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.quitting = true
	started := q.started
	q.workCond.Broadcast()
	q.roomCond.Broadcast()
	abandoned := []task(nil)
	if !started {
		abandoned = q.back
		q.back = nil
	}
	q.mu.Unlock()

	if !started {
		for _, t := range abandoned {
			t.abandon(ErrQueueStopped)
		}
		return
	}
	<-q.exited
}

// Shutdown waits until both buffers are empty, then stops the queue.
// If ctx ends first, the queue is stopped anyway and ctx's error returned.
func (q *Queue) Shutdown(ctx context.Context) error {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for q.Len() > 0 {
		select {
		case <-ctx.Done():
			q.Stop()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	q.Stop()
	return nil
}

// Stopped reports whether Stop has been requested.
func (q *Queue) Stopped() bool {
	return q.isQuitting()
}
