package workqueue

import (
	"context"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Pool runs work on a fixed set of goroutines with no ordering guarantee.
type Pool struct {
	size   int
	tasks  chan task
	logger *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stopped   atomic.Bool
	wg        sync.WaitGroup
	quit      chan struct{}

	// Statistics (atomic)
	submitted atomic.Int64
	completed atomic.Int64
	dropped   atomic.Int64
}

// PoolOption configures a Pool.
type PoolOption func(*poolConfig)

type poolConfig struct {
	queueLength int
	logger      *slog.Logger
}

// WithQueueLength sets how many submissions may wait for a free worker
// before Submit blocks. Default: 4 × pool size
func WithQueueLength(n int) PoolOption {
	return func(c *poolConfig) {
		if n > 0 {
			c.queueLength = n
		}
	}
}

// WithPoolLogger sets the logger used to report recovered panics.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(c *poolConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewPool creates a pool of size workers. A size of zero or less uses
// GOMAXPROCS. Workers start on first Submit.
func NewPool(size int, opts ...PoolOption) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	cfg := poolConfig{
		queueLength: size * 4,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Pool{
		size:   size,
		tasks:  make(chan task, cfg.queueLength),
		logger: cfg.logger,
		quit:   make(chan struct{}),
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

func (p *Pool) start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.size; i++ {
			p.wg.Add(1)
			go p.worker()
		}
	})
}

// Submit hands run to the pool. It blocks while the pool's queue is full,
// until ctx is done or the pool stops. If the pool stops before run
// executes, drop is called with ErrPoolStopped.
func (p *Pool) Submit(ctx context.Context, run func(), drop func(error)) error {
	if run == nil {
		panic("workqueue: run function cannot be nil")
	}
	if p.stopped.Load() {
		return ErrPoolStopped
	}
	p.start()

	select {
	case p.tasks <- task{run: run, drop: drop}:
		p.submitted.Add(1)
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolStopped
	}

	// Stop may have drained the channel between the check above and the
	// send; whoever observes the stop flag last drains what is left.
	if p.stopped.Load() {
		p.drain()
	}
	return nil
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case t := <-p.tasks:
			p.runTask(t)
		case <-p.quit:
			return
		}
	}
}

func (p *Pool) runTask(t task) {
	defer func() {
		p.completed.Add(1)
		if r := recover(); r != nil {
			p.logger.Error("worker pool task panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	t.run()
}

// Stop stops the workers and waits for running tasks to return. Queued work
// that has not started is abandoned with ErrPoolStopped.
// Stop must not be called from inside a pool task.
func (p *Pool) Stop() {
	// Workers never start after a stop.
	p.startOnce.Do(func() {})
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		close(p.quit)
	})
	p.wg.Wait()
	p.drain()
}

func (p *Pool) drain() {
	for {
		select {
		case t := <-p.tasks:
			p.dropped.Add(1)
			t.abandon(ErrPoolStopped)
		default:
			return
		}
	}
}

// Stats returns submitted, completed and dropped task counts.
func (p *Pool) Stats() (submitted, completed, dropped int64) {
	return p.submitted.Load(), p.completed.Load(), p.dropped.Load()
}
