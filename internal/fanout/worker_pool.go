package fanout

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Task is a unit of background work: token activation, teardown, anything
// the read pump must not block on.
type Task func()

// WorkerPool bounds the concurrency of background tasks. A full queue drops
// the task and counts it; dropping beats an unbounded goroutine pile-up
// when a subscription storm hits.
type WorkerPool struct {
	workerCount int
	tasks       chan Task
	dropped     int64
	logger      zerolog.Logger

	ctx context.Context
	wg  sync.WaitGroup
}

func NewWorkerPool(workerCount int, logger zerolog.Logger) *WorkerPool {
	return &WorkerPool{
		workerCount: workerCount,
		tasks:       make(chan Task, workerCount*100),
		logger:      logger.With().Str("component", "worker-pool").Logger(),
	}
}

// Start launches the workers; they exit when ctx is cancelled.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.ctx = ctx
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for {
		select {
		case task := <-wp.tasks:
			if task != nil {
				wp.run(task)
			}
		case <-wp.ctx.Done():
			return
		}
	}
}

func (wp *WorkerPool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error().
				Interface("panic_value", r).
				Str("stack_trace", string(debug.Stack())).
				Msg("Worker panic recovered")
		}
	}()
	task()
}

// Submit enqueues a task, dropping it when the queue is full.
func (wp *WorkerPool) Submit(task Task) {
	select {
	case wp.tasks <- task:
	default:
		atomic.AddInt64(&wp.dropped, 1)
	}
}

// Dropped returns the total tasks dropped to backpressure.
func (wp *WorkerPool) Dropped() int64 {
	return atomic.LoadInt64(&wp.dropped)
}

// Wait blocks until all workers have exited.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}
