package backfill

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
)

// Task is one unit of backfill work (one archive download, one REST fill).
type Task func()

// WorkerPool bounds backfill concurrency the way adred-codev-ws_poc/ws's
// worker_pool.go bounds broadcast fan-out, adapted from a drop-on-full
// queue to a blocking Submit: spec.md §4.6.4 requires every gap to
// eventually run, not be dropped under load, so Submit backpressures the
// caller instead of discarding work.
type WorkerPool struct {
	workerCount int
	taskQueue   chan Task
	wg          sync.WaitGroup
	log         zerolog.Logger
}

// NewWorkerPool builds a pool with workerCount goroutines (spec.md §4.6.4
// default 3-8).
func NewWorkerPool(workerCount int, log zerolog.Logger) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 5
	}
	return &WorkerPool{
		workerCount: workerCount,
		taskQueue:   make(chan Task),
		log:         log,
	}
}

// Start opens a fresh task queue and launches the worker goroutines, so a
// pool can be started again after Stop; ctx cancellation stops them once
// the queue drains.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.taskQueue = make(chan Task)
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx)
	}
}

func (wp *WorkerPool) worker(ctx context.Context) {
	defer wp.wg.Done()
	for {
		select {
		case task, ok := <-wp.taskQueue:
			if !ok {
				return
			}
			wp.runTask(task)
		case <-ctx.Done():
			return
		}
	}
}

func (wp *WorkerPool) runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			wp.log.Error().
				Interface("panic_value", r).
				Str("stack_trace", string(debug.Stack())).
				Msg("backfill worker panic recovered")
		}
	}()
	task()
}

// Submit blocks until a worker accepts task.
func (wp *WorkerPool) Submit(task Task) {
	wp.taskQueue <- task
}

// Stop closes the queue and waits for all workers to drain it.
func (wp *WorkerPool) Stop() {
	close(wp.taskQueue)
	wp.wg.Wait()
}
