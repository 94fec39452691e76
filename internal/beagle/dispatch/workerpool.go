package dispatch

import (
	"fmt"

	"golang.org/x/sync/errgroup"
)

// WorkerPool is a fixed set of goroutines, each draining its own buffered
// job channel FIFO, the Go stand-in for the original implementation's
// one-thread/one-queue/one-condition-variable threadData struct (see
// spec.md §4.6, §9). The concrete channel-per-worker shape is grounded in
// samcharles93-mantle's internal/model/attnpool.go attnPool; the pool's
// own lifetime (spawn all workers, recover a panicking one into an error,
// join all of them on Close) is supervised by an errgroup.Group rather
// than a bare sync.WaitGroup, so a worker that panics on a job surfaces
// through Close instead of taking the process down.
type WorkerPool struct {
	queues []chan job
	group  *errgroup.Group
}

type job struct {
	fn   func()
	done chan struct{}
}

// Future is the handle a dispatched job returns; Wait blocks until the
// job has run to completion and returns whatever error it produced, the
// Go analogue of std::shared_future's wait()/get().
type Future struct {
	done chan struct{}
	err  error
}

// Wait blocks until the future's job has completed and returns its
// error, if any. A nil Future is already complete and carries no error.
func (f *Future) Wait() error {
	if f == nil {
		return nil
	}
	<-f.done
	return f.err
}

// NewWorkerPool spawns n worker goroutines, each with its own buffered
// job queue. n must be >= 1.
func NewWorkerPool(n int) *WorkerPool {
	if n < 1 {
		n = 1
	}
	var g errgroup.Group
	wp := &WorkerPool{queues: make([]chan job, n), group: &g}
	for i := range wp.queues {
		q := make(chan job, 256)
		wp.queues[i] = q
		g.Go(func() error {
			var panicErr error
			for j := range q {
				runJob(j, &panicErr)
			}
			return panicErr
		})
	}
	return wp
}

// runJob executes one job's fn, always closing its done channel afterward
// so the dispatching Future never blocks forever, even if fn panics. A
// panic is recorded into *panicErr (first one wins) so the worker keeps
// draining its queue instead of dying and stranding later jobs.
func runJob(j job, panicErr *error) {
	defer close(j.done)
	defer func() {
		if r := recover(); r != nil && *panicErr == nil {
			*panicErr = fmt.Errorf("%w: worker panic: %v", ErrUnidentified, r)
		}
	}()
	j.fn()
}

// Size returns the number of worker goroutines in the pool.
func (wp *WorkerPool) Size() int { return len(wp.queues) }

// Dispatch enqueues fn onto worker workerID's queue (mod pool size) and
// returns a Future the caller can Wait on to retrieve fn's error.
func (wp *WorkerPool) Dispatch(workerID int, fn func() error) *Future {
	f := &Future{done: make(chan struct{})}
	wp.queues[workerID%len(wp.queues)] <- job{fn: func() { f.err = fn() }, done: f.done}
	return f
}

// Close stops every worker once its queue drains and waits for them all
// to exit, returning the first worker panic recovered during the pool's
// lifetime, if any. It must be called exactly once, and no further
// Dispatch calls may follow it — the Go analogue of setting each
// worker's stop flag, signaling, and joining.
func (wp *WorkerPool) Close() error {
	for _, q := range wp.queues {
		close(q)
	}
	return wp.group.Wait()
}
