package analysis

import (
	"context"
	"log"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Runner executes oracle calls for independent disputes concurrently while
// keeping the number of in-flight calls bounded. Tasks re-enter the state
// machine through their own completion logic; the runner never mutates
// dispute state itself.
type Runner struct {
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner builds a runner allowing up to workers concurrent tasks.
func NewRunner(workers int) *Runner {
	if workers <= 0 {
		workers = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		sem:    semaphore.NewWeighted(int64(workers)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit schedules task on the pool. The dispute row lock is never held
// across a task; the task re-validates state when it completes. Submission
// after Close is dropped with a log line.
func (r *Runner) Submit(disputeID string, task func(ctx context.Context)) {
	if err := r.sem.Acquire(r.ctx, 1); err != nil {
		log.Printf("analysis: dropping task for dispute %s: runner closed", disputeID)
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.sem.Release(1)
		task(r.ctx)
	}()
}

// Close stops accepting tasks and waits for in-flight ones to finish.
func (r *Runner) Close() {
	r.cancel()
	r.wg.Wait()
}
