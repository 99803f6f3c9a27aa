package reconcile

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cory-johannsen/minigolf/internal/player"
)

// Job is one identity handed to the worker.
type Job struct {
	Identity player.Identity
	// Attempt is the 1-based attempt number.
	Attempt int
}

// Worker runs at most one reconciliation at a time on a background goroutine and
// reports each Result over a channel drained by the control loop.
//
// Invariant: at most one job is in flight.
type Worker struct {
	pipeline *Pipeline
	timeout  time.Duration
	busy     atomic.Bool
	results  chan Result
}

// NewWorker creates a Worker. timeout bounds each store interaction sequence; zero
// means no bound.
//
// Precondition: pipeline must be non-nil.
func NewWorker(pipeline *Pipeline, timeout time.Duration) *Worker {
	return &Worker{
		pipeline: pipeline,
		timeout:  timeout,
		results:  make(chan Result, 1),
	}
}

// Results delivers one Result per started job.
func (w *Worker) Results() <-chan Result {
	return w.results
}

// Busy reports whether a job is in flight.
func (w *Worker) Busy() bool {
	return w.busy.Load()
}

// TryStart launches job unless another job is in flight.
//
// Postcondition: returns true iff the job was started; its Result will be sent on
// Results. In-flight jobs are never cancelled.
func (w *Worker) TryStart(job Job) bool {
	if !w.busy.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		ctx := context.Background()
		if w.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, w.timeout)
			defer cancel()
		}
		res := w.pipeline.Reconcile(ctx, job.Identity)
		res.Attempt = job.Attempt
		// Open the gate only once the result is queued for the loop.
		w.results <- res
		w.busy.Store(false)
	}()
	return true
}
