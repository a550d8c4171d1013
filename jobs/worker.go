package jobs

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"
)

// Processor executes one job. It receives the shared processor context
// (registry, clients, export dir) alongside the job payload. Returning
// an error marks the attempt failed and may trigger a retry; the result
// value is retained on completion.
type Processor func(ctx context.Context, job *Job, pc *ProcContext) (interface{}, error)

// Events are the worker lifecycle callbacks. Nil fields are skipped.
type Events struct {
	Completed func(queue, jobID string, result interface{})
	Failed    func(queue, jobID string, err error, willRetry bool)
	Stalled   func(queue, jobID string)
	Error     func(err error)
}

// stallThreshold is how long a single attempt may run before the stalled
// event fires. Purely observational; the job keeps running (shutdown is
// what bounds it, via the POS HTTP timeouts).
const stallThreshold = 10 * time.Minute

// worker drains one queue with concurrency 1.
type worker struct {
	queue  *queue
	proc   Processor
	events Events
	pctx   *atomic.Pointer[ProcContext]
	base   context.Context

	// retry re-enqueues a job after backoff; owned by the manager so
	// retries survive worker restarts within a process.
	retry func(j *Job, delay time.Duration)

	stop chan struct{}
	done chan struct{}
}

func (w *worker) start() {
	go w.run()
}

func (w *worker) run() {
	defer close(w.done)
	for {
		job, ok := w.queue.pop(w.stop)
		if !ok {
			return
		}
		w.runJob(job)
	}
}

func (w *worker) runJob(job *Job) {
	stallTimer := time.AfterFunc(stallThreshold, func() {
		if w.events.Stalled != nil {
			w.events.Stalled(job.Queue, job.ID)
		}
	})
	defer stallTimer.Stop()

	pc := w.pctx.Load()
	result, err := w.runProtected(job, pc)

	if err == nil {
		job.ReportProgress(100)
		w.queue.markCompleted(job, result, time.Now())
		if w.events.Completed != nil {
			w.events.Completed(job.Queue, job.ID, result)
		}
		return
	}

	job.AttemptsMade++
	willRetry := job.AttemptsMade < job.Opts.Attempts
	if w.events.Failed != nil {
		w.events.Failed(job.Queue, job.ID, err, willRetry)
	}

	if !willRetry {
		w.queue.markFailed(job, err, time.Now())
		return
	}

	// Exponential backoff from the configured base: base, 2x, 4x, ...
	delay := job.Opts.Backoff << (job.AttemptsMade - 1)
	log.Printf("[Worker:%s] job %s attempt %d/%d failed, retrying in %v: %v",
		job.Queue, job.ID, job.AttemptsMade, job.Opts.Attempts, delay, err)
	w.queue.markRetrying(job)
	w.retry(job, delay)
}

// runProtected converts processor panics into attempt failures so one
// bad payload cannot take the worker goroutine down.
func (w *worker) runProtected(job *Job, pc *ProcContext) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("jobs: processor panic: %v", r)
			if w.events.Error != nil {
				w.events.Error(err)
			}
		}
	}()
	return w.proc(w.base, job, pc)
}
