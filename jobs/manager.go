/*
manager.go - Queue manager: registration, cron scheduling, shutdown

STARTUP SEQUENCE:
  1. Wipe the Redis repeatable-registration hash (prevents duplicate
     cron entries accumulating across restarts)
  2. Re-register every configured queue's cron spec into the hash
  3. Start one worker per queue
  4. Start the cron runner; each firing enqueues a one-off job

GRACEFUL SHUTDOWN (idempotent):
  1. Stop the cron runner (no job fires after the signal)
  2. Stop workers; each waits for its in-flight job to finish
  3. Close queues (late enqueues get ErrQueueClosed)
  Redis and database handles are closed by the owner (cmd/server).
*/
package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/warp/pos-ledger/cache"
)

// repeatableKey is the Redis hash holding queue -> cron spec.
const repeatableKey = "jobs:repeatable"

// Manager owns the queues, their workers, and the cron schedule.
type Manager struct {
	cache  cache.Cache
	events Events

	mu      sync.Mutex
	queues  map[string]*queue
	order   []string
	procs   map[string]Processor
	workers []*worker
	cron    *cron.Cron
	started bool
	stopped bool
	baseCtx context.Context

	pctx atomic.Pointer[ProcContext]
}

// NewManager creates an empty manager. Register queues, set the
// processor context, then Start.
func NewManager(c cache.Cache, events Events) *Manager {
	m := &Manager{
		cache:   c,
		events:  events,
		queues:  map[string]*queue{},
		procs:   map[string]Processor{},
		baseCtx: context.Background(),
	}
	m.pctx.Store(&ProcContext{})
	return m
}

// Register declares a queue and binds its processor. Must precede Start.
func (m *Manager) Register(cfg QueueConfig, proc Processor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.queues[cfg.Name]; dup {
		panic(fmt.Sprintf("jobs: queue %q registered twice", cfg.Name))
	}
	m.queues[cfg.Name] = newQueue(cfg)
	m.order = append(m.order, cfg.Name)
	m.procs[cfg.Name] = proc
}

// UpdateContext replaces the shared processor context wholesale. Workers
// pick it up on their next job; in-flight jobs keep the snapshot they
// started with.
func (m *Manager) UpdateContext(pc *ProcContext) {
	m.pctx.Store(pc)
}

// Start wipes and re-registers the repeatable schedule, then starts
// workers and the cron runner. Calling Start on two processes (or twice
// after a restart) converges on the same registration set.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("jobs: manager already started")
	}

	// Drop every existing registration before inserting the current
	// schedule table.
	if err := m.cache.Del(ctx, repeatableKey); err != nil {
		return fmt.Errorf("jobs: clearing repeatable registrations: %w", err)
	}
	specs := map[string]string{}
	for _, name := range m.order {
		if c := m.queues[name].cfg.Cron; c != "" {
			specs[name] = c
		}
	}
	if len(specs) > 0 {
		if err := m.cache.HSet(ctx, repeatableKey, specs); err != nil {
			return fmt.Errorf("jobs: registering repeatable jobs: %w", err)
		}
	}

	// One worker per queue, concurrency 1.
	for _, name := range m.order {
		q := m.queues[name]
		w := &worker{
			queue:  q,
			proc:   m.procs[name],
			events: m.events,
			pctx:   &m.pctx,
			base:   m.baseCtx,
			retry:  m.scheduleRetry,
			stop:   make(chan struct{}),
			done:   make(chan struct{}),
		}
		m.workers = append(m.workers, w)
		w.start()
	}

	m.cron = cron.New() // standard 5-field specs
	for _, name := range m.order {
		q := m.queues[name]
		if q.cfg.Cron == "" {
			continue
		}
		queueName := name
		if _, err := m.cron.AddFunc(q.cfg.Cron, func() {
			if id, err := m.Add(queueName, nil, nil); err != nil {
				log.Printf("[Scheduler] enqueue %s failed: %v", queueName, err)
			} else {
				log.Printf("[Scheduler] fired %s (job %s)", queueName, id)
			}
		}); err != nil {
			return fmt.Errorf("jobs: bad cron spec %q for %s: %w", q.cfg.Cron, name, err)
		}
	}
	m.cron.Start()

	m.started = true
	log.Printf("[Scheduler] started: %d queues, %d repeatable", len(m.order), len(specs))
	return nil
}

// scheduleRetry re-enqueues a failed job after its backoff delay. If the
// queue closed in the meantime the job is dropped; shutdown already
// records it as failed-with-retry-pending in the logs.
func (m *Manager) scheduleRetry(j *Job, delay time.Duration) {
	time.AfterFunc(delay, func() {
		if err := m.queueFor(j.Queue).enqueue(j); err != nil {
			log.Printf("[Scheduler] dropping retry of %s/%s: %v", j.Queue, j.ID, err)
		}
	})
}

func (m *Manager) queueFor(name string) *queue {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queues[name]
}

// Add enqueues a one-off job. Unknown queue names are a fatal caller
// error. opts fields override the queue defaults where non-zero.
func (m *Manager) Add(queueName string, data map[string]interface{}, opts *JobOptions) (string, error) {
	m.mu.Lock()
	q, ok := m.queues[queueName]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownQueue, queueName)
	}

	jobOpts := JobOptions{Attempts: q.cfg.Attempts, Backoff: q.cfg.Backoff}
	if opts != nil {
		jobOpts.Priority = opts.Priority
		if opts.Attempts > 0 {
			jobOpts.Attempts = opts.Attempts
		}
		if opts.Backoff > 0 {
			jobOpts.Backoff = opts.Backoff
		}
	}

	job := &Job{
		ID:         uuid.NewString(),
		Queue:      queueName,
		Data:       data,
		Opts:       jobOpts,
		EnqueuedAt: time.Now(),
	}
	if err := q.enqueue(job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// Status reports per-queue counts for the trigger surface.
func (m *Manager) Status() map[string]Counts {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Counts, len(m.queues))
	for name, q := range m.queues {
		out[name] = q.counts()
	}
	return out
}

// Repeatables returns the registered queue -> cron spec map from Redis.
func (m *Manager) Repeatables(ctx context.Context) (map[string]string, error) {
	return m.cache.HGetAll(ctx, repeatableKey)
}

// Shutdown stops scheduling, drains workers (each finishes its current
// job), and closes the queues. Idempotent; safe to call before Start.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	workers := m.workers
	c := m.cron
	queues := make([]*queue, 0, len(m.queues))
	for _, name := range m.order {
		queues = append(queues, m.queues[name])
	}
	m.mu.Unlock()

	if c != nil {
		// Stop returns after in-progress AddFunc callbacks complete; no
		// scheduled job fires past this point.
		<-c.Stop().Done()
	}

	for _, w := range workers {
		close(w.stop)
	}
	for _, w := range workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			return fmt.Errorf("jobs: shutdown timed out waiting for workers: %w", ctx.Err())
		}
	}

	for _, q := range queues {
		q.close()
	}
	log.Printf("[Scheduler] stopped")
	return nil
}
