/*
Package jobs is the scheduler and worker framework driving the recurring
syncs: named queues with cron-style repeatable schedules, one worker per
queue (per-queue concurrency = 1), exponential retry, progress
reporting, bounded completed/failed retention, and graceful shutdown.

QUEUE MODEL:
  Within a queue, jobs run strictly FIFO and never overlap. Across
  queues, workers run in parallel; the schedule table offsets
  inventory-sync and odoo-sync by five minutes to avoid contention.

REPEATABLE REGISTRATION:
  Registrations live in a Redis hash keyed by queue name. Startup wipes
  the hash before re-registering from the schedule table, so restarts
  can never accumulate duplicate cron entries.
*/
package jobs

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Queue names. The schedule table in DefaultQueues is the single source
// of truth for their cadence and retry posture.
const (
	QueueInventorySync = "inventory-sync"
	QueueGLExport      = "gl-export"
	QueueBannerSync    = "banner-sync"
	QueueHourlySales   = "hourly-sales"
	QueueOdooSync      = "odoo-sync"
)

var (
	// ErrUnknownQueue is returned by Add for a queue name with no
	// registration. A fatal caller error, never retried.
	ErrUnknownQueue = errors.New("jobs: unknown queue")
	// ErrQueueClosed is returned when enqueueing after shutdown began.
	ErrQueueClosed = errors.New("jobs: queue closed")
)

// JobOptions is the subset of per-job tuning exposed on the trigger
// surface. Zero values inherit the queue defaults.
type JobOptions struct {
	Priority int           `json:"-"` // lower runs sooner; FIFO within a priority
	Attempts int           `json:"-"`
	Backoff  time.Duration `json:"-"` // exponential base
}

// jobOptionsWire is the trigger-surface JSON shape. Backoff travels as
// milliseconds; decoding a raw integer straight into a time.Duration
// would read it as nanoseconds.
type jobOptionsWire struct {
	Priority  int   `json:"priority"`
	Attempts  int   `json:"attempts"`
	BackoffMs int64 `json:"backoff"`
}

func (o *JobOptions) UnmarshalJSON(b []byte) error {
	var w jobOptionsWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	o.Priority = w.Priority
	o.Attempts = w.Attempts
	o.Backoff = time.Duration(w.BackoffMs) * time.Millisecond
	return nil
}

func (o JobOptions) MarshalJSON() ([]byte, error) {
	return json.Marshal(jobOptionsWire{
		Priority:  o.Priority,
		Attempts:  o.Attempts,
		BackoffMs: o.Backoff.Milliseconds(),
	})
}

// QueueConfig declares one queue: schedule, retry posture, retention.
type QueueConfig struct {
	Name          string
	Cron          string // 5-field cron spec; "" = no repeatable job
	Attempts      int
	Backoff       time.Duration
	KeepCompleted int
	KeepFailed    int
}

// DefaultQueues is the production schedule table. odoo-sync is offset
// from inventory-sync by five minutes on purpose.
func DefaultQueues() []QueueConfig {
	return []QueueConfig{
		{Name: QueueInventorySync, Cron: "*/10 * * * *", Attempts: 3, Backoff: 60 * time.Second, KeepCompleted: 50, KeepFailed: 100},
		{Name: QueueGLExport, Cron: "0 8 * * *", Attempts: 3, Backoff: 60 * time.Second, KeepCompleted: 30, KeepFailed: 100},
		{Name: QueueBannerSync, Cron: "0 5 * * *", Attempts: 2, Backoff: 60 * time.Second, KeepCompleted: 10, KeepFailed: 50},
		{Name: QueueHourlySales, Cron: "0 * * * *", Attempts: 2, Backoff: 60 * time.Second, KeepCompleted: 48, KeepFailed: 100},
		{Name: QueueOdooSync, Cron: "5,20,35,50 * * * *", Attempts: 3, Backoff: 60 * time.Second, KeepCompleted: 50, KeepFailed: 100},
	}
}

// Job is one unit of queued work.
type Job struct {
	ID           string
	Queue        string
	Data         map[string]interface{}
	Opts         JobOptions
	AttemptsMade int
	EnqueuedAt   time.Time

	progress atomic.Int32
}

// ReportProgress records a 0..100 milestone; processors call it coarsely.
func (j *Job) ReportProgress(pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	j.progress.Store(int32(pct))
}

// Progress returns the last reported milestone.
func (j *Job) Progress() int { return int(j.progress.Load()) }

// Counts is the public queue state snapshot.
type Counts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// JobRecord is a retained completed/failed entry.
type JobRecord struct {
	ID         string
	Result     interface{}
	Err        string
	FinishedAt time.Time
}

// queue is the in-process job list for one name. Retained records are
// evicted FIFO at the configured caps.
type queue struct {
	cfg QueueConfig

	mu        sync.Mutex
	waiting   []*Job
	active    *Job
	completed []JobRecord
	failed    []JobRecord
	closed    bool

	// wake nudges the (single) worker; buffered so enqueue never blocks.
	wake chan struct{}
}

func newQueue(cfg QueueConfig) *queue {
	return &queue{cfg: cfg, wake: make(chan struct{}, 1)}
}

// enqueue inserts by priority (lower first), FIFO within equal priority.
func (q *queue) enqueue(j *Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	pos := len(q.waiting)
	for i, w := range q.waiting {
		if j.Opts.Priority < w.Opts.Priority {
			pos = i
			break
		}
	}
	q.waiting = append(q.waiting, nil)
	copy(q.waiting[pos+1:], q.waiting[pos:])
	q.waiting[pos] = j
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// pop blocks until a job is available or stop closes. The returned job
// is marked active; exactly one job can be active at a time because a
// single worker goroutine owns this call. Once stop is signaled no
// further job is taken, so shutdown waits only for the in-flight one.
func (q *queue) pop(stop <-chan struct{}) (*Job, bool) {
	for {
		select {
		case <-stop:
			return nil, false
		default:
		}

		q.mu.Lock()
		if len(q.waiting) > 0 {
			j := q.waiting[0]
			q.waiting = q.waiting[1:]
			q.active = j
			q.mu.Unlock()
			return j, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-stop:
			return nil, false
		}
	}
}

func appendCapped(records []JobRecord, r JobRecord, cap int) []JobRecord {
	records = append(records, r)
	if cap > 0 && len(records) > cap {
		records = records[len(records)-cap:]
	}
	return records
}

func (q *queue) markCompleted(j *Job, result interface{}, at time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active = nil
	q.completed = appendCapped(q.completed, JobRecord{ID: j.ID, Result: result, FinishedAt: at}, q.cfg.KeepCompleted)
}

// markRetrying releases the active slot without retaining a record; the
// job will re-enter waiting after its backoff.
func (q *queue) markRetrying(j *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active = nil
}

func (q *queue) markFailed(j *Job, err error, at time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active = nil
	q.failed = appendCapped(q.failed, JobRecord{ID: j.ID, Err: err.Error(), FinishedAt: at}, q.cfg.KeepFailed)
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *queue) counts() Counts {
	q.mu.Lock()
	defer q.mu.Unlock()
	c := Counts{
		Waiting:   len(q.waiting),
		Completed: len(q.completed),
		Failed:    len(q.failed),
	}
	if q.active != nil {
		c.Active = 1
	}
	return c
}
