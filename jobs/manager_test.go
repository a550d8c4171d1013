package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// fakeKV is an in-memory cache.Cache.
type fakeKV struct {
	mu     sync.Mutex
	data   map[string]string
	hashes map[string]map[string]string
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: map[string]string{}, hashes: map[string]map[string]string{}}
}

func (f *fakeKV) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return "", errors.New("miss")
	}
	return v, nil
}

func (f *fakeKV) MSet(ctx context.Context, pairs map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range pairs {
		f.data[k] = v
	}
	return nil
}

func (f *fakeKV) Set(ctx context.Context, key, value string) error {
	return f.MSet(ctx, map[string]string{key: value})
}

func (f *fakeKV) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
		delete(f.hashes, k)
	}
	return nil
}

func (f *fakeKV) HSet(ctx context.Context, key string, fields map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.hashes[key]
	if h == nil {
		h = map[string]string{}
		f.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (f *fakeKV) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]string{}
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func noopProc(ctx context.Context, job *Job, pc *ProcContext) (interface{}, error) {
	return nil, nil
}

// waitFor polls cond until it holds or the deadline trips.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for: %s", msg)
}

func shutdownManager(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
}

// =============================================================================
// REPEATABLE REGISTRATION
// =============================================================================

func TestManager_StartWipesAndRegistersRepeatables(t *testing.T) {
	// GIVEN: Stale registrations left by a previous deployment
	// WHEN: Starting the manager
	// THEN: Redis holds exactly the current schedule table, nothing else

	kv := newFakeKV()
	ctx := context.Background()
	require.NoError(t, kv.HSet(ctx, repeatableKey, map[string]string{"retired-queue": "* * * * *"}))

	m := NewManager(kv, Events{})
	for _, cfg := range DefaultQueues() {
		m.Register(cfg, noopProc)
	}
	require.NoError(t, m.Start(ctx))
	t.Cleanup(func() { shutdownManager(t, m) })

	specs, err := m.Repeatables(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		QueueInventorySync: "*/10 * * * *",
		QueueGLExport:      "0 8 * * *",
		QueueBannerSync:    "0 5 * * *",
		QueueHourlySales:   "0 * * * *",
		QueueOdooSync:      "5,20,35,50 * * * *",
	}, specs)
}

func TestManager_StartTwiceFails(t *testing.T) {
	m := NewManager(newFakeKV(), Events{})
	m.Register(QueueConfig{Name: "t", Attempts: 1}, noopProc)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { shutdownManager(t, m) })

	assert.Error(t, m.Start(context.Background()))
}

func TestManager_RegisterDuplicatePanics(t *testing.T) {
	m := NewManager(newFakeKV(), Events{})
	m.Register(QueueConfig{Name: "t"}, noopProc)
	assert.Panics(t, func() { m.Register(QueueConfig{Name: "t"}, noopProc) })
}

// =============================================================================
// ENQUEUE AND EXECUTION
// =============================================================================

func TestManager_AddUnknownQueue(t *testing.T) {
	m := NewManager(newFakeKV(), Events{})
	_, err := m.Add("nope", nil, nil)
	assert.ErrorIs(t, err, ErrUnknownQueue)
}

func TestManager_JobRunsToCompletion(t *testing.T) {
	done := make(chan struct{})
	m := NewManager(newFakeKV(), Events{
		Completed: func(queue, jobID string, result interface{}) { close(done) },
	})
	m.Register(QueueConfig{Name: "t", Attempts: 1, KeepCompleted: 10}, func(ctx context.Context, job *Job, pc *ProcContext) (interface{}, error) {
		job.ReportProgress(50)
		return "ok", nil
	})
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { shutdownManager(t, m) })

	id, err := m.Add("t", nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	<-done
	waitFor(t, func() bool { return m.Status()["t"].Completed == 1 }, "completion recorded")
}

func TestManager_RetriesWithBackoffThenSucceeds(t *testing.T) {
	// GIVEN: A processor failing its first two attempts
	// WHEN: The queue allows 3 attempts
	// THEN: The third attempt succeeds and the job counts as completed

	var mu sync.Mutex
	runs := 0
	done := make(chan struct{})

	m := NewManager(newFakeKV(), Events{
		Completed: func(queue, jobID string, result interface{}) { close(done) },
	})
	m.Register(QueueConfig{Name: "flaky", Attempts: 3, Backoff: time.Millisecond, KeepCompleted: 10, KeepFailed: 10},
		func(ctx context.Context, job *Job, pc *ProcContext) (interface{}, error) {
			mu.Lock()
			runs++
			n := runs
			mu.Unlock()
			if n < 3 {
				return nil, errors.New("transient")
			}
			return n, nil
		})
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { shutdownManager(t, m) })

	_, err := m.Add("flaky", nil, nil)
	require.NoError(t, err)

	<-done
	mu.Lock()
	assert.Equal(t, 3, runs)
	mu.Unlock()
	waitFor(t, func() bool { return m.Status()["flaky"].Completed == 1 }, "completion recorded")
	assert.Equal(t, 0, m.Status()["flaky"].Failed, "retried attempts leave no failed record")
}

func TestManager_ExhaustedAttemptsFail(t *testing.T) {
	var mu sync.Mutex
	var willRetrySeq []bool

	m := NewManager(newFakeKV(), Events{
		Failed: func(queue, jobID string, err error, willRetry bool) {
			mu.Lock()
			willRetrySeq = append(willRetrySeq, willRetry)
			mu.Unlock()
		},
	})
	m.Register(QueueConfig{Name: "doomed", Attempts: 2, Backoff: time.Millisecond, KeepFailed: 10},
		func(ctx context.Context, job *Job, pc *ProcContext) (interface{}, error) {
			return nil, errors.New("permanent")
		})
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { shutdownManager(t, m) })

	_, err := m.Add("doomed", nil, nil)
	require.NoError(t, err)

	waitFor(t, func() bool { return m.Status()["doomed"].Failed == 1 }, "terminal failure recorded")
	mu.Lock()
	assert.Equal(t, []bool{true, false}, willRetrySeq)
	mu.Unlock()
}

func TestManager_PanicCountsAsFailure(t *testing.T) {
	m := NewManager(newFakeKV(), Events{})
	m.Register(QueueConfig{Name: "t", Attempts: 1, KeepFailed: 10},
		func(ctx context.Context, job *Job, pc *ProcContext) (interface{}, error) {
			panic("bad payload")
		})
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { shutdownManager(t, m) })

	_, err := m.Add("t", nil, nil)
	require.NoError(t, err)
	waitFor(t, func() bool { return m.Status()["t"].Failed == 1 }, "panic recorded as failure")
}

func TestManager_OneActiveJobPerQueue(t *testing.T) {
	// GIVEN: Three jobs on a queue whose processor is blocked
	// THEN: Exactly one is active; the rest wait in order

	gate := make(chan struct{})
	m := NewManager(newFakeKV(), Events{})
	m.Register(QueueConfig{Name: "t", Attempts: 1, KeepCompleted: 10},
		func(ctx context.Context, job *Job, pc *ProcContext) (interface{}, error) {
			<-gate
			return nil, nil
		})
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { shutdownManager(t, m) })

	for i := 0; i < 3; i++ {
		_, err := m.Add("t", nil, nil)
		require.NoError(t, err)
	}

	waitFor(t, func() bool {
		c := m.Status()["t"]
		return c.Active == 1 && c.Waiting == 2
	}, "one active, two waiting")

	// Still just one after a beat.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, m.Status()["t"].Active)

	close(gate)
	waitFor(t, func() bool { return m.Status()["t"].Completed == 3 }, "all three drained")
}

func TestManager_ContextReplacedWholesale(t *testing.T) {
	got := make(chan string, 1)
	m := NewManager(newFakeKV(), Events{})
	m.Register(QueueConfig{Name: "t", Attempts: 1, KeepCompleted: 10},
		func(ctx context.Context, job *Job, pc *ProcContext) (interface{}, error) {
			got <- pc.ExportDir
			return nil, nil
		})
	m.UpdateContext(&ProcContext{ExportDir: "/srv/exports"})
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { shutdownManager(t, m) })

	_, err := m.Add("t", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "/srv/exports", <-got)
}

// =============================================================================
// SHUTDOWN
// =============================================================================

func TestManager_ShutdownWaitsForInFlightJob(t *testing.T) {
	running := make(chan struct{})
	m := NewManager(newFakeKV(), Events{})
	m.Register(QueueConfig{Name: "t", Attempts: 1, KeepCompleted: 10},
		func(ctx context.Context, job *Job, pc *ProcContext) (interface{}, error) {
			close(running)
			time.Sleep(50 * time.Millisecond)
			return "finished", nil
		})
	require.NoError(t, m.Start(context.Background()))

	_, err := m.Add("t", nil, nil)
	require.NoError(t, err)
	<-running

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	assert.Equal(t, 1, m.Status()["t"].Completed, "the in-flight job ran to completion")

	_, err = m.Add("t", nil, nil)
	assert.ErrorIs(t, err, ErrQueueClosed)

	// Idempotent.
	assert.NoError(t, m.Shutdown(ctx))
}

// =============================================================================
// QUEUE INTERNALS
// =============================================================================

func TestQueue_PriorityThenFIFO(t *testing.T) {
	q := newQueue(QueueConfig{Name: "t"})
	stop := make(chan struct{})

	require.NoError(t, q.enqueue(&Job{ID: "a", Opts: JobOptions{Priority: 1}}))
	require.NoError(t, q.enqueue(&Job{ID: "b", Opts: JobOptions{Priority: 0}}))
	require.NoError(t, q.enqueue(&Job{ID: "c", Opts: JobOptions{Priority: 1}}))

	var order []string
	for i := 0; i < 3; i++ {
		j, ok := q.pop(stop)
		require.True(t, ok)
		order = append(order, j.ID)
		q.markCompleted(j, nil, time.Now())
	}
	assert.Equal(t, []string{"b", "a", "c"}, order)
}

func TestQueue_RetentionCaps(t *testing.T) {
	q := newQueue(QueueConfig{Name: "t", KeepCompleted: 2, KeepFailed: 1})

	for _, id := range []string{"j1", "j2", "j3"} {
		q.markCompleted(&Job{ID: id}, nil, time.Now())
	}
	q.markFailed(&Job{ID: "f1"}, errors.New("x"), time.Now())
	q.markFailed(&Job{ID: "f2"}, errors.New("y"), time.Now())

	c := q.counts()
	assert.Equal(t, 2, c.Completed)
	assert.Equal(t, 1, c.Failed)

	// Eviction is FIFO: the oldest records go first.
	assert.Equal(t, "j2", q.completed[0].ID)
	assert.Equal(t, "j3", q.completed[1].ID)
	assert.Equal(t, "f2", q.failed[0].ID)
}

func TestJobOptions_WireBackoffIsMilliseconds(t *testing.T) {
	// GIVEN: A trigger-surface payload with backoff 60000
	// THEN: The decoded base is one minute, not 60 microseconds of
	//       nanosecond-unit duration

	var opts JobOptions
	require.NoError(t, json.Unmarshal([]byte(`{"priority": 1, "attempts": 2, "backoff": 60000}`), &opts))
	assert.Equal(t, 1, opts.Priority)
	assert.Equal(t, 2, opts.Attempts)
	assert.Equal(t, time.Minute, opts.Backoff)

	out, err := json.Marshal(JobOptions{Priority: 1, Attempts: 2, Backoff: time.Minute})
	require.NoError(t, err)
	assert.JSONEq(t, `{"priority": 1, "attempts": 2, "backoff": 60000}`, string(out))
}

func TestDefaultQueues_ScheduleTable(t *testing.T) {
	byName := map[string]QueueConfig{}
	for _, cfg := range DefaultQueues() {
		byName[cfg.Name] = cfg
	}
	require.Len(t, byName, 5)

	assert.Equal(t, "*/10 * * * *", byName[QueueInventorySync].Cron)
	assert.Equal(t, 3, byName[QueueInventorySync].Attempts)
	assert.Equal(t, "0 8 * * *", byName[QueueGLExport].Cron)
	assert.Equal(t, "5,20,35,50 * * * *", byName[QueueOdooSync].Cron,
		"odoo-sync is offset from inventory-sync to avoid contention")
}
