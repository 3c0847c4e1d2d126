package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/praeco/internal/common"
	"github.com/ternarybob/praeco/internal/interfaces"
	"github.com/ternarybob/praeco/internal/models"
)

// fakeEngine delegates to a per-test exec function.
type fakeEngine struct {
	mu     sync.Mutex
	starts []string
	exec   func(ctx context.Context, req interfaces.ExecuteRequest) (string, error)
}

func (f *fakeEngine) Execute(ctx context.Context, req interfaces.ExecuteRequest) (string, error) {
	f.mu.Lock()
	f.starts = append(f.starts, req.TaskID)
	f.mu.Unlock()
	return f.exec(ctx, req)
}

func (f *fakeEngine) startOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.starts...)
}

// fakeRecorder counts lifecycle notifications.
type fakeRecorder struct {
	mu      sync.Mutex
	begun   []string
	pids    map[string]int
	logs    map[string]int
	settles map[string][]models.TaskStatus
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		pids:    make(map[string]int),
		logs:    make(map[string]int),
		settles: make(map[string][]models.TaskStatus),
	}
}

func (r *fakeRecorder) Begin(task *models.Task, workerIndex int) {
	r.mu.Lock()
	r.begun = append(r.begun, task.ID)
	r.mu.Unlock()
}

func (r *fakeRecorder) SetPID(taskID string, pid int) {
	r.mu.Lock()
	r.pids[taskID] = pid
	r.mu.Unlock()
}

func (r *fakeRecorder) AppendLog(taskID string, entry models.TaskLogEntry) {
	r.mu.Lock()
	r.logs[taskID]++
	r.mu.Unlock()
}

func (r *fakeRecorder) Settle(taskID string, status models.TaskStatus, result string, errMsg string) {
	r.mu.Lock()
	r.settles[taskID] = append(r.settles[taskID], status)
	r.mu.Unlock()
}

func (r *fakeRecorder) settleHistory(taskID string) []models.TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.TaskStatus(nil), r.settles[taskID]...)
}

func testQueueConfig(workers int, taskTimeout string) common.QueueConfig {
	return common.QueueConfig{
		Workers:          workers,
		TaskTimeout:      taskTimeout,
		WatchdogInterval: "1h",
		StallFraction:    0.8,
		BacklogThreshold: 10,
	}
}

// waitFor polls a condition with a deadline.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never met: %s", msg)
}

func TestPool_CompletesTask(t *testing.T) {
	engine := &fakeEngine{exec: func(ctx context.Context, req interfaces.ExecuteRequest) (string, error) {
		return `{"ok":true}`, nil
	}}
	recorder := newFakeRecorder()
	pool := NewPool(testQueueConfig(2, "5s"), engine, recorder, common.GetLogger())
	defer pool.Close()

	handle, err := pool.Submit("payload", false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := handle.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, result)

	assert.Equal(t, []models.TaskStatus{models.TaskStatusCompleted}, recorder.settleHistory(handle.TaskID()))

	stats := pool.Stats()
	assert.Equal(t, int64(1), stats.Submitted)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestPool_ConcurrencyCap(t *testing.T) {
	release := make(chan struct{})
	engine := &fakeEngine{exec: func(ctx context.Context, req interfaces.ExecuteRequest) (string, error) {
		<-release
		return "done", nil
	}}
	pool := NewPool(testQueueConfig(2, "10s"), engine, newFakeRecorder(), common.GetLogger())
	defer pool.Close()

	var handles []*Handle
	for i := 0; i < 4; i++ {
		handle, err := pool.Submit("payload", false)
		require.NoError(t, err)
		handles = append(handles, handle)
	}

	// Two tasks reach the engine, two wait. Busy slots are marked before the
	// worker goroutines call into the engine, so wait on the start count.
	waitFor(t, time.Second, func() bool {
		return len(engine.startOrder()) == 2
	}, "two tasks started")
	waitFor(t, time.Second, func() bool {
		stats := pool.Stats()
		return stats.BusyWorkers == 2 && stats.QueueLength == 2
	}, "two busy workers with two queued tasks")

	// Never more than the slot count in flight while the slots are held.
	assert.Len(t, engine.startOrder(), 2)

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, handle := range handles {
		_, err := handle.Wait(ctx)
		require.NoError(t, err)
	}
}

func TestPool_FIFOOrder(t *testing.T) {
	engine := &fakeEngine{exec: func(ctx context.Context, req interfaces.ExecuteRequest) (string, error) {
		return "ok", nil
	}}
	pool := NewPool(testQueueConfig(1, "5s"), engine, newFakeRecorder(), common.GetLogger())
	defer pool.Close()

	var submitted []string
	var handles []*Handle
	for i := 0; i < 5; i++ {
		handle, err := pool.Submit("payload", false)
		require.NoError(t, err)
		submitted = append(submitted, handle.TaskID())
		handles = append(handles, handle)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, handle := range handles {
		_, err := handle.Wait(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, submitted, engine.startOrder())
}

func TestPool_TimeoutFreesSlot(t *testing.T) {
	engine := &fakeEngine{exec: func(ctx context.Context, req interfaces.ExecuteRequest) (string, error) {
		if req.Payload == "stall" {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "fast", nil
	}}
	recorder := newFakeRecorder()
	pool := NewPool(testQueueConfig(1, "150ms"), engine, recorder, common.GetLogger())
	defer pool.Close()

	stalled, err := pool.Submit("stall", false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = stalled.Wait(ctx)
	assert.ErrorIs(t, err, ErrTimeout)

	// The slot is released before the stalled subprocess confirms exit, so a
	// fresh task must be schedulable immediately.
	quick, err := pool.Submit("quick", false)
	require.NoError(t, err)
	result, err := quick.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fast", result)

	// The late engine return for the stalled task must not settle it twice.
	waitFor(t, time.Second, func() bool {
		return len(recorder.settleHistory(stalled.TaskID())) > 0
	}, "stalled task settled")
	assert.Equal(t, []models.TaskStatus{models.TaskStatusTimeout}, recorder.settleHistory(stalled.TaskID()))

	stats := pool.Stats()
	assert.Equal(t, int64(1), stats.TimedOut)
}

func TestPool_KillQueuedTask(t *testing.T) {
	release := make(chan struct{})
	engine := &fakeEngine{exec: func(ctx context.Context, req interfaces.ExecuteRequest) (string, error) {
		<-release
		return "ok", nil
	}}
	pool := NewPool(testQueueConfig(1, "10s"), engine, newFakeRecorder(), common.GetLogger())
	defer pool.Close()

	running, err := pool.Submit("first", false)
	require.NoError(t, err)
	queued, err := pool.Submit("second", false)
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool { return pool.Stats().QueueLength == 1 }, "second task queued")

	require.NoError(t, pool.Kill(queued.TaskID()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = queued.Wait(ctx)
	assert.ErrorIs(t, err, ErrCancelled)

	close(release)
	_, err = running.Wait(ctx)
	require.NoError(t, err)
}

func TestPool_KillRunningTask(t *testing.T) {
	engine := &fakeEngine{exec: func(ctx context.Context, req interfaces.ExecuteRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	recorder := newFakeRecorder()
	pool := NewPool(testQueueConfig(1, "10s"), engine, recorder, common.GetLogger())
	defer pool.Close()

	handle, err := pool.Submit("payload", false)
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool { return pool.Stats().BusyWorkers == 1 }, "task running")

	require.NoError(t, pool.Kill(handle.TaskID()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = handle.Wait(ctx)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, []models.TaskStatus{models.TaskStatusFailed}, recorder.settleHistory(handle.TaskID()))
}

func TestPool_KillUnknownTask(t *testing.T) {
	engine := &fakeEngine{exec: func(ctx context.Context, req interfaces.ExecuteRequest) (string, error) {
		return "ok", nil
	}}
	pool := NewPool(testQueueConfig(1, "5s"), engine, newFakeRecorder(), common.GetLogger())
	defer pool.Close()

	assert.Error(t, pool.Kill("task_nope"))
}

func TestPool_Close(t *testing.T) {
	release := make(chan struct{})
	engine := &fakeEngine{exec: func(ctx context.Context, req interfaces.ExecuteRequest) (string, error) {
		select {
		case <-release:
			return "ok", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}}
	pool := NewPool(testQueueConfig(1, "10s"), engine, newFakeRecorder(), common.GetLogger())

	running, err := pool.Submit("first", false)
	require.NoError(t, err)
	queued, err := pool.Submit("second", false)
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool { return pool.Stats().BusyWorkers == 1 }, "first task running")

	pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Queued work is rejected outright; the running task is signalled.
	_, err = queued.Wait(ctx)
	assert.ErrorIs(t, err, ErrCancelled)
	_, err = running.Wait(ctx)
	assert.ErrorIs(t, err, ErrCancelled)

	_, err = pool.Submit("late", false)
	assert.ErrorIs(t, err, ErrQueueClosed)

	close(release)
}

func TestPool_HandleWaitRespectsContext(t *testing.T) {
	engine := &fakeEngine{exec: func(ctx context.Context, req interfaces.ExecuteRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	pool := NewPool(testQueueConfig(1, "10s"), engine, newFakeRecorder(), common.GetLogger())
	defer pool.Close()

	handle, err := pool.Submit("payload", false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = handle.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
