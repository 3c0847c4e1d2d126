package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ternarybob/praeco/internal/models"
)

var (
	// ErrTimeout settles a task whose deadline elapsed. Distinct from a
	// failure so callers and the persisted record can tell them apart.
	ErrTimeout = errors.New("task timed out")

	// ErrCancelled settles a task removed by an explicit kill request.
	ErrCancelled = errors.New("task cancelled")

	// ErrQueueClosed rejects submissions after shutdown.
	ErrQueueClosed = errors.New("task queue is closed")
)

// Result is the settled outcome of a task.
type Result struct {
	Value string
	Err   error
}

// Handle is the caller's one-shot completion handle for a submitted task.
// It is settled exactly once; later settle attempts are ignored.
type Handle struct {
	taskID string
	once   sync.Once
	done   chan Result
}

func newHandle(taskID string) *Handle {
	return &Handle{
		taskID: taskID,
		done:   make(chan Result, 1),
	}
}

// TaskID returns the id of the task this handle tracks.
func (h *Handle) TaskID() string { return h.taskID }

// Done exposes the settled result channel for select loops.
func (h *Handle) Done() <-chan Result { return h.done }

// Wait blocks until the task settles or the context is cancelled.
func (h *Handle) Wait(ctx context.Context) (string, error) {
	select {
	case result := <-h.done:
		return result.Value, result.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// settle resolves or rejects the handle. The sync.Once guard makes
// settlement exactly-once under racing completion and timeout paths.
func (h *Handle) settle(value string, err error) {
	h.once.Do(func() {
		h.done <- Result{Value: value, Err: err}
	})
}

// TaskRecorder receives task lifecycle notifications from the pool. The
// task store implements it; tests substitute a fake.
type TaskRecorder interface {
	Begin(task *models.Task, workerIndex int)
	SetPID(taskID string, pid int)
	AppendLog(taskID string, entry models.TaskLogEntry)
	Settle(taskID string, status models.TaskStatus, result string, errMsg string)
}

// SlotInfo is a point-in-time view of one worker slot, consumed by the
// deadlock watchdog and status reporting.
type SlotInfo struct {
	Index     int       `json:"index"`
	Busy      bool      `json:"busy"`
	TaskID    string    `json:"task_id,omitempty"`
	PID       int       `json:"pid,omitempty"`
	StartTime time.Time `json:"start_time,omitempty"`
	TaskCount int64     `json:"task_count"`
}
