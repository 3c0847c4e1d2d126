// -----------------------------------------------------------------------
// Task - engine task lifecycle and persisted record structures
// -----------------------------------------------------------------------

package models

import (
	"time"

	"github.com/ternarybob/praeco/internal/common"
)

// TaskStatus represents the lifecycle state of an engine task.
type TaskStatus string

const (
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusTimeout   TaskStatus = "timeout"
)

// LogStream identifies the origin of a task log entry.
type LogStream string

const (
	LogStreamStdout LogStream = "stdout"
	LogStreamStderr LogStream = "stderr"
	LogStreamSystem LogStream = "system"
)

// TaskLogEntry is a single log line captured while a task executes.
type TaskLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Stream    LogStream `json:"stream"`
	Content   string    `json:"content"`
}

// Task is an engine invocation request owned by the queue from submission
// until it is settled. The payload is the full prompt text handed to the
// reasoning engine; Streaming selects the newline-delimited event protocol
// instead of the single-envelope output.
type Task struct {
	ID        string
	Payload   string
	Streaming bool
	CreatedAt time.Time
}

// NewTask creates a task with a fresh id.
func NewTask(payload string, streaming bool) *Task {
	return &Task{
		ID:        common.NewTaskID(),
		Payload:   payload,
		Streaming: streaming,
		CreatedAt: time.Now(),
	}
}

// TaskRecord is the persisted projection of a task. It is created when a
// worker slot is assigned and mutated by log appenders and the final settle
// step. Payload and Result are truncated before persistence.
type TaskRecord struct {
	TaskID      string         `json:"task_id" badgerhold:"key"`
	WorkerIndex int            `json:"worker_index"`
	PID         int            `json:"pid,omitempty"`
	Status      TaskStatus     `json:"status"`
	StartTime   time.Time      `json:"start_time"`
	EndTime     *time.Time     `json:"end_time,omitempty"`
	DurationMS  int64          `json:"duration_ms,omitempty"`
	Payload     string         `json:"payload"`
	Result      string         `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	Logs        []TaskLogEntry `json:"logs"`
}

// Terminal reports whether the record has reached a final status.
func (r *TaskRecord) Terminal() bool {
	switch r.Status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusTimeout:
		return true
	}
	return false
}

// QueueStats is a point-in-time snapshot of pool counters, exposed for
// the watchdog and status reporting.
type QueueStats struct {
	Submitted   int64 `json:"submitted"`
	Completed   int64 `json:"completed"`
	Failed      int64 `json:"failed"`
	TimedOut    int64 `json:"timed_out"`
	Cancelled   int64 `json:"cancelled"`
	QueueLength int   `json:"queue_length"`
	BusyWorkers int   `json:"busy_workers"`
}
