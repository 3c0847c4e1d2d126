// -----------------------------------------------------------------------
// Worker Pool - bounded-concurrency FIFO task queue for engine execution
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praeco/internal/common"
	"github.com/ternarybob/praeco/internal/interfaces"
	"github.com/ternarybob/praeco/internal/models"
)

// workerSlot is one of the N fixed concurrency units. A slot is busy iff it
// holds a current task id; mutation happens only under the pool mutex.
type workerSlot struct {
	index     int
	busy      bool
	taskID    string
	pid       int
	startTime time.Time
	taskCount int64
}

type queuedTask struct {
	task   *models.Task
	handle *Handle
	timer  *time.Timer
}

type runningTask struct {
	queued *queuedTask
	slot   *workerSlot
	cancel context.CancelFunc
}

// Pool owns the task lifecycle: FIFO backlog, fixed worker slots, per-task
// timeout timers, and the dispatch loop. A single re-entrancy flag guards
// dispatching so that interleaved completions never assign slots
// concurrently; all other mutation is serialized by the mutex.
type Pool struct {
	mu          sync.Mutex
	slots       []*workerSlot
	backlog     []*queuedTask
	running     map[string]*runningTask
	dispatching bool
	closed      bool

	engine      interfaces.Engine
	recorder    TaskRecorder
	logger      arbor.ILogger
	taskTimeout time.Duration

	stats models.QueueStats
}

// NewPool creates a pool with the configured number of worker slots.
func NewPool(config common.QueueConfig, engine interfaces.Engine, recorder TaskRecorder, logger arbor.ILogger) *Pool {
	workers := config.Workers
	if workers <= 0 {
		workers = 1
	}

	slots := make([]*workerSlot, workers)
	for i := range slots {
		slots[i] = &workerSlot{index: i}
	}

	pool := &Pool{
		slots:       slots,
		running:     make(map[string]*runningTask),
		engine:      engine,
		recorder:    recorder,
		logger:      logger,
		taskTimeout: common.Duration(config.TaskTimeout, 5*time.Minute),
	}

	logger.Info().
		Int("workers", workers).
		Dur("task_timeout", pool.taskTimeout).
		Msg("Worker pool created")

	return pool
}

// Submit appends a task to the FIFO backlog, starts its timeout timer and
// triggers the dispatch loop. The returned handle settles exactly once.
func (p *Pool) Submit(payload string, streaming bool) (*Handle, error) {
	task := models.NewTask(payload, streaming)
	handle := newHandle(task.ID)
	queued := &queuedTask{task: task, handle: handle}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrQueueClosed
	}
	queued.timer = time.AfterFunc(p.taskTimeout, func() { p.onTimeout(task.ID) })
	p.backlog = append(p.backlog, queued)
	p.stats.Submitted++
	p.mu.Unlock()

	p.logger.Debug().
		Str("task_id", task.ID).
		Bool("streaming", streaming).
		Msg("Task submitted")

	p.dispatch()
	return handle, nil
}

// Kill removes a queued task or sends an advisory termination to a running
// one. Cancellation of a running task is best-effort: the subprocess is
// signalled, but the task settles when its exit is observed.
func (p *Pool) Kill(taskID string) error {
	p.mu.Lock()
	for i, queued := range p.backlog {
		if queued.task.ID != taskID {
			continue
		}
		p.backlog = append(p.backlog[:i], p.backlog[i+1:]...)
		p.stats.Cancelled++
		queued.timer.Stop()
		p.mu.Unlock()

		queued.handle.settle("", ErrCancelled)
		p.logger.Info().Str("task_id", taskID).Msg("Queued task cancelled")
		return nil
	}

	if rt, ok := p.running[taskID]; ok {
		p.mu.Unlock()
		rt.cancel()
		p.logger.Info().Str("task_id", taskID).Msg("Termination signalled to running task")
		return nil
	}
	p.mu.Unlock()

	return fmt.Errorf("task not found: %s", taskID)
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() models.QueueStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := p.stats
	stats.QueueLength = len(p.backlog)
	for _, slot := range p.slots {
		if slot.busy {
			stats.BusyWorkers++
		}
	}
	return stats
}

// Snapshot returns per-slot state and the backlog length, for the watchdog.
func (p *Pool) Snapshot() ([]SlotInfo, int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	slots := make([]SlotInfo, len(p.slots))
	for i, slot := range p.slots {
		slots[i] = SlotInfo{
			Index:     slot.index,
			Busy:      slot.busy,
			TaskID:    slot.taskID,
			PID:       slot.pid,
			StartTime: slot.startTime,
			TaskCount: slot.taskCount,
		}
	}
	return slots, len(p.backlog)
}

// Close rejects the backlog, signals running tasks and stops accepting
// submissions. Running tasks settle as their processes exit.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	rejected := p.backlog
	p.backlog = nil
	var cancels []context.CancelFunc
	for _, rt := range p.running {
		cancels = append(cancels, rt.cancel)
	}
	p.mu.Unlock()

	for _, queued := range rejected {
		queued.timer.Stop()
		queued.handle.settle("", ErrCancelled)
	}
	for _, cancel := range cancels {
		cancel()
	}

	p.logger.Info().Int("rejected", len(rejected)).Msg("Worker pool closed")
}

// dispatch drains the backlog into idle slots. The dispatching flag makes
// the loop single-entrant: concurrent callers return immediately and the
// active pass picks up any work they enqueued.
func (p *Pool) dispatch() {
	p.mu.Lock()
	if p.dispatching {
		p.mu.Unlock()
		return
	}
	p.dispatching = true

	for !p.closed && len(p.backlog) > 0 {
		slot := p.idleSlot()
		if slot == nil {
			break
		}

		queued := p.backlog[0]
		p.backlog = p.backlog[1:]

		slot.busy = true
		slot.taskID = queued.task.ID
		slot.pid = 0
		slot.startTime = time.Now()
		slot.taskCount++

		ctx, cancel := context.WithCancel(context.Background())
		rt := &runningTask{queued: queued, slot: slot, cancel: cancel}
		p.running[queued.task.ID] = rt
		p.mu.Unlock()

		p.recorder.Begin(queued.task, slot.index)
		p.recorder.AppendLog(queued.task.ID, models.TaskLogEntry{
			Timestamp: time.Now(),
			Stream:    models.LogStreamSystem,
			Content:   fmt.Sprintf("task assigned to worker %d", slot.index),
		})

		p.logger.Info().
			Str("task_id", queued.task.ID).
			Int("worker", slot.index).
			Msg("Task assigned")

		go p.execute(ctx, rt)

		p.mu.Lock()
	}

	p.dispatching = false
	p.mu.Unlock()
}

func (p *Pool) idleSlot() *workerSlot {
	for _, slot := range p.slots {
		if !slot.busy {
			return slot
		}
	}
	return nil
}

func (p *Pool) execute(ctx context.Context, rt *runningTask) {
	taskID := rt.queued.task.ID

	result, err := p.engine.Execute(ctx, interfaces.ExecuteRequest{
		TaskID:    taskID,
		Payload:   rt.queued.task.Payload,
		Streaming: rt.queued.task.Streaming,
		OnLog: func(entry models.TaskLogEntry) {
			p.recorder.AppendLog(taskID, entry)
		},
		OnSpawn: func(pid int) {
			p.setPID(taskID, pid)
		},
	})

	p.complete(taskID, result, err)
}

func (p *Pool) setPID(taskID string, pid int) {
	p.mu.Lock()
	if rt, ok := p.running[taskID]; ok {
		rt.slot.pid = pid
	}
	p.mu.Unlock()
	p.recorder.SetPID(taskID, pid)
}

// complete settles a finished execution. If the task already settled via
// timeout the late completion is logged and dropped.
func (p *Pool) complete(taskID string, result string, err error) {
	p.mu.Lock()
	rt, ok := p.running[taskID]
	if !ok {
		p.mu.Unlock()
		p.logger.Debug().
			Str("task_id", taskID).
			Msg("Late completion for already-settled task ignored")
		return
	}
	delete(p.running, taskID)
	p.freeSlot(rt.slot)

	switch {
	case err == nil:
		p.stats.Completed++
	case errors.Is(err, context.Canceled):
		p.stats.Cancelled++
	default:
		p.stats.Failed++
	}
	p.mu.Unlock()

	rt.queued.timer.Stop()
	rt.cancel()

	switch {
	case err == nil:
		p.recorder.Settle(taskID, models.TaskStatusCompleted, result, "")
		rt.queued.handle.settle(result, nil)
		p.logger.Info().Str("task_id", taskID).Msg("Task completed")
	case errors.Is(err, context.Canceled):
		p.recorder.Settle(taskID, models.TaskStatusFailed, "", ErrCancelled.Error())
		rt.queued.handle.settle("", ErrCancelled)
		p.logger.Info().Str("task_id", taskID).Msg("Task cancelled")
	default:
		p.recorder.Settle(taskID, models.TaskStatusFailed, "", err.Error())
		rt.queued.handle.settle("", err)
		p.logger.Warn().Err(err).Str("task_id", taskID).Msg("Task failed")
	}

	p.dispatch()
}

// onTimeout fires from the per-task timer. A running task's slot is freed
// immediately and the subprocess is signalled; the process may outlive the
// slot briefly. A task still waiting in the backlog is simply rejected.
func (p *Pool) onTimeout(taskID string) {
	p.mu.Lock()

	if rt, ok := p.running[taskID]; ok {
		delete(p.running, taskID)
		p.freeSlot(rt.slot)
		p.stats.TimedOut++
		p.mu.Unlock()

		rt.queued.handle.settle("", ErrTimeout)
		p.recorder.AppendLog(taskID, models.TaskLogEntry{
			Timestamp: time.Now(),
			Stream:    models.LogStreamSystem,
			Content:   "task deadline exceeded, terminating subprocess",
		})
		p.recorder.Settle(taskID, models.TaskStatusTimeout, "", ErrTimeout.Error())
		rt.cancel()

		p.logger.Warn().
			Str("task_id", taskID).
			Dur("timeout", p.taskTimeout).
			Msg("Task timed out")

		p.dispatch()
		return
	}

	for i, queued := range p.backlog {
		if queued.task.ID != taskID {
			continue
		}
		p.backlog = append(p.backlog[:i], p.backlog[i+1:]...)
		p.stats.TimedOut++
		p.mu.Unlock()

		queued.handle.settle("", ErrTimeout)
		p.logger.Warn().Str("task_id", taskID).Msg("Queued task timed out before assignment")
		return
	}

	p.mu.Unlock()
}

func (p *Pool) freeSlot(slot *workerSlot) {
	slot.busy = false
	slot.taskID = ""
	slot.pid = 0
	slot.startTime = time.Time{}
}
