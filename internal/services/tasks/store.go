// -----------------------------------------------------------------------
// Task Store - in-memory task record history with periodic persistence
// -----------------------------------------------------------------------

package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praeco/internal/common"
	"github.com/ternarybob/praeco/internal/interfaces"
	"github.com/ternarybob/praeco/internal/models"
)

// maxPayloadLen caps the payload text carried on a persisted record.
const maxPayloadLen = 4096

// Store keeps a bounded in-memory history of task records and flushes dirty
// records to durable storage on an interval, plus immediately on settle.
// It is the pool's TaskRecorder and the producer for the log event stream.
type Store struct {
	mu      sync.Mutex
	records map[string]*models.TaskRecord
	order   []string
	dirty   map[string]struct{}

	limit         int
	flushInterval time.Duration
	storage       interfaces.TaskStorage
	events        interfaces.EventService
	logger        arbor.ILogger

	stopped chan struct{}
	once    sync.Once
}

// NewStore creates a task store backed by the given storage.
func NewStore(config common.StorageConfig, storage interfaces.TaskStorage, events interfaces.EventService, logger arbor.ILogger) *Store {
	limit := config.HistoryLimit
	if limit <= 0 {
		limit = 200
	}

	return &Store{
		records:       make(map[string]*models.TaskRecord),
		dirty:         make(map[string]struct{}),
		limit:         limit,
		flushInterval: common.Duration(config.FlushInterval, 10*time.Second),
		storage:       storage,
		events:        events,
		logger:        logger,
		stopped:       make(chan struct{}),
	}
}

// Start launches the periodic flush loop.
func (s *Store) Start() {
	go func() {
		ticker := time.NewTicker(s.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopped:
				return
			case <-ticker.C:
				s.Flush()
			}
		}
	}()
}

// Stop halts the flush loop and performs a final flush.
func (s *Store) Stop() {
	s.once.Do(func() { close(s.stopped) })
	s.Flush()
}

// Begin creates the record for a newly assigned task.
func (s *Store) Begin(task *models.Task, workerIndex int) {
	record := &models.TaskRecord{
		TaskID:      task.ID,
		WorkerIndex: workerIndex,
		Status:      models.TaskStatusRunning,
		StartTime:   time.Now(),
		Payload:     truncate(task.Payload, maxPayloadLen),
	}

	s.mu.Lock()
	s.records[task.ID] = record
	s.order = append(s.order, task.ID)
	s.dirty[task.ID] = struct{}{}
	s.evictLocked()
	s.mu.Unlock()
}

// SetPID records the subprocess pid once the engine spawns it.
func (s *Store) SetPID(taskID string, pid int) {
	s.mu.Lock()
	if record, ok := s.records[taskID]; ok {
		record.PID = pid
		s.dirty[taskID] = struct{}{}
	}
	s.mu.Unlock()
}

// AppendLog attaches a log entry to the record and publishes it to live
// subscribers.
func (s *Store) AppendLog(taskID string, entry models.TaskLogEntry) {
	s.mu.Lock()
	if record, ok := s.records[taskID]; ok {
		record.Logs = append(record.Logs, entry)
		s.dirty[taskID] = struct{}{}
	}
	s.mu.Unlock()

	s.events.PublishLog(taskID, entry)
}

// Settle writes the terminal fields and flushes the record immediately.
func (s *Store) Settle(taskID string, status models.TaskStatus, result string, errMsg string) {
	now := time.Now()

	s.mu.Lock()
	record, ok := s.records[taskID]
	if ok {
		record.Status = status
		record.EndTime = &now
		record.DurationMS = now.Sub(record.StartTime).Milliseconds()
		record.Result = truncate(result, maxPayloadLen)
		record.Error = errMsg
		s.dirty[taskID] = struct{}{}
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	s.flushRecord(taskID)
}

// Get returns a copy of the record for the task, if held in memory.
func (s *Store) Get(taskID string) (*models.TaskRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[taskID]
	if !ok {
		return nil, false
	}
	copied := *record
	copied.Logs = append([]models.TaskLogEntry(nil), record.Logs...)
	return &copied, true
}

// List returns copies of all in-memory records, oldest first.
func (s *Store) List() []*models.TaskRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.TaskRecord, 0, len(s.order))
	for _, id := range s.order {
		if record, ok := s.records[id]; ok {
			copied := *record
			copied.Logs = append([]models.TaskLogEntry(nil), record.Logs...)
			out = append(out, &copied)
		}
	}
	return out
}

// Flush writes all dirty records to storage.
func (s *Store) Flush() {
	s.mu.Lock()
	pending := make([]*models.TaskRecord, 0, len(s.dirty))
	for id := range s.dirty {
		if record, ok := s.records[id]; ok {
			copied := *record
			copied.Logs = append([]models.TaskLogEntry(nil), record.Logs...)
			pending = append(pending, &copied)
		}
		delete(s.dirty, id)
	}
	s.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	ctx := context.Background()
	for _, record := range pending {
		if err := s.storage.SaveTaskRecord(ctx, record); err != nil {
			s.logger.Warn().
				Err(err).
				Str("task_id", record.TaskID).
				Msg("Failed to persist task record")
		}
	}

	s.logger.Debug().Int("records", len(pending)).Msg("Task records flushed")
}

func (s *Store) flushRecord(taskID string) {
	s.mu.Lock()
	record, ok := s.records[taskID]
	var copied models.TaskRecord
	if ok {
		copied = *record
		copied.Logs = append([]models.TaskLogEntry(nil), record.Logs...)
		delete(s.dirty, taskID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	if err := s.storage.SaveTaskRecord(context.Background(), &copied); err != nil {
		s.logger.Warn().
			Err(err).
			Str("task_id", taskID).
			Msg("Failed to persist settled task record")
	}
}

// evictLocked drops the oldest records beyond the history limit. Must be
// called with the mutex held.
func (s *Store) evictLocked() {
	for len(s.order) > s.limit {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.records, oldest)
		delete(s.dirty, oldest)
	}
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "... [truncated]"
}
