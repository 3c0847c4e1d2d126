package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praeco/internal/interfaces"
	"github.com/ternarybob/praeco/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// TaskStorage implements the TaskStorage interface for Badger
type TaskStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewTaskStorage creates a new TaskStorage instance
func NewTaskStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TaskStorage {
	return &TaskStorage{
		db:     db,
		logger: logger,
	}
}

// SaveTaskRecord upserts a task record by task id.
func (s *TaskStorage) SaveTaskRecord(ctx context.Context, record *models.TaskRecord) error {
	if record.TaskID == "" {
		return fmt.Errorf("task ID is required")
	}

	if err := s.db.Store().Upsert(record.TaskID, record); err != nil {
		return fmt.Errorf("failed to save task record: %w", err)
	}
	return nil
}

// GetTaskRecord fetches a task record by id.
func (s *TaskStorage) GetTaskRecord(ctx context.Context, taskID string) (*models.TaskRecord, error) {
	var record models.TaskRecord
	if err := s.db.Store().Get(taskID, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("task record not found: %s", taskID)
		}
		return nil, fmt.Errorf("failed to get task record: %w", err)
	}
	return &record, nil
}

// ListTaskRecords returns the most recent task records, newest first.
func (s *TaskStorage) ListTaskRecords(ctx context.Context, limit int) ([]*models.TaskRecord, error) {
	query := badgerhold.Where("TaskID").Ne("").SortBy("StartTime").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []models.TaskRecord
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list task records: %w", err)
	}

	result := make([]*models.TaskRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}
