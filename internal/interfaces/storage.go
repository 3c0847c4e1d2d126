package interfaces

import (
	"context"

	"github.com/ternarybob/praeco/internal/models"
)

// TaskStorage persists task records, upserted by task id.
type TaskStorage interface {
	SaveTaskRecord(ctx context.Context, record *models.TaskRecord) error
	GetTaskRecord(ctx context.Context, taskID string) (*models.TaskRecord, error)
	ListTaskRecords(ctx context.Context, limit int) ([]*models.TaskRecord, error)
}

// LoginStorage persists per-platform login state.
type LoginStorage interface {
	SaveLoginRecord(ctx context.Context, record *models.LoginRecord) error
	GetLoginRecord(ctx context.Context, platformID string) (*models.LoginRecord, error)
	ListLoginRecords(ctx context.Context) ([]*models.LoginRecord, error)
}

// StorageManager owns the underlying database and hands out typed stores.
type StorageManager interface {
	TaskStorage() TaskStorage
	LoginStorage() LoginStorage
	Close() error
}
