package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praeco/internal/interfaces"
	"github.com/ternarybob/praeco/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// LoginStorage implements the LoginStorage interface for Badger
type LoginStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewLoginStorage creates a new LoginStorage instance
func NewLoginStorage(db *BadgerDB, logger arbor.ILogger) interfaces.LoginStorage {
	return &LoginStorage{
		db:     db,
		logger: logger,
	}
}

// SaveLoginRecord upserts a login record by platform id.
func (s *LoginStorage) SaveLoginRecord(ctx context.Context, record *models.LoginRecord) error {
	if record.PlatformID == "" {
		return fmt.Errorf("platform ID is required")
	}

	if err := s.db.Store().Upsert(record.PlatformID, record); err != nil {
		return fmt.Errorf("failed to save login record: %w", err)
	}
	return nil
}

// GetLoginRecord fetches the login record for a platform.
func (s *LoginStorage) GetLoginRecord(ctx context.Context, platformID string) (*models.LoginRecord, error) {
	var record models.LoginRecord
	if err := s.db.Store().Get(platformID, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("login record not found: %s", platformID)
		}
		return nil, fmt.Errorf("failed to get login record: %w", err)
	}
	return &record, nil
}

// ListLoginRecords returns all login records.
func (s *LoginStorage) ListLoginRecords(ctx context.Context) ([]*models.LoginRecord, error) {
	var records []models.LoginRecord
	if err := s.db.Store().Find(&records, badgerhold.Where("PlatformID").Ne("")); err != nil {
		return nil, fmt.Errorf("failed to list login records: %w", err)
	}

	result := make([]*models.LoginRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}
