package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/lustro/internal/interfaces"
	"github.com/ternarybob/lustro/internal/models"
)

// ChangeStorage persists change detection results, one record per run
// keyed by the newer run's ID
type ChangeStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewChangeStorage creates a new ChangeStorage instance
func NewChangeStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ChangeStorage {
	return &ChangeStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ChangeStorage) StoreChanges(ctx context.Context, changes *models.ChangeDetection) error {
	if changes.RunID == "" {
		return fmt.Errorf("change detection run ID is required")
	}

	if err := s.db.Store().Upsert(changes.RunID, changes); err != nil {
		return fmt.Errorf("failed to store changes: %w", err)
	}
	return nil
}

func (s *ChangeStorage) GetChanges(ctx context.Context, runID string) (*models.ChangeDetection, error) {
	var changes models.ChangeDetection
	if err := s.db.Store().Get(runID, &changes); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: run %s", models.ErrChangesNotFound, runID)
		}
		return nil, fmt.Errorf("failed to get changes: %w", err)
	}
	return &changes, nil
}

func (s *ChangeStorage) DeleteChanges(ctx context.Context, runID string) error {
	if err := s.db.Store().Delete(runID, &models.ChangeDetection{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete changes: %w", err)
	}
	return nil
}
