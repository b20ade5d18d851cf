package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/lustro/internal/interfaces"
	"github.com/ternarybob/lustro/internal/models"
)

// RelationshipStorage persists the per-run topology as a single record
// keyed by run ID
type RelationshipStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRelationshipStorage creates a new RelationshipStorage instance
func NewRelationshipStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RelationshipStorage {
	return &RelationshipStorage{
		db:     db,
		logger: logger,
	}
}

func (s *RelationshipStorage) StoreRelationships(ctx context.Context, set *models.RelationshipSet) error {
	if set.RunID == "" {
		return fmt.Errorf("relationship set run ID is required")
	}

	if err := s.db.Store().Upsert(set.RunID, set); err != nil {
		return fmt.Errorf("failed to store relationships: %w", err)
	}
	return nil
}

func (s *RelationshipStorage) GetRelationships(ctx context.Context, runID string) (*models.RelationshipSet, error) {
	var set models.RelationshipSet
	if err := s.db.Store().Get(runID, &set); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("relationships for %w: %s", models.ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("failed to get relationships: %w", err)
	}
	return &set, nil
}

func (s *RelationshipStorage) DeleteRelationships(ctx context.Context, runID string) error {
	if err := s.db.Store().Delete(runID, &models.RelationshipSet{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete relationships: %w", err)
	}
	return nil
}
