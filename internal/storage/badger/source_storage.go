package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/lustro/internal/interfaces"
	"github.com/ternarybob/lustro/internal/models"
)

// SourceStorage persists the deduplicated page bodies of a run. Not every
// page has a row here: leaf pages inherit an ancestor's body at read time,
// and that resolution happens above this layer.
type SourceStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSourceStorage creates a new SourceStorage instance
func NewSourceStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SourceStorage {
	return &SourceStorage{
		db:     db,
		logger: logger,
	}
}

func (s *SourceStorage) StoreSourceBody(ctx context.Context, body *models.SourceBody) error {
	if body.RunID == "" || body.URL == "" {
		return fmt.Errorf("source body run ID and URL are required")
	}
	if body.ID == "" {
		body.ID = models.SourceKey(body.RunID, body.URL)
	}
	body.SizeBytes = len(body.HTML)

	if err := s.db.Store().Upsert(body.ID, body); err != nil {
		return fmt.Errorf("failed to store source body: %w", err)
	}
	return nil
}

func (s *SourceStorage) GetSourceBody(ctx context.Context, runID, url string) (*models.SourceBody, error) {
	var body models.SourceBody
	if err := s.db.Store().Get(models.SourceKey(runID, url), &body); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s in run %s", models.ErrSourceNotFound, url, runID)
		}
		return nil, fmt.Errorf("failed to get source body: %w", err)
	}
	return &body, nil
}

func (s *SourceStorage) CountSourcesByRun(ctx context.Context, runID string) (int, error) {
	count, err := s.db.Store().Count(&models.SourceBody{}, badgerhold.Where("RunID").Eq(runID))
	if err != nil {
		return 0, fmt.Errorf("failed to count source bodies: %w", err)
	}
	return int(count), nil
}

func (s *SourceStorage) DeleteSourcesByRun(ctx context.Context, runID string) error {
	if err := s.db.Store().DeleteMatching(&models.SourceBody{}, badgerhold.Where("RunID").Eq(runID)); err != nil {
		return fmt.Errorf("failed to delete source bodies for run: %w", err)
	}
	return nil
}
