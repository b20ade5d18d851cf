package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/lustro/internal/interfaces"
	"github.com/ternarybob/lustro/internal/models"
)

// PageStorage implements the PageStorage interface for Badger. Records are
// keyed by run ID and URL, so re-storing a page within a run overwrites it.
type PageStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewPageStorage creates a new PageStorage instance
func NewPageStorage(db *BadgerDB, logger arbor.ILogger) interfaces.PageStorage {
	return &PageStorage{
		db:     db,
		logger: logger,
	}
}

func (s *PageStorage) StorePage(ctx context.Context, page *models.PageRecord) error {
	if page.RunID == "" || page.URL == "" {
		return fmt.Errorf("page run ID and URL are required")
	}
	if page.ID == "" {
		page.ID = models.PageKey(page.RunID, page.URL)
	}

	if err := s.db.Store().Upsert(page.ID, page); err != nil {
		return fmt.Errorf("failed to store page: %w", err)
	}
	return nil
}

func (s *PageStorage) StorePages(ctx context.Context, pages []*models.PageRecord) error {
	for _, page := range pages {
		if err := s.StorePage(ctx, page); err != nil {
			return err
		}
	}
	return nil
}

func (s *PageStorage) GetPage(ctx context.Context, runID, url string) (*models.PageRecord, error) {
	var page models.PageRecord
	if err := s.db.Store().Get(models.PageKey(runID, url), &page); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s in run %s", models.ErrPageNotFound, url, runID)
		}
		return nil, fmt.Errorf("failed to get page: %w", err)
	}
	return &page, nil
}

// GetPagesByRun returns a run's pages in URL order
func (s *PageStorage) GetPagesByRun(ctx context.Context, runID string) ([]*models.PageRecord, error) {
	var pages []models.PageRecord
	query := badgerhold.Where("RunID").Eq(runID).SortBy("URL")
	if err := s.db.Store().Find(&pages, query); err != nil {
		return nil, fmt.Errorf("failed to get pages for run: %w", err)
	}

	result := make([]*models.PageRecord, len(pages))
	for i := range pages {
		result[i] = &pages[i]
	}
	return result, nil
}

func (s *PageStorage) CountPagesByRun(ctx context.Context, runID string) (int, error) {
	count, err := s.db.Store().Count(&models.PageRecord{}, badgerhold.Where("RunID").Eq(runID))
	if err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	return int(count), nil
}

func (s *PageStorage) DeletePagesByRun(ctx context.Context, runID string) error {
	if err := s.db.Store().DeleteMatching(&models.PageRecord{}, badgerhold.Where("RunID").Eq(runID)); err != nil {
		return fmt.Errorf("failed to delete pages for run: %w", err)
	}
	return nil
}
