package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/lustro/internal/interfaces"
	"github.com/ternarybob/lustro/internal/models"
)

// LinkStorage implements the LinkStorage interface for Badger. One record
// exists per discovered target URL per run; queries return them in
// discovery order.
type LinkStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewLinkStorage creates a new LinkStorage instance
func NewLinkStorage(db *BadgerDB, logger arbor.ILogger) interfaces.LinkStorage {
	return &LinkStorage{
		db:     db,
		logger: logger,
	}
}

func (s *LinkStorage) StoreLink(ctx context.Context, link *models.LinkRecord) error {
	if link.RunID == "" || link.URL == "" {
		return fmt.Errorf("link run ID and URL are required")
	}
	if link.ID == "" {
		link.ID = models.LinkKey(link.RunID, link.URL)
	}

	if err := s.db.Store().Upsert(link.ID, link); err != nil {
		return fmt.Errorf("failed to store link: %w", err)
	}
	return nil
}

func (s *LinkStorage) StoreLinks(ctx context.Context, links []*models.LinkRecord) error {
	for _, link := range links {
		if err := s.StoreLink(ctx, link); err != nil {
			return err
		}
	}
	return nil
}

func (s *LinkStorage) GetLink(ctx context.Context, runID, url string) (*models.LinkRecord, error) {
	var link models.LinkRecord
	if err := s.db.Store().Get(models.LinkKey(runID, url), &link); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s in run %s", models.ErrLinkNotFound, url, runID)
		}
		return nil, fmt.Errorf("failed to get link: %w", err)
	}
	return &link, nil
}

func (s *LinkStorage) GetLinksByRun(ctx context.Context, runID string) ([]*models.LinkRecord, error) {
	return s.findLinks(badgerhold.Where("RunID").Eq(runID).SortBy("DiscoveryOrder"))
}

func (s *LinkStorage) GetLinksByParent(ctx context.Context, runID, parentURL string) ([]*models.LinkRecord, error) {
	return s.findLinks(badgerhold.Where("RunID").Eq(runID).And("ParentURL").Eq(parentURL).SortBy("DiscoveryOrder"))
}

func (s *LinkStorage) GetBrokenLinks(ctx context.Context, runID string) ([]*models.LinkRecord, error) {
	return s.findLinks(badgerhold.Where("RunID").Eq(runID).And("Status").Eq(models.LinkStatusBroken).SortBy("DiscoveryOrder"))
}

func (s *LinkStorage) CountLinksByRun(ctx context.Context, runID string) (int, error) {
	count, err := s.db.Store().Count(&models.LinkRecord{}, badgerhold.Where("RunID").Eq(runID))
	if err != nil {
		return 0, fmt.Errorf("failed to count links: %w", err)
	}
	return int(count), nil
}

func (s *LinkStorage) DeleteLinksByRun(ctx context.Context, runID string) error {
	if err := s.db.Store().DeleteMatching(&models.LinkRecord{}, badgerhold.Where("RunID").Eq(runID)); err != nil {
		return fmt.Errorf("failed to delete links for run: %w", err)
	}
	return nil
}

func (s *LinkStorage) findLinks(query *badgerhold.Query) ([]*models.LinkRecord, error) {
	var links []models.LinkRecord
	if err := s.db.Store().Find(&links, query); err != nil {
		return nil, fmt.Errorf("failed to query links: %w", err)
	}

	result := make([]*models.LinkRecord, len(links))
	for i := range links {
		result[i] = &links[i]
	}
	return result, nil
}
