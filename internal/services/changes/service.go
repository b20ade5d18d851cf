package changes

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/lustro/internal/interfaces"
	"github.com/ternarybob/lustro/internal/models"
)

// maxBucketURLs bounds each change bucket. Page budgets already cap a run
// at 1000 pages, so this only guards against corrupted stored state.
const maxBucketURLs = 1000

// Service compares a completed run against the most recent prior completed
// run for the same seed. Pages are matched by canonical URL; a matched
// page counts as modified when its structure digest differs, so text-only
// edits stay in the unchanged bucket.
type Service struct {
	storage interfaces.StorageManager
	logger  arbor.ILogger
}

func NewService(storage interfaces.StorageManager, logger arbor.ILogger) *Service {
	return &Service{storage: storage, logger: logger}
}

// DetectChanges computes and stores the change detection for a run.
// Returns nil without error when no prior completed run exists to compare
// against.
func (s *Service) DetectChanges(ctx context.Context, runID string) (*models.ChangeDetection, error) {
	run, err := s.storage.RunStorage().GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != models.RunStatusCompleted {
		return nil, fmt.Errorf("change detection needs a completed run, %s is %s", runID, run.Status)
	}

	previous, err := s.previousCompleted(ctx, run)
	if err != nil {
		return nil, err
	}
	if previous == nil {
		s.logger.Debug().Str("run_id", runID).Str("seed_url", run.SeedURL).Msg("No prior completed run to compare against")
		return nil, nil
	}

	current, err := s.digestsByURL(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	baseline, err := s.digestsByURL(ctx, previous.ID)
	if err != nil {
		return nil, err
	}

	detection := &models.ChangeDetection{
		RunID:         run.ID,
		PreviousRunID: previous.ID,
		SeedURL:       run.SeedURL,
		GeneratedAt:   time.Now(),
	}
	for url, digest := range current {
		before, existed := baseline[url]
		switch {
		case !existed:
			detection.NewPages = append(detection.NewPages, url)
		case before != digest:
			detection.ModifiedPages = append(detection.ModifiedPages, url)
		default:
			detection.UnchangedPages = append(detection.UnchangedPages, url)
		}
	}
	for url := range baseline {
		if _, exists := current[url]; !exists {
			detection.RemovedPages = append(detection.RemovedPages, url)
		}
	}
	for _, bucket := range []*[]string{&detection.NewPages, &detection.RemovedPages, &detection.ModifiedPages, &detection.UnchangedPages} {
		sort.Strings(*bucket)
		if len(*bucket) > maxBucketURLs {
			*bucket = (*bucket)[:maxBucketURLs]
		}
	}

	if err := s.storage.ChangeStorage().StoreChanges(ctx, detection); err != nil {
		return nil, fmt.Errorf("store change detection for run %s: %w", runID, err)
	}

	s.logger.Info().
		Str("run_id", run.ID).
		Str("previous_run_id", previous.ID).
		Int("new", len(detection.NewPages)).
		Int("removed", len(detection.RemovedPages)).
		Int("modified", len(detection.ModifiedPages)).
		Int("unchanged", len(detection.UnchangedPages)).
		Msg("Change detection stored")

	return detection, nil
}

// previousCompleted finds the newest completed run for the same seed that
// started before the given run
func (s *Service) previousCompleted(ctx context.Context, run *models.AnalysisRun) (*models.AnalysisRun, error) {
	candidates, err := s.storage.RunStorage().ListRunsBySeed(ctx, run.SeedURL)
	if err != nil {
		return nil, fmt.Errorf("list runs for seed %s: %w", run.SeedURL, err)
	}
	for _, candidate := range candidates {
		if candidate.ID == run.ID || candidate.Status != models.RunStatusCompleted {
			continue
		}
		if candidate.CreatedAt.Before(run.CreatedAt) {
			return candidate, nil
		}
	}
	return nil, nil
}

func (s *Service) digestsByURL(ctx context.Context, runID string) (map[string]string, error) {
	pages, err := s.storage.PageStorage().GetPagesByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load pages for run %s: %w", runID, err)
	}
	digests := make(map[string]string, len(pages))
	for _, page := range pages {
		digests[page.URL] = page.StructureDigest
	}
	return digests, nil
}
