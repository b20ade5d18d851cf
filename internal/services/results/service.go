package results

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/lustro/internal/interfaces"
	"github.com/ternarybob/lustro/internal/models"
	"github.com/ternarybob/lustro/internal/services/crawler"
)

// Service writes completed run artifacts and serves the hierarchical
// reads over them. All URL-keyed lookups canonicalize their input first,
// so callers may pass any spelling of a URL the run saw.
type Service struct {
	storage   interfaces.StorageManager
	transform interfaces.TransformService
	events    interfaces.EventService
	logger    arbor.ILogger
}

// NewService creates a results service. transform and events may be nil;
// markdown renditions and delete events are skipped when they are.
func NewService(storage interfaces.StorageManager, transform interfaces.TransformService, events interfaces.EventService, logger arbor.ILogger) *Service {
	return &Service{
		storage:   storage,
		transform: transform,
		events:    events,
		logger:    logger,
	}
}

// PersistRun writes pages, links, topology and the selected source bodies,
// then the run row last: a terminal run row is what makes the artifacts
// visible, so readers never observe a half-written run. Each write is
// retried once; a second failure rolls back everything already written.
func (s *Service) PersistRun(ctx context.Context, run *models.AnalysisRun, pages []*models.PageRecord, links []*models.LinkRecord, set *models.RelationshipSet, bodies map[string][]byte) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run with an ID is required")
	}
	if set == nil {
		return fmt.Errorf("relationship set is required")
	}

	sourceBodies, err := s.selectBodies(run, set, bodies)
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("run_id", run.ID).
		Int("pages", len(pages)).
		Int("links", len(links)).
		Int("bodies", len(sourceBodies)).
		Msg("Persisting run artifacts")

	steps := []struct {
		name string
		fn   func() error
	}{
		{"pages", func() error { return s.storage.PageStorage().StorePages(ctx, pages) }},
		{"links", func() error { return s.storage.LinkStorage().StoreLinks(ctx, links) }},
		{"relationships", func() error { return s.storage.RelationshipStorage().StoreRelationships(ctx, set) }},
		{"bodies", func() error { return s.storeBodies(ctx, sourceBodies) }},
		{"run", func() error { return s.storage.RunStorage().StoreRun(ctx, run) }},
	}
	for _, step := range steps {
		if err := s.writeWithRetry(run.ID, step.name, step.fn); err != nil {
			s.rollback(ctx, run.ID)
			return fmt.Errorf("persist %s for run %s: %w", step.name, run.ID, err)
		}
	}
	return nil
}

// selectBodies applies the body write rule: a row for every page at least
// one child was discovered on, plus the seed whenever it was fetched.
// Leaf bodies are dropped; their URLs resolve to an ancestor's body at
// read time.
func (s *Service) selectBodies(run *models.AnalysisRun, set *models.RelationshipSet, bodies map[string][]byte) ([]*models.SourceBody, error) {
	// Children are only ever discovered on fetched pages, so an interior
	// page without a body means the inputs are inconsistent and every
	// hierarchical read under it would fail
	for url, children := range set.ChildrenMap {
		if len(children) == 0 {
			continue
		}
		if _, fetched := bodies[url]; !fetched {
			return nil, fmt.Errorf("page %s carries %d children but no fetched body", url, len(children))
		}
	}

	urls := make([]string, 0, len(bodies))
	for url := range bodies {
		if url == set.SeedURL || len(set.Children(url)) > 0 {
			urls = append(urls, url)
		}
	}
	sort.Strings(urls)

	now := time.Now()
	selected := make([]*models.SourceBody, 0, len(urls))
	for _, url := range urls {
		body := &models.SourceBody{
			RunID:    run.ID,
			URL:      url,
			HTML:     string(bodies[url]),
			StoredAt: now,
		}
		if s.transform != nil && body.HTML != "" {
			if err := s.transform.ValidateHTML(body.HTML); err != nil {
				// Pages can answer 200 with JSON or plain text; store those as-is
				s.logger.Debug().Str("run_id", run.ID).Str("url", url).Err(err).Msg("Body is not renderable HTML, skipping markdown")
			} else if markdown, err := s.transform.HTMLToMarkdown(body.HTML, url); err != nil {
				s.logger.Warn().Str("run_id", run.ID).Str("url", url).Err(err).Msg("Markdown rendition failed, storing HTML only")
			} else {
				body.Markdown = markdown
			}
		}
		selected = append(selected, body)
	}
	return selected, nil
}

func (s *Service) storeBodies(ctx context.Context, bodies []*models.SourceBody) error {
	for _, body := range bodies {
		if err := s.storage.SourceStorage().StoreSourceBody(ctx, body); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) writeWithRetry(runID, step string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	s.logger.Warn().Str("run_id", runID).Str("step", step).Err(err).Msg("Store write failed, retrying once")
	return fn()
}

// rollback removes whatever a failed persist already wrote. The run row
// is left alone; the caller records the failure on it.
func (s *Service) rollback(ctx context.Context, runID string) {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"sources", func() error { return s.storage.SourceStorage().DeleteSourcesByRun(ctx, runID) }},
		{"relationships", func() error { return s.storage.RelationshipStorage().DeleteRelationships(ctx, runID) }},
		{"links", func() error { return s.storage.LinkStorage().DeleteLinksByRun(ctx, runID) }},
		{"pages", func() error { return s.storage.PageStorage().DeletePagesByRun(ctx, runID) }},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			s.logger.Error().Str("run_id", runID).Str("step", step.name).Err(err).Msg("Rollback step failed")
		}
	}
	s.logger.Warn().Str("run_id", runID).Msg("Persist rolled back")
}

// GetRunBundle returns run metadata with every page record, edge record
// and the topology maps in one shape
func (s *Service) GetRunBundle(ctx context.Context, runID string) (*models.RunBundle, error) {
	run, err := s.storage.RunStorage().GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	pages, err := s.storage.PageStorage().GetPagesByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load pages for run %s: %w", runID, err)
	}
	links, err := s.storage.LinkStorage().GetLinksByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load links for run %s: %w", runID, err)
	}
	set, err := s.relationshipsOrEmpty(ctx, runID, run.SeedURL)
	if err != nil {
		return nil, err
	}

	return &models.RunBundle{
		Run:           run,
		Pages:         pages,
		Links:         links,
		Relationships: set,
	}, nil
}

// GetParentChild returns the three topology maps for a run
func (s *Service) GetParentChild(ctx context.Context, runID string) (*models.RelationshipSet, error) {
	run, err := s.storage.RunStorage().GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return s.relationshipsOrEmpty(ctx, runID, run.SeedURL)
}

// relationshipsOrEmpty loads the stored topology, substituting the empty
// seed-only set for runs that have not persisted yet
func (s *Service) relationshipsOrEmpty(ctx context.Context, runID, seedURL string) (*models.RelationshipSet, error) {
	set, err := s.storage.RelationshipStorage().GetRelationships(ctx, runID)
	if errors.Is(err, models.ErrRunNotFound) {
		return models.NewRelationshipSet(runID, seedURL), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load relationships for run %s: %w", runID, err)
	}
	return set, nil
}

// GetSource resolves the body for a URL. A direct hit answers at depth
// zero; otherwise the parent chain is walked upward until an ancestor
// with a stored body is found, with a hard ceiling of max_crawl_depth+1
// hops. The returned body carries byte-offset highlights for every edge
// discovered on the page that actually supplied the body.
func (s *Service) GetSource(ctx context.Context, runID, pageURL string) (*models.SourceResult, error) {
	run, err := s.storage.RunStorage().GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	canonical, err := crawler.CanonicalURL(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", pageURL, err)
	}
	set, err := s.relationshipsOrEmpty(ctx, runID, run.SeedURL)
	if err != nil {
		return nil, err
	}

	body, err := s.storage.SourceStorage().GetSourceBody(ctx, runID, canonical)
	if err == nil {
		return s.buildSourceResult(ctx, runID, canonical, canonical, []string{canonical}, set, body)
	}
	if !errors.Is(err, models.ErrSourceNotFound) {
		return nil, err
	}

	path := []string{canonical}
	cur := canonical
	ceiling := run.Config.MaxCrawlDepth + 1
	for hop := 1; ; hop++ {
		if hop > ceiling {
			return nil, fmt.Errorf("%w: traversal ceiling reached above %s", models.ErrSourceNotFound, pageURL)
		}
		parent, known := set.ParentMap[cur]
		if !known {
			// Walked past the root, or the URL was never seen in this run
			return nil, fmt.Errorf("%w: %s", models.ErrSourceNotFound, pageURL)
		}
		cur = parent
		path = append(path, cur)

		body, err := s.storage.SourceStorage().GetSourceBody(ctx, runID, cur)
		if err == nil {
			return s.buildSourceResult(ctx, runID, canonical, cur, path, set, body)
		}
		if !errors.Is(err, models.ErrSourceNotFound) {
			return nil, err
		}
	}
}

func (s *Service) buildSourceResult(ctx context.Context, runID, requested, actual string, path []string, set *models.RelationshipSet, body *models.SourceBody) (*models.SourceResult, error) {
	// Highlights describe the body being returned, so the edges of the
	// page that supplied it, not of the page that was asked for
	edges, err := s.storage.LinkStorage().GetLinksByParent(ctx, runID, actual)
	if err != nil {
		return nil, fmt.Errorf("load links for %s: %w", actual, err)
	}

	return &models.SourceResult{
		URL:              requested,
		ActualSourcePage: actual,
		Inherited:        actual != requested,
		ParentURL:        set.Parent(requested),
		TraversalPath:    path,
		HierarchyDepth:   len(path) - 1,
		HTML:             body.HTML,
		Markdown:         body.Markdown,
		HighlightedLinks: highlightLinks(body.HTML, edges),
		StoredAt:         body.StoredAt,
	}, nil
}

// GetBrokenLinks lists edges whose status counts as broken, in discovery
// order. Timeouts and rate limits are not broken and do not appear.
func (s *Service) GetBrokenLinks(ctx context.Context, runID string) ([]*models.LinkRecord, error) {
	if _, err := s.storage.RunStorage().GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.storage.LinkStorage().GetBrokenLinks(ctx, runID)
}

// GetBrokenLinkDetail returns the edge record for a URL plus the title of
// the page that carries it and the seed-to-URL path
func (s *Service) GetBrokenLinkDetail(ctx context.Context, runID, url string) (*models.BrokenLinkDetail, error) {
	canonical, err := crawler.CanonicalURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", url, err)
	}

	link, err := s.storage.LinkStorage().GetLink(ctx, runID, canonical)
	if err != nil {
		return nil, err
	}

	detail := &models.BrokenLinkDetail{Link: *link}
	if link.ParentURL != "" {
		if page, err := s.storage.PageStorage().GetPage(ctx, runID, link.ParentURL); err == nil {
			detail.ParentTitle = page.Title
		}
	}
	if set, err := s.storage.RelationshipStorage().GetRelationships(ctx, runID); err == nil {
		detail.Path = set.Path(canonical)
	}
	return detail, nil
}

// DeleteRun cascades across every keyed row of the run. Artifacts go
// first and the run row last, so a cascade interrupted midway can simply
// be re-issued.
func (s *Service) DeleteRun(ctx context.Context, runID string) error {
	run, err := s.storage.RunStorage().GetRun(ctx, runID)
	if err != nil {
		return err
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"changes", func() error { return s.storage.ChangeStorage().DeleteChanges(ctx, runID) }},
		{"sources", func() error { return s.storage.SourceStorage().DeleteSourcesByRun(ctx, runID) }},
		{"relationships", func() error { return s.storage.RelationshipStorage().DeleteRelationships(ctx, runID) }},
		{"links", func() error { return s.storage.LinkStorage().DeleteLinksByRun(ctx, runID) }},
		{"pages", func() error { return s.storage.PageStorage().DeletePagesByRun(ctx, runID) }},
		{"run", func() error { return s.storage.RunStorage().DeleteRun(ctx, runID) }},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return fmt.Errorf("delete %s for run %s: %w", step.name, runID, err)
		}
	}

	s.logger.Info().Str("run_id", runID).Str("seed_url", run.SeedURL).Msg("Run deleted")
	if s.events != nil {
		if err := s.events.Publish(ctx, interfaces.Event{
			Type: interfaces.EventRunDeleted,
			Payload: &models.RunEvent{
				RunID:         runID,
				ApplicationID: run.ApplicationID,
				SeedURL:       run.SeedURL,
				Status:        run.Status,
				Timestamp:     time.Now(),
			},
		}); err != nil {
			s.logger.Warn().Str("run_id", runID).Err(err).Msg("Failed to publish run_deleted event")
		}
	}
	return nil
}
