package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/lustro/internal/common"
	"github.com/ternarybob/lustro/internal/interfaces"
	"github.com/ternarybob/lustro/internal/models"
)

const (
	// defaultHostDelay paces requests to the same host; 429 responses
	// halve the host's rate on top of this baseline
	defaultHostDelay = 50 * time.Millisecond

	// progressEventInterval throttles run_progress events to one per N
	// settled URLs so a large crawl does not flood subscribers
	progressEventInterval = 10

	// persistTimeout bounds the final write of a completed run
	persistTimeout = 2 * time.Minute
)

// activeRun is the in-memory state of a run in flight. The mutex guards
// both the run record and the progress snapshot; callers copy under the
// lock and never hand out the live pointers.
type activeRun struct {
	mu       sync.Mutex
	run      *models.AnalysisRun
	progress models.RunProgress
	cancel   context.CancelFunc
	done     chan struct{}
	settled  int
}

func (ar *activeRun) snapshot() (models.AnalysisRun, models.RunProgress) {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	return *ar.run, ar.progress
}

// Service drives analysis runs end to end: crawl, validate, classify,
// persist. Each run executes on its own goroutine with its own cancel
// function; the service tracks in-flight runs for status and cancel.
type Service struct {
	config  *common.Config
	storage interfaces.StorageManager
	results interfaces.ResultsService
	changes interfaces.ChangeService
	events  interfaces.EventService
	logger  arbor.ILogger

	runsMu sync.RWMutex
	active map[string]*activeRun

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates the analysis service. changes may be nil, in which
// case completed runs skip change detection.
func NewService(config *common.Config, storage interfaces.StorageManager, results interfaces.ResultsService, changes interfaces.ChangeService, events interfaces.EventService, logger arbor.ILogger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		config:  config,
		storage: storage,
		results: results,
		changes: changes,
		events:  events,
		logger:  logger,
		active:  make(map[string]*activeRun),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// StartRun validates inputs, stores a pending run and launches the
// analysis asynchronously. The returned run ID is immediately pollable.
func (s *Service) StartRun(ctx context.Context, applicationID, seedURL string, config *models.AnalysisConfig) (string, error) {
	if err := models.ValidateSeedURL(seedURL); err != nil {
		return "", err
	}

	seed, err := CanonicalURL(seedURL)
	if err != nil {
		return "", fmt.Errorf("invalid seed URL: %w", err)
	}

	if s.config.IsProduction() && common.IsTestURL(seed) {
		return "", fmt.Errorf("test URLs are not allowed in production: %s", seed)
	}

	cfg := s.config.AnalysisDefaults()
	if config != nil {
		cfg = *config
	}
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("invalid analysis config: %w", err)
	}

	run := &models.AnalysisRun{
		ID:            common.NewRunID(),
		ApplicationID: applicationID,
		SeedURL:       seed,
		Config:        cfg,
		Status:        models.RunStatusPending,
		CreatedAt:     time.Now(),
	}

	if err := s.storage.RunStorage().StoreRun(ctx, run); err != nil {
		return "", fmt.Errorf("failed to store run: %w", err)
	}

	runCtx, cancelRun := context.WithCancel(s.ctx)
	ar := &activeRun{
		run:    run,
		cancel: cancelRun,
		done:   make(chan struct{}),
		progress: models.RunProgress{
			Phase:       "pending",
			TotalURLs:   1,
			PendingURLs: 1,
			StartTime:   time.Now(),
		},
	}

	s.runsMu.Lock()
	s.active[run.ID] = ar
	s.runsMu.Unlock()

	s.wg.Add(1)
	common.SafeGo(s.logger, fmt.Sprintf("analysis-run-%s", run.ID), func() {
		defer s.wg.Done()
		s.execute(runCtx, ar)
	})

	s.logger.Info().
		Str("run_id", run.ID).
		Str("application_id", applicationID).
		Str("seed_url", seed).
		Int("max_depth", cfg.MaxCrawlDepth).
		Int("max_pages", cfg.MaxPagesToCrawl).
		Msg("Analysis run accepted")

	return run.ID, nil
}

// execute runs the full pipeline for one run. Only invariant violations
// and persistence errors fail a run; an unreachable seed or an expired
// wall clock still completes with whatever was gathered.
func (s *Service) execute(runCtx context.Context, ar *activeRun) {
	defer close(ar.done)

	run := ar.run

	ar.mu.Lock()
	run.Status = models.RunStatusRunning
	run.StartedAt = time.Now()
	ar.progress.Phase = "crawling"
	runCopy := *run
	ar.mu.Unlock()

	if err := s.storeRun(&runCopy); err != nil {
		s.fail(ar, fmt.Sprintf("failed to persist run start: %v", err))
		return
	}
	s.emit(interfaces.EventRunStarted, &models.RunEvent{
		RunID:         run.ID,
		ApplicationID: run.ApplicationID,
		SeedURL:       run.SeedURL,
		Status:        models.RunStatusRunning,
		Timestamp:     time.Now(),
	})

	// The wall clock covers crawl and validation but not the final
	// persist: a run that did the work deserves to land its data
	crawlCtx, cancelCrawl := context.WithTimeout(runCtx, run.Config.RunDeadline())
	defer cancelCrawl()

	fetcher := NewFetcher(run.Config, NewHostRateLimiter(defaultHostDelay), s.logger)
	frontier := NewFrontier(run.ID, run.SeedURL, run.Config, fetcher, s.logger, s.progressFunc(ar))

	outcome, crawlErr := frontier.Crawl(crawlCtx)
	if crawlErr != nil {
		if runCtx.Err() != nil {
			s.fail(ar, "analysis cancelled")
			return
		}
		s.logger.Warn().
			Str("run_id", run.ID).
			Int("pages", len(outcome.Pages)).
			Err(crawlErr).
			Msg("Run deadline reached, completing with partial crawl")
	}

	topology := outcome.Topology
	if err := topology.Verify(); err != nil {
		s.fail(ar, fmt.Sprintf("relationship invariant violated: %v", err))
		return
	}

	s.setPhase(ar, "validating", 85)
	pagesByURL := make(map[string]*FetchedPage, len(outcome.Pages))
	for _, p := range outcome.Pages {
		pagesByURL[p.URL] = p
	}
	validated := NewValidator(run.Config, fetcher, s.logger).Validate(crawlCtx, outcome.Edges, pagesByURL, run.SeedURL)

	if runCtx.Err() != nil {
		s.fail(ar, "analysis cancelled")
		return
	}

	s.setPhase(ar, "persisting", 95)
	pages, bodies := s.buildPageRecords(run.ID, outcome, topology)

	var broken, blank, content int
	for _, p := range pages {
		switch p.PageType {
		case models.PageTypeBlank:
			blank++
		case models.PageTypeContent:
			content++
		}
	}
	for _, e := range outcome.Edges {
		if e.Status.CountsAsBroken() {
			broken++
		}
	}

	ar.mu.Lock()
	run.PagesAnalyzed = len(pages)
	run.LinksFound = len(outcome.Edges)
	run.BrokenLinks = broken
	run.BlankPages = blank
	run.ContentPages = content
	run.OverallScore = models.ComputeScore(broken, blank)
	run.Status = models.RunStatusCompleted
	run.CompletedAt = time.Now()
	runCopy = *run
	ar.mu.Unlock()

	persistCtx, cancelPersist := context.WithTimeout(context.Background(), persistTimeout)
	defer cancelPersist()
	if err := s.results.PersistRun(persistCtx, &runCopy, pages, outcome.Edges, topology, bodies); err != nil {
		s.fail(ar, fmt.Sprintf("failed to persist run results: %v", err))
		return
	}

	// Best effort: a run is complete with or without its diff against the
	// previous crawl of the same seed
	if s.changes != nil {
		if _, err := s.changes.DetectChanges(persistCtx, run.ID); err != nil {
			s.logger.Warn().Str("run_id", run.ID).Err(err).Msg("Change detection failed")
		}
	}

	s.release(run.ID)
	s.emit(interfaces.EventRunCompleted, &models.RunEvent{
		RunID:         run.ID,
		ApplicationID: run.ApplicationID,
		SeedURL:       run.SeedURL,
		Status:        models.RunStatusCompleted,
		PagesAnalyzed: runCopy.PagesAnalyzed,
		LinksFound:    runCopy.LinksFound,
		BrokenLinks:   runCopy.BrokenLinks,
		OverallScore:  runCopy.OverallScore,
		Timestamp:     time.Now(),
	})

	s.logger.Info().
		Str("run_id", run.ID).
		Int("pages", runCopy.PagesAnalyzed).
		Int("links", runCopy.LinksFound).
		Int("validated", validated).
		Int("broken", broken).
		Float64("score", runCopy.OverallScore).
		Str("duration", time.Since(runCopy.StartedAt).Round(time.Millisecond).String()).
		Msg("Analysis run completed")
}

// buildPageRecords shapes the crawl outcome into storable page records
// and the raw bodies keyed by URL
func (s *Service) buildPageRecords(runID string, outcome *CrawlOutcome, topology *models.RelationshipSet) ([]*models.PageRecord, map[string][]byte) {
	pages := make([]*models.PageRecord, 0, len(outcome.Pages))
	bodies := make(map[string][]byte, len(outcome.Pages))

	for _, fp := range outcome.Pages {
		cls := fp.Classification
		pages = append(pages, &models.PageRecord{
			ID:              models.PageKey(runID, fp.URL),
			RunID:           runID,
			URL:             fp.URL,
			Title:           cls.Title,
			PageType:        cls.PageType,
			StatusCode:      fp.StatusCode,
			Depth:           fp.Depth,
			ParentURL:       topology.Parent(fp.URL),
			Path:            topology.Path(fp.URL),
			WordCount:       cls.WordCount,
			LinkCount:       fp.LinkCount,
			HasChildren:     len(topology.Children(fp.URL)) > 0,
			HasHeader:       cls.HasHeader,
			HasFooter:       cls.HasFooter,
			HasNavigation:   cls.HasNavigation,
			StructureDigest: cls.StructureDigest,
			ResponseTimeMs:  fp.ResponseTimeMs,
			FetchedAt:       fp.FetchedAt,
		})
		bodies[fp.URL] = fp.Body
	}

	return pages, bodies
}

// GetRunStatus returns the poll shape for a run, serving in-flight runs
// from memory and finished ones from storage
func (s *Service) GetRunStatus(runID string) (*models.RunStatusReport, error) {
	s.runsMu.RLock()
	ar, ok := s.active[runID]
	s.runsMu.RUnlock()

	if ok {
		run, progress := ar.snapshot()
		return run.StatusReport(progress.Percentage), nil
	}

	run, err := s.storage.RunStorage().GetRun(s.ctx, runID)
	if err != nil {
		return nil, err
	}
	return run.StatusReport(0), nil
}

// GetRunProgress returns the live progress of an in-flight run, or nil
// when the run is not active
func (s *Service) GetRunProgress(runID string) *models.RunProgress {
	s.runsMu.RLock()
	ar, ok := s.active[runID]
	s.runsMu.RUnlock()

	if !ok {
		return nil
	}
	_, progress := ar.snapshot()
	return &progress
}

// ActiveRunIDs lists the runs currently executing
func (s *Service) ActiveRunIDs() []string {
	s.runsMu.RLock()
	defer s.runsMu.RUnlock()

	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	return ids
}

// CancelRun stops a running analysis. Data persisted before the cancel
// is kept; the run record moves to failed.
func (s *Service) CancelRun(runID string) error {
	s.runsMu.RLock()
	ar, ok := s.active[runID]
	s.runsMu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", models.ErrRunNotActive, runID)
	}

	s.logger.Warn().Str("run_id", runID).Msg("Cancelling analysis run")
	ar.cancel()
	return nil
}

// WaitForRun blocks until the run reaches a terminal state or the
// context expires, then returns the stored run record
func (s *Service) WaitForRun(ctx context.Context, runID string) (*models.AnalysisRun, error) {
	s.runsMu.RLock()
	ar, ok := s.active[runID]
	s.runsMu.RUnlock()

	if ok {
		select {
		case <-ar.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		run, err := s.storage.RunStorage().GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.IsTerminal() {
			return run, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// RecoverInterruptedRuns marks runs left in a non-terminal state by a
// previous process as failed. Called once at startup, before the HTTP
// surface starts accepting new runs.
func (s *Service) RecoverInterruptedRuns(ctx context.Context) (int, error) {
	runs, err := s.storage.RunStorage().ListRuns(ctx, "", 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list runs: %w", err)
	}

	recovered := 0
	for _, run := range runs {
		if run.IsTerminal() {
			continue
		}
		run.Status = models.RunStatusFailed
		run.Error = "Interrupted by service restart"
		run.CompletedAt = time.Now()
		if err := s.storage.RunStorage().StoreRun(ctx, run); err != nil {
			s.logger.Warn().Str("run_id", run.ID).Err(err).Msg("Failed to mark interrupted run as failed")
			continue
		}
		recovered++
	}

	if recovered > 0 {
		s.logger.Warn().Int("count", recovered).Msg("Marked interrupted runs from previous process as failed")
	}
	return recovered, nil
}

// Close cancels every in-flight run and waits for their goroutines
func (s *Service) Close() error {
	s.logger.Info().Msg("Shutting down analysis service")
	s.cancel()
	s.wg.Wait()
	s.logger.Info().Msg("Analysis service stopped")
	return nil
}

// fail moves a run to failed, persists it and releases it from the
// active table. Used for cancels, invariant violations and persistence
// errors; crawl-level trouble never lands here.
func (s *Service) fail(ar *activeRun, reason string) {
	ar.mu.Lock()
	run := ar.run
	run.Status = models.RunStatusFailed
	run.Error = reason
	run.CompletedAt = time.Now()
	runCopy := *run
	ar.mu.Unlock()

	if err := s.storeRun(&runCopy); err != nil {
		s.logger.Error().Str("run_id", run.ID).Err(err).Msg("Failed to persist failed run")
	}

	s.release(run.ID)
	s.emit(interfaces.EventRunFailed, &models.RunEvent{
		RunID:         run.ID,
		ApplicationID: run.ApplicationID,
		SeedURL:       run.SeedURL,
		Status:        models.RunStatusFailed,
		Error:         reason,
		Timestamp:     time.Now(),
	})

	s.logger.Warn().Str("run_id", run.ID).Str("reason", reason).Msg("Analysis run failed")
}

func (s *Service) release(runID string) {
	s.runsMu.Lock()
	delete(s.active, runID)
	s.runsMu.Unlock()
}

// storeRun persists a run snapshot on a fresh context, since the run's
// own context may already be cancelled by the time we record its fate
func (s *Service) storeRun(run *models.AnalysisRun) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.storage.RunStorage().StoreRun(ctx, run)
}

// progressFunc builds the frontier callback that keeps the in-memory
// progress current and emits a throttled run_progress event. Crawling
// accounts for the first 80 points of the percentage scale.
func (s *Service) progressFunc(ar *activeRun) ProgressFunc {
	return func(completed, failed, pending int, currentURL string) {
		ar.mu.Lock()
		ar.progress.CompletedURLs = completed
		ar.progress.FailedURLs = failed
		ar.progress.PendingURLs = pending
		ar.progress.TotalURLs = completed + failed + pending
		ar.progress.CurrentURL = currentURL
		if ar.progress.TotalURLs > 0 {
			ar.progress.Percentage = float64(completed+failed) / float64(ar.progress.TotalURLs) * 80
		}
		ar.settled++
		emit := ar.settled%progressEventInterval == 0
		runID := ar.run.ID
		progress := ar.progress
		ar.mu.Unlock()

		if emit {
			s.emit(interfaces.EventRunProgress, &models.RunEvent{
				RunID:     runID,
				Status:    models.RunStatusRunning,
				Progress:  &progress,
				Timestamp: time.Now(),
			})
		}
	}
}

// setPhase advances the progress phase marker and announces it
func (s *Service) setPhase(ar *activeRun, phase string, percentage float64) {
	ar.mu.Lock()
	ar.progress.Phase = phase
	ar.progress.Percentage = percentage
	ar.progress.CurrentURL = ""
	runID := ar.run.ID
	progress := ar.progress
	ar.mu.Unlock()

	s.emit(interfaces.EventRunProgress, &models.RunEvent{
		RunID:     runID,
		Status:    models.RunStatusRunning,
		Progress:  &progress,
		Timestamp: time.Now(),
	})
}

func (s *Service) emit(eventType interfaces.EventType, payload *models.RunEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(s.ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		s.logger.Warn().Str("event", string(eventType)).Err(err).Msg("Failed to publish event")
	}
}
