package crawler

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/lustro/internal/common"
	"github.com/ternarybob/lustro/internal/models"
)

// URLState is the monotonic per-URL lifecycle within a crawl
type URLState int

const (
	StateUnseen URLState = iota
	StateEnqueued
	StateFetching
	StateFetched
	StateFailedFetch
	StateClassified
)

// nonPageExtensions are path suffixes the frontier never fetches as pages.
// Links to them are still recorded as edges.
var nonPageExtensions = []string{
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
	".zip", ".rar", ".tar", ".gz", ".jpg", ".jpeg", ".png", ".gif",
	".svg", ".ico", ".webp", ".css", ".js", ".xml", ".json", ".txt",
	".woff", ".woff2", ".ttf", ".eot", ".mp3", ".mp4", ".avi", ".mov",
}

type queueItem struct {
	url       string
	depth     int
	parentURL string
}

// FetchedPage couples one fetch with its classification. Bodies stay in
// memory for the duration of the run so the persistence step can decide
// which ones to keep.
type FetchedPage struct {
	URL            string
	Depth          int
	ParentURL      string
	StatusCode     int
	Body           []byte
	LinkCount      int // Outbound links extracted, duplicates collapsed
	ResponseTimeMs int64
	FetchedAt      time.Time
	Classification Classification
}

// CrawlOutcome is everything one bounded traversal produced
type CrawlOutcome struct {
	Pages    []*FetchedPage       // Completed fetches in settle order
	Edges    []*models.LinkRecord // Discovery order; statuses still unknown
	Topology *models.RelationshipSet

	Fetches       int // Attempts, including failed ones
	FailedFetches int
}

// ProgressFunc receives frontier progress after every settled fetch
type ProgressFunc func(completed, failed, pending int, currentURL string)

// Frontier drives one bounded breadth-first traversal. Fetches within a
// batch run concurrently, but settlement - classification, extraction,
// parent attribution, enqueueing - is strictly sequential in queue order,
// which keeps edge discovery order and parent attribution deterministic.
//
// A Frontier is single-use: construct, Crawl once, read the outcome.
type Frontier struct {
	runID      string
	seedURL    string
	config     models.AnalysisConfig
	fetcher    *Fetcher
	extractor  *LinkExtractor
	classifier *Classifier
	tracker    *PathTracker
	batcher    *AdaptiveBatcher
	logger     arbor.ILogger
	onProgress ProgressFunc

	queue        []queueItem
	states       map[string]URLState
	enqueued     int // Total ever enqueued, seed included; bounded by MaxPagesToCrawl
	discoverySeq int

	pages   []*FetchedPage
	edges   []*models.LinkRecord
	fetches int
	failed  int
}

// NewFrontier builds a frontier for one run. The seed URL must already be
// canonical.
func NewFrontier(runID, seedURL string, config models.AnalysisConfig, fetcher *Fetcher, logger arbor.ILogger, onProgress ProgressFunc) *Frontier {
	return &Frontier{
		runID:      runID,
		seedURL:    seedURL,
		config:     config,
		fetcher:    fetcher,
		extractor:  NewLinkExtractor(config, seedURL, logger),
		classifier: NewClassifier(),
		tracker:    NewPathTracker(runID, seedURL),
		batcher:    NewAdaptiveBatcher(),
		logger:     logger,
		onProgress: onProgress,
		states:     make(map[string]URLState),
	}
}

// Crawl runs the traversal to completion. A deadline expiry or cancel on
// ctx stops the crawl between batches; the partial outcome is still valid
// and is returned alongside the context error so the caller can decide
// what the interruption means.
func (f *Frontier) Crawl(ctx context.Context) (*CrawlOutcome, error) {
	f.queue = append(f.queue, queueItem{url: f.seedURL, depth: 0})
	f.states[f.seedURL] = StateEnqueued
	f.enqueued = 1

	f.logger.Info().
		Str("run_id", f.runID).
		Str("seed", f.seedURL).
		Int("max_depth", f.config.MaxCrawlDepth).
		Int("max_pages", f.config.MaxPagesToCrawl).
		Msg("Crawl started")

	for len(f.queue) > 0 {
		if err := ctx.Err(); err != nil {
			f.logger.Info().Str("run_id", f.runID).Int("pending", len(f.queue)).Msg("Crawl interrupted")
			return f.outcome(), err
		}

		size := f.batcher.Next()
		if size > len(f.queue) {
			size = len(f.queue)
		}
		batch := f.queue[:size]
		f.queue = f.queue[size:]

		results := f.fetchBatch(ctx, batch)
		for i, item := range batch {
			f.settle(item, results[i])
		}
	}

	f.logger.Info().
		Str("run_id", f.runID).
		Int("pages", len(f.pages)).
		Int("edges", len(f.edges)).
		Int("failed", f.failed).
		Msg("Crawl finished")

	return f.outcome(), nil
}

type fetchOutcome struct {
	result  *FetchResult
	failure *FetchFailure
}

// fetchBatch dispatches one batch through the fetcher's semaphore and
// waits for every request to settle. Results come back indexed by batch
// position so settlement order matches queue order.
func (f *Frontier) fetchBatch(ctx context.Context, items []queueItem) []fetchOutcome {
	outcomes := make([]fetchOutcome, len(items))
	var wg sync.WaitGroup

	for i, item := range items {
		f.states[item.url] = StateFetching
		wg.Add(1)
		idx, url := i, item.url
		common.SafeGo(f.logger, "frontierFetch", func() {
			defer wg.Done()
			result, failure := f.fetcher.Fetch(ctx, url)
			outcomes[idx] = fetchOutcome{result: result, failure: failure}
		})
	}

	wg.Wait()
	return outcomes
}

// settle processes one completed fetch: record the outcome, classify,
// extract links, attribute parents, and enqueue eligible children
func (f *Frontier) settle(item queueItem, outcome fetchOutcome) {
	f.fetches++

	if outcome.failure != nil {
		f.states[item.url] = StateFailedFetch
		f.failed++
		f.batcher.Record(true)
		f.logger.Warn().
			Str("run_id", f.runID).
			Str("url", item.url).
			Str("kind", string(outcome.failure.Kind)).
			Err(outcome.failure.Err).
			Msg("Fetch failed")
		f.reportProgress(item.url)
		return
	}

	result := outcome.result
	f.states[item.url] = StateFetched
	// 5xx answers mean the target is struggling even though a page was
	// produced, so they count against the error rate
	f.batcher.Record(result.StatusCode >= 500)

	cls := f.classifier.Classify(result.Body, result.StatusCode)
	page := &FetchedPage{
		URL:            item.url,
		Depth:          item.depth,
		ParentURL:      item.parentURL,
		StatusCode:     result.StatusCode,
		Body:           result.Body,
		ResponseTimeMs: result.Elapsed.Milliseconds(),
		FetchedAt:      time.Now(),
		Classification: cls,
	}
	f.pages = append(f.pages, page)
	f.states[item.url] = StateClassified

	// Links are only mined from healthy pages; error and redirect bodies
	// would attribute their boilerplate links to the wrong place
	if result.StatusCode >= 200 && result.StatusCode < 300 && len(bytes.TrimSpace(result.Body)) > 0 {
		page.LinkCount = f.collectLinks(item, result)
	}

	f.reportProgress(item.url)
}

// collectLinks extracts, attributes and enqueues the children of one page,
// returning how many distinct links the page carried
func (f *Frontier) collectLinks(item queueItem, result *FetchResult) int {
	// Relative links resolve against where the page actually came from
	links, err := f.extractor.Extract(result.Body, result.FinalURL)
	if err != nil {
		f.logger.Warn().Str("run_id", f.runID).Str("url", item.url).Err(err).Msg("Link extraction failed")
		return 0
	}

	for _, link := range links {
		if !f.tracker.Observe(item.url, link.TargetURL) {
			// Already known: no new edge, no re-enqueue
			continue
		}

		f.edges = append(f.edges, &models.LinkRecord{
			ID:             models.LinkKey(f.runID, link.TargetURL),
			RunID:          f.runID,
			URL:            link.TargetURL,
			ParentURL:      item.url,
			Text:           link.Text,
			LinkType:       link.Type,
			DiscoveryOrder: f.discoverySeq,
			Status:         models.LinkStatusUnknown,
		})
		f.discoverySeq++

		if f.eligible(link, item.depth+1) {
			f.queue = append(f.queue, queueItem{url: link.TargetURL, depth: item.depth + 1, parentURL: item.url})
			f.states[link.TargetURL] = StateEnqueued
			f.enqueued++
		}
	}
	return len(links)
}

// eligible decides whether a first-seen child joins the queue: navigational
// link type, same origin, within the depth budget, within the page budget,
// and not a plain asset by extension
func (f *Frontier) eligible(link ExtractedLink, depth int) bool {
	if link.Type != models.LinkTypeStatic && link.Type != models.LinkTypeDynamic {
		return false
	}
	if depth > f.config.MaxCrawlDepth {
		return false
	}
	if f.enqueued >= f.config.MaxPagesToCrawl {
		return false
	}
	if !common.SameOrigin(link.TargetURL, f.seedURL) {
		return false
	}
	return !isNonPageURL(link.TargetURL)
}

func isNonPageURL(url string) bool {
	lower := strings.ToLower(url)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	for _, ext := range nonPageExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func (f *Frontier) reportProgress(currentURL string) {
	if f.onProgress != nil {
		f.onProgress(len(f.pages), f.failed, len(f.queue), currentURL)
	}
}

func (f *Frontier) outcome() *CrawlOutcome {
	return &CrawlOutcome{
		Pages:         f.pages,
		Edges:         f.edges,
		Topology:      f.tracker.Set(),
		Fetches:       f.fetches,
		FailedFetches: f.failed,
	}
}

// State reports the lifecycle state of a URL after (or during) the crawl
func (f *Frontier) State(url string) URLState {
	return f.states[url]
}
