package crawler

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/lustro/internal/common"
	"github.com/ternarybob/lustro/internal/models"
)

// Validator settles the status of discovered edges after the crawl. Up to
// max_links_to_validate edges are visited, cheapest first:
//
//  1. targets the crawl already fetched - their page outcome is copied
//     without touching the network;
//  2. same-origin targets in discovery order;
//  3. external targets in discovery order.
//
// Everything past the budget keeps status unknown. Probes run in adaptive
// batches under the validator's own concurrency cap, independent from the
// fetcher's crawl semaphore.
type Validator struct {
	config  models.AnalysisConfig
	fetcher *Fetcher
	batcher *AdaptiveBatcher
	sem     chan struct{}
	logger  arbor.ILogger
}

func NewValidator(config models.AnalysisConfig, fetcher *Fetcher, logger arbor.ILogger) *Validator {
	return &Validator{
		config:  config,
		fetcher: fetcher,
		batcher: NewAdaptiveBatcher(),
		sem:     make(chan struct{}, config.ValidatorConcurrency),
		logger:  logger,
	}
}

// Validate updates edge records in place and returns how many were
// settled. Edges must be in discovery order. A cancelled context stops
// probing between batches; untouched edges simply stay unknown.
func (v *Validator) Validate(ctx context.Context, edges []*models.LinkRecord, pages map[string]*FetchedPage, seedURL string) int {
	budget := v.config.MaxLinksToValidate
	if budget > len(edges) {
		budget = len(edges)
	}

	var fetched, sameOrigin, external []*models.LinkRecord
	for _, edge := range edges {
		switch {
		case pages[edge.URL] != nil:
			fetched = append(fetched, edge)
		case common.SameOrigin(edge.URL, seedURL):
			sameOrigin = append(sameOrigin, edge)
		default:
			external = append(external, edge)
		}
	}

	selected := make([]*models.LinkRecord, 0, budget)
	for _, group := range [][]*models.LinkRecord{fetched, sameOrigin, external} {
		for _, edge := range group {
			if len(selected) == budget {
				break
			}
			selected = append(selected, edge)
		}
	}

	validated := 0
	var probes []*models.LinkRecord
	for _, edge := range selected {
		if page := pages[edge.URL]; page != nil {
			v.reuse(edge, page)
			validated++
		} else {
			probes = append(probes, edge)
		}
	}

	v.logger.Info().
		Int("edges", len(edges)).
		Int("budget", budget).
		Int("reused", validated).
		Int("probes", len(probes)).
		Msg("Link validation started")

	for start := 0; start < len(probes); {
		if ctx.Err() != nil {
			v.logger.Info().Int("remaining", len(probes)-start).Msg("Link validation interrupted")
			break
		}

		size := v.batcher.Next()
		end := start + size
		if end > len(probes) {
			end = len(probes)
		}

		var wg sync.WaitGroup
		for _, edge := range probes[start:end] {
			wg.Add(1)
			target := edge
			common.SafeGo(v.logger, "validateLink", func() {
				defer wg.Done()
				select {
				case v.sem <- struct{}{}:
					defer func() { <-v.sem }()
				case <-ctx.Done():
					return
				}
				v.probe(ctx, target)
			})
		}
		wg.Wait()

		validated += end - start
		start = end
	}

	return validated
}

// reuse settles an edge from the crawl's own fetch of the target
func (v *Validator) reuse(edge *models.LinkRecord, page *FetchedPage) {
	edge.StatusCode = page.StatusCode
	edge.Status = models.StatusFromCode(page.StatusCode)
	edge.ResponseTimeMs = page.ResponseTimeMs
	edge.ValidatedAt = time.Now()
	if edge.Status == models.LinkStatusValid {
		edge.Title = page.Classification.Title
	}
}

// probe issues the edge's single validation request and records the
// outcome. Redirects are reported, not followed; a timeout is its own
// status; any other terminal failure leaves the edge unknown with the
// error preserved.
func (v *Validator) probe(ctx context.Context, edge *models.LinkRecord) {
	result, failure := v.fetcher.Probe(ctx, edge.URL)
	edge.ValidatedAt = time.Now()

	if failure != nil {
		v.batcher.Record(true)
		if failure.Kind == FailureTimeout {
			edge.Status = models.LinkStatusTimeout
			edge.ErrorMessage = "request timeout"
		} else {
			edge.Status = models.LinkStatusUnknown
			edge.ErrorMessage = failure.Err.Error()
		}
		v.logger.Debug().
			Str("url", edge.URL).
			Str("kind", string(failure.Kind)).
			Msg("Link probe failed")
		return
	}

	v.batcher.Record(result.StatusCode >= 500)

	edge.StatusCode = result.StatusCode
	edge.Status = models.StatusFromCode(result.StatusCode)
	edge.ResponseTimeMs = result.Elapsed.Milliseconds()
	if edge.Status == models.LinkStatusValid {
		edge.Title = titleFrom(result.Body)
	}
}

// titleFrom pulls the <title> text out of a (possibly truncated) body
func titleFrom(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
