package interfaces

import (
	"context"

	"github.com/ternarybob/lustro/internal/models"
)

// ResultsService persists completed run artifacts and serves the
// hierarchical reads over them. Persistence applies the body write rule
// (bodies only for fetched pages with children, the seed always included)
// and is idempotent: re-persisting identical inputs leaves an identical
// store.
type ResultsService interface {
	// PersistRun writes pages, links, topology and the selected source
	// bodies, then the run row last so partial state is never readable.
	// bodies maps fetched URL to raw HTML.
	PersistRun(ctx context.Context, run *models.AnalysisRun, pages []*models.PageRecord, links []*models.LinkRecord, set *models.RelationshipSet, bodies map[string][]byte) error

	// GetRunBundle returns run metadata, page records, edge records and maps
	GetRunBundle(ctx context.Context, runID string) (*models.RunBundle, error)

	// GetSource resolves the body for a URL, walking up the parent chain
	// when the URL stored none of its own, and annotates the body with
	// highlighted link offsets
	GetSource(ctx context.Context, runID, pageURL string) (*models.SourceResult, error)

	// GetParentChild returns the three topology maps for a run
	GetParentChild(ctx context.Context, runID string) (*models.RelationshipSet, error)

	// GetBrokenLinks lists edges whose status counts as broken, in
	// discovery order
	GetBrokenLinks(ctx context.Context, runID string) ([]*models.LinkRecord, error)

	// GetBrokenLinkDetail returns the edge record for a URL plus its
	// parent's title and the seed-to-URL path
	GetBrokenLinkDetail(ctx context.Context, runID, url string) (*models.BrokenLinkDetail, error)

	// DeleteRun cascades across every keyed row of the run
	DeleteRun(ctx context.Context, runID string) error
}
