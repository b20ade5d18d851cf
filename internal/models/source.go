package models

import "time"

// SourceKey is the deterministic storage key for the body a run stored
// for a URL
func SourceKey(runID, url string) string {
	return runID + "\n" + url
}

// SourceBody holds the raw HTML of one fetched page, stored once per run.
// Bodies exist only for the seed and for pages with at least one child;
// every other URL inherits its nearest ancestor's body at read time, which
// keeps per-run storage proportional to the interior of the crawl tree.
type SourceBody struct {
	ID    string `json:"id"` // Deterministic: run ID + newline + URL
	RunID string `json:"run_id"`
	URL   string `json:"url"`

	HTML     string `json:"html"`
	Markdown string `json:"markdown,omitempty"` // Readable rendition of the body text

	SizeBytes int       `json:"size_bytes"`
	StoredAt  time.Time `json:"stored_at"`
}

// HighlightType buckets a highlighted link by validation outcome so a
// viewer can color spans without re-deriving status semantics
type HighlightType string

const (
	HighlightBroken  HighlightType = "broken"  // 4xx/5xx or timeout
	HighlightWorking HighlightType = "working" // 2xx or 3xx
	HighlightOther   HighlightType = "other"   // unknown or rate limited
)

// HighlightTypeFor maps an edge status to its highlight bucket
func HighlightTypeFor(s LinkStatus) HighlightType {
	switch s {
	case LinkStatusBroken, LinkStatusTimeout:
		return HighlightBroken
	case LinkStatusValid, LinkStatusRedirect:
		return HighlightWorking
	default:
		return HighlightOther
	}
}

// HighlightedLink marks one link occurrence inside a source body by byte
// offsets. Offsets index the stored HTML exactly as returned, so callers
// can slice the body without re-parsing. Only the first occurrence of each
// target is marked; when candidate spans overlap, the leftmost wins.
type HighlightedLink struct {
	URL        string        `json:"url"`
	Start      int           `json:"start"` // Byte offset of the first occurrence
	End        int           `json:"end"`
	Type       HighlightType `json:"type"`
	StatusCode int           `json:"status_code,omitempty"`
	Status     LinkStatus    `json:"status"`
}

// SourceResult answers a source lookup for one URL. When the URL stored no
// body of its own, ActualSourcePage names the ancestor whose body is
// returned, Inherited is true, and TraversalPath lists every URL walked
// from the requested page up to that ancestor.
type SourceResult struct {
	URL              string   `json:"page_url"`
	ActualSourcePage string   `json:"actual_source_page"`
	Inherited        bool     `json:"is_source_from_parent"`
	ParentURL        string   `json:"parent_url,omitempty"` // Immediate parent of the requested URL
	TraversalPath    []string `json:"traversal_path"`
	HierarchyDepth   int      `json:"hierarchy_depth"` // Hops walked: len(TraversalPath)-1

	HTML     string `json:"source_code"`
	Markdown string `json:"markdown,omitempty"`

	HighlightedLinks []HighlightedLink `json:"highlighted_links"`
	StoredAt         time.Time         `json:"created_at"`
}

// BrokenLinkDetail aggregates everything known about one broken target:
// the edge record, the title of the page that carries it, and the
// seed-to-target path
type BrokenLinkDetail struct {
	Link        LinkRecord `json:"link"`
	ParentTitle string     `json:"parent_title,omitempty"`
	Path        []string   `json:"path,omitempty"`
}
