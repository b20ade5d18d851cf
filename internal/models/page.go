package models

import "time"

// PageType classifies a fetched page by its dominant role
type PageType string

const (
	PageTypeContent  PageType = "content"
	PageTypeBlank    PageType = "blank"
	PageTypeError    PageType = "error"
	PageTypeRedirect PageType = "redirect"
)

// PageRecord is the stored metadata for one fetched URL within a run.
// Raw bodies are not stored here; they live in SourceBody records, which
// exist only for pages that link to at least one child. Leaf pages resolve
// their source through the parent chain at read time.
type PageRecord struct {
	ID    string `json:"id"` // Deterministic: run ID + newline + URL
	RunID string `json:"run_id"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`

	PageType   PageType `json:"page_type"`
	StatusCode int      `json:"status_code"`
	Depth      int      `json:"depth"`      // BFS distance from the seed
	ParentURL  string   `json:"parent_url"` // First discoverer; empty for the seed
	Path       []string `json:"path"`       // Seed-to-page URL chain, inclusive

	WordCount   int  `json:"word_count"`
	LinkCount   int  `json:"link_count"`   // Outbound links extracted from this page
	HasChildren bool `json:"has_children"` // True when at least one child was first discovered here

	HasHeader     bool `json:"has_header"`
	HasFooter     bool `json:"has_footer"`
	HasNavigation bool `json:"has_navigation"`

	// StructureDigest is a deterministic fingerprint of the page's element
	// structure, used for cross-run change detection. Equal digests mean
	// structurally identical pages.
	StructureDigest string `json:"structure_digest"`

	ResponseTimeMs int64     `json:"response_time_ms"`
	FetchedAt      time.Time `json:"fetched_at"`
}

// PageKey builds the deterministic storage key for a page record.
// Newline cannot appear in a canonical URL, so the key is collision-free.
func PageKey(runID, url string) string {
	return runID + "\n" + url
}
