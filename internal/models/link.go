package models

import "time"

// LinkStatus is the validation outcome for a discovered edge
type LinkStatus string

const (
	LinkStatusValid       LinkStatus = "valid"        // 2xx
	LinkStatusRedirect    LinkStatus = "redirect"     // 3xx
	LinkStatusBroken      LinkStatus = "broken"       // 4xx or 5xx
	LinkStatusTimeout     LinkStatus = "timeout"      // Deadline exceeded
	LinkStatusRateLimited LinkStatus = "rate_limited" // 429 persisted past backoff
	LinkStatusUnknown     LinkStatus = "unknown"      // Not validated (budget exhausted or never reached)
)

// LinkType categorizes how a link was expressed in the source document
type LinkType string

const (
	LinkTypeStatic   LinkType = "static_html" // href on a, link, area
	LinkTypeDynamic  LinkType = "dynamic_js"  // onclick handlers, data attributes, script literals
	LinkTypeResource LinkType = "resource"    // img, script src, stylesheet, media sources
	LinkTypeExternal LinkType = "external"    // Target host differs from the seed origin
)

// StatusFromCode maps an HTTP status code to a link status
func StatusFromCode(code int) LinkStatus {
	switch {
	case code >= 200 && code < 300:
		return LinkStatusValid
	case code >= 300 && code < 400:
		return LinkStatusRedirect
	case code == 429:
		return LinkStatusRateLimited
	case code >= 400 && code < 600:
		return LinkStatusBroken
	default:
		return LinkStatusUnknown
	}
}

// CountsAsBroken reports whether a status contributes to the broken-link
// total. Timeouts and rate limiting are crawl artifacts, not site defects,
// so only a definitive 4xx/5xx counts.
func (s LinkStatus) CountsAsBroken() bool {
	return s == LinkStatusBroken
}

// LinkRecord is one discovered edge, keyed by target URL within a run.
// ParentURL is the first page the target was observed on; when the same
// URL appears on later pages those appearances land in the relationship
// set's children map, never as extra edge records.
type LinkRecord struct {
	ID        string `json:"id"` // Deterministic: run ID + newline + target URL
	RunID     string `json:"run_id"`
	URL       string `json:"url"`
	ParentURL string `json:"parent_url"`
	Text      string `json:"text,omitempty"`  // Anchor text or alt text, trimmed
	Title     string `json:"title,omitempty"` // Target page title, filled by the validator

	LinkType LinkType `json:"link_type"`
	// DiscoveryOrder is the global sequence number assigned when the edge
	// was first extracted. Validation visits same-origin targets in this
	// order.
	DiscoveryOrder int `json:"discovery_order"`

	Status         LinkStatus `json:"status"`
	StatusCode     int        `json:"status_code,omitempty"`
	ResponseTimeMs int64      `json:"response_time_ms,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	ValidatedAt    time.Time  `json:"validated_at,omitempty"`
}

// LinkKey builds the deterministic storage key for a link record
func LinkKey(runID, url string) string {
	return runID + "\n" + url
}
