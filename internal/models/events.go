package models

import "time"

// RunEvent is the payload carried by run lifecycle and progress events.
// Fields beyond RunID are populated where they make sense for the event
// type: progress events carry Progress, terminal events carry counters.
type RunEvent struct {
	RunID         string       `json:"run_id"`
	ApplicationID string       `json:"application_id,omitempty"`
	SeedURL       string       `json:"seed_url,omitempty"`
	Status        RunStatus    `json:"status"`
	Error         string       `json:"error,omitempty"`
	Progress      *RunProgress `json:"progress,omitempty"`

	PagesAnalyzed int     `json:"total_pages_analyzed,omitempty"`
	LinksFound    int     `json:"total_links_found,omitempty"`
	BrokenLinks   int     `json:"broken_links_count,omitempty"`
	OverallScore  float64 `json:"overall_score,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}
