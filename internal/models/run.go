package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// RunStatus represents the lifecycle state of an analysis run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// AnalysisRun represents one invocation of the engine against one seed URL.
// Configuration is snapshot at creation time so runs are self-contained and
// reproducible. Counters are written once, when the run reaches a terminal
// status, and must equal recomputation from the per-record tables.
type AnalysisRun struct {
	ID            string         `json:"id"`
	ApplicationID string         `json:"application_id"` // Opaque owner reference
	SeedURL       string         `json:"seed_url"`
	Config        AnalysisConfig `json:"config"` // Snapshot of configuration at run creation time
	Status        RunStatus      `json:"status"`
	// Error contains a concise description of why the run failed.
	// Only populated when run status is 'failed'.
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`

	// Aggregate counters, written at completion
	PagesAnalyzed int     `json:"total_pages_analyzed"`
	LinksFound    int     `json:"total_links_found"`
	BrokenLinks   int     `json:"broken_links_count"`
	BlankPages    int     `json:"blank_pages_count"`
	ContentPages  int     `json:"content_pages_count"`
	OverallScore  float64 `json:"overall_score"` // 0-100
}

// IsTerminal reports whether the run has reached a final state
func (r *AnalysisRun) IsTerminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}

// ComputeScore derives the overall score from the issue counters.
// Each broken link or blank page deducts 10 points from 100, floored at 0.
func ComputeScore(brokenLinks, blankPages int) float64 {
	score := 100.0 - float64(brokenLinks+blankPages)*10.0
	if score < 0 {
		return 0
	}
	return score
}

// RunStatusReport is the poll shape returned to run-status callers
type RunStatusReport struct {
	State      RunStatus `json:"state"`
	Progress   float64   `json:"progress"` // 0-100
	Ready      bool      `json:"ready"`    // Terminal state reached
	Successful bool      `json:"successful"`
	Failed     bool      `json:"failed"`
	Info       string    `json:"info,omitempty"`
}

// StatusReport builds the poll shape for this run at the given progress
func (r *AnalysisRun) StatusReport(progress float64) *RunStatusReport {
	report := &RunStatusReport{
		State:    r.Status,
		Progress: progress,
		Ready:    r.IsTerminal(),
	}

	switch r.Status {
	case RunStatusCompleted:
		report.Successful = true
		report.Progress = 100
		report.Info = fmt.Sprintf("%d pages, %d links", r.PagesAnalyzed, r.LinksFound)
	case RunStatusFailed:
		report.Failed = true
		report.Info = r.Error
	}

	return report
}

// AnalysisConfig defines crawl and validation behavior for one run
type AnalysisConfig struct {
	MaxCrawlDepth      int `json:"max_crawl_depth" validate:"min=1,max=5"`         // BFS depth bound from the seed
	MaxPagesToCrawl    int `json:"max_pages_to_crawl" validate:"min=10,max=1000"`  // Upper bound on distinct URLs fetched
	MaxLinksToValidate int `json:"max_links_to_validate" validate:"min=10,max=2000"` // Upper bound on edges validated; must be >= 2x MaxPagesToCrawl

	// Link extraction toggles
	ExtractStaticLinks   bool `json:"extract_static_links"`   // a, link, area href
	ExtractDynamicLinks  bool `json:"extract_dynamic_links"`  // onclick, data attributes, inline script URLs
	ExtractResourceLinks bool `json:"extract_resource_links"` // img, script, stylesheet, source
	ExtractExternalLinks bool `json:"extract_external_links"` // Off-origin hosts

	RequestTimeout        int    `json:"request_timeout" validate:"min=1,max=300"`       // Per-request deadline, seconds
	MaxConcurrentRequests int    `json:"max_concurrent_requests" validate:"min=1,max=500"` // Fetcher semaphore size
	RetryAttempts         int    `json:"retry_attempts" validate:"min=0,max=10"`         // Retries on transport error or 5xx
	ValidatorConcurrency  int    `json:"validator_concurrency" validate:"min=1,max=200"` // Validator semaphore, independent from the fetcher
	MaxRunSeconds         int    `json:"max_run_seconds" validate:"min=0"`               // Wall-clock ceiling for the whole run; 0 = default
	UserAgent             string `json:"user_agent"`
}

// DefaultAnalysisConfig returns a config with production defaults.
// Shallow depth keeps first-visit analyses fast; callers widen as needed.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		MaxCrawlDepth:         1,
		MaxPagesToCrawl:       500,
		MaxLinksToValidate:    1500,
		ExtractStaticLinks:    true,
		ExtractDynamicLinks:   false,
		ExtractResourceLinks:  false,
		ExtractExternalLinks:  false,
		RequestTimeout:        30,
		MaxConcurrentRequests: 100,
		RetryAttempts:         3,
		ValidatorConcurrency:  50,
		MaxRunSeconds:         900,
		UserAgent:             "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}

// Validate checks field bounds using go-playground/validator plus the
// cross-field rule tying the validation budget to the page budget.
func (c *AnalysisConfig) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.MaxLinksToValidate < 2*c.MaxPagesToCrawl {
		return fmt.Errorf("max_links_to_validate (%d) must be at least 2x max_pages_to_crawl (%d)",
			c.MaxLinksToValidate, c.MaxPagesToCrawl)
	}

	return nil
}

// Timeout returns the per-request deadline as a duration
func (c *AnalysisConfig) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// RunDeadline returns the wall-clock ceiling for the whole run
func (c *AnalysisConfig) RunDeadline() time.Duration {
	if c.MaxRunSeconds <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.MaxRunSeconds) * time.Second
}

// RunProgress tracks per-run crawl and validation progress
type RunProgress struct {
	TotalURLs     int       `json:"total_urls"`
	CompletedURLs int       `json:"completed_urls"`
	FailedURLs    int       `json:"failed_urls"`
	PendingURLs   int       `json:"pending_urls"`
	CurrentURL    string    `json:"current_url,omitempty"`
	Phase         string    `json:"phase,omitempty"` // crawling, validating, persisting
	Percentage    float64   `json:"percentage"`
	StartTime     time.Time `json:"start_time"`
}

// ToJSON serializes AnalysisConfig to a JSON string for storage
func (c *AnalysisConfig) ToJSON() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FromJSONAnalysisConfig deserializes AnalysisConfig from a JSON string
func FromJSONAnalysisConfig(data string) (*AnalysisConfig, error) {
	var config AnalysisConfig
	if err := json.Unmarshal([]byte(data), &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// ToJSON serializes RunProgress to a JSON string
func (p *RunProgress) ToJSON() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FromJSONRunProgress deserializes RunProgress from a JSON string
func FromJSONRunProgress(data string) (*RunProgress, error) {
	var progress RunProgress
	if err := json.Unmarshal([]byte(data), &progress); err != nil {
		return nil, err
	}
	return &progress, nil
}
