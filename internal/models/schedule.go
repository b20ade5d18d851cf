package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// AnalysisSchedule defines a recurring analysis: a seed URL analyzed on a
// cron cadence with a fixed configuration. The scheduler owns execution;
// this is the stored definition.
type AnalysisSchedule struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ApplicationID string `json:"application_id"`
	SeedURL       string `json:"seed_url"`

	// CronExpr uses standard five-field cron syntax, e.g. "0 6 * * *"
	CronExpr string         `json:"cron_expr"`
	Config   AnalysisConfig `json:"config"`
	Enabled  bool           `json:"enabled"`

	LastRunID string    `json:"last_run_id,omitempty"`
	LastRunAt time.Time `json:"last_run_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the schedule definition before storage
func (s *AnalysisSchedule) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("schedule name is required")
	}

	if strings.TrimSpace(s.CronExpr) == "" {
		return fmt.Errorf("cron expression is required")
	}

	if err := ValidateSeedURL(s.SeedURL); err != nil {
		return err
	}

	return s.Config.Validate()
}

// ValidateSeedURL checks that a seed is an absolute http or https URL
func ValidateSeedURL(seed string) error {
	if strings.TrimSpace(seed) == "" {
		return fmt.Errorf("seed URL is required")
	}

	parsed, err := url.Parse(seed)
	if err != nil {
		return fmt.Errorf("invalid seed URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("seed URL must use http or https, got %q", parsed.Scheme)
	}

	if parsed.Host == "" {
		return fmt.Errorf("seed URL must include a host")
	}

	return nil
}
