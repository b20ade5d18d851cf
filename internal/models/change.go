package models

import "time"

// PageChange describes how one URL moved between two runs
type PageChange string

const (
	PageChangeNew       PageChange = "new"       // Present now, absent before
	PageChangeRemoved   PageChange = "removed"   // Present before, absent now
	PageChangeModified  PageChange = "modified"  // Present in both, structure digest differs
	PageChangeUnchanged PageChange = "unchanged" // Present in both, same digest
)

// ChangeDetection compares a run against the previous completed run for the
// same seed. URLs are matched canonically; structural identity is judged by
// the structure digest, so cosmetic text edits do not count as modified.
type ChangeDetection struct {
	RunID         string `json:"run_id"`
	PreviousRunID string `json:"previous_run_id"`
	SeedURL       string `json:"seed_url"`

	NewPages       []string `json:"new_pages"`
	RemovedPages   []string `json:"removed_pages"`
	ModifiedPages  []string `json:"modified_pages"`
	UnchangedPages []string `json:"unchanged_pages"`

	GeneratedAt time.Time `json:"generated_at"`
}

// Totals returns counts per change class
func (c *ChangeDetection) Totals() map[PageChange]int {
	return map[PageChange]int{
		PageChangeNew:       len(c.NewPages),
		PageChangeRemoved:   len(c.RemovedPages),
		PageChangeModified:  len(c.ModifiedPages),
		PageChangeUnchanged: len(c.UnchangedPages),
	}
}

// HasChanges reports whether anything moved between the two runs
func (c *ChangeDetection) HasChanges() bool {
	return len(c.NewPages) > 0 || len(c.RemovedPages) > 0 || len(c.ModifiedPages) > 0
}
