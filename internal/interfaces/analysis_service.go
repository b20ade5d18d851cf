package interfaces

import (
	"context"

	"github.com/ternarybob/lustro/internal/models"
)

// AnalysisService defines the interface for the analysis engine. One run
// crawls a single seed URL breadth-first, validates the discovered links,
// and persists pages, links, topology and deduplicated source bodies.
type AnalysisService interface {
	// StartRun validates inputs, creates a run in pending state and starts
	// it asynchronously. A nil config uses defaults.
	// Returns: runID for tracking the analysis
	StartRun(ctx context.Context, applicationID, seedURL string, config *models.AnalysisConfig) (string, error)

	// GetRunStatus retrieves the poll shape for a run
	GetRunStatus(runID string) (*models.RunStatusReport, error)

	// CancelRun stops a running analysis; already persisted data is kept
	CancelRun(runID string) error

	// WaitForRun blocks until a run completes or context is cancelled
	WaitForRun(ctx context.Context, runID string) (*models.AnalysisRun, error)

	// Close cleanly shuts down the analysis service
	Close() error
}
