package interfaces

import (
	"context"

	"github.com/ternarybob/lustro/internal/models"
)

// ChangeService compares completed runs of the same seed URL
type ChangeService interface {
	// DetectChanges compares the given run against the most recent prior
	// completed run for the same seed and stores the result. Returns nil
	// changes without error when no prior run exists.
	DetectChanges(ctx context.Context, runID string) (*models.ChangeDetection, error)
}
