// -----------------------------------------------------------------------
// Last Modified: Friday, 21st August 2026 4:18:09 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package interfaces

import (
	"context"

	"github.com/ternarybob/lustro/internal/models"
)

// RunStorage - interface for analysis run persistence
type RunStorage interface {
	StoreRun(ctx context.Context, run *models.AnalysisRun) error
	GetRun(ctx context.Context, id string) (*models.AnalysisRun, error)
	ListRuns(ctx context.Context, applicationID string, limit int) ([]*models.AnalysisRun, error)
	ListRunsBySeed(ctx context.Context, seedURL string) ([]*models.AnalysisRun, error)
	DeleteRun(ctx context.Context, id string) error
	CountRuns(ctx context.Context) (int, error)
}

// PageStorage - interface for per-run page records
type PageStorage interface {
	StorePage(ctx context.Context, page *models.PageRecord) error
	StorePages(ctx context.Context, pages []*models.PageRecord) error
	GetPage(ctx context.Context, runID, url string) (*models.PageRecord, error)
	GetPagesByRun(ctx context.Context, runID string) ([]*models.PageRecord, error)
	CountPagesByRun(ctx context.Context, runID string) (int, error)
	DeletePagesByRun(ctx context.Context, runID string) error
}

// LinkStorage - interface for discovered edges and their validation state
type LinkStorage interface {
	StoreLink(ctx context.Context, link *models.LinkRecord) error
	StoreLinks(ctx context.Context, links []*models.LinkRecord) error
	GetLink(ctx context.Context, runID, url string) (*models.LinkRecord, error)
	GetLinksByRun(ctx context.Context, runID string) ([]*models.LinkRecord, error)
	GetLinksByParent(ctx context.Context, runID, parentURL string) ([]*models.LinkRecord, error)
	GetBrokenLinks(ctx context.Context, runID string) ([]*models.LinkRecord, error)
	CountLinksByRun(ctx context.Context, runID string) (int, error)
	DeleteLinksByRun(ctx context.Context, runID string) error
}

// RelationshipStorage - interface for run topology persistence
type RelationshipStorage interface {
	StoreRelationships(ctx context.Context, set *models.RelationshipSet) error
	GetRelationships(ctx context.Context, runID string) (*models.RelationshipSet, error)
	DeleteRelationships(ctx context.Context, runID string) error
}

// SourceStorage - interface for deduplicated page bodies
type SourceStorage interface {
	StoreSourceBody(ctx context.Context, body *models.SourceBody) error
	GetSourceBody(ctx context.Context, runID, url string) (*models.SourceBody, error)
	CountSourcesByRun(ctx context.Context, runID string) (int, error)
	DeleteSourcesByRun(ctx context.Context, runID string) error
}

// ChangeStorage - interface for cross-run change detection results
type ChangeStorage interface {
	StoreChanges(ctx context.Context, changes *models.ChangeDetection) error
	GetChanges(ctx context.Context, runID string) (*models.ChangeDetection, error)
	DeleteChanges(ctx context.Context, runID string) error
}

// ScheduleStorage - interface for recurring analysis definitions
type ScheduleStorage interface {
	StoreSchedule(ctx context.Context, schedule *models.AnalysisSchedule) error
	GetSchedule(ctx context.Context, id string) (*models.AnalysisSchedule, error)
	ListSchedules(ctx context.Context) ([]*models.AnalysisSchedule, error)
	DeleteSchedule(ctx context.Context, id string) error
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	RunStorage() RunStorage
	PageStorage() PageStorage
	LinkStorage() LinkStorage
	RelationshipStorage() RelationshipStorage
	SourceStorage() SourceStorage
	ChangeStorage() ChangeStorage
	ScheduleStorage() ScheduleStorage
	DB() interface{}
	Close() error
}
