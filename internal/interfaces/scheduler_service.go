package interfaces

import (
	"time"

	"github.com/ternarybob/lustro/internal/models"
)

// ScheduleStatus represents the current status of a registered schedule
type ScheduleStatus struct {
	ID        string
	Name      string
	Enabled   bool
	CronExpr  string
	LastRun   *time.Time
	NextRun   *time.Time
	IsRunning bool
	LastRunID string
	LastError string
}

// SchedulerService manages cron-based recurring analyses
type SchedulerService interface {
	// Start loads stored schedules and begins dispatching
	Start() error

	// Stop halts the scheduler
	Stop() error

	// Register adds or replaces a schedule's cron entry
	Register(schedule *models.AnalysisSchedule) error

	// Deregister removes a schedule's cron entry
	Deregister(scheduleID string) error

	// TriggerNow starts the schedule's analysis immediately, returning the run ID
	TriggerNow(scheduleID string) (string, error)

	// IsRunning returns true if scheduler is active
	IsRunning() bool

	// GetStatus returns the status of a specific schedule
	GetStatus(scheduleID string) (*ScheduleStatus, error)

	// GetAllStatuses returns all schedule statuses
	GetAllStatuses() map[string]*ScheduleStatus
}
