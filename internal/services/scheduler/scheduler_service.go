package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/lustro/internal/common"
	"github.com/ternarybob/lustro/internal/interfaces"
	"github.com/ternarybob/lustro/internal/models"
)

// scheduleEntry pairs a stored schedule with its live cron state
type scheduleEntry struct {
	schedule  *models.AnalysisSchedule
	cronID    cron.EntryID
	isRunning bool
	lastError string
}

// Service runs recurring analyses on cron expressions. Schedules are
// persisted, so a restart re-registers everything that was enabled.
// Each schedule triggers through the same StartRun the HTTP surface
// uses; overlapping fires of the same schedule are skipped.
type Service struct {
	storage  interfaces.StorageManager
	analysis interfaces.AnalysisService
	cron     *cron.Cron
	logger   arbor.ILogger

	mu      sync.Mutex
	entries map[string]*scheduleEntry
	running bool
}

// NewService creates a new scheduler service
func NewService(storage interfaces.StorageManager, analysis interfaces.AnalysisService, logger arbor.ILogger) interfaces.SchedulerService {
	return &Service{
		storage:  storage,
		analysis: analysis,
		cron:     cron.New(),
		logger:   logger,
		entries:  make(map[string]*scheduleEntry),
	}
}

// Start loads stored schedules, registers the enabled ones and begins
// dispatching
func (s *Service) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.mu.Unlock()

	stored, err := s.storage.ScheduleStorage().ListSchedules(context.Background())
	if err != nil {
		// Non-critical: the scheduler still serves newly registered entries
		s.logger.Warn().Err(err).Msg("Failed to load stored schedules")
	}
	for _, schedule := range stored {
		if err := s.Register(schedule); err != nil {
			s.logger.Warn().
				Str("schedule_id", schedule.ID).
				Str("name", schedule.Name).
				Err(err).
				Msg("Failed to register stored schedule")
		}
	}

	s.cron.Start()
	s.logger.Info().Int("schedules", len(stored)).Msg("Scheduler started")
	return nil
}

// Stop halts dispatching. In-flight analyses keep running; the analysis
// service owns their shutdown.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}

	s.cron.Stop()
	s.running = false
	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning returns true if scheduler is active
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Register validates, persists and activates a schedule. Registering an
// existing ID replaces its cron entry, so edits take effect immediately.
func (s *Service) Register(schedule *models.AnalysisSchedule) error {
	if err := schedule.Validate(); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}
	if err := common.ValidateScheduleExpr(schedule.CronExpr); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}
	if schedule.ID == "" {
		schedule.ID = uuid.New().String()
	}

	if err := s.storage.ScheduleStorage().StoreSchedule(context.Background(), schedule); err != nil {
		return fmt.Errorf("failed to store schedule: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[schedule.ID]; ok && existing.cronID != 0 {
		s.cron.Remove(existing.cronID)
	}

	entry := &scheduleEntry{schedule: schedule}
	if schedule.Enabled {
		id := schedule.ID
		cronID, err := s.cron.AddFunc(schedule.CronExpr, func() {
			if _, err := s.trigger(id); err != nil {
				s.logger.Warn().Str("schedule_id", id).Err(err).Msg("Scheduled analysis skipped")
			}
		})
		if err != nil {
			return fmt.Errorf("failed to add cron entry: %w", err)
		}
		entry.cronID = cronID
	}
	s.entries[schedule.ID] = entry

	s.logger.Info().
		Str("schedule_id", schedule.ID).
		Str("name", schedule.Name).
		Str("cron_expr", schedule.CronExpr).
		Str("seed_url", schedule.SeedURL).
		Bool("enabled", schedule.Enabled).
		Msg("Schedule registered")

	return nil
}

// Deregister removes a schedule's cron entry and its stored definition
func (s *Service) Deregister(scheduleID string) error {
	s.mu.Lock()
	entry, ok := s.entries[scheduleID]
	if ok {
		if entry.cronID != 0 {
			s.cron.Remove(entry.cronID)
		}
		delete(s.entries, scheduleID)
	}
	s.mu.Unlock()

	if err := s.storage.ScheduleStorage().DeleteSchedule(context.Background(), scheduleID); err != nil {
		return err
	}

	s.logger.Info().Str("schedule_id", scheduleID).Msg("Schedule deregistered")
	return nil
}

// TriggerNow starts the schedule's analysis immediately, returning the run ID
func (s *Service) TriggerNow(scheduleID string) (string, error) {
	return s.trigger(scheduleID)
}

// trigger starts one analysis for the schedule and tracks its completion
// on a background goroutine. A schedule whose previous run is still in
// flight is skipped rather than stacked.
func (s *Service) trigger(scheduleID string) (string, error) {
	s.mu.Lock()
	entry, ok := s.entries[scheduleID]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", models.ErrScheduleNotFound, scheduleID)
	}
	if entry.isRunning {
		s.mu.Unlock()
		return "", fmt.Errorf("schedule %s still has an analysis in flight", scheduleID)
	}
	entry.isRunning = true
	schedule := *entry.schedule
	s.mu.Unlock()

	runID, err := s.analysis.StartRun(context.Background(), schedule.ApplicationID, schedule.SeedURL, &schedule.Config)
	if err != nil {
		s.mu.Lock()
		entry.isRunning = false
		entry.lastError = err.Error()
		s.mu.Unlock()
		return "", fmt.Errorf("failed to start scheduled analysis: %w", err)
	}

	now := time.Now()
	s.mu.Lock()
	entry.schedule.LastRunID = runID
	entry.schedule.LastRunAt = now
	stored := *entry.schedule
	s.mu.Unlock()
	if err := s.storage.ScheduleStorage().StoreSchedule(context.Background(), &stored); err != nil {
		s.logger.Warn().Str("schedule_id", scheduleID).Err(err).Msg("Failed to persist schedule run marker")
	}

	s.logger.Info().
		Str("schedule_id", scheduleID).
		Str("name", schedule.Name).
		Str("run_id", runID).
		Msg("🚀 Scheduled analysis started")

	common.SafeGo(s.logger, fmt.Sprintf("schedule-wait-%s", scheduleID), func() {
		s.awaitRun(scheduleID, runID, schedule.Config.RunDeadline())
	})

	return runID, nil
}

// awaitRun records the terminal outcome of a scheduled analysis on its
// entry so schedule status reflects the last run
func (s *Service) awaitRun(scheduleID, runID string, deadline time.Duration) {
	// The run persists after its own deadline; leave room for that
	ctx, cancel := context.WithTimeout(context.Background(), deadline+5*time.Minute)
	defer cancel()

	run, err := s.analysis.WaitForRun(ctx, runID)

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[scheduleID]
	if !ok {
		return
	}
	entry.isRunning = false
	switch {
	case err != nil:
		entry.lastError = err.Error()
		s.logger.Warn().Str("schedule_id", scheduleID).Str("run_id", runID).Err(err).Msg("❌ Scheduled analysis not awaited to completion")
	case run.Status == models.RunStatusFailed:
		entry.lastError = run.Error
		s.logger.Warn().Str("schedule_id", scheduleID).Str("run_id", runID).Str("error", run.Error).Msg("❌ Scheduled analysis failed")
	default:
		entry.lastError = ""
		s.logger.Info().
			Str("schedule_id", scheduleID).
			Str("run_id", runID).
			Int("pages", run.PagesAnalyzed).
			Float64("score", run.OverallScore).
			Msg("✅ Scheduled analysis completed")
	}
}

// GetStatus returns the status of a specific schedule
func (s *Service) GetStatus(scheduleID string) (*interfaces.ScheduleStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[scheduleID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrScheduleNotFound, scheduleID)
	}
	return s.statusLocked(entry), nil
}

// GetAllStatuses returns all schedule statuses
func (s *Service) GetAllStatuses() map[string]*interfaces.ScheduleStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make(map[string]*interfaces.ScheduleStatus, len(s.entries))
	for id, entry := range s.entries {
		statuses[id] = s.statusLocked(entry)
	}
	return statuses
}

func (s *Service) statusLocked(entry *scheduleEntry) *interfaces.ScheduleStatus {
	status := &interfaces.ScheduleStatus{
		ID:        entry.schedule.ID,
		Name:      entry.schedule.Name,
		Enabled:   entry.schedule.Enabled,
		CronExpr:  entry.schedule.CronExpr,
		IsRunning: entry.isRunning,
		LastRunID: entry.schedule.LastRunID,
		LastError: entry.lastError,
	}
	if !entry.schedule.LastRunAt.IsZero() {
		lastRun := entry.schedule.LastRunAt
		status.LastRun = &lastRun
	}
	if entry.schedule.Enabled {
		for _, cronEntry := range s.cron.Entries() {
			// Next stays zero until the cron loop runs
			if cronEntry.ID == entry.cronID && !cronEntry.Next.IsZero() {
				next := cronEntry.Next
				status.NextRun = &next
				break
			}
		}
	}
	return status
}
