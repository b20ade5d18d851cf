package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/lustro/internal/common"
	"github.com/ternarybob/lustro/internal/interfaces"
	"github.com/ternarybob/lustro/internal/models"
)

// CreateScheduleRequest is the POST /api/schedules body. Config overlays
// the server-wide analysis defaults; enabled defaults to true when omitted.
type CreateScheduleRequest struct {
	Name          string          `json:"name"`
	ApplicationID string          `json:"application_id"`
	SeedURL       string          `json:"seed_url"`
	CronExpr      string          `json:"cron_expr"`
	Enabled       *bool           `json:"enabled,omitempty"`
	Config        json.RawMessage `json:"config,omitempty"`
}

// ScheduleView is a stored schedule merged with its live scheduler state
type ScheduleView struct {
	*models.AnalysisSchedule
	NextRun   string `json:"next_run,omitempty"`
	IsRunning bool   `json:"is_running"`
	LastError string `json:"last_error,omitempty"`
}

// ScheduleHandler handles recurring analysis API requests
type ScheduleHandler struct {
	config    *common.Config
	scheduler interfaces.SchedulerService
	storage   interfaces.StorageManager
	logger    arbor.ILogger
}

// NewScheduleHandler creates a new schedule handler
func NewScheduleHandler(
	config *common.Config,
	scheduler interfaces.SchedulerService,
	storage interfaces.StorageManager,
	logger arbor.ILogger,
) *ScheduleHandler {
	return &ScheduleHandler{
		config:    config,
		scheduler: scheduler,
		storage:   storage,
		logger:    logger,
	}
}

// ListSchedulesHandler returns every stored schedule with its live state
// GET /api/schedules
func (h *ScheduleHandler) ListSchedulesHandler(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.storage.ScheduleStorage().ListSchedules(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list schedules")
		WriteError(w, http.StatusInternalServerError, "Failed to list schedules")
		return
	}

	statuses := h.scheduler.GetAllStatuses()

	views := make([]*ScheduleView, 0, len(schedules))
	for _, schedule := range schedules {
		view := &ScheduleView{AnalysisSchedule: schedule}
		if status, ok := statuses[schedule.ID]; ok {
			view.IsRunning = status.IsRunning
			view.LastError = status.LastError
			if status.NextRun != nil {
				view.NextRun = status.NextRun.Format(time.RFC3339)
			}
		}
		views = append(views, view)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"schedules":         views,
		"count":             len(views),
		"scheduler_running": h.scheduler.IsRunning(),
	})
}

// CreateScheduleHandler stores a schedule and arms its cron entry
// POST /api/schedules
func (h *ScheduleHandler) CreateScheduleHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	defer r.Body.Close()

	cfg := h.config.AnalysisDefaults()
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			WriteError(w, http.StatusBadRequest, "Invalid analysis config")
			return
		}
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	schedule := &models.AnalysisSchedule{
		Name:          req.Name,
		ApplicationID: req.ApplicationID,
		SeedURL:       req.SeedURL,
		CronExpr:      req.CronExpr,
		Config:        cfg,
		Enabled:       enabled,
	}

	if err := h.scheduler.Register(schedule); err != nil {
		h.logger.Warn().Err(err).Str("name", req.Name).Msg("Failed to register schedule")
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info().
		Str("schedule_id", schedule.ID).
		Str("name", schedule.Name).
		Str("cron", schedule.CronExpr).
		Msg("Schedule created")

	WriteJSON(w, http.StatusCreated, schedule)
}

// DeleteScheduleHandler removes a schedule and its cron entry
// DELETE /api/schedules/{id}
func (h *ScheduleHandler) DeleteScheduleHandler(w http.ResponseWriter, r *http.Request) {
	scheduleID := PathSegment(r, 2)
	if scheduleID == "" {
		WriteError(w, http.StatusBadRequest, "Schedule ID is required")
		return
	}

	if err := h.scheduler.Deregister(scheduleID); err != nil {
		if errors.Is(err, models.ErrScheduleNotFound) {
			WriteError(w, http.StatusNotFound, "Schedule not found")
			return
		}
		h.logger.Error().Err(err).Str("schedule_id", scheduleID).Msg("Failed to delete schedule")
		WriteError(w, http.StatusInternalServerError, "Failed to delete schedule")
		return
	}

	h.logger.Info().Str("schedule_id", scheduleID).Msg("Schedule deleted")

	WriteJSON(w, http.StatusOK, map[string]string{
		"schedule_id": scheduleID,
		"message":     "Schedule deleted",
	})
}

// TriggerScheduleHandler starts a schedule's analysis immediately
// POST /api/schedules/{id}/trigger
func (h *ScheduleHandler) TriggerScheduleHandler(w http.ResponseWriter, r *http.Request) {
	scheduleID := PathSegment(r, 2)
	if scheduleID == "" {
		WriteError(w, http.StatusBadRequest, "Schedule ID is required")
		return
	}

	runID, err := h.scheduler.TriggerNow(scheduleID)
	if err != nil {
		if errors.Is(err, models.ErrScheduleNotFound) {
			WriteError(w, http.StatusNotFound, "Schedule not found")
			return
		}
		// Overlapping trigger or a seed the analysis service refused
		h.logger.Warn().Err(err).Str("schedule_id", scheduleID).Msg("Failed to trigger schedule")
		WriteError(w, http.StatusConflict, err.Error())
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"schedule_id": scheduleID,
		"run_id":      runID,
		"status":      "started",
	})
}
