package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/lustro/internal/common"
	"github.com/ternarybob/lustro/internal/interfaces"
)

// StatusHandler handles HTTP requests for application status
type StatusHandler struct {
	storage interfaces.StorageManager
	logger  arbor.ILogger
	started time.Time
}

// NewStatusHandler creates a new StatusHandler
func NewStatusHandler(storage interfaces.StorageManager, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		storage: storage,
		logger:  logger,
		started: time.Now(),
	}
}

// GetStatusHandler handles GET /api/status
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	database := "connected"
	totalRuns, err := h.storage.RunStorage().CountRuns(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to count runs for status")
		database = "error"
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"service":        "lustro",
		"status":         "ok",
		"version":        common.GetVersion(),
		"database":       database,
		"total_runs":     totalRuns,
		"uptime_seconds": int(time.Since(h.started).Seconds()),
		"server_time":    time.Now().UTC().Format(time.RFC3339),
	})
}
