package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/lustro/internal/common"
	"github.com/ternarybob/lustro/internal/interfaces"
	"github.com/ternarybob/lustro/internal/models"
)

// StartRunRequest is the POST /api/runs body. Config is a partial overlay:
// fields present in the request override the server-wide analysis defaults,
// everything else keeps the default value.
type StartRunRequest struct {
	ApplicationID string          `json:"application_id"`
	SeedURL       string          `json:"seed_url"`
	Config        json.RawMessage `json:"config,omitempty"`
}

// RunHandler handles analysis run API requests
type RunHandler struct {
	config   *common.Config
	analysis interfaces.AnalysisService
	results  interfaces.ResultsService
	changes  interfaces.ChangeService
	storage  interfaces.StorageManager
	logger   arbor.ILogger
}

// NewRunHandler creates a new run handler
func NewRunHandler(
	config *common.Config,
	analysis interfaces.AnalysisService,
	results interfaces.ResultsService,
	changes interfaces.ChangeService,
	storage interfaces.StorageManager,
	logger arbor.ILogger,
) *RunHandler {
	return &RunHandler{
		config:   config,
		analysis: analysis,
		results:  results,
		changes:  changes,
		storage:  storage,
		logger:   logger,
	}
}

// StartRunHandler starts an asynchronous analysis run
// POST /api/runs
func (h *RunHandler) StartRunHandler(w http.ResponseWriter, r *http.Request) {
	var req StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	defer r.Body.Close()

	if req.SeedURL == "" {
		WriteError(w, http.StatusBadRequest, "seed_url is required")
		return
	}

	// Overlay the request config on top of the server defaults so partial
	// configs keep sane values for everything they do not mention
	cfg := h.config.AnalysisDefaults()
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			WriteError(w, http.StatusBadRequest, "Invalid analysis config")
			return
		}
	}

	runID, err := h.analysis.StartRun(r.Context(), req.ApplicationID, req.SeedURL, &cfg)
	if err != nil {
		h.logger.Warn().Err(err).Str("seed_url", req.SeedURL).Msg("Failed to start analysis run")
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	WriteStarted(w, runID)
}

// ListRunsHandler returns runs, newest first
// GET /api/runs?application_id=&seed_url=&status=&limit=50
func (h *RunHandler) ListRunsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	applicationID := r.URL.Query().Get("application_id")
	seedURL := r.URL.Query().Get("seed_url")
	status := r.URL.Query().Get("status")
	limit := GetLimitParam(r, 50, 500)

	var runs []*models.AnalysisRun
	var err error

	if seedURL != "" {
		runs, err = h.storage.RunStorage().ListRunsBySeed(ctx, seedURL)
	} else {
		runs, err = h.storage.RunStorage().ListRuns(ctx, applicationID, limit)
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list runs")
		WriteError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	if status != "" {
		filtered := make([]*models.AnalysisRun, 0, len(runs))
		for _, run := range runs {
			if string(run.Status) == status {
				filtered = append(filtered, run)
			}
		}
		runs = filtered
	}
	if len(runs) > limit {
		runs = runs[:limit]
	}

	totalCount, err := h.storage.RunStorage().CountRuns(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to count runs")
		totalCount = len(runs)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":        runs,
		"count":       len(runs),
		"total_count": totalCount,
	})
}

// GetRunHandler returns one run record with its counters
// GET /api/runs/{id}
func (h *RunHandler) GetRunHandler(w http.ResponseWriter, r *http.Request) {
	runID := PathSegment(r, 2)
	if runID == "" {
		WriteError(w, http.StatusBadRequest, "Run ID is required")
		return
	}

	run, err := h.storage.RunStorage().GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, models.ErrRunNotFound) {
			WriteError(w, http.StatusNotFound, "Run not found")
			return
		}
		h.logger.Error().Err(err).Str("run_id", runID).Msg("Failed to get run")
		WriteError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	WriteJSON(w, http.StatusOK, run)
}

// GetRunStatusHandler returns the poll shape for a run
// GET /api/runs/{id}/status
func (h *RunHandler) GetRunStatusHandler(w http.ResponseWriter, r *http.Request) {
	runID := PathSegment(r, 2)
	if runID == "" {
		WriteError(w, http.StatusBadRequest, "Run ID is required")
		return
	}

	report, err := h.analysis.GetRunStatus(runID)
	if err != nil {
		if errors.Is(err, models.ErrRunNotFound) {
			WriteError(w, http.StatusNotFound, "Run not found")
			return
		}
		h.logger.Error().Err(err).Str("run_id", runID).Msg("Failed to get run status")
		WriteError(w, http.StatusInternalServerError, "Failed to get run status")
		return
	}

	WriteJSON(w, http.StatusOK, report)
}

// GetBundleHandler returns the full read shape for a run: metadata,
// every page and edge record, and the topology maps
// GET /api/runs/{id}/bundle
func (h *RunHandler) GetBundleHandler(w http.ResponseWriter, r *http.Request) {
	runID := PathSegment(r, 2)
	if runID == "" {
		WriteError(w, http.StatusBadRequest, "Run ID is required")
		return
	}

	bundle, err := h.results.GetRunBundle(r.Context(), runID)
	if err != nil {
		if errors.Is(err, models.ErrRunNotFound) {
			WriteError(w, http.StatusNotFound, "Run not found")
			return
		}
		h.logger.Error().Err(err).Str("run_id", runID).Msg("Failed to get run bundle")
		WriteError(w, http.StatusInternalServerError, "Failed to get run bundle")
		return
	}

	WriteJSON(w, http.StatusOK, bundle)
}

// GetRelationshipsHandler returns the parent/children/depth maps for a run
// GET /api/runs/{id}/relationships
func (h *RunHandler) GetRelationshipsHandler(w http.ResponseWriter, r *http.Request) {
	runID := PathSegment(r, 2)
	if runID == "" {
		WriteError(w, http.StatusBadRequest, "Run ID is required")
		return
	}

	set, err := h.results.GetParentChild(r.Context(), runID)
	if err != nil {
		if errors.Is(err, models.ErrRunNotFound) {
			WriteError(w, http.StatusNotFound, "Run not found")
			return
		}
		h.logger.Error().Err(err).Str("run_id", runID).Msg("Failed to get relationships")
		WriteError(w, http.StatusInternalServerError, "Failed to get relationships")
		return
	}

	WriteJSON(w, http.StatusOK, set)
}

// GetSourceHandler resolves the stored source body for a page, walking up
// the parent chain when the page itself has no stored body
// GET /api/runs/{id}/source?url=
func (h *RunHandler) GetSourceHandler(w http.ResponseWriter, r *http.Request) {
	runID := PathSegment(r, 2)
	if runID == "" {
		WriteError(w, http.StatusBadRequest, "Run ID is required")
		return
	}

	pageURL := r.URL.Query().Get("url")
	if pageURL == "" {
		WriteError(w, http.StatusBadRequest, "url query parameter is required")
		return
	}

	source, err := h.results.GetSource(r.Context(), runID, pageURL)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrRunNotFound):
			WriteError(w, http.StatusNotFound, "Run not found")
		case errors.Is(err, models.ErrSourceNotFound):
			WriteError(w, http.StatusNotFound, "No source available for page")
		default:
			h.logger.Error().Err(err).Str("run_id", runID).Str("url", pageURL).Msg("Failed to get source")
			WriteError(w, http.StatusInternalServerError, "Failed to get source")
		}
		return
	}

	WriteJSON(w, http.StatusOK, source)
}

// GetBrokenLinksHandler returns the broken edges of a run
// GET /api/runs/{id}/links/broken
func (h *RunHandler) GetBrokenLinksHandler(w http.ResponseWriter, r *http.Request) {
	runID := PathSegment(r, 2)
	if runID == "" {
		WriteError(w, http.StatusBadRequest, "Run ID is required")
		return
	}

	links, err := h.results.GetBrokenLinks(r.Context(), runID)
	if err != nil {
		if errors.Is(err, models.ErrRunNotFound) {
			WriteError(w, http.StatusNotFound, "Run not found")
			return
		}
		h.logger.Error().Err(err).Str("run_id", runID).Msg("Failed to get broken links")
		WriteError(w, http.StatusInternalServerError, "Failed to get broken links")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":       runID,
		"broken_links": links,
		"count":        len(links),
	})
}

// GetBrokenLinkDetailHandler returns one broken edge with its parent page
// title and the traversal path from the seed
// GET /api/runs/{id}/links/detail?url=
func (h *RunHandler) GetBrokenLinkDetailHandler(w http.ResponseWriter, r *http.Request) {
	runID := PathSegment(r, 2)
	if runID == "" {
		WriteError(w, http.StatusBadRequest, "Run ID is required")
		return
	}

	linkURL := r.URL.Query().Get("url")
	if linkURL == "" {
		WriteError(w, http.StatusBadRequest, "url query parameter is required")
		return
	}

	detail, err := h.results.GetBrokenLinkDetail(r.Context(), runID, linkURL)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrRunNotFound):
			WriteError(w, http.StatusNotFound, "Run not found")
		case errors.Is(err, models.ErrLinkNotFound):
			WriteError(w, http.StatusNotFound, "Link not found")
		default:
			h.logger.Error().Err(err).Str("run_id", runID).Str("url", linkURL).Msg("Failed to get link detail")
			WriteError(w, http.StatusInternalServerError, "Failed to get link detail")
		}
		return
	}

	WriteJSON(w, http.StatusOK, detail)
}

// GetChangesHandler returns the change detection for a run against the
// previous completed run of the same seed. Stored results are served as-is;
// a miss triggers detection on demand.
// GET /api/runs/{id}/changes
func (h *RunHandler) GetChangesHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	runID := PathSegment(r, 2)
	if runID == "" {
		WriteError(w, http.StatusBadRequest, "Run ID is required")
		return
	}

	run, err := h.storage.RunStorage().GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, models.ErrRunNotFound) {
			WriteError(w, http.StatusNotFound, "Run not found")
			return
		}
		h.logger.Error().Err(err).Str("run_id", runID).Msg("Failed to get run")
		WriteError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}
	if run.Status != models.RunStatusCompleted {
		WriteError(w, http.StatusConflict, "Change detection requires a completed run")
		return
	}

	detection, err := h.storage.ChangeStorage().GetChanges(ctx, runID)
	if err == nil {
		WriteJSON(w, http.StatusOK, detection)
		return
	}
	if !errors.Is(err, models.ErrChangesNotFound) {
		h.logger.Error().Err(err).Str("run_id", runID).Msg("Failed to read change detection")
		WriteError(w, http.StatusInternalServerError, "Failed to read change detection")
		return
	}

	detection, err = h.changes.DetectChanges(ctx, runID)
	if err != nil {
		h.logger.Error().Err(err).Str("run_id", runID).Msg("Change detection failed")
		WriteError(w, http.StatusInternalServerError, "Change detection failed")
		return
	}
	if detection == nil {
		WriteError(w, http.StatusNotFound, "No previous completed run to compare against")
		return
	}

	WriteJSON(w, http.StatusOK, detection)
}

// CancelRunHandler cancels a running analysis
// POST /api/runs/{id}/cancel
func (h *RunHandler) CancelRunHandler(w http.ResponseWriter, r *http.Request) {
	runID := PathSegment(r, 2)
	if runID == "" {
		WriteError(w, http.StatusBadRequest, "Run ID is required")
		return
	}

	if err := h.analysis.CancelRun(runID); err != nil {
		if errors.Is(err, models.ErrRunNotActive) {
			WriteError(w, http.StatusConflict, "Run is not active")
			return
		}
		h.logger.Error().Err(err).Str("run_id", runID).Msg("Failed to cancel run")
		WriteError(w, http.StatusInternalServerError, "Failed to cancel run")
		return
	}

	h.logger.Info().Str("run_id", runID).Msg("Run cancelled")

	WriteJSON(w, http.StatusOK, map[string]string{
		"run_id":  runID,
		"message": "Run cancelled",
	})
}

// DeleteRunHandler removes a run and all of its artifacts
// DELETE /api/runs/{id}
func (h *RunHandler) DeleteRunHandler(w http.ResponseWriter, r *http.Request) {
	runID := PathSegment(r, 2)
	if runID == "" {
		WriteError(w, http.StatusBadRequest, "Run ID is required")
		return
	}

	// Active runs must be cancelled before their data can go
	report, err := h.analysis.GetRunStatus(runID)
	if err == nil && !report.Ready {
		WriteError(w, http.StatusBadRequest, "Cannot delete an active run. Cancel it first.")
		return
	}

	if err := h.results.DeleteRun(r.Context(), runID); err != nil {
		if errors.Is(err, models.ErrRunNotFound) {
			WriteError(w, http.StatusNotFound, "Run not found")
			return
		}
		h.logger.Error().Err(err).Str("run_id", runID).Msg("Failed to delete run")
		WriteError(w, http.StatusInternalServerError, "Failed to delete run")
		return
	}

	h.logger.Info().Str("run_id", runID).Msg("Run deleted")

	WriteJSON(w, http.StatusOK, map[string]string{
		"run_id":  runID,
		"message": "Run deleted",
	})
}
