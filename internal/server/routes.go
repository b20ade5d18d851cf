package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route (live run progress + log streaming)
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Analysis runs
	mux.HandleFunc("/api/runs", s.handleRunsRoute)  // GET (list), POST (start)
	mux.HandleFunc("/api/runs/", s.handleRunRoutes) // Handles /api/runs/{id} and subpaths

	// API routes - Schedules
	mux.HandleFunc("/api/schedules", s.handleSchedulesRoute)  // GET (list), POST (create)
	mux.HandleFunc("/api/schedules/", s.handleScheduleRoutes) // POST /{id}/trigger, DELETE /{id}

	// API routes - System
	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler) // GET - application status
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleRunsRoute routes /api/runs requests (list and start)
func (s *Server) handleRunsRoute(w http.ResponseWriter, r *http.Request) {
	RouteResourceCollection(w, r,
		s.app.RunHandler.ListRunsHandler,
		s.app.RunHandler.StartRunHandler)
}

// handleRunRoutes routes run-related requests to the appropriate handler
func (s *Server) handleRunRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// GET /api/runs/{id} and subresources
	if r.Method == "GET" && len(path) > len("/api/runs/") {
		// GET /api/runs/{id}/status
		if strings.HasSuffix(path, "/status") {
			s.app.RunHandler.GetRunStatusHandler(w, r)
			return
		}
		// GET /api/runs/{id}/bundle
		if strings.HasSuffix(path, "/bundle") {
			s.app.RunHandler.GetBundleHandler(w, r)
			return
		}
		// GET /api/runs/{id}/relationships
		if strings.HasSuffix(path, "/relationships") {
			s.app.RunHandler.GetRelationshipsHandler(w, r)
			return
		}
		// GET /api/runs/{id}/source?url={page}
		if strings.HasSuffix(path, "/source") {
			s.app.RunHandler.GetSourceHandler(w, r)
			return
		}
		// GET /api/runs/{id}/links/broken
		if strings.HasSuffix(path, "/links/broken") {
			s.app.RunHandler.GetBrokenLinksHandler(w, r)
			return
		}
		// GET /api/runs/{id}/links/detail?url={link}
		if strings.HasSuffix(path, "/links/detail") {
			s.app.RunHandler.GetBrokenLinkDetailHandler(w, r)
			return
		}
		// GET /api/runs/{id}/changes
		if strings.HasSuffix(path, "/changes") {
			s.app.RunHandler.GetChangesHandler(w, r)
			return
		}
		// Otherwise it's /api/runs/{id}
		s.app.RunHandler.GetRunHandler(w, r)
		return
	}

	// POST /api/runs/{id}/cancel
	if r.Method == "POST" && strings.HasSuffix(path, "/cancel") {
		s.app.RunHandler.CancelRunHandler(w, r)
		return
	}

	// DELETE /api/runs/{id}
	if r.Method == "DELETE" && len(path) > len("/api/runs/") {
		s.app.RunHandler.DeleteRunHandler(w, r)
		return
	}

	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

// handleSchedulesRoute routes /api/schedules requests (list and create)
func (s *Server) handleSchedulesRoute(w http.ResponseWriter, r *http.Request) {
	RouteResourceCollection(w, r,
		s.app.ScheduleHandler.ListSchedulesHandler,
		s.app.ScheduleHandler.CreateScheduleHandler)
}

// handleScheduleRoutes routes /api/schedules/{id} requests
func (s *Server) handleScheduleRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// POST /api/schedules/{id}/trigger
	if r.Method == "POST" && strings.HasSuffix(path, "/trigger") {
		s.app.ScheduleHandler.TriggerScheduleHandler(w, r)
		return
	}

	// DELETE /api/schedules/{id}
	if r.Method == "DELETE" && len(path) > len("/api/schedules/") {
		s.app.ScheduleHandler.DeleteScheduleHandler(w, r)
		return
	}

	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}
