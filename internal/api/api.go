// Package api exposes the orchestrator over HTTP as a JSON REST surface.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/livinlefevreloca/waypoint/internal/db"
	"github.com/livinlefevreloca/waypoint/internal/domain"
	"github.com/livinlefevreloca/waypoint/internal/orchestrator"
	"github.com/livinlefevreloca/waypoint/internal/scheduler"
)

// Server holds the HTTP handler dependencies.
type Server struct {
	orch   *orchestrator.Orchestrator
	sched  *scheduler.Scheduler
	logger *slog.Logger
}

// NewServer creates the API server.
func NewServer(orch *orchestrator.Orchestrator, sched *scheduler.Scheduler, logger *slog.Logger) *Server {
	return &Server{orch: orch, sched: sched, logger: logger}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/schedules", func(r chi.Router) {
			r.Post("/", s.createSchedule)
			r.Get("/", s.listSchedules)
			r.Get("/{id}", s.getSchedule)
			r.Patch("/{id}", s.updateSchedule)
			r.Delete("/{id}", s.deleteSchedule)
			r.Post("/{id}/trigger", s.triggerSchedule)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/", s.listJobs)
			r.Get("/running", s.listRunningJobs)
			r.Get("/{id}", s.getJob)
			r.Post("/{id}/cancel", s.cancelJob)
		})

		r.Route("/sources", func(r chi.Router) {
			r.Get("/", s.listSources)
			r.Post("/{id}/reset-cursors", s.resetCursors)
		})

		r.Get("/stats", s.getStats)
		r.Get("/state/export", s.exportState)
		r.Post("/state/import", s.importState)
	})

	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// writeError maps engine errors onto HTTP statuses: missing resources are
// 404, validation problems are 400, everything else is 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case db.IsNotFound(err),
		errors.Is(err, domain.ErrSourceNotFound),
		errors.Is(err, domain.ErrStreamNotFound):
		status = http.StatusNotFound
	case db.IsInvalidTransition(err):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createScheduleRequest struct {
	SourceID       string          `json:"source_id"`
	SourceName     string          `json:"source_name"`
	Streams        []string        `json:"streams"`
	Mode           domain.SyncMode `json:"sync_mode"`
	CronExpression string          `json:"cron_expression"`
	Enabled        *bool           `json:"enabled"`
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}

	source, err := s.orch.Source(req.SourceID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sourceName := req.SourceName
	if sourceName == "" {
		sourceName = source.Name
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	schedule, err := s.sched.CreateSchedule(req.SourceID, sourceName, req.Streams, req.Mode, req.CronExpression, enabled)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}

	s.writeJSON(w, http.StatusCreated, schedule)
}

func (s *Server) listSchedules(w http.ResponseWriter, _ *http.Request) {
	schedules, err := s.sched.ListSchedules()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"schedules": schedules})
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	schedule, err := s.sched.GetSchedule(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, schedule)
}

type updateScheduleRequest struct {
	Streams        []string         `json:"streams"`
	Mode           *domain.SyncMode `json:"sync_mode"`
	CronExpression *string          `json:"cron_expression"`
	Enabled        *bool            `json:"enabled"`
}

func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	var req updateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}

	patch := scheduler.Patch{
		Streams:        req.Streams,
		Mode:           req.Mode,
		CronExpression: req.CronExpression,
		Enabled:        req.Enabled,
	}

	schedule, err := s.sched.UpdateSchedule(chi.URLParam(r, "id"), patch)
	if err != nil {
		if db.IsNotFound(err) {
			s.writeError(w, err)
			return
		}
		s.badRequest(w, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, schedule)
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.DeleteSchedule(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) triggerSchedule(w http.ResponseWriter, r *http.Request) {
	job, err := s.sched.TriggerNow(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, job)
}

type submitJobRequest struct {
	SourceID string          `json:"source_id"`
	Streams  []string        `json:"streams"`
	Mode     domain.SyncMode `json:"sync_mode"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}

	job, err := s.orch.SubmitJob(r.Context(), req.SourceID, req.Streams, req.Mode)
	if err != nil {
		if errors.Is(err, domain.ErrSourceNotFound) || errors.Is(err, domain.ErrStreamNotFound) {
			s.writeError(w, err)
			return
		}
		s.badRequest(w, err.Error())
		return
	}

	s.writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.badRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	var status *domain.JobStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed := domain.JobStatus(raw)
		if !parsed.Valid() {
			s.badRequest(w, "unknown job status "+strconv.Quote(raw))
			return
		}
		status = &parsed
	}

	jobs, err := s.orch.ListJobs(limit, status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) listRunningJobs(w http.ResponseWriter, _ *http.Request) {
	jobs, err := s.orch.ListRunningJobs()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.orch.GetJob(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.orch.CancelJob(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

type sourceSummary struct {
	ID   string               `json:"source_id"`
	Name string               `json:"name"`
	Kind domain.ConnectorKind `json:"kind"`
}

func (s *Server) listSources(w http.ResponseWriter, _ *http.Request) {
	sources := s.orch.Sources()
	summaries := make([]sourceSummary, 0, len(sources))
	for _, source := range sources {
		summaries = append(summaries, sourceSummary{
			ID:   source.ID,
			Name: source.Name,
			Kind: source.Config.Kind,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sources": summaries})
}

func (s *Server) resetCursors(w http.ResponseWriter, r *http.Request) {
	stream := r.URL.Query().Get("stream")
	if err := s.orch.ResetCursors(chi.URLParam(r, "id"), stream); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	stats, err := s.orch.GetStats()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) exportState(w http.ResponseWriter, _ *http.Request) {
	snapshot, err := s.orch.ExportState()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) importState(w http.ResponseWriter, r *http.Request) {
	var snapshot domain.StateSnapshot
	if err := json.NewDecoder(r.Body).Decode(&snapshot); err != nil {
		s.badRequest(w, "invalid snapshot: "+err.Error())
		return
	}

	if err := s.orch.ImportState(&snapshot); err != nil {
		s.badRequest(w, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"imported_cursors":   len(snapshot.Cursors),
		"imported_schedules": len(snapshot.Schedules),
	})
}
