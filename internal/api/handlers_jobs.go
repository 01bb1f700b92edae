package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/jordanhubbard/ensemble/internal/results"
	"github.com/jordanhubbard/ensemble/internal/scheduler"
	"github.com/jordanhubbard/ensemble/pkg/models"
)

type jobView struct {
	models.JobDefinition
	NextRun *time.Time `json:"next_run,omitempty"`
	Running bool       `json:"running"`
}

// handleJobs lists the job registry with next fire times.
// GET /api/v1/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defs := s.Jobs.Registry().List()
	out := make([]jobView, 0, len(defs))
	for _, def := range defs {
		v := jobView{JobDefinition: def, Running: s.Jobs.Running(def.ID)}
		if next, ok := s.Jobs.NextRun(def.ID); ok {
			v.NextRun = &next
		}
		out = append(out, v)
	}
	s.respondJSON(w, http.StatusOK, out)
}

// handleJob triggers a registered job immediately and waits for its results.
// POST /api/v1/jobs/{id}/run
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id, action := s.extractID(r.URL.Path, "/api/v1/jobs")
	if id == "" || action != "run" {
		s.respondError(w, http.StatusNotFound, "Not found")
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Buffered runs end only at the agent timeout; a dropped client must not kill them.
	out, err := s.Jobs.RunJob(context.WithoutCancel(r.Context()), id)
	s.respondRun(w, out, err)
}

// handleAdhoc runs one persona against a prompt outside the registry.
// POST /api/v1/jobs/adhoc
func (s *Server) handleAdhoc(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req ChatRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.PersonaID == "" || req.Message == "" {
		s.respondError(w, http.StatusBadRequest, "persona_id and message are required")
		return
	}
	out, err := s.Jobs.RunAdhoc(context.WithoutCancel(r.Context()), req.PersonaID, req.Message, req.Mode)
	s.respondRun(w, out, err)
}

func (s *Server) respondRun(w http.ResponseWriter, out []models.JobResult, err error) {
	switch {
	case err == nil:
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"results": out})
	case errors.Is(err, scheduler.ErrUnknownJob):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, scheduler.ErrJobRunning):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, results.ErrPersist):
		// The run itself succeeded.
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"results": out, "warning": err.Error()})
	default:
		s.respondError(w, http.StatusBadGateway, err.Error())
	}
}

// handleResults returns persisted job results, most recent first.
// GET /api/v1/results?job_id=&limit=
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jobID := r.URL.Query().Get("job_id")
	limit := 0
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}

	all := s.Results.ReadAll(r.Context())
	out := make([]models.JobResult, 0, len(all))
	for _, res := range all {
		if jobID != "" && res.JobID != jobID {
			continue
		}
		out = append(out, res)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"results": out, "count": len(out)})
}
