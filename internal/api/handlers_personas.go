package api

import (
	"errors"
	"net/http"

	"github.com/jordanhubbard/ensemble/internal/character"
	"github.com/jordanhubbard/ensemble/internal/routing"
	"github.com/jordanhubbard/ensemble/pkg/models"
)

type personaSummary struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Tier         models.Tier    `json:"tier"`
	DefaultModel string         `json:"default_model"`
	Skills       []string       `json:"skills,omitempty"`
	Modifiers    []string       `json:"modifiers,omitempty"`
	Routing      models.Routing `json:"routing"`
}

// handlePersonas lists personas in routing order.
// GET /api/v1/personas
func (s *Server) handlePersonas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	personas := s.Store.Personas()
	out := make([]personaSummary, 0, len(personas))
	for _, p := range personas {
		out = append(out, personaSummary{
			ID:           p.ID,
			Name:         p.Name,
			Tier:         p.Tier,
			DefaultModel: p.DefaultModel,
			Skills:       p.Skills,
			Modifiers:    p.Modifiers,
			Routing:      p.Routing,
		})
	}
	s.respondJSON(w, http.StatusOK, out)
}

// handlePersona serves a single persona and its memory.
// GET /api/v1/personas/{id}
// POST /api/v1/personas/{id}/memory
func (s *Server) handlePersona(w http.ResponseWriter, r *http.Request) {
	id, action := s.extractID(r.URL.Path, "/api/v1/personas")
	if id == "" {
		s.respondError(w, http.StatusNotFound, "Persona id required")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		p, ok := s.Store.Persona(id)
		if !ok {
			s.respondError(w, http.StatusNotFound, "Persona not found: "+id)
			return
		}
		s.respondJSON(w, http.StatusOK, p)

	case action == "memory" && r.Method == http.MethodPost:
		var req struct {
			Memory string `json:"memory"`
		}
		if err := s.parseJSON(r, &req); err != nil {
			s.respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := s.Store.SaveMemory(id, req.Memory); err != nil {
			if errors.Is(err, character.ErrUnknownPersona) {
				s.respondError(w, http.StatusNotFound, err.Error())
				return
			}
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.invalidateRouting()
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "saved", "persona_id": id})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleInvalidate drops the configuration and routing caches.
// POST /api/v1/config/invalidate
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.Store.Invalidate()
	s.invalidateRouting()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "invalidated",
		"personas": len(s.Store.Personas()),
	})
}

func (s *Server) invalidateRouting() {
	if s.Router != nil {
		s.Router.Invalidate()
	}
}

// handleRoute explains where a work item would be routed.
// GET /api/v1/route?assignee=&group=&name=[&classify=group]
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	// classify=group skips the assignee and learned overrides.
	if q.Get("classify") == "group" {
		s.respondJSON(w, http.StatusOK, map[string]string{
			"persona_id": s.Router.ClassifyByGroup(q.Get("group"), q.Get("name")),
		})
		return
	}
	s.respondJSON(w, http.StatusOK, s.Router.Explain(q.Get("assignee"), q.Get("group"), q.Get("name")))
}

// handleOverrides records a learned routing override.
// POST /api/v1/routing/overrides
func (s *Server) handleOverrides(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Pattern   string `json:"pattern"`
		PersonaID string `json:"persona_id"`
	}
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.Router.Learn(req.Pattern, req.PersonaID); err != nil {
		switch {
		case errors.Is(err, routing.ErrInvalidPattern):
			s.respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, character.ErrUnknownPersona):
			s.respondError(w, http.StatusNotFound, err.Error())
		default:
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"pattern": req.Pattern, "persona_id": req.PersonaID})
}
