package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jordanhubbard/ensemble/internal/logging"
)

// handleLogs returns recent log entries
// GET /api/v1/logs?limit=&level=&source=&since=
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.Logs == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Log buffer not available")
		return
	}

	// Parse query parameters
	limit := 100
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}
	var since time.Time
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		t, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid 'since' parameter: %v", err))
			return
		}
		since = t
	}

	logs := s.Logs.GetRecent(limit, r.URL.Query().Get("level"), r.URL.Query().Get("source"), since)
	if logs == nil {
		logs = []logging.LogEntry{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
	})
}
