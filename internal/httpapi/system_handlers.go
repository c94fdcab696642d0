package httpapi

import (
	"net/http"
	"time"

	"pgmon/internal/version"
)

type healthResponse struct {
	Status     string `json:"status"`
	Timestamp  string `json:"timestamp"`
	PoolsCount int    `json:"pools_count"`
	Version    string `json:"version"`
}

// handleHealth is the unauthenticated liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		PoolsCount: s.remote.Count(),
		Version:    version.Version,
	})
}

// handlePoolsStatus reports connection pool statistics per open target.
func (s *Server) handlePoolsStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.remote.Status())
}
