package api

import (
	"context"
	"net/http"
	"time"
)

// healthResponse is the JSON body of the health check endpoint.
type healthResponse struct {
	Status        string `json:"status"`
	Index         string `json:"index"`
	Store         string `json:"store"`
	DocumentCount int    `json:"document_count"`
	Timestamp     string `json:"timestamp"`
}

// handleHealth reports engine liveness, index reachability, and
// conversation store reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	response := healthResponse{
		Status:    "healthy",
		Index:     "ok",
		Store:     "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	stats, err := s.engine.IndexStats(ctx)
	if err != nil {
		response.Status = "unhealthy"
		response.Index = "unreachable"
	} else {
		response.DocumentCount = stats.DocumentCount
	}

	if err := s.store.Ping(ctx); err != nil {
		response.Status = "unhealthy"
		response.Store = "unreachable"
	}

	if response.Status != "healthy" {
		s.writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}
	s.writeJSON(w, http.StatusOK, response)
}
