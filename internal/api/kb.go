package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/talksense-ai/rag-engine/internal/vectorindex"
)

// seedRequest carries knowledge-base documents to embed and index.
type seedRequest struct {
	Documents []seedDocument `json:"documents"`
}

type seedDocument struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	docs := make([]vectorindex.Document, len(req.Documents))
	for i, doc := range req.Documents {
		if doc.ID == "" || doc.Text == "" {
			s.writeError(w, http.StatusBadRequest, "documents require id and text")
			return
		}
		docs[i] = vectorindex.Document{ID: doc.ID, Text: doc.Text, Metadata: doc.Metadata}
	}

	count, err := s.engine.Seed(r.Context(), docs)
	if err != nil {
		if errors.Is(err, vectorindex.ErrShapeMismatch) || errors.Is(err, vectorindex.ErrDimensionMismatch) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("seeding failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]int{"added": count})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.IndexStats(r.Context())
	if err != nil {
		s.logger.Error("index stats failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ClearIndex(r.Context()); err != nil {
		s.logger.Error("index clear failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
