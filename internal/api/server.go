// Package api exposes the RAG engine over HTTP: synchronous chat, SSE
// streaming chat, turn rating, and thin knowledge-base administration.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/talksense-ai/rag-engine/internal/conversation"
	"github.com/talksense-ai/rag-engine/internal/pipeline"
)

// Server holds the engine handle and the conversation store.
type Server struct {
	engine *pipeline.Orchestrator
	store  *conversation.Store
	logger *slog.Logger
}

// NewServer creates the HTTP server facade.
func NewServer(engine *pipeline.Orchestrator, store *conversation.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, store: store, logger: logger}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/chat/stream", s.handleChatStream)
	mux.HandleFunc("POST /api/turns/{id}/rating", s.handleRating)
	mux.HandleFunc("POST /api/kb/seed", s.handleSeed)
	mux.HandleFunc("GET /api/kb/stats", s.handleStats)
	mux.HandleFunc("POST /api/kb/clear", s.handleClear)

	return mux
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encoding response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}
