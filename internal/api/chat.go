package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/talksense-ai/rag-engine/internal/conversation"
	"github.com/talksense-ai/rag-engine/internal/pipeline"
)

// chatRequest is the body for both chat endpoints. UseRAG defaults to true
// when omitted.
type chatRequest struct {
	SessionID   string  `json:"session_id"`
	Message     string  `json:"message"`
	UseRAG      *bool   `json:"use_rag"`
	TopK        int     `json:"top_k"`
	Temperature float64 `json:"temperature"`
}

// turnResponse is the JSON shape of a persisted turn.
type turnResponse struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	CreatedAt  time.Time      `json:"created_at"`
	TokensUsed int            `json:"tokens_used,omitempty"`
	Rating     int            `json:"rating,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type chatResponse struct {
	SessionID     string       `json:"session_id"`
	UserTurn      turnResponse `json:"user_turn"`
	AssistantTurn turnResponse `json:"assistant_turn"`
}

func toTurnResponse(turn *conversation.Turn) turnResponse {
	return turnResponse{
		ID:         turn.ID,
		SessionID:  turn.SessionID,
		Role:       string(turn.Role),
		Content:    turn.Content,
		CreatedAt:  turn.CreatedAt,
		TokensUsed: turn.TokensUsed,
		Rating:     turn.Rating,
		Metadata:   turn.Metadata,
	}
}

// resolveSession returns the request's session, creating one when the id
// is empty. A non-empty unknown id is a client error.
func (s *Server) resolveSession(r *http.Request, sessionID string) (string, int, error) {
	if sessionID == "" {
		session, err := s.store.CreateSession(r.Context(), "")
		if err != nil {
			return "", http.StatusInternalServerError, err
		}
		return session.ID, 0, nil
	}
	if _, err := s.store.GetSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return "", http.StatusNotFound, err
		}
		return "", http.StatusInternalServerError, err
	}
	return sessionID, 0, nil
}

func (r chatRequest) options() pipeline.Options {
	useRAG := true
	if r.UseRAG != nil {
		useRAG = *r.UseRAG
	}
	return pipeline.Options{
		UseRAG:      useRAG,
		TopK:        r.TopK,
		Temperature: r.Temperature,
	}
}

// handleChat runs the synchronous pipeline and returns both turns.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID, status, err := s.resolveSession(r, req.SessionID)
	if err != nil {
		s.writeError(w, status, err.Error())
		return
	}

	exchange, err := s.engine.Process(r.Context(), sessionID, req.Message, req.options())
	if err != nil {
		if errors.Is(err, pipeline.ErrEmptyMessage) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("chat pipeline failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, chatResponse{
		SessionID:     sessionID,
		UserTurn:      toTurnResponse(exchange.UserTurn),
		AssistantTurn: toTurnResponse(exchange.AssistantTurn),
	})
}

// sseEvent is one Server-Sent Event payload.
//
// Event types:
//   - chunk: partial text {"text": "..."}
//   - done:  stream finished {"session_id": "..."}
//   - error: stream could not start {"message": "..."}
type sseEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// handleChatStream runs the streaming pipeline over SSE, forwarding
// fragments as they arrive rather than buffering to completion.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("streaming not supported by response writer")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeSSE(w, flusher, sseEvent{Event: "error", Data: map[string]string{"message": "invalid request body"}})
		return
	}

	sessionID, _, err := s.resolveSession(r, req.SessionID)
	if err != nil {
		s.writeSSE(w, flusher, sseEvent{Event: "error", Data: map[string]string{"message": err.Error()}})
		return
	}

	fragments, err := s.engine.Stream(r.Context(), sessionID, req.Message, req.options())
	if err != nil {
		s.writeSSE(w, flusher, sseEvent{Event: "error", Data: map[string]string{"message": err.Error()}})
		return
	}

	for fragment := range fragments {
		s.writeSSE(w, flusher, sseEvent{Event: "chunk", Data: map[string]string{"text": fragment}})
	}
	s.writeSSE(w, flusher, sseEvent{Event: "done", Data: map[string]string{"session_id": sessionID}})
}

func (s *Server) writeSSE(w http.ResponseWriter, flusher http.Flusher, event sseEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("encoding SSE event failed", "error", err)
		return
	}
	if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
		return // client gone
	}
	flusher.Flush()
}

// ratingRequest is the body for recording user feedback on a turn.
type ratingRequest struct {
	Rating int `json:"rating"`
}

func (s *Server) handleRating(w http.ResponseWriter, r *http.Request) {
	turnID := r.PathValue("id")

	var req ratingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.store.RateTurn(r.Context(), turnID, req.Rating)
	switch {
	case errors.Is(err, conversation.ErrInvalidRating):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, conversation.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "turn not found")
	case err != nil:
		s.logger.Error("rating turn failed", "turn", turnID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	default:
		s.writeJSON(w, http.StatusOK, map[string]any{"id": turnID, "rating": req.Rating})
	}
}
