package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talksense-ai/rag-engine/internal/conversation"
	"github.com/talksense-ai/rag-engine/internal/generation"
	"github.com/talksense-ai/rag-engine/internal/pipeline"
	"github.com/talksense-ai/rag-engine/internal/vectorindex"
)

const testDim = 4

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

func (stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

func (stubEmbedder) Dimension() int { return testDim }

type stubGenerator struct {
	text      string
	fragments []string
}

func (g stubGenerator) Generate(ctx context.Context, prompt, contextBlock string, opts generation.Options) (*generation.Result, error) {
	return &generation.Result{Text: g.text, TokensUsed: 5, Attempts: 1}, nil
}

func (g stubGenerator) Stream(ctx context.Context, prompt, contextBlock string, opts generation.Options) (iter.Seq[string], error) {
	return func(yield func(string) bool) {
		for _, fragment := range g.fragments {
			if !yield(fragment) {
				return
			}
		}
	}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *conversation.Store) {
	t.Helper()

	store, err := conversation.NewStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	index := vectorindex.Open("", testDim, slog.Default())
	engine := pipeline.NewOrchestrator(
		stubEmbedder{},
		index,
		store,
		stubGenerator{text: "Assistant reply.", fragments: []string{"Hel", "lo"}},
		"test-model",
		slog.Default(),
	)

	ts := httptest.NewServer(NewServer(engine, store, slog.Default()).Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestChat_CreatesSessionWhenOmitted(t *testing.T) {
	ts, store := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/chat", map[string]any{"message": "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON[map[string]any](t, resp)
	sessionID, _ := body["session_id"].(string)
	require.NotEmpty(t, sessionID)

	_, err := store.GetSession(context.Background(), sessionID)
	assert.NoError(t, err)

	assistant := body["assistant_turn"].(map[string]any)
	assert.Equal(t, "assistant", assistant["role"])
	assert.Equal(t, "Assistant reply.", assistant["content"])
}

func TestChat_UnknownSessionRejected(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/chat", map[string]any{
		"session_id": "does-not-exist",
		"message":    "hello",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChat_EmptyMessageRejected(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/chat", map[string]any{"message": "   "})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChat_InvalidBodyRejected(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/chat", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatStream_SSEEventOrder(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/chat/stream", map[string]any{"message": "hello"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []sseEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event sseEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
		events = append(events, event)
	}
	require.NoError(t, scanner.Err())

	// Heartbeat chunk, two content chunks, then done.
	require.Len(t, events, 4)
	assert.Equal(t, "chunk", events[0].Event)
	assert.Equal(t, "chunk", events[1].Event)
	assert.Equal(t, "chunk", events[2].Event)
	assert.Equal(t, "done", events[3].Event)

	chunkText := func(e sseEvent) string {
		data := e.Data.(map[string]any)
		return data["text"].(string)
	}
	assert.Equal(t, " ", chunkText(events[0]))
	assert.Equal(t, "Hel", chunkText(events[1]))
	assert.Equal(t, "lo", chunkText(events[2]))

	done := events[3].Data.(map[string]any)
	assert.NotEmpty(t, done["session_id"])
}

func TestRating_RoundTrip(t *testing.T) {
	ts, store := newTestServer(t)
	ctx := context.Background()

	resp := postJSON(t, ts.URL+"/api/chat", map[string]any{"message": "hello"})
	body := decodeJSON[map[string]any](t, resp)
	assistant := body["assistant_turn"].(map[string]any)
	turnID := assistant["id"].(string)
	sessionID := body["session_id"].(string)

	rateResp := postJSON(t, ts.URL+"/api/turns/"+turnID+"/rating", map[string]int{"rating": 4})
	defer rateResp.Body.Close()
	require.Equal(t, http.StatusOK, rateResp.StatusCode)

	turns, err := store.Turns(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, 4, turns[1].Rating)
}

func TestRating_Validation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/turns/some-id/rating", map[string]int{"rating": 9})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/turns/missing/rating", map[string]int{"rating": 3})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestKB_SeedStatsClear(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/kb/seed", map[string]any{
		"documents": []map[string]any{
			{"id": "faq_1", "text": "How do I reset my password?"},
		},
	})
	seeded := decodeJSON[map[string]int](t, resp)
	assert.Equal(t, 1, seeded["added"])

	statsResp, err := http.Get(ts.URL + "/api/kb/stats")
	require.NoError(t, err)
	stats := decodeJSON[vectorindex.Stats](t, statsResp)
	assert.Equal(t, 1, stats.DocumentCount)

	clearResp := postJSON(t, ts.URL+"/api/kb/clear", map[string]any{})
	defer clearResp.Body.Close()
	require.Equal(t, http.StatusOK, clearResp.StatusCode)

	statsResp, err = http.Get(ts.URL + "/api/kb/stats")
	require.NoError(t, err)
	stats = decodeJSON[vectorindex.Stats](t, statsResp)
	assert.Equal(t, 0, stats.DocumentCount)
}

func TestKB_SeedValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/kb/seed", map[string]any{
		"documents": []map[string]any{{"id": "", "text": "orphan"}},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	body := decodeJSON[healthResponse](t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "ok", body.Index)
	assert.Equal(t, "ok", body.Store)
}
