package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talksense-ai/rag-engine/internal/conversation"
	"github.com/talksense-ai/rag-engine/internal/vectorindex"
)

type fakeSearcher struct {
	results   []vectorindex.SearchResult
	searchErr error
	statsErr  error
	searched  bool
}

func (f *fakeSearcher) Search(ctx context.Context, query []float32, topK int) ([]vectorindex.SearchResult, error) {
	f.searched = true
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if topK < len(f.results) {
		return f.results[:topK], nil
	}
	return f.results, nil
}

func (f *fakeSearcher) Stats(ctx context.Context) (vectorindex.Stats, error) {
	if f.statsErr != nil {
		return vectorindex.Stats{}, f.statsErr
	}
	return vectorindex.Stats{DocumentCount: len(f.results), IndexSize: len(f.results)}, nil
}

type fakeHistory struct {
	turns []conversation.Turn
	err   error
}

func (f *fakeHistory) RecentTurns(ctx context.Context, sessionID string, n int) ([]conversation.Turn, error) {
	if f.err != nil {
		return nil, f.err
	}
	if n < len(f.turns) {
		return f.turns[len(f.turns)-n:], nil
	}
	return f.turns, nil
}

func TestAssemble_RetrievedOnly(t *testing.T) {
	searcher := &fakeSearcher{results: []vectorindex.SearchResult{
		{ID: "faq_1", Text: "First answer.", Distance: 0.1},
		{ID: "faq_2", Text: "Second answer.", Distance: 0.5},
	}}
	a := NewAssembler(searcher, nil, nil)

	out := a.Assemble(context.Background(), []float32{1, 0}, "", 3, 3)
	require.NoError(t, out.RetrievalErr)
	require.Len(t, out.Retrieved, 2)

	assert.Equal(t, "1. First answer.\n2. Second answer.", out.Text)
	assert.Equal(t, out.Text, out.RetrievedText)
}

func TestAssemble_FusesHistoryAndRetrieved(t *testing.T) {
	searcher := &fakeSearcher{results: []vectorindex.SearchResult{
		{ID: "faq_1", Text: "Reset your password via the login page.", Distance: 0.1},
	}}
	history := &fakeHistory{turns: []conversation.Turn{
		{Role: conversation.RoleUser, Content: "hi"},
		{Role: conversation.RoleAssistant, Content: "hello, how can I help?"},
	}}
	a := NewAssembler(searcher, history, nil)

	out := a.Assemble(context.Background(), []float32{1, 0}, "session-1", 3, 3)
	want := "Conversation History:\n" +
		"User: hi\n" +
		"Assistant: hello, how can I help?\n\n" +
		"1. Reset your password via the login page."
	assert.Equal(t, want, out.Text)
	assert.Equal(t, "1. Reset your password via the login page.", out.RetrievedText)
}

func TestAssemble_EmptyIndexSkipsSearch(t *testing.T) {
	searcher := &fakeSearcher{}
	a := NewAssembler(searcher, nil, nil)

	out := a.Assemble(context.Background(), []float32{1, 0}, "", 3, 3)
	assert.False(t, searcher.searched, "empty index must not be searched")
	assert.Empty(t, out.Text)
	assert.NoError(t, out.RetrievalErr)
}

func TestAssemble_SearchFailureDegrades(t *testing.T) {
	boom := errors.New("index offline")
	searcher := &fakeSearcher{
		results:   []vectorindex.SearchResult{{ID: "x", Text: "irrelevant"}},
		searchErr: boom,
	}
	history := &fakeHistory{turns: []conversation.Turn{
		{Role: conversation.RoleUser, Content: "still here"},
	}}
	a := NewAssembler(searcher, history, nil)

	out := a.Assemble(context.Background(), []float32{1, 0}, "s", 3, 3)
	assert.ErrorIs(t, out.RetrievalErr, boom)
	assert.Empty(t, out.Retrieved)
	assert.Equal(t, "Conversation History:\nUser: still here\n\n", out.Text)
}

func TestAssemble_HistoryFailureDegrades(t *testing.T) {
	boom := errors.New("db locked")
	searcher := &fakeSearcher{results: []vectorindex.SearchResult{
		{ID: "faq_1", Text: "Answer."},
	}}
	a := NewAssembler(searcher, &fakeHistory{err: boom}, nil)

	out := a.Assemble(context.Background(), []float32{1, 0}, "s", 3, 3)
	assert.ErrorIs(t, out.HistoryErr, boom)
	assert.Equal(t, "1. Answer.", out.Text)
}

func TestAssemble_NilQueryVectorHistoryOnly(t *testing.T) {
	searcher := &fakeSearcher{results: []vectorindex.SearchResult{
		{ID: "x", Text: "should not appear"},
	}}
	history := &fakeHistory{turns: []conversation.Turn{
		{Role: conversation.RoleUser, Content: "question"},
	}}
	a := NewAssembler(searcher, history, nil)

	out := a.Assemble(context.Background(), nil, "s", 3, 3)
	assert.False(t, searcher.searched)
	assert.Equal(t, "Conversation History:\nUser: question\n\n", out.Text)
	assert.Empty(t, out.RetrievedText)
}

func TestAssemble_EmptyBothSourcesYieldsEmptyText(t *testing.T) {
	a := NewAssembler(&fakeSearcher{}, &fakeHistory{}, nil)
	out := a.Assemble(context.Background(), []float32{1}, "s", 3, 3)
	assert.Empty(t, out.Text)
}

func TestAssemble_LongChunkTrimmedToSentence(t *testing.T) {
	long := strings.Repeat("This sentence pads the chunk out. ", 40)
	searcher := &fakeSearcher{results: []vectorindex.SearchResult{
		{ID: "long", Text: long},
	}}
	a := NewAssembler(searcher, nil, nil)

	out := a.Assemble(context.Background(), []float32{1}, "", 1, 1)
	line := strings.TrimPrefix(out.RetrievedText, "1. ")
	assert.LessOrEqual(t, len(line), ChunkBudget)
	assert.True(t, strings.HasSuffix(line, "."), "trimmed chunk should end at a sentence boundary")
}

func TestAssemble_HistoryTurnTruncated(t *testing.T) {
	long := strings.Repeat("x", 500)
	history := &fakeHistory{turns: []conversation.Turn{
		{Role: conversation.RoleUser, Content: long},
	}}
	a := NewAssembler(&fakeSearcher{}, history, nil)

	out := a.Assemble(context.Background(), []float32{1}, "s", 3, 3)
	assert.Contains(t, out.Text, "User: "+strings.Repeat("x", HistoryTurnBudget))
	assert.NotContains(t, out.Text, strings.Repeat("x", HistoryTurnBudget+1))
}

func TestTrimToSentence(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxChars int
		want     string
	}{
		{"short text unchanged", "Hello world.", 350, "Hello world."},
		{"exact length unchanged", "abcde", 5, "abcde"},
		{"cuts at last period", "One sentence. Two sentence. Trailing words here", 30, "One sentence. Two sentence."},
		{"cuts at exclamation", "Stop! Do not pass go and do not collect", 20, "Stop!"},
		{"cuts at question mark", "Really? Who could have known this would", 15, "Really?"},
		{"no boundary falls back to word", "word1 word2 word3 word4", 17, "word1 word2..."},
		{"no boundary no space", "abcdefghij", 5, "abcde..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TrimToSentence(tt.text, tt.maxChars))
		})
	}
}
