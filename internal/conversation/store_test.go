package conversation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndGetSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session, err := store.CreateSession(ctx, "support chat")
	require.NoError(t, err)
	require.NotEmpty(t, session.ID)

	got, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, "support chat", got.Title)
	assert.WithinDuration(t, session.CreatedAt, got.CreatedAt, time.Second)
}

func TestGetSession_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTouchSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session, err := store.CreateSession(ctx, "")
	require.NoError(t, err)

	require.NoError(t, store.TouchSession(ctx, session.ID))
	assert.ErrorIs(t, store.TouchSession(ctx, "missing"), ErrNotFound)
}

func TestAppendTurn_AssignsIDAndTimestamp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session, err := store.CreateSession(ctx, "")
	require.NoError(t, err)

	turn := &Turn{
		SessionID: session.ID,
		Role:      RoleUser,
		Content:   "hello",
	}
	require.NoError(t, store.AppendTurn(ctx, turn))
	assert.NotEmpty(t, turn.ID)
	assert.False(t, turn.CreatedAt.IsZero())

	turns, err := store.Turns(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "hello", turns[0].Content)
	assert.Equal(t, RoleUser, turns[0].Role)
	assert.Equal(t, 0, turns[0].Rating)
}

func TestAppendTurn_PersistsEmbeddingAndMetadata(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session, err := store.CreateSession(ctx, "")
	require.NoError(t, err)

	turn := &Turn{
		SessionID:  session.ID,
		Role:       RoleAssistant,
		Content:    "answer",
		TokensUsed: 17,
		Embedding:  []float32{0.25, -0.5},
		Metadata:   map[string]any{"model": "test-model", "fallback": false},
	}
	require.NoError(t, store.AppendTurn(ctx, turn))

	turns, err := store.Turns(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, 17, turns[0].TokensUsed)
	assert.Equal(t, []float32{0.25, -0.5}, turns[0].Embedding)
	assert.Equal(t, "test-model", turns[0].Metadata["model"])
	assert.Equal(t, false, turns[0].Metadata["fallback"])
}

func TestAttachEmbedding(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session, err := store.CreateSession(ctx, "")
	require.NoError(t, err)

	turn := &Turn{SessionID: session.ID, Role: RoleUser, Content: "q"}
	require.NoError(t, store.AppendTurn(ctx, turn))

	require.NoError(t, store.AttachEmbedding(ctx, turn.ID, []float32{1, 2, 3}))

	turns, err := store.Turns(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, turns[0].Embedding)

	assert.ErrorIs(t, store.AttachEmbedding(ctx, "missing", []float32{1}), ErrNotFound)
}

func TestRateTurn(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session, err := store.CreateSession(ctx, "")
	require.NoError(t, err)
	turn := &Turn{SessionID: session.ID, Role: RoleAssistant, Content: "a"}
	require.NoError(t, store.AppendTurn(ctx, turn))

	tests := []struct {
		name    string
		rating  int
		wantErr error
	}{
		{"too low", 0, ErrInvalidRating},
		{"negative", -1, ErrInvalidRating},
		{"too high", 6, ErrInvalidRating},
		{"minimum", 1, nil},
		{"maximum", 5, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.RateTurn(ctx, turn.ID, tt.rating)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	turns, err := store.Turns(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, turns[0].Rating)

	assert.ErrorIs(t, store.RateTurn(ctx, "missing", 3), ErrNotFound)
}

func TestRecentTurns_WindowAndOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session, err := store.CreateSession(ctx, "")
	require.NoError(t, err)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	contents := []string{"first", "second", "third", "fourth", "fifth"}
	for i, content := range contents {
		turn := &Turn{
			SessionID: session.ID,
			Role:      RoleUser,
			Content:   content,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, store.AppendTurn(ctx, turn))
	}

	recent, err := store.RecentTurns(ctx, session.ID, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "third", recent[0].Content)
	assert.Equal(t, "fourth", recent[1].Content)
	assert.Equal(t, "fifth", recent[2].Content)

	all, err := store.RecentTurns(ctx, session.ID, 100)
	require.NoError(t, err)
	assert.Len(t, all, len(contents))
	assert.Equal(t, "first", all[0].Content)

	none, err := store.RecentTurns(ctx, session.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRecentTurns_UnknownSessionEmpty(t *testing.T) {
	store := newTestStore(t)

	turns, err := store.RecentTurns(context.Background(), "missing", 3)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reopen.db")
	ctx := context.Background()

	store, err := NewStore(path)
	require.NoError(t, err)
	session, err := store.CreateSession(ctx, "durable")
	require.NoError(t, err)
	require.NoError(t, store.AppendTurn(ctx, &Turn{SessionID: session.ID, Role: RoleUser, Content: "kept"}))
	require.NoError(t, store.Close())

	reopened, err := NewStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	turns, err := reopened.Turns(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "kept", turns[0].Content)
}
