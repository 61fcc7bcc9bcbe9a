// Package conversation persists chat sessions and turns in SQLite. The
// engine treats it as an append/read log: turns within a session are
// totally ordered by creation time and "recent history" always means the
// most recent N by that order.
package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS turns (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role        TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
	content     TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	tokens_used INTEGER NOT NULL DEFAULT 0,
	embedding   TEXT,
	rating      INTEGER,
	metadata    TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_turns_session_created ON turns(session_id, created_at);
`

// Store is a SQLite-backed conversation store.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the conversation database at the
// given path. An empty path defaults to ./talksense.db. WAL mode keeps
// concurrent readers cheap.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "talksense.db"
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateSession creates a new session and returns it.
func (s *Store) CreateSession(ctx context.Context, title string) (*Session, error) {
	now := time.Now().UTC()
	session := &Session{
		ID:        uuid.New().String(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  map[string]any{},
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, created_at, updated_at, metadata) VALUES (?, ?, ?, ?, '{}')`,
		session.ID, session.Title, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}
	return session, nil
}

// GetSession returns a session by id, or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at, metadata FROM sessions WHERE id = ?`, id)

	var session Session
	var createdAt, updatedAt, metadata string
	if err := row.Scan(&session.ID, &session.Title, &createdAt, &updatedAt, &metadata); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	session.CreatedAt = parseTime(createdAt)
	session.UpdatedAt = parseTime(updatedAt)
	if err := json.Unmarshal([]byte(metadata), &session.Metadata); err != nil {
		session.Metadata = map[string]any{}
	}
	return &session, nil
}

// TouchSession updates a session's last-activity marker.
func (s *Store) TouchSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendTurn persists a turn, assigning an id and creation time when unset.
func (s *Store) AppendTurn(ctx context.Context, turn *Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	embedding, err := encodeEmbedding(turn.Embedding)
	if err != nil {
		return fmt.Errorf("encoding embedding: %w", err)
	}
	metadata, err := encodeMetadata(turn.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO turns (id, session_id, role, content, created_at, tokens_used, embedding, rating, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.SessionID, string(turn.Role), turn.Content, formatTime(turn.CreatedAt),
		turn.TokensUsed, embedding, nullableRating(turn.Rating), metadata)
	if err != nil {
		return fmt.Errorf("inserting turn: %w", err)
	}
	return nil
}

// AttachEmbedding records a turn's embedding after the fact. The one
// permitted post-creation mutation besides rating.
func (s *Store) AttachEmbedding(ctx context.Context, turnID string, embedding []float32) error {
	encoded, err := encodeEmbedding(embedding)
	if err != nil {
		return fmt.Errorf("encoding embedding: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `UPDATE turns SET embedding = ? WHERE id = ?`, encoded, turnID)
	if err != nil {
		return fmt.Errorf("attaching embedding: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RateTurn records a user rating for a turn.
func (s *Store) RateTurn(ctx context.Context, turnID string, rating int) error {
	if rating < 1 || rating > 5 {
		return ErrInvalidRating
	}
	result, err := s.db.ExecContext(ctx, `UPDATE turns SET rating = ? WHERE id = ?`, rating, turnID)
	if err != nil {
		return fmt.Errorf("rating turn: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecentTurns returns the most recent n turns of a session in
// chronological order (oldest of the selected window first).
func (s *Store) RecentTurns(ctx context.Context, sessionID string, n int) ([]Turn, error) {
	if n <= 0 {
		return []Turn{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at, tokens_used, embedding, rating, metadata
		 FROM turns WHERE session_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("querying recent turns: %w", err)
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}
	// Query returns newest first; reverse into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Turns returns all turns of a session in chronological order.
func (s *Store) Turns(ctx context.Context, sessionID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at, tokens_used, embedding, rating, metadata
		 FROM turns WHERE session_id = ?
		 ORDER BY created_at ASC, rowid ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()
	return scanTurns(rows)
}

func scanTurns(rows *sql.Rows) ([]Turn, error) {
	var turns []Turn
	for rows.Next() {
		var turn Turn
		var role, createdAt, metadata string
		var embedding sql.NullString
		var rating sql.NullInt64
		if err := rows.Scan(&turn.ID, &turn.SessionID, &role, &turn.Content, &createdAt,
			&turn.TokensUsed, &embedding, &rating, &metadata); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		turn.Role = Role(role)
		turn.CreatedAt = parseTime(createdAt)
		if rating.Valid {
			turn.Rating = int(rating.Int64)
		}
		if embedding.Valid && embedding.String != "" {
			if err := json.Unmarshal([]byte(embedding.String), &turn.Embedding); err != nil {
				turn.Embedding = nil
			}
		}
		if err := json.Unmarshal([]byte(metadata), &turn.Metadata); err != nil {
			turn.Metadata = map[string]any{}
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turns: %w", err)
	}
	return turns, nil
}

func encodeEmbedding(embedding []float32) (sql.NullString, error) {
	if len(embedding) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(embedding)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func encodeMetadata(metadata map[string]any) (string, error) {
	if metadata == nil {
		return "{}", nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nullableRating(rating int) sql.NullInt64 {
	if rating == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(rating), Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
