package conversation

import "time"

// Role identifies which side of the dialogue produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Session is a conversation thread. The engine only appends turns to it and
// touches its last-activity marker; ownership and deletion cascade belong
// to the hosting application.
type Session struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
	Metadata  map[string]any
}

// Turn is one message in a session. Turns are never mutated after creation
// except to attach an embedding after the fact or to record a user rating.
type Turn struct {
	ID         string
	SessionID  string
	Role       Role
	Content    string
	CreatedAt  time.Time
	TokensUsed int
	Embedding  []float32      // same vector space as indexed documents
	Rating     int            // 1..5, 0 = unrated
	Metadata   map[string]any // model, latency, retrieval provenance, fallback flag
}
