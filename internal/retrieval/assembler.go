// Package retrieval fuses nearest-neighbor document retrieval with recent
// conversation history into one bounded context string for the generator.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/talksense-ai/rag-engine/internal/conversation"
	"github.com/talksense-ai/rag-engine/internal/vectorindex"
)

const (
	// ChunkBudget caps each retrieved chunk fed to the generator.
	ChunkBudget = 350

	// HistoryTurnBudget caps each history turn to bound prompt size.
	HistoryTurnBudget = 200

	// DefaultTopK is the number of documents retrieved per query.
	DefaultTopK = 3

	// DefaultHistoryLimit is the number of recent turns included.
	DefaultHistoryLimit = 3
)

// Searcher is the slice of the vector index the assembler needs.
type Searcher interface {
	Search(ctx context.Context, query []float32, topK int) ([]vectorindex.SearchResult, error)
	Stats(ctx context.Context) (vectorindex.Stats, error)
}

// HistoryReader reads the most recent turns of a session, oldest first.
type HistoryReader interface {
	RecentTurns(ctx context.Context, sessionID string, n int) ([]conversation.Turn, error)
}

// Context is an assembled generation context. Failures of either source are
// recorded here rather than returned: the pipeline degrades to whatever
// could be assembled and keeps the failure observable.
type Context struct {
	Text          string
	RetrievedText string // the numbered retrieved block alone, for fallback answers
	Retrieved     []vectorindex.SearchResult

	RetrievalErr error // search failed, retrieved portion degraded to empty
	HistoryErr   error // history read failed, history portion degraded to empty
}

// Assembler builds generation contexts.
type Assembler struct {
	index   Searcher
	history HistoryReader
	logger  *slog.Logger
}

// NewAssembler creates an Assembler. history may be nil when no
// conversation store is attached (retrieval-only contexts).
func NewAssembler(index Searcher, history HistoryReader, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{index: index, history: history, logger: logger}
}

// Assemble retrieves up to topK documents for the query vector, trims each
// to a clean sentence boundary, and fuses them with the session's recent
// history. An empty index skips the search entirely. The returned context
// text is empty when both sources are empty.
func (a *Assembler) Assemble(ctx context.Context, queryVec []float32, sessionID string, topK, historyLimit int) *Context {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}

	out := &Context{}

	// A nil query vector means retrieval is disabled for this call; only
	// the history portion is assembled.
	if queryVec == nil {
		history := a.formatHistory(ctx, sessionID, historyLimit, out)
		if history != "" {
			out.Text = "Conversation History:\n" + history + "\n\n"
		}
		return out
	}

	// Fast path: never issue a doomed search against an empty index.
	stats, err := a.index.Stats(ctx)
	switch {
	case err != nil:
		out.RetrievalErr = err
		a.logger.Warn("index stats failed, skipping retrieval", "error", err)
	case stats.IndexSize == 0:
		a.logger.Debug("index empty, skipping retrieval")
	default:
		results, err := a.index.Search(ctx, queryVec, topK)
		if err != nil {
			out.RetrievalErr = err
			a.logger.Warn("retrieval failed, continuing without context", "error", err)
		} else {
			out.Retrieved = results
		}
	}

	if len(out.Retrieved) > 0 {
		lines := make([]string, len(out.Retrieved))
		for i, doc := range out.Retrieved {
			// Nearest first, numbered in descending relevance order.
			lines[i] = fmt.Sprintf("%d. %s", i+1, TrimToSentence(doc.Text, ChunkBudget))
		}
		out.RetrievedText = strings.Join(lines, "\n")
	}

	history := a.formatHistory(ctx, sessionID, historyLimit, out)

	switch {
	case history != "":
		out.Text = "Conversation History:\n" + history + "\n\n" + out.RetrievedText
	default:
		out.Text = out.RetrievedText
	}
	return out
}

// formatHistory renders the most recent turns as "Role: content" lines in
// chronological order, each truncated to the per-turn budget.
func (a *Assembler) formatHistory(ctx context.Context, sessionID string, limit int, out *Context) string {
	if a.history == nil || sessionID == "" {
		return ""
	}
	turns, err := a.history.RecentTurns(ctx, sessionID, limit)
	if err != nil {
		out.HistoryErr = err
		a.logger.Warn("history read failed, continuing without history", "session", sessionID, "error", err)
		return ""
	}
	if len(turns) == 0 {
		return ""
	}

	lines := make([]string, len(turns))
	for i, turn := range turns {
		role := "User"
		if turn.Role == conversation.RoleAssistant {
			role = "Assistant"
		}
		lines[i] = role + ": " + truncateRunes(turn.Content, HistoryTurnBudget)
	}
	return strings.Join(lines, "\n")
}

// TrimToSentence trims text to the last complete sentence boundary within
// maxChars. When no boundary exists in range it falls back to the last
// whole word and marks the truncation with an ellipsis.
func TrimToSentence(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	truncated := text[:maxChars]

	if i := strings.LastIndexAny(truncated, ".!?"); i >= 0 {
		return strings.TrimSpace(truncated[:i+1])
	}
	if i := strings.LastIndex(truncated, " "); i > 0 {
		return truncated[:i] + "..."
	}
	return truncated + "..."
}

// truncateRunes caps s at n runes without splitting a character.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
