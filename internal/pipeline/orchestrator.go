// Package pipeline orchestrates the full RAG sequence: persist user input,
// embed, retrieve, assemble context, generate, persist assistant output.
// Batch and streaming entry points share the sequence and differ only in
// how generation output is delivered.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/talksense-ai/rag-engine/internal/conversation"
	"github.com/talksense-ai/rag-engine/internal/generation"
	"github.com/talksense-ai/rag-engine/internal/retrieval"
	"github.com/talksense-ai/rag-engine/internal/vectorindex"
)

// ErrEmptyMessage is returned when the user message is empty or blank.
var ErrEmptyMessage = errors.New("message must be non-empty")

// fallbackWithContext prefixes the verbatim retrieved context when
// generation fails but retrieval succeeded.
const fallbackWithContext = "Here's what I found from the knowledge base:\n\n"

// fallbackNoContext is the generic degraded answer when nothing was retrieved.
const fallbackNoContext = "I'm temporarily unavailable due to high load. Please retry shortly."

// Embedder is the embedding gateway slice the pipeline needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// VectorStore is the nearest-neighbor index contract. Both the flat
// snapshot index and the Qdrant variant satisfy it.
type VectorStore interface {
	Add(ctx context.Context, docs []vectorindex.Document, vectors [][]float32) error
	Search(ctx context.Context, query []float32, topK int) ([]vectorindex.SearchResult, error)
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (vectorindex.Stats, error)
}

// Generator is the generation gateway slice the pipeline needs.
type Generator interface {
	Generate(ctx context.Context, prompt, contextBlock string, opts generation.Options) (*generation.Result, error)
	Stream(ctx context.Context, prompt, contextBlock string, opts generation.Options) (iter.Seq[string], error)
}

// ConversationStore is the turn persistence collaborator.
type ConversationStore interface {
	AppendTurn(ctx context.Context, turn *conversation.Turn) error
	AttachEmbedding(ctx context.Context, turnID string, embedding []float32) error
	RecentTurns(ctx context.Context, sessionID string, n int) ([]conversation.Turn, error)
	TouchSession(ctx context.Context, sessionID string) error
}

// Options tune one pipeline invocation.
type Options struct {
	UseRAG       bool
	TopK         int     // default retrieval.DefaultTopK
	HistoryLimit int     // default retrieval.DefaultHistoryLimit
	Temperature  float64 // default 0.3
	MaxTokens    int     // default 2000
}

// Outcome records the best-effort steps that failed during a pipeline run.
// These failures degrade behavior instead of aborting it; keeping them
// explicit lets callers and tests distinguish silent success from absorbed
// failure.
type Outcome struct {
	EmbedUserErr      error
	RetrievalErr      error
	HistoryErr        error
	EmbedAssistantErr error
	TouchSessionErr   error
}

// Exchange is the result of one batch pipeline run.
type Exchange struct {
	UserTurn      *conversation.Turn
	AssistantTurn *conversation.Turn
	Outcome       Outcome
}

// Orchestrator is the top-level RAG engine.
type Orchestrator struct {
	embedder  Embedder
	index     VectorStore
	store     ConversationStore
	generator Generator
	assembler *retrieval.Assembler
	modelName string // generation backend identity, recorded in turn metadata
	logger    *slog.Logger
}

// NewOrchestrator wires the pipeline components together.
func NewOrchestrator(
	embedder Embedder,
	index VectorStore,
	store ConversationStore,
	generator Generator,
	modelName string,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		embedder:  embedder,
		index:     index,
		store:     store,
		generator: generator,
		assembler: retrieval.NewAssembler(index, store, logger),
		modelName: modelName,
		logger:    logger,
	}
}

// Process runs the complete pipeline and returns both persisted turns.
// Backend failures along the way degrade (no context, fallback answer) and
// are recorded in the Outcome; only contract violations and conversation
// store failures return an error.
func (o *Orchestrator) Process(ctx context.Context, sessionID, userText string, opts Options) (*Exchange, error) {
	if strings.TrimSpace(userText) == "" {
		return nil, ErrEmptyMessage
	}
	start := time.Now()
	exchange := &Exchange{}

	// 1. Persist the user turn before anything can fail.
	userTurn := &conversation.Turn{
		SessionID: sessionID,
		Role:      conversation.RoleUser,
		Content:   userText,
	}
	if err := o.store.AppendTurn(ctx, userTurn); err != nil {
		return nil, fmt.Errorf("persist user turn: %w", err)
	}
	exchange.UserTurn = userTurn

	// 2. Embed the user text and attach the vector to the turn.
	queryVec := o.embedUserText(ctx, userTurn, &exchange.Outcome)

	// 3-4. Retrieve context and fuse with recent history.
	asm := o.assembleContext(ctx, sessionID, queryVec, opts, &exchange.Outcome)

	// 5. Generate, substituting a context-grounded fallback if needed.
	result, err := o.generator.Generate(ctx, userText, asm.Text, generation.Options{
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	assistantText := result.Text
	if result.Fallback {
		assistantText = degradedAnswer(asm.RetrievedText)
	}

	// 6. Embed the final assistant text, best-effort.
	assistantVec, err := o.embedder.Embed(ctx, assistantText)
	if err != nil {
		exchange.Outcome.EmbedAssistantErr = err
		o.logger.Warn("assistant embedding failed", "error", err)
	}

	// 7. Persist the assistant turn with provenance metadata.
	assistantTurn := &conversation.Turn{
		SessionID:  sessionID,
		Role:       conversation.RoleAssistant,
		Content:    assistantText,
		TokensUsed: result.TokensUsed,
		Embedding:  assistantVec,
		Metadata:   o.turnMetadata(asm, opts, result.Fallback, result.FailureReason, time.Since(start)),
	}
	if err := o.store.AppendTurn(ctx, assistantTurn); err != nil {
		return nil, fmt.Errorf("persist assistant turn: %w", err)
	}
	exchange.AssistantTurn = assistantTurn

	// 8. Touch the session's last-activity marker.
	if err := o.store.TouchSession(ctx, sessionID); err != nil {
		exchange.Outcome.TouchSessionErr = err
		o.logger.Warn("session touch failed", "session", sessionID, "error", err)
	}

	return exchange, nil
}

// Stream runs the same pipeline but delivers the answer as a lazy fragment
// sequence. The first fragment is an immediate whitespace heartbeat emitted
// before any blocking work; embedding and retrieval happen next, then
// generation fragments are forwarded as they arrive. After the stream ends
// the assistant turn is persisted with a best-effort embedding of the full
// accumulated text. Consuming the sequence twice re-runs the pipeline.
func (o *Orchestrator) Stream(ctx context.Context, sessionID, userText string, opts Options) (iter.Seq[string], error) {
	if strings.TrimSpace(userText) == "" {
		return nil, ErrEmptyMessage
	}

	return func(yield func(string) bool) {
		start := time.Now()

		// Heartbeat first so the consumer can render a typing indicator
		// with zero perceived delay.
		if !yield(" ") {
			return
		}

		var outcome Outcome

		userTurn := &conversation.Turn{
			SessionID: sessionID,
			Role:      conversation.RoleUser,
			Content:   userText,
		}
		if err := o.store.AppendTurn(ctx, userTurn); err != nil {
			// Once streaming has begun no error may escape; terminate with
			// a safe fragment instead.
			o.logger.Error("persist user turn failed mid-stream", "error", err)
			yield("Sorry, something went wrong. Please try again in a moment.")
			return
		}

		queryVec := o.embedUserText(ctx, userTurn, &outcome)
		asm := o.assembleContext(ctx, sessionID, queryVec, opts, &outcome)

		fragments, err := o.generator.Stream(ctx, userText, asm.Text, generation.Options{
			Temperature: opts.Temperature,
			MaxTokens:   opts.MaxTokens,
		})
		if err != nil {
			// Only ErrEmptyInput reaches here and the prompt was validated,
			// but terminate safely regardless.
			o.logger.Error("stream start failed", "error", err)
			yield("Sorry, something went wrong. Please try again in a moment.")
			return
		}

		var full strings.Builder
		var ttft time.Duration
		for fragment := range fragments {
			if ttft == 0 && fragment != "" {
				ttft = time.Since(start)
			}
			full.WriteString(fragment)
			if !yield(fragment) {
				break // abandoned; whatever was delivered is still persisted
			}
		}
		if ttft == 0 {
			// Backend never produced a first chunk; record total elapsed.
			ttft = time.Since(start)
		}

		o.persistStreamedTurn(ctx, sessionID, full.String(), asm, opts, ttft, &outcome)
	}, nil
}

// persistStreamedTurn stores the assistant turn after stream exhaustion,
// embedding the accumulated text best-effort. Failures here are logged and
// swallowed; the consumer already has the answer.
func (o *Orchestrator) persistStreamedTurn(
	ctx context.Context,
	sessionID, text string,
	asm *retrieval.Context,
	opts Options,
	ttft time.Duration,
	outcome *Outcome,
) {
	if text == "" {
		return
	}

	assistantVec, err := o.embedder.Embed(ctx, text)
	if err != nil {
		outcome.EmbedAssistantErr = err
		o.logger.Warn("assistant embedding failed post-stream", "error", err)
	}

	metadata := o.turnMetadata(asm, opts, false, "", ttft)
	metadata["streaming"] = true

	assistantTurn := &conversation.Turn{
		SessionID: sessionID,
		Role:      conversation.RoleAssistant,
		Content:   text,
		Embedding: assistantVec,
		Metadata:  metadata,
	}
	if err := o.store.AppendTurn(ctx, assistantTurn); err != nil {
		o.logger.Error("persist assistant turn failed post-stream", "error", err)
		return
	}
	if err := o.store.TouchSession(ctx, sessionID); err != nil {
		outcome.TouchSessionErr = err
		o.logger.Warn("session touch failed", "session", sessionID, "error", err)
	}
}

// embedUserText embeds the user message and attaches the vector to the
// persisted turn. A backend failure degrades to nil (no retrieval this
// run) and is recorded.
func (o *Orchestrator) embedUserText(ctx context.Context, turn *conversation.Turn, outcome *Outcome) []float32 {
	vec, err := o.embedder.Embed(ctx, turn.Content)
	if err != nil {
		outcome.EmbedUserErr = err
		o.logger.Warn("user embedding failed, retrieval skipped", "error", err)
		return nil
	}
	turn.Embedding = vec
	if err := o.store.AttachEmbedding(ctx, turn.ID, vec); err != nil {
		outcome.EmbedUserErr = err
		o.logger.Warn("attaching user embedding failed", "error", err)
	}
	return vec
}

// assembleContext builds the generation context. Retrieval is skipped when
// RAG is off or the query vector is unavailable; history is always fused.
func (o *Orchestrator) assembleContext(ctx context.Context, sessionID string, queryVec []float32, opts Options, outcome *Outcome) *retrieval.Context {
	if !opts.UseRAG {
		queryVec = nil
	}
	asm := o.assembler.Assemble(ctx, queryVec, sessionID, opts.TopK, opts.HistoryLimit)
	outcome.RetrievalErr = asm.RetrievalErr
	outcome.HistoryErr = asm.HistoryErr
	return asm
}

// turnMetadata builds the assistant-turn metadata: retrieval provenance,
// backend identity, and latency. Intent classification is not implemented;
// the field is an explicit placeholder rather than a guess.
func (o *Orchestrator) turnMetadata(asm *retrieval.Context, opts Options, fallback bool, failureReason string, latency time.Duration) map[string]any {
	retrieved := make([]map[string]string, 0, len(asm.Retrieved))
	for _, doc := range asm.Retrieved {
		retrieved = append(retrieved, map[string]string{
			"source": doc.ID,
			"text":   doc.Text,
		})
	}

	metadata := map[string]any{
		"retrieved_docs": retrieved,
		"model":          o.modelName,
		"rag_enabled":    opts.UseRAG,
		"fallback":       fallback,
		"latency":        roundSeconds(latency),
		"intent":         "unclassified",
	}
	if failureReason != "" {
		metadata["failure_reason"] = failureReason
	}
	return metadata
}

// degradedAnswer is the user-visible replacement when generation failed:
// the verbatim retrieved context when there is any, a clearly-worded
// unavailability message otherwise. Never a raw error, never silence.
func degradedAnswer(retrievedText string) string {
	if retrievedText != "" {
		return fallbackWithContext + retrievedText
	}
	return fallbackNoContext
}

// roundSeconds reports a duration as seconds with millisecond precision.
func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}
