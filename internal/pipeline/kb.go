package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/talksense-ai/rag-engine/internal/markdown"
	"github.com/talksense-ai/rag-engine/internal/vectorindex"
)

// Seed embeds the given documents in one batch and adds them to the index.
// Returns the number of documents added.
func (o *Orchestrator) Seed(ctx context.Context, docs []vectorindex.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Text
	}

	vectors, err := o.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed documents: %w", err)
	}
	if err := o.index.Add(ctx, docs, vectors); err != nil {
		return 0, fmt.Errorf("add documents: %w", err)
	}

	o.logger.Info("seeded knowledge base", "count", len(docs))
	return len(docs), nil
}

// SeedMarkdown chunks a markdown file and seeds the index with its chunks.
// Chunk ids continue the kb-N sequence from the current document count, so
// repeated seeding appends new ids rather than mutating existing documents.
func (o *Orchestrator) SeedMarkdown(ctx context.Context, path string, chunker *markdown.Chunker) (int, error) {
	if chunker == nil {
		chunker = markdown.NewChunker(0)
	}
	chunks, err := chunker.ChunkFile(path)
	if err != nil {
		return 0, fmt.Errorf("chunk %s: %w", path, err)
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	stats, err := o.index.Stats(ctx)
	if err != nil {
		return 0, fmt.Errorf("index stats: %w", err)
	}

	docs := make([]vectorindex.Document, len(chunks))
	for i, chunk := range chunks {
		metadata := map[string]string{
			"source":      filepath.Base(path),
			"chunk_index": strconv.Itoa(chunk.Index),
		}
		if chunk.Section != "" {
			metadata["section"] = chunk.Section
		}
		docs[i] = vectorindex.Document{
			ID:       fmt.Sprintf("kb-%d", stats.DocumentCount+i),
			Text:     chunk.Content,
			Metadata: metadata,
		}
	}
	return o.Seed(ctx, docs)
}

// SearchIndex embeds nothing; it searches the index with an already-built
// query vector and returns ranked documents.
func (o *Orchestrator) SearchIndex(ctx context.Context, query []float32, topK int) ([]vectorindex.SearchResult, error) {
	return o.index.Search(ctx, query, topK)
}

// SearchText embeds the query text and searches the index.
func (o *Orchestrator) SearchText(ctx context.Context, query string, topK int) ([]vectorindex.SearchResult, error) {
	vec, err := o.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return o.index.Search(ctx, vec, topK)
}

// IndexStats reports index cardinality for monitoring.
func (o *Orchestrator) IndexStats(ctx context.Context) (vectorindex.Stats, error) {
	return o.index.Stats(ctx)
}

// ClearIndex removes all documents from the index. Irreversible.
func (o *Orchestrator) ClearIndex(ctx context.Context) error {
	return o.index.Clear(ctx)
}
