// Package vectorindex provides nearest-neighbor search over document
// embeddings. The default implementation is an exact flat index held in
// memory with a best-effort snapshot on disk; a Qdrant-backed variant
// satisfies the same contract for remote deployments.
package vectorindex

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Index is an exact (flat) squared-L2 nearest-neighbor index.
//
// Reads may run concurrently; writes serialize the mutate-then-persist
// sequence so a concurrent read never observes a vector without its
// side-table entry. Persistence is best-effort: the in-memory state stays
// authoritative when a snapshot write fails.
//
// Distances are squared Euclidean over the raw vectors. Callers that want
// cosine-equivalent ranking must insert unit-normalized vectors; the index
// does not normalize implicitly.
type Index struct {
	mu        sync.RWMutex
	dim       int
	vectors   []float32 // row-major, len == len(positions)*dim
	positions []string  // position -> document id
	docs      map[string]docRecord

	dir    string // snapshot directory, empty disables persistence
	logger *slog.Logger
}

type docRecord struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

// Open creates an index of the given dimension, loading a prior snapshot
// from dir when one exists. An unreadable or inconsistent snapshot is
// logged and treated as "start empty"; Open never fails because of it.
// An empty dir disables persistence entirely.
func Open(dir string, dim int, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	if dim <= 0 {
		dim = DefaultDimension
	}
	idx := &Index{
		dim:    dim,
		docs:   make(map[string]docRecord),
		dir:    dir,
		logger: logger,
	}
	if dir != "" {
		if err := idx.loadSnapshot(); err != nil {
			logger.Warn("index snapshot unreadable, starting empty", "dir", dir, "error", err)
			idx.vectors = nil
			idx.positions = nil
			idx.docs = make(map[string]docRecord)
		}
	}
	return idx
}

// Close persists the current state one final time.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.persistLocked()
}

// Add appends documents and their vectors to the index, assigning
// monotonically increasing positions starting at the current cardinality.
// The call is all-or-nothing: validation happens before any mutation, so a
// rejected call leaves the index untouched. One snapshot write is attempted
// after the append; its failure is logged, not returned.
func (x *Index) Add(ctx context.Context, docs []Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return ErrShapeMismatch
	}
	if len(docs) == 0 {
		return nil
	}
	for _, v := range vectors {
		if len(v) != x.dim {
			return ErrDimensionMismatch
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	for i, doc := range docs {
		x.vectors = append(x.vectors, vectors[i]...)
		x.positions = append(x.positions, doc.ID)
		x.docs[doc.ID] = docRecord{Text: doc.Text, Metadata: doc.Metadata}
	}

	if err := x.persistLocked(); err != nil {
		x.logger.Warn("index persist failed, in-memory state remains authoritative", "error", err)
	}
	return nil
}

// Search returns up to topK results ordered by ascending distance. It
// returns an empty slice, never an error, when the index holds no vectors;
// topK is clamped to the current cardinality. Positions whose side-table
// entry is missing are skipped.
func (x *Index) Search(ctx context.Context, query []float32, topK int) ([]SearchResult, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	n := len(x.positions)
	if n == 0 || topK <= 0 {
		return []SearchResult{}, nil
	}
	if topK > n {
		topK = n
	}
	if len(query) != x.dim {
		return nil, ErrDimensionMismatch
	}

	type hit struct {
		pos  int
		dist float64
	}
	hits := make([]hit, n)
	for p := 0; p < n; p++ {
		row := x.vectors[p*x.dim : (p+1)*x.dim]
		var d float64
		for i, q := range query {
			diff := float64(row[i]) - float64(q)
			d += diff * diff
		}
		hits[p] = hit{pos: p, dist: d}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })

	results := make([]SearchResult, 0, topK)
	for _, h := range hits {
		if len(results) == topK {
			break
		}
		id := x.positions[h.pos]
		rec, ok := x.docs[id]
		if !ok {
			continue // dangling position, skip silently
		}
		results = append(results, SearchResult{
			ID:       id,
			Text:     rec.Text,
			Distance: h.dist,
			Metadata: rec.Metadata,
		})
	}
	return results, nil
}

// Clear resets the index to empty and persists that empty state.
// Irreversible.
func (x *Index) Clear(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.vectors = nil
	x.positions = nil
	x.docs = make(map[string]docRecord)

	if err := x.persistLocked(); err != nil {
		x.logger.Warn("index persist failed after clear", "error", err)
	}
	return nil
}

// Stats reports cardinality and dimensionality. Observability only.
func (x *Index) Stats(ctx context.Context) (Stats, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return Stats{
		DocumentCount: len(x.docs),
		IndexSize:     len(x.positions),
		Dimension:     x.dim,
	}, nil
}
