package vectorindex

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantCollection is the single collection holding knowledge-base chunks.
const QdrantCollection = "talksense_kb"

// metaPrefix namespaces document metadata keys inside the point payload so
// they cannot collide with the reserved "doc_id" and "text" fields.
const metaPrefix = "meta_"

// Qdrant implements the index contract against a remote Qdrant collection
// using cosine distance. Positions and side tables are owned by the server,
// so the snapshot invariants of the flat index do not apply here; reported
// distance is 1-score to preserve ascending-distance ordering.
type Qdrant struct {
	client *qdrant.Client
	dim    int
}

// NewQdrant connects to Qdrant over gRPC and verifies health with
// exponential backoff before returning. Unlike the flat index, an
// unreachable backend is a constructor error: there is no local state to
// fall back to.
func NewQdrant(host string, port int, dim int) (*Qdrant, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	if dim <= 0 {
		dim = DefaultDimension
	}

	q := &Qdrant{client: client, dim: dim}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	ctx := context.Background()
	if err := backoff.Retry(func() error { return q.Health(ctx) }, backoff.WithContext(b, ctx)); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}
	if err := q.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return q, nil
}

// Health performs a single health check against the server.
func (q *Qdrant) Health(ctx context.Context) error {
	result, err := q.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// ensureCollection creates the chunk collection when missing. Idempotent.
func (q *Qdrant) ensureCollection(ctx context.Context) error {
	collections, err := q.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for _, name := range collections {
		if name == QdrantCollection {
			return nil
		}
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: QdrantCollection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

// Add upserts documents with their vectors. Same shape contract as the flat
// index: counts and dimensions are validated before anything is sent, so a
// rejected call changes nothing server-side.
func (q *Qdrant) Add(ctx context.Context, docs []Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return ErrShapeMismatch
	}
	if len(docs) == 0 {
		return nil
	}
	for _, v := range vectors {
		if len(v) != q.dim {
			return ErrDimensionMismatch
		}
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, doc := range docs {
		payload := map[string]any{
			"doc_id": doc.ID,
			"text":   doc.Text,
		}
		for k, v := range doc.Metadata {
			payload[metaPrefix+k] = v
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(doc.ID)),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	operation := func() error {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: QdrantCollection,
			Points:         points,
		})
		return err
	}
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}
	return nil
}

// Search queries the collection and maps scores back onto the
// ascending-distance contract.
func (q *Qdrant) Search(ctx context.Context, query []float32, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		return []SearchResult{}, nil
	}
	if len(query) != q.dim {
		return nil, ErrDimensionMismatch
	}

	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: QdrantCollection,
		Query:          qdrant.NewQuery(query...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}

	hits := make([]SearchResult, 0, len(results))
	for _, result := range results {
		payload := result.Payload
		metadata := make(map[string]string)
		for k, v := range payload {
			if strings.HasPrefix(k, metaPrefix) {
				metadata[strings.TrimPrefix(k, metaPrefix)] = v.GetStringValue()
			}
		}
		hits = append(hits, SearchResult{
			ID:       payload["doc_id"].GetStringValue(),
			Text:     payload["text"].GetStringValue(),
			Distance: 1 - float64(result.Score),
			Metadata: metadata,
		})
	}
	return hits, nil
}

// Clear drops and recreates the collection.
func (q *Qdrant) Clear(ctx context.Context) error {
	if err := q.client.DeleteCollection(ctx, QdrantCollection); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return q.ensureCollection(ctx)
}

// Stats reports the remote point count.
func (q *Qdrant) Stats(ctx context.Context) (Stats, error) {
	collection, err := q.client.GetCollectionInfo(ctx, QdrantCollection)
	if err != nil {
		return Stats{}, fmt.Errorf("get collection: %w", err)
	}
	count := int(collection.GetPointsCount())
	return Stats{
		DocumentCount: count,
		IndexSize:     count,
		Dimension:     q.dim,
	}, nil
}

// Close closes the client connection.
func (q *Qdrant) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}

// pointID derives a stable UUID from the document id, since Qdrant point
// ids must be UUIDs while document ids are free-form strings.
func pointID(docID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(docID)).String()
}
