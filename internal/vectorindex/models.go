package vectorindex

// Document is a retrievable unit of knowledge. Once added to an index its
// text is immutable; replacements are re-added under a new id.
type Document struct {
	ID       string            // stable unique id
	Text     string            // raw chunk content
	Metadata map[string]string // source name, chunk index, category, ...
}

// SearchResult is a single nearest-neighbor hit.
type SearchResult struct {
	ID       string
	Text     string
	Distance float64 // squared L2, smaller is closer
	Metadata map[string]string
}

// Stats describes the current index for observability endpoints.
type Stats struct {
	DocumentCount int `json:"document_count"`
	IndexSize     int `json:"index_size"` // number of stored vectors
	Dimension     int `json:"dimension"`
}

// DefaultDimension is the embedding size for text-embedding-3-small.
const DefaultDimension = 1536
