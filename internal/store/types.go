// Package store provides the vector index: chunk embeddings plus metadata,
// partitioned into named collections and queryable by similarity.
package store

import (
	"fmt"
	"strings"
	"time"
)

// Distance is the function a collection ranks candidates by.
type Distance string

const (
	DistanceCosine       Distance = "cosine"
	DistanceL2           Distance = "l2"
	DistanceInnerProduct Distance = "ip"
)

// ParseDistance maps a configured name onto a Distance.
func ParseDistance(s string) (Distance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cosine":
		return DistanceCosine, nil
	case "l2", "euclidean":
		return DistanceL2, nil
	case "ip", "inner_product", "dot":
		return DistanceInnerProduct, nil
	default:
		return "", fmt.Errorf("%w: unknown distance function %q", ErrValidation, s)
	}
}

// Backend selects the storage engine behind an Index.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// Defaults applied when Options leave a field empty.
const (
	DefaultCollection = "rag_collection"
	DefaultDimensions = 768
	DefaultDistance   = DistanceCosine
)

// Collection is a named partition of the index with a fixed dimension and
// distance function.
type Collection struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Dimensions int       `json:"dimensions"`
	Distance   Distance  `json:"distance"`
	Metadata   Metadata  `json:"metadata,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// CollectionOptions configures a new collection. Zero values fall back to the
// index defaults.
type CollectionOptions struct {
	Dimensions int
	Distance   Distance
	Metadata   Metadata
}

// ChunkInput is one chunk handed to Add or Update.
type ChunkInput struct {
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata,omitempty"`
}

// Result is a chunk returned from the index.
type Result struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Metadata  Metadata  `json:"metadata"`
	Distance  *float64  `json:"distance,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// DocumentID returns the document_id metadata field, if present.
func (r Result) DocumentID() string {
	v, ok := r.Metadata.Get(KeyDocumentID)
	if !ok {
		return ""
	}
	s, _ := v.AsString()
	return s
}

// SearchOptions controls a similarity search.
type SearchOptions struct {
	K                 int
	Filter            Filter
	IncludeEmbeddings bool
	OmitDistances     bool
}

// Stats summarises the index. DocumentCount and ChunkCount describe the active
// collection.
type Stats struct {
	Collection    string                     `json:"collection"`
	DocumentCount int                        `json:"document_count"`
	ChunkCount    int                        `json:"chunk_count"`
	Collections   map[string]CollectionStats `json:"collections"`
}

// CollectionStats holds per-collection counts.
type CollectionStats struct {
	Count      int      `json:"count"`
	Documents  int      `json:"documents"`
	Dimensions int      `json:"dimensions"`
	Distance   Distance `json:"distance"`
}

// Options configures Open.
type Options struct {
	Backend Backend

	// Path is the SQLite database file. Empty selects an in-memory database.
	Path string

	// DSN is the Postgres connection string.
	DSN string

	Collection string
	Dimensions int
	Distance   Distance
}

func (o Options) withDefaults() Options {
	if o.Backend == "" {
		o.Backend = BackendSQLite
	}
	if o.Collection == "" {
		o.Collection = DefaultCollection
	}
	if o.Dimensions <= 0 {
		o.Dimensions = DefaultDimensions
	}
	if o.Distance == "" {
		o.Distance = DefaultDistance
	}
	return o
}

func (s Stats) clone() Stats {
	out := s
	out.Collections = make(map[string]CollectionStats, len(s.Collections))
	for k, v := range s.Collections {
		out.Collections[k] = v
	}
	return out
}

// adjust keeps cached counts roughly current between refreshes.
func (s *Stats) adjust(removed int64, added int) {
	switch {
	case removed == 0 && added > 0:
		s.DocumentCount++
	case removed > 0 && added == 0 && s.DocumentCount > 0:
		s.DocumentCount--
	}
	s.ChunkCount += added - int(removed)
	if s.ChunkCount < 0 {
		s.ChunkCount = 0
	}
}
