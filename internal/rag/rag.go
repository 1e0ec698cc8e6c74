// Package rag ties chunking, embeddings and the vector index together into
// document ingestion and context retrieval.
package rag

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/docrag/internal/chunker"
	"github.com/nickcecere/docrag/internal/store"
)

// ErrValidation is returned for malformed input, e.g. a chunk/embedding
// count mismatch.
var ErrValidation = store.ErrValidation

// Retrieval defaults.
const (
	DefaultNumChunks = 3
	DefaultThreshold = 0.7
)

const (
	unknownDocumentID = "unknown_doc"
	unknownFileType   = "unknown"
	keyFileType       = "file_type"
)

// Embedder produces vectors for chunk and query text.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ParsedDocument is extracted document text, optionally pre-chunked.
type ParsedDocument struct {
	Text     string
	Chunks   []string
	FileType string
	Metadata store.Metadata
}

// ContextOptions controls GetRelevantContext. A zero NumChunks or a nil
// Threshold uses the defaults. A set Threshold is honoured as given, so 0
// keeps exact matches only and a negative value keeps nothing.
type ContextOptions struct {
	DocumentIDs []string
	NumChunks   int
	Threshold   *float64
}

// Threshold returns a pointer for ContextOptions.Threshold.
func Threshold(v float64) *float64 {
	return &v
}

// Statistics combines the in-process counters with index statistics.
type Statistics struct {
	ProcessedDocuments int         `json:"processed_documents"`
	ProcessedChunks    int         `json:"processed_chunks"`
	VectorStore        store.Stats `json:"vector_store"`
}

// Service is the retrieval orchestrator. It is safe for concurrent use.
type Service struct {
	index    store.Index
	embedder Embedder
	chunker  *chunker.Chunker

	mu                 sync.Mutex
	processedDocuments int
	processedChunks    int
}

// Option configures a Service.
type Option func(*Service)

// WithChunker sets the chunker used by Ingest and Reingest.
func WithChunker(c *chunker.Chunker) Option {
	return func(s *Service) {
		if c != nil {
			s.chunker = c
		}
	}
}

// New creates a Service over index. The embedder may be nil when only
// pre-computed embeddings are used.
func New(index store.Index, embedder Embedder, opts ...Option) *Service {
	s := &Service{index: index, embedder: embedder}
	for _, opt := range opts {
		opt(s)
	}
	if s.chunker == nil {
		// Defaults always validate.
		s.chunker, _ = chunker.New()
	}
	return s
}

// Index returns the underlying vector index.
func (s *Service) Index() store.Index {
	return s.index
}

// Chunker returns the chunker used for ingestion.
func (s *Service) Chunker() *chunker.Chunker {
	return s.chunker
}

// ProcessDocument stores doc's chunks with the given embeddings and returns
// the document ID.
func (s *Service) ProcessDocument(ctx context.Context, doc ParsedDocument, embeddings [][]float32, documentID string) (string, error) {
	texts := chunkTexts(doc)
	if len(texts) != len(embeddings) {
		return "", fmt.Errorf("%w: number of chunks (%d) must match number of embeddings (%d)", ErrValidation, len(texts), len(embeddings))
	}

	ids, err := s.index.Add(ctx, toChunkInputs(texts), embeddings, documentID, documentMetadata(doc))
	if err != nil {
		return "", fmt.Errorf("failed to add document: %w", err)
	}

	s.mu.Lock()
	s.processedDocuments++
	s.processedChunks += len(texts)
	s.mu.Unlock()

	if len(ids) > 0 {
		return DocumentIDFromChunkID(ids[0]), nil
	}
	if documentID != "" {
		return documentID, nil
	}
	return unknownDocumentID, nil
}

// Query searches with a pre-computed embedding. Results missing a
// document_id get one derived from their chunk ID.
func (s *Service) Query(ctx context.Context, queryEmbedding []float32, k int, filter store.Filter) []store.Result {
	results := s.index.Search(ctx, queryEmbedding, store.SearchOptions{K: k, Filter: filter})
	for i := range results {
		if !results[i].Metadata.Has(store.KeyDocumentID) {
			results[i].Metadata.Set(store.KeyDocumentID, store.StringValue(DocumentIDFromChunkID(results[i].ID)))
		}
	}
	return results
}

// GetRelevantContext embeds queryText and returns up to NumChunks results
// whose distance is within Threshold. Failures yield an empty result.
func (s *Service) GetRelevantContext(ctx context.Context, queryText string, opts ContextOptions) []store.Result {
	if opts.NumChunks <= 0 {
		opts.NumChunks = DefaultNumChunks
	}
	threshold := DefaultThreshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}
	if s.embedder == nil {
		log.Warn("Error getting context", "err", "no embedder configured")
		return nil
	}

	queryEmbedding, err := s.embedder.EmbedQuery(ctx, queryText)
	if err != nil {
		log.Warn("Error getting context", "err", err)
		return nil
	}

	var filter store.Filter
	if len(opts.DocumentIDs) > 0 {
		filter = store.Where(store.DocumentIn(opts.DocumentIDs...))
	}

	results := s.index.Search(ctx, queryEmbedding, store.SearchOptions{K: opts.NumChunks, Filter: filter})

	var relevant []store.Result
	for _, r := range results {
		distance := 1.0
		if r.Distance != nil {
			distance = *r.Distance
		}
		if distance <= threshold {
			relevant = append(relevant, r)
		}
	}

	log.Debug("Retrieved context", "candidates", len(results), "relevant", len(relevant), "threshold", threshold)
	return relevant
}

// RemoveDocument deletes every chunk of documentID.
func (s *Service) RemoveDocument(ctx context.Context, documentID string) bool {
	return s.index.Delete(ctx, documentID)
}

// UpdateDocument replaces the chunks of documentID.
func (s *Service) UpdateDocument(ctx context.Context, documentID string, doc ParsedDocument, embeddings [][]float32) ([]string, error) {
	texts := chunkTexts(doc)
	ids, err := s.index.Update(ctx, documentID, toChunkInputs(texts), embeddings, documentMetadata(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}
	return ids, nil
}

// Statistics reports the counters and index statistics.
func (s *Service) Statistics(ctx context.Context) Statistics {
	vs := s.index.Stats(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	return Statistics{
		ProcessedDocuments: s.processedDocuments,
		ProcessedChunks:    s.processedChunks,
		VectorStore:        vs,
	}
}

// Persist flushes the index.
func (s *Service) Persist(ctx context.Context) bool {
	return s.index.Persist(ctx)
}

// chunkTexts returns the pre-computed chunks, or the whole text as one chunk.
func chunkTexts(doc ParsedDocument) []string {
	if len(doc.Chunks) > 0 {
		return doc.Chunks
	}
	log.Debug("No chunks found in document, using full text")
	return []string{doc.Text}
}

func toChunkInputs(texts []string) []store.ChunkInput {
	inputs := make([]store.ChunkInput, len(texts))
	for i, t := range texts {
		inputs[i] = store.ChunkInput{Text: t}
	}
	return inputs
}

// documentMetadata copies doc.Metadata and stamps the file type. FileType
// always wins over a file_type already present in the metadata.
func documentMetadata(doc ParsedDocument) store.Metadata {
	md := doc.Metadata.Clone()
	fileType := doc.FileType
	if fileType == "" {
		fileType = unknownFileType
	}
	md.Set(keyFileType, store.StringValue(fileType))
	return md
}
