package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Index is a collection-partitioned vector index.
//
// Writes (Add, Update, CreateCollection) return errors. Reads and cleanup
// (Search, Delete, DocumentChunks, Stats, ListCollections, Persist) log
// failures and degrade to an empty or false result.
type Index interface {
	// Add stores chunks with their embeddings under documentID, minting one
	// when empty, and returns the new chunk IDs.
	Add(ctx context.Context, chunks []ChunkInput, embeddings [][]float32, documentID string, docMeta Metadata) ([]string, error)

	// Search returns at most opts.K chunks ordered by ascending distance.
	Search(ctx context.Context, query []float32, opts SearchOptions) []Result

	// Delete removes every chunk of documentID. Unknown IDs succeed.
	Delete(ctx context.Context, documentID string) bool

	// Update replaces the chunk set of documentID.
	Update(ctx context.Context, documentID string, chunks []ChunkInput, embeddings [][]float32, docMeta Metadata) ([]string, error)

	// DocumentChunks returns the chunks of documentID ordered by chunk index.
	DocumentChunks(ctx context.Context, documentID string) []Result

	Stats(ctx context.Context) Stats

	CreateCollection(ctx context.Context, name string, opts CollectionOptions) (*Collection, error)
	UseCollection(ctx context.Context, name string) error
	ListCollections(ctx context.Context) []string
	ActiveCollection() Collection

	// Persist flushes to durable storage. Ephemeral stores report false.
	Persist(ctx context.Context) bool

	Close() error
}

// Open constructs the backend selected by opts.Backend and activates
// opts.Collection.
func Open(ctx context.Context, opts Options) (Index, error) {
	opts = opts.withDefaults()
	switch opts.Backend {
	case BackendSQLite:
		return OpenSQLite(ctx, opts)
	case BackendPostgres:
		return OpenPostgres(ctx, opts)
	default:
		return nil, fmt.Errorf("%w: unsupported backend %q", ErrStoreInit, opts.Backend)
	}
}

// NewDocumentID mints "doc_" followed by 32 random hex characters.
func NewDocumentID() string {
	return "doc_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ChunkID derives the ID of the chunk at index within documentID.
func ChunkID(documentID string, index int) string {
	return documentID + "_chunk_" + strconv.Itoa(index)
}

// chunkRecord is a validated row ready to be written.
type chunkRecord struct {
	chunkID    string
	documentID string
	index      int
	content    string
	metadata   Metadata
	embedding  []float32
}

// prepareChunks validates an Add/Update request and builds the rows. Chunk
// metadata is the prefixed document metadata, then document_id and
// chunk_index, then the caller's chunk fields.
func prepareChunks(chunks []ChunkInput, embeddings [][]float32, documentID string, docMeta Metadata, dims int) ([]chunkRecord, error) {
	if len(chunks) != len(embeddings) {
		return nil, fmt.Errorf("%w: chunks and embeddings count mismatch: %d != %d", ErrValidation, len(chunks), len(embeddings))
	}
	if err := docMeta.validate(true); err != nil {
		return nil, fmt.Errorf("document metadata: %w", err)
	}

	base := make(Metadata, 0, len(docMeta)+2)
	for _, f := range docMeta {
		base.Set(DocumentPrefix+f.Key, f.Value)
	}

	records := make([]chunkRecord, len(chunks))
	for i, chunk := range chunks {
		if len(embeddings[i]) != dims {
			return nil, fmt.Errorf("%w: embedding %d has dimension %d, collection expects %d", ErrValidation, i, len(embeddings[i]), dims)
		}
		if err := chunk.Metadata.validate(false); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}

		md := base.Clone()
		md.Set(KeyDocumentID, StringValue(documentID))
		md.Set(KeyChunkIndex, IntValue(int64(i)))
		for _, f := range chunk.Metadata {
			md.Set(f.Key, f.Value)
		}

		records[i] = chunkRecord{
			chunkID:    ChunkID(documentID, i),
			documentID: documentID,
			index:      i,
			content:    chunk.Text,
			metadata:   md,
			embedding:  embeddings[i],
		}
	}
	return records, nil
}

func validateCollectionName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: collection name is required", ErrValidation)
	}
	return nil
}

// resolveCollectionOptions fills zero fields from the index defaults.
func resolveCollectionOptions(opts CollectionOptions, defaults Options) (CollectionOptions, error) {
	if opts.Dimensions < 0 {
		return opts, fmt.Errorf("%w: dimensions must be positive", ErrValidation)
	}
	if opts.Dimensions == 0 {
		opts.Dimensions = defaults.Dimensions
	}
	if opts.Distance == "" {
		opts.Distance = defaults.Distance
	}
	d, err := ParseDistance(string(opts.Distance))
	if err != nil {
		return opts, err
	}
	opts.Distance = d
	if err := opts.Metadata.validate(true); err != nil {
		return opts, fmt.Errorf("collection metadata: %w", err)
	}
	return opts, nil
}
