package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS rag_collections (
		id BIGSERIAL PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		dimensions INTEGER NOT NULL,
		distance_metric TEXT NOT NULL,
		metadata JSON NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS rag_chunks (
		id BIGSERIAL PRIMARY KEY,
		collection_id BIGINT NOT NULL REFERENCES rag_collections(id) ON DELETE CASCADE,
		chunk_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		metadata JSON NOT NULL DEFAULT '{}',
		embedding vector NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (collection_id, chunk_id)
	)`,
	`CREATE INDEX IF NOT EXISTS rag_chunks_document_idx ON rag_chunks (collection_id, document_id)`,
}

// PostgresIndex implements Index on Postgres with the pgvector extension.
// Metadata is stored as JSON rather than JSONB so key order survives.
type PostgresIndex struct {
	pool     *pgxpool.Pool
	defaults Options

	mu     sync.RWMutex
	active Collection
	stats  Stats
}

// OpenPostgres connects to opts.DSN, installs the vector extension and
// schema, and activates opts.Collection.
func OpenPostgres(ctx context.Context, opts Options) (*PostgresIndex, error) {
	opts = opts.withDefaults()
	if opts.DSN == "" {
		return nil, fmt.Errorf("%w: postgres DSN is required", ErrStoreInit)
	}

	// The extension must exist before the pool registers the vector type.
	conn, err := pgx.Connect(ctx, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect: %w", ErrStoreInit, err)
	}
	_, err = conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	conn.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create vector extension: %w", ErrStoreInit, err)
	}

	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid DSN: %w", ErrStoreInit, err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create pool: %w", ErrStoreInit, err)
	}

	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("%w: failed to initialize schema: %w", ErrStoreInit, err)
		}
	}

	idx := &PostgresIndex{
		pool:     pool,
		defaults: opts,
		stats:    Stats{Collections: map[string]CollectionStats{}},
	}
	if err := idx.UseCollection(ctx, opts.Collection); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %w", ErrStoreInit, err)
	}

	log.Debug("Opened Postgres index", "collection", opts.Collection)
	return idx, nil
}

func (p *PostgresIndex) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresIndex) getCollection(ctx context.Context, name string) (*Collection, error) {
	var c Collection
	var distance, metadata string

	err := p.pool.QueryRow(ctx, `
		SELECT id, name, dimensions, distance_metric, metadata::text, created_at
		FROM rag_collections WHERE name = $1
	`, name).Scan(&c.ID, &c.Name, &c.Dimensions, &distance, &metadata, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}

	c.Distance = Distance(distance)
	c.Metadata, _ = decodeMetadata(metadata)
	return &c, nil
}

func (p *PostgresIndex) CreateCollection(ctx context.Context, name string, opts CollectionOptions) (*Collection, error) {
	if err := validateCollectionName(name); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.createCollection(ctx, name, opts)
}

func (p *PostgresIndex) createCollection(ctx context.Context, name string, opts CollectionOptions) (*Collection, error) {
	existing, err := p.getCollection(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	opts, err = resolveCollectionOptions(opts, p.defaults)
	if err != nil {
		return nil, err
	}
	metadata, err := opts.Metadata.MarshalJSON()
	if err != nil {
		return nil, err
	}

	c := Collection{Name: name, Dimensions: opts.Dimensions, Distance: opts.Distance, Metadata: opts.Metadata}
	err = p.pool.QueryRow(ctx, `
		INSERT INTO rag_collections (name, dimensions, distance_metric, metadata)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, name, opts.Dimensions, string(opts.Distance), string(metadata)).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	log.Debug("Created collection", "name", name, "dimensions", opts.Dimensions, "distance", opts.Distance)
	return &c, nil
}

func (p *PostgresIndex) UseCollection(ctx context.Context, name string) error {
	if err := validateCollectionName(name); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	coll, err := p.createCollection(ctx, name, CollectionOptions{})
	if err != nil {
		return err
	}
	p.active = *coll
	p.stats.Collection = coll.Name
	return nil
}

func (p *PostgresIndex) ActiveCollection() Collection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active
}

func (p *PostgresIndex) ListCollections(ctx context.Context) []string {
	rows, err := p.pool.Query(ctx, "SELECT name FROM rag_collections ORDER BY name")
	if err != nil {
		log.Warn("Failed to list collections", "err", err)
		return nil
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			log.Warn("Failed to scan collection", "err", err)
			return nil
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		log.Warn("Failed to list collections", "err", err)
		return nil
	}
	return names
}

func (p *PostgresIndex) Add(ctx context.Context, chunks []ChunkInput, embeddings [][]float32, documentID string, docMeta Metadata) ([]string, error) {
	if len(chunks) == 0 && len(embeddings) == 0 {
		return nil, nil
	}
	if documentID == "" {
		documentID = NewDocumentID()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	coll := p.active
	records, err := prepareChunks(chunks, embeddings, documentID, docMeta, coll.Dimensions)
	if err != nil {
		return nil, err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to begin transaction: %w", ErrStoreOperation, err)
	}
	defer tx.Rollback(ctx)

	if err := pgInsertRecords(ctx, tx, coll, records); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: failed to commit chunks: %w", ErrStoreOperation, err)
	}

	p.stats.adjust(0, len(records))

	log.Debug("Added document", "collection", coll.Name, "document", documentID, "chunks", len(records))
	return chunkIDs(records), nil
}

func (p *PostgresIndex) Update(ctx context.Context, documentID string, chunks []ChunkInput, embeddings [][]float32, docMeta Metadata) ([]string, error) {
	if documentID == "" {
		return nil, fmt.Errorf("%w: document ID is required", ErrValidation)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	coll := p.active
	records, err := prepareChunks(chunks, embeddings, documentID, docMeta, coll.Dimensions)
	if err != nil {
		return nil, err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to begin transaction: %w", ErrStoreOperation, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, "DELETE FROM rag_chunks WHERE collection_id = $1 AND document_id = $2", coll.ID, documentID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to delete chunks: %w", ErrStoreOperation, err)
	}
	if err := pgInsertRecords(ctx, tx, coll, records); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: failed to commit update: %w", ErrStoreOperation, err)
	}

	p.stats.adjust(tag.RowsAffected(), len(records))

	log.Debug("Updated document", "collection", coll.Name, "document", documentID, "removed", tag.RowsAffected(), "added", len(records))
	return chunkIDs(records), nil
}

func pgInsertRecords(ctx context.Context, tx pgx.Tx, coll Collection, records []chunkRecord) error {
	for i, r := range records {
		metadata, err := r.metadata.MarshalJSON()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO rag_chunks (collection_id, chunk_id, document_id, chunk_index, content, metadata, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, coll.ID, r.chunkID, r.documentID, r.index, r.content, string(metadata), pgvector.NewVector(r.embedding))
		if err != nil {
			return fmt.Errorf("%w: failed to insert chunk %d: %w", ErrStoreOperation, i, err)
		}
	}
	return nil
}

func (p *PostgresIndex) Delete(ctx context.Context, documentID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	coll := p.active
	tag, err := p.pool.Exec(ctx, "DELETE FROM rag_chunks WHERE collection_id = $1 AND document_id = $2", coll.ID, documentID)
	if err != nil {
		log.Warn("Failed to delete document", "document", documentID, "err", err)
		return false
	}

	p.stats.adjust(tag.RowsAffected(), 0)

	log.Debug("Deleted document", "collection", coll.Name, "document", documentID, "chunks", tag.RowsAffected())
	return true
}

func distanceExpr(d Distance) string {
	switch d {
	case DistanceL2:
		return "embedding <-> $1"
	case DistanceInnerProduct:
		// <#> is the negated inner product.
		return "1 + (embedding <#> $1)"
	default:
		return "embedding <=> $1"
	}
}

func (p *PostgresIndex) Search(ctx context.Context, query []float32, opts SearchOptions) []Result {
	if opts.K <= 0 {
		log.Warn("Search requires a positive k", "k", opts.K)
		return nil
	}

	p.mu.RLock()
	coll := p.active
	p.mu.RUnlock()

	if len(query) != coll.Dimensions {
		log.Warn("Query dimension mismatch", "collection", coll.Name, "got", len(query), "want", coll.Dimensions)
		return nil
	}
	if err := opts.Filter.validate(); err != nil {
		log.Warn("Invalid search filter", "err", err)
		return nil
	}

	clause, clauseArgs, next := opts.Filter.postgresClause(3)
	args := []any{pgvector.NewVector(query), coll.ID}
	args = append(args, clauseArgs...)
	args = append(args, opts.K)

	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
		SELECT chunk_id, content, metadata::text, %s AS distance, embedding
		FROM rag_chunks
		WHERE collection_id = $2 AND (%s)
		ORDER BY distance ASC
		LIMIT $%d
	`, distanceExpr(coll.Distance), clause, next), args...)
	if err != nil {
		log.Warn("Search failed", "collection", coll.Name, "err", err)
		return nil
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var metadata string
		var distance float64
		var embedding pgvector.Vector

		if err := rows.Scan(&r.ID, &r.Text, &metadata, &distance, &embedding); err != nil {
			log.Warn("Failed to scan search result", "err", err)
			return nil
		}
		r.Metadata, _ = decodeMetadata(metadata)
		if !opts.OmitDistances {
			d := distance
			r.Distance = &d
		}
		if opts.IncludeEmbeddings {
			r.Embedding = embedding.Slice()
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		log.Warn("Search failed", "collection", coll.Name, "err", err)
		return nil
	}
	return results
}

func (p *PostgresIndex) DocumentChunks(ctx context.Context, documentID string) []Result {
	p.mu.RLock()
	coll := p.active
	p.mu.RUnlock()

	rows, err := p.pool.Query(ctx, `
		SELECT chunk_id, content, metadata::text, embedding
		FROM rag_chunks
		WHERE collection_id = $1 AND document_id = $2
		ORDER BY chunk_index
	`, coll.ID, documentID)
	if err != nil {
		log.Warn("Failed to get document chunks", "document", documentID, "err", err)
		return nil
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var metadata string
		var embedding pgvector.Vector
		if err := rows.Scan(&r.ID, &r.Text, &metadata, &embedding); err != nil {
			log.Warn("Failed to scan document chunk", "document", documentID, "err", err)
			return nil
		}
		r.Metadata, _ = decodeMetadata(metadata)
		r.Embedding = embedding.Slice()
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		log.Warn("Failed to get document chunks", "document", documentID, "err", err)
		return nil
	}
	return results
}

func (p *PostgresIndex) Stats(ctx context.Context) Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	rows, err := p.pool.Query(ctx, `
		SELECT col.name, col.dimensions, col.distance_metric,
			COUNT(c.id), COUNT(DISTINCT c.document_id)
		FROM rag_collections col
		LEFT JOIN rag_chunks c ON c.collection_id = col.id
		GROUP BY col.id, col.name, col.dimensions, col.distance_metric
	`)
	if err != nil {
		log.Warn("Failed to refresh stats", "err", err)
		return p.stats.clone()
	}
	defer rows.Close()

	fresh := Stats{Collection: p.active.Name, Collections: map[string]CollectionStats{}}
	for rows.Next() {
		var name, distance string
		var cs CollectionStats
		if err := rows.Scan(&name, &cs.Dimensions, &distance, &cs.Count, &cs.Documents); err != nil {
			log.Warn("Failed to refresh stats", "err", err)
			return p.stats.clone()
		}
		cs.Distance = Distance(distance)
		fresh.Collections[name] = cs
	}
	if err := rows.Err(); err != nil {
		log.Warn("Failed to refresh stats", "err", err)
		return p.stats.clone()
	}

	active := fresh.Collections[p.active.Name]
	fresh.DocumentCount = active.Documents
	fresh.ChunkCount = active.Count
	p.stats = fresh
	return p.stats.clone()
}

// Persist reports whether the server is reachable. Committed writes are
// already durable.
func (p *PostgresIndex) Persist(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.pool.Ping(ctx); err != nil {
		log.Warn("Failed to persist index", "err", err)
		return false
	}
	return true
}
