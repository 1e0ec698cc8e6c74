package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register sqlite-vec extension
	sqlite_vec.Auto()
}

// maxKNN is the largest k sqlite-vec accepts in a KNN query. Larger requests
// fall back to a scan.
const maxKNN = 4096

// SQLiteIndex implements Index using SQLite and sqlite-vec.
type SQLiteIndex struct {
	db       *sql.DB
	path     string
	defaults Options

	mu     sync.RWMutex
	active Collection
	stats  Stats
}

// OpenSQLite opens (or creates) the database at opts.Path. An empty path
// keeps everything in memory for the lifetime of the index.
func OpenSQLite(ctx context.Context, opts Options) (*SQLiteIndex, error) {
	opts = opts.withDefaults()

	dsn := ":memory:?_foreign_keys=on"
	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
			return nil, fmt.Errorf("%w: failed to create database directory: %w", ErrStoreInit, err)
		}
		dsn = opts.Path + "?_foreign_keys=on&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrStoreInit, err)
	}
	if opts.Path == "" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to connect: %w", ErrStoreInit, err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to initialize schema: %w", ErrStoreInit, err)
	}

	idx := &SQLiteIndex{
		db:       db,
		path:     opts.Path,
		defaults: opts,
		stats:    Stats{Collections: map[string]CollectionStats{}},
	}

	if err := idx.UseCollection(ctx, opts.Collection); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrStoreInit, err)
	}

	log.Debug("Opened SQLite index", "path", opts.Path, "collection", opts.Collection)
	return idx, nil
}

// Close closes the database connection.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// getCollection returns nil, nil when the collection does not exist.
func (s *SQLiteIndex) getCollection(ctx context.Context, q querier, name string) (*Collection, error) {
	var c Collection
	var distance, metadata, createdAt string

	err := q.QueryRowContext(ctx, `
		SELECT id, name, dimensions, distance_metric, metadata, created_at
		FROM collections WHERE name = ?
	`, name).Scan(&c.ID, &c.Name, &c.Dimensions, &distance, &metadata, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}

	c.Distance = Distance(distance)
	c.Metadata, _ = decodeMetadata(metadata)
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &c, nil
}

// CreateCollection creates name if absent and returns it. An existing
// collection is returned unchanged.
func (s *SQLiteIndex) CreateCollection(ctx context.Context, name string, opts CollectionOptions) (*Collection, error) {
	if err := validateCollectionName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.createCollection(ctx, name, opts)
}

func (s *SQLiteIndex) createCollection(ctx context.Context, name string, opts CollectionOptions) (*Collection, error) {
	existing, err := s.getCollection(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		log.Debug("Collection already exists", "name", name)
		return existing, nil
	}

	opts, err = resolveCollectionOptions(opts, s.defaults)
	if err != nil {
		return nil, err
	}
	metadata, err := opts.Metadata.MarshalJSON()
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	result, err := tx.ExecContext(ctx, `
		INSERT INTO collections (name, dimensions, distance_metric, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, name, opts.Dimensions, string(opts.Distance), string(metadata), now)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get collection ID: %w", err)
	}

	if err := createVectorTable(ctx, tx, id, opts.Dimensions, opts.Distance); err != nil {
		return nil, fmt.Errorf("failed to create vector table: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit collection: %w", err)
	}

	log.Debug("Created collection", "name", name, "dimensions", opts.Dimensions, "distance", opts.Distance)

	createdAt, _ := time.Parse(time.RFC3339, now)
	return &Collection{
		ID:         id,
		Name:       name,
		Dimensions: opts.Dimensions,
		Distance:   opts.Distance,
		Metadata:   opts.Metadata,
		CreatedAt:  createdAt,
	}, nil
}

// UseCollection makes name the active collection, creating it with the
// index defaults when absent.
func (s *SQLiteIndex) UseCollection(ctx context.Context, name string) error {
	if err := validateCollectionName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coll, err := s.createCollection(ctx, name, CollectionOptions{})
	if err != nil {
		return err
	}

	s.active = *coll
	s.stats.Collection = coll.Name
	return nil
}

// ActiveCollection returns the collection reads and writes go to.
func (s *SQLiteIndex) ActiveCollection() Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// ListCollections returns collection names in sorted order.
func (s *SQLiteIndex) ListCollections(ctx context.Context) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT name FROM collections ORDER BY name")
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

// Add inserts chunks and their vectors in a single transaction.
func (s *SQLiteIndex) Add(ctx context.Context, chunks []ChunkInput, embeddings [][]float32, documentID string, docMeta Metadata) ([]string, error) {
	if len(chunks) == 0 && len(embeddings) == 0 {
		return nil, nil
	}
	if documentID == "" {
		documentID = NewDocumentID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.active
	records, err := prepareChunks(chunks, embeddings, documentID, docMeta, coll.Dimensions)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to begin transaction: %w", ErrStoreOperation, err)
	}
	defer tx.Rollback()

	if err := insertRecords(ctx, tx, coll, records); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: failed to commit chunks: %w", ErrStoreOperation, err)
	}

	s.stats.adjust(0, len(records))

	log.Debug("Added document", "collection", coll.Name, "document", documentID, "chunks", len(records))
	return chunkIDs(records), nil
}

// Update deletes the document's chunks and inserts the new set. Both steps
// share one transaction, so a failure leaves the old chunks in place.
func (s *SQLiteIndex) Update(ctx context.Context, documentID string, chunks []ChunkInput, embeddings [][]float32, docMeta Metadata) ([]string, error) {
	if documentID == "" {
		return nil, fmt.Errorf("%w: document ID is required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.active
	records, err := prepareChunks(chunks, embeddings, documentID, docMeta, coll.Dimensions)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to begin transaction: %w", ErrStoreOperation, err)
	}
	defer tx.Rollback()

	removed, err := deleteDocument(ctx, tx, coll, documentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreOperation, err)
	}
	if err := insertRecords(ctx, tx, coll, records); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: failed to commit update: %w", ErrStoreOperation, err)
	}

	s.stats.adjust(removed, len(records))

	log.Debug("Updated document", "collection", coll.Name, "document", documentID, "removed", removed, "added", len(records))
	return chunkIDs(records), nil
}

// Delete removes every chunk of documentID from the active collection.
func (s *SQLiteIndex) Delete(ctx context.Context, documentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.active
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		log.Warn("Failed to delete document", "document", documentID, "err", err)
		return false
	}
	defer tx.Rollback()

	removed, err := deleteDocument(ctx, tx, coll, documentID)
	if err != nil {
		log.Warn("Failed to delete document", "document", documentID, "err", err)
		return false
	}

	if err := tx.Commit(); err != nil {
		log.Warn("Failed to commit delete", "document", documentID, "err", err)
		return false
	}

	s.stats.adjust(removed, 0)

	log.Debug("Deleted document", "collection", coll.Name, "document", documentID, "chunks", removed)
	return true
}

func insertRecords(ctx context.Context, tx *sql.Tx, coll Collection, records []chunkRecord) error {
	now := time.Now().UTC().Format(time.RFC3339)
	insertVector := fmt.Sprintf("INSERT INTO %s (chunk_rowid, embedding) VALUES (?, ?)", vectorTable(coll.ID))

	for i, r := range records {
		metadata, err := r.metadata.MarshalJSON()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}

		result, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (collection_id, chunk_id, document_id, chunk_index, content, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, coll.ID, r.chunkID, r.documentID, r.index, r.content, string(metadata), now)
		if err != nil {
			return fmt.Errorf("%w: failed to insert chunk %d: %w", ErrStoreOperation, i, err)
		}

		rowID, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("%w: failed to get chunk row ID: %w", ErrStoreOperation, err)
		}

		if _, err := tx.ExecContext(ctx, insertVector, rowID, serializeEmbedding(r.embedding)); err != nil {
			return fmt.Errorf("%w: failed to insert vector for chunk %d: %w", ErrStoreOperation, i, err)
		}
	}
	return nil
}

func deleteDocument(ctx context.Context, tx *sql.Tx, coll Collection, documentID string) (int64, error) {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE chunk_rowid IN (
			SELECT id FROM chunks WHERE collection_id = ? AND document_id = ?
		)
	`, vectorTable(coll.ID)), coll.ID, documentID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete vectors: %w", err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE collection_id = ? AND document_id = ?", coll.ID, documentID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}

	n, _ := result.RowsAffected()
	return n, nil
}

func chunkIDs(records []chunkRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.chunkID
	}
	return ids
}

// Search performs a vector similarity search in the active collection.
func (s *SQLiteIndex) Search(ctx context.Context, query []float32, opts SearchOptions) []Result {
	if opts.K <= 0 {
		log.Warn("Search requires a positive k", "k", opts.K)
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	coll := s.active
	if len(query) != coll.Dimensions {
		log.Warn("Query dimension mismatch", "collection", coll.Name, "got", len(query), "want", coll.Dimensions)
		return nil
	}
	if err := opts.Filter.validate(); err != nil {
		log.Warn("Invalid search filter", "err", err)
		return nil
	}

	var results []Result
	var err error
	switch {
	case coll.Distance == DistanceInnerProduct:
		results, err = s.searchInnerProduct(ctx, coll, query, opts)
	case len(opts.Filter) == 0 && opts.K <= maxKNN:
		results, err = s.searchKNN(ctx, coll, query, opts)
	default:
		results, err = s.searchScan(ctx, coll, query, opts)
	}
	if err != nil {
		log.Warn("Search failed", "collection", coll.Name, "err", err)
		return nil
	}
	return results
}

// searchKNN uses the vec0 index directly.
func (s *SQLiteIndex) searchKNN(ctx context.Context, coll Collection, query []float32, opts SearchOptions) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		WITH knn AS (
			SELECT chunk_rowid, distance, embedding
			FROM %s
			WHERE embedding MATCH ? AND k = ?
		)
		SELECT c.chunk_id, c.content, c.metadata, knn.distance, knn.embedding
		FROM knn
		JOIN chunks c ON c.id = knn.chunk_rowid
		ORDER BY knn.distance ASC
	`, vectorTable(coll.ID)), serializeEmbedding(query), opts.K)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer rows.Close()

	return scanResults(rows, opts)
}

// searchScan applies the metadata filter first and ranks the survivors with
// the scalar distance functions.
func (s *SQLiteIndex) searchScan(ctx context.Context, coll Collection, query []float32, opts SearchOptions) ([]Result, error) {
	fn := "vec_distance_cosine"
	if coll.Distance == DistanceL2 {
		fn = "vec_distance_l2"
	}
	clause, clauseArgs := opts.Filter.sqliteClause()

	args := []any{serializeEmbedding(query), coll.ID}
	args = append(args, clauseArgs...)
	args = append(args, opts.K)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT c.chunk_id, c.content, c.metadata, %s(v.embedding, ?) AS distance, v.embedding
		FROM chunks c
		JOIN %s v ON v.chunk_rowid = c.id
		WHERE c.collection_id = ? AND (%s)
		ORDER BY distance ASC
		LIMIT ?
	`, fn, vectorTable(coll.ID), clause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer rows.Close()

	return scanResults(rows, opts)
}

// searchInnerProduct ranks filtered candidates by 1 - dot(query, embedding).
func (s *SQLiteIndex) searchInnerProduct(ctx context.Context, coll Collection, query []float32, opts SearchOptions) ([]Result, error) {
	clause, clauseArgs := opts.Filter.sqliteClause()
	args := append([]any{coll.ID}, clauseArgs...)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT c.chunk_id, c.content, c.metadata, v.embedding
		FROM chunks c
		JOIN %s v ON v.chunk_rowid = c.id
		WHERE c.collection_id = ? AND (%s)
	`, vectorTable(coll.ID), clause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer rows.Close()

	var cands []scored
	for rows.Next() {
		var r Result
		var metadata string
		var blob []byte
		if err := rows.Scan(&r.ID, &r.Text, &metadata, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		embedding, err := deserializeEmbedding(blob)
		if err != nil {
			return nil, err
		}
		if r.Metadata, err = decodeMetadata(metadata); err != nil {
			return nil, err
		}
		if opts.IncludeEmbeddings {
			r.Embedding = embedding
		}
		cands = append(cands, scored{result: r, distance: innerProductDistance(query, embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return rankScored(cands, opts.K, !opts.OmitDistances), nil
}

// scanResults reads rows of (chunk_id, content, metadata, distance, embedding).
// Rows without a distance, as sqlite-vec returns for a zero cosine query,
// are skipped.
func scanResults(rows *sql.Rows, opts SearchOptions) ([]Result, error) {
	var results []Result
	skipped := 0
	for rows.Next() {
		var r Result
		var metadata string
		var distance sql.NullFloat64
		var blob []byte

		if err := rows.Scan(&r.ID, &r.Text, &metadata, &distance, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		if !distance.Valid {
			skipped++
			continue
		}

		md, err := decodeMetadata(metadata)
		if err != nil {
			return nil, err
		}
		r.Metadata = md

		if !opts.OmitDistances {
			d := distance.Float64
			r.Distance = &d
		}
		if opts.IncludeEmbeddings {
			if r.Embedding, err = deserializeEmbedding(blob); err != nil {
				return nil, err
			}
		}
		results = append(results, r)
	}
	if skipped > 0 {
		log.Warn("Skipped search results without a distance", "count", skipped)
	}
	return results, rows.Err()
}

// DocumentChunks returns a document's chunks with embeddings, in chunk order.
func (s *SQLiteIndex) DocumentChunks(ctx context.Context, documentID string) []Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll := s.active
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT c.chunk_id, c.content, c.metadata, v.embedding
		FROM chunks c
		LEFT JOIN %s v ON v.chunk_rowid = c.id
		WHERE c.collection_id = ? AND c.document_id = ?
		ORDER BY c.chunk_index
	`, vectorTable(coll.ID)), coll.ID, documentID)
	if err != nil {
		log.Warn("Failed to get document chunks", "document", documentID, "err", err)
		return nil
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var metadata string
		var blob []byte
		if err := rows.Scan(&r.ID, &r.Text, &metadata, &blob); err != nil {
			log.Warn("Failed to scan document chunk", "document", documentID, "err", err)
			return nil
		}
		r.Metadata, _ = decodeMetadata(metadata)
		if blob != nil {
			r.Embedding, _ = deserializeEmbedding(blob)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		log.Warn("Failed to get document chunks", "document", documentID, "err", err)
		return nil
	}
	return results
}

// Stats refreshes counts from the database. On failure the last known
// numbers are returned.
func (s *SQLiteIndex) Stats(ctx context.Context) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh, err := s.queryStats(ctx)
	if err != nil {
		log.Warn("Failed to refresh stats", "err", err)
		return s.stats.clone()
	}
	s.stats = fresh
	return s.stats.clone()
}

func (s *SQLiteIndex) queryStats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT col.name, col.dimensions, col.distance_metric,
			COUNT(c.id), COUNT(DISTINCT c.document_id)
		FROM collections col
		LEFT JOIN chunks c ON c.collection_id = col.id
		GROUP BY col.id, col.name, col.dimensions, col.distance_metric
	`)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	stats := Stats{Collection: s.active.Name, Collections: map[string]CollectionStats{}}
	for rows.Next() {
		var name, distance string
		var cs CollectionStats
		if err := rows.Scan(&name, &cs.Dimensions, &distance, &cs.Count, &cs.Documents); err != nil {
			return Stats{}, fmt.Errorf("failed to scan stats: %w", err)
		}
		cs.Distance = Distance(distance)
		stats.Collections[name] = cs
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}

	active := stats.Collections[s.active.Name]
	stats.DocumentCount = active.Documents
	stats.ChunkCount = active.Count
	return stats, nil
}

// Persist checkpoints the WAL into the main database file.
func (s *SQLiteIndex) Persist(ctx context.Context) bool {
	if s.path == "" {
		log.Debug("Persist skipped for in-memory index")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var busy, logFrames, checkpointed int
	err := s.db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busy, &logFrames, &checkpointed)
	if err != nil {
		log.Warn("Failed to persist index", "path", s.path, "err", err)
		return false
	}
	if busy != 0 {
		log.Warn("Checkpoint could not complete, database busy", "path", s.path)
		return false
	}

	log.Debug("Persisted index", "path", s.path, "frames", checkpointed)
	return true
}
