package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/charmbracelet/log"
)

const currentSchemaVersion = 1

const schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);
`

const collectionsTable = `
CREATE TABLE IF NOT EXISTS collections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT UNIQUE NOT NULL,
	dimensions INTEGER NOT NULL,
	distance_metric TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TEXT DEFAULT (datetime('now'))
);
`

const chunksTable = `
CREATE TABLE IF NOT EXISTS chunks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	collection_id INTEGER NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
	chunk_id TEXT NOT NULL,
	document_id TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	content TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TEXT DEFAULT (datetime('now')),
	UNIQUE(collection_id, chunk_id)
);

CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(collection_id, document_id);
`

// vectorTable names the sqlite-vec table holding a collection's embeddings.
func vectorTable(collectionID int64) string {
	return fmt.Sprintf("vec_%d", collectionID)
}

// createVectorTable creates the vec0 table for a collection. Inner product
// collections are stored with the cosine layout and ranked in Go.
func createVectorTable(ctx context.Context, tx *sql.Tx, collectionID int64, dimensions int, distance Distance) error {
	metric := "cosine"
	if distance == DistanceL2 {
		metric = "l2"
	}

	query := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(
			chunk_rowid INTEGER PRIMARY KEY,
			embedding float[%d] distance_metric=%s
		);
	`, vectorTable(collectionID), dimensions, metric)

	_, err := tx.ExecContext(ctx, query)
	return err
}

// initSchema initializes the database schema.
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schemaVersionTable); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err := db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		version = 0
	} else if err != nil {
		return fmt.Errorf("failed to check schema version: %w", err)
	}

	if version >= currentSchemaVersion {
		log.Debug("Schema is up to date", "version", version)
		return nil
	}

	log.Debug("Migrating schema", "from", version, "to", currentSchemaVersion)

	if version < 1 {
		if err := migrateV1(db); err != nil {
			return fmt.Errorf("failed to migrate to v1: %w", err)
		}
	}

	return nil
}

// migrateV1 creates the collection and chunk tables. Vector tables are
// created per collection.
func migrateV1(db *sql.DB) error {
	log.Debug("Applying migration v1")

	for _, table := range []string{collectionsTable, chunksTable} {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	if _, err := db.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)", 1); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	return nil
}
