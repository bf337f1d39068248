package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
)

const currentSchemaVersion = 1

// Schema definitions
const schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);
`

// Timestamps are written as fixed-width UTC text so that lexical order is
// time order. NULL or empty metadata reads back as an empty map.
const documentsTable = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	text TEXT NOT NULL,
	embedding BLOB NOT NULL,
	metadata TEXT,
	created_at TIMESTAMP,
	updated_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_documents_updated_at ON documents(updated_at);
`

// initSchema initializes the database schema.
func initSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaVersionTable); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err := db.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
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
		if err := migrateV1(ctx, db); err != nil {
			return fmt.Errorf("failed to migrate to v1: %w", err)
		}
	}

	return nil
}

// migrateV1 creates the documents table.
func migrateV1(ctx context.Context, db *sql.DB) error {
	log.Debug("Applying migration v1")

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, documentsTable); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", 1); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	return tx.Commit()
}

// persistedDimension inspects stored embeddings. It returns 0 for an empty
// table and ErrInconsistentState when widths disagree or are not whole
// float32 vectors.
func persistedDimension(ctx context.Context, db *sql.DB) (int, error) {
	rows, err := db.QueryContext(ctx, "SELECT DISTINCT length(embedding) FROM documents LIMIT 2")
	if err != nil {
		return 0, fmt.Errorf("failed to inspect embeddings: %w", err)
	}
	defer rows.Close()

	var widths []int
	for rows.Next() {
		var w int
		if err := rows.Scan(&w); err != nil {
			return 0, fmt.Errorf("failed to scan embedding width: %w", err)
		}
		widths = append(widths, w)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to inspect embeddings: %w", err)
	}

	switch {
	case len(widths) == 0:
		return 0, nil
	case len(widths) > 1:
		return 0, fmt.Errorf("%w: embeddings of different lengths are stored", ErrInconsistentState)
	case widths[0] == 0 || widths[0]%4 != 0:
		return 0, fmt.Errorf("%w: stored embedding width %d is not a float32 vector", ErrInconsistentState, widths[0])
	}
	return widths[0] / 4, nil
}
