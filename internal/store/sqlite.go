package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	path    string
	opts    Options
	metrics Metrics
	clock   func() time.Time

	// connMu guards db. Operations hold the read side while they use the
	// handle; Connect and Close hold the write side.
	connMu sync.RWMutex
	db     *sql.DB

	// writeMu serializes mutations and the invalidation that follows them.
	// lastStamp is written under writeMu, or by Connect under connMu.
	writeMu   sync.Mutex
	lastStamp time.Time

	dim atomic.Int64

	searcher Searcher
	cache    *indexCache
}

var _ Store = (*SQLiteStore)(nil)

// New creates a store for the database at path. Nothing is opened until Connect.
func New(path string, opts Options) *SQLiteStore {
	s := &SQLiteStore{
		path:    path,
		opts:    opts,
		metrics: opts.Metrics,
		clock:   opts.Clock,
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.opts.RebuildAttempts <= 0 {
		s.opts.RebuildAttempts = DefaultRebuildAttempts
	}
	if opts.Dimension > 0 {
		s.dim.Store(int64(opts.Dimension))
	}

	exact := &ExactSearch{store: s}
	s.searcher = exact
	if opts.Backend != nil {
		s.cache = newIndexCache(opts.Backend, s.loadVectors, s.opts.RebuildAttempts, s.metrics)
		s.searcher = &AcceleratedSearch{store: s, cache: s.cache, exact: exact}
	}
	return s
}

// Open is New followed by Connect.
func Open(ctx context.Context, path string, opts Options) (*SQLiteStore, error) {
	s := New(path, opts)
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Connect opens the database, creating it and its schema if needed.
func (s *SQLiteStore) Connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.db != nil {
		return nil
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: failed to create database directory: %w", ErrStoreUnavailable, err)
	}

	db, err := sql.Open("sqlite3", s.path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("%w: failed to open database: %w", ErrStoreUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("%w: failed to open database: %w", ErrStoreUnavailable, err)
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return fmt.Errorf("%w: failed to initialize schema: %w", ErrStoreUnavailable, err)
	}

	persisted, err := persistedDimension(ctx, db)
	if err != nil {
		db.Close()
		return err
	}
	if want := int(s.dim.Load()); persisted > 0 && want > 0 && persisted != want {
		db.Close()
		return fmt.Errorf("%w: stored embeddings have dimension %d, store configured for %d", ErrInconsistentState, persisted, want)
	}
	if persisted > 0 {
		s.dim.Store(int64(persisted))
	}

	var newest sql.NullString
	if err := db.QueryRowContext(ctx, "SELECT MAX(updated_at) FROM documents").Scan(&newest); err != nil {
		db.Close()
		return fmt.Errorf("%w: failed to read timestamps: %w", ErrStoreUnavailable, err)
	}
	if newest.Valid {
		s.lastStamp = parseTime(newest.String)
	}

	s.db = db
	log.Debug("Opened SQLite store", "path", s.path, "dimension", s.Dimension(), "search", s.searcher.Name())
	return nil
}

// Close closes the database connection and drops the accelerated index.
func (s *SQLiteStore) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.db == nil {
		return nil
	}
	if s.cache != nil {
		s.cache.invalidate()
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	log.Debug("Closed SQLite store", "path", s.path)
	return nil
}

// Dimension returns the fixed embedding length, or 0 if not yet known.
func (s *SQLiteStore) Dimension() int {
	return int(s.dim.Load())
}

// acquire returns the open handle with the read side of connMu held.
// The caller must call release exactly once.
func (s *SQLiteStore) acquire() (db *sql.DB, release func(), err error) {
	s.connMu.RLock()
	if s.db == nil {
		s.connMu.RUnlock()
		return nil, func() {}, ErrNotConnected
	}
	return s.db, s.connMu.RUnlock, nil
}

// nextStamp returns a timestamp strictly after every one issued before.
// Callers hold writeMu.
func (s *SQLiteStore) nextStamp() time.Time {
	now := s.clock().UTC()
	if !now.After(s.lastStamp) {
		now = s.lastStamp.Add(time.Nanosecond)
	}
	s.lastStamp = now
	return now
}

// invalidate marks the accelerated index stale. Callers hold writeMu.
func (s *SQLiteStore) invalidate() {
	if s.cache != nil {
		s.cache.invalidate()
	}
}

// Upsert inserts or replaces a single document.
func (s *SQLiteStore) Upsert(ctx context.Context, item Item) error {
	return s.upsert(ctx, "upsert", []Item{item})
}

// BulkUpsert applies items in one transaction. If any item has the wrong
// dimension nothing is written.
func (s *SQLiteStore) BulkUpsert(ctx context.Context, items []Item) error {
	return s.upsert(ctx, "bulk_upsert", items)
}

type preparedItem struct {
	id        string
	text      string
	embedding []byte
	metadata  string
}

func (s *SQLiteStore) upsert(ctx context.Context, op string, items []Item) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	db, release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	if len(items) == 0 {
		return nil
	}

	dim := s.Dimension()
	prepared := make([]preparedItem, len(items))
	for i, item := range items {
		if dim == 0 && len(item.Embedding) > 0 {
			dim = len(item.Embedding)
		}
		if len(item.Embedding) == 0 || len(item.Embedding) != dim {
			return &DimensionMismatchError{ID: item.ID, Expected: dim, Actual: len(item.Embedding)}
		}
		metadata, err := encodeMetadata(item.Metadata)
		if err != nil {
			return err
		}
		prepared[i] = preparedItem{
			id:        item.ID,
			text:      item.Text,
			embedding: serializeEmbedding(item.Embedding),
			metadata:  metadata,
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (id, text, embedding, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			embedding = excluded.embedding,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range prepared {
		stamp := formatTime(s.nextStamp())
		if _, err := stmt.ExecContext(ctx, p.id, p.text, p.embedding, p.metadata, stamp, stamp); err != nil {
			return fmt.Errorf("failed to upsert document %q: %w", p.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.dim.CompareAndSwap(0, int64(dim))
	s.invalidate()
	s.metrics.ObserveWrite(op, len(prepared))
	log.Debug("Upserted documents", "count", len(prepared))
	return nil
}

// Delete removes a document. Deleting an unknown id is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	db, release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	result, err := db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	n, _ := result.RowsAffected()

	s.invalidate()
	s.metrics.ObserveWrite("delete", int(n))
	return nil
}

// DeleteByMetadata removes every document whose metadata has key = value.
func (s *SQLiteStore) DeleteByMetadata(ctx context.Context, key, value string) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	db, release, err := s.acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	result, err := db.ExecContext(ctx,
		"DELETE FROM documents WHERE "+metadataMatch, metadataPath(key), value)
	if err != nil {
		return 0, fmt.Errorf("failed to delete documents: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted documents: %w", err)
	}

	if n > 0 {
		s.invalidate()
		s.metrics.ObserveWrite("delete", int(n))
	}
	return int(n), nil
}

// FindByMetadata returns every document whose metadata has key = value,
// most recently updated first.
func (s *SQLiteStore) FindByMetadata(ctx context.Context, key, value string) ([]Document, error) {
	db, release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := db.QueryContext(ctx, "SELECT "+documentColumns+`
		FROM documents
		WHERE `+metadataMatch+`
		ORDER BY updated_at DESC, rowid DESC
	`, metadataPath(key), value)
	if err != nil {
		return nil, fmt.Errorf("failed to find documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc.Score = ListScore
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to find documents: %w", err)
	}
	return docs, nil
}

const metadataMatch = "json_valid(metadata) AND json_extract(metadata, ?) = ?"

// metadataPath quotes key so names with dots or spaces work.
func metadataPath(key string) string {
	return `$."` + strings.ReplaceAll(key, `"`, `\"`) + `"`
}

const documentColumns = "id, text, embedding, metadata, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		doc       Document
		blob      []byte
		metadata  sql.NullString
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&doc.ID, &doc.Text, &blob, &metadata, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	embedding, err := deserializeEmbedding(blob)
	if err != nil {
		return nil, err
	}
	doc.Embedding = embedding

	doc.Metadata, err = decodeMetadata(doc.ID, metadata.String)
	if err != nil {
		log.Warn("Ignoring unreadable metadata", "id", doc.ID, "error", err)
	}

	doc.CreatedAt = parseTime(createdAt)
	doc.UpdatedAt = parseTime(updatedAt)
	return &doc, nil
}

// Get returns the document with the given id or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Document, error) {
	db, release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	row := db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	doc.Score = ListScore
	return doc, nil
}

// ListDocuments returns up to limit documents, most recently updated first.
func (s *SQLiteStore) ListDocuments(ctx context.Context, limit int) ([]Document, error) {
	db, release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	if limit <= 0 {
		return []Document{}, nil
	}

	rows, err := db.QueryContext(ctx, "SELECT "+documentColumns+`
		FROM documents
		ORDER BY updated_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc.Score = ListScore
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

// Count returns the number of stored documents.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	db, release, err := s.acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// Stats returns summary information about the store.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	db, release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	stats := &Stats{
		Path:      s.path,
		Dimension: s.Dimension(),
		Backend:   s.searcher.Name(),
	}

	var oldest, newest sql.NullString
	err = db.QueryRowContext(ctx,
		"SELECT COUNT(*), MIN(updated_at), MAX(updated_at) FROM documents",
	).Scan(&stats.Documents, &oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	if oldest.Valid {
		stats.Oldest = parseTime(oldest.String)
	}
	if newest.Valid {
		stats.Newest = parseTime(newest.String)
	}

	if s.cache != nil {
		stats.IndexGeneration, stats.IndexReady = s.cache.state()
	}
	return stats, nil
}

// fetchByIDs loads the documents for ids. Missing ids are absent from the map.
func (s *SQLiteStore) fetchByIDs(ctx context.Context, ids []string) (map[string]*Document, error) {
	found := make(map[string]*Document, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	db, release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := db.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch documents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		found[doc.ID] = doc
	}
	return found, rows.Err()
}

// loadDocuments returns every document in storage order.
func (s *SQLiteStore) loadDocuments(ctx context.Context) ([]*Document, error) {
	db, release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := db.QueryContext(ctx, "SELECT "+documentColumns+" FROM documents ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// loadVectors returns ids and embeddings in storage order.
func (s *SQLiteStore) loadVectors(ctx context.Context) ([]string, [][]float32, error) {
	db, release, err := s.acquire()
	if err != nil {
		return nil, nil, err
	}
	defer release()

	rows, err := db.QueryContext(ctx, "SELECT id, embedding FROM documents ORDER BY rowid")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load embeddings: %w", err)
	}
	defer rows.Close()

	var ids []string
	var vectors [][]float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		v, err := deserializeEmbedding(blob)
		if err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
		vectors = append(vectors, v)
	}
	return ids, vectors, rows.Err()
}
