package store

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
)

// GarbageCollect keeps the maxItems most recently updated documents and
// deletes the rest. It returns the number deleted.
func (s *SQLiteStore) GarbageCollect(ctx context.Context, maxItems int) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	db, release, err := s.acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	if maxItems < 0 {
		maxItems = 0
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		DELETE FROM documents WHERE rowid IN (
			SELECT rowid FROM documents
			ORDER BY updated_at DESC, rowid DESC
			LIMIT -1 OFFSET ?
		)
	`, maxItems)
	if err != nil {
		return 0, fmt.Errorf("failed to evict documents: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count evicted documents: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if n > 0 {
		s.invalidate()
		s.metrics.ObserveEviction(int(n))
		log.Debug("Evicted documents", "count", n, "retained", maxItems)
	}
	return int(n), nil
}
