// Package store provides the hybrid vector store: SQLite persistence of
// documents and their embeddings, exact cosine ranking, an optional
// accelerated index that is rebuilt lazily after writes, and size-bounded
// retention.
package store

import (
	"time"

	"github.com/nickcecere/pki/internal/ann"
)

// ListScore is the placeholder score attached to documents returned by
// ListDocuments and Get. No similarity is computed for those.
const ListScore = 1.0

// Document is a stored record. Score is only meaningful on query results.
type Document struct {
	ID        string            `json:"id"`
	Text      string            `json:"text"`
	Embedding []float32         `json:"-"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Score     float64           `json:"score"`
}

// Item is the input for Upsert and BulkUpsert.
type Item struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  map[string]string
}

// Options configures a SQLiteStore.
type Options struct {
	// Dimension fixes the embedding length. Zero means it is taken from
	// persisted data on Connect, or from the first successful write.
	Dimension int

	// Backend enables the accelerated index. Nil selects exact search only.
	Backend ann.Backend

	// RebuildAttempts bounds how many times a query retries an index
	// rebuild that lost a race with a write before using exact search.
	RebuildAttempts int

	// Metrics receives operational measurements. Nil disables them.
	Metrics Metrics

	// Clock overrides time.Now, mostly for tests.
	Clock func() time.Time
}

// DefaultRebuildAttempts is used when Options.RebuildAttempts is zero.
const DefaultRebuildAttempts = 3

// Stats summarizes the store for status output.
type Stats struct {
	Path            string    `json:"path"`
	Documents       int       `json:"documents"`
	Dimension       int       `json:"dimension"`
	Backend         string    `json:"backend"`
	IndexGeneration uint64    `json:"index_generation"`
	IndexReady      bool      `json:"index_ready"`
	Oldest          time.Time `json:"oldest,omitempty"`
	Newest          time.Time `json:"newest,omitempty"`
}
