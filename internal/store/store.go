package store

import "context"

// Store defines the document storage and retrieval operations.
type Store interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close() error

	// Writes
	Upsert(ctx context.Context, item Item) error
	BulkUpsert(ctx context.Context, items []Item) error
	Delete(ctx context.Context, id string) error
	DeleteByMetadata(ctx context.Context, key, value string) (int, error)

	// Reads
	Get(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context, limit int) ([]Document, error)
	FindByMetadata(ctx context.Context, key, value string) ([]Document, error)
	Query(ctx context.Context, embedding []float32, topK int) ([]Document, error)
	Count(ctx context.Context) (int, error)
	Stats(ctx context.Context) (*Stats, error)
	Dimension() int

	// Retention
	GarbageCollect(ctx context.Context, maxItems int) (int, error)
}
