package store

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nickcecere/pki/internal/ann"
)

var tracer = otel.Tracer("github.com/nickcecere/pki/internal/store")

// Searcher ranks stored documents against a query embedding. The query has
// already been checked against the store dimension.
type Searcher interface {
	Name() string
	Search(ctx context.Context, query []float32, topK int) ([]Document, error)
}

// ExactSearch scores every stored document. It is always correct and is the
// fallback for AcceleratedSearch.
type ExactSearch struct {
	store *SQLiteStore
}

func (e *ExactSearch) Name() string { return ann.NameExact }

func (e *ExactSearch) Search(ctx context.Context, query []float32, topK int) ([]Document, error) {
	start := time.Now()
	results, err := e.search(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	e.store.metrics.ObserveQuery("exact", time.Since(start))
	return results, nil
}

func (e *ExactSearch) search(ctx context.Context, query []float32, topK int) ([]Document, error) {
	docs, err := e.store.loadDocuments(ctx)
	if err != nil {
		return nil, err
	}
	return rankExact(docs, query, topK), nil
}

// AcceleratedSearch answers from a cached ann.Index and falls back to exact
// search when the index cannot be built, fails, or returns nothing.
type AcceleratedSearch struct {
	store *SQLiteStore
	cache *indexCache
	exact *ExactSearch
}

func (a *AcceleratedSearch) Name() string { return a.cache.backend.Name() }

func (a *AcceleratedSearch) Search(ctx context.Context, query []float32, topK int) ([]Document, error) {
	start := time.Now()
	docs, err := a.search(ctx, query, topK)
	if err == nil && len(docs) > 0 {
		a.store.metrics.ObserveQuery("accelerated", time.Since(start))
		return docs, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if errors.Is(err, ErrNotConnected) {
		return nil, err
	}
	if err != nil {
		log.Warn("Accelerated search failed, using exact search", "backend", a.Name(), "error", err)
	}

	start = time.Now()
	docs, err = a.exact.search(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	a.store.metrics.ObserveQuery("fallback", time.Since(start))
	return docs, nil
}

func (a *AcceleratedSearch) search(ctx context.Context, query []float32, topK int) ([]Document, error) {
	snap, err := a.cache.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer a.cache.release(snap)

	ids, scores, err := snap.search(query, topK)
	if err != nil {
		return nil, err
	}

	found, err := a.store.fetchByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]Document, 0, len(ids))
	for i, id := range ids {
		doc, ok := found[id]
		if !ok {
			// Deleted after the index was built.
			continue
		}
		doc.Score = scores[i]
		results = append(results, *doc)
	}
	return results, nil
}

// Query returns the topK documents most similar to embedding, best first.
func (s *SQLiteStore) Query(ctx context.Context, embedding []float32, topK int) ([]Document, error) {
	ctx, span := tracer.Start(ctx, "store.Query")
	defer span.End()
	span.SetAttributes(
		attribute.Int("pki.top_k", topK),
		attribute.String("pki.search", s.searcher.Name()),
	)

	docs, err := s.query(ctx, embedding, topK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("pki.results", len(docs)))
	return docs, nil
}

func (s *SQLiteStore) query(ctx context.Context, embedding []float32, topK int) ([]Document, error) {
	_, release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	release()

	dim := s.Dimension()
	if dim == 0 {
		// Nothing has been stored and no dimension is configured.
		return []Document{}, nil
	}
	if len(embedding) != dim {
		return nil, &DimensionMismatchError{Expected: dim, Actual: len(embedding)}
	}
	if topK <= 0 {
		return []Document{}, nil
	}

	return s.searcher.Search(ctx, embedding, topK)
}
