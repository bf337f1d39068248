package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/pki/internal/ann"
)

func TestQueryEmptyStore(t *testing.T) {
	for _, opts := range []Options{{}, {Dimension: 3}, {Backend: ann.NewVPTree()}} {
		s := setupTestStore(t, opts)
		results, err := s.Query(context.Background(), []float32{1, 2, 3}, 5)
		require.NoError(t, err)
		assert.Empty(t, results)
	}
}

func TestQuerySelfRetrieval(t *testing.T) {
	s := setupTestStore(t, Options{})
	ctx := context.Background()

	embeddings := map[string][]float32{
		"doc-1": {1, 0, 0},
		"doc-2": {0, 1, 0},
		"doc-3": {0, 0, 1},
	}
	for _, id := range []string{"doc-1", "doc-2", "doc-3"} {
		require.NoError(t, s.Upsert(ctx, Item{ID: id, Text: "text " + id, Embedding: embeddings[id]}))
	}

	results, err := s.Query(ctx, embeddings["doc-2"], 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-2", results[0].ID)
	assert.Equal(t, "text doc-2", results[0].Text)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestQueryRanksByCosine(t *testing.T) {
	s := setupTestStore(t, Options{})
	ctx := context.Background()

	require.NoError(t, s.BulkUpsert(ctx, []Item{
		{ID: "far", Embedding: []float32{-1, 0}},
		{ID: "near", Embedding: []float32{10, 1}},
		{ID: "mid", Embedding: []float32{1, 1}},
	}))

	results, err := s.Query(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "mid", "far"}, docIDs(results))
	assert.InDelta(t, -1.0, results[2].Score, 1e-6)

	results, err = s.Query(ctx, []float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestQueryDimensionMismatch(t *testing.T) {
	s := setupTestStore(t, Options{})
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, Item{ID: "a", Embedding: []float32{1, 0}}))

	_, err := s.Query(ctx, []float32{1, 0, 0}, 5)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	_, err = s.Query(ctx, nil, 5)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestQueryZeroVectors(t *testing.T) {
	s := setupTestStore(t, Options{})
	ctx := context.Background()

	require.NoError(t, s.BulkUpsert(ctx, []Item{
		{ID: "zero", Embedding: []float32{0, 0}},
		{ID: "x", Embedding: []float32{1, 0}},
	}))

	results, err := s.Query(ctx, []float32{0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, 0.0, r.Score)
	}
	// Ties keep storage order
	assert.Equal(t, []string{"zero", "x"}, docIDs(results))

	results, err = s.Query(ctx, []float32{-1, 0}, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"zero", "x"}, docIDs(results))
}

func TestExactTiesKeepStorageOrder(t *testing.T) {
	s := setupTestStore(t, Options{})
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.Upsert(ctx, Item{ID: id, Embedding: []float32{1, 1}}))
	}

	for range 3 {
		results, err := s.Query(ctx, []float32{2, 2}, 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "a", "b"}, docIDs(results))
	}
}

func TestAcceleratedMatchesExact(t *testing.T) {
	backends := []ann.Backend{ann.NewVPTree()}
	if vec := ann.NewVec0(); vec.Available() == nil {
		backends = append(backends, vec)
	}

	items := randomItems(200, 12, 7)
	queries := randomItems(10, 12, 8)

	exact := setupTestStore(t, Options{})
	require.NoError(t, exact.BulkUpsert(context.Background(), items))

	for _, backend := range backends {
		t.Run(backend.Name(), func(t *testing.T) {
			ctx := context.Background()
			s := setupTestStore(t, Options{Backend: backend})
			require.NoError(t, s.BulkUpsert(ctx, items))

			for _, q := range queries {
				want, err := exact.Query(ctx, q.Embedding, 10)
				require.NoError(t, err)
				got, err := s.Query(ctx, q.Embedding, 10)
				require.NoError(t, err)

				assert.Equal(t, docIDs(want), docIDs(got))
				for i := range want {
					assert.InDelta(t, want[i].Score, got[i].Score, 1e-4)
					assert.Equal(t, want[i].Text, got[i].Text)
				}
			}
		})
	}
}

func TestAcceleratedZeroVectorsMatchExact(t *testing.T) {
	items := []Item{
		{ID: "pos", Embedding: []float32{1, 0}},
		{ID: "zero", Embedding: []float32{0, 0}},
		{ID: "neg", Embedding: []float32{-1, 0}},
	}
	exact := setupTestStore(t, Options{})
	accel := setupTestStore(t, Options{Backend: ann.NewVPTree()})
	ctx := context.Background()
	require.NoError(t, exact.BulkUpsert(ctx, items))
	require.NoError(t, accel.BulkUpsert(ctx, items))

	for k := 1; k <= 3; k++ {
		want, err := exact.Query(ctx, []float32{1, 0}, k)
		require.NoError(t, err)
		got, err := accel.Query(ctx, []float32{1, 0}, k)
		require.NoError(t, err)
		assert.Equal(t, docIDs(want), docIDs(got), "k=%d", k)
	}
}

func TestAcceleratedSeesWrites(t *testing.T) {
	m := &recordingMetrics{}
	s := setupTestStore(t, Options{Backend: ann.NewVPTree(), Metrics: m})
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, Item{ID: "a", Text: "a", Embedding: []float32{1, 0}}))
	results, err := s.Query(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, docIDs(results))

	gen, ready := s.cache.state()
	assert.True(t, ready)

	require.NoError(t, s.Upsert(ctx, Item{ID: "b", Text: "b", Embedding: []float32{0, 1}}))
	newGen, ready := s.cache.state()
	assert.False(t, ready)
	assert.Greater(t, newGen, gen)

	results, err = s.Query(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, docIDs(results))

	// Text is re-read from the database, never cached
	require.NoError(t, s.Upsert(ctx, Item{ID: "b", Text: "b2", Embedding: []float32{0, 1}}))
	results, err = s.Query(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	assert.Equal(t, "b2", results[0].Text)

	require.NoError(t, s.Delete(ctx, "b"))
	results, err = s.Query(ctx, []float32{0, 1}, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, docIDs(results))

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, 4, m.rebuilds["installed"])
	assert.Equal(t, 4, m.queries["accelerated"])
}

func TestAcceleratedDropsVanishedDocuments(t *testing.T) {
	s := setupTestStore(t, Options{Backend: ann.NewVPTree()})
	ctx := context.Background()

	require.NoError(t, s.BulkUpsert(ctx, []Item{
		{ID: "a", Embedding: []float32{1, 0}},
		{ID: "b", Embedding: []float32{0.9, 0.1}},
	}))
	_, err := s.Query(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)

	// Remove a row behind the cache's back to simulate a racing delete.
	_, err = s.db.Exec("DELETE FROM documents WHERE id = 'a'")
	require.NoError(t, err)

	results, err := s.Query(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, docIDs(results))
}

func TestAcceleratedFallsBackOnBuildError(t *testing.T) {
	m := &recordingMetrics{}
	backend := &fakeBackend{buildErr: errors.New("boom")}
	s := setupTestStore(t, Options{Backend: backend, Metrics: m})
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, Item{ID: "a", Embedding: []float32{1, 0}}))
	results, err := s.Query(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, docIDs(results))

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, 1, m.queries["fallback"])
	assert.Equal(t, 1, m.rebuilds["failed"])
}

func TestAcceleratedFallsBackOnSearchError(t *testing.T) {
	backend := &fakeBackend{searchErr: errors.New("search broke")}
	s := setupTestStore(t, Options{Backend: backend})
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, Item{ID: "a", Embedding: []float32{1, 0}}))
	results, err := s.Query(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, docIDs(results))
}

func TestSingleFlightRebuild(t *testing.T) {
	backend := &fakeBackend{gate: make(chan struct{})}
	s := setupTestStore(t, Options{Backend: backend})
	ctx := context.Background()

	require.NoError(t, s.BulkUpsert(ctx, randomItems(50, 4, 1)))

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := s.Query(ctx, []float32{1, 0, 0, 0}, 3)
			if err == nil && len(results) != 3 {
				err = fmt.Errorf("got %d results", len(results))
			}
			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return backend.buildCount() == 1 }, time.Second, time.Millisecond)
	close(backend.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, backend.buildCount())

	// Later callers reuse the fresh index
	_, err := s.Query(ctx, []float32{1, 0, 0, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, backend.buildCount())
}

func TestStaleRebuildIsDiscarded(t *testing.T) {
	m := &recordingMetrics{}
	backend := &fakeBackend{}
	s := setupTestStore(t, Options{Backend: backend, Metrics: m})
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, Item{ID: "a", Embedding: []float32{1, 0}}))

	// A write lands while the first build runs.
	backend.onBuild = func(n int) {
		if n == 1 {
			assert.NoError(t, s.Upsert(ctx, Item{ID: "b", Embedding: []float32{0, 1}}))
		}
	}

	results, err := s.Query(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, docIDs(results))
	assert.Equal(t, 2, backend.buildCount())
	assert.Equal(t, int32(1), backend.closed.Load())

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, 1, m.rebuilds["stale"])
	assert.Equal(t, 1, m.rebuilds["installed"])
	assert.Equal(t, 1, m.queries["accelerated"])
}

func TestRebuildAttemptsAreBounded(t *testing.T) {
	m := &recordingMetrics{}
	backend := &fakeBackend{}
	s := setupTestStore(t, Options{Backend: backend, Metrics: m, RebuildAttempts: 2})
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, Item{ID: "a", Embedding: []float32{1, 0}}))

	var writes atomic.Int32
	backend.onBuild = func(int) {
		id := fmt.Sprintf("w%d", writes.Add(1))
		assert.NoError(t, s.Upsert(ctx, Item{ID: id, Embedding: []float32{0, 1}}))
	}

	results, err := s.Query(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, docIDs(results))
	assert.Equal(t, 2, backend.buildCount())

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, 1, m.queries["fallback"])
	assert.Equal(t, 2, m.rebuilds["stale"])
}

func TestAbandonedQueryLeavesRebuildRunning(t *testing.T) {
	backend := &fakeBackend{gate: make(chan struct{})}
	s := setupTestStore(t, Options{Backend: backend})

	require.NoError(t, s.Upsert(context.Background(), Item{ID: "a", Embedding: []float32{1, 0}}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Query(ctx, []float32{1, 0}, 1)
		done <- err
	}()

	require.Eventually(t, func() bool { return backend.buildCount() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(backend.gate)
	require.Eventually(t, func() bool {
		_, ready := s.cache.state()
		return ready
	}, time.Second, time.Millisecond)

	results, err := s.Query(context.Background(), []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, docIDs(results))
	assert.Equal(t, 1, backend.buildCount())
}

func TestRetiredSnapshotClosesAfterLastRelease(t *testing.T) {
	backend := &fakeBackend{}
	s := setupTestStore(t, Options{Backend: backend})
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, Item{ID: "a", Embedding: []float32{1, 0}}))

	snap, err := s.cache.acquire(ctx)
	require.NoError(t, err)

	s.cache.invalidate()
	assert.Equal(t, int32(0), backend.closed.Load())

	s.cache.release(snap)
	assert.Equal(t, int32(1), backend.closed.Load())
}

func TestCloseDropsIndex(t *testing.T) {
	backend := &fakeBackend{}
	s := setupTestStore(t, Options{Backend: backend})
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, Item{ID: "a", Embedding: []float32{1, 0}}))
	_, err := s.Query(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.Equal(t, int32(1), backend.closed.Load())
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	s := setupTestStore(t, Options{Backend: ann.NewVPTree()})
	ctx := context.Background()
	require.NoError(t, s.BulkUpsert(ctx, randomItems(20, 8, 3)))

	var wg sync.WaitGroup
	errs := make(chan error, 200)
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i, item := range randomItems(20, 8, int64(100+w)) {
				item.ID = fmt.Sprintf("w%d-%d", w, i)
				if err := s.Upsert(ctx, item); err != nil {
					errs <- err
				}
			}
		}()
	}
	for r := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, q := range randomItems(20, 8, int64(200+r)) {
				results, err := s.Query(ctx, q.Embedding, 5)
				if err != nil {
					errs <- err
					continue
				}
				if len(results) == 0 {
					errs <- errors.New("no results")
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
}

func TestGarbageCollectInvalidatesIndex(t *testing.T) {
	s := setupTestStore(t, Options{Backend: ann.NewVPTree()})
	ctx := context.Background()

	for i := range 5 {
		require.NoError(t, s.Upsert(ctx, Item{ID: fmt.Sprint(i), Embedding: []float32{1, float32(i)}}))
	}
	_, err := s.Query(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)

	deleted, err := s.GarbageCollect(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)
	_, ready := s.cache.state()
	assert.False(t, ready)

	results, err := s.Query(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"3", "4"}, docIDs(results))

	// No deletion, no invalidation
	_, err = s.GarbageCollect(ctx, 10)
	require.NoError(t, err)
	_, ready = s.cache.state()
	assert.True(t, ready)
}

func randomItems(n, dim int, seed int64) []Item {
	r := rand.New(rand.NewSource(seed))
	items := make([]Item, n)
	for i := range items {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(r.NormFloat64())
		}
		items[i] = Item{ID: fmt.Sprintf("doc-%03d", i), Text: fmt.Sprintf("text %d", i), Embedding: v}
	}
	return items
}

// fakeBackend wraps the VP-tree and counts builds and closes.
type fakeBackend struct {
	mu        sync.Mutex
	builds    int
	gate      chan struct{}
	onBuild   func(n int)
	buildErr  error
	searchErr error
	closed    atomic.Int32
}

func (f *fakeBackend) Name() string     { return "fake" }
func (f *fakeBackend) Available() error { return nil }

func (f *fakeBackend) Build(vectors [][]float32) (ann.Index, error) {
	f.mu.Lock()
	f.builds++
	n := f.builds
	f.mu.Unlock()

	if f.gate != nil {
		<-f.gate
	}
	if f.onBuild != nil {
		f.onBuild(n)
	}
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	idx, err := ann.NewVPTree().Build(vectors)
	if err != nil {
		return nil, err
	}
	return &fakeIndex{Index: idx, backend: f}, nil
}

func (f *fakeBackend) buildCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.builds
}

type fakeIndex struct {
	ann.Index
	backend *fakeBackend
}

func (x *fakeIndex) Search(q []float32, k int) ([]int, []float64, error) {
	if x.backend.searchErr != nil {
		return nil, nil, x.backend.searchErr
	}
	return x.Index.Search(q, k)
}

func (x *fakeIndex) Close() error {
	x.backend.closed.Add(1)
	return x.Index.Close()
}
