package store

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/nickcecere/pki/internal/ann"
)

var errIndexStale = errors.New("index went stale during every rebuild attempt")

type vectorLoader func(ctx context.Context) ([]string, [][]float32, error)

// indexCache owns the accelerated index. Every invalidation bumps the
// generation; a rebuild installs its result only if the generation it
// started from is still current.
type indexCache struct {
	backend  ann.Backend
	load     vectorLoader
	attempts int
	metrics  Metrics

	mu         sync.Mutex
	generation uint64
	current    *snapshot

	group singleflight.Group
}

// snapshot is one built index. It is closed when it has been retired and
// its last reader has released it.
type snapshot struct {
	generation uint64
	index      ann.Index
	ids        []string // index row -> document id
	zeros      []string // zero-norm documents, kept out of the index
	refs       int
	retired    bool
}

func newIndexCache(backend ann.Backend, load vectorLoader, attempts int, metrics Metrics) *indexCache {
	return &indexCache{
		backend:  backend,
		load:     load,
		attempts: attempts,
		metrics:  metrics,
	}
}

// invalidate marks the current index stale.
func (c *indexCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	if c.current != nil {
		c.retireLocked(c.current)
		c.current = nil
	}
}

func (c *indexCache) retireLocked(s *snapshot) {
	s.retired = true
	if s.refs == 0 {
		s.close()
	}
}

func (c *indexCache) state() (generation uint64, ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation, c.current != nil
}

// acquire returns a fresh snapshot, joining or starting a rebuild if needed.
// The rebuild is not tied to ctx; a caller that gives up leaves it running.
func (c *indexCache) acquire(ctx context.Context) (*snapshot, error) {
	for range c.attempts {
		c.mu.Lock()
		if s := c.current; s != nil {
			s.refs++
			c.mu.Unlock()
			return s, nil
		}
		gen := c.generation
		c.mu.Unlock()

		ch := c.group.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
			return nil, c.rebuild(gen)
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
		}
	}
	return nil, errIndexStale
}

func (c *indexCache) release(s *snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s.refs--
	if s.retired && s.refs == 0 {
		s.close()
	}
}

func (c *indexCache) rebuild(gen uint64) error {
	ctx, span := tracer.Start(context.Background(), "store.rebuildIndex")
	defer span.End()

	name := c.backend.Name()
	start := time.Now()

	ids, vectors, err := c.load(ctx)
	if err != nil {
		c.metrics.ObserveRebuild(name, "failed", time.Since(start))
		span.RecordError(err)
		return err
	}

	snap := &snapshot{generation: gen}
	unit := make([][]float32, 0, len(vectors))
	for i, v := range vectors {
		u, ok := ann.Normalize(v)
		if !ok {
			snap.zeros = append(snap.zeros, ids[i])
			continue
		}
		snap.ids = append(snap.ids, ids[i])
		unit = append(unit, u)
	}

	idx, err := c.backend.Build(unit)
	if err != nil {
		c.metrics.ObserveRebuild(name, "failed", time.Since(start))
		span.RecordError(err)
		return err
	}
	snap.index = idx

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen {
		// A write landed while building; the next query rebuilds.
		snap.close()
		c.metrics.ObserveRebuild(name, "stale", time.Since(start))
		log.Debug("Discarded stale index", "backend", name, "generation", gen, "current", c.generation)
		return nil
	}

	c.current = snap
	c.metrics.ObserveRebuild(name, "installed", time.Since(start))
	log.Debug("Built index", "backend", name, "generation", gen, "documents", len(ids), "duration", time.Since(start))
	return nil
}

func (s *snapshot) close() {
	if s.index == nil {
		return
	}
	if err := s.index.Close(); err != nil {
		log.Warn("Failed to close index", "generation", s.generation, "error", err)
	}
	s.index = nil
}

// search returns document ids and cosine scores, best first. Zero-norm
// documents score 0 and slot in between positive and negative hits.
func (s *snapshot) search(query []float32, topK int) ([]string, []float64, error) {
	q, ok := ann.Normalize(query)
	if !ok {
		// Every score would be 0; exact search orders those by storage.
		return nil, nil, nil
	}

	rows, scores, err := s.index.Search(q, topK)
	if err != nil {
		return nil, nil, err
	}

	ids := make([]string, 0, topK)
	out := make([]float64, 0, topK)
	z := 0
	for i := 0; len(ids) < topK && (i < len(rows) || z < len(s.zeros)); {
		if i < len(rows) && (scores[i] > 0 || z == len(s.zeros)) {
			if rows[i] < 0 || rows[i] >= len(s.ids) {
				i++
				continue
			}
			ids = append(ids, s.ids[rows[i]])
			out = append(out, scores[i])
			i++
			continue
		}
		ids = append(ids, s.zeros[z])
		out = append(out, 0)
		z++
	}
	return ids, out, nil
}
