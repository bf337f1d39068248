// Package ingest loads local text files into the document store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nickcecere/pki/internal/config"
	"github.com/nickcecere/pki/internal/embeddings"
	"github.com/nickcecere/pki/internal/store"
)

var tracer = otel.Tracer("github.com/nickcecere/pki/internal/ingest")

// Metadata keys written on ingested documents.
const (
	MetaSource    = "source"
	MetaPath      = "path"
	MetaHash      = "hash"
	MetaChunk     = "chunk"
	MetaChunks    = "chunks"
	MetaStartLine = "start_line"
	MetaEndLine   = "end_line"

	SourceFile = "file"
	SourceNote = "note"
)

// Per-file outcomes reported to Metrics.
const (
	ResultIndexed   = "indexed"
	ResultUnchanged = "unchanged"
	ResultSkipped   = "skipped"
	ResultFailed    = "failed"
)

// Metrics receives one observation per file considered.
type Metrics interface {
	ObserveIngest(result string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveIngest(string) {}

// Options configures ingestion.
type Options struct {
	// Extensions limits ingestion to these file extensions.
	Extensions []string

	// IgnorePatterns are gitignore-style patterns applied inside directories.
	IgnorePatterns []string

	// MaxFileSize skips larger files. 0 disables the limit.
	MaxFileSize int64

	// ChunkSize and ChunkOverlap are measured in lines.
	ChunkSize    int
	ChunkOverlap int

	// BatchSize is the number of documents embedded per request.
	BatchSize int

	// Force re-ingests files whose content is unchanged.
	Force bool

	Metrics Metrics
}

// OptionsFromConfig builds Options from the ingest section of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Extensions:     cfg.Ingest.Extensions,
		IgnorePatterns: cfg.Ignore,
		MaxFileSize:    int64(cfg.Ingest.MaxFileSize),
		ChunkSize:      cfg.Ingest.ChunkSize,
		ChunkOverlap:   cfg.Ingest.ChunkOverlap,
		BatchSize:      cfg.Ingest.BatchSize,
	}
}

// Result summarizes an ingestion run.
type Result struct {
	Files     int // Files embedded and stored
	Documents int // Documents written
	Unchanged int // Files skipped because their hash is already stored
	Skipped   int // Files rejected by the walker
	Errors    int // Files that failed to read, embed or store
	Duration  time.Duration
}

// Ingester embeds files and writes them to a store.
type Ingester struct {
	store    store.Store
	embedder embeddings.Embedder
	chunker  *lineChunker
	opts     Options
	metrics  Metrics
}

// New creates an Ingester.
func New(st store.Store, emb embeddings.Embedder, opts Options) *Ingester {
	if opts.BatchSize <= 0 {
		opts.BatchSize = config.DefaultBatchSize
	}
	m := opts.Metrics
	if m == nil {
		m = noopMetrics{}
	}
	return &Ingester{
		store:    st,
		embedder: emb,
		chunker:  newLineChunker(opts.ChunkSize, opts.ChunkOverlap),
		opts:     opts,
		metrics:  m,
	}
}

// pending is a document waiting for its embedding.
type pending struct {
	item store.Item
	path string
}

// batch accumulates documents across files and flushes them in groups.
type batch struct {
	in      *Ingester
	items   []pending
	result  *Result
	failed  map[string]bool
	written map[string]int
}

func (b *batch) add(ctx context.Context, items []pending) error {
	for _, p := range items {
		b.items = append(b.items, p)
		if len(b.items) >= b.in.opts.BatchSize {
			if err := b.flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// flush embeds and stores the pending documents. Only context errors abort
// the run; other failures are charged to the files involved.
func (b *batch) flush(ctx context.Context) error {
	if len(b.items) == 0 {
		return nil
	}
	items := b.items
	b.items = nil

	texts := make([]string, len(items))
	for i, p := range items {
		texts[i] = p.item.Text
	}

	err := b.write(ctx, items, texts)
	if err == nil {
		b.result.Documents += len(items)
		for _, p := range items {
			b.written[p.path]++
		}
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	log.Warn("Failed to store batch", "documents", len(items), "error", err)
	for _, p := range items {
		b.failed[p.path] = true
	}
	return nil
}

func (b *batch) write(ctx context.Context, items []pending, texts []string) error {
	vectors, err := b.in.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(vectors) != len(items) {
		return fmt.Errorf("expected %d embeddings, got %d", len(items), len(vectors))
	}

	storeItems := make([]store.Item, len(items))
	for i, p := range items {
		storeItems[i] = p.item
		storeItems[i].Embedding = vectors[i]
	}
	return b.in.store.BulkUpsert(ctx, storeItems)
}

// dropPartial removes what earlier batches stored for files that later
// failed, so a rerun sees them as missing rather than current.
func (b *batch) dropPartial(ctx context.Context) error {
	for path := range b.failed {
		if b.written[path] == 0 {
			continue
		}
		n, err := b.in.store.DeleteByMetadata(ctx, MetaPath, path)
		if err != nil {
			return fmt.Errorf("failed to drop partial documents for %s: %w", path, err)
		}
		b.result.Documents -= b.written[path]
		log.Debug("Dropped partially stored file", "path", path, "documents", n)
	}
	return nil
}

// Ingest walks paths (files or directories) and stores every ingestible file.
func (in *Ingester) Ingest(ctx context.Context, paths []string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "ingest.Ingest",
		trace.WithAttributes(attribute.Int("pki.paths", len(paths))))
	defer span.End()

	start := time.Now()
	result := &Result{}
	b := &batch{in: in, result: result, failed: map[string]bool{}, written: map[string]int{}}
	var indexed []string

	for _, root := range paths {
		w, err := newWalker(root, in.opts.Extensions, in.opts.IgnorePatterns, in.opts.MaxFileSize)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return result, err
		}

		err = w.Walk(func(fi FileInfo) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			items, current, err := in.prepare(ctx, fi)
			switch {
			case err != nil:
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Warn("Failed to ingest file", "path", fi.Path, "error", err)
				result.Errors++
				in.metrics.ObserveIngest(ResultFailed)
				return nil
			case current:
				result.Unchanged++
				in.metrics.ObserveIngest(ResultUnchanged)
				return nil
			case len(items) == 0:
				result.Skipped++
				return nil
			}
			indexed = append(indexed, fi.Path)
			return b.add(ctx, items)
		})
		result.Skipped += w.Stats().FilesSkipped
		if err != nil {
			return result, in.fail(span, err)
		}
		span.AddEvent("walked", trace.WithAttributes(
			attribute.String("pki.root", w.root),
			attribute.Int("pki.files", w.Stats().FilesFound),
		))
	}

	if err := b.flush(ctx); err != nil {
		return result, in.fail(span, err)
	}
	if err := b.dropPartial(ctx); err != nil {
		return result, in.fail(span, err)
	}

	for _, path := range indexed {
		if b.failed[path] {
			result.Errors++
			in.metrics.ObserveIngest(ResultFailed)
			continue
		}
		result.Files++
		in.metrics.ObserveIngest(ResultIndexed)
	}
	for range result.Skipped {
		in.metrics.ObserveIngest(ResultSkipped)
	}

	result.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("pki.documents", result.Documents),
		attribute.Int("pki.errors", result.Errors),
	)
	log.Info("Ingestion complete",
		"files", result.Files,
		"documents", result.Documents,
		"unchanged", result.Unchanged,
		"errors", result.Errors,
		"duration", result.Duration.Round(time.Millisecond),
	)
	return result, nil
}

func (in *Ingester) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// prepare reads and chunks a file after dropping its previous documents.
// current is true when the stored copy already matches the file's hash.
func (in *Ingester) prepare(ctx context.Context, fi FileInfo) (items []pending, current bool, err error) {
	if !in.opts.Force {
		current, err := in.isCurrent(ctx, fi)
		if err != nil {
			return nil, false, err
		}
		if current {
			log.Debug("File unchanged, skipping", "path", fi.Path)
			return nil, true, nil
		}
	}

	content, err := os.ReadFile(fi.Path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read file: %w", err)
	}
	if _, err := in.store.DeleteByMetadata(ctx, MetaPath, fi.Path); err != nil {
		return nil, false, fmt.Errorf("failed to drop previous documents: %w", err)
	}

	chunks := in.chunker.Chunk(string(content))
	baseID := DocumentID(fi.Path, fi.ModTime)
	items = make([]pending, len(chunks))
	for i, c := range chunks {
		meta := map[string]string{
			MetaSource: SourceFile,
			MetaPath:   fi.Path,
			MetaHash:   fi.Hash,
			MetaChunks: strconv.Itoa(len(chunks)),
		}
		id := baseID
		if len(chunks) > 1 {
			id = baseID + "::" + strconv.Itoa(c.Index)
			meta[MetaChunk] = strconv.Itoa(c.Index)
			meta[MetaStartLine] = strconv.Itoa(c.StartLine)
			meta[MetaEndLine] = strconv.Itoa(c.EndLine)
		}
		items[i] = pending{
			item: store.Item{ID: id, Text: c.Content, Metadata: meta},
			path: fi.Path,
		}
	}
	return items, false, nil
}

// isCurrent reports whether every chunk of the file is stored with the
// file's current hash.
func (in *Ingester) isCurrent(ctx context.Context, fi FileInfo) (bool, error) {
	docs, err := in.store.FindByMetadata(ctx, MetaPath, fi.Path)
	if err != nil {
		return false, fmt.Errorf("failed to check stored documents: %w", err)
	}
	if len(docs) == 0 {
		return false, nil
	}
	want := strconv.Itoa(len(docs))
	for _, d := range docs {
		if d.Metadata[MetaHash] != fi.Hash || d.Metadata[MetaChunks] != want {
			return false, nil
		}
	}
	return true, nil
}

// DocumentID is the id of a whole-file document: file::<basename>::<mtime ns>.
func DocumentID(path string, modTime time.Time) string {
	return "file::" + filepath.Base(path) + "::" + strconv.FormatInt(modTime.UnixNano(), 10)
}

// IngestFile re-ingests a single file regardless of its stored hash.
func (in *Ingester) IngestFile(ctx context.Context, path string) (*Result, error) {
	forced := *in
	forced.opts.Force = true
	return forced.Ingest(ctx, []string{path})
}

// Remove deletes every document ingested from path.
func (in *Ingester) Remove(ctx context.Context, path string) (int, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve path: %w", err)
	}
	n, err := in.store.DeleteByMetadata(ctx, MetaPath, abs)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Debug("Removed documents", "path", abs, "count", n)
	}
	return n, nil
}

// Cleanup evicts the oldest documents beyond maxItems.
func (in *Ingester) Cleanup(ctx context.Context, maxItems int) (int, error) {
	n, err := in.store.GarbageCollect(ctx, maxItems)
	if err != nil {
		return 0, fmt.Errorf("failed to garbage collect: %w", err)
	}
	if n > 0 {
		log.Info("Evicted old documents", "count", n, "max_items", maxItems)
	}
	return n, nil
}

// NoteID is the id given to free-form text added without one.
func NoteID(text string) string {
	return "note::" + HashContent([]byte(text))
}

// AddText embeds a single piece of text and upserts it. An empty id is
// derived from the content and a missing source is set to SourceNote.
// It returns the id used.
func (in *Ingester) AddText(ctx context.Context, id, text string, metadata map[string]string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("text is required")
	}
	if id == "" {
		id = NoteID(text)
	}

	meta := make(map[string]string, len(metadata)+2)
	for k, v := range metadata {
		meta[k] = v
	}
	if meta[MetaSource] == "" {
		meta[MetaSource] = SourceNote
	}
	meta[MetaHash] = HashContent([]byte(text))

	vectors, err := in.embedder.Embed(ctx, []string{text})
	if err != nil {
		return "", fmt.Errorf("failed to embed text: %w", err)
	}
	if len(vectors) != 1 {
		return "", fmt.Errorf("expected 1 embedding, got %d", len(vectors))
	}
	if err := in.store.Upsert(ctx, store.Item{ID: id, Text: text, Embedding: vectors[0], Metadata: meta}); err != nil {
		return "", err
	}
	log.Debug("Added document", "id", id, "chars", len(text))
	return id, nil
}
