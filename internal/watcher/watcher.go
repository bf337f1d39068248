// Package watcher keeps the store in sync with a directory of notes.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/nickcecere/pki/internal/ingest"
)

// Indexer is the part of ingest.Ingester the watcher drives.
type Indexer interface {
	IngestFile(ctx context.Context, path string) (*ingest.Result, error)
	Remove(ctx context.Context, path string) (int, error)
	Cleanup(ctx context.Context, maxItems int) (int, error)
}

// Filter decides which paths below the root are left alone.
type Filter interface {
	Ignored(path string, isDir bool) bool
}

// Event names passed to the callback.
const (
	EventIndex  = "index"
	EventDelete = "delete"
	EventEvict  = "evict"
)

// Watcher watches for file changes and re-ingests them.
type Watcher struct {
	root       string
	indexer    Indexer
	extensions []string
	filter     Filter
	maxItems   int

	// debounce holds pending file events to batch process
	debounce     map[string]fsnotify.Op
	debounceMu   sync.Mutex
	debounceTime time.Duration

	// callback for status updates
	onEvent func(event string, path string)
}

// Option configures the watcher.
type Option func(*Watcher)

// WithDebounceTime sets the debounce duration for batching events.
func WithDebounceTime(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounceTime = d
	}
}

// WithEventCallback sets a callback for file events.
func WithEventCallback(fn func(event string, path string)) Option {
	return func(w *Watcher) {
		w.onEvent = fn
	}
}

// WithExtensions limits watched files to these extensions.
func WithExtensions(exts []string) Option {
	return func(w *Watcher) {
		w.extensions = make([]string, len(exts))
		for i, ext := range exts {
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			w.extensions[i] = strings.ToLower(ext)
		}
	}
}

// WithFilter skips paths the filter ignores, matching what a full ingest
// of the root would pick up.
func WithFilter(f Filter) Option {
	return func(w *Watcher) {
		w.filter = f
	}
}

// WithRetention runs garbage collection down to maxItems after each flush.
// 0 disables it.
func WithRetention(maxItems int) Option {
	return func(w *Watcher) {
		w.maxItems = maxItems
	}
}

// New creates a new file watcher.
func New(root string, idx Indexer, opts ...Option) (*Watcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:         absRoot,
		indexer:      idx,
		debounce:     make(map[string]fsnotify.Op),
		debounceTime: 500 * time.Millisecond,
		onEvent:      func(string, string) {}, // noop default
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Start begins watching for file changes. Blocks until context is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := w.addDirectories(watcher); err != nil {
		return err
	}

	log.Info("Watching for file changes", "root", w.root)

	go w.processDebounced(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event, watcher)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("Watcher error", "error", err)
		}
	}
}

// addDirectories recursively adds all directories to the watcher.
func (w *Watcher) addDirectories(watcher *fsnotify.Watcher) error {
	return filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && (shouldSkipDir(d.Name()) || w.ignored(path, true)) {
			return filepath.SkipDir
		}

		if err := watcher.Add(path); err != nil {
			log.Debug("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

var skipDirs = []string{
	"node_modules", "vendor", "dist", "build", "target",
	"__pycache__", ".git", ".obsidian", ".trash",
}

// shouldSkipDir returns true if directory should not be watched.
func shouldSkipDir(name string) bool {
	return strings.HasPrefix(name, ".") || slices.Contains(skipDirs, name)
}

// handleEvent queues a single file system event.
func (w *Watcher) handleEvent(event fsnotify.Event, watcher *fsnotify.Watcher) {
	path := event.Name

	if strings.HasPrefix(filepath.Base(path), ".") {
		return
	}

	// Removed paths can no longer be stat'ed.
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		if w.matchesExtension(path) && !w.ignored(path, false) {
			w.enqueue(path, event.Op)
		}
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.IsDir() {
		if event.Has(fsnotify.Create) && !shouldSkipDir(filepath.Base(path)) && !w.ignored(path, true) {
			watcher.Add(path)
			log.Debug("Added directory to watch", "path", path)
		}
		return
	}

	if w.matchesExtension(path) && !w.ignored(path, false) {
		w.enqueue(path, event.Op)
	}
}

func (w *Watcher) ignored(path string, isDir bool) bool {
	return w.filter != nil && w.filter.Ignored(path, isDir)
}

func (w *Watcher) enqueue(path string, op fsnotify.Op) {
	w.debounceMu.Lock()
	w.debounce[path] = op
	w.debounceMu.Unlock()
}

// matchesExtension checks the configured extension filter.
func (w *Watcher) matchesExtension(path string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	return slices.Contains(w.extensions, strings.ToLower(filepath.Ext(path)))
}

// processDebounced processes debounced file events periodically.
func (w *Watcher) processDebounced(ctx context.Context) {
	ticker := time.NewTicker(w.debounceTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.flushDebounced(ctx)
		}
	}
}

// flushDebounced processes all pending debounced events.
func (w *Watcher) flushDebounced(ctx context.Context) {
	w.debounceMu.Lock()
	if len(w.debounce) == 0 {
		w.debounceMu.Unlock()
		return
	}
	events := w.debounce
	w.debounce = make(map[string]fsnotify.Op)
	w.debounceMu.Unlock()

	changed := false
	for path := range events {
		if ctx.Err() != nil {
			return
		}

		relPath, err := filepath.Rel(w.root, path)
		if err != nil {
			relPath = path
		}

		// The last op can be stale after rename-then-write, so the disk decides.
		if _, err := os.Stat(path); err != nil {
			n, err := w.indexer.Remove(ctx, path)
			if err != nil {
				log.Error("Failed to handle delete", "path", relPath, "error", err)
				continue
			}
			if n > 0 {
				changed = true
				w.onEvent(EventDelete, relPath)
				log.Info("Removed from index", "file", relPath, "documents", n)
			}
			continue
		}

		res, err := w.indexer.IngestFile(ctx, path)
		if err != nil {
			log.Error("Failed to handle modify", "path", relPath, "error", err)
			continue
		}
		if res.Documents > 0 {
			changed = true
			w.onEvent(EventIndex, relPath)
			log.Info("Indexed", "file", relPath, "documents", res.Documents)
		}
	}

	if changed && w.maxItems > 0 {
		n, err := w.indexer.Cleanup(ctx, w.maxItems)
		if err != nil {
			log.Error("Failed to apply retention", "error", err)
			return
		}
		if n > 0 {
			w.onEvent(EventEvict, w.root)
		}
	}
}
