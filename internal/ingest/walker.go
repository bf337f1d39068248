package ingest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"
	gitignore "github.com/sabhiram/go-gitignore"
)

// FileInfo describes a file selected for ingestion.
type FileInfo struct {
	Path    string    // Absolute path to the file
	Size    int64     // File size in bytes
	ModTime time.Time // Last modification time
	Hash    string    // xxhash of file contents
}

// WalkStats contains statistics from a walk.
type WalkStats struct {
	FilesFound   int // Files passed to the callback
	FilesSkipped int // Files skipped due to size/pattern/extension/content
	DirsSkipped  int // Directories skipped
}

// matcher is satisfied by compiled gitignore sets.
type matcher interface {
	MatchesPath(path string) bool
}

// combinedIgnorer matches when either set does.
type combinedIgnorer struct {
	file     matcher
	patterns matcher
}

func (c *combinedIgnorer) MatchesPath(path string) bool {
	return c.file.MatchesPath(path) || c.patterns.MatchesPath(path)
}

// walker selects ingestible files below a root, or the root itself when it is a file.
type walker struct {
	root        string
	maxFileSize int64
	patterns    []string
	extSet      map[string]bool
	ignorer     matcher
	stats       WalkStats
}

func newWalker(root string, extensions, patterns []string, maxFileSize int64) (*walker, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("path does not exist: %w", err)
	}

	w := &walker{
		root:        abs,
		maxFileSize: maxFileSize,
		patterns:    patterns,
		extSet:      extensionSet(extensions),
	}
	w.initIgnorer()
	return w, nil
}

// extensionSet normalizes extensions to lower case with a leading dot.
func extensionSet(extensions []string) map[string]bool {
	if len(extensions) == 0 {
		return nil
	}
	set := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[strings.ToLower(ext)] = true
	}
	return set
}

// initIgnorer combines configured patterns with the root's .gitignore.
func (w *walker) initIgnorer() {
	w.ignorer = compileIgnorer(w.root, w.patterns)
}

func compileIgnorer(root string, lines []string) matcher {
	patterns := gitignore.CompileIgnoreLines(lines...)

	gitignorePath := filepath.Join(root, ".gitignore")
	if _, err := os.Stat(gitignorePath); err != nil {
		return patterns
	}
	gi, err := gitignore.CompileIgnoreFile(gitignorePath)
	if err != nil {
		log.Warn("Failed to parse .gitignore", "path", gitignorePath, "error", err)
		return patterns
	}
	return &combinedIgnorer{file: gi, patterns: patterns}
}

// Ignorer applies the directory walk's ignore rules to single paths below
// root: hidden names, configured patterns and the root's .gitignore.
type Ignorer struct {
	root    string
	ignorer matcher
}

// NewIgnorer compiles the ignore rules for root.
func NewIgnorer(root string, patterns []string) (*Ignorer, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	return &Ignorer{root: abs, ignorer: compileIgnorer(abs, patterns)}, nil
}

// Ignored reports whether a walk of root would skip path, either directly or
// because one of its parent directories is skipped. Paths outside root are
// never ignored.
func (i *Ignorer) Ignored(path string, isDir bool) bool {
	rel, err := filepath.Rel(i.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	rel = filepath.ToSlash(rel)

	parts := strings.Split(rel, "/")
	for n, name := range parts {
		if strings.HasPrefix(name, ".") {
			return true
		}
		prefix := strings.Join(parts[:n+1], "/")
		last := n == len(parts)-1
		switch {
		case !last || isDir:
			if i.ignorer.MatchesPath(prefix + "/") {
				return true
			}
		default:
			if i.ignorer.MatchesPath(prefix) {
				return true
			}
		}
	}
	return false
}

// Walk calls fn for every ingestible file. The walk stops if fn returns an error.
func (w *walker) Walk(fn func(FileInfo) error) error {
	w.stats = WalkStats{}

	info, err := os.Stat(w.root)
	if err != nil {
		return fmt.Errorf("failed to stat path: %w", err)
	}
	if !info.IsDir() {
		// Explicit files bypass ignore patterns but not the content checks.
		return w.visit(w.root, info, fn)
	}

	return filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			log.Debug("Error accessing path", "path", path, "error", err)
			return nil
		}

		relPath, err := filepath.Rel(w.root, path)
		if err != nil {
			relPath = path
		}

		if d.IsDir() {
			if path != w.root && w.shouldSkipDir(d.Name(), relPath) {
				w.stats.DirsSkipped++
				return filepath.SkipDir
			}
			return nil
		}

		if w.shouldSkipFile(d.Name(), relPath) {
			w.stats.FilesSkipped++
			return nil
		}

		info, err := d.Info()
		if err != nil {
			log.Debug("Failed to get file info", "path", path, "error", err)
			return nil
		}
		return w.visit(path, info, fn)
	})
}

// visit applies the per-file checks and hands the file to fn.
func (w *walker) visit(path string, info os.FileInfo, fn func(FileInfo) error) error {
	if !info.Mode().IsRegular() {
		w.stats.FilesSkipped++
		return nil
	}
	if w.maxFileSize > 0 && info.Size() > w.maxFileSize {
		log.Debug("File too large, skipping", "path", path, "size", info.Size())
		w.stats.FilesSkipped++
		return nil
	}
	if w.extSet != nil && !w.extSet[strings.ToLower(filepath.Ext(path))] {
		w.stats.FilesSkipped++
		return nil
	}
	if info.Size() == 0 {
		w.stats.FilesSkipped++
		return nil
	}
	if isBinary, err := isBinaryFile(path); err != nil || isBinary {
		w.stats.FilesSkipped++
		return nil
	}

	hash, err := hashFile(path)
	if err != nil {
		log.Debug("Failed to hash file", "path", path, "error", err)
		w.stats.FilesSkipped++
		return nil
	}

	w.stats.FilesFound++
	return fn(FileInfo{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Hash:    hash,
	})
}

// Stats returns the statistics of the last walk.
func (w *walker) Stats() WalkStats {
	return w.stats
}

func (w *walker) shouldSkipDir(name, relPath string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	return w.ignorer.MatchesPath(relPath + "/")
}

func (w *walker) shouldSkipFile(name, relPath string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	return w.ignorer.MatchesPath(relPath)
}

// hashFile computes the xxhash of a file's contents.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// HashContent computes the xxhash of content bytes.
func HashContent(content []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(content))
}

// isBinaryFile checks whether the first 8KB of a file look binary.
func isBinaryFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, 8192)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return false, err
	}
	return isBinaryContent(buf[:n]), nil
}

// isBinaryContent reports null bytes or more than 30% control characters.
func isBinaryContent(content []byte) bool {
	if len(content) == 0 {
		return false
	}

	nonPrintable := 0
	for _, b := range content {
		if b == 0 {
			return true
		}
		if b < 32 && b != '\t' && b != '\n' && b != '\r' {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(len(content)) > 0.3
}
