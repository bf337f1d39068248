// Package search answers natural-language queries against the document store.
package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/pki/internal/config"
	"github.com/nickcecere/pki/internal/embeddings"
	"github.com/nickcecere/pki/internal/ingest"
	"github.com/nickcecere/pki/internal/store"
)

// ErrEmptyQuery is returned for blank queries.
var ErrEmptyQuery = errors.New("query cannot be empty")

// Searcher embeds queries and ranks stored documents against them.
type Searcher struct {
	store    store.Store
	embedder embeddings.Embedder
}

// Result represents a search hit.
type Result struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Score    float64           `json:"score"` // cosine similarity, higher is better
	Metadata map[string]string `json:"metadata"`

	// Set for documents ingested from files.
	Path      string `json:"path,omitempty"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`

	// Context (optional, filled from the source file)
	ContextBefore string `json:"context_before,omitempty"`
	ContextAfter  string `json:"context_after,omitempty"`
}

// Options configures the search.
type Options struct {
	// TopK is the maximum number of results, clamped to [MinTopK, MaxTopK].
	TopK int

	// MinScore filters results below this similarity score.
	MinScore float64

	// ContextLines is the number of lines of file context to include.
	ContextLines int
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		TopK: config.DefaultTopK,
	}
}

// ClampTopK applies the default for non-positive values and the upper bound.
func ClampTopK(k int) int {
	switch {
	case k <= 0:
		return config.DefaultTopK
	case k < config.MinTopK:
		return config.MinTopK
	case k > config.MaxTopK:
		return config.MaxTopK
	}
	return k
}

// New creates a new Searcher.
func New(st store.Store, emb embeddings.Embedder) *Searcher {
	return &Searcher{
		store:    st,
		embedder: emb,
	}
}

// Search performs a semantic search with the given query.
func (s *Searcher) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	log.Debug("Generating query embedding", "query", truncate(query, 50))
	queryEmbedding, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	topK := ClampTopK(opts.TopK)
	log.Debug("Searching store", "topK", topK)
	docs, err := s.store.Query(ctx, queryEmbedding, topK)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := []Result{}
	for _, doc := range docs {
		if doc.Score < opts.MinScore {
			continue
		}

		result := FromDocument(doc)
		if opts.ContextLines > 0 && result.Path != "" && result.StartLine > 0 {
			result.ContextBefore, result.ContextAfter = getContext(result.Path, result.StartLine, result.EndLine, opts.ContextLines)
		}
		results = append(results, result)
	}

	log.Debug("Search complete", "results", len(results))
	return results, nil
}

// FromDocument converts a stored document into a Result.
func FromDocument(doc store.Document) Result {
	r := Result{
		ID:        doc.ID,
		Text:      doc.Text,
		Score:     doc.Score,
		Metadata:  doc.Metadata,
		Path:      doc.Metadata[ingest.MetaPath],
		UpdatedAt: doc.UpdatedAt,
	}
	if r.Path != "" {
		r.StartLine, _ = strconv.Atoi(doc.Metadata[ingest.MetaStartLine])
		r.EndLine, _ = strconv.Atoi(doc.Metadata[ingest.MetaEndLine])
	}
	return r
}

// getContext reads additional context lines around a chunk from its file.
func getContext(filePath string, startLine, endLine, contextLines int) (before, after string) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return "", ""
	}

	lines := strings.Split(string(content), "\n")

	beforeStart := max(startLine-contextLines-1, 0)
	beforeEnd := startLine - 1
	if beforeEnd > 0 && beforeEnd <= len(lines) {
		before = strings.Join(lines[beforeStart:beforeEnd], "\n")
	}

	afterStart := endLine
	if afterStart < len(lines) {
		afterEnd := min(afterStart+contextLines, len(lines))
		after = strings.Join(lines[afterStart:afterEnd], "\n")
	}

	return before, after
}

// truncate shortens a string for display.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
