package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/pki/internal/ann"
	"github.com/nickcecere/pki/internal/config"
	"github.com/nickcecere/pki/internal/embeddings"
	"github.com/nickcecere/pki/internal/ingest"
	"github.com/nickcecere/pki/internal/metrics"
	"github.com/nickcecere/pki/internal/store"
	"github.com/nickcecere/pki/internal/ui"
)

// app holds the services a command works with. embedder and ingester are
// nil for commands that only read or delete.
type app struct {
	cfg      *config.Config
	store    *store.SQLiteStore
	metrics  *metrics.Recorder
	embedder embeddings.Embedder
	ingester *ingest.Ingester
}

// openApp opens the store and, when withEmbedder is set, the embedding service.
func openApp(ctx context.Context, withEmbedder bool) (*app, error) {
	cfg := config.Get()
	rec := metrics.New()

	backend, err := ann.New(cfg.Search.Backend)
	if err != nil {
		return nil, fmt.Errorf("failed to select index backend: %w", err)
	}

	st, err := store.Open(ctx, cfg.Database.Path, store.Options{
		Dimension:       cfg.Database.Dimension,
		Backend:         backend,
		RebuildAttempts: cfg.Search.RebuildAttempts,
		Metrics:         rec,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	a := &app{cfg: cfg, store: st, metrics: rec}
	if !withEmbedder {
		return a, nil
	}

	a.embedder, err = embeddings.New(cfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create embedding service: %w", err)
	}

	opts := ingest.OptionsFromConfig(cfg)
	opts.Metrics = rec
	a.ingester = ingest.New(st, a.embedder, opts)
	return a, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		log.Warn("Failed to close store", "error", err)
	}
}

// serveMetrics exposes the recorder on addr and keeps the document gauge
// current until ctx is done. An empty addr does nothing.
func (a *app) serveMetrics(ctx context.Context, addr string, interval time.Duration) {
	if addr == "" {
		return
	}
	go func() {
		if err := a.metrics.Serve(ctx, addr); err != nil {
			log.Error("Metrics server failed", "addr", addr, "error", err)
		}
	}()
	go a.pollDocuments(ctx, interval)
	log.Info("Serving metrics", "addr", addr)
}

func (a *app) pollDocuments(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if n, err := a.store.Count(ctx); err == nil {
			a.metrics.SetDocuments(n)
		} else if ctx.Err() == nil {
			log.Debug("Failed to count documents", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// startSpinner draws a spinner on w until the returned stop func is called.
func startSpinner(w io.Writer, message string) (stop func()) {
	frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})

	go func() {
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()
		defer close(doneCh)

		i := 0
		for {
			select {
			case <-stopCh:
				// Clear spinner line
				fmt.Fprint(w, "\r\033[2K")
				return
			case <-ticker.C:
				fmt.Fprintf(w, "\r%s %s", ui.Highlight.Render(frames[i]), message)
				i = (i + 1) % len(frames)
			}
		}
	}()

	return func() {
		close(stopCh)
		<-doneCh
	}
}

// formatBytes formats bytes as human-readable string.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
