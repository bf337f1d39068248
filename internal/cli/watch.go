package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/pki/internal/ingest"
	"github.com/nickcecere/pki/internal/ui"
	"github.com/nickcecere/pki/internal/watcher"
)

var (
	watchNoInitial   bool
	watchMetricsAddr string
)

// watchCmd represents the watch command.
var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Watch a notes directory and keep the index in sync",
	Long: `Watch a directory for file changes and keep the index up to date.

The directory is ingested first (unless --no-initial is given). After that,
created and modified files are re-ingested, deleted files have their
documents removed, and the retention limit is applied after each batch of
changes.

Examples:
  # Watch the current directory
  pki watch

  # Watch a notes folder and expose Prometheus metrics
  pki watch ~/notes --metrics-addr 127.0.0.1:9464`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatchCmd,
}

func init() {
	watchCmd.Flags().BoolVar(&watchNoInitial, "no-initial", false, "skip the initial ingest")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (default metrics.addr)")
}

func runWatchCmd(cmd *cobra.Command, args []string) error {
	path := "."
	if len(args) > 0 {
		path = args[0]
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", absPath)
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := watchMetricsAddr
	if addr == "" {
		addr = a.cfg.Metrics.Addr
	}
	a.serveMetrics(ctx, addr, 0)

	out := cmd.OutOrStdout()
	if !watchNoInitial {
		fmt.Fprintln(out, ui.Header.Render("Initial Ingest"))
		fmt.Fprintf(out, "Path: %s\n", absPath)
		fmt.Fprintf(out, "Provider: %s (%s)\n\n", a.embedder.Provider(), a.embedder.ModelName())

		stop := startSpinner(cmd.ErrOrStderr(), "Ingesting files")
		result, err := a.ingester.Ingest(ctx, []string{absPath})
		stop()
		if err != nil {
			if ctx.Err() != nil {
				return nil // User cancelled
			}
			return fmt.Errorf("initial ingest failed: %w", err)
		}
		fmt.Fprintf(out, "Initial ingest complete: %d files, %d documents, %d unchanged\n\n",
			result.Files, result.Documents, result.Unchanged)
	}

	fmt.Fprintln(out, ui.Header.Render("Watching for Changes"))
	fmt.Fprintf(out, "Directory: %s\n", absPath)
	fmt.Fprintln(out, "Press Ctrl+C to stop.")
	fmt.Fprintln(out)

	err = watchDirectory(ctx, a, absPath, 500*time.Millisecond, func(event, path string) {
		fmt.Fprintf(out, "%s %s\n", ui.Dim.Render(time.Now().Format("15:04:05")), eventLabel(event, path))
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// watchDirectory blocks until ctx is done, keeping the index in sync with root.
func watchDirectory(ctx context.Context, a *app, root string, debounce time.Duration, onEvent func(event, path string)) error {
	ignorer, err := ingest.NewIgnorer(root, a.cfg.Ignore)
	if err != nil {
		return err
	}
	w, err := watcher.New(
		root,
		a.ingester,
		watcher.WithDebounceTime(debounce),
		watcher.WithExtensions(a.cfg.Ingest.Extensions),
		watcher.WithFilter(ignorer),
		watcher.WithRetention(a.cfg.Retention.MaxItems),
		watcher.WithEventCallback(func(event, path string) {
			log.Debug("File event", "event", event, "path", path)
			if onEvent != nil {
				onEvent(event, path)
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	return w.Start(ctx)
}

func eventLabel(event, path string) string {
	switch event {
	case watcher.EventIndex:
		return ui.Success.Render("indexed ") + ui.FilePath.Render(path)
	case watcher.EventDelete:
		return ui.Warning.Render("removed ") + ui.FilePath.Render(path)
	case watcher.EventEvict:
		return ui.Dim.Render("evicted old documents")
	default:
		return event + " " + path
	}
}
