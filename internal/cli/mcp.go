package cli

import (
	"context"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/pki/internal/mcp"
)

var (
	mcpNoWatch     bool
	mcpMetricsAddr string
)

// mcpCmd represents the MCP server command.
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for AI agent integration",
	Long: `Start a Model Context Protocol (MCP) server so AI assistants can read and
write your notes.

The server communicates via stdin/stdout using JSON-RPC 2.0 and provides tools for:
  - pki_search: Search notes by meaning
  - pki_index_document: Add or update a note
  - pki_delete_document: Delete a note by id
  - pki_list_documents: List recently updated notes
  - pki_gc: Apply the retention limit
  - pki_ingest: Ingest a file or directory

By default, the server also watches the current directory and keeps the index
up to date. Use --no-watch to disable this.`,
	Args: cobra.NoArgs,
	RunE: runMcpCmd,
}

func init() {
	mcpCmd.Flags().BoolVar(&mcpNoWatch, "no-watch", false, "disable background file watching")
	mcpCmd.Flags().StringVar(&mcpMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (default metrics.addr)")
}

func runMcpCmd(cmd *cobra.Command, args []string) error {
	// stdout carries protocol messages
	log.SetOutput(os.Stderr)

	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := mcpMetricsAddr
	if addr == "" {
		addr = a.cfg.Metrics.Addr
	}
	a.serveMetrics(ctx, addr, 0)

	if !mcpNoWatch {
		go startBackgroundWatcher(ctx, a)
	}

	server := mcp.NewServer(a.store, a.embedder, a.ingester, a.cfg).
		WithIO(cmd.InOrStdin(), cmd.OutOrStdout())
	return server.Run(ctx)
}

// startBackgroundWatcher watches the current directory for the life of ctx.
func startBackgroundWatcher(ctx context.Context, a *app) {
	// Let the MCP handshake finish first
	select {
	case <-ctx.Done():
		return
	case <-time.After(2 * time.Second):
	}

	cwd, err := os.Getwd()
	if err != nil {
		log.Error("Failed to get working directory", "error", err)
		return
	}

	log.Info("Starting background file watcher", "path", cwd)
	if err := watchDirectory(ctx, a, cwd, time.Second, nil); err != nil && ctx.Err() == nil {
		log.Error("Watcher error", "error", err)
	}
}
