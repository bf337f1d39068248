package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nickcecere/pki/internal/ui"
)

var (
	metricsAddr     string
	metricsInterval time.Duration
)

// serveMetricsCmd exposes store metrics without watching anything.
var serveMetricsCmd = &cobra.Command{
	Use:   "serve-metrics",
	Short: "Serve Prometheus metrics for the index",
	Long: `Serve /metrics in the Prometheus text format until interrupted.

The document count is refreshed every --interval. The watch and mcp commands
can serve the same metrics alongside their own work with --metrics-addr.`,
	Args: cobra.NoArgs,
	RunE: runServeMetrics,
}

func init() {
	serveMetricsCmd.Flags().StringVar(&metricsAddr, "addr", "", "listen address (default metrics.addr or 127.0.0.1:9464)")
	serveMetricsCmd.Flags().DurationVar(&metricsInterval, "interval", 15*time.Second, "how often to refresh the document count")
}

func runServeMetrics(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := metricsAddr
	if addr == "" {
		addr = a.cfg.Metrics.Addr
	}
	if addr == "" {
		addr = "127.0.0.1:9464"
	}

	go a.pollDocuments(ctx, metricsInterval)

	fmt.Fprintf(cmd.OutOrStdout(), "%s http://%s/metrics\n", ui.Header.Render("Serving metrics on"), addr)
	if err := a.metrics.Serve(ctx, addr); err != nil {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}
