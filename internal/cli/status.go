package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nickcecere/pki/internal/store"
	"github.com/nickcecere/pki/internal/ui"
)

var statusJSON bool

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index status and statistics",
	Long: `Display information about the index including:
- Number of stored documents
- Embedding dimension
- Accelerated index backend and whether it is built
- Oldest and newest update times`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		return writeJSON(out, stats)
	}

	fmt.Fprintln(out, ui.Header.Render("Index Status"))
	fmt.Fprintln(out)
	fmt.Fprintln(out, ui.KeyValue("Database:", stats.Path))
	if info, err := os.Stat(stats.Path); err == nil {
		fmt.Fprintln(out, ui.KeyValue("Size:", formatBytes(info.Size())))
	}
	fmt.Fprintln(out, ui.KeyValue("Documents:", stats.Documents))
	fmt.Fprintln(out, ui.KeyValue("Dimension:", dimensionLabel(stats.Dimension)))
	fmt.Fprintln(out, ui.KeyValue("Backend:", stats.Backend))
	fmt.Fprintln(out, ui.KeyValue("Oldest:", ui.FormatTime(stats.Oldest)))
	fmt.Fprintln(out, ui.KeyValue("Newest:", ui.FormatTime(stats.Newest)))
	fmt.Fprintln(out, ui.KeyValue("Health:", healthStatus(stats, a.cfg.Retention.MaxItems)))

	fmt.Fprintln(out)
	fmt.Fprintln(out, ui.Dim.Render("Configuration:"))
	fmt.Fprintf(out, "  Embedding Provider: %s\n", a.cfg.Embeddings.Provider)
	if a.cfg.Retention.MaxItems > 0 {
		fmt.Fprintf(out, "  Retention: %d documents\n", a.cfg.Retention.MaxItems)
	} else {
		fmt.Fprintln(out, "  Retention: disabled")
	}
	return nil
}

func dimensionLabel(dim int) string {
	if dim == 0 {
		return "unset (taken from the first write)"
	}
	return fmt.Sprint(dim)
}

// healthStatus returns a health indicator based on stats.
func healthStatus(stats *store.Stats, maxItems int) string {
	if stats.Documents == 0 {
		return ui.Warning.Render("empty (no documents stored)")
	}
	if maxItems > 0 && stats.Documents > maxItems {
		return ui.Warning.Render(fmt.Sprintf("over retention limit by %d (run 'pki gc')", stats.Documents-maxItems))
	}
	return ui.Success.Render("healthy")
}
