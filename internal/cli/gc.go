package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nickcecere/pki/internal/ui"
)

var gcMaxItems int

// gcCmd applies the retention limit.
var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Evict the oldest documents beyond the retention limit",
	Long: `Delete the least recently updated documents until at most --max-items
remain. Without the flag, retention.max_items from the configuration is used
and a value of 0 disables eviction. An explicit --max-items 0 deletes all.`,
	Args: cobra.NoArgs,
	RunE: runGC,
}

func init() {
	gcCmd.Flags().IntVar(&gcMaxItems, "max-items", -1, "documents to keep (default retention.max_items)")
}

func runGC(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	limit := a.cfg.Retention.MaxItems
	if cmd.Flags().Changed("max-items") {
		// An explicit 0 empties the store.
		limit = max(gcMaxItems, 0)
	} else if limit <= 0 {
		fmt.Fprintln(out, ui.Dim.Render("Retention is disabled (retention.max_items is 0)"))
		return nil
	}

	n, err := a.store.GarbageCollect(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to garbage collect: %w", err)
	}
	fmt.Fprintf(out, "%s %d documents (keeping at most %d)\n", ui.Success.Render("Evicted"), n, limit)
	return nil
}
