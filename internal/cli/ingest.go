package cli

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/pki/internal/ingest"
	"github.com/nickcecere/pki/internal/ui"
)

var (
	ingestForce bool
	ingestQuiet bool
)

// ingestCmd loads files and directories into the index.
var ingestCmd = &cobra.Command{
	Use:   "ingest [path...]",
	Short: "Ingest files and directories",
	Long: `Walk the given paths and store every matching text file.

Only files with a configured extension (ingest.extensions) are read. Hidden
files, binary files, oversized files and anything matched by the ignore
patterns or a .gitignore are skipped. Files whose content has not changed
since they were last ingested are left alone unless --force is given.

Examples:
  # Ingest the current directory
  pki ingest

  # Ingest several folders, re-embedding everything
  pki ingest ~/notes ~/journal --force`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVarP(&ingestForce, "force", "f", false, "re-ingest files even when unchanged")
	ingestCmd.Flags().BoolVarP(&ingestQuiet, "quiet", "q", false, "only print errors")
}

func runIngest(cmd *cobra.Command, args []string) error {
	paths := args
	if len(paths) == 0 {
		paths = []string{"."}
	}
	if ingestQuiet {
		ui.SetQuiet()
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := ingest.OptionsFromConfig(a.cfg)
	opts.Metrics = a.metrics
	opts.Force = ingestForce
	in := ingest.New(a.store, a.embedder, opts)

	out := cmd.OutOrStdout()
	if !ingestQuiet {
		fmt.Fprintln(out, ui.Header.Render("Ingesting"))
		fmt.Fprintf(out, "Provider: %s (%s)\n\n", a.embedder.Provider(), a.embedder.ModelName())
	}

	stop := func() {}
	if !ingestQuiet {
		stop = startSpinner(cmd.ErrOrStderr(), "Embedding files")
	}
	result, err := in.Ingest(ctx, paths)
	stop()
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(out, ui.Warning.Render("Interrupted"))
			return nil
		}
		return fmt.Errorf("ingest failed: %w", err)
	}

	evicted := 0
	if limit := a.cfg.Retention.MaxItems; limit > 0 {
		evicted, err = in.Cleanup(ctx, limit)
		if err != nil {
			return err
		}
	}

	if ingestQuiet {
		if result.Errors > 0 {
			return fmt.Errorf("%d files failed to ingest", result.Errors)
		}
		return nil
	}

	fmt.Fprintf(out, "%s Ingested %d files (%d documents) in %s\n",
		ui.Success.Render("✓"),
		result.Files,
		result.Documents,
		result.Duration.Round(time.Millisecond),
	)
	if result.Unchanged > 0 {
		fmt.Fprintf(out, "  %s\n", ui.Dim.Render(fmt.Sprintf("%d unchanged", result.Unchanged)))
	}
	if result.Skipped > 0 {
		fmt.Fprintf(out, "  %s\n", ui.Dim.Render(fmt.Sprintf("%d skipped", result.Skipped)))
	}
	if evicted > 0 {
		fmt.Fprintf(out, "  %s\n", ui.Dim.Render(fmt.Sprintf("%d old documents evicted", evicted)))
	}
	if result.Errors > 0 {
		log.Warn("Some files failed", "count", result.Errors)
		fmt.Fprintf(out, "  %s\n", ui.Warning.Render(fmt.Sprintf("%d errors (run with --debug for details)", result.Errors)))
	}
	return nil
}
