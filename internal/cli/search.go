package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/pki/internal/config"
	"github.com/nickcecere/pki/internal/llm"
	"github.com/nickcecere/pki/internal/search"
	"github.com/nickcecere/pki/internal/ui"
)

var (
	searchAnswer   bool
	searchContent  bool
	searchTopK     int
	searchMinScore float64
	searchContext  int
	searchJSON     bool
)

// searchCmd represents the search command
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search notes by meaning",
	Long: `Search the index with a natural language query.

The query is embedded and compared against every stored document by cosine
similarity, so results match what you mean rather than the exact words.

Examples:
  # Basic search
  pki search "ideas for the birthday party"

  # Show full matching text
  pki search "tax documents" -c

  # Generate an answer from the best matches
  pki search "when is the car due for service" -a

  # Filter weak matches and print JSON
  pki search "recipes with lentils" --min-score 0.4 --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearchCmd,
}

func init() {
	addSearchFlags(searchCmd)
}

// addSearchFlags registers the search flags on cmd. The root command shares
// them so a bare query works without the subcommand.
func addSearchFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&searchAnswer, "answer", "a", false, "generate an answer using the LLM")
	cmd.Flags().BoolVarP(&searchContent, "content", "c", false, "show full document text")
	cmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, fmt.Sprintf("maximum number of results (%d-%d, default search.top_k)", config.MinTopK, config.MaxTopK))
	cmd.Flags().Float64Var(&searchMinScore, "min-score", -1, "minimum similarity score (default search.min_score)")
	cmd.Flags().IntVar(&searchContext, "context", 0, "lines of surrounding file context to show")
	cmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
}

func runSearchCmd(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := search.Options{
		TopK:         search.ClampTopK(searchTopK),
		MinScore:     a.cfg.Search.MinScore,
		ContextLines: searchContext,
	}
	if searchTopK == 0 {
		opts.TopK = search.ClampTopK(a.cfg.Search.TopK)
	}
	if searchMinScore >= 0 {
		opts.MinScore = searchMinScore
	}

	log.Debug("Starting search", "query", query, "top_k", opts.TopK, "min_score", opts.MinScore)

	results, err := search.New(a.store, a.embedder).Search(ctx, query, opts)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("search failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if searchAnswer {
		return runQA(ctx, cmd, a.cfg, query, results)
	}
	if searchJSON {
		return writeJSON(out, results)
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}
	displayResults(out, results, searchContent)
	return nil
}

// displayResults formats and displays search results.
func displayResults(w io.Writer, results []search.Result, showContent bool) {
	fmt.Fprintf(w, "Found %d results:\n\n", len(results))

	for i, r := range results {
		fmt.Fprintf(w, "%s %s %s\n",
			ui.Highlight.Render(fmt.Sprintf("[%d]", i+1)),
			resultLabel(r),
			ui.FormatScore(r.Score),
		)

		if r.ContextBefore != "" {
			fmt.Fprintln(w, ui.Dim.Render(indent(r.ContextBefore)))
		}
		if showContent {
			fmt.Fprintln(w, indent(r.Text))
		} else {
			fmt.Fprintln(w, ui.ResultContent.Render(ui.Preview(r.Text, 160)))
		}
		if r.ContextAfter != "" {
			fmt.Fprintln(w, ui.Dim.Render(indent(r.ContextAfter)))
		}
		fmt.Fprintln(w)
	}
}

// resultLabel shows the source file and line range when known, else the id.
func resultLabel(r search.Result) string {
	if r.Path != "" {
		return ui.FormatSource(r.Path, r.StartLine, r.EndLine)
	}
	return ui.DocID.Render(r.ID)
}

func indent(text string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		lines[i] = "    " + line
	}
	return strings.Join(lines, "\n")
}

func runQA(ctx context.Context, cmd *cobra.Command, cfg *config.Config, query string, results []search.Result) error {
	service, err := llm.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create LLM service: %w", err)
	}
	qa := llm.NewQAService(service)

	stop := func() {}
	if !searchJSON {
		stop = startSpinner(cmd.ErrOrStderr(), "Generating answer")
	}
	answer, err := qa.Answer(ctx, query, results, llm.DefaultQAOptions())
	stop()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("answer generation failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if searchJSON {
		return writeJSON(out, answer)
	}

	fmt.Fprintln(out, ui.Header.Render("Answer"))
	fmt.Fprintln(out)
	fmt.Fprintln(out, ui.RenderMarkdown(answer.Answer, 100))

	if len(answer.Sources) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, ui.Dim.Render("Sources:"))
		for i, s := range answer.Sources {
			fmt.Fprintf(out, "  %s %s %s\n",
				ui.Highlight.Render(fmt.Sprintf("[%d]", i+1)),
				resultLabel(s),
				ui.FormatScore(s.Score),
			)
		}
	}
	return nil
}
