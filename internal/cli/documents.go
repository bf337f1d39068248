package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/nickcecere/pki/internal/ingest"
	"github.com/nickcecere/pki/internal/store"
	"github.com/nickcecere/pki/internal/ui"
)

var (
	listLimit int
	listJSON  bool

	getRender bool
	getJSON   bool

	deletePath bool
)

// listCmd shows the most recently updated documents.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recently updated documents",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

// getCmd prints one document.
var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a document",
	Long: `Print a stored document with its metadata.

With --render, markdown is formatted for the terminal and JSON documents are
pretty-printed with syntax highlighting.`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

// deleteCmd removes documents by id or by source file.
var deleteCmd = &cobra.Command{
	Use:   "delete <id|path>...",
	Short: "Delete documents",
	Long: `Delete documents by id.

With --path the arguments are files, and every document ingested from each
file is removed.

Examples:
  pki delete note::3f2a9c1d
  pki delete --path ~/notes/old-plans.md`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDelete,
}

func init() {
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "maximum number of documents")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output as JSON")

	getCmd.Flags().BoolVarP(&getRender, "render", "r", false, "render markdown and highlight JSON")
	getCmd.Flags().BoolVar(&getJSON, "json", false, "output as JSON")

	deleteCmd.Flags().BoolVar(&deletePath, "path", false, "treat arguments as ingested file paths")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	docs, err := a.store.ListDocuments(ctx, listLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if listJSON {
		return writeJSON(out, docs)
	}
	if len(docs) == 0 {
		fmt.Fprintln(out, "No documents found.")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Run 'pki ingest [path]' or 'pki add <text>' to create some.")
		return nil
	}

	for _, doc := range docs {
		fmt.Fprintf(out, "%s  %s  %s\n",
			ui.DocID.Render(doc.ID),
			ui.Dim.Render(ui.FormatTime(doc.UpdatedAt)),
			documentSource(doc),
		)
		fmt.Fprintln(out, ui.ResultContent.Render(ui.Preview(doc.Text, 100)))
	}
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.store.Get(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if getJSON {
		return writeJSON(out, doc)
	}

	fmt.Fprintln(out, ui.DocID.Render(doc.ID))
	fmt.Fprintln(out, ui.KeyValue("created", ui.FormatTime(doc.CreatedAt)))
	fmt.Fprintln(out, ui.KeyValue("updated", ui.FormatTime(doc.UpdatedAt)))
	keys := make([]string, 0, len(doc.Metadata))
	for k := range doc.Metadata {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintln(out, ui.KeyValue(k, doc.Metadata[k]))
	}
	fmt.Fprintln(out, ui.HorizontalRule(60))

	if getRender {
		fmt.Fprintln(out, ui.RenderDocument(doc.Text, 100))
	} else {
		fmt.Fprintln(out, doc.Text)
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	for _, arg := range args {
		if deletePath {
			abs, err := filepath.Abs(arg)
			if err != nil {
				return fmt.Errorf("failed to resolve path: %w", err)
			}
			n, err := a.store.DeleteByMetadata(ctx, ingest.MetaPath, abs)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %d documents from %s\n", ui.Success.Render("Deleted"), n, ui.FilePath.Render(abs))
			continue
		}

		if _, err := a.store.Get(ctx, arg); errors.Is(err, store.ErrNotFound) {
			fmt.Fprintf(out, "%s %s\n", ui.Warning.Render("Not found"), ui.DocID.Render(arg))
			continue
		}
		if err := a.store.Delete(ctx, arg); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s\n", ui.Success.Render("Deleted"), ui.DocID.Render(arg))
	}
	return nil
}

// documentSource describes where a document came from.
func documentSource(doc store.Document) string {
	if path := doc.Metadata[ingest.MetaPath]; path != "" {
		return ui.FilePath.Render(path)
	}
	if source := doc.Metadata[ingest.MetaSource]; source != "" {
		return ui.Dim.Render(source)
	}
	return ""
}
