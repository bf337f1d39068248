package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nickcecere/pki/internal/ui"
)

var (
	addID       string
	addMetadata map[string]string
)

// addCmd stores a single piece of text.
var addCmd = &cobra.Command{
	Use:   "add [text]",
	Short: "Add a note to the index",
	Long: `Embed a piece of text and store it as a document.

The text is taken from the arguments, or from stdin when no arguments are
given or the only argument is "-". Without --id the document id is derived
from the content, so adding the same text twice updates one document.

Examples:
  pki add "dentist moved to the 14th at 9am"
  pki add --id wifi --meta tag=home "guest network password is on the fridge"
  pbpaste | pki add`,
	RunE: runAdd,
}

func init() {
	addCmd.Flags().StringVar(&addID, "id", "", "document id (derived from the text when omitted)")
	addCmd.Flags().StringToStringVarP(&addMetadata, "meta", "m", nil, "metadata key=value pairs")
}

func runAdd(cmd *cobra.Command, args []string) error {
	text, err := readText(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.ingester.AddText(ctx, addID, text, addMetadata)
	if err != nil {
		return fmt.Errorf("failed to add note: %w", err)
	}

	if limit := a.cfg.Retention.MaxItems; limit > 0 {
		if _, err := a.ingester.Cleanup(ctx, limit); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", ui.Success.Render("Added"), ui.DocID.Render(id))
	return nil
}

// readText joins args, or reads r when there are none or args is just "-".
func readText(r io.Reader, args []string) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("no text given")
	}
	return text, nil
}
