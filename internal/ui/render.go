package ui

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/glamour"
)

// RenderMarkdown renders markdown for the terminal, returning the input on failure.
func RenderMarkdown(content string, width int) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}

	rendered, err := renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(rendered, "\n")
}

// HighlightJSON pretty-prints and colorizes JSON text. ok is false when
// text is not JSON.
func HighlightJSON(text string) (out string, ok bool) {
	trimmed := strings.TrimSpace(text)
	if !json.Valid([]byte(trimmed)) {
		return text, false
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, []byte(trimmed), "", "  "); err != nil {
		return text, false
	}

	lexer := lexers.Get("json")
	if lexer == nil {
		return pretty.String(), true
	}
	iterator, err := lexer.Tokenise(nil, pretty.String())
	if err != nil {
		return pretty.String(), true
	}

	var buf bytes.Buffer
	style := styles.Get("monokai")
	if err := formatters.TTY256.Format(&buf, style, iterator); err != nil {
		return pretty.String(), true
	}
	return buf.String(), true
}

// RenderDocument picks a renderer for stored text: JSON is highlighted,
// everything else is treated as markdown.
func RenderDocument(text string, width int) string {
	if out, ok := HighlightJSON(text); ok {
		return out
	}
	return RenderMarkdown(text, width)
}
