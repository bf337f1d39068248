package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b c", Preview("a\n  b\tc", 10))
	assert.Equal(t, "abcdefg...", Preview("abcdefghijklmnop", 10))
	assert.Equal(t, "", Preview("   ", 10))
}

func TestFormatSource(t *testing.T) {
	assert.Contains(t, FormatSource("/notes/a.md", 0, 0), "/notes/a.md")
	assert.NotContains(t, FormatSource("/notes/a.md", 0, 0), ":0-0")
	assert.Contains(t, FormatSource("/notes/a.md", 3, 9), ":3-9")
}

func TestFormatScore(t *testing.T) {
	assert.Contains(t, FormatScore(0.875), "87.5% match")
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "-", FormatTime(time.Time{}))
	assert.NotEqual(t, "-", FormatTime(time.Now()))
}

func TestHorizontalRule(t *testing.T) {
	assert.Equal(t, 5, strings.Count(HorizontalRule(5), "─"))
	assert.NotPanics(t, func() { HorizontalRule(-1) })
}

func TestHighlightJSON(t *testing.T) {
	out, ok := HighlightJSON(`{"title":"groceries","items":["eggs"]}`)
	assert.True(t, ok)
	assert.Contains(t, out, "groceries")
	assert.Contains(t, out, "\n")

	out, ok = HighlightJSON("# Not JSON")
	assert.False(t, ok)
	assert.Equal(t, "# Not JSON", out)
}

func TestRenderDocument(t *testing.T) {
	assert.Contains(t, RenderDocument("# Heading\n\nbody text", 80), "body text")
	assert.Contains(t, RenderDocument(`{"a": 1}`, 80), `"a"`)
}
