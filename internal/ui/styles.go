package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	ColorPrimary   = lipgloss.Color("39")  // Cyan
	ColorSecondary = lipgloss.Color("212") // Pink
	ColorSuccess   = lipgloss.Color("82")  // Green
	ColorWarning   = lipgloss.Color("214") // Orange
	ColorError     = lipgloss.Color("196") // Red
	ColorMuted     = lipgloss.Color("245") // Gray
	ColorHighlight = lipgloss.Color("226") // Yellow
)

// Styles for various UI elements
var (
	Bold   = lipgloss.NewStyle().Bold(true)
	Dim    = lipgloss.NewStyle().Foreground(ColorMuted)
	Header = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)

	Success = lipgloss.NewStyle().Foreground(ColorSuccess)
	Warning = lipgloss.NewStyle().Foreground(ColorWarning)
	Error   = lipgloss.NewStyle().Foreground(ColorError)

	DocID    = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)
	FilePath = lipgloss.NewStyle().Foreground(ColorPrimary)
	LineNum  = lipgloss.NewStyle().Foreground(ColorMuted)

	ResultScore   = lipgloss.NewStyle().Foreground(ColorSuccess)
	ResultContent = lipgloss.NewStyle().Foreground(ColorMuted).PaddingLeft(2)

	SectionTitle = lipgloss.NewStyle().
			Foreground(ColorSecondary).
			Bold(true).
			MarginTop(1)
	Divider = lipgloss.NewStyle().
		Foreground(ColorMuted)

	Highlight = lipgloss.NewStyle().
			Foreground(ColorHighlight).
			Bold(true)

	// KeyLabel pads labels in key/value listings such as status output.
	KeyLabel = lipgloss.NewStyle().Foreground(ColorMuted).Width(18)
)

// HorizontalRule returns a styled horizontal divider.
func HorizontalRule(width int) string {
	return Divider.Render(strings.Repeat("─", max(width, 0)))
}

// FormatSource formats a file path with an optional line range.
func FormatSource(path string, startLine, endLine int) string {
	if startLine <= 0 {
		return FilePath.Render(path)
	}
	return FilePath.Render(path) + LineNum.Render(fmt.Sprintf(":%d-%d", startLine, endLine))
}

// FormatScore formats a similarity score as a percentage.
func FormatScore(score float64) string {
	return ResultScore.Render(fmt.Sprintf("(%.1f%% match)", score*100))
}

// FormatTime renders a timestamp in local time, or "-" when unset.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// KeyValue renders one aligned status line.
func KeyValue(key string, value any) string {
	return KeyLabel.Render(key) + fmt.Sprint(value)
}

// Preview flattens text to a single line of at most n runes.
func Preview(text string, n int) string {
	flat := strings.Join(strings.Fields(text), " ")
	runes := []rune(flat)
	if len(runes) <= n {
		return flat
	}
	return string(runes[:max(n-3, 0)]) + "..."
}
