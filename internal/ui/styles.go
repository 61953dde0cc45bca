package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/glamour/ansi"
	"github.com/charmbracelet/lipgloss"
)

const (
	SuccessIcon = "✓"
	FailIcon    = "✗"
	ToolIcon    = "⚙"
	ThoughtIcon = "…"
)

// Theme is the color palette for terminal output.
type Theme struct {
	Primary   lipgloss.Color // accents, tool names
	Secondary lipgloss.Color // headings, links
	Success   lipgloss.Color
	Error     lipgloss.Color
	Warning   lipgloss.Color
	Muted     lipgloss.Color // thoughts, activity lines
	Text      lipgloss.Color
}

// DefaultTheme returns the gruvbox palette.
func DefaultTheme() *Theme {
	return &Theme{
		Primary:   lipgloss.Color("#b8bb26"), // green
		Secondary: lipgloss.Color("#83a598"), // aqua
		Success:   lipgloss.Color("#b8bb26"),
		Error:     lipgloss.Color("#fb4934"), // red
		Warning:   lipgloss.Color("#fabd2f"), // yellow
		Muted:     lipgloss.Color("#928374"), // gray
		Text:      lipgloss.Color("#ebdbb2"), // foreground
	}
}

// Styles holds the lipgloss styles for one output stream.
type Styles struct {
	theme *Theme

	Thought  lipgloss.Style
	Activity lipgloss.Style
	Error    lipgloss.Style
	Warning  lipgloss.Style
	Success  lipgloss.Style
	Muted    lipgloss.Style
	Bold     lipgloss.Style
	Tool     lipgloss.Style
	Prompt   lipgloss.Style
}

// NewStyles creates styles bound to w, so color detection follows w rather
// than stdout.
func NewStyles(w io.Writer) *Styles {
	return NewStylesWithTheme(w, DefaultTheme())
}

func NewStylesWithTheme(w io.Writer, theme *Theme) *Styles {
	r := lipgloss.NewRenderer(w)
	return &Styles{
		theme:    theme,
		Thought:  r.NewStyle().Foreground(theme.Muted).Italic(true),
		Activity: r.NewStyle().Foreground(theme.Muted),
		Error:    r.NewStyle().Foreground(theme.Error),
		Warning:  r.NewStyle().Foreground(theme.Warning),
		Success:  r.NewStyle().Foreground(theme.Success),
		Muted:    r.NewStyle().Foreground(theme.Muted),
		Bold:     r.NewStyle().Bold(true),
		Tool:     r.NewStyle().Bold(true).Foreground(theme.Primary),
		Prompt:   r.NewStyle().Bold(true).Foreground(theme.Secondary),
	}
}

// DefaultStyles returns styles for stderr.
func DefaultStyles() *Styles {
	return NewStyles(os.Stderr)
}

func (s *Styles) Theme() *Theme {
	return s.theme
}

// FormatResult returns a styled success/fail line.
func (s *Styles) FormatResult(success bool, msg string) string {
	if success {
		return s.Success.Render(SuccessIcon+" ") + msg
	}
	return s.Error.Render(FailIcon+" ") + msg
}

// Truncate shortens s to maxLen bytes with an ellipsis.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// GlamourStyle builds a markdown style from theme.
func GlamourStyle(theme *Theme) ansi.StyleConfig {
	primary := string(theme.Primary)
	secondary := string(theme.Secondary)
	warning := string(theme.Warning)
	muted := string(theme.Muted)
	text := string(theme.Text)
	zero := uint(0)

	return ansi.StyleConfig{
		Document: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{Color: &text},
			Margin:         &zero,
		},
		BlockQuote: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{Color: &muted, Italic: boolPtr(true)},
			Indent:         uintPtr(1),
			IndentToken:    stringPtr("│ "),
		},
		Paragraph: ansi.StyleBlock{},
		List:      ansi.StyleList{LevelIndent: 2},
		Heading: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{
				BlockPrefix: "\n",
				Color:       &secondary,
				Bold:        boolPtr(true),
			},
		},
		H1: ansi.StyleBlock{StylePrimitive: ansi.StylePrimitive{Prefix: "# "}},
		H2: ansi.StyleBlock{StylePrimitive: ansi.StylePrimitive{Prefix: "## "}},
		H3: ansi.StyleBlock{StylePrimitive: ansi.StylePrimitive{Prefix: "### "}},
		Strikethrough: ansi.StylePrimitive{CrossedOut: boolPtr(true)},
		Emph:          ansi.StylePrimitive{Color: &warning, Italic: boolPtr(true)},
		Strong:        ansi.StylePrimitive{Color: &primary, Bold: boolPtr(true)},
		HorizontalRule: ansi.StylePrimitive{
			Color:  &muted,
			Format: "\n--------\n",
		},
		Item:        ansi.StylePrimitive{BlockPrefix: "• "},
		Enumeration: ansi.StylePrimitive{BlockPrefix: ". ", Color: &secondary},
		Link:        ansi.StylePrimitive{Color: &secondary, Underline: boolPtr(true)},
		LinkText:    ansi.StylePrimitive{Color: &primary},
		Code: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{Color: &primary},
		},
		CodeBlock: ansi.StyleCodeBlock{
			StyleBlock: ansi.StyleBlock{
				StylePrimitive: ansi.StylePrimitive{Color: &text},
				Margin:         &zero,
			},
		},
		Table: ansi.StyleTable{
			CenterSeparator: stringPtr("┼"),
			ColumnSeparator: stringPtr("│"),
			RowSeparator:    stringPtr("─"),
		},
	}
}

func boolPtr(b bool) *bool       { return &b }
func uintPtr(u uint) *uint       { return &u }
func stringPtr(s string) *string { return &s }
