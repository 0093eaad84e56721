package output

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Palette shared by every style.
var (
	colorAccent  = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}
	colorPass    = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	colorWarn    = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	colorFail    = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}
	colorNumeric = lipgloss.AdaptiveColor{Light: "#a37acc", Dark: "#d2a6ff"}
)

// Styles holds the lipgloss styles of a renderer.
type Styles struct {
	Header1 lipgloss.Style
	Header2 lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Info    lipgloss.Style

	StatusSuccess lipgloss.Style
	StatusFailed  lipgloss.Style

	// FieldKey renders field names, Number renders decimal values.
	FieldKey lipgloss.Style
	Number   lipgloss.Style
}

// newStyles builds styles bound to lr. With colors disabled every style renders
// plain text, so callers never need to branch on color support.
func newStyles(lr *lipgloss.Renderer, colors bool) Styles {
	if colors {
		lr.SetColorProfile(termenv.ANSI256)
	} else {
		lr.SetColorProfile(termenv.Ascii)
	}

	return Styles{
		Header1:       lr.NewStyle().Bold(true).Foreground(colorAccent),
		Header2:       lr.NewStyle().Bold(true),
		Bold:          lr.NewStyle().Bold(true),
		Muted:         lr.NewStyle().Foreground(colorMuted),
		Success:       lr.NewStyle().Foreground(colorPass),
		Warning:       lr.NewStyle().Foreground(colorWarn),
		Error:         lr.NewStyle().Foreground(colorFail),
		Info:          lr.NewStyle().Foreground(colorAccent),
		StatusSuccess: lr.NewStyle().Bold(true).Foreground(colorPass),
		StatusFailed:  lr.NewStyle().Bold(true).Foreground(colorFail),
		FieldKey:      lr.NewStyle().Foreground(colorAccent),
		Number:        lr.NewStyle().Foreground(colorNumeric),
	}
}
