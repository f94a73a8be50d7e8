package ui

import "github.com/charmbracelet/lipgloss"

// Palette: amber on grays.
const (
	ColorAccent   = "214"
	ColorGray     = "245"
	ColorDarkGray = "238"
	ColorRed      = "196"
	ColorYellow   = "220"
	ColorGreen    = "114"
)

// Styles holds the lipgloss styles shared by the renderers.
type Styles struct {
	Header  lipgloss.Style
	Active  lipgloss.Style
	Label   lipgloss.Style
	Speed   lipgloss.Style
	Dim     lipgloss.Style
	Border  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
}

func fg(color string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color))
}

// DefaultStyles returns the colored styles.
func DefaultStyles() Styles {
	return Styles{
		Header:  fg(ColorAccent).Bold(true),
		Active:  fg(ColorAccent).Bold(true),
		Label:   fg(ColorGray),
		Speed:   fg(ColorGray),
		Dim:     fg(ColorDarkGray),
		Border:  fg(ColorDarkGray),
		Success: fg(ColorGreen),
		Warning: fg(ColorYellow),
		Error:   fg(ColorRed),
	}
}

// NoColorStyles returns styles that render text unchanged.
func NoColorStyles() Styles {
	p := lipgloss.NewStyle()
	return Styles{Header: p, Active: p, Label: p, Speed: p, Dim: p, Border: p, Success: p, Warning: p, Error: p}
}

// GetStyles picks colored or plain styles.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
