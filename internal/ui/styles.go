package ui

import "github.com/charmbracelet/lipgloss"

// Color palette - single cyan accent plus state colors.
const (
	ColorCyan     = "45"  // Primary accent
	ColorCyanDim  = "30"  // Dimmed accent for inactive elements
	ColorWhite    = "255" // Headers, important text
	ColorGray     = "245" // Secondary text, labels
	ColorDarkGray = "238" // Borders, separators
	ColorRed      = "196" // Errors, conflicts
	ColorYellow   = "220" // Warnings, unresolved
	ColorGreen    = "77"  // Identical, success
	ColorMagenta  = "176" // Metadata-only differences
)

// Styles holds the lipgloss styles for the review browser.
type Styles struct {
	Header   lipgloss.Style
	Dim      lipgloss.Style
	Label    lipgloss.Style
	Cursor   lipgloss.Style
	Border   lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Conflict lipgloss.Style
	Local    lipgloss.Style
	Remote   lipgloss.Style
	Meta     lipgloss.Style
	Action   lipgloss.Style
}

// DefaultStyles returns styled components for the review browser.
func DefaultStyles() Styles {
	return Styles{
		Header:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorCyan)),
		Dim:      lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Label:    lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Cursor:   lipgloss.NewStyle().Bold(true).Background(lipgloss.Color(ColorCyanDim)).Foreground(lipgloss.Color(ColorWhite)),
		Border:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Success:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGreen)),
		Warning:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:    lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Conflict: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorRed)),
		Local:    lipgloss.NewStyle().Foreground(lipgloss.Color(ColorCyan)),
		Remote:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Meta:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorMagenta)),
		Action:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorWhite)),
	}
}

// NoColorStyles returns unstyled components.
func NoColorStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Header:   plain,
		Dim:      plain,
		Label:    plain,
		Cursor:   lipgloss.NewStyle().Reverse(true),
		Border:   plain,
		Success:  plain,
		Warning:  plain,
		Error:    plain,
		Conflict: plain,
		Local:    plain,
		Remote:   plain,
		Meta:     plain,
		Action:   plain,
	}
}

// GetStyles returns the appropriate styles based on color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
