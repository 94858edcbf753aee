package cli

import "github.com/charmbracelet/lipgloss"

var (
	styleOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))  // green
	styleWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange
	styleError = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red
	styleMuted = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray
	styleBold  = lipgloss.NewStyle().Bold(true)
	styleHead  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")) // blue
)

// stopSymbolAndStyle returns a one-glyph indicator and its style for a
// terminal Stop reason or the running/unknown in-between states.
func stopSymbolAndStyle(stopReason string) (symbol string, style lipgloss.Style) {
	switch stopReason {
	case "Stop:Passed":
		return "✓", styleOK
	case "Stop:Budget":
		return "⊘", styleWarn
	case "Stop:Fatal":
		return "✗", styleError
	case "Stop:Cancelled":
		return "◯", styleMuted
	case "Continue":
		return "⟳", styleWarn
	default:
		return "·", styleMuted
	}
}
