package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Semantic color palette using AdaptiveColor for light/dark terminal support
var (
	colorOK      = lipgloss.AdaptiveColor{Light: "28", Dark: "42"}   // green
	colorWarn    = lipgloss.AdaptiveColor{Light: "136", Dark: "214"} // yellow
	colorFailed  = lipgloss.AdaptiveColor{Light: "160", Dark: "196"} // red
	colorAccent  = lipgloss.AdaptiveColor{Light: "25", Dark: "75"}   // blue
	colorMuted   = lipgloss.AdaptiveColor{Light: "245", Dark: "244"} // light gray
	colorBarBg   = lipgloss.AdaptiveColor{Light: "254", Dark: "236"}
	colorBarFill = lipgloss.AdaptiveColor{Light: "25", Dark: "75"}
)

var (
	// TitleStyle renders the window title
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "255", Dark: "255"}).
			Background(colorAccent).
			Padding(0, 1)

	// MutedStyle renders secondary text
	MutedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	// ErrorStyle renders abort messages
	ErrorStyle = lipgloss.NewStyle().
			Foreground(colorFailed).
			Bold(true)

	// SuccessStyle renders the ready-to-install message
	SuccessStyle = lipgloss.NewStyle().
			Foreground(colorOK)

	// HelpStyle renders keybinding hints
	HelpStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	busyStyle     = lipgloss.NewStyle().Foreground(colorWarn)
	barFillStyle  = lipgloss.NewStyle().Foreground(colorBarFill)
	barEmptyStyle = lipgloss.NewStyle().Foreground(colorBarBg)
)

// RenderTitle wraps text with TitleStyle
func RenderTitle(text string) string {
	return TitleStyle.Render(text)
}

// RenderHelp wraps help text with HelpStyle
func RenderHelp(text string) string {
	return HelpStyle.Render(text)
}

func renderBar(pct float64, width int) string {
	if width < 10 {
		width = 10
	}
	filled := int(pct / 100 * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += barFillStyle.Render("█")
		} else {
			bar += barEmptyStyle.Render("░")
		}
	}
	return bar
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
