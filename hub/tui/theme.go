// Package tui holds the palette and shared styles of the terminal views.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/abracadabra-mc/abracadabra/pkg/protocol"
)

// Palette.
var (
	ColorPrimary   = lipgloss.Color("#22C55E") // grass
	ColorSecondary = lipgloss.Color("#A16207") // dirt
	ColorAccent    = lipgloss.Color("#38BDF8") // diamond

	ColorSuccess = lipgloss.Color("#10B981")
	ColorWarning = lipgloss.Color("#F59E0B")
	ColorError   = lipgloss.Color("#EF4444")
	ColorMuted   = lipgloss.Color("#6B7280")
	ColorText    = lipgloss.Color("#E5E7EB")
	ColorSubtle  = lipgloss.Color("#9CA3AF")
)

var (
	// Title is the heading of a view.
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorPrimary)

	Subtitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorSecondary)

	Description = lipgloss.NewStyle().
			Foreground(ColorSubtle)

	// Selected highlights the row under the cursor.
	Selected = lipgloss.NewStyle().
			Foreground(ColorPrimary).
			Bold(true)

	Dimmed = lipgloss.NewStyle().
		Foreground(ColorMuted)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError)

	// Help renders key hints at the bottom of a view.
	Help = lipgloss.NewStyle().
		Foreground(ColorMuted)

	// Panel is the rounded frame around each section.
	Panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorMuted).
		Padding(0, 1)
)

// StatusDot returns a colored dot for the hub stream state.
func StatusDot(connected bool) string {
	if connected {
		return lipgloss.NewStyle().Foreground(ColorSuccess).Render("●")
	}
	return lipgloss.NewStyle().Foreground(ColorError).Render("●")
}

// StatusText returns a colored label for the hub stream state.
func StatusText(connected bool) string {
	if connected {
		return lipgloss.NewStyle().Foreground(ColorSuccess).Render("streaming")
	}
	return ErrorStyle.Render("disconnected")
}

// EventStyle colors a broadcast by its kind.
func EventStyle(name string) lipgloss.Style {
	switch name {
	case protocol.EventServerConnected:
		return lipgloss.NewStyle().Foreground(ColorSuccess)
	case protocol.EventServerDisconnected:
		return lipgloss.NewStyle().Foreground(ColorWarning)
	case protocol.EventPlayersUpdated:
		return lipgloss.NewStyle().Foreground(ColorAccent)
	case protocol.EventCommandResult:
		return lipgloss.NewStyle().Foreground(ColorText)
	case protocol.EventCommandError:
		return lipgloss.NewStyle().Foreground(ColorError)
	default:
		return lipgloss.NewStyle().Foreground(ColorMuted)
	}
}
