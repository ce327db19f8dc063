package status

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/deskpulse/deskpulse/internal/theme"
)

// Model holds the status bar state.
type Model struct {
	State       string // connection state name; "" when disabled
	URL         string
	User        string
	Role        string
	Desk        string
	DeskCount   int
	DesksLoaded bool
	Screen      string
	Editing     bool
	Reloads     int
	Advisories  int
	Width       int
}

// New creates a status bar model.
func New() Model {
	return Model{}
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	var connStr string
	switch {
	case m.URL == "":
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDisabled).Render("· notifications off")
	default:
		connStr = lipgloss.NewStyle().Foreground(theme.StateColor(m.State)).
			Render(theme.StateGlyph(m.State) + " " + m.State)
	}

	user := theme.StyleDimmed.Render("signed out")
	if m.User != "" {
		user = fmt.Sprintf("%s (%s)", m.User, m.Role)
	}

	desk := "no desk"
	switch {
	case !m.DesksLoaded && m.User != "":
		desk = "desks loading"
	case m.Desk != "":
		desk = fmt.Sprintf("desk %s of %d", m.Desk, m.DeskCount)
	case m.DeskCount > 0:
		desk = fmt.Sprintf("%d desks", m.DeskCount)
	}

	view := "view " + m.Screen
	if m.Editing {
		view += " " + lipgloss.NewStyle().Foreground(theme.ColorWarning).Render("[editing]")
	}

	counts := fmt.Sprintf("%d reloads  %d advisories", m.Reloads, m.Advisories)

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := connStr + sep + user + sep + desk + sep + view + sep + counts

	bar := lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)

	return bar
}
