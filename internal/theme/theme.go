// Package theme provides the Lip Gloss color palette and reusable styles
// for the deskpulse console. It is a leaf package with no internal imports
// to avoid import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Connection state colors.
var (
	ColorOpen       = lipgloss.Color("#22c55e")
	ColorConnecting = lipgloss.Color("#d97706")
	ColorClosing    = lipgloss.Color("#854d0e")
	ColorClosed     = lipgloss.Color("#dc2626")
	ColorDisabled   = lipgloss.Color("#4b5563")
)

// Notice kind colors.
var (
	ColorConn     = lipgloss.Color("#2563eb")
	ColorEvent    = lipgloss.Color("#06b6d4")
	ColorSession  = lipgloss.Color("#a855f7")
	ColorDesk     = lipgloss.Color("#10b981")
	ColorAdvisory = lipgloss.Color("#f59e0b")
	ColorReload   = lipgloss.Color("#7c3aed")
	ColorError    = lipgloss.Color("#dc2626")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorDefault = lipgloss.Color("#9ca3af")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

// StateColor returns the color for a connection state name.
func StateColor(state string) lipgloss.Color {
	switch state {
	case "open":
		return ColorOpen
	case "connecting":
		return ColorConnecting
	case "closing":
		return ColorClosing
	case "closed":
		return ColorClosed
	default:
		return ColorDisabled
	}
}

// StateGlyph returns a glyph for a connection state name.
func StateGlyph(state string) string {
	switch state {
	case "open":
		return "●"
	case "connecting":
		return "◎"
	case "closing":
		return "◌"
	case "closed":
		return "○"
	default:
		return "·"
	}
}

// NoticeColor returns the color for a notice kind.
func NoticeColor(kind string) lipgloss.Color {
	switch kind {
	case "conn":
		return ColorConn
	case "evt":
		return ColorEvent
	case "sess":
		return ColorSession
	case "desk":
		return ColorDesk
	case "warn":
		return ColorAdvisory
	case "rld":
		return ColorReload
	case "err":
		return ColorError
	default:
		return ColorDefault
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
		Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorBright)

	StyleBanner = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorBright).
		Background(ColorDanger).
		Padding(0, 1)
)
