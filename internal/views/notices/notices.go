// Package notices is the console's notice log. Consecutive identical notices
// fold into one line with a repeat count, and an advisory the user has not
// acted on stays pinned above the log.
package notices

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/deskpulse/deskpulse/internal/theme"
)

const maxEntries = 500

// Notice kinds.
const (
	KindConn     = "conn"
	KindEvent    = "evt"
	KindSession  = "sess"
	KindDesk     = "desk"
	KindAdvisory = "warn"
	KindReload   = "rld"
	KindError    = "err"
)

// Entry is one line of the log.
type Entry struct {
	Time    time.Time
	Kind    string
	Message string
	// Repeat counts identical notices folded into this one.
	Repeat int
}

// Model holds the notice log.
type Model struct {
	Entries []Entry
	// Offset is the number of entries hidden below the viewport.
	Offset int
	// Pending is the reason of a deferred reload; empty when none.
	Pending string

	now func() time.Time
}

// New creates an empty notice log.
func New() Model {
	return Model{now: time.Now}
}

// Add records a notice and jumps back to the newest entry.
func (m *Model) Add(kind, message string) {
	at := time.Now()
	if m.now != nil {
		at = m.now()
	}
	m.Offset = 0
	if n := len(m.Entries); n > 0 && m.Entries[n-1].Kind == kind && m.Entries[n-1].Message == message {
		m.Entries[n-1].Repeat++
		m.Entries[n-1].Time = at
		return
	}
	m.Entries = append(m.Entries, Entry{Time: at, Kind: kind, Message: message})
	if len(m.Entries) > maxEntries {
		m.Entries = m.Entries[len(m.Entries)-maxEntries:]
	}
}

// Clear drops every entry. Pending is left alone.
func (m *Model) Clear() {
	m.Entries = nil
	m.Offset = 0
}

// Count returns how many notices of kind were added, folded ones included.
func (m Model) Count(kind string) int {
	n := 0
	for _, e := range m.Entries {
		if e.Kind == kind {
			n += 1 + e.Repeat
		}
	}
	return n
}

// ScrollUp moves towards older entries, keeping at least one visible.
func (m *Model) ScrollUp(n int) {
	m.Offset += n
	if limit := len(m.Entries) - 1; m.Offset > limit {
		m.Offset = limit
	}
	if m.Offset < 0 {
		m.Offset = 0
	}
}

// ScrollDown moves towards the newest entry.
func (m *Model) ScrollDown(n int) {
	m.Offset -= n
	if m.Offset < 0 {
		m.Offset = 0
	}
}

// window returns the entry range shown in rows lines.
func (m Model) window(rows int) (start, end int) {
	end = len(m.Entries) - m.Offset
	if end < 0 {
		end = 0
	}
	start = end - rows
	if start < 0 {
		start = 0
	}
	return start, end
}

func (m Model) tally() string {
	return fmt.Sprintf("%d events  %d advisories  %d errors",
		m.Count(KindEvent), m.Count(KindAdvisory), m.Count(KindError))
}

// View renders the log in a bordered panel of the given size.
func (m Model) View(width, height int) string {
	innerW := width - 4
	if innerW < 20 {
		innerW = 20
	}

	parts := []string{theme.StyleHeader.Render(" NOTICES ") + "  " + theme.StyleDimmed.Render(m.tally())}
	if m.Pending != "" {
		line := clip("⚠ reload pending: "+m.Pending+"  (R reloads now)", innerW-2)
		parts = append(parts, lipgloss.NewStyle().Foreground(theme.ColorAdvisory).Bold(true).Render(line))
	}

	rows := height - 3 - len(parts)
	if rows < 3 {
		rows = 3
	}

	if len(m.Entries) == 0 {
		parts = append(parts, "", theme.StyleDimmed.Render("  No notices yet."))
		return panel(innerW).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
	}

	start, end := m.window(rows)
	lines := make([]string, 0, end-start)
	for _, e := range m.Entries[start:end] {
		lines = append(lines, renderEntry(e, innerW))
	}
	parts = append(parts, strings.Join(lines, "\n"))
	if m.Offset > 0 {
		parts = append(parts, theme.StyleDimmed.Render(fmt.Sprintf(" ↓ %d more", m.Offset)))
	}
	return panel(innerW).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func renderEntry(e Entry, width int) string {
	msg := e.Message
	if e.Repeat > 0 {
		msg = fmt.Sprintf("%s (x%d)", msg, e.Repeat+1)
	}
	ts := theme.StyleDimmed.Render(e.Time.Format("15:04:05.000"))
	kind := lipgloss.NewStyle().Foreground(theme.NoticeColor(e.Kind)).Width(4).Render(e.Kind)
	// timestamp, kind and separators take 19 columns
	return ts + " " + kind + " " + clip(msg, width-19)
}

func panel(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(theme.ColorBorder)
}

// clip shortens s to at most n runes, marking the cut with "...".
func clip(s string, n int) string {
	r := []rune(s)
	if n < 4 || len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
