package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/deskpulse/deskpulse/internal/bus"
	"github.com/deskpulse/deskpulse/internal/conn"
	"github.com/deskpulse/deskpulse/internal/desks"
	"github.com/deskpulse/deskpulse/internal/dispatch"
	"github.com/deskpulse/deskpulse/internal/notify"
	"github.com/deskpulse/deskpulse/internal/session"
	"github.com/deskpulse/deskpulse/internal/surface"
	"github.com/deskpulse/deskpulse/internal/theme"
	"github.com/deskpulse/deskpulse/internal/views/notices"
	"github.com/deskpulse/deskpulse/internal/views/status"
)

// ConnState is the read side of conn.Manager.
type ConnState interface {
	State() conn.State
	URL() string
}

// DeskState is the part of desks.Registry the console drives.
type DeskState interface {
	Desks() []desks.Desk
	Active() string
	SetActive(id string) error
	Loaded() bool
	RefreshAsync(ctx context.Context)
}

// Deps are the client components the console drives and displays.
type Deps struct {
	Context context.Context
	Session *session.Context
	Desks   DeskState
	Surface *surface.Surface
	Conn    ConnState

	// Reloader carries out a deferred reload; normally the dispatcher.
	Reloader dispatch.Reinitializer

	// UserID and RoleID are used by the login key.
	UserID string
	RoleID string
}

// actionMsg reports the outcome of a command run off the update loop.
type actionMsg struct {
	action string
	err    error
}

// Model is the root Bubble Tea model.
type Model struct {
	deps Deps

	keys   KeyMap
	width  int
	height int

	statusBar status.Model
	notices   notices.Model

	reloads    int
	advisories int
	// pending is the reason of the last advisory not yet acted on.
	pending string
}

// New creates the root model.
func New(deps Deps) Model {
	if deps.Context == nil {
		deps.Context = context.Background()
	}
	m := Model{
		deps:      deps,
		keys:      DefaultKeyMap(),
		statusBar: status.New(),
		notices:   notices.New(),
	}
	m.syncStatus()
	return m
}

// Init has nothing to start; bus events arrive through the Bridge.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case EventMsg:
		m.handleEvent(msg.Event)
		m.syncStatus()
		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.notices.Add(notices.KindError, fmt.Sprintf("%s failed: %v", msg.action, msg.err))
		}
		m.syncStatus()
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Login):
		// Login publishes on the bus; run it off the update loop.
		s, user, role := m.deps.Session, m.deps.UserID, m.deps.RoleID
		return m, func() tea.Msg {
			return actionMsg{action: "login", err: s.Login(user, role)}
		}

	case key.Matches(msg, m.keys.Logout):
		s := m.deps.Session
		return m, func() tea.Msg {
			s.Logout()
			return actionMsg{action: "logout"}
		}

	case key.Matches(msg, m.keys.NextDesk):
		m.nextDesk()

	case key.Matches(msg, m.keys.NextView):
		m.deps.Surface.NextView()

	case key.Matches(msg, m.keys.Edit):
		editing := !m.deps.Surface.Editing()
		m.deps.Surface.SetEditing(editing)
		if !editing && m.pending != "" {
			m.notices.Add(notices.KindAdvisory, "editing finished, reload still pending: "+m.pending)
		}

	case key.Matches(msg, m.keys.Refresh):
		if !m.deps.Session.Authenticated() {
			m.notices.Add(notices.KindError, "refresh desks: not signed in")
			break
		}
		m.deps.Desks.RefreshAsync(m.deps.Context)

	case key.Matches(msg, m.keys.Reload):
		if m.pending == "" {
			break
		}
		if m.deps.Reloader == nil {
			m.notices.Add(notices.KindError, "reload now: no reloader configured")
			break
		}
		// Reinitialize publishes on the bus; run it off the update loop.
		r, reason := m.deps.Reloader, m.pending
		return m, func() tea.Msg {
			r.Reinitialize(reason)
			return actionMsg{action: "reload"}
		}

	case key.Matches(msg, m.keys.Up):
		m.notices.ScrollUp(1)

	case key.Matches(msg, m.keys.Down):
		m.notices.ScrollDown(1)
	}

	m.syncStatus()
	return m, nil
}

func (m *Model) nextDesk() {
	list := m.deps.Desks.Desks()
	if len(list) == 0 {
		return
	}
	active := m.deps.Desks.Active()
	next := list[0].ID
	for i, d := range list {
		if d.ID == active {
			next = list[(i+1)%len(list)].ID
			break
		}
	}
	if err := m.deps.Desks.SetActive(next); err != nil {
		m.notices.Add(notices.KindError, err.Error())
	}
}

func (m *Model) handleEvent(ev bus.Event) {
	switch ev.Name {
	case bus.Connected:
		m.notices.Add(notices.KindConn, "connected to "+m.deps.Conn.URL())

	case bus.Disconnected:
		text := "disconnected"
		if m.deps.Session.Authenticated() {
			text += ", reconnecting"
		}
		m.notices.Add(notices.KindConn, text)

	case bus.ConnectionError:
		m.notices.Add(notices.KindError, fmt.Sprintf("connection error: %v", ev.Payload))

	case bus.Login:
		id := m.deps.Session.Identity()
		m.notices.Add(notices.KindSession, fmt.Sprintf("signed in as %s (role %s)", id.UserID, id.RoleID))

	case bus.Logout:
		m.pending = ""
		m.notices.Add(notices.KindSession, "signed out")

	case bus.DesksLoaded:
		list := m.deps.Desks.Desks()
		if m.deps.Desks.Active() == "" && len(list) > 0 {
			if err := m.deps.Desks.SetActive(list[0].ID); err != nil {
				m.notices.Add(notices.KindError, "select first desk: "+err.Error())
			}
		}
		m.notices.Add(notices.KindDesk, fmt.Sprintf("%d desks loaded", len(list)))

	case bus.ReloadAdvisory:
		m.advisories++
		m.pending, _ = ev.Payload.(string)
		m.notices.Add(notices.KindAdvisory, "reload needed after editing: "+m.pending)

	case bus.Reinitialized:
		m.reloads++
		m.pending = ""
		reason, _ := ev.Payload.(string)
		m.notices.Clear()
		m.notices.Add(notices.KindReload, "client reinitialized: "+reason)

	case bus.ReloadCandidate:
		// shown through the routed event

	default:
		if msg, ok := ev.Payload.(notify.Message); ok {
			m.notices.Add(notices.KindEvent, describe(msg))
		}
	}
}

// describe renders a routed message as "event {extra}".
func describe(msg notify.Message) string {
	if len(msg.Extra) == 0 {
		return msg.Event
	}
	var compact any
	if err := json.Unmarshal(msg.Extra, &compact); err != nil {
		return msg.Event + " " + string(msg.Extra)
	}
	data, _ := json.Marshal(compact)
	return msg.Event + " " + string(data)
}

func (m *Model) syncStatus() {
	sb := &m.statusBar
	sb.URL = m.deps.Conn.URL()
	sb.State = m.deps.Conn.State().String()

	id := m.deps.Session.Identity()
	sb.User, sb.Role = "", ""
	if id.Authenticated {
		sb.User, sb.Role = id.UserID, id.RoleID
	}

	list := m.deps.Desks.Desks()
	sb.DeskCount = len(list)
	sb.DesksLoaded = m.deps.Desks.Loaded()
	sb.Desk = ""
	if active := m.deps.Desks.Active(); active != "" {
		sb.Desk = active
		for _, d := range list {
			if d.ID == active && d.Name != "" {
				sb.Desk = d.Name
			}
		}
	}

	sb.Screen = string(m.deps.Surface.View())
	sb.Editing = m.deps.Surface.Editing()
	sb.Reloads = m.reloads
	sb.Advisories = m.advisories
	m.notices.Pending = m.pending
}

// View renders the full console.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	sections := []string{m.statusBar.View()}
	if m.deps.Conn.URL() != "" && m.deps.Session.Authenticated() && m.deps.Conn.State() != conn.Open {
		sections = append(sections, theme.StyleBanner.Render("DISCONNECTED · Reconnecting every few seconds"))
	}

	help := "  l:login  o:logout  tab:desk  v:view  e:edit  r:refresh  j/k:scroll  q:quit"
	if m.pending != "" {
		help += "  R:reload now"
	}
	used := 4 + len(sections)
	sections = append(sections,
		m.notices.View(m.width, m.height-used),
		theme.StyleDimmed.Render(help),
	)

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
