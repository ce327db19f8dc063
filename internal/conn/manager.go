// Package conn owns the notification connection: it opens one transport
// handle at a time, follows its lifecycle and reconnects at a fixed interval
// while a user is signed in.
package conn

import (
	"sync"
	"time"

	"github.com/deskpulse/deskpulse/internal/bus"
	"github.com/deskpulse/deskpulse/internal/clock"
	"go.uber.org/zap"
)

// DefaultRetryInterval is the fixed delay between reconnect attempts.
const DefaultRetryInterval = 5 * time.Second

// Handle is one transport connection.
type Handle interface {
	ID() string
	Close() error
}

// Listener receives lifecycle callbacks for handles. For any one handle the
// calls are sequential: Opened at most once, then Received per frame, then
// Closed exactly once. Failed may precede Closed.
type Listener interface {
	Opened(h Handle)
	Received(h Handle, data []byte)
	Failed(h Handle, err error)
	Closed(h Handle, err error)
}

// Transport opens handles. Open must return without calling l; callbacks
// arrive later from the handle's own goroutine.
type Transport interface {
	Open(url string, l Listener) Handle
}

// MessageHandler consumes inbound frames in arrival order.
type MessageHandler interface {
	OnMessage(raw []byte)
}

// SessionState is the read side of session.Context.
type SessionState interface {
	Authenticated() bool
}

// Options configures a Manager. Zero fields take defaults.
type Options struct {
	URL           string
	RetryInterval time.Duration
	Clock         clock.Clock
	Logger        *zap.Logger
}

// Manager is the connection lifecycle state machine.
type Manager struct {
	mu       sync.Mutex
	url      string
	state    State
	handle   Handle
	closing  Handle // last handle closed by Disconnect, awaiting Closed
	retry    clock.Timer
	retrySeq uint64
	stopped  bool
	offs     []func()

	transport Transport
	messages  MessageHandler
	session   SessionState
	bus       *bus.Bus
	clock     clock.Clock
	interval  time.Duration
	log       *zap.Logger
}

// NewManager creates a manager. An empty opts.URL disables it: Connect never
// opens a handle until SetURL provides an endpoint.
func NewManager(t Transport, messages MessageHandler, sess SessionState, b *bus.Bus, opts Options) *Manager {
	m := &Manager{
		url:       opts.URL,
		transport: t,
		messages:  messages,
		session:   sess,
		bus:       b,
		clock:     opts.Clock,
		interval:  opts.RetryInterval,
		log:       opts.Logger,
	}
	if m.clock == nil {
		m.clock = clock.Real()
	}
	if m.interval <= 0 {
		m.interval = DefaultRetryInterval
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	return m
}

// Start connects on login and disconnects on logout. If the session is
// already signed in it connects immediately.
func (m *Manager) Start() {
	m.offs = append(m.offs,
		m.bus.Subscribe(bus.Login, func(bus.Event) { m.Connect() }),
		m.bus.Subscribe(bus.Logout, func(bus.Event) { m.Disconnect() }),
	)
	if m.session.Authenticated() {
		m.Connect()
	}
}

// Stop unsubscribes from session signals, disconnects and prevents any
// further connection attempts.
func (m *Manager) Stop() {
	for _, off := range m.offs {
		off()
	}
	m.offs = nil

	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	m.Disconnect()
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// URL returns the configured endpoint.
func (m *Manager) URL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url
}

// SetURL switches the endpoint. If it changed, the current handle is closed
// and, when signed in, a new one is opened against the new endpoint. An
// empty url disables the manager.
func (m *Manager) SetURL(url string) {
	m.mu.Lock()
	changed := url != m.url
	m.url = url
	m.mu.Unlock()
	if !changed {
		return
	}
	m.log.Info("endpoint changed", zap.String("url", url))
	m.Disconnect()
	if m.session.Authenticated() {
		m.Connect()
	}
}

// Connect opens a handle unless one is connecting or open, the endpoint is
// empty, or the manager is stopped.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.url == "" {
		return
	}
	if m.state == Connecting || m.state == Open {
		return
	}
	h := m.transport.Open(m.url, m)
	m.handle = h
	m.state = Connecting
	m.log.Debug("connecting", zap.String("url", m.url), zap.String("handle", h.ID()))
}

// Disconnect closes the current handle, if any, and cancels a pending
// reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.cancelRetryLocked()
	h := m.handle
	m.handle = nil
	if h != nil {
		m.closing = h
		m.state = Closing
	}
	m.mu.Unlock()

	if h == nil {
		return
	}
	if err := h.Close(); err != nil {
		m.log.Debug("close handle", zap.String("handle", h.ID()), zap.Error(err))
	}
}

// Opened implements Listener.
func (m *Manager) Opened(h Handle) {
	m.mu.Lock()
	if h != m.handle {
		m.mu.Unlock()
		return
	}
	m.cancelRetryLocked()
	m.state = Open
	m.mu.Unlock()

	m.log.Info("connected", zap.String("handle", h.ID()))
	m.bus.Publish(bus.Connected, nil)
}

// Received implements Listener. Frames from anything but the current open
// handle are dropped.
func (m *Manager) Received(h Handle, data []byte) {
	m.mu.Lock()
	current := h == m.handle && m.state == Open
	m.mu.Unlock()
	if !current {
		return
	}
	m.messages.OnMessage(data)
}

// Failed implements Listener. Errors never change state; Closed follows.
func (m *Manager) Failed(h Handle, err error) {
	m.log.Warn("connection error", zap.String("handle", h.ID()), zap.Error(err))
	m.bus.Publish(bus.ConnectionError, err)
}

// Closed implements Listener.
func (m *Manager) Closed(h Handle, err error) {
	m.mu.Lock()
	switch {
	case h == m.handle:
		m.handle = nil
	case h == m.closing && m.handle == nil:
	default:
		// Superseded by a newer handle.
		m.mu.Unlock()
		return
	}
	if h == m.closing {
		m.closing = nil
	}
	m.state = Closed
	if !m.stopped && m.url != "" && m.session.Authenticated() {
		m.scheduleRetryLocked()
	}
	m.mu.Unlock()

	if err != nil {
		m.log.Info("disconnected", zap.String("handle", h.ID()), zap.Error(err))
	} else {
		m.log.Info("disconnected", zap.String("handle", h.ID()))
	}
	m.bus.Publish(bus.Disconnected, nil)
}

func (m *Manager) scheduleRetryLocked() {
	if m.retry != nil {
		return
	}
	m.retrySeq++
	seq := m.retrySeq
	m.retry = m.clock.AfterFunc(m.interval, func() { m.retryTick(seq) })
}

// retryTick fires once per interval until cancelled. Each firing re-arms
// the timer before attempting to connect.
func (m *Manager) retryTick(seq uint64) {
	m.mu.Lock()
	if seq != m.retrySeq || m.retry == nil {
		m.mu.Unlock()
		return
	}
	if m.stopped || !m.session.Authenticated() {
		m.retry = nil
		m.mu.Unlock()
		return
	}
	m.retry = m.clock.AfterFunc(m.interval, func() { m.retryTick(seq) })
	idle := m.handle == nil
	m.mu.Unlock()

	if idle {
		m.log.Debug("reconnect attempt")
		m.Connect()
	}
}

func (m *Manager) cancelRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	m.retrySeq++
}
