package conn

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultPongTimeout  = 60 * time.Second
	defaultPingInterval = 30 * time.Second
)

// WebSocketOptions configures WebSocketTransport. Zero durations take
// defaults.
type WebSocketOptions struct {
	Token        string
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

// WebSocketTransport opens gorilla/websocket connections. Each handle runs
// one goroutine that dials, reports Opened, delivers frames and finally
// reports Closed; a second goroutine sends keep-alive pings.
type WebSocketTransport struct {
	dialer       *websocket.Dialer
	header       http.Header
	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration
	log          *zap.Logger
}

// NewWebSocketTransport creates a transport. A non-empty token is sent as a
// bearer Authorization header on the handshake.
func NewWebSocketTransport(opts WebSocketOptions) *WebSocketTransport {
	dialer := *websocket.DefaultDialer
	t := &WebSocketTransport{
		dialer:       &dialer,
		header:       http.Header{},
		pingInterval: opts.PingInterval,
		pongTimeout:  opts.PongTimeout,
		writeTimeout: opts.WriteTimeout,
		log:          opts.Logger,
	}
	if opts.Token != "" {
		t.header.Set("Authorization", "Bearer "+opts.Token)
	}
	if t.pingInterval <= 0 {
		t.pingInterval = defaultPingInterval
	}
	if t.pongTimeout <= 0 {
		t.pongTimeout = defaultPongTimeout
	}
	if t.writeTimeout <= 0 {
		t.writeTimeout = defaultWriteTimeout
	}
	if t.log == nil {
		t.log = zap.NewNop()
	}
	return t
}

// Open starts dialing url in the background.
func (t *WebSocketTransport) Open(url string, l Listener) Handle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &wsHandle{id: uuid.NewString(), cancel: cancel, writeTimeout: t.writeTimeout}
	go t.run(ctx, h, url, l)
	return h
}

func (t *WebSocketTransport) run(ctx context.Context, h *wsHandle, url string, l Listener) {
	conn, _, err := t.dialer.DialContext(ctx, url, t.header)
	if err != nil {
		if ctx.Err() == nil {
			l.Failed(h, err)
		}
		l.Closed(h, err)
		return
	}
	if !h.attach(conn) {
		conn.Close()
		l.Closed(h, nil)
		return
	}
	t.log.Debug("ws dialed", zap.String("url", url), zap.String("handle", h.id))
	l.Opened(h)

	go t.pingLoop(ctx, h, conn)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(t.pongTimeout))
	})
	conn.SetReadDeadline(time.Now().Add(t.pongTimeout))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			byUs := h.closedByUs()
			h.cancel()
			conn.Close()
			if byUs || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.Closed(h, nil)
				return
			}
			l.Failed(h, err)
			l.Closed(h, err)
			return
		}
		l.Received(h, data)
	}
}

// pingLoop sends periodic pings on conn until ctx is cancelled or a write
// fails.
func (t *WebSocketTransport) pingLoop(ctx context.Context, h *wsHandle, conn *websocket.Conn) {
	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.write(func() error {
				return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeTimeout))
			}); err != nil {
				t.log.Debug("ws ping failed", zap.String("handle", h.id), zap.Error(err))
				return
			}
		}
	}
}

type wsHandle struct {
	id           string
	cancel       context.CancelFunc
	writeTimeout time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	writeMu sync.Mutex // serialises control frames from ping and Close
}

func (h *wsHandle) ID() string { return h.id }

// attach records the dialed connection. It reports false if Close already
// ran, in which case the caller must discard conn.
func (h *wsHandle) attach(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conn = conn
	return true
}

func (h *wsHandle) closedByUs() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *wsHandle) write(fn func() error) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return fn()
}

// Close aborts a pending dial or sends a close frame and closes the socket.
// The handle's goroutine then reports Closed.
func (h *wsHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conn := h.conn
	h.mu.Unlock()

	h.cancel()
	if conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	werr := h.write(func() error {
		return conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.writeTimeout))
	})
	cerr := conn.Close()
	if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) && !errors.Is(werr, net.ErrClosed) {
		return werr
	}
	if errors.Is(cerr, net.ErrClosed) {
		return nil
	}
	return cerr
}
