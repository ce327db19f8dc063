package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/deskpulse/deskpulse/internal/notify"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrTooManyConnections is returned by AddClient when the limit is reached.
var ErrTooManyConnections = errors.New("too many connections")

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 10 * time.Second
)

type client struct {
	id     string
	user   string
	conn   *websocket.Conn
	b      *Broadcaster
	send   chan []byte
	closed sync.Once
}

func (c *client) writePump() {
	var ping <-chan time.Time
	if c.b.pingInterval > 0 {
		t := time.NewTicker(c.b.pingInterval)
		defer t.Stop()
		ping = t.C
	}
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.b.writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub closing"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.b.log.Debug("ws write failed", zap.String("client", c.id), zap.Error(err))
				c.b.RemoveClient(c)
				return
			}
		case <-ping:
			c.conn.SetWriteDeadline(time.Now().Add(c.b.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.b.RemoveClient(c)
				return
			}
		}
	}
}

func (c *client) close() {
	c.closed.Do(func() { close(c.send) })
}

// BroadcastOptions tunes the fan-out. Zero values select defaults; a zero
// MaxConnections means unlimited and a zero PingInterval disables pings.
type BroadcastOptions struct {
	MaxConnections int
	SendBuffer     int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
}

// Broadcaster fans notification frames out to every connected client.
// Clients that cannot keep up are disconnected rather than slowing others.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	maxConns int

	// pubMu keeps frames in the same order on every client.
	pubMu sync.Mutex

	sendBuffer   int
	writeTimeout time.Duration
	pingInterval time.Duration
	log          *zap.Logger

	statsMu sync.Mutex
	stats   Stats
}

// Stats counts broadcaster activity since start.
type Stats struct {
	Published int `json:"published"`
	Delivered int `json:"delivered"`
	Evicted   int `json:"evicted"`
	Rejected  int `json:"rejected"`
}

func NewBroadcaster(opts BroadcastOptions, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	return &Broadcaster{
		clients:      make(map[*client]bool),
		maxConns:     opts.MaxConnections,
		sendBuffer:   opts.SendBuffer,
		writeTimeout: opts.WriteTimeout,
		pingInterval: opts.PingInterval,
		log:          logger,
	}
}

// AddClient registers conn and starts its writer. user is informational.
func (b *Broadcaster) AddClient(conn *websocket.Conn, user string) (*client, error) {
	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		b.count(func(s *Stats) { s.Rejected++ })
		return nil, ErrTooManyConnections
	}
	c := &client{
		id:   uuid.NewString(),
		user: user,
		conn: conn,
		b:    b,
		send: make(chan []byte, b.sendBuffer),
	}
	b.clients[c] = true
	b.mu.Unlock()

	go c.writePump()
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// Publish encodes msg once and queues it for every client. It returns the
// number of clients the frame was queued for.
func (b *Broadcaster) Publish(msg notify.Message) (int, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}

	// Sends happen under the read lock so RemoveClient cannot close a
	// channel mid-send.
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	var slow []*client
	delivered := 0
	b.mu.RLock()
	for c := range b.clients {
		select {
		case c.send <- data:
			delivered++
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		// Client can't keep up, disconnect it
		b.log.Warn("ws client too slow, disconnecting", zap.String("client", c.id), zap.String("user", c.user))
		b.count(func(s *Stats) { s.Evicted++ })
		b.RemoveClient(c)
	}
	b.count(func(s *Stats) {
		s.Published++
		s.Delivered += delivered
	})
	return delivered, nil
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Stats returns a copy of the counters.
func (b *Broadcaster) Stats() Stats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return b.stats
}

// Close disconnects every client with a going-away close frame.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	for c := range b.clients {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

func (b *Broadcaster) count(f func(*Stats)) {
	b.statsMu.Lock()
	f(&b.stats)
	b.statsMu.Unlock()
}
