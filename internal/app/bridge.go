package app

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/deskpulse/deskpulse/internal/bus"
	"go.uber.org/zap"
)

// DefaultBridgeBuffer is the number of events queued for the UI.
const DefaultBridgeBuffer = 256

// EventMsg carries one bus event into the Bubble Tea update loop.
type EventMsg struct {
	bus.Event
}

// Sender is the part of *tea.Program the bridge uses.
type Sender interface {
	Send(msg tea.Msg)
}

// Bridge forwards bus events to the UI. Bus handlers never block on the UI:
// events are queued and a separate goroutine sends them, in order. When the
// queue is full the event is dropped.
type Bridge struct {
	events chan bus.Event
	off    func()
	log    *zap.Logger
}

// NewBridge subscribes to every event on b except reload candidates, which
// are shown through the routed event that produced them.
func NewBridge(b *bus.Bus, buffer int, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = DefaultBridgeBuffer
	}
	br := &Bridge{events: make(chan bus.Event, buffer), log: logger}
	br.off = b.SubscribeAll(func(ev bus.Event) {
		if ev.Name == bus.ReloadCandidate {
			return
		}
		select {
		case br.events <- ev:
		default:
			br.log.Warn("ui event queue full, dropping event", zap.String("event", ev.Name))
		}
	})
	return br
}

// Run sends queued events to s until ctx is cancelled.
func (br *Bridge) Run(ctx context.Context, s Sender) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-br.events:
			s.Send(EventMsg{ev})
		}
	}
}

// Close unsubscribes from the bus.
func (br *Bridge) Close() {
	br.off()
}
