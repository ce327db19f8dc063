package app

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/deskpulse/deskpulse/internal/bus"
)

type chanSender chan tea.Msg

func (c chanSender) Send(msg tea.Msg) { c <- msg }

func TestBridgeForwardsInOrder(t *testing.T) {
	b := bus.New()
	br := NewBridge(b, 8, nil)
	defer br.Close()

	out := make(chanSender, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- br.Run(ctx, out) }()

	b.Publish(bus.Connected, nil)
	b.Publish(bus.ReloadCandidate, nil)
	b.Publish(bus.ReloadAdvisory, "Stage visibility change")

	for _, want := range []string{bus.Connected, bus.ReloadAdvisory} {
		select {
		case msg := <-out:
			ev, ok := msg.(EventMsg)
			if !ok || ev.Name != want {
				t.Fatalf("got %#v, want %s", msg, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() = %v", err)
	}
}

func TestBridgeDropsWhenFull(t *testing.T) {
	b := bus.New()
	br := NewBridge(b, 1, nil)
	defer br.Close()

	b.Publish(bus.Connected, nil)
	b.Publish(bus.Disconnected, nil)
	if got := len(br.events); got != 1 {
		t.Errorf("queued %d events, want 1", got)
	}
}

func TestBridgeClose(t *testing.T) {
	b := bus.New()
	br := NewBridge(b, 4, nil)
	br.Close()
	b.Publish(bus.Connected, nil)
	if got := len(br.events); got != 0 {
		t.Errorf("queued %d events after Close, want 0", got)
	}
}
