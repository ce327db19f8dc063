package hub

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/deskpulse/deskpulse/internal/bus"
	"github.com/deskpulse/deskpulse/internal/conn"
	"github.com/deskpulse/deskpulse/internal/desks"
	"github.com/deskpulse/deskpulse/internal/dispatch"
	"github.com/deskpulse/deskpulse/internal/policy"
	"github.com/deskpulse/deskpulse/internal/router"
	"github.com/deskpulse/deskpulse/internal/session"
	"github.com/deskpulse/deskpulse/internal/surface"
)

// liveClient is the full client pipeline pointed at a test hub.
type liveClient struct {
	events   *bus.Bus
	session  *session.Context
	surface  *surface.Surface
	registry *desks.Registry
	manager  *conn.Manager
	outcomes chan bus.Event
}

func newLiveClient(t *testing.T, h *testHub) *liveClient {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	c := &liveClient{events: bus.New(), surface: surface.New(), outcomes: make(chan bus.Event, 16)}
	c.session = session.New(c.events, nil)
	c.registry = desks.NewRegistry(desks.NewHTTPFetcher(h.srv.URL, "", time.Second), c.session, c.events, nil)

	transport := conn.NewWebSocketTransport(conn.WebSocketOptions{PingInterval: time.Second})
	wsURL := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
	c.manager = conn.NewManager(transport, router.New(c.events, nil), c.session, c.events, conn.Options{
		URL:           wsURL,
		RetryInterval: 50 * time.Millisecond,
	})

	engine := policy.NewEngine(c.session, c.registry, c.surface, nil)
	reinit := dispatch.ReinitializerFunc(func(string) {
		c.surface.Reset()
		c.registry.Clear()
		c.registry.RefreshAsync(ctx)
	})
	sub := engine.Subscribe(c.events, dispatch.New(c.surface, reinit, c.events, nil), policy.SubscribeOptions{
		BufferUntilLoaded: true,
		BufferLimit:       policy.DefaultBufferLimit,
	})

	record := func(e bus.Event) { c.outcomes <- e }
	offs := []func(){
		c.events.Subscribe(bus.Reinitialized, record),
		c.events.Subscribe(bus.ReloadAdvisory, record),
	}

	c.registry.Start(ctx)
	c.manager.Start()
	t.Cleanup(func() {
		c.manager.Stop()
		c.registry.Stop()
		sub.Close()
		for _, off := range offs {
			off()
		}
		cancel()
	})
	return c
}

func (c *liveClient) signIn(t *testing.T, h *testHub) {
	t.Helper()
	if err := c.session.Login("u1", "r1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "desks loaded", c.registry.Loaded)
	waitForClients(t, h.broadcaster, 1)
}

func (c *liveClient) next(t *testing.T) bus.Event {
	t.Helper()
	select {
	case e := <-c.outcomes:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a reload outcome")
		return bus.Event{}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestLiveClient_MembershipRevokedReinitializes(t *testing.T) {
	h := newTestHub(t, ServerOptions{})
	c := newLiveClient(t, h)
	c.signIn(t, h)
	if err := c.registry.SetActive("d1"); err != nil {
		t.Fatal(err)
	}

	resp := h.post(t, `{"event":"desk_membership_revoked","extra":{"desk_id":"d1","user_ids":["u1"]}}`, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	e := c.next(t)
	if e.Name != bus.Reinitialized || e.Payload != "User removed from desk" {
		t.Fatalf("outcome = %s %v", e.Name, e.Payload)
	}
	// The refetch after reinitializing sees the roster the hub just updated.
	waitFor(t, "d1 to leave the desk set", func() bool {
		return c.registry.Loaded() && !c.registry.IsMember("d1") && c.registry.IsMember("d2")
	})
}

func TestLiveClient_EditingGetsAdvisory(t *testing.T) {
	h := newTestHub(t, ServerOptions{})
	c := newLiveClient(t, h)
	c.signIn(t, h)
	c.surface.SetEditing(true)

	resp := h.post(t, `{"event":"user_disabled","extra":{"user_id":"u1"}}`, nil)
	resp.Body.Close()

	e := c.next(t)
	if e.Name != bus.ReloadAdvisory || e.Payload != "User is disabled" {
		t.Fatalf("outcome = %s %v", e.Name, e.Payload)
	}
	if !c.registry.IsMember("d1") {
		t.Fatal("advisory must not reset desk state")
	}
}

func TestLiveClient_OtherUserIgnored(t *testing.T) {
	h := newTestHub(t, ServerOptions{})
	c := newLiveClient(t, h)
	c.signIn(t, h)

	for _, body := range []string{
		`{"event":"user_disabled","extra":{"user_id":"u2"}}`,
		`{"event":"role_privileges_revoked","extra":{"role_id":"r1"}}`,
	} {
		resp := h.post(t, body, nil)
		resp.Body.Close()
	}

	// The role event is for r1 and arrives after the ignored user event.
	e := c.next(t)
	if e.Name != bus.Reinitialized || e.Payload != "Role privileges are revoked" {
		t.Fatalf("outcome = %s %v", e.Name, e.Payload)
	}
	select {
	case e := <-c.outcomes:
		t.Fatalf("unexpected outcome %s %v", e.Name, e.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}
