// Package bus is the in-process event bus that connects the connection
// manager, router, policy engine and dispatcher. Handlers for a name run
// synchronously, in subscription order, on the publishing goroutine.
package bus

import "sync"

// Local event names shared by the client components.
const (
	Connected       = "connected"
	Disconnected    = "disconnected"
	ConnectionError = "connection-error"
	ReloadCandidate = "reload-candidate"
	ReloadAdvisory  = "reload-advisory"
	Reinitialized   = "reinitialized"
	Login           = "login"
	Logout          = "logout"
	DesksLoaded     = "desks-loaded"
)

// Event is one publication. Payload is nil for lifecycle events, an error
// for connection errors, a notify.Message for routed events and candidates,
// and a string reason for advisories and reinitializations.
type Event struct {
	Name    string
	Payload any
}

// Handler receives events.
type Handler func(Event)

type subscription struct {
	h Handler
}

// Bus is a registry of event name to ordered handlers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]*subscription
	taps     []*subscription
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{handlers: make(map[string][]*subscription)}
}

// Subscribe registers h for name and returns a func that removes it.
// Removing twice is a no-op.
func (b *Bus) Subscribe(name string, h Handler) func() {
	s := &subscription{h: h}
	b.mu.Lock()
	b.handlers[name] = append(b.handlers[name], s)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.handlers[name] = remove(b.handlers[name], s)
			if len(b.handlers[name]) == 0 {
				delete(b.handlers, name)
			}
		})
	}
}

// SubscribeAll registers h for every event, after the named handlers.
func (b *Bus) SubscribeAll(h Handler) func() {
	s := &subscription{h: h}
	b.mu.Lock()
	b.taps = append(b.taps, s)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.taps = remove(b.taps, s)
		})
	}
}

// Publish delivers an event to the handlers registered for name, then to the
// taps. Handlers may publish or subscribe re-entrantly; a nested publish is
// fully delivered before Publish returns to the outer handler.
func (b *Bus) Publish(name string, payload any) {
	b.mu.RLock()
	named := b.handlers[name]
	subs := make([]*subscription, 0, len(named)+len(b.taps))
	subs = append(subs, named...)
	subs = append(subs, b.taps...)
	b.mu.RUnlock()

	ev := Event{Name: name, Payload: payload}
	for _, s := range subs {
		s.h(ev)
	}
}

// HandlerCount returns how many handlers are registered for name, excluding
// taps.
func (b *Bus) HandlerCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}

func remove(list []*subscription, s *subscription) []*subscription {
	out := list[:0:0]
	for _, x := range list {
		if x != s {
			out = append(out, x)
		}
	}
	return out
}
