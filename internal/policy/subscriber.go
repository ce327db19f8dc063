package policy

import (
	"sync"

	"github.com/deskpulse/deskpulse/internal/bus"
	"github.com/deskpulse/deskpulse/internal/notify"
	"go.uber.org/zap"
)

// DefaultBufferLimit caps candidates held while desks are not loaded.
// Only categories that read desks are held; user and role candidates are
// evaluated immediately.
const DefaultBufferLimit = 64

// ResultHandler consumes evaluation results. dispatch.Dispatcher is one.
type ResultHandler interface {
	Handle(Result)
}

// SubscribeOptions tunes how candidates are fed to the engine.
type SubscribeOptions struct {
	// BufferUntilLoaded holds desk, stage and stage-visibility candidates
	// until the desk registry reports Loaded, then evaluates them in arrival
	// order. Other candidates never wait on the registry.
	BufferUntilLoaded bool
	// BufferLimit bounds the held candidates; the oldest is dropped when
	// full. Zero means DefaultBufferLimit.
	BufferLimit int
}

// Subscription feeds reload candidates from a bus to the engine and on to a
// handler. Candidates are evaluated one at a time, in arrival order, even
// when they are published from different goroutines.
type Subscription struct {
	engine  *Engine
	handler ResultHandler
	opts    SubscribeOptions
	log     *zap.Logger

	mu       sync.Mutex
	queue    []notify.Message
	draining bool
	offs     []func()
}

// Subscribe wires the engine to b. Call Close to detach.
func (e *Engine) Subscribe(b *bus.Bus, h ResultHandler, opts SubscribeOptions) *Subscription {
	if opts.BufferLimit <= 0 {
		opts.BufferLimit = DefaultBufferLimit
	}
	s := &Subscription{engine: e, handler: h, opts: opts, log: e.log}
	s.offs = append(s.offs,
		b.Subscribe(bus.ReloadCandidate, s.onCandidate),
		b.Subscribe(bus.DesksLoaded, func(bus.Event) { s.drain() }),
		b.Subscribe(bus.Logout, func(bus.Event) { s.discard() }),
	)
	return s
}

// Close unsubscribes from the bus. Held candidates are dropped.
func (s *Subscription) Close() {
	s.mu.Lock()
	offs := s.offs
	s.offs = nil
	s.queue = nil
	s.mu.Unlock()
	for _, off := range offs {
		off()
	}
}

// Pending returns the number of held candidates.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Subscription) onCandidate(ev bus.Event) {
	msg, ok := ev.Payload.(notify.Message)
	if !ok {
		s.log.Warn("reload candidate without message payload")
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, msg)
	if over := len(s.queue) - s.opts.BufferLimit; over > 0 {
		for _, dropped := range s.queue[:over] {
			s.log.Warn("candidate buffer full, dropping oldest",
				zap.String("event", dropped.Event),
				zap.Int("limit", s.opts.BufferLimit))
		}
		s.queue = append([]notify.Message(nil), s.queue[over:]...)
	}
	s.mu.Unlock()
	s.drain()
}

// drain evaluates queued candidates until none is runnable. Only one
// goroutine drains at a time; others just enqueue.
func (s *Subscription) drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for {
		i := s.nextLocked()
		if i < 0 {
			break
		}
		msg := s.queue[i]
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
		s.mu.Unlock()
		s.handler.Handle(s.engine.Evaluate(msg))
		s.mu.Lock()
	}
	if len(s.queue) > 0 {
		s.log.Debug("holding candidates until desks load", zap.Int("pending", len(s.queue)))
	}
	s.draining = false
	s.mu.Unlock()
}

// nextLocked returns the index of the oldest runnable candidate, or -1.
// While desks are unloaded, candidates that read desks keep their place and
// later ones that don't may run past them.
func (s *Subscription) nextLocked() int {
	gated := s.opts.BufferUntilLoaded && !s.engine.desks.Loaded()
	for i, msg := range s.queue {
		if !gated || !Classify(msg.Event).ReadsDesks() {
			return i
		}
	}
	return -1
}

// discard drops candidates held for a session that has ended.
func (s *Subscription) discard() {
	s.mu.Lock()
	n := len(s.queue)
	s.queue = nil
	s.mu.Unlock()
	if n > 0 {
		s.log.Info("discarded held candidates on logout", zap.Int("count", n))
	}
}
