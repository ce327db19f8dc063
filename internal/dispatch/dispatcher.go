// Package dispatch acts on reload decisions: a full client reset, or an
// advisory when the user is in the middle of editing.
package dispatch

import (
	"sync"

	"github.com/deskpulse/deskpulse/internal/bus"
	"github.com/deskpulse/deskpulse/internal/policy"
	"go.uber.org/zap"
)

// Editor reports whether unsaved work is in progress.
type Editor interface {
	Editing() bool
}

// Reinitializer resets all client state. It is irreversible and drops
// unsaved local changes.
type Reinitializer interface {
	Reinitialize(reason string)
}

// ReinitializerFunc adapts a function to Reinitializer.
type ReinitializerFunc func(reason string)

func (f ReinitializerFunc) Reinitialize(reason string) { f(reason) }

// Dispatcher implements policy.ResultHandler.
type Dispatcher struct {
	editor Editor
	reinit Reinitializer
	bus    *bus.Bus
	log    *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// Stats counts dispatcher outcomes.
type Stats struct {
	Ignored    int
	Advisories int
	Reloads    int
}

// New returns a dispatcher. A nil reinit only publishes bus.Reinitialized.
func New(editor Editor, reinit Reinitializer, b *bus.Bus, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{editor: editor, reinit: reinit, bus: b, log: logger}
}

var (
	_ policy.ResultHandler = (*Dispatcher)(nil)
	_ Reinitializer        = (*Dispatcher)(nil)
)

// Handle acts on res. It is a no-op when no reload is required.
func (d *Dispatcher) Handle(res policy.Result) {
	if !res.Reload {
		d.count(func(s *Stats) { s.Ignored++ })
		return
	}
	if d.editor != nil && d.editor.Editing() {
		d.log.Info("reload deferred while editing", zap.String("reason", res.Reason))
		d.count(func(s *Stats) { s.Advisories++ })
		d.bus.Publish(bus.ReloadAdvisory, res.Reason)
		return
	}
	d.Reinitialize(res.Reason)
}

// Reinitialize resets the client for reason and publishes
// bus.Reinitialized, whether or not the user is editing. The console calls
// it when the user acts on an advisory.
func (d *Dispatcher) Reinitialize(reason string) {
	d.log.Info("reinitializing client", zap.String("reason", reason))
	d.count(func(s *Stats) { s.Reloads++ })
	if d.reinit != nil {
		d.reinit.Reinitialize(reason)
	}
	d.bus.Publish(bus.Reinitialized, reason)
}

// Stats returns a copy of the outcome counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Dispatcher) count(f func(*Stats)) {
	d.mu.Lock()
	f(&d.stats)
	d.mu.Unlock()
}
