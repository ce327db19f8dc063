// Package surface holds the client-local UI state the reload policy and
// dispatcher consult: which view is showing and whether the user is in the
// middle of editing.
package surface

import (
	"sync"
	"sync/atomic"
)

// View names a client screen.
type View string

const (
	ViewDesk      View = "desk"
	ViewSearch    View = "search"
	ViewAuthoring View = "authoring"
	ViewOther     View = "other"
)

// Views lists the views in cycling order.
var Views = []View{ViewDesk, ViewSearch, ViewAuthoring, ViewOther}

// Surface is safe for concurrent use. The UI writes; policy and dispatch
// read.
type Surface struct {
	mu      sync.RWMutex
	view    View
	editing atomic.Bool
}

// New returns a surface showing the desk view, not editing.
func New() *Surface {
	return &Surface{view: ViewDesk}
}

// View returns the current view.
func (s *Surface) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// SetView changes the current view.
func (s *Surface) SetView(v View) {
	s.mu.Lock()
	s.view = v
	s.mu.Unlock()
}

// NextView advances to the next view in Views and returns it.
func (s *Surface) NextView() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, v := range Views {
		if v == s.view {
			s.view = Views[(i+1)%len(Views)]
			return s.view
		}
	}
	s.view = Views[0]
	return s.view
}

// Editing reports whether the user is composing or editing.
func (s *Surface) Editing() bool { return s.editing.Load() }

// SetEditing sets the editing flag.
func (s *Surface) SetEditing(on bool) { s.editing.Store(on) }

// Reset returns to the desk view and clears editing.
func (s *Surface) Reset() {
	s.SetView(ViewDesk)
	s.SetEditing(false)
}
