// Package desks tracks the desks the signed-in user belongs to and which desk
// is active. The desk set is replaced wholesale on every refresh.
package desks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/deskpulse/deskpulse/internal/bus"
	"github.com/deskpulse/deskpulse/internal/session"
	"go.uber.org/zap"
)

var (
	// ErrNotMember is returned by SetActive for a desk the user is not on.
	ErrNotMember = errors.New("desks: user is not a member of desk")
	// ErrSignedOut is returned by Refresh without a signed-in user.
	ErrSignedOut = errors.New("desks: no signed-in user")
)

// Desk is one entry of a user's desk roster.
type Desk struct {
	ID   string `json:"_id"`
	Name string `json:"name,omitempty"`
}

// Fetcher loads the roster of desks for a user.
type Fetcher interface {
	UserDesks(ctx context.Context, userID string) ([]Desk, error)
}

// IdentitySource is the read side of session.Context.
type IdentitySource interface {
	Identity() session.Identity
}

// Registry owns the desk set and the active desk.
type Registry struct {
	mu      sync.RWMutex
	desks   []Desk
	members map[string]bool
	active  string
	loaded  bool

	// Fetch results apply only if no Clear happened and no later fetch
	// already applied since the fetch started.
	clears  uint64
	issued  uint64
	applied uint64

	fetcher  Fetcher
	identity IdentitySource
	bus      *bus.Bus
	log      *zap.Logger
	offs     []func()
}

// NewRegistry returns an empty, not yet loaded registry.
func NewRegistry(f Fetcher, identity IdentitySource, b *bus.Bus, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		members:  make(map[string]bool),
		fetcher:  f,
		identity: identity,
		bus:      b,
		log:      logger,
	}
}

// Start refreshes in the background on every login and clears on logout.
// If the session is already signed in, a refresh starts immediately.
func (r *Registry) Start(ctx context.Context) {
	r.offs = append(r.offs,
		r.bus.Subscribe(bus.Login, func(bus.Event) { r.RefreshAsync(ctx) }),
		r.bus.Subscribe(bus.Logout, func(bus.Event) { r.Clear() }),
	)
	if r.identity.Identity().Authenticated {
		r.RefreshAsync(ctx)
	}
}

// Stop removes the session subscriptions.
func (r *Registry) Stop() {
	for _, off := range r.offs {
		off()
	}
	r.offs = nil
}

// Refresh fetches the roster for the signed-in user and replaces the set.
// A result that was overtaken by a newer Replace or Clear is discarded.
func (r *Registry) Refresh(ctx context.Context) error {
	id := r.identity.Identity()
	if !id.Authenticated {
		return ErrSignedOut
	}

	r.mu.Lock()
	r.issued++
	ticket, clears := r.issued, r.clears
	r.mu.Unlock()

	list, err := r.fetcher.UserDesks(ctx, id.UserID)
	if err != nil {
		return fmt.Errorf("refresh desks for %s: %w", id.UserID, err)
	}

	if !r.replace(list, ticket, clears) {
		r.log.Debug("discarding stale desk roster", zap.String("user", id.UserID))
		return nil
	}
	r.log.Info("desks loaded", zap.String("user", id.UserID), zap.Int("count", len(list)))
	r.bus.Publish(bus.DesksLoaded, nil)
	return nil
}

// RefreshAsync runs Refresh on its own goroutine and logs failures.
func (r *Registry) RefreshAsync(ctx context.Context) {
	go func() {
		if err := r.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Warn("desk refresh failed", zap.Error(err))
		}
	}()
}

// Replace installs list as the complete desk set and publishes
// bus.DesksLoaded. The active desk is kept only if it is still in the set.
func (r *Registry) Replace(list []Desk) {
	r.mu.Lock()
	r.issued++
	ticket, clears := r.issued, r.clears
	r.mu.Unlock()
	if r.replace(list, ticket, clears) {
		r.bus.Publish(bus.DesksLoaded, nil)
	}
}

func (r *Registry) replace(list []Desk, ticket, clears uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clears != clears || ticket <= r.applied {
		return false
	}
	r.applied = ticket
	r.desks = append([]Desk(nil), list...)
	r.members = make(map[string]bool, len(list))
	for _, d := range list {
		r.members[d.ID] = true
	}
	if !r.members[r.active] {
		r.active = ""
	}
	r.loaded = true
	return true
}

// Clear empties the set, clears the active desk and marks the registry as
// not loaded.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears++
	r.desks = nil
	r.members = make(map[string]bool)
	r.active = ""
	r.loaded = false
}

// SetActive makes id the active desk. An empty id clears it.
func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id != "" && !r.members[id] {
		return fmt.Errorf("%w: %s", ErrNotMember, id)
	}
	r.active = id
	return nil
}

// Active returns the active desk id, or "" for none.
func (r *Registry) Active() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// IsMember reports whether the user belongs to desk id.
func (r *Registry) IsMember(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return id != "" && r.members[id]
}

// Loaded reports whether a roster has been installed since start or the last
// Clear.
func (r *Registry) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// Desks returns a copy of the desk set in roster order.
func (r *Registry) Desks() []Desk {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Desk(nil), r.desks...)
}
