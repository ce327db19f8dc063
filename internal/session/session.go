// Package session owns the current identity of the signed-in user.
package session

import (
	"errors"
	"sync"

	"github.com/deskpulse/deskpulse/internal/bus"
	"go.uber.org/zap"
)

// ErrNoUser is returned by Login when the user id is empty.
var ErrNoUser = errors.New("session: login requires a user id")

// Identity is a snapshot of the session. The zero value is signed out.
type Identity struct {
	UserID        string
	RoleID        string
	Authenticated bool
}

// Context holds the identity and announces login and logout on the bus.
// Only Login and Logout mutate it; everyone else reads snapshots.
type Context struct {
	mu       sync.RWMutex
	identity Identity
	bus      *bus.Bus
	log      *zap.Logger
}

// New returns a signed-out context publishing on b.
func New(b *bus.Bus, logger *zap.Logger) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{bus: b, log: logger}
}

// Identity returns a copy of the current identity.
func (c *Context) Identity() Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// Authenticated reports whether a user is signed in.
func (c *Context) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity.Authenticated
}

// Login signs userID in with roleID and publishes bus.Login. Logging in as a
// different user while signed in replaces the identity and publishes again.
func (c *Context) Login(userID, roleID string) error {
	if userID == "" {
		return ErrNoUser
	}
	c.mu.Lock()
	if c.identity.Authenticated && c.identity.UserID == userID && c.identity.RoleID == roleID {
		c.mu.Unlock()
		return nil
	}
	c.identity = Identity{UserID: userID, RoleID: roleID, Authenticated: true}
	c.mu.Unlock()

	c.log.Info("login", zap.String("user", userID), zap.String("role", roleID))
	c.bus.Publish(bus.Login, nil)
	return nil
}

// Logout clears the identity and publishes bus.Logout. It is a no-op when
// already signed out.
func (c *Context) Logout() {
	c.mu.Lock()
	if !c.identity.Authenticated {
		c.mu.Unlock()
		return
	}
	user := c.identity.UserID
	c.identity = Identity{}
	c.mu.Unlock()

	c.log.Info("logout", zap.String("user", user))
	c.bus.Publish(bus.Logout, nil)
}
