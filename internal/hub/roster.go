package hub

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/deskpulse/deskpulse/internal/desks"
	"gopkg.in/yaml.v3"
)

// Roster maps users to the desks they belong to. It backs
// GET /api/users/{id}/desks.
//
//	desks:
//	  d1: Politics
//	  d2: Sport
//	users:
//	  u1: [d1, d2]
type Roster struct {
	mu    sync.RWMutex
	desks map[string]string
	users map[string][]string
}

type rosterFile struct {
	Desks map[string]string   `yaml:"desks"`
	Users map[string][]string `yaml:"users"`
}

// NewRoster returns an empty roster.
func NewRoster() *Roster {
	return &Roster{desks: make(map[string]string), users: make(map[string][]string)}
}

// LoadRoster reads a roster file. Users may only name declared desks.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f rosterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse roster %s: %w", path, err)
	}
	r := NewRoster()
	for id, name := range f.Desks {
		r.desks[id] = name
	}
	for user, ids := range f.Users {
		for _, id := range ids {
			if _, ok := r.desks[id]; !ok {
				return nil, fmt.Errorf("roster %s: user %s names unknown desk %s", path, user, id)
			}
		}
		r.users[user] = append([]string(nil), ids...)
	}
	return r, nil
}

// SetDesk declares or renames a desk.
func (r *Roster) SetDesk(id, name string) {
	r.mu.Lock()
	r.desks[id] = name
	r.mu.Unlock()
}

// DeleteDesk removes a desk and every membership of it.
func (r *Roster) DeleteDesk(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.desks, id)
	for user := range r.users {
		r.users[user] = without(r.users[user], id)
	}
}

// AddMember puts user on desk id. The desk must exist.
func (r *Roster) AddMember(id, user string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.desks[id]; !ok {
		return fmt.Errorf("unknown desk %s", id)
	}
	for _, have := range r.users[user] {
		if have == id {
			return nil
		}
	}
	r.users[user] = append(r.users[user], id)
	return nil
}

// RemoveMember takes user off desk id.
func (r *Roster) RemoveMember(id, user string) {
	r.mu.Lock()
	r.users[user] = without(r.users[user], id)
	r.mu.Unlock()
}

// Members returns the users on desk id, sorted.
func (r *Roster) Members(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for user, ids := range r.users {
		for _, have := range ids {
			if have == id {
				out = append(out, user)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// DesksFor returns the desks of user in roster order. Unknown users have
// none.
func (r *Roster) DesksFor(user string) []desks.Desk {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]desks.Desk, 0, len(r.users[user]))
	for _, id := range r.users[user] {
		out = append(out, desks.Desk{ID: id, Name: r.desks[id]})
	}
	return out
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, have := range ids {
		if have != id {
			out = append(out, have)
		}
	}
	return out
}
