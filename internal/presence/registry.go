// Package presence tracks which identities currently hold a live connection.
// The registry is process-local and ephemeral: it is empty after a restart
// until clients reconnect, and it is the only authority for "is reachable".
package presence

import (
	"sync"

	"github.com/openclass/support-chat/internal/domain"
)

// Entry is one online identity with its connection refcount.
type Entry struct {
	Identity domain.Identity
	Conns    int
}

// Registry owns the two presence maps (end-users, staff). All mutations are
// mutex-protected; reads serve snapshots.
type Registry struct {
	mu    sync.RWMutex
	users map[string]*Entry
	staff map[string]*Entry
}

func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]*Entry),
		staff: make(map[string]*Entry),
	}
}

// Add registers one connection for the identity. It returns true when this
// is the identity's first live connection (it just came online).
func (r *Registry) Add(identity domain.Identity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.users
	if identity.IsAdmin {
		m = r.staff
	}
	if e, ok := m[identity.ID]; ok {
		e.Conns++
		return false
	}
	m[identity.ID] = &Entry{Identity: identity, Conns: 1}
	return true
}

// Remove drops one connection for the identity. It returns true when the
// identity's last connection is gone (it just went offline).
func (r *Registry) Remove(identity domain.Identity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.users
	if identity.IsAdmin {
		m = r.staff
	}
	e, ok := m[identity.ID]
	if !ok {
		return false
	}
	e.Conns--
	if e.Conns > 0 {
		return false
	}
	delete(m, identity.ID)
	return true
}

// Online reports whether the identity has at least one live connection.
func (r *Registry) Online(identityID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.staff[identityID]; ok {
		return true
	}
	_, ok := r.users[identityID]
	return ok
}

// StaffCount returns the number of distinct staff identities online.
func (r *Registry) StaffCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.staff)
}

// UserCount returns the number of distinct end-user identities online.
func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// StaffList returns a snapshot of online staff identities.
func (r *Registry) StaffList() []domain.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Identity, 0, len(r.staff))
	for _, e := range r.staff {
		out = append(out, e.Identity)
	}
	return out
}
