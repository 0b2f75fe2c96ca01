package domain

import (
	"sync"
	"time"
)

// Identity is the authenticated principal attached to a connection.
type Identity struct {
	ID      string
	Name    string
	IsAdmin bool
}

// Session is per-connection state: the authenticated identity plus the set
// of rooms the connection is currently subscribed to.
type Session struct {
	ID           string
	Identity     Identity
	CreatedAt    time.Time
	LastActiveAt time.Time
	rooms        map[string]struct{}
	mu           sync.RWMutex
}

func NewSession(id string, identity Identity) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		Identity:     identity,
		CreatedAt:    now,
		LastActiveAt: now,
		rooms:        make(map[string]struct{}),
	}
}

func (s *Session) JoinRoom(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[chatID] = struct{}{}
	s.LastActiveAt = time.Now()
}

func (s *Session) LeaveRoom(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, chatID)
	s.LastActiveAt = time.Now()
}

func (s *Session) InRoom(chatID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[chatID]
	return ok
}

// Rooms returns a snapshot of the subscribed room ids.
func (s *Session) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		out = append(out, id)
	}
	return out
}

func (s *Session) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActiveAt = time.Now()
}
