package services

import (
	"sync"

	"github.com/pongarena/match-system/models"
)

// SessionStore maps a live connection id to the identity resolved for it
// at connect time. The binding lives exactly as long as the connection:
// bound on a successful connect, removed on disconnect. It is an explicit
// dependency, never a package-level singleton.
type SessionStore interface {
	Bind(connID string, identity models.Identity)
	Lookup(connID string) (models.Identity, bool)
	Remove(connID string)
	Len() int
}

type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]models.Identity
}

func NewSessionStore() SessionStore {
	return &sessionStore{sessions: make(map[string]models.Identity)}
}

func (s *sessionStore) Bind(connID string, identity models.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity.ConnID = connID
	s.sessions[connID] = identity
}

func (s *sessionStore) Lookup(connID string) (models.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.sessions[connID]
	return identity, ok
}

func (s *sessionStore) Remove(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, connID)
}

func (s *sessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
