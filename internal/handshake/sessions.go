package handshake

import (
	"sync"

	"github.com/dmitrijs2005/gophpaste/internal/cryptox"
)

// SessionStore holds at most one live session per peer. Put replaces any
// previous session for the same peer under the lock, so readers see either
// the old or the new session and never both.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*cryptox.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*cryptox.Session)}
}

func (s *SessionStore) Get(peerID string) (*cryptox.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[peerID]
	return sess, ok
}

// Put stores sess and returns the session it replaced, if any.
func (s *SessionStore) Put(peerID string, sess *cryptox.Session) *cryptox.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.sessions[peerID]
	s.sessions[peerID] = sess
	return prev
}

func (s *SessionStore) Delete(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, peerID)
}

func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
