package memory

import (
	"context"
	"sync"

	"quiz-live-service/internal/app"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
type SessionStore struct {
	mu       sync.RWMutex
	reserved map[string]struct{}
	sessions map[string]*app.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		reserved: make(map[string]struct{}),
		sessions: make(map[string]*app.Session),
	}
}

func (s *SessionStore) Reserve(_ context.Context, pin string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reserved[pin]; ok {
		return false, nil
	}
	s.reserved[pin] = struct{}{}
	return true, nil
}

func (s *SessionStore) Put(pin string, session *app.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserved[pin] = struct{}{}
	s.sessions[pin] = session
}

func (s *SessionStore) Get(pin string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[pin]
	return session, ok
}

func (s *SessionStore) Delete(pin string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, pin)
	delete(s.reserved, pin)
}

func (s *SessionStore) List() []*app.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*app.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	return out
}
