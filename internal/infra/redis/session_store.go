package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"quiz-live-service/internal/app"
)

const releaseTimeout = 2 * time.Second

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Notes:
//   - Sessions themselves stay in a local map; their actor loop lives in this process.
//   - Pins are reserved with SET NX so two instances sharing one Redis never
//     hand out the same pin while both lobbies are alive.
//   - The reservation expires after ttl, so a crashed instance frees its pins.
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		sessions: make(map[string]*app.Session),
	}
}

func (s *SessionStore) Reserve(ctx context.Context, pin string) (bool, error) {
	s.mu.RLock()
	_, local := s.sessions[pin]
	s.mu.RUnlock()
	if local {
		return false, nil
	}
	return s.client.SetNX(ctx, s.key(pin), "1", s.ttl).Result()
}

func (s *SessionStore) Put(pin string, session *app.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[pin] = session
}

func (s *SessionStore) Get(pin string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[pin]
	return session, ok
}

// Delete forgets the local session and releases its reservation in the
// background. Sessions call it from their own loop, so it never waits on Redis.
func (s *SessionStore) Delete(pin string) {
	s.mu.Lock()
	delete(s.sessions, pin)
	s.mu.Unlock()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := s.client.Del(ctx, s.key(pin)).Err(); err != nil {
			log.Warn().Err(err).Str("pin", pin).Msg("release session reservation")
		}
	}()
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

// Refresh extends the reservation of every local session. Lobbies can outlive ttl.
func (s *SessionStore) Refresh(ctx context.Context) error {
	s.mu.RLock()
	pins := make([]string, 0, len(s.sessions))
	for pin := range s.sessions {
		pins = append(pins, pin)
	}
	s.mu.RUnlock()
	if len(pins) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, pin := range pins {
		pipe.Expire(ctx, s.key(pin), s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *SessionStore) key(pin string) string {
	return "quiz:session:" + pin
}
