package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"quiz-live-service/internal/domain"
)

const pinAttempts = 32

// GameService contains the lobby use cases: creating sessions, joining them by pin
// and looking them up.
type GameService struct {
	sessions SessionRepository
	games    GameRepository
	recorder StatsRecorder
	wallet   Wallet
	settings Settings
	clock    clockwork.Clock
	newPin   func() (string, error)
}

// Option customises a GameService.
type Option func(*GameService)

func WithStatsRecorder(r StatsRecorder) Option { return func(g *GameService) { g.recorder = r } }

func WithWallet(w Wallet) Option { return func(g *GameService) { g.wallet = w } }

func WithSettings(s Settings) Option { return func(g *GameService) { g.settings = s } }

// WithClock is used by tests to drive countdowns deterministically.
func WithClock(c clockwork.Clock) Option { return func(g *GameService) { g.clock = c } }

// WithPinGenerator replaces the random pin source.
func WithPinGenerator(f func() (string, error)) Option { return func(g *GameService) { g.newPin = f } }

func NewGameService(store SessionRepository, games GameRepository, opts ...Option) *GameService {
	g := &GameService{
		sessions: store,
		games:    games,
		settings: DefaultSettings(),
		clock:    clockwork.NewRealClock(),
		newPin:   GeneratePin,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GeneratePin returns a random four-digit pin.
func GeneratePin() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}

// CreateLobby loads the game and opens a session owned by the organizer connection.
func (g *GameService) CreateLobby(ctx context.Context, gameID string, mode domain.Mode, conn string, out chan Message) (*Session, error) {
	game, err := g.games.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if len(game.Questions) == 0 {
		return nil, domain.ErrEmptyGame
	}

	pin, err := g.reservePin(ctx)
	if err != nil {
		return nil, err
	}
	session := NewSession(pin, game, SessionOptions{
		Mode:          mode,
		OrganizerConn: conn,
		OrganizerOut:  out,
		Settings:      g.settings,
		Clock:         g.clock,
		Recorder:      g.recorder,
		Wallet:        g.wallet,
		OnClose:       func(s *Session) { g.sessions.Delete(s.Pin()) },
	})
	g.sessions.Put(pin, session)
	return session, nil
}

func (g *GameService) reservePin(ctx context.Context) (string, error) {
	for i := 0; i < pinAttempts; i++ {
		pin, err := g.newPin()
		if err != nil {
			return "", err
		}
		ok, err := g.sessions.Reserve(ctx, pin)
		if err != nil {
			return "", err
		}
		if ok {
			return pin, nil
		}
		log.Debug().Str("pin", pin).Msg("pin collision")
	}
	return "", domain.ErrNoFreePin
}

// Join adds a named player to the session behind pin.
func (g *GameService) Join(ctx context.Context, pin, conn, name string, out chan Message) (*Session, error) {
	session, err := g.Lookup(pin)
	if err != nil {
		return nil, err
	}
	if err := session.Join(ctx, conn, name, out); err != nil {
		return nil, err
	}
	return session, nil
}

// Lookup returns the live session for pin.
func (g *GameService) Lookup(pin string) (*Session, error) {
	session, ok := g.sessions.Get(pin)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// Settings returns the tunables new sessions run with.
func (g *GameService) Settings() Settings { return g.settings }

// Shutdown closes every live session.
func (g *GameService) Shutdown() {
	for _, s := range g.sessions.List() {
		s.Close(ReasonShutdown, "the server is shutting down")
	}
}
