package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"quiz-live-service/internal/domain"
)

const orgConn = "org"

type testStore struct {
	mu       sync.Mutex
	reserved map[string]bool
	sessions map[string]*Session
}

func newTestStore() *testStore {
	return &testStore{reserved: map[string]bool{}, sessions: map[string]*Session{}}
}

func (s *testStore) Reserve(_ context.Context, pin string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserved[pin] {
		return false, nil
	}
	s.reserved[pin] = true
	return true, nil
}

func (s *testStore) Put(pin string, session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[pin] = session
}

func (s *testStore) Get(pin string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[pin]
	return session, ok
}

func (s *testStore) Delete(pin string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, pin)
	delete(s.reserved, pin)
}

func (s *testStore) List() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	return out
}

type staticGames map[string]domain.Game

func (g staticGames) GetGame(_ context.Context, id string) (domain.Game, error) {
	game, ok := g[id]
	if !ok {
		return domain.Game{}, domain.ErrGameNotFound
	}
	return game, nil
}

type testRecorder struct {
	ch chan domain.GameSummary
}

func (r *testRecorder) RecordGame(_ context.Context, summary domain.GameSummary) error {
	r.ch <- summary
	return nil
}

type testWallet struct {
	mu       sync.Mutex
	balances map[string]int64
}

func (w *testWallet) Credit(_ context.Context, player string, coins int64) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[player] += coins
	return w.balances[player], nil
}

type harness struct {
	t        *testing.T
	clock    *clockwork.FakeClock
	store    *testStore
	recorder *testRecorder
	wallet   *testWallet
	svc      *GameService
}

func newHarness(t *testing.T, games staticGames, settings Settings) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		clock:    clockwork.NewFakeClock(),
		store:    newTestStore(),
		recorder: &testRecorder{ch: make(chan domain.GameSummary, 4)},
		wallet:   &testWallet{balances: map[string]int64{}},
	}
	h.svc = NewGameService(h.store, games,
		WithClock(h.clock),
		WithSettings(settings),
		WithStatsRecorder(h.recorder),
		WithWallet(h.wallet),
	)
	return h
}

func testSettings() Settings {
	s := DefaultSettings()
	s.QRLDuration = 6
	s.TransitionSeconds = 3
	return s
}

func (h *harness) create(gameID string, mode domain.Mode) (*Session, chan Message) {
	h.t.Helper()
	out := make(chan Message, 512)
	s, err := h.svc.CreateLobby(context.Background(), gameID, mode, orgConn, out)
	require.NoError(h.t, err)
	next(h.t, out, MsgLobbyCreated)
	h.t.Cleanup(func() { s.Close(ReasonShutdown, "") })
	return s, out
}

func (h *harness) join(s *Session, name string) chan Message {
	h.t.Helper()
	out := make(chan Message, 512)
	require.NoError(h.t, s.Join(context.Background(), "conn-"+name, name, out))
	next(h.t, out, MsgLobbyJoined)
	return out
}

// tick advances one second and waits for the resulting countdown message.
func (h *harness) tick(ch <-chan Message, typ string, want int) countdownPayload {
	h.t.Helper()
	h.clock.Advance(time.Second)
	m := next(h.t, ch, typ)
	p := m.Payload.(countdownPayload)
	require.Equal(h.t, want, p.Count)
	return p
}

func (h *harness) summary() domain.GameSummary {
	h.t.Helper()
	select {
	case s := <-h.recorder.ch:
		return s
	case <-time.After(2 * time.Second):
		h.t.Fatalf("timed out waiting for game summary")
	}
	return domain.GameSummary{}
}

// next skips messages until one of type typ arrives.
func next(t *testing.T, ch <-chan Message, typ string) Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed while waiting for %s", typ)
			}
			if m.Type == typ {
				return m
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

// view doubles as a barrier: every command dispatched before it has been applied.
func view(t *testing.T, s *Session) View {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := s.View(ctx)
	require.NoError(t, err)
	return v
}

func dispatch(t *testing.T, s *Session, conn string, cmd Command) {
	t.Helper()
	require.NoError(t, s.Dispatch(conn, cmd))
}

func playerByName(players []domain.Player, name string) domain.Player {
	for _, p := range players {
		if p.Name == name {
			return p
		}
	}
	return domain.Player{}
}

func resultByName(results []domain.ScoreResult, name string) domain.ScoreResult {
	for _, r := range results {
		if r.PlayerName == name {
			return r
		}
	}
	return domain.ScoreResult{}
}

func qcmGame(duration int, questions int) domain.Game {
	g := domain.Game{ID: "qcm", Title: "Numbers", Duration: duration}
	for i := 0; i < questions; i++ {
		g.Questions = append(g.Questions, domain.Question{
			ID:     "q" + string(rune('1'+i)),
			Type:   domain.QuestionQCM,
			Text:   "What is 2 + 2?",
			Points: 10,
			Choices: []domain.Choice{
				{Text: "3"},
				{Text: "4", IsCorrect: true},
				{Text: "5"},
			},
		})
	}
	return g
}

func qrlGame() domain.Game {
	return domain.Game{
		ID:    "qrl",
		Title: "Essay",
		Questions: []domain.Question{
			{ID: "q1", Type: domain.QuestionQRL, Text: "Explain recursion", Points: 40},
		},
	}
}

func qreGame() domain.Game {
	return domain.Game{
		ID:       "qre",
		Title:    "Estimates",
		Duration: 10,
		Questions: []domain.Question{
			{
				ID:     "q1",
				Type:   domain.QuestionQRE,
				Text:   "Boiling point of water",
				Points: 50,
				Estimate: &domain.Estimate{
					LowerBound:   0,
					UpperBound:   200,
					Step:         1,
					CorrectValue: 100,
					Tolerance:    5,
				},
			},
		},
	}
}

func startMulti(t *testing.T, s *Session) {
	t.Helper()
	dispatch(t, s, orgConn, Command{Type: CmdToggleLock})
	dispatch(t, s, orgConn, Command{Type: CmdGameStarted})
}
