package app

import (
	"context"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"quiz-live-service/internal/countdown"
	"quiz-live-service/internal/domain"
	"quiz-live-service/internal/grading"
)

// OrganizerName is reserved; in practice mode the organizer plays under it.
const OrganizerName = "Organizer"

// organizerSlot marks the organizer in the drop queue. Player keys are never empty.
const organizerSlot = ""

type sessionMsg interface{ isSessionMsg() }

type joinMsg struct {
	conn  string
	name  string
	out   chan Message
	reply chan error
}

type leaveMsg struct {
	conn     string
	explicit bool
}

type commandMsg struct {
	conn string
	cmd  Command
}

type clockMsg struct{ ev countdown.Event }

type viewMsg struct{ reply chan View }

type closeMsg struct {
	reason  string
	message string
}

func (joinMsg) isSessionMsg()    {}
func (leaveMsg) isSessionMsg()   {}
func (commandMsg) isSessionMsg() {}
func (clockMsg) isSessionMsg()   {}
func (viewMsg) isSessionMsg()    {}
func (closeMsg) isSessionMsg()   {}

// View is a read-only snapshot of a session.
type View struct {
	Pin           string          `json:"pin"`
	GameID        string          `json:"gameId"`
	GameTitle     string          `json:"gameTitle"`
	Mode          domain.Mode     `json:"mode"`
	Phase         domain.Phase    `json:"phase"`
	Locked        bool            `json:"locked"`
	Started       bool            `json:"started"`
	QuestionIndex int             `json:"questionIndex"`
	QuestionCount int             `json:"questionCount"`
	Countdown     countdown.State `json:"countdown"`
	Paused        bool            `json:"paused"`
	Players       []domain.Player `json:"players"`
}

// SessionOptions wires a session to its organizer and collaborators.
type SessionOptions struct {
	Mode          domain.Mode
	OrganizerConn string
	OrganizerOut  chan Message
	Settings      Settings
	Clock         clockwork.Clock
	Recorder      StatsRecorder
	Wallet        Wallet
	OnClose       func(*Session)
}

type player struct {
	name      string
	conn      string
	out       chan Message
	host      bool // practice mode: the organizer playing
	score     float64
	muted     bool
	activity  domain.Activity
	submitted bool
	status    domain.PlayerStatus
	correct   int
	bonus     int
	idle      *countdown.Countdown
	idleEpoch uint64
}

func (p *player) view() domain.Player {
	return domain.Player{
		Name:         p.name,
		Score:        p.score,
		IsMuted:      p.muted,
		Activity:     p.activity,
		HasSubmitted: p.submitted,
		Status:       p.status,
		BonusCount:   p.bonus,
	}
}

type pending struct {
	answer domain.Answer
	seq    uint64
}

// Session is one live game. All state below inbox is owned by the loop goroutine;
// every mutation arrives as a message, so commands, clock ticks and roster
// changes are applied one at a time in arrival order.
type Session struct {
	pin      string
	game     domain.Game
	mode     domain.Mode
	settings Settings
	clock    clockwork.Clock
	grader   *grading.Grader
	recorder StatsRecorder
	wallet   Wallet
	onClose  func(*Session)
	log      zerolog.Logger

	inbox chan sessionMsg
	done  chan struct{}

	phase          domain.Phase
	locked         bool
	started        bool
	closed         bool
	organizer      string
	organizerOut   chan Message
	players        map[string]*player
	order          []string
	conns          map[string]string
	banned         map[string]bool
	dropQueue      []string
	timer          *countdown.Countdown
	timerEpoch     uint64
	lobbyCountdown bool
	paused         bool
	awaitingNext   bool
	questionIndex  int
	seq            uint64
	answers        map[string]*pending
	scored         map[string]bool
	startedAt      time.Time
	endedAt        time.Time
	flushed        bool
}

// NewSession starts the session loop and greets the organizer with lobbyCreated.
func NewSession(pin string, game domain.Game, opts SessionOptions) *Session {
	settings := opts.Settings.withDefaults()
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	mode := opts.Mode
	if mode == "" {
		mode = domain.ModeMulti
	}

	s := &Session{
		pin:          pin,
		game:         game,
		mode:         mode,
		settings:     settings,
		clock:        clock,
		grader:       grading.New(settings.Grading),
		recorder:     opts.Recorder,
		wallet:       opts.Wallet,
		onClose:      opts.OnClose,
		log:          log.With().Str("pin", pin).Str("game", game.ID).Logger(),
		inbox:        make(chan sessionMsg, 256),
		done:         make(chan struct{}),
		phase:        domain.PhaseWaitingRoom,
		organizer:    opts.OrganizerConn,
		organizerOut: opts.OrganizerOut,
		players:      make(map[string]*player),
		conns:        make(map[string]string),
		banned:       make(map[string]bool),
		answers:      make(map[string]*pending),
		scored:       make(map[string]bool),
	}
	s.timer = countdown.New("", clock, settings.Countdown, s.onTick)

	if mode == domain.ModePractice {
		key := nameKey(OrganizerName)
		s.players[key] = &player{
			name:     OrganizerName,
			conn:     opts.OrganizerConn,
			host:     true,
			activity: domain.ActivityIdle,
			status:   domain.StatusConnected,
		}
		s.order = append(s.order, key)
		s.conns[opts.OrganizerConn] = key
	}

	s.sendOrganizer(Message{Type: MsgLobbyCreated, Payload: lobbyCreatedPayload{
		Pin:       pin,
		GameID:    game.ID,
		GameTitle: game.Title,
		Mode:      mode,
	}})
	s.log.Info().Str("mode", string(mode)).Msg("lobby created")

	go s.loop()
	return s
}

// Pin returns the join code of the session.
func (s *Session) Pin() string { return s.pin }

// Done is closed once the session has been destroyed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Join adds a player under name. out receives every event for that player
// and is closed by the session when the player is detached.
func (s *Session) Join(ctx context.Context, conn, name string, out chan Message) error {
	reply := make(chan error, 1)
	if err := s.post(joinMsg{conn: conn, name: name, out: out, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave detaches a connection. explicit distinguishes leaveLobby from a dropped transport.
func (s *Session) Leave(conn string, explicit bool) {
	_ = s.post(leaveMsg{conn: conn, explicit: explicit})
}

// Dispatch queues a command from conn.
func (s *Session) Dispatch(conn string, cmd Command) error {
	return s.post(commandMsg{conn: conn, cmd: cmd})
}

// Close destroys the session, telling every participant why.
func (s *Session) Close(reason, message string) {
	_ = s.post(closeMsg{reason: reason, message: message})
}

// View returns a snapshot of the session state.
func (s *Session) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := s.post(viewMsg{reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-s.done:
		return View{}, domain.ErrSessionClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func (s *Session) post(m sessionMsg) error {
	select {
	case <-s.done:
		return domain.ErrSessionClosed
	default:
	}
	select {
	case s.inbox <- m:
		return nil
	case <-s.done:
		return domain.ErrSessionClosed
	}
}

func (s *Session) onTick(ev countdown.Event) {
	_ = s.post(clockMsg{ev: ev})
}

func (s *Session) loop() {
	defer close(s.done)
	defer s.stopClocks()
	for {
		msg := <-s.inbox
		switch m := msg.(type) {
		case joinMsg:
			m.reply <- s.join(m.conn, m.name, m.out)
		case leaveMsg:
			s.leave(m.conn, m.explicit)
		case commandMsg:
			s.handleCommand(m.conn, m.cmd)
		case clockMsg:
			s.handleClock(m.ev)
		case viewMsg:
			m.reply <- s.view()
		case closeMsg:
			s.closeWith(m.reason, m.message)
		}
		s.flushDrops()
		if s.closed {
			return
		}
	}
}

func (s *Session) stopClocks() {
	s.timer.Reset()
	for _, p := range s.players {
		if p.idle != nil {
			p.idle.Reset()
		}
	}
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (s *Session) enter(next domain.Phase) bool {
	if !canTransition(s.phase, next) {
		s.log.Warn().Str("from", string(s.phase)).Str("to", string(next)).Msg("illegal phase transition")
		return false
	}
	s.log.Debug().Str("from", string(s.phase)).Str("to", string(next)).Msg("phase change")
	s.phase = next
	return true
}

func (s *Session) view() View {
	return View{
		Pin:           s.pin,
		GameID:        s.game.ID,
		GameTitle:     s.game.Title,
		Mode:          s.mode,
		Phase:         s.phase,
		Locked:        s.locked,
		Started:       s.started,
		QuestionIndex: s.questionIndex,
		QuestionCount: len(s.game.Questions),
		Countdown:     s.timer.Snapshot(),
		Paused:        s.paused,
		Players:       s.roster(),
	}
}

// closeWith tears the session down. The loop exits after the current message.
func (s *Session) closeWith(reason, message string) {
	if s.closed {
		return
	}
	s.closed = true
	s.haltClock(true)
	s.stopIdleAll()

	bye := Message{Type: MsgLobbyClosed, Payload: lobbyClosedPayload{Reason: reason, Message: message}}
	for _, key := range s.order {
		p := s.players[key]
		if p.host || p.out == nil {
			continue
		}
		s.deliver(p.out, bye)
		close(p.out)
		p.out = nil
	}
	if s.organizerOut != nil {
		s.deliver(s.organizerOut, bye)
		close(s.organizerOut)
		s.organizerOut = nil
	}
	s.dropQueue = nil
	s.log.Info().Str("reason", reason).Msg("session closed")
	if s.onClose != nil {
		s.onClose(s)
	}
}
