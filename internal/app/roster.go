package app

import (
	"slices"
	"sort"
	"strings"

	"quiz-live-service/internal/countdown"
	"quiz-live-service/internal/domain"
	"quiz-live-service/internal/grading"
)

type errorPayload struct {
	Message string `json:"message"`
}

// MsgError reports a rejected organizer action to its sender only.
const MsgError = "error"

func (s *Session) join(conn, name string, out chan Message) error {
	if s.closed {
		return domain.ErrSessionClosed
	}
	if s.mode == domain.ModePractice {
		return domain.ErrLobbyLocked
	}
	if _, ok := s.conns[conn]; ok || conn == s.organizer {
		return domain.ErrAlreadyInSession
	}
	name = strings.TrimSpace(name)
	key := nameKey(name)
	if key == "" || key == nameKey(OrganizerName) {
		return domain.ErrInvalidName
	}
	if s.banned[key] {
		return domain.ErrNameBanned
	}

	if p, ok := s.players[key]; ok {
		switch {
		case !s.started:
			return domain.ErrNameTaken
		case p.status == domain.StatusLeft || s.phase == domain.PhaseEnded:
			return domain.ErrGameStarted
		case p.status != domain.StatusDisconnected:
			return domain.ErrNameTaken
		}
		p.conn = conn
		p.out = out
		p.status = domain.StatusConnected
		s.conns[conn] = key
		s.log.Info().Str("player", p.name).Msg("player reconnected")
		s.sendTo(p, Message{Type: MsgLobbyJoined, Payload: lobbyJoinedPayload{Pin: s.pin, Name: p.name, Reconnected: true}})
		s.sendTo(p, Message{Type: MsgGameState, Payload: s.statePayload(p)})
		s.broadcastPlayers()
		return nil
	}

	if s.started {
		return domain.ErrGameStarted
	}
	if s.locked {
		return domain.ErrLobbyLocked
	}

	p := &player{
		name:     name,
		conn:     conn,
		out:      out,
		activity: domain.ActivityIdle,
		status:   domain.StatusConnected,
	}
	s.players[key] = p
	s.order = append(s.order, key)
	s.conns[conn] = key
	s.log.Info().Str("player", name).Msg("player joined")
	s.sendTo(p, Message{Type: MsgLobbyJoined, Payload: lobbyJoinedPayload{Pin: s.pin, Name: name}})
	s.broadcastPlayers()
	return nil
}

func (s *Session) leave(conn string, explicit bool) {
	if conn != "" && conn == s.organizer {
		s.log.Info().Bool("explicit", explicit).Msg("organizer left")
		s.closeWith(ReasonNoHost, "the organizer left the game")
		return
	}
	key, ok := s.conns[conn]
	if !ok {
		return
	}
	s.detach(s.players[key], explicit)
}

// detach unbinds a player from its connection. Before the game starts the
// player is removed; afterwards the entry keeps its score so the name can reconnect.
func (s *Session) detach(p *player, explicit bool) {
	key := nameKey(p.name)
	delete(s.conns, p.conn)
	p.conn = ""
	if p.out != nil {
		close(p.out)
		p.out = nil
	}
	s.stopIdle(p)

	if !s.started {
		delete(s.players, key)
		s.order = slices.DeleteFunc(s.order, func(k string) bool { return k == key })
		s.log.Info().Str("player", p.name).Msg("player left lobby")
		s.broadcastPlayers()
		s.checkLobbyCountdown()
		return
	}

	if explicit {
		p.status = domain.StatusLeft
	} else {
		p.status = domain.StatusDisconnected
	}
	s.log.Info().Str("player", p.name).Str("status", string(p.status)).Msg("player detached")
	s.broadcastPlayers()
	s.checkPlayersLeft()
}

// checkLobbyCountdown cancels a pending start once the lobby empties. The
// lobby stays locked until the organizer reopens it.
func (s *Session) checkLobbyCountdown() {
	if !s.lobbyCountdown || s.connectedCount() > 0 {
		return
	}
	s.lobbyCountdown = false
	s.haltClock(true)
	s.locked = true
	s.sendOrganizer(Message{Type: MsgNoPlayers})
	s.broadcast(Message{Type: MsgCountdownStopped, Payload: countdownControlPayload{Kind: countdown.KindTransition}})
	s.broadcast(Message{Type: MsgLockToggled, Payload: lockPayload{Locked: true}})
}

// checkPlayersLeft ends a running game once nobody is left to play it.
func (s *Session) checkPlayersLeft() {
	if s.closed || s.phase == domain.PhaseEnded {
		return
	}
	if s.connectedCount() == 0 {
		s.sendOrganizer(Message{Type: MsgNoPlayers})
		s.endGame()
		s.closeWith(ReasonNoPlayers, "every player left the game")
		return
	}
	if s.phase == domain.PhaseQuestionActive {
		s.lockIfAllSubmitted()
	}
}

func (s *Session) toggleLock() {
	s.locked = !s.locked
	s.broadcast(Message{Type: MsgLockToggled, Payload: lockPayload{Locked: s.locked}})
}

func (s *Session) ban(target string) {
	key := nameKey(target)
	p, ok := s.players[key]
	if !ok || p.host {
		return
	}
	s.banned[key] = true
	s.log.Info().Str("player", p.name).Msg("player banned")
	s.sendTo(p, Message{Type: MsgLobbyClosed, Payload: lobbyClosedPayload{
		Reason:  ReasonBanned,
		Message: "you were removed by the organizer",
	}})
	s.detach(p, true)
}

func (s *Session) toggleMute(target string) {
	p, ok := s.players[nameKey(target)]
	if !ok || p.host {
		return
	}
	p.muted = !p.muted
	s.sendTo(p, Message{Type: MsgMuteToggled, Payload: mutePayload{Name: p.name, IsMuted: p.muted}})
	s.broadcastPlayers()
}

func (s *Session) connectedCount() int {
	n := 0
	for _, p := range s.players {
		if p.status == domain.StatusConnected {
			n++
		}
	}
	return n
}

// roster lists every player that has not left, in join order.
func (s *Session) roster() []domain.Player {
	out := make([]domain.Player, 0, len(s.order))
	for _, key := range s.order {
		p := s.players[key]
		if p.status == domain.StatusLeft {
			continue
		}
		out = append(out, p.view())
	}
	return out
}

// ranking orders the roster by score, ties broken by name.
func (s *Session) ranking() []domain.Player {
	out := s.roster()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (s *Session) broadcastPlayers() {
	s.broadcast(Message{Type: MsgLatestPlayerList, Payload: playerListPayload{Players: s.roster()}})
}

func (s *Session) broadcastChoiceHistogram() {
	q := s.current()
	selections := make([][]int, 0, len(s.answers))
	for _, pa := range s.answers {
		selections = append(selections, pa.answer.Choices)
	}
	s.broadcast(Message{Type: MsgUpdateHistogram, Payload: grading.TallyChoices(q, selections)})
}

func (s *Session) broadcastSubmissions() {
	submitted := make([]bool, 0, len(s.players))
	for _, key := range s.order {
		p := s.players[key]
		if p.status != domain.StatusConnected {
			continue
		}
		submitted = append(submitted, p.submitted)
	}
	s.broadcast(Message{Type: MsgUpdateHistogram, Payload: grading.TallySubmissions(submitted)})
}

func (s *Session) broadcastActivity() {
	states := make([]domain.Activity, 0, len(s.players))
	for _, key := range s.order {
		p := s.players[key]
		if p.status != domain.StatusConnected {
			continue
		}
		states = append(states, p.activity)
	}
	s.broadcast(Message{Type: MsgQRLUpdateHistogram, Payload: grading.TallyActivity(states)})
}

// armIdle restarts the inactivity window of a QRL player.
func (s *Session) armIdle(p *player) {
	if p.idle == nil {
		p.idle = countdown.New(nameKey(p.name), s.clock, countdown.Config{Tick: s.settings.Countdown.Tick}, s.onTick)
	}
	p.idleEpoch = p.idle.Start(s.settings.InactivityTicks, countdown.KindInputInactivity)
}

func (s *Session) stopIdle(p *player) {
	if p.idle != nil {
		p.idle.Reset()
	}
	p.idleEpoch = 0
}

func (s *Session) stopIdleAll() {
	for _, p := range s.players {
		s.stopIdle(p)
	}
}

func (s *Session) handleIdle(ev countdown.Event) {
	p, ok := s.players[ev.Owner]
	if !ok || ev.Epoch != p.idleEpoch || !ev.Expired {
		return
	}
	if s.phase != domain.PhaseQuestionActive || p.activity != domain.ActivityActive {
		return
	}
	p.activity = domain.ActivityInactive
	s.broadcastActivity()
}

// deliver never blocks; a full outbox means the client is too slow.
func (s *Session) deliver(out chan Message, msg Message) bool {
	if out == nil {
		return true
	}
	select {
	case out <- msg:
		return true
	default:
		return false
	}
}

func (s *Session) outOf(p *player) chan Message {
	if p.host {
		return s.organizerOut
	}
	return p.out
}

func (s *Session) sendTo(p *player, msg Message) {
	if s.closed || s.deliver(s.outOf(p), msg) {
		return
	}
	if p.host {
		s.dropQueue = append(s.dropQueue, organizerSlot)
		return
	}
	s.dropQueue = append(s.dropQueue, nameKey(p.name))
}

func (s *Session) sendOrganizer(msg Message) {
	if s.closed || s.deliver(s.organizerOut, msg) {
		return
	}
	s.dropQueue = append(s.dropQueue, organizerSlot)
}

// broadcast sends msg to the organizer and every connected player.
func (s *Session) broadcast(msg Message) {
	s.sendOrganizer(msg)
	for _, key := range s.order {
		p := s.players[key]
		if p.host || p.out == nil {
			continue
		}
		s.sendTo(p, msg)
	}
}

// broadcastPlayersOnly skips the organizer.
func (s *Session) broadcastPlayersOnly(msg Message) {
	for _, key := range s.order {
		p := s.players[key]
		if p.out == nil && !p.host {
			continue
		}
		s.sendTo(p, msg)
	}
}

func (s *Session) reply(conn string, msg Message) {
	if conn == s.organizer {
		s.sendOrganizer(msg)
		return
	}
	if key, ok := s.conns[conn]; ok {
		s.sendTo(s.players[key], msg)
	}
}

// flushDrops detaches clients whose outbox overflowed while handling the last message.
func (s *Session) flushDrops() {
	for len(s.dropQueue) > 0 && !s.closed {
		key := s.dropQueue[0]
		s.dropQueue = s.dropQueue[1:]
		if key == organizerSlot {
			s.log.Warn().Msg("organizer outbox full, closing session")
			s.closeWith(ReasonNoHost, "the organizer connection was lost")
			return
		}
		p, ok := s.players[key]
		if !ok || p.out == nil {
			continue
		}
		s.log.Warn().Str("player", p.name).Msg("dropping slow client")
		s.detach(p, false)
	}
}
