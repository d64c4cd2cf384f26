package app

import (
	"slices"
	"sort"

	"github.com/shopspring/decimal"

	"quiz-live-service/internal/countdown"
	"quiz-live-service/internal/domain"
	"quiz-live-service/internal/grading"
)

func (s *Session) handleCommand(conn string, cmd Command) {
	rule, ok := commandRules[cmd.Type]
	if !ok {
		s.log.Debug().Str("command", string(cmd.Type)).Msg("unknown command")
		return
	}
	organizer := conn != "" && conn == s.organizer
	key, isPlayer := s.conns[conn]
	if !rule.allowed(s.phase, organizer, isPlayer) {
		s.log.Debug().
			Str("command", string(cmd.Type)).
			Str("phase", string(s.phase)).
			Bool("organizer", organizer).
			Msg("command ignored")
		return
	}
	p := s.players[key]

	switch cmd.Type {
	case CmdToggleLock:
		s.toggleLock()
	case CmdBanPlayer:
		s.ban(cmd.Target)
	case CmdToggleMute:
		s.toggleMute(cmd.Target)
	case CmdStartCountdown:
		s.startCountdown(conn, cmd)
	case CmdStopCountdown:
		s.stopCountdown()
	case CmdResumeCountdown:
		s.resume()
	case CmdSelectChoice:
		s.selectChoice(p, cmd.Choice)
	case CmdQRLInput:
		s.qrlInput(p, cmd.Text)
	case CmdAnswerSubmitted:
		if q := s.current(); q.Type == domain.QuestionQCM || q.Type == domain.QuestionQRL {
			s.submit(p, cmd.Answer, cmd.ByTimeout)
		}
	case CmdQREAnswerSubmitted:
		if s.current().Type == domain.QuestionQRE {
			s.submit(p, cmd.Answer, cmd.ByTimeout)
		}
	case CmdEvaluationCompleted:
		s.evaluationCompleted(conn, cmd.Grades)
	case CmdEnablePanicMode:
		s.enablePanic(conn)
	case CmdGameStarted:
		if !s.canStart() {
			s.reply(conn, Message{Type: MsgError, Payload: errorPayload{Message: "lobby must be locked with at least one player"}})
			return
		}
		s.haltClock(true)
		s.startGame()
	case CmdNextQuestion:
		if s.awaitingNext {
			s.awaitingNext = false
			s.startClock(s.settings.TransitionSeconds, countdown.KindTransition)
		}
	case CmdGameEnded:
		if s.started && s.phase != domain.PhaseEnded {
			s.endGame()
		}
		s.closeWith(ReasonGameEnded, "the organizer ended the game")
	case CmdGetPlayers:
		s.reply(conn, Message{Type: MsgLatestPlayerList, Payload: playerListPayload{Players: s.roster()}})
	case CmdGetCurrentState:
		s.reply(conn, Message{Type: MsgGameState, Payload: s.statePayload(p)})
	}
}

func (s *Session) handleClock(ev countdown.Event) {
	if ev.Owner != "" {
		s.handleIdle(ev)
		return
	}
	if ev.Epoch != s.timerEpoch {
		return
	}
	msgType := MsgCountdown
	if s.phase == domain.PhaseTransition {
		msgType = MsgQuestionTransition
	}
	s.broadcast(Message{Type: msgType, Payload: countdownPayload{Count: ev.Remaining, Kind: ev.Kind, Panic: ev.Panic}})
	if !ev.Expired {
		return
	}
	s.timerEpoch = 0

	switch s.phase {
	case domain.PhaseWaitingRoom:
		if !s.lobbyCountdown {
			return
		}
		s.lobbyCountdown = false
		if !s.canStart() {
			s.sendOrganizer(Message{Type: MsgError, Payload: errorPayload{Message: "lobby must be locked with at least one player"}})
			return
		}
		s.startGame()
	case domain.PhaseQuestionActive:
		s.lockQuestion()
	case domain.PhaseTransition:
		s.advance()
	}
}

// startClock begins a session countdown and announces it.
func (s *Session) startClock(count int, kind countdown.Kind) {
	s.timerEpoch = s.timer.Start(count, kind)
	s.paused = false
	st := s.timer.Snapshot()
	s.broadcast(Message{Type: MsgCountdownStarted, Payload: countdownControlPayload{Count: count, Kind: st.Kind, Panic: st.Panic}})
}

// haltClock stops the session countdown; events already in flight become stale.
func (s *Session) haltClock(reset bool) {
	if reset {
		s.timer.Reset()
	} else {
		s.timer.Stop()
	}
	s.timerEpoch = 0
}

func (s *Session) startCountdown(conn string, cmd Command) {
	if s.phase == domain.PhaseQuestionActive && cmd.Kind == countdown.KindPanicBoost {
		s.panicBoost(conn, cmd.Count)
		return
	}
	if s.phase != domain.PhaseWaitingRoom {
		s.resume()
		return
	}
	if !s.canStart() {
		s.reply(conn, Message{Type: MsgError, Payload: errorPayload{Message: "lobby must be locked with at least one player"}})
		return
	}
	if cmd.Mode != "" && cmd.Mode != s.mode {
		s.log.Debug().Str("requested", string(cmd.Mode)).Msg("mode is fixed at lobby creation")
	}
	count := cmd.Count
	if count <= 0 {
		count = s.settings.StartCountdownSeconds
	}
	s.lobbyCountdown = true
	s.startClock(count, countdown.KindTransition)
}

func (s *Session) stopCountdown() {
	if s.phase == domain.PhaseWaitingRoom {
		if !s.lobbyCountdown {
			return
		}
		s.lobbyCountdown = false
		s.haltClock(true)
		s.broadcast(Message{Type: MsgCountdownStopped, Payload: countdownControlPayload{Kind: countdown.KindTransition}})
		return
	}
	if !s.timer.Snapshot().Running {
		return
	}
	s.haltClock(false)
	s.paused = true
	st := s.timer.Snapshot()
	s.broadcast(Message{Type: MsgCountdownStopped, Payload: countdownControlPayload{Count: st.Remaining, Kind: st.Kind, Panic: st.Panic}})
}

// resume continues a paused countdown from where it stopped.
func (s *Session) resume() {
	if !s.paused {
		return
	}
	epoch, ok := s.timer.Resume()
	if !ok {
		return
	}
	s.timerEpoch = epoch
	s.paused = false
	st := s.timer.Snapshot()
	s.broadcast(Message{Type: MsgCountdownStarted, Payload: countdownControlPayload{
		Count:   st.Remaining,
		Kind:    st.Kind,
		Panic:   st.Panic,
		Resumed: true,
	}})
}

func (s *Session) enablePanic(conn string) {
	st := s.timer.Snapshot()
	if !st.Running || st.Panic {
		return
	}
	if !s.panicAllowed(conn, st.Remaining) {
		return
	}
	if s.timer.EnablePanic() {
		s.broadcast(Message{Type: MsgPanicMode, Payload: panicPayload{Enabled: true, Remaining: st.Remaining}})
	}
}

// panicBoost restarts the question clock in panic mode, from count when
// given or from the time left otherwise.
func (s *Session) panicBoost(conn string, count int) {
	st := s.timer.Snapshot()
	if st.Panic || st.Remaining <= 0 {
		return
	}
	if !s.panicAllowed(conn, st.Remaining) {
		return
	}
	if count <= 0 || count > st.Remaining {
		count = st.Remaining
	}
	s.startClock(count, countdown.KindPanicBoost)
	s.broadcast(Message{Type: MsgPanicMode, Payload: panicPayload{Enabled: true, Remaining: count}})
}

func (s *Session) panicAllowed(conn string, remaining int) bool {
	threshold := s.settings.PanicThresholdQCM
	if s.current().Type == domain.QuestionQRL {
		threshold = s.settings.PanicThresholdQRL
	}
	if remaining < threshold {
		s.reply(conn, Message{Type: MsgError, Payload: errorPayload{Message: "too little time left for panic mode"}})
		return false
	}
	return true
}

func (s *Session) canStart() bool {
	if s.mode == domain.ModePractice {
		return true
	}
	return s.locked && s.connectedCount() > 0
}

func (s *Session) startGame() {
	if s.started {
		return
	}
	s.started = true
	s.startedAt = s.clock.Now()
	s.lobbyCountdown = false
	s.log.Info().Int("players", s.connectedCount()).Msg("game started")
	s.broadcast(Message{Type: MsgGameStarted, Payload: gameStartedPayload{
		GameTitle:     s.game.Title,
		QuestionCount: len(s.game.Questions),
	}})
	s.startQuestion(0)
}

func (s *Session) current() domain.Question {
	return s.game.Questions[s.questionIndex]
}

func (s *Session) durationFor(q domain.Question) int {
	if q.Type == domain.QuestionQRL {
		return s.settings.QRLDuration
	}
	if s.game.Duration > 0 {
		return s.game.Duration
	}
	return s.settings.DefaultDuration
}

func (s *Session) startQuestion(idx int) {
	if idx < s.questionIndex || idx >= len(s.game.Questions) {
		return
	}
	if !s.enter(domain.PhaseQuestionActive) {
		return
	}
	s.questionIndex = idx
	s.seq = 0
	s.answers = make(map[string]*pending)
	s.scored = make(map[string]bool)
	s.awaitingNext = false
	for _, p := range s.players {
		p.submitted = false
		p.activity = domain.ActivityIdle
		s.stopIdle(p)
	}

	q := s.current()
	duration := s.durationFor(q)
	public := questionPayload{Index: idx, Total: len(s.game.Questions), Duration: duration, Question: q.Public()}
	s.broadcastPlayersOnly(Message{Type: MsgQuestion, Payload: public})
	if s.mode != domain.ModePractice {
		full := public
		full.Question = q
		s.sendOrganizer(Message{Type: MsgQuestion, Payload: full})
	}
	s.startClock(duration, countdown.KindQuestion)

	switch q.Type {
	case domain.QuestionQCM:
		s.broadcastChoiceHistogram()
	case domain.QuestionQRL:
		s.broadcastActivity()
	}
}

func (s *Session) pendingFor(p *player) *pending {
	key := nameKey(p.name)
	pa, ok := s.answers[key]
	if !ok {
		pa = &pending{answer: domain.Answer{Type: s.current().Type}}
		s.answers[key] = pa
	}
	return pa
}

func (s *Session) selectChoice(p *player, idx int) {
	q := s.current()
	if q.Type != domain.QuestionQCM || p.submitted || idx < 0 || idx >= len(q.Choices) {
		return
	}
	pa := s.pendingFor(p)
	if i := slices.Index(pa.answer.Choices, idx); i >= 0 {
		// Fresh slice: snapshots already queued may still reference the old one.
		pa.answer.Choices = slices.Delete(slices.Clone(pa.answer.Choices), i, i+1)
	} else {
		pa.answer.Choices = grading.NormalizeChoices(q, append(pa.answer.Choices, idx))
	}
	s.seq++
	pa.seq = s.seq
	s.broadcastChoiceHistogram()
}

func (s *Session) qrlInput(p *player, text string) {
	if s.current().Type != domain.QuestionQRL || p.submitted {
		return
	}
	pa := s.pendingFor(p)
	pa.answer.Text = text
	s.seq++
	pa.seq = s.seq

	wasActive := p.activity == domain.ActivityActive
	p.activity = domain.ActivityActive
	s.armIdle(p)
	if !wasActive {
		s.broadcastActivity()
	}
}

// submit records a final answer. An explicit submission takes a fresh arrival
// order; one sent on timeout keeps the order of the pending answer it finalizes.
func (s *Session) submit(p *player, answer domain.Answer, byTimeout bool) {
	q := s.current()
	answer.Type = q.Type
	pa := s.pendingFor(p)
	hadPending := pa.seq != 0
	// An empty submit confirms what was already selected or typed.
	if q.Type == domain.QuestionQCM && answer.Choices == nil {
		answer.Choices = pa.answer.Choices
	}
	if q.Type == domain.QuestionQRL && answer.Text == "" {
		answer.Text = pa.answer.Text
	}
	if q.Type == domain.QuestionQCM {
		answer.Choices = grading.NormalizeChoices(q, answer.Choices)
	}
	pa.answer = answer
	if !byTimeout || !hadPending {
		s.seq++
		pa.seq = s.seq
	}
	p.submitted = true

	switch q.Type {
	case domain.QuestionQCM:
		s.broadcastChoiceHistogram()
	case domain.QuestionQRE:
		s.broadcastSubmissions()
	case domain.QuestionQRL:
		s.stopIdle(p)
	}
	s.broadcastPlayers()
	s.lockIfAllSubmitted()
}

func (s *Session) lockIfAllSubmitted() {
	if s.phase != domain.PhaseQuestionActive {
		return
	}
	n := 0
	for _, p := range s.players {
		if p.status != domain.StatusConnected {
			continue
		}
		if !p.submitted {
			return
		}
		n++
	}
	if n > 0 {
		s.lockQuestion()
	}
}

// lockQuestion freezes answers and scores them. Pending answers of players
// who never submitted count as their final answers.
func (s *Session) lockQuestion() {
	if !s.enter(domain.PhaseQuestionLocked) {
		return
	}
	s.haltClock(true)
	s.paused = false
	s.stopIdleAll()
	s.broadcast(Message{Type: MsgQuestionLocked, Payload: questionLockedPayload{Index: s.questionIndex}})

	q := s.current()
	switch q.Type {
	case domain.QuestionQCM, domain.QuestionQRE:
		s.scoreAutomatic(q)
		s.enterTransition()
	case domain.QuestionQRL:
		answers := s.qrlAnswers()
		if s.mode == domain.ModePractice {
			graded := make([]domain.GradedAnswer, 0, len(answers))
			for _, a := range answers {
				graded = append(graded, domain.GradedAnswer{PlayerName: a.PlayerName, Text: a.Text, Grade: domain.GradeFull})
			}
			s.finishEvaluation(q, graded)
			return
		}
		if len(answers) == 0 {
			s.enterTransition()
			return
		}
		if !s.enter(domain.PhaseEvaluation) {
			return
		}
		s.sendOrganizer(Message{Type: MsgQRLEnd, Payload: qrlEndPayload{Answers: answers}})
	}
}

func (s *Session) eligible(key string) (*player, bool) {
	p, ok := s.players[key]
	if !ok || p.status == domain.StatusLeft {
		return nil, false
	}
	return p, true
}

func (s *Session) scoreAutomatic(q domain.Question) {
	subs := make([]grading.Submission, 0, len(s.answers))
	for key, pa := range s.answers {
		p, ok := s.eligible(key)
		if !ok {
			continue
		}
		subs = append(subs, grading.Submission{PlayerName: p.name, Answer: pa.answer, Seq: pa.seq})
	}

	results, bonus := s.grader.GradeAutomatic(q, subs, s.mode == domain.ModePractice)
	payload := automaticEndPayload{BonusRecipient: bonus, Results: s.applyResults(results)}
	msgType := MsgQCMEnd
	if q.Type == domain.QuestionQRE {
		msgType = MsgQREEnd
		if q.Estimate != nil {
			v := q.Estimate.CorrectValue
			payload.CorrectValue = &v
		}
	} else {
		payload.CorrectChoices = q.CorrectChoices()
	}
	s.broadcast(Message{Type: msgType, Payload: payload})
	s.broadcastPlayers()
}

// qrlAnswers lists the QRL answers awaiting a grade, sorted by player name.
func (s *Session) qrlAnswers() []qrlAnswer {
	out := make([]qrlAnswer, 0, len(s.answers))
	for key, pa := range s.answers {
		p, ok := s.eligible(key)
		if !ok {
			continue
		}
		out = append(out, qrlAnswer{PlayerName: p.name, Text: pa.answer.Text})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerName < out[j].PlayerName })
	return out
}

func (s *Session) evaluationCompleted(conn string, grades []domain.GradedAnswer) {
	byKey := make(map[string]domain.Grade, len(grades))
	for _, g := range grades {
		if !g.Grade.Valid() {
			s.reply(conn, Message{Type: MsgError, Payload: errorPayload{Message: "grades must be 0, 0.5 or 1"}})
			return
		}
		byKey[nameKey(g.PlayerName)] = g.Grade
	}

	answers := s.qrlAnswers()
	graded := make([]domain.GradedAnswer, 0, len(answers))
	for _, a := range answers {
		graded = append(graded, domain.GradedAnswer{
			PlayerName: a.PlayerName,
			Text:       a.Text,
			Grade:      byKey[nameKey(a.PlayerName)],
		})
	}
	s.finishEvaluation(s.current(), graded)
}

func (s *Session) finishEvaluation(q domain.Question, graded []domain.GradedAnswer) {
	results := s.applyResults(s.grader.GradeManual(q, graded))
	s.broadcast(Message{Type: MsgQRLResults, Payload: qrlResultsPayload{
		Answers:   graded,
		Results:   results,
		Histogram: grading.TallyGrades(graded),
	}})
	s.broadcastPlayers()
	s.enterTransition()
}

// applyResults adds rewards to the roster. A player is scored at most once per
// question, and only while the question is locked or under evaluation.
func (s *Session) applyResults(results []domain.ScoreResult) []domain.ScoreResult {
	if s.phase != domain.PhaseQuestionLocked && s.phase != domain.PhaseEvaluation {
		return nil
	}
	out := make([]domain.ScoreResult, 0, len(results))
	for _, r := range results {
		key := nameKey(r.PlayerName)
		p, ok := s.players[key]
		if !ok || s.scored[key] {
			continue
		}
		s.scored[key] = true
		if r.Reward > 0 {
			p.score = decimal.NewFromFloat(p.score).Add(decimal.NewFromFloat(r.Reward)).Round(2).InexactFloat64()
		}
		if r.Correct {
			p.correct++
		}
		if r.FirstCorrectBonus {
			p.bonus++
		}
		r.TotalScore = p.score
		out = append(out, r)
	}
	return out
}

func (s *Session) enterTransition() {
	if !s.enter(domain.PhaseTransition) {
		return
	}
	if s.settings.ManualAdvance && s.mode == domain.ModeMulti {
		s.awaitingNext = true
		s.sendOrganizer(Message{Type: MsgAwaitingNextQuestion, Payload: questionLockedPayload{Index: s.questionIndex}})
		return
	}
	s.startClock(s.settings.TransitionSeconds, countdown.KindTransition)
}

func (s *Session) advance() {
	if s.questionIndex+1 >= len(s.game.Questions) {
		s.endGame()
		return
	}
	s.startQuestion(s.questionIndex + 1)
}

func (s *Session) endGame() {
	if !s.enter(domain.PhaseEnded) {
		return
	}
	s.haltClock(true)
	s.paused = false
	s.awaitingNext = false
	s.stopIdleAll()
	s.endedAt = s.clock.Now()

	s.broadcast(Message{Type: MsgGameEnded, Payload: gameEndedPayload{Players: s.ranking(), Winners: s.winners()}})
	s.log.Info().Msg("game ended")
	if s.started {
		s.flushStats()
	}
}

// winners are the players sharing the top score. Nobody wins with zero points.
func (s *Session) winners() []string {
	var best float64
	var names []string
	for _, p := range s.ranking() {
		switch {
		case p.Score <= 0:
		case p.Score > best:
			best = p.Score
			names = []string{p.Name}
		case p.Score == best:
			names = append(names, p.Name)
		}
	}
	return names
}

func (s *Session) statePayload(p *player) StatePayload {
	st := StatePayload{
		Pin:           s.pin,
		Phase:         s.phase,
		Locked:        s.locked,
		Started:       s.started,
		QuestionIndex: s.questionIndex,
		QuestionCount: len(s.game.Questions),
		Countdown:     s.timer.Snapshot(),
		Paused:        s.paused,
		Players:       s.roster(),
	}
	if !s.started || s.phase == domain.PhaseEnded {
		return st
	}
	q := s.current()
	if p == nil || s.phase != domain.PhaseQuestionActive {
		st.Question = &q
	} else {
		pub := q.Public()
		st.Question = &pub
	}
	if p != nil {
		st.HasSubmitted = p.submitted
		if pa, ok := s.answers[nameKey(p.name)]; ok {
			a := pa.answer
			a.Choices = slices.Clone(pa.answer.Choices)
			st.Pending = &a
		}
	}
	return st
}
