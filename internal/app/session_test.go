package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-live-service/internal/countdown"
	"quiz-live-service/internal/domain"
	"quiz-live-service/internal/grading"
)

func TestQCMTimeoutAwardsFirstCorrectBonus(t *testing.T) {
	h := newHarness(t, staticGames{"qcm": qcmGame(5, 1)}, testSettings())
	s, org := h.create("qcm", domain.ModeMulti)
	a := h.join(s, "A")
	h.join(s, "B")

	startMulti(t, s)
	next(t, a, MsgQuestion)
	started := next(t, org, MsgCountdownStarted).Payload.(countdownControlPayload)
	require.Equal(t, 5, started.Count)

	h.tick(org, MsgCountdown, 4)
	h.tick(org, MsgCountdown, 3)
	dispatch(t, s, "conn-A", Command{Type: CmdSelectChoice, Choice: 1})
	view(t, s)
	h.tick(org, MsgCountdown, 2)
	dispatch(t, s, "conn-B", Command{Type: CmdSelectChoice, Choice: 1})
	view(t, s)
	h.tick(org, MsgCountdown, 1)
	last := h.tick(org, MsgCountdown, 0)
	assert.Equal(t, countdown.KindQuestion, last.Kind)

	end := next(t, org, MsgQCMEnd).Payload.(automaticEndPayload)
	assert.Equal(t, "A", end.BonusRecipient)
	assert.Equal(t, []int{1}, end.CorrectChoices)
	assert.Equal(t, 12.0, resultByName(end.Results, "A").Reward)
	assert.True(t, resultByName(end.Results, "A").FirstCorrectBonus)
	assert.Equal(t, 10.0, resultByName(end.Results, "B").Reward)
	assert.False(t, resultByName(end.Results, "B").FirstCorrectBonus)

	transition := next(t, org, MsgCountdownStarted).Payload.(countdownControlPayload)
	assert.Equal(t, countdown.KindTransition, transition.Kind)
	h.tick(org, MsgQuestionTransition, 2)
	h.tick(org, MsgQuestionTransition, 1)
	h.tick(org, MsgQuestionTransition, 0)

	ended := next(t, org, MsgGameEnded).Payload.(gameEndedPayload)
	assert.Equal(t, []string{"A"}, ended.Winners)
	require.Len(t, ended.Players, 2)
	assert.Equal(t, "A", ended.Players[0].Name)

	summary := h.summary()
	require.Len(t, summary.Players, 2)
	assert.Equal(t, "A", summary.Players[0].PlayerName)
	assert.True(t, summary.Players[0].HasWon)
	assert.Equal(t, 1.0, summary.Players[0].CorrectAnswerRatio)
	assert.Equal(t, int64(11), summary.Players[0].Coins)
	assert.Equal(t, int64(1), summary.Players[1].Coins)
	assert.Equal(t, s.Pin(), summary.Pin)
}

func TestQCMAllSubmittedLocksEarly(t *testing.T) {
	h := newHarness(t, staticGames{"qcm": qcmGame(20, 1)}, testSettings())
	s, org := h.create("qcm", domain.ModeMulti)
	h.join(s, "A")
	h.join(s, "B")
	startMulti(t, s)
	next(t, org, MsgCountdownStarted)

	dispatch(t, s, "conn-B", Command{Type: CmdAnswerSubmitted, Answer: domain.Answer{Choices: []int{0}}})
	dispatch(t, s, "conn-A", Command{Type: CmdAnswerSubmitted, Answer: domain.Answer{Choices: []int{1}}})

	end := next(t, org, MsgQCMEnd).Payload.(automaticEndPayload)
	assert.Equal(t, "A", end.BonusRecipient)
	assert.False(t, resultByName(end.Results, "B").Correct)
	assert.Equal(t, domain.PhaseTransition, view(t, s).Phase)
}

func TestEmptySubmitConfirmsSelection(t *testing.T) {
	h := newHarness(t, staticGames{"qcm": qcmGame(20, 1)}, testSettings())
	s, org := h.create("qcm", domain.ModeMulti)
	h.join(s, "A")
	startMulti(t, s)
	next(t, org, MsgCountdownStarted)

	dispatch(t, s, "conn-A", Command{Type: CmdSelectChoice, Choice: 1})
	dispatch(t, s, "conn-A", Command{Type: CmdAnswerSubmitted})

	end := next(t, org, MsgQCMEnd).Payload.(automaticEndPayload)
	assert.True(t, resultByName(end.Results, "A").Correct)
}

func TestQueuedStateKeepsSelectionAfterDeselect(t *testing.T) {
	h := newHarness(t, staticGames{"qcm": qcmGame(20, 1)}, testSettings())
	s, _ := h.create("qcm", domain.ModeMulti)
	a := h.join(s, "A")
	h.join(s, "B")
	startMulti(t, s)
	next(t, a, MsgQuestion)

	dispatch(t, s, "conn-A", Command{Type: CmdSelectChoice, Choice: 0})
	dispatch(t, s, "conn-A", Command{Type: CmdSelectChoice, Choice: 2})
	dispatch(t, s, "conn-A", Command{Type: CmdGetCurrentState})
	dispatch(t, s, "conn-A", Command{Type: CmdSelectChoice, Choice: 0})
	view(t, s)

	// The state was queued before the deselect and must still show both choices.
	st := next(t, a, MsgGameState).Payload.(StatePayload)
	require.NotNil(t, st.Pending)
	assert.Equal(t, []int{0, 2}, st.Pending.Choices)

	dispatch(t, s, "conn-A", Command{Type: CmdGetCurrentState})
	latest := next(t, a, MsgGameState).Payload.(StatePayload)
	require.NotNil(t, latest.Pending)
	assert.Equal(t, []int{2}, latest.Pending.Choices)
}

func TestResubmitScoresOnce(t *testing.T) {
	h := newHarness(t, staticGames{"qcm": qcmGame(20, 1)}, testSettings())
	s, org := h.create("qcm", domain.ModeMulti)
	h.join(s, "A")
	h.join(s, "B")
	startMulti(t, s)
	next(t, org, MsgCountdownStarted)

	dispatch(t, s, "conn-A", Command{Type: CmdAnswerSubmitted, Answer: domain.Answer{Choices: []int{1}}})
	dispatch(t, s, "conn-A", Command{Type: CmdAnswerSubmitted, Answer: domain.Answer{Choices: []int{1}}})
	assert.Equal(t, domain.PhaseQuestionActive, view(t, s).Phase)
	dispatch(t, s, "conn-B", Command{Type: CmdAnswerSubmitted, Answer: domain.Answer{Choices: []int{0}}})

	end := next(t, org, MsgQCMEnd).Payload.(automaticEndPayload)
	require.Len(t, end.Results, 2)
	assert.Equal(t, "A", end.BonusRecipient)
	assert.Equal(t, 12.0, resultByName(end.Results, "A").Reward)
	assert.Equal(t, 12.0, playerByName(view(t, s).Players, "A").Score)

	// A late submit after the lock changes nothing.
	dispatch(t, s, "conn-A", Command{Type: CmdAnswerSubmitted, Answer: domain.Answer{Choices: []int{1}}})
	v := view(t, s)
	assert.Equal(t, domain.PhaseTransition, v.Phase)
	assert.Equal(t, 12.0, playerByName(v.Players, "A").Score)
	assert.Zero(t, playerByName(v.Players, "B").Score)
}

func TestQREExactMatchTakesNoBonus(t *testing.T) {
	h := newHarness(t, staticGames{"qre": qreGame()}, testSettings())
	s, org := h.create("qre", domain.ModeMulti)
	h.join(s, "A")
	h.join(s, "B")
	startMulti(t, s)
	next(t, org, MsgCountdownStarted)

	// answerSubmitted does not apply to estimate questions.
	dispatch(t, s, "conn-A", Command{Type: CmdAnswerSubmitted, Answer: domain.Answer{Value: 100}})
	assert.False(t, playerByName(view(t, s).Players, "A").HasSubmitted)

	dispatch(t, s, "conn-A", Command{Type: CmdQREAnswerSubmitted, Answer: domain.Answer{Value: 100}})
	dispatch(t, s, "conn-B", Command{Type: CmdQREAnswerSubmitted, Answer: domain.Answer{Value: 97}})

	end := next(t, org, MsgQREEnd).Payload.(automaticEndPayload)
	assert.Empty(t, end.BonusRecipient)
	require.NotNil(t, end.CorrectValue)
	assert.Equal(t, 100.0, *end.CorrectValue)
	assert.True(t, resultByName(end.Results, "A").ExactMatch)
	assert.Equal(t, 60.0, resultByName(end.Results, "A").Reward)
	assert.Equal(t, 50.0, resultByName(end.Results, "B").Reward)
}

func TestQRESubmitBroadcastsTally(t *testing.T) {
	h := newHarness(t, staticGames{"qre": qreGame()}, testSettings())
	s, org := h.create("qre", domain.ModeMulti)
	h.join(s, "A")
	b := h.join(s, "B")
	startMulti(t, s)
	next(t, org, MsgCountdownStarted)

	dispatch(t, s, "conn-A", Command{Type: CmdQREAnswerSubmitted, Answer: domain.Answer{Value: 90}})
	tally := next(t, org, MsgUpdateHistogram).Payload.(grading.SubmissionTally)
	assert.Equal(t, grading.SubmissionTally{Submitted: 1, Pending: 1}, tally)
	seen := next(t, b, MsgUpdateHistogram).Payload.(grading.SubmissionTally)
	assert.Equal(t, tally, seen)
}

func TestQRLEvaluationScoresOnlySubmitters(t *testing.T) {
	h := newHarness(t, staticGames{"qrl": qrlGame()}, testSettings())
	s, org := h.create("qrl", domain.ModeMulti)
	h.join(s, "A")
	h.join(s, "B")
	h.join(s, "C")
	startMulti(t, s)
	next(t, org, MsgCountdownStarted)

	dispatch(t, s, "conn-A", Command{Type: CmdQRLInput, Text: "a function"})
	dispatch(t, s, "conn-A", Command{Type: CmdAnswerSubmitted, Answer: domain.Answer{Text: "a function calling itself"}})
	dispatch(t, s, "conn-B", Command{Type: CmdAnswerSubmitted, Answer: domain.Answer{Text: "a loop"}})
	view(t, s)

	for want := 5; want >= 0; want-- {
		h.tick(org, MsgCountdown, want)
	}

	qrl := next(t, org, MsgQRLEnd).Payload.(qrlEndPayload)
	require.Len(t, qrl.Answers, 2)
	assert.Equal(t, qrlAnswer{PlayerName: "A", Text: "a function calling itself"}, qrl.Answers[0])
	assert.Equal(t, "B", qrl.Answers[1].PlayerName)
	assert.Equal(t, domain.PhaseEvaluation, view(t, s).Phase)

	grades := []domain.GradedAnswer{
		{PlayerName: "A", Grade: domain.GradeFull},
		{PlayerName: "B", Grade: domain.GradeHalf},
	}
	dispatch(t, s, orgConn, Command{Type: CmdEvaluationCompleted, Grades: grades})
	res := next(t, org, MsgQRLResults).Payload.(qrlResultsPayload)
	require.Len(t, res.Results, 2)
	assert.Equal(t, 40.0, resultByName(res.Results, "A").Reward)
	assert.Equal(t, 20.0, resultByName(res.Results, "B").Reward)
	assert.Equal(t, 1, res.Histogram.Full)
	assert.Equal(t, 1, res.Histogram.Half)

	// A repeated evaluation is ignored outside the evaluation phase.
	dispatch(t, s, orgConn, Command{Type: CmdEvaluationCompleted, Grades: grades})
	v := view(t, s)
	assert.Equal(t, domain.PhaseTransition, v.Phase)
	assert.Equal(t, 40.0, playerByName(v.Players, "A").Score)
	assert.Equal(t, 20.0, playerByName(v.Players, "B").Score)
	assert.Zero(t, playerByName(v.Players, "C").Score)
}

func TestQRLEvaluationRejectsInvalidGrade(t *testing.T) {
	h := newHarness(t, staticGames{"qrl": qrlGame()}, testSettings())
	s, org := h.create("qrl", domain.ModeMulti)
	h.join(s, "A")
	startMulti(t, s)
	next(t, org, MsgCountdownStarted)

	dispatch(t, s, "conn-A", Command{Type: CmdAnswerSubmitted, Answer: domain.Answer{Text: "because"}})
	next(t, org, MsgQRLEnd)

	dispatch(t, s, orgConn, Command{Type: CmdEvaluationCompleted, Grades: []domain.GradedAnswer{{PlayerName: "A", Grade: 0.7}}})
	next(t, org, MsgError)
	assert.Equal(t, domain.PhaseEvaluation, view(t, s).Phase)
}

func TestQRLActivityHistogram(t *testing.T) {
	settings := testSettings()
	settings.QRLDuration = 60
	settings.InactivityTicks = 2
	h := newHarness(t, staticGames{"qrl": qrlGame()}, settings)
	s, org := h.create("qrl", domain.ModeMulti)
	h.join(s, "A")
	b := h.join(s, "B")
	startMulti(t, s)
	next(t, org, MsgCountdownStarted)

	first := next(t, b, MsgQRLUpdateHistogram).Payload.(grading.ActivityHistogram)
	assert.Equal(t, grading.ActivityHistogram{Active: 0, Inactive: 2}, first)

	dispatch(t, s, "conn-A", Command{Type: CmdQRLInput, Text: "typing"})
	active := next(t, b, MsgQRLUpdateHistogram).Payload.(grading.ActivityHistogram)
	assert.Equal(t, grading.ActivityHistogram{Active: 1, Inactive: 1}, active)

	h.tick(org, MsgCountdown, 59)
	h.tick(org, MsgCountdown, 58)
	idle := next(t, b, MsgQRLUpdateHistogram).Payload.(grading.ActivityHistogram)
	assert.Equal(t, grading.ActivityHistogram{Active: 0, Inactive: 2}, idle)
}

func TestPauseAndResumeKeepsRemaining(t *testing.T) {
	h := newHarness(t, staticGames{"qcm": qcmGame(10, 1)}, testSettings())
	s, org := h.create("qcm", domain.ModeMulti)
	h.join(s, "A")
	startMulti(t, s)
	next(t, org, MsgCountdownStarted)

	h.tick(org, MsgCountdown, 9)
	h.tick(org, MsgCountdown, 8)
	h.tick(org, MsgCountdown, 7)

	dispatch(t, s, orgConn, Command{Type: CmdStopCountdown})
	stopped := next(t, org, MsgCountdownStopped).Payload.(countdownControlPayload)
	assert.Equal(t, 7, stopped.Count)

	h.clock.Advance(5 * time.Second)
	v := view(t, s)
	assert.True(t, v.Paused)
	assert.False(t, v.Countdown.Running)
	assert.Equal(t, 7, v.Countdown.Remaining)
	assert.Equal(t, domain.PhaseQuestionActive, v.Phase)

	dispatch(t, s, orgConn, Command{Type: CmdResumeCountdown})
	resumed := next(t, org, MsgCountdownStarted).Payload.(countdownControlPayload)
	assert.True(t, resumed.Resumed)
	assert.Equal(t, 7, resumed.Count)
	h.tick(org, MsgCountdown, 6)
}

func TestPanicModeThreshold(t *testing.T) {
	h := newHarness(t, staticGames{"qcm": qcmGame(12, 1)}, testSettings())
	s, org := h.create("qcm", domain.ModeMulti)
	h.join(s, "A")
	startMulti(t, s)
	next(t, org, MsgCountdownStarted)

	dispatch(t, s, orgConn, Command{Type: CmdEnablePanicMode})
	p := next(t, org, MsgPanicMode).Payload.(panicPayload)
	assert.True(t, p.Enabled)
	assert.Equal(t, 12, p.Remaining)

	h.clock.Advance(250 * time.Millisecond)
	tick := next(t, org, MsgCountdown).Payload.(countdownPayload)
	assert.Equal(t, 11, tick.Count)
	assert.True(t, tick.Panic)
}

func TestPanicModeRejectedBelowThreshold(t *testing.T) {
	h := newHarness(t, staticGames{"qcm": qcmGame(10, 1)}, testSettings())
	s, org := h.create("qcm", domain.ModeMulti)
	h.join(s, "A")
	startMulti(t, s)
	next(t, org, MsgCountdownStarted)
	h.tick(org, MsgCountdown, 9)

	dispatch(t, s, orgConn, Command{Type: CmdEnablePanicMode})
	next(t, org, MsgError)
	assert.False(t, view(t, s).Countdown.Panic)
}

func TestPanicBoostRestartsQuestionClock(t *testing.T) {
	h := newHarness(t, staticGames{"qcm": qcmGame(15, 1)}, testSettings())
	s, org := h.create("qcm", domain.ModeMulti)
	h.join(s, "A")
	startMulti(t, s)
	next(t, org, MsgCountdownStarted)

	dispatch(t, s, orgConn, Command{Type: CmdStartCountdown, Kind: countdown.KindPanicBoost, Count: 12})
	started := next(t, org, MsgCountdownStarted).Payload.(countdownControlPayload)
	assert.Equal(t, 12, started.Count)
	assert.Equal(t, countdown.KindQuestion, started.Kind)
	assert.True(t, started.Panic)
	p := next(t, org, MsgPanicMode).Payload.(panicPayload)
	assert.True(t, p.Enabled)
	assert.Equal(t, 12, p.Remaining)

	h.clock.Advance(250 * time.Millisecond)
	tick := next(t, org, MsgCountdown).Payload.(countdownPayload)
	assert.Equal(t, 11, tick.Count)
	assert.True(t, tick.Panic)

	v := view(t, s)
	assert.True(t, v.Countdown.Panic)
	assert.Equal(t, domain.PhaseQuestionActive, v.Phase)
}

func TestPanicBoostRejectedBelowThreshold(t *testing.T) {
	h := newHarness(t, staticGames{"qcm": qcmGame(10, 1)}, testSettings())
	s, org := h.create("qcm", domain.ModeMulti)
	h.join(s, "A")
	startMulti(t, s)
	next(t, org, MsgCountdownStarted)
	h.tick(org, MsgCountdown, 9)

	dispatch(t, s, orgConn, Command{Type: CmdStartCountdown, Kind: countdown.KindPanicBoost})
	next(t, org, MsgError)
	v := view(t, s)
	assert.False(t, v.Countdown.Panic)
	assert.True(t, v.Countdown.Running)
}

func TestOrganizerDisconnectClosesWithoutScoring(t *testing.T) {
	h := newHarness(t, staticGames{"qcm": qcmGame(10, 1)}, testSettings())
	s, org := h.create("qcm", domain.ModeMulti)
	a := h.join(s, "A")
	startMulti(t, s)
	next(t, org, MsgCountdownStarted)
	dispatch(t, s, "conn-A", Command{Type: CmdSelectChoice, Choice: 1})

	s.Leave(orgConn, false)

	closed := next(t, a, MsgLobbyClosed).Payload.(lobbyClosedPayload)
	assert.Equal(t, ReasonNoHost, closed.Reason)
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session not destroyed")
	}
	for range a {
	}
	_, ok := h.store.Get(s.Pin())
	assert.False(t, ok)
	assert.Empty(t, h.recorder.ch)
	assert.ErrorIs(t, s.Dispatch("conn-A", Command{Type: CmdGetPlayers}), domain.ErrSessionClosed)
}

func TestEveryPlayerLeavingEndsGame(t *testing.T) {
	h := newHarness(t, staticGames{"qcm": qcmGame(10, 2)}, testSettings())
	s, org := h.create("qcm", domain.ModeMulti)
	h.join(s, "A")
	h.join(s, "B")
	startMulti(t, s)
	next(t, org, MsgCountdownStarted)

	s.Leave("conn-A", true)
	s.Leave("conn-B", false)

	next(t, org, MsgNoPlayers)
	next(t, org, MsgGameEnded)
	closed := next(t, org, MsgLobbyClosed).Payload.(lobbyClosedPayload)
	assert.Equal(t, ReasonNoPlayers, closed.Reason)

	summary := h.summary()
	require.Len(t, summary.Players, 1)
	assert.Equal(t, "B", summary.Players[0].PlayerName)
}

func TestLobbyCountdownCancelledWhenLobbyEmpties(t *testing.T) {
	h := newHarness(t, staticGames{"qcm": qcmGame(10, 1)}, testSettings())
	s, org := h.create("qcm", domain.ModeMulti)
	h.join(s, "A")

	dispatch(t, s, orgConn, Command{Type: CmdToggleLock})
	dispatch(t, s, orgConn, Command{Type: CmdStartCountdown, Count: 5})
	next(t, org, MsgCountdownStarted)
	h.tick(org, MsgCountdown, 4)

	s.Leave("conn-A", true)
	next(t, org, MsgNoPlayers)
	next(t, org, MsgCountdownStopped)
	relocked := next(t, org, MsgLockToggled).Payload.(lockPayload)
	assert.True(t, relocked.Locked)

	v := view(t, s)
	assert.Equal(t, domain.PhaseWaitingRoom, v.Phase)
	assert.True(t, v.Locked)
	assert.False(t, v.Countdown.Running)
	assert.Empty(t, v.Players)

	out := make(chan Message, 8)
	err := s.Join(context.Background(), "conn-late", "Late", out)
	assert.ErrorIs(t, err, domain.ErrLobbyLocked)
}

func TestLobbyCountdownStartsGame(t *testing.T) {
	h := newHarness(t, staticGames{"qcm": qcmGame(10, 1)}, testSettings())
	s, org := h.create("qcm", domain.ModeMulti)
	a := h.join(s, "A")

	dispatch(t, s, orgConn, Command{Type: CmdStartCountdown, Count: 2})
	next(t, org, MsgError)

	dispatch(t, s, orgConn, Command{Type: CmdToggleLock})
	dispatch(t, s, orgConn, Command{Type: CmdStartCountdown, Count: 2})
	next(t, org, MsgCountdownStarted)
	h.tick(org, MsgCountdown, 1)
	h.tick(org, MsgCountdown, 0)

	next(t, a, MsgGameStarted)
	q := next(t, a, MsgQuestion).Payload.(questionPayload)
	assert.Equal(t, 0, q.Index)
	for _, c := range q.Question.Choices {
		assert.False(t, c.IsCorrect, "players must not see correct choices")
	}
}

func TestJoinRules(t *testing.T) {
	h := newHarness(t, staticGames{"qcm": qcmGame(10, 1)}, testSettings())
	s, _ := h.create("qcm", domain.ModeMulti)
	ctx := context.Background()
	h.join(s, "Ana")

	assert.ErrorIs(t, s.Join(ctx, "c2", "ana", make(chan Message, 8)), domain.ErrNameTaken)
	assert.ErrorIs(t, s.Join(ctx, "c3", "organizer", make(chan Message, 8)), domain.ErrInvalidName)
	assert.ErrorIs(t, s.Join(ctx, "c4", "   ", make(chan Message, 8)), domain.ErrInvalidName)
	assert.ErrorIs(t, s.Join(ctx, "conn-Ana", "Other", make(chan Message, 8)), domain.ErrAlreadyInSession)

	dispatch(t, s, orgConn, Command{Type: CmdToggleLock})
	view(t, s)
	assert.ErrorIs(t, s.Join(ctx, "c5", "Bob", make(chan Message, 8)), domain.ErrLobbyLocked)

	dispatch(t, s, orgConn, Command{Type: CmdGameStarted})
	view(t, s)
	assert.ErrorIs(t, s.Join(ctx, "c6", "Late", make(chan Message, 8)), domain.ErrGameStarted)
}

func TestBanPlayer(t *testing.T) {
	h := newHarness(t, staticGames{"qcm": qcmGame(10, 1)}, testSettings())
	s, _ := h.create("qcm", domain.ModeMulti)
	a := h.join(s, "A")

	dispatch(t, s, orgConn, Command{Type: CmdBanPlayer, Target: "a"})
	closed := next(t, a, MsgLobbyClosed).Payload.(lobbyClosedPayload)
	assert.Equal(t, ReasonBanned, closed.Reason)
	for range a {
	}

	err := s.Join(context.Background(), "conn-A2", "A", make(chan Message, 8))
	assert.ErrorIs(t, err, domain.ErrNameBanned)
	assert.Empty(t, view(t, s).Players)
}

func TestPlayerCannotRunOrganizerCommands(t *testing.T) {
	h := newHarness(t, staticGames{"qcm": qcmGame(10, 1)}, testSettings())
	s, _ := h.create("qcm", domain.ModeMulti)
	h.join(s, "A")

	dispatch(t, s, "conn-A", Command{Type: CmdToggleLock})
	dispatch(t, s, "conn-A", Command{Type: CmdGameStarted})
	v := view(t, s)
	assert.False(t, v.Locked)
	assert.Equal(t, domain.PhaseWaitingRoom, v.Phase)
}

func TestMuteToggle(t *testing.T) {
	h := newHarness(t, staticGames{"qcm": qcmGame(10, 1)}, testSettings())
	s, _ := h.create("qcm", domain.ModeMulti)
	a := h.join(s, "A")

	dispatch(t, s, orgConn, Command{Type: CmdToggleMute, Target: "A"})
	m := next(t, a, MsgMuteToggled).Payload.(mutePayload)
	assert.True(t, m.IsMuted)
	assert.True(t, playerByName(view(t, s).Players, "A").IsMuted)
}

func TestReconnectKeepsScoreAndAnswer(t *testing.T) {
	h := newHarness(t, staticGames{"qcm": qcmGame(10, 2)}, testSettings())
	s, org := h.create("qcm", domain.ModeMulti)
	a := h.join(s, "A")
	h.join(s, "B")
	startMulti(t, s)
	next(t, org, MsgCountdownStarted)

	dispatch(t, s, "conn-A", Command{Type: CmdAnswerSubmitted, Answer: domain.Answer{Choices: []int{1}}})
	view(t, s)
	s.Leave("conn-A", false)
	for range a {
	}
	assert.Equal(t, domain.StatusDisconnected, playerByName(view(t, s).Players, "A").Status)

	a2 := make(chan Message, 64)
	require.NoError(t, s.Join(context.Background(), "conn-A2", "A", a2))
	joined := next(t, a2, MsgLobbyJoined).Payload.(lobbyJoinedPayload)
	assert.True(t, joined.Reconnected)
	state := next(t, a2, MsgGameState).Payload.(StatePayload)
	assert.True(t, state.HasSubmitted)
	require.NotNil(t, state.Pending)
	assert.Equal(t, []int{1}, state.Pending.Choices)
	assert.Equal(t, domain.PhaseQuestionActive, state.Phase)

	dispatch(t, s, "conn-B", Command{Type: CmdAnswerSubmitted, Answer: domain.Answer{Choices: []int{0}}})
	end := next(t, org, MsgQCMEnd).Payload.(automaticEndPayload)
	assert.Equal(t, 12.0, resultByName(end.Results, "A").Reward)
	assert.Equal(t, 12.0, playerByName(view(t, s).Players, "A").Score)
}

func TestManualAdvanceWaitsForOrganizer(t *testing.T) {
	settings := testSettings()
	settings.ManualAdvance = true
	h := newHarness(t, staticGames{"qcm": qcmGame(10, 2)}, settings)
	s, org := h.create("qcm", domain.ModeMulti)
	a := h.join(s, "A")
	startMulti(t, s)
	next(t, a, MsgQuestion)

	dispatch(t, s, "conn-A", Command{Type: CmdAnswerSubmitted, Answer: domain.Answer{Choices: []int{1}}})
	next(t, org, MsgAwaitingNextQuestion)
	v := view(t, s)
	assert.Equal(t, domain.PhaseTransition, v.Phase)
	assert.False(t, v.Countdown.Running)

	dispatch(t, s, orgConn, Command{Type: CmdNextQuestion})
	next(t, org, MsgCountdownStarted)
	h.tick(org, MsgQuestionTransition, 2)
	h.tick(org, MsgQuestionTransition, 1)
	h.tick(org, MsgQuestionTransition, 0)

	q := next(t, a, MsgQuestion).Payload.(questionPayload)
	assert.Equal(t, 1, q.Index)
	assert.Equal(t, 1, view(t, s).QuestionIndex)
}

func TestPracticeModeAutoGradesQRL(t *testing.T) {
	h := newHarness(t, staticGames{"qrl": qrlGame()}, testSettings())
	s, org := h.create("qrl", domain.ModePractice)

	assert.ErrorIs(t, s.Join(context.Background(), "c1", "Guest", make(chan Message, 8)), domain.ErrLobbyLocked)

	dispatch(t, s, orgConn, Command{Type: CmdGameStarted})
	q := next(t, org, MsgQuestion).Payload.(questionPayload)
	assert.Equal(t, domain.QuestionQRL, q.Question.Type)

	dispatch(t, s, orgConn, Command{Type: CmdAnswerSubmitted, Answer: domain.Answer{Text: "self reference"}})
	res := next(t, org, MsgQRLResults).Payload.(qrlResultsPayload)
	require.Len(t, res.Results, 1)
	assert.Equal(t, OrganizerName, res.Results[0].PlayerName)
	assert.Equal(t, 40.0, res.Results[0].Reward)
	assert.Equal(t, domain.PhaseTransition, view(t, s).Phase)
}

func TestOrganizerEndsGameFlushesStats(t *testing.T) {
	h := newHarness(t, staticGames{"qcm": qcmGame(10, 3)}, testSettings())
	s, org := h.create("qcm", domain.ModeMulti)
	h.join(s, "A")
	startMulti(t, s)
	next(t, org, MsgCountdownStarted)

	dispatch(t, s, orgConn, Command{Type: CmdGameEnded})
	next(t, org, MsgGameEnded)
	closed := next(t, org, MsgLobbyClosed).Payload.(lobbyClosedPayload)
	assert.Equal(t, ReasonGameEnded, closed.Reason)

	summary := h.summary()
	require.Len(t, summary.Players, 1)
	assert.False(t, summary.Players[0].HasWon)
	assert.Zero(t, summary.Players[0].Coins)
}

func TestSlowClientIsDropped(t *testing.T) {
	h := newHarness(t, staticGames{"qcm": qcmGame(10, 1)}, testSettings())
	s, _ := h.create("qcm", domain.ModeMulti)
	slow := make(chan Message, 1)
	require.NoError(t, s.Join(context.Background(), "conn-slow", "Slow", slow))
	h.join(s, "B")

	// lobbyJoined fills the buffer; the roster broadcast right after it overflows.
	assert.Eventually(t, func() bool {
		return playerByName(view(t, s).Players, "Slow").Name == ""
	}, 2*time.Second, 10*time.Millisecond)
	for range slow {
	}
}
