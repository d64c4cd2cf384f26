package app

import (
	"quiz-live-service/internal/countdown"
	"quiz-live-service/internal/domain"
)

// CommandType is the wire name of a client->server command.
type CommandType string

const (
	CmdToggleLock          CommandType = "toggleLock"
	CmdBanPlayer           CommandType = "banPlayer"
	CmdToggleMute          CommandType = "toggleMute"
	CmdStartCountdown      CommandType = "startCountdown"
	CmdStopCountdown       CommandType = "stopCountdown"
	CmdResumeCountdown     CommandType = "resumeCountdown"
	CmdSelectChoice        CommandType = "selectChoice"
	CmdQRLInput            CommandType = "qrlInput"
	CmdAnswerSubmitted     CommandType = "answerSubmitted"
	CmdQREAnswerSubmitted  CommandType = "qreAnswerSubmitted"
	CmdEvaluationCompleted CommandType = "evaluationPhaseCompleted"
	CmdEnablePanicMode     CommandType = "enablePanicMode"
	CmdGameStarted         CommandType = "gameStarted"
	CmdGameEnded           CommandType = "gameEnded"
	CmdNextQuestion        CommandType = "nextQuestion"
	CmdGetPlayers          CommandType = "getPlayers"
	CmdGetCurrentState     CommandType = "getCurrentState"
)

// Command is a decoded client command. Only the fields its Type uses are set.
type Command struct {
	Type      CommandType
	Target    string // player name for ban/mute
	Count     int
	Kind      countdown.Kind
	Mode      domain.Mode
	Choice    int
	Text      string
	Answer    domain.Answer
	ByTimeout bool
	Grades    []domain.GradedAnswer
}

type role int

const (
	roleAny role = iota
	roleOrganizer
	rolePlayer
)

type commandRule struct {
	role   role
	phases []domain.Phase // empty means every phase
}

var commandRules = map[CommandType]commandRule{
	CmdToggleLock:          {roleOrganizer, []domain.Phase{domain.PhaseWaitingRoom}},
	CmdBanPlayer:           {roleOrganizer, []domain.Phase{domain.PhaseWaitingRoom}},
	CmdToggleMute:          {roleOrganizer, nil},
	CmdStartCountdown:      {roleOrganizer, []domain.Phase{domain.PhaseWaitingRoom, domain.PhaseQuestionActive, domain.PhaseTransition}},
	CmdStopCountdown:       {roleOrganizer, []domain.Phase{domain.PhaseWaitingRoom, domain.PhaseQuestionActive, domain.PhaseTransition}},
	CmdResumeCountdown:     {roleOrganizer, []domain.Phase{domain.PhaseQuestionActive, domain.PhaseTransition}},
	CmdSelectChoice:        {rolePlayer, []domain.Phase{domain.PhaseQuestionActive}},
	CmdQRLInput:            {rolePlayer, []domain.Phase{domain.PhaseQuestionActive}},
	CmdAnswerSubmitted:     {rolePlayer, []domain.Phase{domain.PhaseQuestionActive}},
	CmdQREAnswerSubmitted:  {rolePlayer, []domain.Phase{domain.PhaseQuestionActive}},
	CmdEvaluationCompleted: {roleOrganizer, []domain.Phase{domain.PhaseEvaluation}},
	CmdEnablePanicMode:     {roleOrganizer, []domain.Phase{domain.PhaseQuestionActive}},
	CmdGameStarted:         {roleOrganizer, []domain.Phase{domain.PhaseWaitingRoom}},
	CmdGameEnded:           {roleOrganizer, nil},
	CmdNextQuestion:        {roleOrganizer, []domain.Phase{domain.PhaseTransition}},
	CmdGetPlayers:          {roleAny, nil},
	CmdGetCurrentState:     {roleAny, nil},
}

// allowed reports whether cmd may run in phase for a sender with the given roles.
func (r commandRule) allowed(phase domain.Phase, organizer, player bool) bool {
	switch r.role {
	case roleOrganizer:
		if !organizer {
			return false
		}
	case rolePlayer:
		if !player {
			return false
		}
	}
	if len(r.phases) == 0 {
		return true
	}
	for _, p := range r.phases {
		if p == phase {
			return true
		}
	}
	return false
}

var transitions = map[domain.Phase][]domain.Phase{
	domain.PhaseWaitingRoom:    {domain.PhaseQuestionActive, domain.PhaseEnded},
	domain.PhaseQuestionActive: {domain.PhaseQuestionLocked, domain.PhaseEnded},
	domain.PhaseQuestionLocked: {domain.PhaseEvaluation, domain.PhaseTransition, domain.PhaseEnded},
	domain.PhaseEvaluation:     {domain.PhaseTransition, domain.PhaseEnded},
	domain.PhaseTransition:     {domain.PhaseQuestionActive, domain.PhaseEnded},
	domain.PhaseEnded:          nil,
}

func canTransition(from, to domain.Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}
