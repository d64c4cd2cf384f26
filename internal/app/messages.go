package app

import (
	"quiz-live-service/internal/countdown"
	"quiz-live-service/internal/domain"
	"quiz-live-service/internal/grading"
)

// Message is one server->client event. Each participant receives them in the
// order the session emitted them.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

const (
	MsgLobbyCreated         = "lobbyCreated"
	MsgLobbyJoined          = "lobbyJoined"
	MsgLatestPlayerList     = "latestPlayerList"
	MsgLockToggled          = "lockToggled"
	MsgMuteToggled          = "muteToggled"
	MsgCountdown            = "countdown"
	MsgQuestionTransition   = "questionTransition"
	MsgCountdownStarted     = "countdownStarted"
	MsgCountdownStopped     = "countdownStopped"
	MsgGameStarted          = "gameStarted"
	MsgQuestion             = "question"
	MsgQuestionLocked       = "questionLocked"
	MsgQCMEnd               = "qcmEnd"
	MsgQREEnd               = "qreEnd"
	MsgQRLEnd               = "qrlEnd"
	MsgQRLResults           = "qrlResults"
	MsgUpdateHistogram      = "updateHistogram"
	MsgQRLUpdateHistogram   = "qrlUpdateHistogram"
	MsgPanicMode            = "panicMode"
	MsgAwaitingNextQuestion = "awaitingNextQuestion"
	MsgNoPlayers            = "noPlayers"
	MsgGameEnded            = "gameEnded"
	MsgGameState            = "gameState"
	MsgLobbyClosed          = "lobbyClosed"
)

// Reasons carried by lobbyClosed.
const (
	ReasonNoHost    = "NO HOST"
	ReasonNoPlayers = "NO PLAYERS"
	ReasonBanned    = "BANNED"
	ReasonGameEnded = "GAME ENDED"
	ReasonShutdown  = "SHUTDOWN"
)

type lobbyCreatedPayload struct {
	Pin       string      `json:"pin"`
	GameID    string      `json:"gameId"`
	GameTitle string      `json:"gameTitle"`
	Mode      domain.Mode `json:"mode"`
}

type lobbyJoinedPayload struct {
	Pin         string `json:"pin"`
	Name        string `json:"name"`
	Reconnected bool   `json:"reconnected"`
}

type playerListPayload struct {
	Players []domain.Player `json:"players"`
}

type lockPayload struct {
	Locked bool `json:"locked"`
}

type mutePayload struct {
	Name    string `json:"name"`
	IsMuted bool   `json:"isMuted"`
}

type countdownPayload struct {
	Count int            `json:"count"`
	Kind  countdown.Kind `json:"kind"`
	Panic bool           `json:"panic"`
}

type countdownControlPayload struct {
	Count   int            `json:"count"`
	Kind    countdown.Kind `json:"kind"`
	Panic   bool           `json:"panic"`
	Resumed bool           `json:"resumed,omitempty"`
}

type gameStartedPayload struct {
	GameTitle     string `json:"gameTitle"`
	QuestionCount int    `json:"questionCount"`
}

type questionPayload struct {
	Index    int             `json:"index"`
	Total    int             `json:"total"`
	Duration int             `json:"duration"`
	Question domain.Question `json:"question"`
}

type questionLockedPayload struct {
	Index int `json:"index"`
}

type automaticEndPayload struct {
	BonusRecipient string               `json:"bonusRecipient"`
	CorrectChoices []int                `json:"correctChoices,omitempty"`
	CorrectValue   *float64             `json:"correctValue,omitempty"`
	Results        []domain.ScoreResult `json:"results"`
}

type qrlAnswer struct {
	PlayerName string `json:"playerName"`
	Text       string `json:"text"`
}

type qrlEndPayload struct {
	Answers []qrlAnswer `json:"answers"`
}

type qrlResultsPayload struct {
	Answers   []domain.GradedAnswer    `json:"answers"`
	Results   []domain.ScoreResult     `json:"results"`
	Histogram grading.GradeHistogram   `json:"histogram"`
}

type panicPayload struct {
	Enabled   bool `json:"enabled"`
	Remaining int  `json:"remaining"`
}

type gameEndedPayload struct {
	Players []domain.Player `json:"players"`
	Winners []string        `json:"winners"`
}

type lobbyClosedPayload struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// StatePayload is the resynchronisation snapshot sent on getCurrentState.
type StatePayload struct {
	Pin           string           `json:"pin"`
	Phase         domain.Phase     `json:"phase"`
	Locked        bool             `json:"locked"`
	Started       bool             `json:"started"`
	QuestionIndex int              `json:"questionIndex"`
	QuestionCount int              `json:"questionCount"`
	Question      *domain.Question `json:"question,omitempty"`
	Countdown     countdown.State  `json:"countdown"`
	Paused        bool             `json:"paused"`
	Pending       *domain.Answer   `json:"pending,omitempty"`
	HasSubmitted  bool             `json:"hasSubmitted"`
	Players       []domain.Player  `json:"players"`
}
