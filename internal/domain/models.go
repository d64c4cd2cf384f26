package domain

import (
	"strings"
	"time"
)

// QuestionType selects the grading rule of a question.
type QuestionType string

const (
	QuestionQCM QuestionType = "QCM" // multiple choice
	QuestionQRL QuestionType = "QRL" // long response, graded by the organizer
	QuestionQRE QuestionType = "QRE" // numeric estimate
)

// Choice is one option of a QCM question.
type Choice struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"isCorrect,omitempty"`
}

// Estimate holds the slider bounds and the expected value of a QRE question.
type Estimate struct {
	LowerBound   float64 `json:"lowerBound"`
	UpperBound   float64 `json:"upperBound"`
	Step         float64 `json:"step,omitempty"`
	CorrectValue float64 `json:"correctValue,omitempty"`
	Tolerance    float64 `json:"tolerance,omitempty"`
}

// Question is immutable once a session holds it.
type Question struct {
	ID       string       `json:"id"`
	Type     QuestionType `json:"type"`
	Text     string       `json:"text"`
	Points   int          `json:"points"`
	Choices  []Choice     `json:"choices,omitempty"`
	Estimate *Estimate    `json:"estimate,omitempty"`
}

// CorrectChoices returns the indices flagged correct, in order.
func (q Question) CorrectChoices() []int {
	var out []int
	for i, c := range q.Choices {
		if c.IsCorrect {
			out = append(out, i)
		}
	}
	return out
}

// Public strips everything that would reveal the answer.
func (q Question) Public() Question {
	out := q
	if len(q.Choices) > 0 {
		out.Choices = make([]Choice, len(q.Choices))
		for i, c := range q.Choices {
			out.Choices[i] = Choice{Text: c.Text}
		}
	}
	if q.Estimate != nil {
		est := Estimate{
			LowerBound: q.Estimate.LowerBound,
			UpperBound: q.Estimate.UpperBound,
			Step:       q.Estimate.Step,
		}
		out.Estimate = &est
	}
	return out
}

// Game is the definition supplied by the catalog.
type Game struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Duration    int        `json:"duration"` // seconds per QCM/QRE question
	Questions   []Question `json:"questions"`
}

// Mode picks the scoring rules of a session.
type Mode string

const (
	ModeMulti    Mode = "multi"
	ModePractice Mode = "practice"
)

// ParseMode defaults to multi-player.
func ParseMode(raw string) Mode {
	if strings.EqualFold(raw, string(ModePractice)) || strings.EqualFold(raw, "test") {
		return ModePractice
	}
	return ModeMulti
}

// Phase is the state of a session.
type Phase string

const (
	PhaseWaitingRoom    Phase = "waitingRoom"
	PhaseQuestionActive Phase = "questionActive"
	PhaseQuestionLocked Phase = "questionLocked"
	PhaseEvaluation     Phase = "evaluation"
	PhaseTransition     Phase = "transition"
	PhaseEnded          Phase = "ended"
)

// Activity classifies a player's recent input for the live QRL histogram.
type Activity string

const (
	ActivityIdle     Activity = "idle"
	ActivityActive   Activity = "active"
	ActivityInactive Activity = "inactive"
)

// PlayerStatus tracks whether a roster entry still has a live connection.
type PlayerStatus string

const (
	StatusConnected    PlayerStatus = "connected"
	StatusDisconnected PlayerStatus = "disconnected"
	StatusLeft         PlayerStatus = "left"
)

// Player is the roster view sent to clients.
type Player struct {
	Name         string       `json:"name"`
	Score        float64      `json:"score"`
	IsMuted      bool         `json:"isMuted"`
	Activity     Activity     `json:"activity"`
	HasSubmitted bool         `json:"hasSubmitted"`
	Status       PlayerStatus `json:"status"`
	BonusCount   int          `json:"bonusCount"`
}

// Grade is the organizer's verdict on a QRL answer.
type Grade float64

const (
	GradeZero Grade = 0
	GradeHalf Grade = 0.5
	GradeFull Grade = 1
)

// Valid reports whether g is one of the three allowed grades.
func (g Grade) Valid() bool {
	return g == GradeZero || g == GradeHalf || g == GradeFull
}

// Answer is a player's submission for one question. Only the fields of its Type are meaningful.
type Answer struct {
	Type    QuestionType `json:"type"`
	Choices []int        `json:"choices,omitempty"`
	Text    string       `json:"text,omitempty"`
	Value   float64      `json:"value,omitempty"`
}

// GradedAnswer pairs a QRL answer with the organizer's grade.
type GradedAnswer struct {
	PlayerName string `json:"playerName"`
	Text       string `json:"text"`
	Grade      Grade  `json:"grade"`
}

// ScoreResult is the outcome of grading one answer. FirstCorrectBonus and
// ExactMatch are mutually exclusive.
type ScoreResult struct {
	PlayerName        string  `json:"playerName"`
	Correct           bool    `json:"correct"`
	ExactMatch        bool    `json:"exactMatch"`
	FirstCorrectBonus bool    `json:"firstCorrectBonus"`
	Grade             *Grade  `json:"grade,omitempty"`
	Reward            float64 `json:"reward"`
	TotalScore        float64 `json:"totalScore"`
}

// PlayerStats is the per-player artifact handed to the stats collaborator.
type PlayerStats struct {
	PlayerName          string  `json:"playerName"`
	CorrectAnswerRatio  float64 `json:"correctAnswerRatio"`
	GameDurationMinutes float64 `json:"gameDurationMinutes"`
	EarnedPoints        float64 `json:"earnedPoints"`
	HasWon              bool    `json:"hasWon"`
	Coins               int64   `json:"coins"`
}

// GameSummary describes a finished session.
type GameSummary struct {
	Pin       string        `json:"pin"`
	GameID    string        `json:"gameId"`
	GameTitle string        `json:"gameTitle"`
	Mode      Mode          `json:"mode"`
	StartedAt time.Time     `json:"startedAt"`
	EndedAt   time.Time     `json:"endedAt"`
	Players   []PlayerStats `json:"players"`
}
