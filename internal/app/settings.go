package app

import (
	"context"
	"time"

	"quiz-live-service/internal/countdown"
	"quiz-live-service/internal/domain"
	"quiz-live-service/internal/grading"
)

// SessionRepository tracks live sessions by pin (in-memory, Redis, etc).
type SessionRepository interface {
	// Reserve claims pin for a new session. It reports false when the pin is taken.
	Reserve(ctx context.Context, pin string) (bool, error)
	Put(pin string, session *Session)
	Get(pin string) (*Session, bool)
	Delete(pin string)
	List() []*Session
}

// GameRepository loads game definitions from the catalog.
type GameRepository interface {
	GetGame(ctx context.Context, gameID string) (domain.Game, error)
}

// StatsRecorder persists the summary of a finished game.
type StatsRecorder interface {
	RecordGame(ctx context.Context, summary domain.GameSummary) error
}

// Wallet credits coins earned in a game. It returns the new balance.
type Wallet interface {
	Credit(ctx context.Context, player string, coins int64) (int64, error)
}

// Settings are the game tunables a session runs with.
type Settings struct {
	QRLDuration           int // seconds
	DefaultDuration       int // seconds, used when a game has no duration
	TransitionSeconds     int
	StartCountdownSeconds int
	InactivityTicks       int // ticks without QRL input before a player counts as inactive
	Countdown             countdown.Config
	PanicThresholdQCM     int
	PanicThresholdQRL     int
	ManualAdvance         bool
	OutboxSize            int
	CoinsPerPoint         float64
	WinnerCoins           int64
	FlushTimeout          time.Duration
	Grading               grading.Config
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		QRLDuration:           60,
		DefaultDuration:       20,
		TransitionSeconds:     3,
		StartCountdownSeconds: 5,
		InactivityTicks:       5,
		Countdown:             countdown.Config{Tick: time.Second, PanicTick: 250 * time.Millisecond},
		PanicThresholdQCM:     10,
		PanicThresholdQRL:     20,
		OutboxSize:            64,
		CoinsPerPoint:         0.1,
		WinnerCoins:           10,
		FlushTimeout:          5 * time.Second,
		Grading:               grading.DefaultConfig(),
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.QRLDuration <= 0 {
		s.QRLDuration = d.QRLDuration
	}
	if s.DefaultDuration <= 0 {
		s.DefaultDuration = d.DefaultDuration
	}
	if s.TransitionSeconds <= 0 {
		s.TransitionSeconds = d.TransitionSeconds
	}
	if s.StartCountdownSeconds <= 0 {
		s.StartCountdownSeconds = d.StartCountdownSeconds
	}
	if s.InactivityTicks <= 0 {
		s.InactivityTicks = d.InactivityTicks
	}
	if s.PanicThresholdQCM <= 0 {
		s.PanicThresholdQCM = d.PanicThresholdQCM
	}
	if s.PanicThresholdQRL <= 0 {
		s.PanicThresholdQRL = d.PanicThresholdQRL
	}
	if s.OutboxSize <= 0 {
		s.OutboxSize = d.OutboxSize
	}
	if s.FlushTimeout <= 0 {
		s.FlushTimeout = d.FlushTimeout
	}
	if s.Grading.ExactMultiplier <= 0 {
		s.Grading = d.Grading
	}
	return s
}
