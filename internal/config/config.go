package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subjectPrefix"`
	} `yaml:"nats"`
	Catalog struct {
		TTL string `yaml:"ttl"`
	} `yaml:"catalog"`
	Game Game `yaml:"game"`
}

// Game holds the session tunables. Zero values fall back to Defaults().
type Game struct {
	QRLDuration           int     `yaml:"qrlDuration"`
	TransitionSeconds     int     `yaml:"transitionSeconds"`
	StartCountdownSeconds int     `yaml:"startCountdownSeconds"`
	BonusFraction         float64 `yaml:"bonusFraction"`
	ExactMultiplier       float64 `yaml:"exactMultiplier"`
	InactivityGrace       string  `yaml:"inactivityGrace"`
	TickInterval          string  `yaml:"tickInterval"`
	PanicTickInterval     string  `yaml:"panicTickInterval"`
	PanicThresholdQCM     int     `yaml:"panicThresholdQcm"`
	PanicThresholdQRL     int     `yaml:"panicThresholdQrl"`
	ManualAdvance         bool    `yaml:"manualAdvance"`
	OutboxSize            int     `yaml:"outboxSize"`
	CoinsPerPoint         float64 `yaml:"coinsPerPoint"`
	WinnerCoins           int64   `yaml:"winnerCoins"`
	FlushTimeout          string  `yaml:"flushTimeout"`
}

// Defaults returns the game tunables used when the file leaves them out.
func Defaults() Game {
	return Game{
		QRLDuration:           60,
		TransitionSeconds:     3,
		StartCountdownSeconds: 5,
		BonusFraction:         0.2,
		ExactMultiplier:       1.2,
		InactivityGrace:       "5s",
		TickInterval:          "1s",
		PanicTickInterval:     "250ms",
		PanicThresholdQCM:     10,
		PanicThresholdQRL:     20,
		OutboxSize:            64,
		CoinsPerPoint:         0.1,
		WinnerCoins:           10,
		FlushTimeout:          "5s",
	}
}

// WithDefaults fills every unset tunable.
func (g Game) WithDefaults() Game {
	d := Defaults()
	if g.QRLDuration <= 0 {
		g.QRLDuration = d.QRLDuration
	}
	if g.TransitionSeconds <= 0 {
		g.TransitionSeconds = d.TransitionSeconds
	}
	if g.StartCountdownSeconds <= 0 {
		g.StartCountdownSeconds = d.StartCountdownSeconds
	}
	if g.BonusFraction <= 0 {
		g.BonusFraction = d.BonusFraction
	}
	if g.ExactMultiplier <= 0 {
		g.ExactMultiplier = d.ExactMultiplier
	}
	if g.InactivityGrace == "" {
		g.InactivityGrace = d.InactivityGrace
	}
	if g.TickInterval == "" {
		g.TickInterval = d.TickInterval
	}
	if g.PanicTickInterval == "" {
		g.PanicTickInterval = d.PanicTickInterval
	}
	if g.PanicThresholdQCM <= 0 {
		g.PanicThresholdQCM = d.PanicThresholdQCM
	}
	if g.PanicThresholdQRL <= 0 {
		g.PanicThresholdQRL = d.PanicThresholdQRL
	}
	if g.OutboxSize <= 0 {
		g.OutboxSize = d.OutboxSize
	}
	if g.CoinsPerPoint <= 0 {
		g.CoinsPerPoint = d.CoinsPerPoint
	}
	if g.WinnerCoins <= 0 {
		g.WinnerCoins = d.WinnerCoins
	}
	if g.FlushTimeout == "" {
		g.FlushTimeout = d.FlushTimeout
	}
	return g
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.Game = cfg.Game.WithDefaults()
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
