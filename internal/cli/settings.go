package cli

import (
	"time"

	"quiz-live-service/internal/app"
	"quiz-live-service/internal/config"
	"quiz-live-service/internal/countdown"
	"quiz-live-service/internal/grading"
)

// settingsFrom turns the YAML game section into session tunables.
func settingsFrom(g config.Game) app.Settings {
	g = g.WithDefaults()
	d := app.DefaultSettings()
	tick := config.TTLDuration(g.TickInterval, d.Countdown.Tick)
	grace := config.TTLDuration(g.InactivityGrace, 5*time.Second)

	s := d
	s.QRLDuration = g.QRLDuration
	s.TransitionSeconds = g.TransitionSeconds
	s.StartCountdownSeconds = g.StartCountdownSeconds
	s.Countdown = countdown.Config{
		Tick:      tick,
		PanicTick: config.TTLDuration(g.PanicTickInterval, d.Countdown.PanicTick),
	}
	s.InactivityTicks = max(1, int(grace/tick))
	s.PanicThresholdQCM = g.PanicThresholdQCM
	s.PanicThresholdQRL = g.PanicThresholdQRL
	s.ManualAdvance = g.ManualAdvance
	s.OutboxSize = g.OutboxSize
	s.CoinsPerPoint = g.CoinsPerPoint
	s.WinnerCoins = g.WinnerCoins
	s.FlushTimeout = config.TTLDuration(g.FlushTimeout, d.FlushTimeout)
	s.Grading = grading.Config{BonusFraction: g.BonusFraction, ExactMultiplier: g.ExactMultiplier}
	return s
}
