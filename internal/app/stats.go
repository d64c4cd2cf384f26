package app

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"quiz-live-service/internal/domain"
)

// flushStats hands the game summary to the recorder and credits the wallet.
// It runs once, in the background, and never blocks the session.
func (s *Session) flushStats() {
	if s.flushed || s.mode == domain.ModePractice {
		return
	}
	s.flushed = true
	summary := s.summary()
	recorder, wallet := s.recorder, s.wallet
	timeout := s.settings.FlushTimeout
	logger := s.log

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if recorder != nil {
			if err := recorder.RecordGame(ctx, summary); err != nil {
				logger.Error().Err(err).Msg("record game stats")
			}
		}
		if wallet == nil {
			return
		}
		for _, ps := range summary.Players {
			if ps.Coins <= 0 {
				continue
			}
			if _, err := wallet.Credit(ctx, ps.PlayerName, ps.Coins); err != nil {
				logger.Error().Err(err).Str("player", ps.PlayerName).Msg("credit wallet")
			}
		}
	}()
}

func (s *Session) summary() domain.GameSummary {
	minutes := decimal.NewFromFloat(s.endedAt.Sub(s.startedAt).Minutes()).Round(2).InexactFloat64()
	total := decimal.NewFromInt(int64(len(s.game.Questions)))
	winners := make(map[string]bool)
	for _, name := range s.winners() {
		winners[name] = true
	}

	out := domain.GameSummary{
		Pin:       s.pin,
		GameID:    s.game.ID,
		GameTitle: s.game.Title,
		Mode:      s.mode,
		StartedAt: s.startedAt,
		EndedAt:   s.endedAt,
	}
	for _, p := range s.ranking() {
		entry := s.players[nameKey(p.Name)]
		ratio := 0.0
		if !total.IsZero() {
			ratio = decimal.NewFromInt(int64(entry.correct)).Div(total).Round(2).InexactFloat64()
		}
		ps := domain.PlayerStats{
			PlayerName:          p.Name,
			CorrectAnswerRatio:  ratio,
			GameDurationMinutes: minutes,
			EarnedPoints:        p.Score,
			HasWon:              winners[p.Name],
		}
		ps.Coins = CoinsFor(p.Score, ps.HasWon, s.settings.CoinsPerPoint, s.settings.WinnerCoins)
		out.Players = append(out.Players, ps)
	}
	return out
}

// CoinsFor converts a final score into wallet coins.
func CoinsFor(score float64, won bool, perPoint float64, winnerBonus int64) int64 {
	coins := decimal.NewFromFloat(score).Mul(decimal.NewFromFloat(perPoint)).Floor().IntPart()
	if coins < 0 {
		coins = 0
	}
	if won {
		coins += winnerBonus
	}
	return coins
}

// FanoutRecorder hands a summary to every sink concurrently. A failing sink
// does not stop the others; their errors are joined.
type FanoutRecorder struct {
	sinks []StatsRecorder
}

func NewFanoutRecorder(sinks ...StatsRecorder) *FanoutRecorder {
	out := make([]StatsRecorder, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &FanoutRecorder{sinks: out}
}

func (f *FanoutRecorder) RecordGame(ctx context.Context, summary domain.GameSummary) error {
	errs := make([]error, len(f.sinks))
	var g errgroup.Group
	for i, sink := range f.sinks {
		g.Go(func() error {
			errs[i] = sink.RecordGame(ctx, summary)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
