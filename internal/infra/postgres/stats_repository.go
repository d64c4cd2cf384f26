package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"quiz-live-service/internal/domain"
)

type gameRecord struct {
	bun.BaseModel `bun:"table:game_records,alias:gr"`

	ID        int64     `bun:"id,pk,autoincrement"`
	Pin       string    `bun:"pin,notnull"`
	GameID    string    `bun:"game_id,notnull"`
	GameTitle string    `bun:"game_title,notnull"`
	Mode      string    `bun:"mode,notnull"`
	StartedAt time.Time `bun:"started_at,notnull"`
	EndedAt   time.Time `bun:"ended_at,notnull"`

	Players []*playerStatRecord `bun:"rel:has-many,join:id=game_record_id"`
}

type playerStatRecord struct {
	bun.BaseModel `bun:"table:player_stats,alias:ps"`

	ID                  int64   `bun:"id,pk,autoincrement"`
	GameRecordID        int64   `bun:"game_record_id,notnull"`
	PlayerName          string  `bun:"player_name,notnull"`
	CorrectAnswerRatio  float64 `bun:"correct_answer_ratio,notnull"`
	GameDurationMinutes float64 `bun:"game_duration_minutes,notnull"`
	EarnedPoints        float64 `bun:"earned_points,notnull"`
	HasWon              bool    `bun:"has_won,notnull"`
	Coins               int64   `bun:"coins,notnull"`
}

// StatsRepository persists finished games with bun.
type StatsRepository struct {
	db *bun.DB
}

func NewStatsRepository(db *bun.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

func (r *StatsRepository) RecordGame(ctx context.Context, summary domain.GameSummary) error {
	rec := &gameRecord{
		Pin:       summary.Pin,
		GameID:    summary.GameID,
		GameTitle: summary.GameTitle,
		Mode:      string(summary.Mode),
		StartedAt: summary.StartedAt,
		EndedAt:   summary.EndedAt,
	}
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(rec).Returning("id").Exec(ctx); err != nil {
			return err
		}
		if len(summary.Players) == 0 {
			return nil
		}
		rows := make([]*playerStatRecord, 0, len(summary.Players))
		for _, p := range summary.Players {
			rows = append(rows, &playerStatRecord{
				GameRecordID:        rec.ID,
				PlayerName:          p.PlayerName,
				CorrectAnswerRatio:  p.CorrectAnswerRatio,
				GameDurationMinutes: p.GameDurationMinutes,
				EarnedPoints:        p.EarnedPoints,
				HasWon:              p.HasWon,
				Coins:               p.Coins,
			})
		}
		_, err := tx.NewInsert().Model(&rows).Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("record game: %w", err)
	}
	return nil
}

// RecentGames returns the latest summaries of a game, newest first.
func (r *StatsRepository) RecentGames(ctx context.Context, gameID string, limit int) ([]domain.GameSummary, error) {
	var recs []gameRecord
	err := r.db.NewSelect().
		Model(&recs).
		Relation("Players", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("ps.earned_points DESC", "ps.player_name ASC")
		}).
		Where("gr.game_id = ?", gameID).
		Order("gr.ended_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("recent games: %w", err)
	}

	out := make([]domain.GameSummary, 0, len(recs))
	for _, rec := range recs {
		s := domain.GameSummary{
			Pin:       rec.Pin,
			GameID:    rec.GameID,
			GameTitle: rec.GameTitle,
			Mode:      domain.ParseMode(rec.Mode),
			StartedAt: rec.StartedAt,
			EndedAt:   rec.EndedAt,
		}
		for _, p := range rec.Players {
			s.Players = append(s.Players, domain.PlayerStats{
				PlayerName:          p.PlayerName,
				CorrectAnswerRatio:  p.CorrectAnswerRatio,
				GameDurationMinutes: p.GameDurationMinutes,
				EarnedPoints:        p.EarnedPoints,
				HasWon:              p.HasWon,
				Coins:               p.Coins,
			})
		}
		out = append(out, s)
	}
	return out, nil
}
