package redis

import (
	"context"

	"github.com/redis/go-redis/v9"

	"quiz-live-service/internal/domain"
)

// Wallet keeps coin balances in one hash: HINCRBY quiz:wallet {player} {coins}
type Wallet struct {
	client *redis.Client
}

func NewWallet(client *redis.Client) *Wallet {
	return &Wallet{client: client}
}

func (w *Wallet) Credit(ctx context.Context, player string, coins int64) (int64, error) {
	return w.client.HIncrBy(ctx, walletKey, player, coins).Result()
}

func (w *Wallet) Balance(ctx context.Context, player string) (int64, error) {
	bal, err := w.client.HGet(ctx, walletKey, player).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return bal, err
}

const walletKey = "quiz:wallet"

// Leaderboard records finished games into a per-game sorted set of best scores:
// ZADD quiz:leaderboard:{gameID} GT {points} {player}
type Leaderboard struct {
	client *redis.Client
}

func NewLeaderboard(client *redis.Client) *Leaderboard {
	return &Leaderboard{client: client}
}

func (l *Leaderboard) RecordGame(ctx context.Context, summary domain.GameSummary) error {
	if len(summary.Players) == 0 {
		return nil
	}
	members := make([]redis.Z, 0, len(summary.Players))
	for _, p := range summary.Players {
		members = append(members, redis.Z{Score: p.EarnedPoints, Member: p.PlayerName})
	}
	return l.client.ZAddGT(ctx, l.key(summary.GameID), members...).Err()
}

// Top returns the n best players of a game, highest first.
func (l *Leaderboard) Top(ctx context.Context, gameID string, n int64) ([]redis.Z, error) {
	return l.client.ZRevRangeWithScores(ctx, l.key(gameID), 0, n-1).Result()
}

func (l *Leaderboard) key(gameID string) string {
	return "quiz:leaderboard:" + gameID
}
