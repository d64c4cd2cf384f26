package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"quiz-live-service/internal/domain"
	"quiz-live-service/internal/infra/memory"
)

// GameRepository caches game definitions in Redis and falls back to a loader on cache miss.
// Games are stored as: SET quiz:game:{gameID} {json} EX ttl
type GameRepository struct {
	client *redis.Client
	loader memory.GameLoader
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewGameRepository(client *redis.Client, loader memory.GameLoader, ttl time.Duration) *GameRepository {
	return &GameRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *GameRepository) GetGame(ctx context.Context, gameID string) (domain.Game, error) {
	if game, ok := r.cached(ctx, gameID); ok {
		return game, nil
	}

	result, err, _ := r.sf.Do(gameID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if game, ok := r.cached(ctx, gameID); ok {
			return game, nil
		}

		game, err := r.loader.LoadGame(ctx, gameID)
		if err != nil {
			return domain.Game{}, err
		}

		raw, err := json.Marshal(game)
		if err != nil {
			return domain.Game{}, err
		}
		if err := r.client.Set(ctx, r.key(gameID), raw, r.ttlWithJitter()).Err(); err != nil {
			log.Warn().Err(err).Str("game", gameID).Msg("cache game definition")
		}
		return game, nil
	})
	if err != nil {
		return domain.Game{}, err
	}
	return result.(domain.Game), nil
}

func (r *GameRepository) cached(ctx context.Context, gameID string) (domain.Game, bool) {
	raw, err := r.client.Get(ctx, r.key(gameID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("game", gameID).Msg("read cached game")
		}
		return domain.Game{}, false
	}
	var game domain.Game
	if err := json.Unmarshal(raw, &game); err != nil {
		return domain.Game{}, false
	}
	return game, true
}

func (r *GameRepository) key(gameID string) string {
	return "quiz:game:" + gameID
}

func (r *GameRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
