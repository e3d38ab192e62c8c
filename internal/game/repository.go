package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bunnychess/backend/internal/chess"
)

var (
	ErrNotFound       = errors.New("game not found")
	ErrConcurrentMove = errors.New("concurrent move lost the seq race")
)

// Repository persists game snapshots. FindGame returns (nil, nil) when the game
// does not exist. UpdateGame is a CAS on the seq field and fails with
// ErrConcurrentMove when the stored seq is not behind the given game's.
type Repository interface {
	StoreGame(ctx context.Context, g *chess.Game) error
	FindGame(ctx context.Context, gameID string) (*chess.Game, error)
	UpdateGame(ctx context.Context, g *chess.Game) error
	DeleteGame(ctx context.Context, gameID string) error
}

// The CAS script: overwrite only when the stored seq is absent or strictly
// behind the incoming one.
var updateGameScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'seq')
if current == false or tonumber(current) < tonumber(ARGV[2]) then
  redis.call('HSET', KEYS[1], 'gameRepr', ARGV[1], 'seq', ARGV[2])
  redis.call('EXPIRE', KEYS[1], ARGV[3])
  return 1
end
return 0
`)

// RedisRepository stores each game under game:chess-game:{id}:status as a hash
// with gameRepr and seq fields.
type RedisRepository struct {
	rdb        *redis.Client
	ttlSeconds int
}

func NewRedisRepository(rdb *redis.Client, ttlSeconds int) *RedisRepository {
	return &RedisRepository{rdb: rdb, ttlSeconds: ttlSeconds}
}

func gameKey(gameID string) string {
	return fmt.Sprintf("game:chess-game:%s:status", gameID)
}

func (r *RedisRepository) StoreGame(ctx context.Context, g *chess.Game) error {
	repr, err := g.Encode()
	if err != nil {
		return fmt.Errorf("encode game %s: %w", g.ID, err)
	}

	key := gameKey(g.ID)
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, key, "gameRepr", repr, "seq", g.Seq())
	pipe.Expire(ctx, key, secondsDuration(r.ttlSeconds))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store game %s: %w", g.ID, err)
	}
	return nil
}

func (r *RedisRepository) FindGame(ctx context.Context, gameID string) (*chess.Game, error) {
	repr, err := r.rdb.HGet(ctx, gameKey(gameID), "gameRepr").Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find game %s: %w", gameID, err)
	}
	return chess.Decode(repr)
}

func (r *RedisRepository) UpdateGame(ctx context.Context, g *chess.Game) error {
	repr, err := g.Encode()
	if err != nil {
		return fmt.Errorf("encode game %s: %w", g.ID, err)
	}

	res, err := updateGameScript.Run(ctx, r.rdb,
		[]string{gameKey(g.ID)},
		repr, g.Seq(), r.ttlSeconds,
	).Int()
	if err != nil {
		return fmt.Errorf("update game %s: %w", g.ID, err)
	}
	if res == 0 {
		return ErrConcurrentMove
	}
	return nil
}

func (r *RedisRepository) DeleteGame(ctx context.Context, gameID string) error {
	if err := r.rdb.Del(ctx, gameKey(gameID)).Err(); err != nil {
		return fmt.Errorf("delete game %s: %w", gameID, err)
	}
	return nil
}

func secondsDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}
