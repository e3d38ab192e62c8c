package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bunnychess/backend/internal/chess"
)

// ErrNotQueueable is returned when an account that is already pending or
// playing tries to enter a queue.
var ErrNotQueueable = errors.New("account cannot enter a queue in its current status")

// QueueWindow is the MMR tolerance of a queue: a player accepts opponents
// within base + elapsed*increase, capped at max.
type QueueWindow struct {
	BaseMmrRange              int
	MmrRangeIncreasePerSecond float64
	MaxMmrDelta               int
}

var (
	rankedWindow = QueueWindow{BaseMmrRange: 50, MmrRangeIncreasePerSecond: 5, MaxMmrDelta: 400}
	normalWindow = QueueWindow{BaseMmrRange: 100, MmrRangeIncreasePerSecond: 10, MaxMmrDelta: 600}
)

func WindowFor(ranked bool) QueueWindow {
	if ranked {
		return rankedWindow
	}
	return normalWindow
}

func variant(ranked bool) string {
	if ranked {
		return "ranked"
	}
	return "normal"
}

func QueueKey(gameType chess.GameType, ranked bool) string {
	return fmt.Sprintf("matchmaking:queue:%s:%s", gameType, variant(ranked))
}

func TimesKey(gameType chess.GameType, ranked bool) string {
	return QueueKey(gameType, ranked) + ":times"
}

// QueueSizes is the per-game-type pair of queue cardinalities.
type QueueSizes struct {
	Normal uint32 `json:"normal"`
	Ranked uint32 `json:"ranked"`
}

// QueueStore is the atomic matchmaking queue. Every operation that touches
// queue membership and account status together runs as a single server-side
// script.
type QueueStore interface {
	AddPlayerToQueue(ctx context.Context, accountID string, mmr uint16, gameType chess.GameType, ranked bool) error
	RemovePlayerFromQueue(ctx context.Context, accountID string, gameType chess.GameType, ranked bool) (bool, error)
	MatchPlayers(ctx context.Context, gameType chess.GameType, ranked bool) ([]string, error)
	GetQueueSizes(ctx context.Context) (map[chess.GameType]QueueSizes, error)
}

// Adds the player to the queue and flips the status hash to searching in one
// atomic step. Re-queueing under a different (game_type, ranked) first drops
// the stale entry; pending/playing accounts are rejected.
var addPlayerToQueueScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[3], 'status')
if current == 'pending' or current == 'playing' then
  return 0
end
if current == 'searching' then
  local prev_type = redis.call('HGET', KEYS[3], 'game_type')
  local prev_ranked = redis.call('HGET', KEYS[3], 'ranked')
  if prev_type ~= ARGV[5] or prev_ranked ~= ARGV[4] then
    local prev_variant = 'normal'
    if prev_ranked == 'true' then prev_variant = 'ranked' end
    local prev_queue = 'matchmaking:queue:' .. prev_type .. ':' .. prev_variant
    redis.call('ZREM', prev_queue, ARGV[2])
    redis.call('HDEL', prev_queue .. ':times', ARGV[2])
  end
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[2])
redis.call('HSET', KEYS[2], ARGV[2], ARGV[6])
redis.call('HSET', KEYS[3], 'status', ARGV[1], 'game_type', ARGV[5], 'ranked', ARGV[4])
redis.call('HDEL', KEYS[3], 'game_id')
return 1
`)

var removePlayerFromQueueScript = redis.NewScript(`
local removed = redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('DEL', KEYS[3])
return removed
`)

// Scans the queue in MMR order and greedily pairs neighbors whose rating gap
// fits inside both players' windows. Matched players leave the queue within
// the same script execution.
var matchPlayersScript = redis.NewScript(`
local base = tonumber(ARGV[1])
local inc = tonumber(ARGV[2])
local max_delta = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local entries = redis.call('ZRANGE', KEYS[1], 0, -1, 'WITHSCORES')
local ids = {}
local mmrs = {}
for i = 1, #entries, 2 do
  ids[#ids + 1] = entries[i]
  mmrs[#mmrs + 1] = tonumber(entries[i + 1])
end

local function window(id)
  local enqueued = tonumber(redis.call('HGET', KEYS[2], id)) or now
  local w = base + ((now - enqueued) / 1000) * inc
  if w > max_delta then w = max_delta end
  return w
end

local matched = {}
local i = 1
while i < #ids do
  local delta = math.abs(mmrs[i] - mmrs[i + 1])
  local allowed = math.min(window(ids[i]), window(ids[i + 1]))
  if delta <= allowed then
    matched[#matched + 1] = ids[i]
    matched[#matched + 1] = ids[i + 1]
    i = i + 2
  else
    i = i + 1
  end
end

for _, id in ipairs(matched) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('HDEL', KEYS[2], id)
end

return matched
`)

type RedisQueueStore struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisQueueStore(rdb *redis.Client) *RedisQueueStore {
	return &RedisQueueStore{rdb: rdb, now: time.Now}
}

func (s *RedisQueueStore) AddPlayerToQueue(ctx context.Context, accountID string, mmr uint16, gameType chess.GameType, ranked bool) error {
	res, err := addPlayerToQueueScript.Run(ctx, s.rdb,
		[]string{QueueKey(gameType, ranked), TimesKey(gameType, ranked), AccountStatusKey(accountID)},
		string(StatusSearching),
		accountID,
		mmr,
		strconv.FormatBool(ranked),
		gameType.String(),
		s.now().UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("add %s to queue %s/%s: %w", accountID, gameType, variant(ranked), err)
	}
	if res == 0 {
		return ErrNotQueueable
	}
	return nil
}

func (s *RedisQueueStore) RemovePlayerFromQueue(ctx context.Context, accountID string, gameType chess.GameType, ranked bool) (bool, error) {
	res, err := removePlayerFromQueueScript.Run(ctx, s.rdb,
		[]string{QueueKey(gameType, ranked), TimesKey(gameType, ranked), AccountStatusKey(accountID)},
		accountID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("remove %s from queue %s/%s: %w", accountID, gameType, variant(ranked), err)
	}
	return res == 1, nil
}

func (s *RedisQueueStore) MatchPlayers(ctx context.Context, gameType chess.GameType, ranked bool) ([]string, error) {
	window := WindowFor(ranked)
	res, err := matchPlayersScript.Run(ctx, s.rdb,
		[]string{QueueKey(gameType, ranked), TimesKey(gameType, ranked)},
		window.BaseMmrRange,
		window.MmrRangeIncreasePerSecond,
		window.MaxMmrDelta,
		s.now().UnixMilli(),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("match players in %s/%s: %w", gameType, variant(ranked), err)
	}
	return res, nil
}

func (s *RedisQueueStore) GetQueueSizes(ctx context.Context) (map[chess.GameType]QueueSizes, error) {
	pipe := s.rdb.Pipeline()
	normalCmds := make(map[chess.GameType]*redis.IntCmd, len(chess.AllGameTypes))
	rankedCmds := make(map[chess.GameType]*redis.IntCmd, len(chess.AllGameTypes))
	for _, gt := range chess.AllGameTypes {
		normalCmds[gt] = pipe.ZCard(ctx, QueueKey(gt, false))
		rankedCmds[gt] = pipe.ZCard(ctx, QueueKey(gt, true))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("get queue sizes: %w", err)
	}

	sizes := make(map[chess.GameType]QueueSizes, len(chess.AllGameTypes))
	for _, gt := range chess.AllGameTypes {
		sizes[gt] = QueueSizes{
			Normal: uint32(normalCmds[gt].Val()),
			Ranked: uint32(rankedCmds[gt].Val()),
		}
	}
	return sizes, nil
}
