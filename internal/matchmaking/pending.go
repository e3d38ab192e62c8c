package matchmaking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/bunnychess/backend/internal/chess"
)

var (
	ErrPendingGameNotFound = errors.New("pending game not found")
	ErrNotParticipant      = errors.New("account is not part of this pending game")
)

// PendingGame is a proposed pairing awaiting acceptance from both players
// within the TTL window. MMRs are captured at match time so an accepting
// player can be re-queued with the right score on timeout.
type PendingGame struct {
	ID          string
	AccountID0  string
	AccountID1  string
	GameType    chess.GameType
	Ranked      bool
	Mmr0        uint16
	Mmr1        uint16
	CreatedAtMs int64
}

// AcceptOutcome reports how many players have accepted after an accept call,
// along with the pending game fields needed to start the game. Ready is true
// on exactly one accept call per pending game, the one that observed the
// second acceptance, so a redelivered accept never starts a second game.
type AcceptOutcome struct {
	AcceptedCount int
	Ready         bool
	Pending       PendingGame
}

// PendingStore owns the pending-game hashes and the deadline index used by the
// timeout watchdog. All compound transitions are single scripts.
type PendingStore interface {
	CreatePendingGame(ctx context.Context, pg PendingGame, ttlSeconds int) error
	AcceptPendingGame(ctx context.Context, pendingGameID, accountID string) (*AcceptOutcome, error)
	CompletePendingGame(ctx context.Context, pg PendingGame, gameID string) error
	ExpiredPendingGames(ctx context.Context, nowMs int64) ([]PendingGame, error)
	TimeoutPendingGame(ctx context.Context, pg PendingGame, nowMs int64) (bool, error)
}

const pendingDeadlinesKey = "matchmaking:pending:deadlines"

func PendingGameKey(pendingGameID string) string {
	return fmt.Sprintf("matchmaking:pending:%s", pendingGameID)
}

// pendingDeadlineMember is the deadline-index entry. It carries everything the
// watchdog needs to tear a pending game down even after the hash itself has
// expired.
type pendingDeadlineMember struct {
	ID         string `json:"id"`
	AccountID0 string `json:"a0"`
	AccountID1 string `json:"a1"`
	GameType   string `json:"gt"`
	Ranked     bool   `json:"ranked"`
}

func encodeDeadlineMember(pg PendingGame) string {
	data, _ := json.Marshal(pendingDeadlineMember{
		ID:         pg.ID,
		AccountID0: pg.AccountID0,
		AccountID1: pg.AccountID1,
		GameType:   pg.GameType.String(),
		Ranked:     pg.Ranked,
	})
	return string(data)
}

// Persists the pending game and moves both accounts searching -> pending in
// one atomic step. The key TTL is a safety net slightly above the logical
// deadline; the watchdog does the real cleanup via the deadline index.
var createPendingGameScript = redis.NewScript(`
redis.call('HSET', KEYS[1],
  'id', ARGV[1],
  'account_id_0', ARGV[2], 'account_id_1', ARGV[3],
  'game_type', ARGV[4], 'ranked', ARGV[5],
  'created_at', ARGV[7],
  'mmr_0', ARGV[8], 'mmr_1', ARGV[9])
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[6]) + 5)
redis.call('ZADD', KEYS[2], ARGV[10], ARGV[11])
redis.call('HSET', KEYS[3], 'status', 'pending', 'game_type', ARGV[4], 'ranked', ARGV[5], 'game_id', ARGV[1])
redis.call('HSET', KEYS[4], 'status', 'pending', 'game_type', ARGV[4], 'ranked', ARGV[5], 'game_id', ARGV[1])
return 1
`)

var acceptPendingGameScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {-1}
end
local a0 = redis.call('HGET', KEYS[1], 'account_id_0')
local a1 = redis.call('HGET', KEYS[1], 'account_id_1')
if ARGV[1] ~= a0 and ARGV[1] ~= a1 then
  return {-2}
end
redis.call('HSET', KEYS[1], 'accepted:' .. ARGV[1], '1')
local n = 0
if redis.call('HEXISTS', KEYS[1], 'accepted:' .. a0) == 1 then n = n + 1 end
if redis.call('HEXISTS', KEYS[1], 'accepted:' .. a1) == 1 then n = n + 1 end
local ready = 0
if n == 2 and redis.call('HSETNX', KEYS[1], 'completed', '1') == 1 then
  ready = 1
end
return {n, ready, a0, a1,
  redis.call('HGET', KEYS[1], 'game_type'),
  redis.call('HGET', KEYS[1], 'ranked'),
  redis.call('HGET', KEYS[1], 'mmr_0'),
  redis.call('HGET', KEYS[1], 'mmr_1'),
  redis.call('HGET', KEYS[1], 'created_at')}
`)

var completePendingGameScript = redis.NewScript(`
redis.call('HSET', KEYS[3], 'status', 'playing', 'game_type', ARGV[3], 'ranked', ARGV[4], 'game_id', ARGV[2])
redis.call('HSET', KEYS[4], 'status', 'playing', 'game_type', ARGV[3], 'ranked', ARGV[4], 'game_id', ARGV[2])
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`)

// Tears down an expired pending game: accepting players go back to searching
// (re-queued with their match-time MMR), the rest drop to undefined. The
// account ids travel in ARGV, so the teardown still releases both statuses
// when the hash itself already expired; the ZREM gates against a concurrent
// sweeper and against a completed game, whose member left the index first.
var timeoutPendingGameScript = redis.NewScript(`
if redis.call('ZREM', KEYS[2], ARGV[1]) == 0 then
  return 0
end
if redis.call('HEXISTS', KEYS[1], 'completed') == 1 then
  return 0
end
local a0 = ARGV[2]
local a1 = ARGV[3]
local game_type = ARGV[4]
local ranked = ARGV[5]
local queue_variant = 'normal'
if ranked == 'true' then queue_variant = 'ranked' end
local queue_key = 'matchmaking:queue:' .. game_type .. ':' .. queue_variant
local times_key = queue_key .. ':times'
local accounts = {a0, a1}
local mmrs = {redis.call('HGET', KEYS[1], 'mmr_0'), redis.call('HGET', KEYS[1], 'mmr_1')}
for i = 1, 2 do
  local account = accounts[i]
  local status_key = 'matchmaking:account:' .. account .. ':status'
  if mmrs[i] and redis.call('HEXISTS', KEYS[1], 'accepted:' .. account) == 1 then
    redis.call('ZADD', queue_key, mmrs[i], account)
    redis.call('HSET', times_key, account, ARGV[7])
    redis.call('HSET', status_key, 'status', 'searching', 'game_type', game_type, 'ranked', ranked)
    redis.call('HDEL', status_key, 'game_id')
  elseif redis.call('HGET', status_key, 'game_id') == ARGV[6] then
    redis.call('DEL', status_key)
  end
end
redis.call('DEL', KEYS[1])
return 1
`)

type RedisPendingStore struct {
	rdb *redis.Client
}

func NewRedisPendingStore(rdb *redis.Client) *RedisPendingStore {
	return &RedisPendingStore{rdb: rdb}
}

func (s *RedisPendingStore) CreatePendingGame(ctx context.Context, pg PendingGame, ttlSeconds int) error {
	deadlineMs := pg.CreatedAtMs + int64(ttlSeconds)*1000
	err := createPendingGameScript.Run(ctx, s.rdb,
		[]string{
			PendingGameKey(pg.ID),
			pendingDeadlinesKey,
			AccountStatusKey(pg.AccountID0),
			AccountStatusKey(pg.AccountID1),
		},
		pg.ID,
		pg.AccountID0, pg.AccountID1,
		pg.GameType.String(), strconv.FormatBool(pg.Ranked),
		ttlSeconds,
		pg.CreatedAtMs,
		pg.Mmr0, pg.Mmr1,
		deadlineMs,
		encodeDeadlineMember(pg),
	).Err()
	if err != nil {
		return fmt.Errorf("create pending game %s: %w", pg.ID, err)
	}
	return nil
}

func (s *RedisPendingStore) AcceptPendingGame(ctx context.Context, pendingGameID, accountID string) (*AcceptOutcome, error) {
	raw, err := acceptPendingGameScript.Run(ctx, s.rdb,
		[]string{PendingGameKey(pendingGameID)},
		accountID,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("accept pending game %s: %w", pendingGameID, err)
	}
	if len(raw) == 0 {
		return nil, ErrPendingGameNotFound
	}

	count, ok := raw[0].(int64)
	if !ok {
		return nil, fmt.Errorf("accept pending game %s: unexpected script reply %v", pendingGameID, raw)
	}
	switch count {
	case -1:
		return nil, ErrPendingGameNotFound
	case -2:
		return nil, ErrNotParticipant
	}

	if len(raw) < 9 {
		return nil, fmt.Errorf("accept pending game %s: truncated script reply %v", pendingGameID, raw)
	}

	ready, _ := raw[1].(int64)
	gameType, err := chess.ParseGameType(asString(raw[4]))
	if err != nil {
		return nil, err
	}
	ranked, _ := strconv.ParseBool(asString(raw[5]))
	mmr0, _ := strconv.ParseUint(asString(raw[6]), 10, 16)
	mmr1, _ := strconv.ParseUint(asString(raw[7]), 10, 16)
	createdAt, _ := strconv.ParseInt(asString(raw[8]), 10, 64)

	return &AcceptOutcome{
		AcceptedCount: int(count),
		Ready:         ready == 1,
		Pending: PendingGame{
			ID:          pendingGameID,
			AccountID0:  asString(raw[2]),
			AccountID1:  asString(raw[3]),
			GameType:    gameType,
			Ranked:      ranked,
			Mmr0:        uint16(mmr0),
			Mmr1:        uint16(mmr1),
			CreatedAtMs: createdAt,
		},
	}, nil
}

func (s *RedisPendingStore) CompletePendingGame(ctx context.Context, pg PendingGame, gameID string) error {
	err := completePendingGameScript.Run(ctx, s.rdb,
		[]string{
			PendingGameKey(pg.ID),
			pendingDeadlinesKey,
			AccountStatusKey(pg.AccountID0),
			AccountStatusKey(pg.AccountID1),
		},
		encodeDeadlineMember(pg),
		gameID,
		pg.GameType.String(),
		strconv.FormatBool(pg.Ranked),
	).Err()
	if err != nil {
		return fmt.Errorf("complete pending game %s: %w", pg.ID, err)
	}
	return nil
}

func (s *RedisPendingStore) ExpiredPendingGames(ctx context.Context, nowMs int64) ([]PendingGame, error) {
	members, err := s.rdb.ZRangeByScore(ctx, pendingDeadlinesKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(nowMs, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list expired pending games: %w", err)
	}

	expired := make([]PendingGame, 0, len(members))
	for _, raw := range members {
		var m pendingDeadlineMember
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			log.Printf("[MATCHMAKER] corrupt deadline index member %q: %v", raw, err)
			continue
		}
		gameType, err := chess.ParseGameType(m.GameType)
		if err != nil {
			log.Printf("[MATCHMAKER] corrupt deadline index member %q: %v", raw, err)
			continue
		}
		expired = append(expired, PendingGame{
			ID:         m.ID,
			AccountID0: m.AccountID0,
			AccountID1: m.AccountID1,
			GameType:   gameType,
			Ranked:     m.Ranked,
		})
	}
	return expired, nil
}

// TimeoutPendingGame reports whether this call won the teardown. A false
// return means another sweeper got there first or the game completed.
func (s *RedisPendingStore) TimeoutPendingGame(ctx context.Context, pg PendingGame, nowMs int64) (bool, error) {
	swept, err := timeoutPendingGameScript.Run(ctx, s.rdb,
		[]string{PendingGameKey(pg.ID), pendingDeadlinesKey},
		encodeDeadlineMember(pg),
		pg.AccountID0, pg.AccountID1,
		pg.GameType.String(), strconv.FormatBool(pg.Ranked),
		pg.ID,
		nowMs,
	).Int()
	if err != nil {
		return false, fmt.Errorf("timeout pending game %s: %w", pg.ID, err)
	}
	return swept == 1, nil
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", v)
	}
}
