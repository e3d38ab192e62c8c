package matchmaking

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/bunnychess/backend/internal/chess"
)

// PlayerStatus is the matchmaking lifecycle state of an account:
// undefined -> searching -> pending -> playing -> undefined.
type PlayerStatus string

const (
	StatusUndefined PlayerStatus = "undefined"
	StatusSearching PlayerStatus = "searching"
	StatusPending   PlayerStatus = "pending"
	StatusPlaying   PlayerStatus = "playing"
)

// AccountStatus is the decoded account-status hash. GameType and Ranked are set
// for searching/pending/playing; GameID for pending/playing.
type AccountStatus struct {
	Status   PlayerStatus   `json:"status"`
	GameType chess.GameType `json:"game_type,omitempty"`
	Ranked   *bool          `json:"ranked,omitempty"`
	GameID   string         `json:"game_id,omitempty"`
}

// StatusStore reads account matchmaking status. Writes happen exclusively
// inside the atomic queue/pending scripts so status can never desync from
// queue membership.
type StatusStore interface {
	GetPlayerStatus(ctx context.Context, accountID string) (AccountStatus, error)
	ClearAfterGame(ctx context.Context, accountID, gameID string) error
}

func AccountStatusKey(accountID string) string {
	return fmt.Sprintf("matchmaking:account:%s:status", accountID)
}

// Drops the status hash only if it still points at the finished game, so a
// player who already re-queued is left alone.
var clearAfterGameScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'game_id') == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)

type RedisStatusStore struct {
	rdb *redis.Client
}

func NewRedisStatusStore(rdb *redis.Client) *RedisStatusStore {
	return &RedisStatusStore{rdb: rdb}
}

func (s *RedisStatusStore) GetPlayerStatus(ctx context.Context, accountID string) (AccountStatus, error) {
	fields, err := s.rdb.HGetAll(ctx, AccountStatusKey(accountID)).Result()
	if err != nil {
		return AccountStatus{}, fmt.Errorf("get status of %s: %w", accountID, err)
	}
	return decodeAccountStatus(fields)
}

func (s *RedisStatusStore) ClearAfterGame(ctx context.Context, accountID, gameID string) error {
	if err := clearAfterGameScript.Run(ctx, s.rdb, []string{AccountStatusKey(accountID)}, gameID).Err(); err != nil {
		return fmt.Errorf("clear status of %s: %w", accountID, err)
	}
	return nil
}

func decodeAccountStatus(fields map[string]string) (AccountStatus, error) {
	if len(fields) == 0 {
		return AccountStatus{Status: StatusUndefined}, nil
	}

	status := AccountStatus{Status: PlayerStatus(fields["status"])}
	switch status.Status {
	case StatusSearching, StatusPending, StatusPlaying:
	default:
		return AccountStatus{}, fmt.Errorf("corrupt account status %q", fields["status"])
	}

	if gt, ok := fields["game_type"]; ok {
		parsed, err := chess.ParseGameType(gt)
		if err != nil {
			return AccountStatus{}, err
		}
		status.GameType = parsed
	}
	if r, ok := fields["ranked"]; ok {
		ranked, err := strconv.ParseBool(r)
		if err != nil {
			return AccountStatus{}, fmt.Errorf("corrupt ranked flag %q", r)
		}
		status.Ranked = &ranked
	}
	status.GameID = fields["game_id"]

	return status, nil
}
