package chess

import "fmt"

// GameType identifies a time control. The set is closed; unknown strings are
// rejected at the API boundary.
type GameType string

const (
	Rapid10_0 GameType = "Rapid10_0"
	Blitz5_3  GameType = "Blitz5_3"
	Blitz5_0  GameType = "Blitz5_0"
	Blitz3_2  GameType = "Blitz3_2"
	Blitz3_0  GameType = "Blitz3_0"
	Bullet1_0 GameType = "Bullet1_0"
)

// AllGameTypes lists every supported time control, used to enumerate queues.
var AllGameTypes = []GameType{Rapid10_0, Blitz5_3, Blitz5_0, Blitz3_2, Blitz3_0, Bullet1_0}

func ParseGameType(s string) (GameType, error) {
	switch GameType(s) {
	case Rapid10_0, Blitz5_3, Blitz5_0, Blitz3_2, Blitz3_0, Bullet1_0:
		return GameType(s), nil
	}
	return "", fmt.Errorf("unknown game type %q", s)
}

func (gt GameType) String() string {
	return string(gt)
}

// Rules carries the time control parameters of a game.
type Rules struct {
	TimeLimitMs           uint64 `json:"time_limit_ms"`
	TimeIncreasePerTurnMs uint64 `json:"time_increase_per_turn_ms"`
}

func minutes(n uint64) uint64 { return n * 60 * 1000 }
func seconds(n uint64) uint64 { return n * 1000 }

// GetRules returns the time control of a game type.
func GetRules(gameType GameType) Rules {
	switch gameType {
	case Rapid10_0:
		return Rules{TimeLimitMs: minutes(10)}
	case Blitz5_3:
		return Rules{TimeLimitMs: minutes(5), TimeIncreasePerTurnMs: seconds(3)}
	case Blitz5_0:
		return Rules{TimeLimitMs: minutes(5)}
	case Blitz3_2:
		return Rules{TimeLimitMs: minutes(3), TimeIncreasePerTurnMs: seconds(2)}
	case Blitz3_0:
		return Rules{TimeLimitMs: minutes(3)}
	case Bullet1_0:
		return Rules{TimeLimitMs: minutes(1)}
	}
	return Rules{}
}
