package events

// Event subjects. Downstream consumers key on (game_id, seq) for state updates
// and on game_id for game-over, so at-least-once delivery is safe.
const (
	SubjectGameStart          = "chess.game.game-start"
	SubjectGameStateUpdate    = "chess.game.game-state-update"
	SubjectGameOver           = "chess.game.game-over"
	SubjectPendingGameReady   = "chess.matchmaking.pending-game-ready"
	SubjectPendingGameTimeout = "chess.matchmaking.pending-game-timeout"
	SubjectEloChange          = "chess.matchmaking.elo-change"
)

type GameStartEvent struct {
	AccountID0 string `json:"account_id_0"`
	AccountID1 string `json:"account_id_1"`
	GameID     string `json:"game_id"`
}

type ClocksPayload struct {
	W uint64 `json:"w"`
	B uint64 `json:"b"`
}

type GameStateUpdateEvent struct {
	AccountID string        `json:"account_id"`
	GameID    string        `json:"game_id"`
	Move      string        `json:"move"`
	Seq       uint64        `json:"seq"`
	Clocks    ClocksPayload `json:"clocks"`
}

type GameOverEvent struct {
	AccountID0      string `json:"account_id_0"`
	AccountID1      string `json:"account_id_1"`
	Outcome         string `json:"outcome"`
	GameOverReason  string `json:"game_over_reason"`
	WinnerAccountID string `json:"winner_account_id,omitempty"`
	GameID          string `json:"game_id"`
	GameType        string `json:"game_type"`
	Metadata        string `json:"metadata"`
}

type PendingGameReadyEvent struct {
	AccountID0    string `json:"account_id_0"`
	AccountID1    string `json:"account_id_1"`
	PendingGameID string `json:"pending_game_id"`
}

type PendingGameTimeoutEvent struct {
	AccountID0    string `json:"account_id_0"`
	AccountID1    string `json:"account_id_1"`
	PendingGameID string `json:"pending_game_id"`
}

type EloChangeEvent struct {
	AccountID string `json:"account_id"`
	NewElo    int32  `json:"new_elo"`
	EloChange int32  `json:"elo_change"`
	Ranked    bool   `json:"ranked"`
}
