package chess

// GameOutcome is the final verdict of a game.
type GameOutcome string

const (
	OutcomeWhite GameOutcome = "White"
	OutcomeBlack GameOutcome = "Black"
	OutcomeDraw  GameOutcome = "Draw"
)

// GameOverReason classifies why a game ended.
type GameOverReason string

const (
	ReasonCheckmate            GameOverReason = "Checkmate"
	ReasonStalemate            GameOverReason = "Stalemate"
	ReasonFiftyMovesRule       GameOverReason = "FiftyMovesRule"
	ReasonThreefoldRepetition  GameOverReason = "ThreefoldRepetition"
	ReasonInsufficientMaterial GameOverReason = "InsufficientMaterial"
	ReasonWhiteTimeout         GameOverReason = "WhiteTimeout"
	ReasonBlackTimeout         GameOverReason = "BlackTimeout"
	ReasonResignation          GameOverReason = "Resignation"
	ReasonMaxMoves             GameOverReason = "MaxMoves"
)

// GameResult is the terminal classification of a game. WinnerAccountID is empty
// on draws.
type GameResult struct {
	Outcome         GameOutcome    `json:"outcome"`
	Reason          GameOverReason `json:"game_over_reason"`
	WinnerAccountID string         `json:"winner_account_id,omitempty"`
}
