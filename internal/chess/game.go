package chess

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	chesslib "github.com/notnil/chess"
)

// Games are drawn once the full-move count reaches this limit.
const MaxMoves = 300

var (
	ErrGameOver       = errors.New("game is already over")
	ErrWrongTurn      = errors.New("not this account's turn")
	ErrInvalidMove    = errors.New("invalid move")
	ErrUnknownAccount = errors.New("account is not a participant of this game")
)

// AccountIDs maps colors to account ids. W and B are always distinct.
type AccountIDs struct {
	W string `json:"w"`
	B string `json:"b"`
}

// Clocks holds the remaining time of both sides in milliseconds, plus the
// timestamps the elapsed time is accounted against.
type Clocks struct {
	W                 uint64 `json:"w"`
	B                 uint64 `json:"b"`
	StartTimestamp    int64  `json:"start_timestamp"`
	LastMoveTimestamp *int64 `json:"last_move_timestamp,omitempty"`
}

// Game is the authoritative in-memory state of a chess game. It is pure state
// plus rules; persistence and clock commits happen in the game service.
type Game struct {
	ID            string
	GameType      GameType
	AccountIDs    AccountIDs
	Metadata      string
	Rules         Rules
	Clocks        Clocks
	ResignedColor *Color

	game *chesslib.Game
}

// NewGame builds a fresh game with full clocks. nowMs is the creation time in
// unix milliseconds.
func NewGame(gameType GameType, accountIDs AccountIDs, metadata string, nowMs int64) *Game {
	rules := GetRules(gameType)
	return &Game{
		ID:         uuid.NewString(),
		GameType:   gameType,
		AccountIDs: accountIDs,
		Metadata:   metadata,
		Rules:      rules,
		Clocks: Clocks{
			W:              rules.TimeLimitMs,
			B:              rules.TimeLimitMs,
			StartTimestamp: nowMs,
		},
		game: chesslib.NewGame(),
	}
}

// Seq is the CAS token. It advances by exactly one per committed state
// transition: one per half-move, plus one more when a side resigns so the
// resignation also commits as a transition.
func (g *Game) Seq() uint64 {
	seq := uint64(len(g.game.Moves())) + 1
	if g.ResignedColor != nil {
		seq++
	}
	return seq
}

// TurnColor is the side to move.
func (g *Game) TurnColor() Color {
	return fromLibColor(g.game.Position().Turn())
}

func (g *Game) accountForColor(c Color) string {
	if c == White {
		return g.AccountIDs.W
	}
	return g.AccountIDs.B
}

func (g *Game) colorForAccount(accountID string) (Color, bool) {
	switch accountID {
	case g.AccountIDs.W:
		return White, true
	case g.AccountIDs.B:
		return Black, true
	}
	return Black, false
}

// IsGameOver reports whether any termination condition holds. It does not
// account elapsed wall time; call UpdateClock first when that matters.
func (g *Game) IsGameOver() bool {
	return g.game.Outcome() != chesslib.NoOutcome ||
		g.Clocks.W == 0 ||
		g.Clocks.B == 0 ||
		g.fullMoves() >= MaxMoves ||
		g.ResignedColor != nil
}

func (g *Game) fullMoves() uint64 {
	return uint64(len(g.game.Moves())/2) + 1
}

// MakeMove validates and applies a SAN move for accountID. Clocks are not
// touched here; the service updates them around persistence.
func (g *Game) MakeMove(accountID, san string) (string, error) {
	if g.IsGameOver() {
		return "", ErrGameOver
	}

	turn := g.TurnColor()
	if accountID != g.accountForColor(turn) {
		return "", ErrWrongTurn
	}

	if err := g.game.MoveStr(san); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidMove, san, err)
	}

	return san, nil
}

// UpdateClock charges the elapsed time since the last move (or game start) to
// the side to move, saturating at zero, and stamps nowMs as the new reference.
func (g *Game) UpdateClock(nowMs int64) {
	start := g.Clocks.StartTimestamp
	if g.Clocks.LastMoveTimestamp != nil {
		start = *g.Clocks.LastMoveTimestamp
	}

	elapsed := nowMs - start
	if elapsed < 0 {
		elapsed = 0
	}

	switch g.TurnColor() {
	case White:
		g.Clocks.W = saturatingSub(g.Clocks.W, uint64(elapsed))
	case Black:
		g.Clocks.B = saturatingSub(g.Clocks.B, uint64(elapsed))
	}

	ts := nowMs
	g.Clocks.LastMoveTimestamp = &ts
}

// ApplyIncrement credits the per-turn increment to the side that just moved.
// Called on successful move commit only.
func (g *Game) ApplyIncrement(mover Color) {
	if g.Rules.TimeIncreasePerTurnMs == 0 {
		return
	}
	if mover == White {
		g.Clocks.W += g.Rules.TimeIncreasePerTurnMs
	} else {
		g.Clocks.B += g.Rules.TimeIncreasePerTurnMs
	}
}

// Resign marks accountID's color as resigned. The game stays loaded; the
// service persists the bumped seq and runs the termination check.
func (g *Game) Resign(accountID string) error {
	if g.IsGameOver() {
		return ErrGameOver
	}

	color, ok := g.colorForAccount(accountID)
	if !ok {
		return ErrUnknownAccount
	}

	g.ResignedColor = &color
	return nil
}

// CheckResult classifies the game as terminal or still live. Deterministic and
// idempotent; the rule order is fixed: checkmate, resignation, max moves,
// stalemate, insufficient material, fifty moves, threefold repetition, timeout.
func (g *Game) CheckResult() *GameResult {
	turn := g.TurnColor()
	pos := g.game.Position()

	if pos.Status() == chesslib.Checkmate {
		return g.winnerResult(turn.Other(), ReasonCheckmate)
	}

	if g.ResignedColor != nil {
		return g.winnerResult(g.ResignedColor.Other(), ReasonResignation)
	}

	if g.fullMoves() >= MaxMoves {
		return &GameResult{Outcome: OutcomeDraw, Reason: ReasonMaxMoves}
	}

	if pos.Status() == chesslib.Stalemate {
		return &GameResult{Outcome: OutcomeDraw, Reason: ReasonStalemate}
	}

	if g.game.Outcome() == chesslib.Draw && g.game.Method() == chesslib.InsufficientMaterial {
		return &GameResult{Outcome: OutcomeDraw, Reason: ReasonInsufficientMaterial}
	}

	if g.drawAvailable(chesslib.FiftyMoveRule) || g.game.Method() == chesslib.SeventyFiveMoveRule {
		return &GameResult{Outcome: OutcomeDraw, Reason: ReasonFiftyMovesRule}
	}

	if g.drawAvailable(chesslib.ThreefoldRepetition) || g.game.Method() == chesslib.FivefoldRepetition {
		return &GameResult{Outcome: OutcomeDraw, Reason: ReasonThreefoldRepetition}
	}

	// Clock timeout has to come last
	turnClock := g.Clocks.W
	if turn == Black {
		turnClock = g.Clocks.B
	}
	if turnClock == 0 {
		reason := ReasonWhiteTimeout
		if turn == Black {
			reason = ReasonBlackTimeout
		}
		return g.winnerResult(turn.Other(), reason)
	}

	return nil
}

func (g *Game) drawAvailable(method chesslib.Method) bool {
	for _, m := range g.game.EligibleDraws() {
		if m == method {
			return true
		}
	}
	return false
}

func (g *Game) winnerResult(winner Color, reason GameOverReason) *GameResult {
	outcome := OutcomeBlack
	if winner == White {
		outcome = OutcomeWhite
	}
	return &GameResult{
		Outcome:         outcome,
		Reason:          reason,
		WinnerAccountID: g.accountForColor(winner),
	}
}

// PGN is the movetext of the game so far.
func (g *Game) PGN() string {
	return strings.TrimSpace(g.game.String())
}

// Snapshot is the wire/persistence representation of a game.
type Snapshot struct {
	ID            string     `json:"id"`
	PGN           string     `json:"pgn"`
	GameType      string     `json:"game_type"`
	AccountIDs    AccountIDs `json:"account_ids"`
	Metadata      string     `json:"metadata"`
	GameRules     Rules      `json:"game_rules"`
	GameClocks    Clocks     `json:"game_clocks"`
	ResignedColor *Color     `json:"resigned_color,omitempty"`
	Seq           uint64     `json:"seq"`
}

func (g *Game) Snapshot() Snapshot {
	return Snapshot{
		ID:            g.ID,
		PGN:           g.PGN(),
		GameType:      g.GameType.String(),
		AccountIDs:    g.AccountIDs,
		Metadata:      g.Metadata,
		GameRules:     g.Rules,
		GameClocks:    g.Clocks,
		ResignedColor: g.ResignedColor,
		Seq:           g.Seq(),
	}
}

// Encode serializes the game to its JSON snapshot representation.
func (g *Game) Encode() (string, error) {
	data, err := json.Marshal(g.Snapshot())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Decode rebuilds a Game from its JSON snapshot, replaying the PGN to restore
// the position.
func Decode(repr string) (*Game, error) {
	var snap Snapshot
	if err := json.Unmarshal([]byte(repr), &snap); err != nil {
		return nil, fmt.Errorf("decode game snapshot: %w", err)
	}

	gameType, err := ParseGameType(snap.GameType)
	if err != nil {
		return nil, err
	}

	inner := chesslib.NewGame()
	if pgn := strings.TrimSpace(snap.PGN); pgn != "" && pgn != "*" {
		opt, err := chesslib.PGN(strings.NewReader(pgn))
		if err != nil {
			return nil, fmt.Errorf("replay pgn: %w", err)
		}
		inner = chesslib.NewGame(opt)
	}

	return &Game{
		ID:            snap.ID,
		GameType:      gameType,
		AccountIDs:    snap.AccountIDs,
		Metadata:      snap.Metadata,
		Rules:         snap.GameRules,
		Clocks:        snap.GameClocks,
		ResignedColor: snap.ResignedColor,
		game:          inner,
	}, nil
}

func saturatingSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}
