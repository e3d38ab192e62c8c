package ranking

import "math"

// KFactor applied to every rated game.
const KFactor = 32

// Score values for MmrDelta.
const (
	ScoreLoss = 0.0
	ScoreDraw = 0.5
	ScoreWin  = 1.0
)

// ExpectedScore is the standard ELO expectation of player against opponent.
func ExpectedScore(playerMmr, opponentMmr int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(opponentMmr-playerMmr)/400.0))
}

// MmrDelta computes the rating change for a result: K * (score - expected).
func MmrDelta(playerMmr, opponentMmr int, score float64) int {
	return int(math.Round(KFactor * (score - ExpectedScore(playerMmr, opponentMmr))))
}
