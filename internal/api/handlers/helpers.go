package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bunnychess/backend/internal/chess"
	"github.com/bunnychess/backend/internal/game"
	"github.com/bunnychess/backend/internal/matchmaking"
)

// respondError maps domain errors onto HTTP statuses. Rule violations and
// malformed input surface as 400 with the message; unknown failures stay
// opaque.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, game.ErrNotFound),
		errors.Is(err, matchmaking.ErrPendingGameNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, chess.ErrWrongTurn),
		errors.Is(err, chess.ErrInvalidMove),
		errors.Is(err, chess.ErrGameOver),
		errors.Is(err, chess.ErrUnknownAccount),
		errors.Is(err, matchmaking.ErrNotParticipant),
		errors.Is(err, matchmaking.ErrNotQueueable):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, game.ErrConcurrentMove):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Printf("[API] internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
