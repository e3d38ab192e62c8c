package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bunnychess/backend/internal/chess"
	"github.com/bunnychess/backend/internal/game"
)

// CreateGame starts a game directly, bypassing matchmaking. Used by internal
// services and development tooling.
func CreateGame(svc *game.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			AccountID0 string `json:"account_id_0" binding:"required"`
			AccountID1 string `json:"account_id_1" binding:"required"`
			GameType   string `json:"game_type" binding:"required"`
			Metadata   string `json:"metadata"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "account ids and game_type are required"})
			return
		}
		if req.AccountID0 == req.AccountID1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "players must be distinct"})
			return
		}

		gameType, err := chess.ParseGameType(req.GameType)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		g, err := svc.CreateGame(c.Request.Context(), req.AccountID0, req.AccountID1, gameType, req.Metadata)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, g.Snapshot())
	}
}

// GetGameState returns the current snapshot of a game
func GetGameState(svc *game.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		g, err := svc.GetGame(c.Request.Context(), c.Param("game_id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, g.Snapshot())
	}
}

// MakeMove applies a SAN move for the calling account
func MakeMove(svc *game.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			AccountID string `json:"account_id" binding:"required"`
			Move      string `json:"move" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "account_id and move are required"})
			return
		}

		g, err := svc.MakeMove(c.Request.Context(), c.Param("game_id"), req.AccountID, req.Move)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, g.Snapshot())
	}
}

// Resign forfeits the game for the calling account
func Resign(svc *game.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			AccountID string `json:"account_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "account_id is required"})
			return
		}

		result, err := svc.Resign(c.Request.Context(), c.Param("game_id"), req.AccountID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// CheckGameResult re-evaluates a game for termination
func CheckGameResult(svc *game.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := svc.CheckGameResult(c.Request.Context(), c.Param("game_id"))
		if err != nil {
			respondError(c, err)
			return
		}
		if result == nil {
			c.JSON(http.StatusOK, gin.H{"live": true})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}
