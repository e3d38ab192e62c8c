package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bunnychess/backend/internal/chess"
	"github.com/bunnychess/backend/internal/matchmaking"
)

// AddToQueue admits a player into a matchmaking queue
func AddToQueue(svc *matchmaking.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			AccountID string `json:"account_id" binding:"required"`
			GameType  string `json:"game_type" binding:"required"`
			Ranked    bool   `json:"ranked"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "account_id and game_type are required"})
			return
		}

		gameType, err := chess.ParseGameType(req.GameType)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := svc.AddToQueue(c.Request.Context(), req.AccountID, gameType, req.Ranked); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "searching"})
	}
}

// RemoveFromQueue takes a player out of whatever queue it is searching in
func RemoveFromQueue(svc *matchmaking.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			AccountID string `json:"account_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "account_id is required"})
			return
		}

		if err := svc.RemoveFromQueue(c.Request.Context(), req.AccountID); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "removed"})
	}
}

// AcceptPendingGame records a player's acceptance of a proposed pairing
func AcceptPendingGame(svc *matchmaking.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			AccountID     string `json:"account_id" binding:"required"`
			PendingGameID string `json:"pending_game_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "account_id and pending_game_id are required"})
			return
		}

		if err := svc.AcceptPendingGame(c.Request.Context(), req.AccountID, req.PendingGameID); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "accepted"})
	}
}

// GetAccountStatus returns the matchmaking lifecycle state of an account
func GetAccountStatus(svc *matchmaking.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("account_id")
		if accountID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "account_id is required"})
			return
		}

		status, err := svc.GetAccountStatus(c.Request.Context(), accountID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

// GetQueueSizes reports the cardinality of all matchmaking queues
func GetQueueSizes(svc *matchmaking.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		sizes, err := svc.GetQueueSizes(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, sizes)
	}
}
