package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bunnychess/backend/internal/ranking"
)

// GetAccountRanking returns both MMR dimensions of an account, creating the
// ranking on first observation.
func GetAccountRanking(store ranking.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("account_id")
		if accountID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "account_id is required"})
			return
		}

		r, err := store.GetOrCreateRanking(c.Request.Context(), accountID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"ranked_mmr": r.RankedMmr,
			"normal_mmr": r.NormalMmr,
		})
	}
}
