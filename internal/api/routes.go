package api

import (
	"github.com/gin-gonic/gin"

	"github.com/bunnychess/backend/internal/api/handlers"
	"github.com/bunnychess/backend/internal/config"
	"github.com/bunnychess/backend/internal/game"
	"github.com/bunnychess/backend/internal/matchmaking"
	"github.com/bunnychess/backend/internal/middleware"
	"github.com/bunnychess/backend/internal/ranking"
	"github.com/bunnychess/backend/internal/ws"
)

// SetupRoutes configures all API routes
func SetupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	games *game.Service,
	mm *matchmaking.Service,
	rankings ranking.Store,
	hub *ws.Hub,
) {
	router.Use(middleware.CORS())

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handlers.HealthCheck)

		// Event push channel; authenticates via token query parameter
		v1.GET("/ws", ws.Handle(hub, cfg.JWTSecret))

		auth := v1.Group("")
		auth.Use(middleware.Auth(cfg.JWTSecret))
		{
			// Matchmaking endpoints
			mmGroup := auth.Group("/matchmaking")
			{
				mmGroup.POST("/queue", handlers.AddToQueue(mm))
				mmGroup.DELETE("/queue", handlers.RemoveFromQueue(mm))
				mmGroup.POST("/pending/accept", handlers.AcceptPendingGame(mm))
				mmGroup.GET("/status/:account_id", handlers.GetAccountStatus(mm))
				mmGroup.GET("/queues", handlers.GetQueueSizes(mm))
			}

			// Game endpoints
			gameGroup := auth.Group("/game")
			{
				gameGroup.POST("", handlers.CreateGame(games))
				gameGroup.GET("/:game_id", handlers.GetGameState(games))
				gameGroup.POST("/:game_id/move", handlers.MakeMove(games))
				gameGroup.POST("/:game_id/resign", handlers.Resign(games))
				gameGroup.POST("/:game_id/check", handlers.CheckGameResult(games))
			}

			// Ranking endpoints
			auth.GET("/ranking/:account_id", handlers.GetAccountRanking(rankings))
		}
	}
}
