package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/bunnychess/backend/internal/api"
	"github.com/bunnychess/backend/internal/config"
	"github.com/bunnychess/backend/internal/database"
	"github.com/bunnychess/backend/internal/events"
	"github.com/bunnychess/backend/internal/game"
	"github.com/bunnychess/backend/internal/matchmaking"
	"github.com/bunnychess/backend/internal/migrations"
	"github.com/bunnychess/backend/internal/nats"
	"github.com/bunnychess/backend/internal/ranking"
	"github.com/bunnychess/backend/internal/redis"
	"github.com/bunnychess/backend/internal/ws"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.Connect(cfg.DatabaseURL, cfg.DBMaxConnections)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations on start if requested
	if os.Getenv("MIGRATE_ON_START") == "true" {
		log.Println("↗ Running DB migrations on startup...")
		if err := migrations.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	// Initialize Redis
	rdb, err := redis.Connect(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()

	// Initialize NATS and provision streams
	nc, js, err := nats.Connect(cfg.NatsURL, cfg.NatsUser, cfg.NatsPassword)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer nc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := nats.EnsureStreams(ctx, js); err != nil {
		log.Fatalf("Failed to provision JetStream streams: %v", err)
	}

	publisher := events.NewJetStreamPublisher(js)

	// Game layer
	gameRepo := game.NewRedisRepository(rdb, cfg.GameTTLSeconds)
	jobQueue := game.NewRedisJobQueue(rdb)
	gameService := game.NewService(gameRepo, jobQueue, publisher)

	// Ranking layer
	rankingStore := ranking.NewPostgresStore(db)

	// Matchmaking layer
	queueStore := matchmaking.NewRedisQueueStore(rdb)
	statusStore := matchmaking.NewRedisStatusStore(rdb)
	pendingStore := matchmaking.NewRedisPendingStore(rdb)
	mmService := matchmaking.NewService(
		queueStore,
		statusStore,
		pendingStore,
		rankingStore,
		gameService,
		publisher,
		cfg.PendingGameTTLSeconds,
	)

	// Background workers
	go mmService.Run(ctx, cfg.MatchmakerTickSeconds)

	checkWorker := game.NewCheckWorker(gameService, jobQueue, cfg.CheckWorkerIdleSeconds)
	go checkWorker.Run(ctx)

	gameOverListener := matchmaking.NewGameOverListener(statusStore, rankingStore, publisher, matchmaking.NewRedisEloMarkers(rdb))
	if err := gameOverListener.Start(ctx, js); err != nil {
		log.Fatalf("Failed to start game-over listener: %v", err)
	}

	// WebSocket gateway
	hub := ws.NewHub()
	go hub.Run()

	fanout := ws.NewFanout(hub)
	if err := fanout.Start(ctx, js); err != nil {
		log.Fatalf("Failed to start event fanout: %v", err)
	}

	// Set up Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	api.SetupRoutes(router, cfg, gameService, mmService, rankingStore, hub)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("Starting bunnychess server on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Block until SIGINT/SIGTERM, then drain
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Forced shutdown: %v", err)
	}

	log.Println("Server stopped")
}
