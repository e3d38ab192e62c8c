package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	Environment string

	// Server
	Port string

	// Database
	DatabaseURL      string
	DBMaxConnections int

	// Redis
	RedisURL string

	// NATS
	NatsURL      string
	NatsUser     string
	NatsPassword string

	// Security
	JWTSecret string

	// Matchmaking
	MatchmakerTickSeconds int
	PendingGameTTLSeconds int

	// Game
	GameTTLSeconds         int
	CheckWorkerIdleSeconds int
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		// Environment
		Environment: getEnv("APP_ENV", "development"),

		// Server
		Port: getEnv("APP_PORT", "8080"),

		// Database
		DatabaseURL:      getEnv("DATABASE_URL", "postgres://localhost:5432/bunnychess?sslmode=disable"),
		DBMaxConnections: getEnvInt("DB_MAX_CONNECTIONS", 25),

		// Redis
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		// NATS
		NatsURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NatsUser:     getEnv("NATS_USER", ""),
		NatsPassword: getEnv("NATS_PASSWORD", ""),

		// Security
		JWTSecret: getEnv("JWT_SECRET", "change-me-in-production"),

		// Matchmaking
		MatchmakerTickSeconds: getEnvInt("MATCHMAKER_TICK_SECONDS", 1),
		PendingGameTTLSeconds: getEnvInt("PENDING_GAME_TTL_SECONDS", 10),

		// Game
		GameTTLSeconds:         getEnvInt("GAME_TTL_SECONDS", 86400),
		CheckWorkerIdleSeconds: getEnvInt("CHECK_WORKER_IDLE_SECONDS", 5),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
