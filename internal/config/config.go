// Package config loads runtime settings from the environment, with an
// optional .env file for local development.
package config

import (
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	// ServerURL is the realtime endpoint base, e.g. ws://localhost:8080.
	ServerURL string
	// DisplayName overrides the random default name when set.
	DisplayName string
	// ListenAddr is the devserver bind address.
	ListenAddr string
	// DatabaseDSN enables the devserver match-history store when set.
	DatabaseDSN string
}

func Load(log *zap.Logger) Config {
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file loaded", zap.Error(err))
	}

	return Config{
		ServerURL:   getenv("GAMEROOM_SERVER_URL", "ws://localhost:8080"),
		DisplayName: os.Getenv("GAMEROOM_DISPLAY_NAME"),
		ListenAddr:  getenv("GAMEROOM_LISTEN_ADDR", ":8080"),
		DatabaseDSN: os.Getenv("GAMEROOM_DATABASE_DSN"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// GamesEndpoint is the games namespace websocket URL.
func (c Config) GamesEndpoint() string { return c.ServerURL + "/ws/games" }

// ChatEndpoint is the chat namespace websocket URL.
func (c Config) ChatEndpoint() string { return c.ServerURL + "/ws/chat" }
