package config

import (
	"os"
	"strings"
)

type Config struct {
	Port          string
	ServerURL     string // palette server base URL (http/https)
	AuthToken     string // bearer credential for the channel and claim client
	JWTSecret     string // local API auth; empty disables the middleware
	DBPath        string
	RedisAddr     string
	RedisPassword string
}

func env(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func Load() Config {
	return Config{
		Port:          env("PAIRING_HUB_PORT", "8098"),
		ServerURL:     env("PALETTE_SERVER_URL", "http://localhost:3001"),
		AuthToken:     env("PALETTE_AUTH_TOKEN", ""),
		JWTSecret:     env("PAIRING_HUB_JWT_SECRET", ""),
		DBPath:        env("PAIRING_HUB_DB", "pairinghub.db"),
		RedisAddr:     env("REDIS_ADDR", ""),
		RedisPassword: env("REDIS_PASSWORD", ""),
	}
}

// WebSocketURL derives the persistent channel endpoint from the server base
// URL: http -> ws, https -> wss, path /ws.
func (c Config) WebSocketURL() string {
	url := c.ServerURL
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return strings.TrimRight(url, "/") + "/ws"
}
