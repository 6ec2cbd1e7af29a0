package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PAIRING_HUB_PORT", "")
	t.Setenv("PALETTE_SERVER_URL", "")
	t.Setenv("PAIRING_HUB_DB", "")

	cfg := Load()
	if cfg.Port != "8098" {
		t.Fatalf("default port: %q", cfg.Port)
	}
	if cfg.ServerURL != "http://localhost:3001" {
		t.Fatalf("default server url: %q", cfg.ServerURL)
	}
	if cfg.DBPath != "pairinghub.db" {
		t.Fatalf("default db path: %q", cfg.DBPath)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PAIRING_HUB_PORT", "9000")
	t.Setenv("PALETTE_SERVER_URL", "https://palette.example.com")
	t.Setenv("PAIRING_HUB_JWT_SECRET", " secret ")

	cfg := Load()
	if cfg.Port != "9000" {
		t.Fatalf("port override: %q", cfg.Port)
	}
	if cfg.ServerURL != "https://palette.example.com" {
		t.Fatalf("server url override: %q", cfg.ServerURL)
	}
	if cfg.JWTSecret != "secret" {
		t.Fatalf("secret not trimmed: %q", cfg.JWTSecret)
	}
}

func TestWebSocketURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"http://localhost:3001", "ws://localhost:3001/ws"},
		{"https://palette.example.com", "wss://palette.example.com/ws"},
		{"https://palette.example.com/", "wss://palette.example.com/ws"},
	}
	for _, c := range cases {
		got := Config{ServerURL: c.base}.WebSocketURL()
		if got != c.want {
			t.Fatalf("WebSocketURL(%q) = %q, want %q", c.base, got, c.want)
		}
	}
}
