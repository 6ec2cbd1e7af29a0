package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/nickcrisci/PalPalette-2-sub000/internal/claim"
	"github.com/nickcrisci/PalPalette-2-sub000/internal/config"
	"github.com/nickcrisci/PalPalette-2-sub000/internal/httpapi"
	"github.com/nickcrisci/PalPalette-2-sub000/internal/protocol"
	"github.com/nickcrisci/PalPalette-2-sub000/internal/registry"
	"github.com/nickcrisci/PalPalette-2-sub000/internal/router"
	"github.com/nickcrisci/PalPalette-2-sub000/internal/snapshot"
	"github.com/nickcrisci/PalPalette-2-sub000/internal/store"
	"github.com/nickcrisci/PalPalette-2-sub000/internal/token"
	"github.com/nickcrisci/PalPalette-2-sub000/internal/transport"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	if cfg.AuthToken == "" {
		slog.Warn("no auth token configured, channel will connect unauthenticated")
	} else if token.Expired(cfg.AuthToken, time.Now()) {
		slog.Warn("configured auth token is expired, server will reject the channel")
	}

	var repo *store.Repository
	if cfg.DBPath != "" {
		db, err := store.OpenSQLite(cfg.DBPath)
		if err != nil {
			slog.Error("db open failed", "path", cfg.DBPath, "error", err)
			os.Exit(1)
		}
		repo, err = store.New(db)
		if err != nil {
			slog.Error("db init failed", "error", err)
			os.Exit(1)
		}
	}

	var cache *snapshot.Cache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			slog.Error("redis init failed", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		cache = snapshot.New(rdb)
	}

	channel := transport.New(transport.Options{
		URL:   cfg.WebSocketURL(),
		Token: func() string { return cfg.AuthToken },
	})

	opts := []registry.Option{}
	if repo != nil {
		opts = append(opts, registry.WithStore(repo))
	}
	if cache != nil {
		opts = append(opts, registry.WithSnapshots(cache))
	}
	reg := registry.New(channel, opts...)
	channel.SetHandler(router.New(reg))

	claims := claim.New(cfg.ServerURL, func() string { return cfg.AuthToken })

	// The hub itself is the first subscriber, which brings the channel up
	// and keeps it up for the daemon's lifetime.
	sub := reg.Subscribe(registry.Hooks{
		OnConnection: func(s transport.ConnectionState) {
			slog.Info("channel state", "connected", s.IsConnected, "attempts", s.ReconnectAttempts)
		},
		OnNotification: func(n protocol.UserActionRequired) {
			slog.Info("user action required", "device_id", n.DeviceID, "action", n.Action)
		},
	})

	api := httpapi.NewServer(reg, claims, repo, cfg.JWTSecret)
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: api.Router()}
	go func() {
		slog.Info("pairing hub started", "port", cfg.Port, "server", cfg.ServerURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	sub.Cancel()
	reg.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("graceful shutdown failed", "error", err)
	}
	slog.Info("pairing hub stopped")
}
