package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Kitiphol/TokTik/internal/auth"
	"github.com/Kitiphol/TokTik/internal/config"
	"github.com/Kitiphol/TokTik/internal/feed"
	"github.com/Kitiphol/TokTik/internal/logging"
	"github.com/Kitiphol/TokTik/internal/redis"
	"github.com/Kitiphol/TokTik/internal/relay"
	"github.com/Kitiphol/TokTik/internal/server"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(ctx context.Context, cfg *config.Config) *goredis.Client {
	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(srv *server.Server, listener *feed.Listener, registry *relay.Registry) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		listener.Close()
		registry.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Relay starting", "env", cfg.AppEnv, "port", cfg.Port, "feed_channel", cfg.FeedChannel)

	redisClient := setupRedis(context.Background(), cfg)
	defer func() { _ = redisClient.Close() }()

	verifier := auth.NewVerifier(cfg.JWTSecret)
	registry := relay.NewRegistry(cfg.MaxSessionsPerUser)
	router := relay.NewRouter(registry, clock)
	listener := feed.NewListener(context.Background(), redisClient, cfg.FeedChannel, router)

	srv := server.NewServer(cfg, verifier, registry, redisClient, clock)

	done := runGracefulShutdown(srv, listener, registry)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
