// Package main provides the development relay server entry point
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/huddleup/huddle-notify/internal/platform/config"
	"github.com/huddleup/huddle-notify/internal/platform/logger"
	"github.com/huddleup/huddle-notify/internal/platform/metrics"
	"github.com/huddleup/huddle-notify/internal/relay/hub"
	"github.com/huddleup/huddle-notify/internal/relay/server"
	"github.com/huddleup/huddle-notify/internal/relay/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(cfg.Logger)

	m := metrics.New("huddle_relay", nil)

	var notifStore store.NotificationStore
	if cfg.Relay.Redis.Addr != "" {
		redisStore, err := store.NewRedisStore(cfg.Relay.Redis)
		if err != nil {
			log.Fatal("Failed to connect to Redis", "error", err)
		}
		defer redisStore.Close()
		notifStore = redisStore
		log.Info("Using Redis notification store", "addr", cfg.Relay.Redis.Addr)
	} else {
		notifStore = store.NewMemoryStore()
		log.Info("Using in-memory notification store")
	}

	h := hub.New(log)
	srv := server.New(cfg.Relay, h, notifStore, log, m)

	httpServer := &http.Server{
		Addr:         cfg.Relay.Addr(),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Relay.ReadTimeout,
		WriteTimeout: cfg.Relay.WriteTimeout,
		IdleTimeout:  cfg.Relay.IdleTimeout,
	}

	go func() {
		log.Info("Starting relay server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down relay server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Server stopped")
}
