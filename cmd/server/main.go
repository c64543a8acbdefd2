package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mtr002/Job-Sync/internal/api"
	"github.com/mtr002/Job-Sync/internal/config"
	"github.com/mtr002/Job-Sync/internal/db"
	"github.com/mtr002/Job-Sync/internal/logger"
	"github.com/mtr002/Job-Sync/internal/nats"
	"github.com/mtr002/Job-Sync/internal/websocket"
	"github.com/mtr002/Job-Sync/internal/worker"
)

func main() {
	cfg, err := config.Load()
	logger.Init("job-sync-backend")
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Logger.Info().
		Str("port", cfg.Backend.Port).
		Int("worker_count", cfg.Backend.WorkerCount).
		Msg("Starting development job backend")

	store := db.NewStore()

	hub := websocket.NewHub()
	go hub.Run()

	var publisher api.SubmissionPublisher
	if cfg.UseNATS {
		natsClient, err := nats.NewClient(cfg.NATSURL)
		if err != nil {
			logger.Logger.Warn().Err(err).Msg("NATS unavailable, submissions will not be announced")
		} else {
			defer natsClient.Close()
			publisher = natsClient
			logger.Logger.Info().Str("url", cfg.NATSURL).Msg("Announcing submissions on NATS")
		}
	}

	pool := worker.NewPool(store, hub, &worker.SimulatedProcessor{StepDelay: cfg.Backend.StepDelay},
		cfg.Backend.WorkerCount, cfg.Backend.PollPeriod)
	pool.Start()

	server := api.NewServer(store, hub, publisher, cfg.Backend.Port)
	go func() {
		if err := server.Start(); err != nil {
			logger.Logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Logger.Info().Msg("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Logger.Error().Err(err).Msg("Server shutdown failed")
	}
	pool.Stop()
	hub.Stop()
	logger.Logger.Info().Msg("Server stopped")
}
