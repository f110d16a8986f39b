// Package main is the entry point for the quantlab backtesting service.
// It serves the backtest, optimization and report API, streams engine
// progress over a websocket and runs the report maintenance jobs.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/quantlab/internal/config"
	"github.com/aristath/quantlab/internal/di"
	"github.com/aristath/quantlab/internal/server"
	"github.com/aristath/quantlab/pkg/logger"
)

// main orchestrates startup:
// 1. Loads configuration from environment variables (.env supported)
// 2. Initializes logging
// 3. Wires all dependencies via the DI container
// 4. Starts the HTTP server and the job scheduler
// 5. Waits for a shutdown signal and shuts down gracefully
func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Int("port", cfg.Port).
		Int("n_jobs", cfg.Engine.NJobs).
		Msg("Starting quantlab")

	ctx := context.Background()
	container, jobs, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	srv := server.New(server.Config{
		Log:       log,
		Config:    cfg,
		Container: container,
		Jobs:      jobs,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	container.Scheduler.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	container.Scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if err := container.ReportsDB.WALCheckpoint("TRUNCATE"); err != nil {
		log.Warn().Err(err).Msg("Final WAL checkpoint failed")
	}

	log.Info().Msg("Server stopped")
}
