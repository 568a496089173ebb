/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the loyalty wallet server. Handles configuration,
  dependency injection, the background token sweeper, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (environment, optional .env)
  2. Initialize structured logging
  3. Initialize SQLite store
  4. Assemble ledger, token, and advisor services
  5. Start the token expiry sweeper
  6. Start HTTP server with graceful shutdown

CONFIGURATION (environment variables):
  PORT            HTTP server port (default: 8080)
  DATABASE_PATH   SQLite database path (default: loyalty.db)
                  Use ":memory:" for an in-memory database
  TOKEN_TTL       Token validity window (default: 5m)
  SWEEP_INTERVAL  Expiry sweep cadence (default: 30s)
  SITE_ID         Site tag for single-site deployments
  ALLOWED_ORIGIN  CORS allowlist entry (default: *)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweeper
  4. Close database connection
  5. Exit

SEE ALSO:
  - config/config.go: configuration loading
  - api/server.go: router configuration
  - store/sqlite/sqlite.go: database implementation
*/
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fuelhub/loyalty-engine/api"
	"github.com/fuelhub/loyalty-engine/config"
	"github.com/fuelhub/loyalty-engine/ledger"
	"github.com/fuelhub/loyalty-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	clock := ledger.SystemClock{}
	svc := ledger.NewService(store, clock)
	tokens := ledger.NewTokenService(store, clock, cfg.TokenTTL)
	advisor := ledger.NewAdvisor(store, nil)

	handler := api.NewHandler(svc, tokens, advisor, store, clock)
	router := api.NewRouter(handler, cfg.AllowedOrigins)

	sweeper := api.NewSweeper(tokens, cfg.SweepInterval)
	sweeper.Start()
	defer sweeper.Stop()

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("database", cfg.DatabasePath),
			zap.Duration("token_ttl", cfg.TokenTTL))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
