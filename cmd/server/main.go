/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the trade ledger engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load environment configuration, then apply flags
  2. Build the zap logger
  3. Open the SQLite ledger store and the configured cache backend
  4. Wire the engine with Prometheus observers
  5. Start the cache maintenance scheduler
  6. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: PORT or 8080)
  -db      SQLite database path (default: DB_PATH or trade-ledger.db)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler
  4. Close cache backend and database
  5. Exit

EXAMPLES:
  # Run with file database and file caches
  CACHE_BACKEND=file ./server -db="./data/ledger.db"

  # Share caches across instances
  CACHE_BACKEND=redis REDIS_ADDR=redis:6379 ./server

ENVIRONMENT:
  See config/config.go.

SEE ALSO:
  - api/server.go: Router configuration
  - store/backend.go: Cache backend selection
  - ledger/engine.go: Engine wiring
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/trade-ledger/api"
	"github.com/warp/trade-ledger/config"
	"github.com/warp/trade-ledger/ledger"
	"github.com/warp/trade-ledger/logging"
	"github.com/warp/trade-ledger/metrics"
	"github.com/warp/trade-ledger/store"
	"github.com/warp/trade-ledger/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()
	cfg.Port = *port
	cfg.DBPath = *dbPath

	logger, err := logging.New(logging.Config{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		Service:     cfg.ServiceName,
		Environment: cfg.Environment,
	})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	// Initialize store
	db, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer db.Close()

	backend, err := store.Open(ctx, cfg, db, logger)
	if err != nil {
		return fmt.Errorf("open cache backend: %w", err)
	}
	defer backend.Close()

	collector := metrics.New(metrics.Config{ServiceName: cfg.ServiceName, Environment: cfg.Environment})
	engine := ledger.NewEngine(ledger.Config{
		Query:            db,
		Registry:         db,
		Writer:           db,
		Cache:            backend.Cache,
		Locker:           backend.Locker,
		AnalysisTTL:      cfg.AnalysisCacheTTL,
		OverviewLookback: cfg.OverviewLookbackDays,
		TopProducts:      cfg.TopProducts,
		Logger:           logger,
		CacheObserver:    collector,
		JobObserver:      collector,
	})

	scheduler := api.NewMaintenanceScheduler(engine, logger.Named("maintenance"))
	scheduler.CheckInterval = cfg.CachePruneInterval
	scheduler.Enabled = cfg.CachePruneInterval > 0
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(engine, logger, collector.Handler())
	router := api.NewRouter(handler, api.RouterOptions{AllowedOrigins: cfg.AllowedOrigins})

	// Rebuilds and full-history analyses run inside the request, so the
	// write timeout is generous.
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("db", cfg.DBPath),
			zap.String("cache_backend", backend.Name))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
