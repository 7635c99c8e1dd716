/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the settlement engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, config.toml, SETTLEMENT_* environment)
  2. Build the zap logger
  3. Open the SQLite store (migrations run on open)
  4. Load the default policy document, if configured
  5. Create the payrun service, handler and router
  6. Start the background scheduler and the HTTP server

COMMAND-LINE FLAGS:
  -config  Directory holding config.toml (default: .)
  -db      SQLite database path, overrides database.path
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for a running job)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the database

EXAMPLES:
  ./server -config=/etc/settlement
  SETTLEMENT_SCHEDULER_POOL_OWNER=sales-pool ./server -db=":memory:"

SEE ALSO:
  - config/config.go: all settings
  - api/server.go: Router configuration
  - api/scheduler.go: background jobs
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/settlement-engine/api"
	"github.com/warp/settlement-engine/config"
	"github.com/warp/settlement-engine/core"
	"github.com/warp/settlement-engine/factory"
	"github.com/warp/settlement-engine/logging"
	"github.com/warp/settlement-engine/payrun"
	"github.com/warp/settlement-engine/store/sqlite"
)

func main() {
	configDir := flag.String("config", ".", "directory holding config.toml")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	svc := payrun.NewService(store, logger, payrun.WithPoolOwner(core.EmployeeID(cfg.Scheduler.PoolOwner)))

	if cfg.Policy.DefaultFile != "" {
		if err := loadPolicyFile(context.Background(), svc, cfg.Policy.DefaultFile); err != nil {
			return err
		}
		logger.Info("default policy loaded", zap.String("file", cfg.Policy.DefaultFile))
	}

	scheduler := api.NewScheduler(svc, logger, api.SchedulerConfig{
		Enabled:          cfg.Scheduler.Enabled,
		TransferInterval: cfg.Scheduler.TransferInterval,
		LockInterval:     cfg.Scheduler.LockInterval,
		LockAfterDays:    cfg.Scheduler.LockAfterDays,
	})
	scheduler.Start()
	defer scheduler.Stop()

	router := api.NewRouter(api.NewHandler(svc, logger), logger, cfg.HTTP.CORSAllowOrigins)
	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("env", cfg.App.Env),
			zap.String("database", cfg.Database.Path))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", zap.Stringer("signal", sig))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func loadPolicyFile(ctx context.Context, svc *payrun.Service, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	cfg, err := factory.NewPolicyFactory().Parse(data, factory.DetectFormat(data))
	if err != nil {
		return fmt.Errorf("policy file %s: %w", path, err)
	}
	return svc.SavePolicy(ctx, cfg)
}
