/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the barbershop cash-flow server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Build the zap logger
  3. Open the SQLite or PostgreSQL store
  4. Create API handler, engine and role cache
  5. Start the repair scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port             HTTP server port (default: 8080)
  -driver           sqlite | postgres (default: sqlite)
  -db               SQLite path or Postgres URL (default: cashflow.db)
                    Use ":memory:" for in-memory SQLite
  -log-level        debug | info | warn | error
  -log-format       json | console
  -repair-interval  ledger repair interval, 0 disables (default: 1h)
  -require-admin    guard admin routes with the role check

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the repair scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  ./server -db=":memory:" -log-format=console
  CASHFLOW_DB_DRIVER=postgres CASHFLOW_DB_DSN=postgres://localhost/shop ./server

SEE ALSO:
  - config/config.go: Settings and environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/cashflow-engine/api"
	"github.com/warp/cashflow-engine/config"
	"github.com/warp/cashflow-engine/logging"
	"github.com/warp/cashflow-engine/store/postgres"
	"github.com/warp/cashflow-engine/store/sqlite"
)

type closingStore interface {
	api.Store
	Close() error
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.DBDriver, err)
	}
	defer store.Close()
	logger.Info("store ready", zap.String("driver", cfg.DBDriver))

	handler := api.NewHandler(store, api.NewRoleCache(cfg.RoleCacheTTL), logger)
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		RequireAdmin:   cfg.RequireAdmin,
	})

	scheduler := api.NewRepairScheduler(handler.Engine, logger)
	scheduler.CheckInterval = cfg.RepairInterval
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (closingStore, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		return postgres.New(ctx, cfg.DBDSN)
	default:
		return sqlite.New(cfg.DBDSN)
	}
}
