/*
main.go - Application entry point

PURPOSE:
  Starts the installment ledger HTTP server and the reconciliation
  scheduler. Handles configuration, dependency injection, and graceful
  shutdown.

STARTUP SEQUENCE:
  1. Load configuration (config.toml + LEDGER_* environment)
  2. Build the zap logger
  3. Open and migrate the SQLite store, assemble ledger/reconciler/scheduler
  4. Configure HTTP router (auth when enabled, /metrics, scenarios outside production)
  5. Start the scheduler and the server

COMMAND-LINE FLAGS:
  -port    Overrides app.port
  -db      Overrides database.path (":memory:" for an in-memory database)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler, letting running jobs finish
  4. Close database connection

SEE ALSO:
  - api/server.go: Router configuration
  - app/app.go: Component wiring
  - config/config.go: Settings and defaults
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/installment-ledger/api"
	"github.com/warp/installment-ledger/app"
	"github.com/warp/installment-ledger/config"
	"github.com/warp/installment-ledger/logger"
	"github.com/warp/installment-ledger/rbac"
)

func main() {
	// Flags
	port := flag.String("port", "", "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.App.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("Server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := api.RouterOptions{
		CORSOrigins:     cfg.HTTP.CORSAllowOrigins,
		Metrics:         a.Metrics.Handler(),
		Log:             log.Named("http"),
		EnableScenarios: !cfg.IsProduction(),
	}
	if cfg.Auth.Enabled {
		grants := cfg.Auth.Grants
		if len(grants) == 0 {
			grants = rbac.DefaultGrants()
		}
		table, err := rbac.NewGrantTable(cfg.Auth.SuperRoles, grants)
		if err != nil {
			return fmt.Errorf("invalid auth grants: %w", err)
		}
		opts.Auth = api.NewAuth(cfg.Auth.JWTSecret, table)
	}

	handler := api.NewHandler(a.Store, a.Ledger, a.Reconciler, a.Scheduler, log.Named("api"))
	router := api.NewRouter(handler, opts)

	if cfg.Scheduler.Enabled {
		if err := a.Scheduler.Start(ctx); err != nil {
			return err
		}
	} else {
		log.Info("Scheduler disabled; jobs run only on demand")
	}

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server starting",
			zap.String("app", cfg.App.Name),
			zap.String("env", cfg.App.Env),
			zap.String("addr", server.Addr),
			zap.String("db", cfg.Database.Path))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := a.Scheduler.Stop(shutdownCtx); err != nil {
		log.Error("Scheduler did not stop in time", zap.Error(err))
	}

	log.Info("Server stopped")
	return nil
}
