/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the tuition billing engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Build the zap logger
  3. Initialize SQLite store
  4. Wire credit ledger, billing generator and season service
  5. Configure HTTP router
  6. Start the billing scheduler (if enabled)
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: tuition.db)
           Use ":memory:" for in-memory database
  See config/config.go for the full list and environment keys.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler, waiting for a running billing cycle
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/academy.db"

  # Run with in-memory database and no scheduler
  ./server -db=":memory:" -scheduler=false

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Billing scheduler
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/tuition-engine/api"
	"github.com/warp/tuition-engine/billing"
	"github.com/warp/tuition-engine/config"
	"github.com/warp/tuition-engine/credit"
	"github.com/warp/tuition-engine/logging"
	"github.com/warp/tuition-engine/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	log, err := logging.New(logging.Options{Level: cfg.LogLevel, Development: cfg.LogDevelopment})
	if err != nil {
		return err
	}
	defer log.Sync()

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	ledger := credit.NewLedger()
	gen := billing.NewGenerator(store, ledger, log)
	gen.DefaultDueDay = cfg.DefaultDueDay
	svc := billing.NewService(store, ledger, log)

	handler := api.NewHandler(store, svc, gen, log)
	router := api.NewRouter(handler, cfg.CORSOrigins)

	var scheduler *api.BillingScheduler
	if cfg.SchedulerEnabled {
		loc, err := cfg.Location()
		if err != nil {
			return err
		}
		scheduler, err = api.NewBillingScheduler(gen, api.SchedulerConfig{
			Schedule:   cfg.BillingCron,
			Location:   loc,
			RunOnStart: cfg.SchedulerCatchUp,
		}, log)
		if err != nil {
			return err
		}
		scheduler.Start()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.Int("port", cfg.Port), zap.String("db", cfg.DBPath))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server failed", zap.Error(err))
	}

	if scheduler != nil {
		scheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
