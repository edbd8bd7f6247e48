/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the balance ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (viper: file, LEDGER_* environment)
  2. Build the logger (zap)
  3. Open the SQLite store
  4. Pick the ledger locker (memory or redis)
  5. Start the cascade worker pool and recover pending ledgers
  6. Build the service, HTTP router and accrual scheduler
  7. Serve until SIGINT/SIGTERM

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (default: ./config.yaml if present)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the accrual scheduler
  4. Stop the worker pool; unfinished ledgers stay pending for next start
  5. Close database and redis connections

EXAMPLES:
  # Run with defaults
  ./server

  # Run with a config file
  ./server -config=./config/config.yaml

  # Override through the environment
  LEDGER_SERVER_PORT=3000 LEDGER_LOCK_BACKEND=redis ./server

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
  - timeoff/cascade.go: Cascade engine
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

	"github.com/warp/balance-ledger/api"
	"github.com/warp/balance-ledger/config"
	"github.com/warp/balance-ledger/generic"
	"github.com/warp/balance-ledger/lock"
	"github.com/warp/balance-ledger/logging"
	"github.com/warp/balance-ledger/store/sqlite"
	"github.com/warp/balance-ledger/timeoff"
	"github.com/warp/balance-ledger/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	locker, closeLocker, err := newLocker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	// Cascade engine and its worker pool
	engine := timeoff.NewEngine(store, locker, nil, logger.Named("cascade"), timeoff.EngineConfig{
		SettlePoll: cfg.Cascade.SettlePoll,
	})
	pool := worker.New(worker.Config{
		Workers:      cfg.Cascade.Workers,
		QueueSize:    cfg.Cascade.QueueSize,
		MaxAttempts:  cfg.Cascade.MaxAttempts,
		RetryBackoff: cfg.Cascade.RetryBackoff,
	}, engine.Handle, logger.Named("worker"))
	engine.SetQueue(pool)
	pool.Start(ctx)
	defer pool.Stop()

	if n, err := engine.Recover(ctx); err != nil {
		logger.Warn("recovering pending ledgers failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("pending ledgers enqueued", zap.Int("ledgers", n))
	}

	svc := timeoff.NewService(timeoff.Deps{
		Store:       store,
		Assignments: store,
		Directory:   store,
		Engine:      engine,
		Clock:       generic.SystemClock,
		Logger:      logger.Named("ledger"),
	})

	// Accrual scheduler
	scheduler := api.NewAccrualScheduler(svc, cfg.Scheduler.Interval, logger)
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.Start()
	defer scheduler.Stop()

	// Create router
	handler := api.NewHandler(svc, store, logger.Named("api"))
	router := api.NewRouter(handler, cfg.Server.CORS.AllowOrigins, logger.Named("http"))

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("db", cfg.Database.Path),
			zap.String("lock", cfg.Lock.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// newLocker returns the configured ledger locker and a function releasing
// its connection.
func newLocker(ctx context.Context, cfg *config.Config, logger *zap.Logger) (generic.Locker, func(), error) {
	if cfg.Lock.Backend != "redis" {
		return lock.NewMemory(), func() {}, nil
	}
	rdb, err := lock.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using redis ledger locks", zap.String("addr", cfg.Redis.Addr))
	return lock.NewRedis(rdb, cfg.Lock.TTL, logger.Named("lock")), func() { rdb.Close() }, nil
}
