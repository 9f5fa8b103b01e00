/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the society billing server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (config.toml + SB_* environment)
  2. Initialize zap logger
  3. Open SQLite store and apply migrations
  4. Select idempotency backend (memory or redis)
  5. Create API handler, router, rate limiter
  6. Start auto-billing scheduler (if enabled)
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a TOML config file (default: ./config.toml if present)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close idempotency backend and database
  5. Exit

EXAMPLES:
  # Run with defaults
  ./server

  # In-memory database, debug logs
  SB_DATABASE_PATH=":memory:" SB_LOG_LEVEL=debug ./server

  # Redis-backed idempotency keys
  SB_IDEMPOTENCY_BACKEND=redis SB_REDIS_ADDR=redis:6379 ./server

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
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
	"golang.org/x/sync/errgroup"

	"github.com/warp/society-billing/api"
	"github.com/warp/society-billing/config"
	"github.com/warp/society-billing/idempotency"
	"github.com/warp/society-billing/logger"
	"github.com/warp/society-billing/store/sqlite"
)

func main() {
	configFile := flag.String("config", "", "Path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("Server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	log.Info("Starting society billing",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("database", cfg.Database.Path),
	)

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()

	// Idempotency backend
	idem, closeIdem, err := newIdempotencyStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeIdem(); err != nil {
			log.Error("Error closing idempotency store", zap.Error(err))
		}
	}()
	log.Info("Idempotency backend ready", zap.String("backend", cfg.Idempotency.Backend))

	// Handler
	handler := api.NewHandler(store, log)
	handler.Idempotency = idem
	handler.IdempotencyTTL = cfg.Idempotency.TTL
	handler.Generator.Workers = cfg.Billing.GenerationWorkers
	handler.Allocator.MaxAttempts = cfg.Billing.ReceiptRetryAttempts

	opts := api.RouterOptions{Logger: log, AllowedOrigins: cfg.HTTP.CORSAllowOrigins}
	if cfg.HTTP.RateLimitEnabled {
		limiterCfg := api.DefaultRateLimiterConfig()
		limiterCfg.RequestsPerSecond = cfg.HTTP.RateLimitPerSec
		limiterCfg.BurstSize = cfg.HTTP.RateLimitBurst
		opts.RateLimiter = api.NewKeyedRateLimiter(limiterCfg)
		defer opts.RateLimiter.Close()
		log.Info("Rate limiting enabled",
			zap.Float64("per_second", cfg.HTTP.RateLimitPerSec),
			zap.Int("burst", cfg.HTTP.RateLimitBurst),
		)
	}
	router := api.NewRouter(handler, opts)

	// Scheduler
	scheduler := api.NewBillingScheduler(store, handler.Generator, log)
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.CheckInterval = cfg.Scheduler.Interval
	scheduler.Start()
	defer scheduler.Stop()

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("Server stopped")
	return nil
}

// newIdempotencyStore returns the configured backend and its closer.
func newIdempotencyStore(cfg *config.Config) (idempotency.Store, func() error, error) {
	switch cfg.Idempotency.Backend {
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r, err := idempotency.NewRedis(ctx, idempotency.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		return r, r.Close, nil
	default:
		m := idempotency.NewMemory(time.Minute)
		return m, m.Close, nil
	}
}
