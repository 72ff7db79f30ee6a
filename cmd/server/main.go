package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/aicq-arbiter/internal/api"
	"github.com/eldtechnologies/aicq-arbiter/internal/arbiter"
	"github.com/eldtechnologies/aicq-arbiter/internal/config"
	"github.com/eldtechnologies/aicq-arbiter/internal/handlers"
	"github.com/eldtechnologies/aicq-arbiter/internal/ledger"
	"github.com/eldtechnologies/aicq-arbiter/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	// Initialize the decision ledger
	base, err := openLedger(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("ledger connection failed")
	}
	audit := ledger.NewRetrying(base, ledger.RetryConfig{
		MaxRetries: cfg.LedgerMaxRetries,
		BaseDelay:  cfg.LedgerRetryBase,
	}, logger)
	defer audit.Close()

	// Initialize the message store
	var (
		messages    store.MessageStore
		claims      store.Claimer
		redisStore  *store.RedisStore
		redisClient *redis.Client
	)
	if cfg.RedisURL != "" {
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		messages, claims, redisClient = redisStore, redisStore, redisStore.Client()
		logger.Info().Msg("connected to Redis")
	} else {
		mem := store.NewMemoryStore()
		messages, claims = mem, mem
		logger.Warn().Msg("REDIS_URL not set, keeping messages in memory")
	}

	// Start the arbitration workers
	coord := arbiter.New(arbiter.Config{
		Threshold:             cfg.ResponseThreshold,
		CollectionWindow:      cfg.CollectionWindow,
		EvaluatorTimeout:      cfg.EvaluatorTimeout,
		ResponseTimeout:       cfg.ResponseTimeout,
		ContextWindowSize:     cfg.ContextWindowSize,
		CollectiveCapacity:    cfg.CollectiveCapacity,
		Workers:               cfg.ArbitrationWorkers,
		EvaluationConcurrency: cfg.EvaluationConcurrency,
	}, messages, claims, audit, logger)
	coord.Start()

	// Create router
	h := handlers.NewHandler(coord, messages, audit, redisStore, logger)
	router := api.NewRouter(logger, h, api.Options{
		Redis:              redisClient,
		RateLimitWhitelist: cfg.RateLimitWhitelist,
		AutoBlockEnabled:   cfg.AutoBlockEnabled,
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Float64("threshold", cfg.ResponseThreshold).
			Dur("window", cfg.CollectionWindow).
			Msg("starting arbiter server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	coord.Close()

	logger.Info().Msg("server stopped")
}

// openLedger picks PostgreSQL, then SQLite, then memory.
func openLedger(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (ledger.Ledger, error) {
	switch {
	case cfg.DatabaseURL != "":
		pg, err := ledger.NewPostgresLedger(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("running ledger migrations...")
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		logger.Info().Msg("connected to PostgreSQL ledger")
		return pg, nil
	case cfg.SQLitePath != "":
		lite, err := ledger.NewSQLiteLedger(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened SQLite ledger")
		return lite, nil
	default:
		logger.Warn().Msg("no DATABASE_URL or SQLITE_PATH, ledger is in memory")
		return ledger.NewMemoryLedger(), nil
	}
}
