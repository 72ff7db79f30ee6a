package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations

	// Arbitration
	ResponseThreshold     float64
	CollectionWindow      time.Duration
	EvaluatorTimeout      time.Duration
	ResponseTimeout       time.Duration
	ContextWindowSize     int
	CollectiveCapacity    int
	ArbitrationWorkers    int
	EvaluationConcurrency int

	// Ledger retries
	LedgerMaxRetries int
	LedgerRetryBase  time.Duration
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SQLitePath:       os.Getenv("SQLITE_PATH"),
		RedisURL:         os.Getenv("REDIS_URL"),
		AutoBlockEnabled: getEnv("AUTO_BLOCK_ENABLED", "false") == "true",

		ResponseThreshold:     getEnvFloat("RESPONSE_THRESHOLD", 0.50),
		CollectionWindow:      getEnvDuration("COLLECTION_WINDOW", 3*time.Second),
		EvaluatorTimeout:      getEnvDuration("EVALUATOR_TIMEOUT", 2*time.Second),
		ResponseTimeout:       getEnvDuration("RESPONSE_TIMEOUT", 30*time.Second),
		ContextWindowSize:     getEnvInt("CONTEXT_WINDOW_SIZE", 20),
		CollectiveCapacity:    getEnvInt("COLLECTIVE_CAPACITY", 3),
		ArbitrationWorkers:    getEnvInt("ARBITRATION_WORKERS", 8),
		EvaluationConcurrency: getEnvInt("EVALUATION_CONCURRENCY", 16),

		LedgerMaxRetries: getEnvInt("LEDGER_MAX_RETRIES", 5),
		LedgerRetryBase:  getEnvDuration("LEDGER_RETRY_BASE", 100*time.Millisecond),
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	// In production, require database and redis URLs
	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
		if cfg.RedisURL == "" {
			panic("REDIS_URL is required in production")
		}
	}

	return cfg
}

// Validate checks that arbitration settings are usable.
func (c *Config) Validate() error {
	if c.ResponseThreshold < 0 || c.ResponseThreshold > 1 {
		return fmt.Errorf("RESPONSE_THRESHOLD must be within [0,1], got %v", c.ResponseThreshold)
	}
	if c.CollectionWindow <= 0 {
		return fmt.Errorf("COLLECTION_WINDOW must be > 0")
	}
	if c.EvaluatorTimeout <= 0 {
		return fmt.Errorf("EVALUATOR_TIMEOUT must be > 0")
	}
	if c.ResponseTimeout <= 0 {
		return fmt.Errorf("RESPONSE_TIMEOUT must be > 0")
	}
	if c.ContextWindowSize <= 0 {
		return fmt.Errorf("CONTEXT_WINDOW_SIZE must be > 0")
	}
	if c.CollectiveCapacity < 1 {
		return fmt.Errorf("COLLECTIVE_CAPACITY must be >= 1")
	}
	if c.ArbitrationWorkers < 1 || c.EvaluationConcurrency < 1 {
		return fmt.Errorf("ARBITRATION_WORKERS and EVALUATION_CONCURRENCY must be >= 1")
	}
	if c.LedgerMaxRetries < 0 {
		return fmt.Errorf("LEDGER_MAX_RETRIES must be >= 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("3s") or plain milliseconds ("3000").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
