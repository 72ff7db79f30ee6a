package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("RESPONSE_THRESHOLD", "")
	t.Setenv("COLLECTION_WINDOW", "")

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 0.50, cfg.ResponseThreshold)
	assert.Equal(t, 3*time.Second, cfg.CollectionWindow)
	assert.Equal(t, 2*time.Second, cfg.EvaluatorTimeout)
	assert.Equal(t, 30*time.Second, cfg.ResponseTimeout)
	assert.Equal(t, 3, cfg.CollectiveCapacity)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("RESPONSE_THRESHOLD", "0.65")
	t.Setenv("COLLECTION_WINDOW", "1500")
	t.Setenv("EVALUATOR_TIMEOUT", "750ms")
	t.Setenv("COLLECTIVE_CAPACITY", "5")
	t.Setenv("RATE_LIMIT_WHITELIST", "10.0.0.0/8, 127.0.0.1,")

	cfg := Load()
	assert.Equal(t, 0.65, cfg.ResponseThreshold)
	assert.Equal(t, 1500*time.Millisecond, cfg.CollectionWindow)
	assert.Equal(t, 750*time.Millisecond, cfg.EvaluatorTimeout)
	assert.Equal(t, 5, cfg.CollectiveCapacity)
	assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, cfg.RateLimitWhitelist)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := Config{
		ResponseThreshold:     0.5,
		CollectionWindow:      time.Second,
		EvaluatorTimeout:      time.Second,
		ResponseTimeout:       time.Second,
		ContextWindowSize:     10,
		CollectiveCapacity:    3,
		ArbitrationWorkers:    1,
		EvaluationConcurrency: 1,
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"threshold above one", func(c *Config) { c.ResponseThreshold = 1.2 }},
		{"zero window", func(c *Config) { c.CollectionWindow = 0 }},
		{"zero timeout", func(c *Config) { c.EvaluatorTimeout = 0 }},
		{"zero response timeout", func(c *Config) { c.ResponseTimeout = 0 }},
		{"zero capacity", func(c *Config) { c.CollectiveCapacity = 0 }},
		{"no workers", func(c *Config) { c.ArbitrationWorkers = 0 }},
		{"negative retries", func(c *Config) { c.LedgerMaxRetries = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoadPanicsInProductionWithoutStores(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	assert.Panics(t, func() { Load() })
}
