package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromEnv_Defaults(t *testing.T) {
	t.Setenv("LLM_API_KEY", "test-key")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "llm", cfg.Engine.Provider)
	assert.Equal(t, "test-key", cfg.Engine.LLM.APIKey)
	assert.Equal(t, "openai/gpt-4o-mini", cfg.Engine.LLM.Model)
	assert.Equal(t, 8000, cfg.Engine.LLM.MaxTokens)
	assert.Equal(t, "./data/lingodoc.db", cfg.Storage.DBPath)
	assert.Equal(t, 64*1024, cfg.Storage.OffloadThreshold)
	assert.Equal(t, 4, cfg.Pipeline.WorkerCount)
	assert.Equal(t, 3, cfg.Pipeline.MaxChunkAttempts)
	assert.Equal(t, 20, cfg.Pipeline.SpanBatchThreshold)
	assert.Equal(t, "@every 1m", cfg.Health.CronExpr)
	assert.Equal(t, 15*time.Minute, cfg.Health.StaleAfter)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "info", cfg.Server.LogLevel)
}

func TestNewFromEnv_Overrides(t *testing.T) {
	t.Setenv("LLM_API_KEY", "test-key")
	t.Setenv("LLM_MODEL", "openai/gpt-4o")
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("STALE_AFTER", "5m")
	t.Setenv("LLM_TEMPERATURE", "0.7")

	cfg, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o", cfg.Engine.LLM.Model)
	assert.Equal(t, 8, cfg.Pipeline.WorkerCount)
	assert.Equal(t, 5*time.Minute, cfg.Health.StaleAfter)
	assert.InDelta(t, 0.7, cfg.Engine.LLM.Temperature, 1e-9)
}

func TestNewFromEnv_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("LLM_API_KEY", "test-key")
	t.Setenv("WORKER_COUNT", "not-a-number")
	t.Setenv("STALE_AFTER", "soon")

	cfg, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Pipeline.WorkerCount)
	assert.Equal(t, 15*time.Minute, cfg.Health.StaleAfter)
}

func TestNewFromEnv_Validation(t *testing.T) {
	t.Setenv("LLM_API_KEY", "")
	_, err := NewFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LLM_API_KEY")

	t.Setenv("ENGINE_PROVIDER", "google")
	_, err = NewFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GOOGLE_PROJECT_ID")

	t.Setenv("GOOGLE_PROJECT_ID", "proj-1")
	cfg, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "google", cfg.Engine.Provider)

	t.Setenv("ENGINE_PROVIDER", "babelfish")
	_, err = NewFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown ENGINE_PROVIDER")
}

func TestNewFromEnv_Options(t *testing.T) {
	t.Setenv("LLM_API_KEY", "test-key")

	cfg, err := NewFromEnv(func(c *Config) {
		c.Pipeline.MaxChunkAttempts = 5
	})
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Pipeline.MaxChunkAttempts)
}
