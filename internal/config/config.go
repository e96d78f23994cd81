package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
// Supports environment variables with sensible defaults.
//
// Environment Variables:
// Engine Configuration:
// - ENGINE_PROVIDER: Translation provider, "llm" or "google" (default: llm)
// - LLM_API_KEY: API key for the LLM provider (required when provider=llm)
// - LLM_API_URL: API endpoint URL (default: https://openrouter.ai/api/v1)
// - LLM_MODEL: Model name to use (default: openai/gpt-4o-mini)
// - LLM_MAX_TOKENS: Maximum tokens for responses (default: 8000)
// - LLM_TEMPERATURE: Temperature for responses (default: 0.2)
// - LLM_TIMEOUT: Request timeout in seconds (default: 120)
// - GOOGLE_PROJECT_ID: Google Cloud project (provider=google)
// - GOOGLE_CREDENTIALS_FILE: Service account credentials path (provider=google)
//
// Storage Configuration:
// - DB_PATH: SQLite database path (default: ./data/lingodoc.db)
// - BLOB_DIR: Object storage root directory (default: ./data/blobs)
// - OFFLOAD_THRESHOLD: Chunk payload size in bytes above which HTML is
//   offloaded to blob storage (default: 65536)
//
// Pipeline Configuration:
// - WORKER_COUNT: Signal bus worker count (default: 4)
// - MAX_CHUNK_ATTEMPTS: Per-chunk translation attempt budget (default: 3)
// - SPAN_BATCH_THRESHOLD: Minimum labeled-span count that switches a chunk to
//   batch map translation (default: 20)
//
// Health Configuration:
// - HEALTH_CRON_EXPR: Health monitor schedule (default: @every 1m)
// - STALE_AFTER: Job staleness threshold (default: 15m)
// - MAX_JOB_RETRIES: Job-level restart budget for stalled jobs (default: 3)
// - JOB_LOG_RETENTION: Append-only job log retention window (default: 720h)
//
// Server Configuration:
// - LISTEN_ADDR: HTTP API listen address (default: :8080)
// - NOTIFY_WEBHOOK_URL: Job notification webhook URL (optional)
// - LOG_LEVEL: debug/info/warn/error (default: info)

type Config struct {
	Engine  EngineConfig  `json:"engine"`
	Storage StorageConfig `json:"storage"`

	Pipeline PipelineConfig `json:"pipeline"`
	Health   HealthConfig   `json:"health"`
	Server   ServerConfig   `json:"server"`
}

// EngineConfig selects and configures the translation provider.
type EngineConfig struct {
	Provider string `json:"provider"`

	LLM LLMConfig `json:"llm"`

	GoogleProjectID       string `json:"google_project_id"`
	GoogleCredentialsFile string `json:"google_credentials_file"`
}

// LLMConfig holds the configuration for the LLM client.
// Supports any OpenAI-compatible provider (OpenRouter, OpenAI, etc.).
type LLMConfig struct {
	APIKey      string  `json:"api_key"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
}

type StorageConfig struct {
	DBPath           string `json:"db_path"`
	BlobDir          string `json:"blob_dir"`
	OffloadThreshold int    `json:"offload_threshold"`
}

type PipelineConfig struct {
	WorkerCount        int `json:"worker_count"`
	MaxChunkAttempts   int `json:"max_chunk_attempts"`
	SpanBatchThreshold int `json:"span_batch_threshold"`
}

type HealthConfig struct {
	CronExpr        string        `json:"cron_expr"`
	StaleAfter      time.Duration `json:"stale_after"`
	MaxJobRetries   int           `json:"max_job_retries"`
	JobLogRetention time.Duration `json:"job_log_retention"`
}

type ServerConfig struct {
	ListenAddr       string `json:"listen_addr"`
	NotifyWebhookURL string `json:"notify_webhook_url"`
	LogLevel         string `json:"log_level"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment
// variables and options.
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		Engine: EngineConfig{
			Provider: getEnvString("ENGINE_PROVIDER", "llm"),
			LLM: LLMConfig{
				APIKey:      getEnvString("LLM_API_KEY", ""),
				APIURL:      getEnvString("LLM_API_URL", "https://openrouter.ai/api/v1"),
				Model:       getEnvString("LLM_MODEL", "openai/gpt-4o-mini"),
				MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 8000),
				Temperature: getEnvFloat("LLM_TEMPERATURE", 0.2),
				Timeout:     getEnvInt("LLM_TIMEOUT", 120),
			},
			GoogleProjectID:       getEnvString("GOOGLE_PROJECT_ID", ""),
			GoogleCredentialsFile: getEnvString("GOOGLE_CREDENTIALS_FILE", ""),
		},
		Storage: StorageConfig{
			DBPath:           getEnvString("DB_PATH", "./data/lingodoc.db"),
			BlobDir:          getEnvString("BLOB_DIR", "./data/blobs"),
			OffloadThreshold: getEnvInt("OFFLOAD_THRESHOLD", 64*1024),
		},
		Pipeline: PipelineConfig{
			WorkerCount:        getEnvInt("WORKER_COUNT", 4),
			MaxChunkAttempts:   getEnvInt("MAX_CHUNK_ATTEMPTS", 3),
			SpanBatchThreshold: getEnvInt("SPAN_BATCH_THRESHOLD", 20),
		},
		Health: HealthConfig{
			CronExpr:        getEnvString("HEALTH_CRON_EXPR", "@every 1m"),
			StaleAfter:      getEnvDuration("STALE_AFTER", 15*time.Minute),
			MaxJobRetries:   getEnvInt("MAX_JOB_RETRIES", 3),
			JobLogRetention: getEnvDuration("JOB_LOG_RETENTION", 30*24*time.Hour),
		},
		Server: ServerConfig{
			ListenAddr:       getEnvString("LISTEN_ADDR", ":8080"),
			NotifyWebhookURL: getEnvString("NOTIFY_WEBHOOK_URL", ""),
			LogLevel:         getEnvString("LOG_LEVEL", "info"),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	switch c.Engine.Provider {
	case "llm":
		if c.Engine.LLM.APIKey == "" {
			return fmt.Errorf("LLM_API_KEY is required when ENGINE_PROVIDER=llm")
		}
	case "google":
		if c.Engine.GoogleProjectID == "" {
			return fmt.Errorf("GOOGLE_PROJECT_ID is required when ENGINE_PROVIDER=google")
		}
	default:
		return fmt.Errorf("unknown ENGINE_PROVIDER %q", c.Engine.Provider)
	}
	if c.Pipeline.MaxChunkAttempts <= 0 {
		return fmt.Errorf("MAX_CHUNK_ATTEMPTS must be positive")
	}
	if c.Health.MaxJobRetries <= 0 {
		return fmt.Errorf("MAX_JOB_RETRIES must be positive")
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration value from environment variables with default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
