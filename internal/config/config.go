// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration.
type Config struct {
	Port        string   `env:"PORT" envDefault:"8080"`
	FrontendURL string   `env:"FRONTEND_URL"`
	DBPath      string   `env:"DB_PATH" envDefault:"./data/chats.db"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`

	// GRPCHealthPort enables the grpc.health.v1 listener when set.
	GRPCHealthPort string `env:"GRPC_HEALTH_PORT"`

	AWS       AWSConfig
	Model     ModelConfig
	Session   SessionConfig
	Results   ResultsConfig
	Batch     BatchConfig
	RateLimit RateLimitConfig
	HTTP      HTTPConfig

	PricingPath string `env:"PRICING_PATH" envDefault:"./pricing.json"`
	ThemesPath  string `env:"THEMES_PATH"`
}

// AWSConfig carries region and optional static credentials.
type AWSConfig struct {
	Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	SessionToken    string `env:"AWS_SESSION_TOKEN"`
}

// ModelConfig controls the hosted model invocation.
type ModelConfig struct {
	ID          string        `env:"BEDROCK_MODEL" envDefault:"anthropic.claude-3-haiku-20240307-v1:0"`
	MaxTokens   int           `env:"MODEL_MAX_TOKENS" envDefault:"1024"`
	Temperature float64       `env:"MODEL_TEMPERATURE" envDefault:"0.5"`
	TopP        float64       `env:"MODEL_TOP_P" envDefault:"0.9"`
	MaxAttempts int           `env:"MODEL_MAX_ATTEMPTS" envDefault:"10"`
	Timeout     time.Duration `env:"MODEL_TIMEOUT" envDefault:"2m"`
}

// SessionConfig bounds the in-memory conversation store.
type SessionConfig struct {
	HistoryWindow int           `env:"HISTORY_WINDOW" envDefault:"3"`
	Capacity      int           `env:"SESSION_CAPACITY" envDefault:"10000"`
	TTL           time.Duration `env:"SESSION_TTL" envDefault:"60m"`
	SweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"5m"`
}

// ResultsConfig selects where batch documents are written.
// An empty Bucket falls back to the local Dir.
type ResultsConfig struct {
	Bucket string `env:"RESULTS_BUCKET"`
	Prefix string `env:"RESULTS_PREFIX" envDefault:"Data/"`
	Dir    string `env:"RESULTS_DIR" envDefault:"./data/results"`
}

// BatchConfig controls fan-out of batch generation.
type BatchConfig struct {
	Concurrency int `env:"BATCH_CONCURRENCY" envDefault:"4"`
}

// RateLimitConfig holds per-client request throttling settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `env:"RATE_LIMIT_RPS" envDefault:"2"`
	Burst             int     `env:"RATE_LIMIT_BURST" envDefault:"10"`
}

// HTTPConfig holds request handling limits.
type HTTPConfig struct {
	MaxRequestBodySize int64         `env:"MAX_REQUEST_BODY" envDefault:"1048576"`
	HealthCheckTimeout time.Duration `env:"HEALTH_CHECK_TIMEOUT" envDefault:"5s"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Model.ID == "" {
		return fmt.Errorf("BEDROCK_MODEL cannot be empty")
	}
	if c.Model.MaxTokens <= 0 {
		return fmt.Errorf("MODEL_MAX_TOKENS must be > 0")
	}
	if c.Model.MaxAttempts <= 0 {
		return fmt.Errorf("MODEL_MAX_ATTEMPTS must be > 0")
	}
	if c.Model.Timeout <= 0 {
		return fmt.Errorf("MODEL_TIMEOUT must be > 0")
	}
	if c.Session.HistoryWindow <= 0 {
		return fmt.Errorf("HISTORY_WINDOW must be > 0")
	}
	if c.Session.Capacity <= 0 {
		return fmt.Errorf("SESSION_CAPACITY must be > 0")
	}
	if c.Results.Bucket == "" && c.Results.Dir == "" {
		return fmt.Errorf("one of RESULTS_BUCKET or RESULTS_DIR must be set")
	}
	if c.Batch.Concurrency <= 0 {
		return fmt.Errorf("BATCH_CONCURRENCY must be > 0")
	}
	if (c.AWS.AccessKeyID == "") != (c.AWS.SecretAccessKey == "") {
		return fmt.Errorf("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// HasStaticCredentials reports whether explicit AWS keys were supplied.
func (c *Config) HasStaticCredentials() bool {
	return c.AWS.AccessKeyID != "" && c.AWS.SecretAccessKey != ""
}

// IsContainer returns true if running inside a container image.
func IsContainer() bool {
	if os.Getenv("CONTAINER") == "true" {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
