// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Blockchain settings
	RPCURL       string
	ChainID      int64
	AgentKey     string // Hex-encoded agent signing key, with or without 0x prefix
	AgentAddress string

	// Session settings
	SessionTTL time.Duration

	// Policy defaults (BNB decimal strings)
	DefaultMaxSingleTx   string
	DefaultMaxDailySpend string
	DefaultDailyTxLimit  int

	// Security
	RateLimitRPS int

	// Tracing
	OTLPEndpoint string // OTLP gRPC endpoint (optional, tracing disabled if not set)
}

// BNB testnet defaults
const (
	DefaultRPCURL        = "https://data-seed-prebsc-1-s1.binance.org:8545"
	DefaultChainID       = 97 // BNB Smart Chain testnet
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultSessionTTL    = time.Hour
	DefaultMaxSingleTx   = "1"  // 1 BNB
	DefaultMaxDailySpend = "10" // 10 BNB
	DefaultDailyTxLimit  = 100
	DefaultRateLimit     = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:          os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RPCURL:               getEnv("RPC_URL", DefaultRPCURL),
		ChainID:              getEnvInt64("CHAIN_ID", DefaultChainID),
		AgentKey:             os.Getenv("AGENT_KEY"), // Required, no default
		AgentAddress:         os.Getenv("AGENT_ADDRESS"),
		SessionTTL:           getEnvDuration("SESSION_TTL", DefaultSessionTTL),
		DefaultMaxSingleTx:   getEnv("MAX_SINGLE_TX_BNB", DefaultMaxSingleTx),
		DefaultMaxDailySpend: getEnv("MAX_DAILY_SPEND_BNB", DefaultMaxDailySpend),
		DefaultDailyTxLimit:  int(getEnvInt64("DAILY_TX_LIMIT", DefaultDailyTxLimit)),
		RateLimitRPS:         int(getEnvInt64("RATE_LIMIT_RPS", DefaultRateLimit)),
		OTLPEndpoint:         os.Getenv("OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.AgentKey == "" {
		return fmt.Errorf("AGENT_KEY is required")
	}

	// Allow both with and without 0x prefix
	key := c.AgentKey
	if len(key) == 66 && key[:2] == "0x" {
		key = key[2:]
	}
	if len(key) != 64 {
		return fmt.Errorf("AGENT_KEY must be 64 hex characters (with or without 0x prefix)")
	}

	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}

	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
