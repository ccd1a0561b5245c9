// Package config loads indexer configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all indexer configuration loaded from environment variables.
type Config struct {
	RPCURL  string `envconfig:"BRC20_RPC_URL" default:"http://127.0.0.1:8332"`
	RPCUser string `envconfig:"BRC20_RPC_USER"`
	RPCPass string `envconfig:"BRC20_RPC_PASS"`

	DBPath   string `envconfig:"BRC20_DB_PATH" default:"./data/brc20.sqlite"`
	LogLevel string `envconfig:"BRC20_LOG_LEVEL" default:"info"`
	LogDir   string `envconfig:"BRC20_LOG_DIR" default:"./logs"`

	StartBlockHeight        int64 `envconfig:"BRC20_START_BLOCK_HEIGHT" default:"895534"`
	BatchSize               int   `envconfig:"BRC20_BATCH_SIZE" default:"1"`
	MaxReorgDepth           int64 `envconfig:"BRC20_MAX_REORG_DEPTH" default:"100"`
	MintPositionHeight      int64 `envconfig:"BRC20_MINT_POSITION_HEIGHT" default:"984444"`
	MarketplaceCutoffHeight int64 `envconfig:"BRC20_MARKETPLACE_CUTOFF_HEIGHT" default:"901350"`

	MaxRetries                  int `envconfig:"BRC20_MAX_RETRIES" default:"3"`
	RetryDelaySeconds           int `envconfig:"BRC20_RETRY_DELAY_SECONDS" default:"5"`
	MaxConsecutiveRPCFailures   int `envconfig:"BRC20_MAX_CONSECUTIVE_RPC_FAILURES" default:"10"`
	HealthCheckIntervalSeconds  int `envconfig:"BRC20_HEALTH_CHECK_INTERVAL_SECONDS" default:"30"`
	UTXOCacheSize               int `envconfig:"BRC20_UTXO_CACHE_SIZE" default:"1000"`

	StopOnError bool `envconfig:"BRC20_STOP_ON_ERROR" default:"true"`
}

// Load reads configuration from a .env file (if present) then from environment
// variables. Environment variables override .env values.
func Load() (*Config, error) {
	// godotenv does NOT override already-set env vars, so real environment
	// variables take precedence over .env values.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			slog.Warn("failed to load .env file", "file", ".env", "error", err)
		} else {
			slog.Info("loaded .env file", "file", ".env")
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.StartBlockHeight < 0 {
		return fmt.Errorf("%w: start block height must be >= 0, got %d", ErrInvalidConfig, c.StartBlockHeight)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: batch size must be >= 1, got %d", ErrInvalidConfig, c.BatchSize)
	}
	if c.MaxReorgDepth < 1 {
		return fmt.Errorf("%w: max reorg depth must be >= 1, got %d", ErrInvalidConfig, c.MaxReorgDepth)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must be >= 0, got %d", ErrInvalidConfig, c.MaxRetries)
	}
	if c.UTXOCacheSize < 1 {
		return fmt.Errorf("%w: UTXO cache size must be >= 1, got %d", ErrInvalidConfig, c.UTXOCacheSize)
	}
	return nil
}
