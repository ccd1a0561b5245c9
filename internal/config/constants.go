package config

import "time"

// BRC-20 protocol constants.
const (
	ProtocolIdentifier = "brc-20"
	MaxOpReturnBytes   = 80
	TickerCaseFolded   = true // tickers are stored upper-cased
)

// Backoff / retry tuning for RPC calls.
const (
	BackoffBase = 1 * time.Second
	BackoffMax  = 60 * time.Second
)

// Circuit breaker tuning for the Bitcoin RPC client.
const (
	CircuitBreakerThreshold   = 5
	CircuitBreakerCooldown    = 30 * time.Second
	CircuitBreakerHalfOpenMax = 1
	CircuitClosed             = "closed"
	CircuitOpen               = "open"
	CircuitHalfOpen           = "half-open"
)

// Indexer progress reporting cadence.
const (
	ProgressLogInterval        = 100  // log progress every N processed blocks
	BlockchainHeightRefreshInterval = 1000 // re-query chain tip every N blocks
)

// Logging.
const (
	LogDir         = "./logs"
	LogFilePattern = "brc20indexer-%s-%s.log" // YYYY-MM-DD, then level name
	LogMaxAgeDays  = 30
)

// Database.
const (
	DBPath        = "./data/brc20.sqlite"
	DBBusyTimeout = 5000 // milliseconds
)
