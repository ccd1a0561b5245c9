// Package rpcclient is a resilient JSON-RPC-over-HTTP client for Bitcoin
// Core, built directly on net/http and encoding/json (the teacher's own
// idiom for talking to chain RPC endpoints) rather than a full node/wire
// client library — the indexer only ever calls four read-only methods.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brc20/indexer/internal/config"
)

// connectionErrorMarkers are substrings that indicate a dead connection the
// client should retire and reconnect on the next call, rather than a
// protocol-level RPC error.
var connectionErrorMarkers = []string{
	"request-sent",
	"connection refused",
	"timeout",
	"cannotsendrequest",
	"eof",
	"connection reset",
}

// Client is a resilient Bitcoin Core JSON-RPC client: every call passes
// through a rate limiter and a circuit breaker, and retries transient
// failures with exponential backoff honoring any Retry-After hint.
type Client struct {
	url        string
	user       string
	pass       string
	httpClient *http.Client
	breaker    *circuitBreaker
	limiter    *rateLimiter
	maxRetries int

	lastHealthCheck     time.Time
	healthCheckInterval time.Duration
}

// New creates a Bitcoin RPC client against url, authenticating with
// user/pass (HTTP basic auth, as Bitcoin Core's RPC server expects).
func New(url, user, pass string, maxRetries int, healthCheckInterval time.Duration) *Client {
	return &Client{
		url:        url,
		user:       user,
		pass:       pass,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker:    newCircuitBreaker(config.CircuitBreakerThreshold, config.CircuitBreakerCooldown),
		limiter:    newRateLimiter(50),
		maxRetries: maxRetries,

		healthCheckInterval: healthCheckInterval,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     string          `json:"id"`
}

// isConnectionError reports whether err indicates a dead connection that
// should be retired rather than a protocol-level RPC failure.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, marker := range connectionErrorMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// call performs a single JSON-RPC round trip with no retry logic.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "1.0", ID: "brc20indexer", Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return config.NewTransientError(fmt.Errorf("%s: %w", method, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		retryAfter := parseRetryAfter(resp.Header)
		return config.NewTransientErrorWithRetry(
			fmt.Errorf("%s: rpc node returned %d", method, resp.StatusCode), retryAfter)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return config.NewTransientError(fmt.Errorf("%s: decode rpc response: %w", method, err))
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s: %w", method, rpcResp.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("%s: unmarshal result: %w", method, err)
	}
	return nil
}

// callWithRetry wraps call with rate limiting, circuit breaking, and
// exponential backoff: one first attempt plus up to maxRetries retries.
func (c *Client) callWithRetry(ctx context.Context, method string, params []any, out any) error {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if !c.breaker.Allow() {
			return fmt.Errorf("%s: %w", method, config.ErrCircuitOpen)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limiter wait: %w", method, err)
		}

		err := c.call(ctx, method, params, out)
		if err == nil {
			c.breaker.RecordSuccess()
			return nil
		}

		lastErr = err
		transient := config.IsTransient(err) || isConnectionError(err)
		if !transient {
			c.breaker.RecordSuccess() // protocol errors are not the node's fault
			return err
		}

		c.breaker.RecordFailure()
		if isConnectionError(err) {
			// Drop pooled keep-alive connections so the next call dials anew.
			c.httpClient.CloseIdleConnections()
		}

		if attempt == c.maxRetries {
			break
		}

		delay := suggestBackoff(attempt + 1)
		if ra := config.GetRetryAfter(err); ra > delay {
			delay = ra
		}
		slog.Warn("rpc call failed, retrying", "method", method, "attempt", attempt+1, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("%s: exhausted retries: %w", method, lastErr)
}

// GetBlockCount returns the current chain tip height.
func (c *Client) GetBlockCount(ctx context.Context) (int64, error) {
	var height int64
	err := c.callWithRetry(ctx, "getblockcount", nil, &height)
	return height, err
}

// GetBlockHash returns the block hash at height.
func (c *Client) GetBlockHash(ctx context.Context, height int64) (string, error) {
	var hash string
	err := c.callWithRetry(ctx, "getblockhash", []any{height}, &hash)
	return hash, err
}

// GetBlock returns the fully decoded block (verbosity=2: transactions with
// resolved vin/vout details) for hash.
func (c *Client) GetBlock(ctx context.Context, hash string) (*Block, error) {
	var block Block
	err := c.callWithRetry(ctx, "getblock", []any{hash, 2}, &block)
	if err != nil {
		return nil, err
	}
	return &block, nil
}

// GetRawTransaction returns the fully decoded transaction for txid.
func (c *Client) GetRawTransaction(ctx context.Context, txid string) (*Tx, error) {
	var tx Tx
	err := c.callWithRetry(ctx, "getrawtransaction", []any{txid, true}, &tx)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// HealthCheck probes the node via getblockcount, but skips the round trip
// if one has already succeeded within healthCheckInterval.
func (c *Client) HealthCheck(ctx context.Context) error {
	if time.Since(c.lastHealthCheck) < c.healthCheckInterval {
		return nil
	}
	if _, err := c.GetBlockCount(ctx); err != nil {
		return err
	}
	c.lastHealthCheck = time.Now()
	return nil
}

// CircuitState exposes the current breaker state for diagnostics/logging.
func (c *Client) CircuitState() string { return c.breaker.State() }
