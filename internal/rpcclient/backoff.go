package rpcclient

import (
	"math/rand"
	"time"

	"github.com/brc20/indexer/internal/config"
)

// suggestBackoff returns an exponentially increasing delay for consecutive
// RPC failures: base * 2^(failures-1), capped at max, with up to 20% jitter
// to avoid synchronized retries against the node after an outage.
func suggestBackoff(consecutiveFailures int) time.Duration {
	if consecutiveFailures <= 0 {
		return 0
	}
	delay := config.BackoffBase * time.Duration(uint64(1)<<uint(min(consecutiveFailures-1, 20)))
	if delay > config.BackoffMax {
		delay = config.BackoffMax
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 5))
	return delay + jitter
}
