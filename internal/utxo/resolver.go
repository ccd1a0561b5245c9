// Package utxo resolves the address behind a previous transaction output,
// backed by a bounded LRU cache of decoded transactions.
package utxo

import (
	"context"
	"encoding/hex"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/brc20/indexer/internal/rpcclient"
	"github.com/brc20/indexer/internal/script"
)

// TxFetcher is the subset of rpcclient.Client the resolver depends on.
type TxFetcher interface {
	GetRawTransaction(ctx context.Context, txid string) (*rpcclient.Tx, error)
}

// Resolver recovers the address that owns a given previous-transaction
// output, caching decoded transactions so a block with many inputs
// referencing the same earlier transaction pays for one RPC round trip.
type Resolver struct {
	rpc     TxFetcher
	cache   *lru.Cache[string, *rpcclient.Tx]
	mainnet bool
}

// New creates a Resolver with an LRU cache holding up to cacheSize decoded
// transactions (spec default: 1000).
func New(rpc TxFetcher, cacheSize int, mainnet bool) (*Resolver, error) {
	cache, err := lru.New[string, *rpcclient.Tx](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Resolver{rpc: rpc, cache: cache, mainnet: mainnet}, nil
}

// GetInputAddress returns the address owning output vout of transaction
// prevTxid, or "" if it cannot be resolved. It never returns an error to
// the caller — an RPC failure or missing output degrades to an
// unresolvable sender/recipient, exactly as the processor expects.
func (r *Resolver) GetInputAddress(ctx context.Context, prevTxid string, vout int) string {
	tx := r.getTransaction(ctx, prevTxid)
	if tx == nil {
		return ""
	}
	if vout < 0 || vout >= len(tx.Vout) {
		return ""
	}
	out := tx.Vout[vout]
	if addr := out.ScriptPubKey.FirstAddress(); addr != "" {
		return addr
	}
	raw, err := hex.DecodeString(out.ScriptPubKey.Hex)
	if err != nil {
		return ""
	}
	return script.AddressFromScript(raw, r.mainnet)
}

// getTransaction returns the cached decode of txid, fetching and caching it
// via RPC on a miss. Any RPC failure yields nil rather than propagating.
func (r *Resolver) getTransaction(ctx context.Context, txid string) *rpcclient.Tx {
	if tx, ok := r.cache.Get(txid); ok {
		return tx
	}

	tx, err := r.rpc.GetRawTransaction(ctx, txid)
	if err != nil {
		slog.Debug("utxo resolver: failed to fetch previous transaction", "txid", txid, "error", err)
		return nil
	}

	r.cache.Add(txid, tx)
	return tx
}
