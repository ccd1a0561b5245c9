// Package reorg detects and rolls back blockchain reorganizations,
// grounded on the original indexer's detect/find-ancestor/rollback split.
package reorg

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brc20/indexer/internal/amount"
	"github.com/brc20/indexer/internal/brc20/types"
	"github.com/brc20/indexer/internal/store"
)

// BlockHashFetcher is the subset of rpcclient.Client the reorg handler
// depends on.
type BlockHashFetcher interface {
	GetBlockHash(ctx context.Context, height int64) (string, error)
}

// Handler detects chain reorganizations and rolls the store back to the
// last common ancestor, replaying every surviving operation to
// recompute balances from scratch.
type Handler struct {
	RPC             BlockHashFetcher
	Store           store.Store
	StartHeight     int64
	MaxReorgDepth   int64
}

// New builds a Handler.
func New(rpc BlockHashFetcher, st store.Store, startHeight, maxReorgDepth int64) *Handler {
	return &Handler{RPC: rpc, Store: st, StartHeight: startHeight, MaxReorgDepth: maxReorgDepth}
}

// DetectReorg reports whether the block recorded at height no longer
// matches the chain's current hash for that height. A height with no
// recorded block is never considered a reorg.
func (h *Handler) DetectReorg(ctx context.Context, height int64) (bool, error) {
	processed, ok, err := h.Store.GetProcessedBlock(ctx, height)
	if err != nil {
		return false, fmt.Errorf("get processed block at height %d: %w", height, err)
	}
	if !ok {
		return false, nil
	}

	currentHash, err := h.RPC.GetBlockHash(ctx, height)
	if err != nil {
		return false, fmt.Errorf("get current block hash at height %d: %w", height, err)
	}

	return processed.BlockHash != currentHash, nil
}

// HandleReorg rolls the store back to the last common ancestor at or below
// reorgHeight and returns the height processing should resume from
// (ancestor + 1).
func (h *Handler) HandleReorg(ctx context.Context, reorgHeight int64) (int64, error) {
	slog.Warn("handling reorg", "reorg_height", reorgHeight)

	ancestor, err := h.findCommonAncestor(ctx, reorgHeight)
	if err != nil {
		return 0, fmt.Errorf("find common ancestor: %w", err)
	}

	slog.Info("found common ancestor", "common_ancestor", ancestor, "blocks_to_rollback", reorgHeight-ancestor)

	if err := h.rollbackToHeight(ctx, ancestor); err != nil {
		return 0, fmt.Errorf("rollback to height %d: %w", ancestor, err)
	}

	return ancestor + 1, nil
}

// findCommonAncestor walks backward from startHeight, at most MaxReorgDepth
// steps (and never below StartHeight), looking for a height whose stored
// hash still matches the chain. If none is found it falls back to
// max(StartHeight, startHeight-MaxReorgDepth).
func (h *Handler) findCommonAncestor(ctx context.Context, startHeight int64) (int64, error) {
	maxDepth := h.MaxReorgDepth
	if span := startHeight - h.StartHeight; span < maxDepth {
		maxDepth = span
	}

	current := startHeight
	for i := int64(0); i < maxDepth; i++ {
		processed, ok, err := h.Store.GetProcessedBlock(ctx, current)
		if err != nil {
			slog.Error("error finding common ancestor", "height", current, "error", err)
			current--
			continue
		}
		if !ok {
			current--
			continue
		}

		currentHash, err := h.RPC.GetBlockHash(ctx, current)
		if err != nil {
			slog.Error("error finding common ancestor", "height", current, "error", err)
			current--
			continue
		}

		if processed.BlockHash == currentHash {
			return current, nil
		}
		current--
	}

	fallback := startHeight - h.MaxReorgDepth
	if fallback < h.StartHeight {
		fallback = h.StartHeight
	}
	slog.Warn("could not find common ancestor, using fallback", "fallback_height", fallback)
	return fallback, nil
}

// rollbackToHeight deletes every processed_blocks/brc20_operations row above
// targetHeight, then recomputes every balance from scratch by replaying
// the surviving valid operations in (block_height, tx_index,
// multi_transfer_step) order. This full-replay approach trades one-time
// recomputation cost for never having to reconcile a partially-undone
// balance mutation.
func (h *Handler) rollbackToHeight(ctx context.Context, targetHeight int64) error {
	return h.Store.RunInTx(ctx, func(tx store.Store) error {
		blocksDeleted, opsDeleted, err := tx.DeleteAboveHeight(ctx, targetHeight)
		if err != nil {
			return fmt.Errorf("delete above height %d: %w", targetHeight, err)
		}
		slog.Info("rollback completed", "deleted_blocks", blocksDeleted, "deleted_operations", opsDeleted)

		return replayBalances(ctx, tx, targetHeight)
	})
}

// replayBalances zeroes every balance then walks every valid surviving
// operation up to targetHeight, replaying mint credits and transfer
// debit/credit pairs through the same amount arithmetic the processor
// uses. Deploy remaining-supply is likewise recomputed as each mint
// replays.
func replayBalances(ctx context.Context, tx store.Store, targetHeight int64) error {
	slog.Info("recalculating balances", "from_height", targetHeight)

	if err := tx.ZeroAllBalances(ctx); err != nil {
		return fmt.Errorf("zero all balances: %w", err)
	}
	if err := tx.ResetAllDeploysRemainingSupply(ctx); err != nil {
		return fmt.Errorf("reset all deploys remaining supply: %w", err)
	}

	ops, err := tx.ValidOperationsUpToHeight(ctx, targetHeight)
	if err != nil {
		return fmt.Errorf("load valid operations up to height %d: %w", targetHeight, err)
	}

	mintedByTicker := map[string]amount.Amount{}

	for _, op := range ops {
		switch op.Op {
		case types.OpMint:
			if _, err := applyBalanceDelta(ctx, tx, op.ToAddress, op.Ticker, op.Amount, true); err != nil {
				return err
			}
			total := mintedByTicker[op.Ticker].Add(op.Amount)
			mintedByTicker[op.Ticker] = total

			if deploy, ok, err := tx.GetDeploy(ctx, op.Ticker); err != nil {
				return fmt.Errorf("get deploy %s during replay: %w", op.Ticker, err)
			} else if ok {
				remaining, err := deploy.MaxSupply.Sub(total)
				if err == nil {
					if err := tx.UpsertDeployRemainingSupply(ctx, op.Ticker, remaining); err != nil {
						return fmt.Errorf("update remaining supply for %s during replay: %w", op.Ticker, err)
					}
				}
			}

		case types.OpTransfer:
			debited, err := applyBalanceDelta(ctx, tx, op.FromAddress, op.Ticker, op.Amount, false)
			if err != nil {
				return err
			}
			if !debited {
				// The debit side didn't fit the replayed balance; skip the
				// paired credit too so the pair stays atomic instead of
				// minting balance out of a half-applied transfer.
				slog.Error("skipping unbalanced transfer replay", "txid", op.Txid, "ticker", op.Ticker)
				continue
			}
			if _, err := applyBalanceDelta(ctx, tx, op.ToAddress, op.Ticker, op.Amount, true); err != nil {
				return err
			}

		case types.OpDeploy:
			// Deploy rows carry no balance mutation; the deploys table
			// itself survived DeleteAboveHeight untouched (only
			// operations/blocks above the target were removed).
		}
	}

	return nil
}

// applyBalanceDelta applies a credit or debit to address/ticker's replayed
// balance. For a debit that would go negative it reports applied=false
// without mutating or erroring, so the caller can keep a transfer's debit
// and credit atomic instead of applying one side of a broken pair.
func applyBalanceDelta(ctx context.Context, tx store.Store, address, ticker string, delta amount.Amount, credit bool) (applied bool, err error) {
	if address == "" {
		return false, nil
	}
	current, err := tx.GetBalance(ctx, address, ticker)
	if err != nil {
		return false, fmt.Errorf("get balance %s/%s during replay: %w", address, ticker, err)
	}

	var updated amount.Amount
	if credit {
		updated = current.Add(delta)
	} else {
		updated, err = current.Sub(delta)
		if err != nil {
			// A surviving transfer whose debit no longer fits current
			// balance indicates a replay ordering bug upstream; skip
			// rather than corrupt the balance further.
			slog.Error("replay produced a negative balance, skipping debit", "address", address, "ticker", ticker)
			return false, nil
		}
	}

	if err := tx.UpsertBalance(ctx, address, ticker, updated); err != nil {
		return false, fmt.Errorf("upsert balance %s/%s during replay: %w", address, ticker, err)
	}
	return true, nil
}
