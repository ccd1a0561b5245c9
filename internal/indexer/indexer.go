// Package indexer drives the main block-processing loop: retrieve a block,
// pre-scan its transactions for BRC-20 candidates, process those
// candidates (marketplace transfers ahead of everything else) into a
// per-block IntermediateState, then flush the result and record the block
// as processed.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brc20/indexer/internal/brc20/parser"
	"github.com/brc20/indexer/internal/brc20/processor"
	"github.com/brc20/indexer/internal/brc20/types"
	"github.com/brc20/indexer/internal/config"
	"github.com/brc20/indexer/internal/indexer/reorg"
	"github.com/brc20/indexer/internal/rpcclient"
	"github.com/brc20/indexer/internal/store"
)

// BlockResult summarizes one processed block, mirroring the fields
// persisted to processed_blocks.
type BlockResult struct {
	Height               int64
	BlockHash            string
	TxCount              int
	BRC20OperationsFound int
	BRC20OperationsValid int
	ProcessingTime       time.Duration
}

// Indexer owns the block loop. It never embeds BRC-20 business rules
// itself (that is the processor and validator's job) and never issues raw
// SQL (that is the store's job).
type Indexer struct {
	RPC       *rpcclient.Client
	Store     store.Store
	Processor *processor.Processor
	Reorg     *reorg.Handler

	StartHeight   int64
	MaxReorgDepth int64
	StopOnError   bool

	// PollInterval is how long to sleep after catching up to the chain
	// tip in continuous mode.
	PollInterval time.Duration

	// RetryDelay is how long to back off after a failed tip fetch before
	// retrying, mirroring the original continuous indexer's RPC backoff.
	RetryDelay time.Duration
	// MaxConsecutiveRPCFailures stops the loop once tip fetches fail this
	// many times in a row without an intervening success, matching the
	// original's max_consecutive_rpc_failures guard.
	MaxConsecutiveRPCFailures int
}

// New constructs an Indexer with a 10-second tip poll interval, matching
// the original indexer's catch-up wait, and RPC retry/failure settings
// from cfg.
func New(rpc *rpcclient.Client, st store.Store, proc *processor.Processor, reorgHandler *reorg.Handler, startHeight, maxReorgDepth int64, stopOnError bool, cfg *config.Config) *Indexer {
	return &Indexer{
		RPC:                       rpc,
		Store:                     st,
		Processor:                 proc,
		Reorg:                     reorgHandler,
		StartHeight:               startHeight,
		MaxReorgDepth:             maxReorgDepth,
		StopOnError:               stopOnError,
		PollInterval:              10 * time.Second,
		RetryDelay:                time.Duration(cfg.RetryDelaySeconds) * time.Second,
		MaxConsecutiveRPCFailures: cfg.MaxConsecutiveRPCFailures,
	}
}

// DetermineStartHeight resumes from one past the highest recorded
// processed_blocks row, or the configured start height if nothing has
// been processed yet (or the stored progress predates it).
func (ix *Indexer) DetermineStartHeight(ctx context.Context) (int64, error) {
	last, ok, err := ix.Store.LatestProcessedHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("determine start height: %w", err)
	}
	if ok && last >= ix.StartHeight {
		return last + 1, nil
	}
	return ix.StartHeight, nil
}

func (ix *Indexer) shouldCheckReorg(height int64) bool {
	return height > ix.StartHeight
}

// Run processes blocks from startHeight up to maxBlocks blocks (0 means no
// limit), continuing past the chain tip and waiting for new blocks when
// continuous is true. It returns when maxBlocks is exhausted, the context
// is cancelled, or an unrecoverable error occurs.
func (ix *Indexer) Run(ctx context.Context, startHeight int64, maxBlocks int64, continuous bool) error {
	height := startHeight
	blocksProcessed := int64(0)
	consecutiveRPCFailures := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		tip, err := ix.RPC.GetBlockCount(ctx)
		if err != nil {
			consecutiveRPCFailures++
			if consecutiveRPCFailures >= ix.MaxConsecutiveRPCFailures {
				return fmt.Errorf("get block count: %d consecutive rpc failures: %w", consecutiveRPCFailures, err)
			}
			slog.Warn("get block count failed, backing off", "consecutive_failures", consecutiveRPCFailures, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(ix.RetryDelay):
			}
			continue
		}
		consecutiveRPCFailures = 0

		endHeight := tip
		if maxBlocks > 0 {
			endHeight = min64(tip, startHeight+maxBlocks-1)
		}

		if height > endHeight {
			if !continuous {
				slog.Info("indexing completed", "final_height", height-1, "blocks_processed", blocksProcessed)
				return nil
			}
			slog.Debug("caught up to chain tip, waiting for new blocks", "height", height, "tip", tip)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(ix.PollInterval):
			}
			continue
		}

		for height <= endHeight {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if ix.shouldCheckReorg(height) {
				reorgDetected, err := ix.Reorg.DetectReorg(ctx, height-1)
				if err != nil {
					slog.Error("error detecting reorg", "height", height-1, "error", err)
				} else if reorgDetected {
					slog.Warn("reorg detected, handling rollback", "height", height-1)
					resumeHeight, err := ix.Reorg.HandleReorg(ctx, height-1)
					if err != nil {
						return fmt.Errorf("handle reorg at height %d: %w", height-1, err)
					}
					height = resumeHeight
					continue
				}
			}

			result, err := ix.ProcessBlock(ctx, height)
			if err != nil {
				slog.Error("block processing failed", "height", height, "error", err)
				if ix.StopOnError {
					return fmt.Errorf("process block %d: %w", height, err)
				}
				height++
				continue
			}

			if height%config.ProgressLogInterval == 0 {
				slog.Info("indexing progress",
					"height", height,
					"operations_found", result.BRC20OperationsFound,
					"operations_valid", result.BRC20OperationsValid)
			}

			blocksProcessed++
			height++

			if maxBlocks > 0 && blocksProcessed >= maxBlocks {
				slog.Info("indexing completed", "final_height", height-1, "blocks_processed", blocksProcessed)
				return nil
			}
		}
	}
}

// ProcessBlock retrieves block height via RPC, processes its transactions,
// and records the result. A concurrent writer racing to record the same
// height is resolved by reading back the stored row: a matching hash means
// the block was already processed (skip); a differing hash means a reorg
// landed between the read and the write (treat the stored row as stale and
// keep this block's result).
func (ix *Indexer) ProcessBlock(ctx context.Context, height int64) (*BlockResult, error) {
	start := time.Now()

	blockHash, err := ix.RPC.GetBlockHash(ctx, height)
	if err != nil {
		return nil, fmt.Errorf("get block hash for height %d: %w", height, err)
	}
	block, err := ix.RPC.GetBlock(ctx, blockHash)
	if err != nil {
		return nil, fmt.Errorf("get block %s: %w", blockHash, err)
	}

	if existing, ok, err := ix.Store.GetProcessedBlock(ctx, height); err != nil {
		return nil, fmt.Errorf("check existing block at height %d: %w", height, err)
	} else if ok && existing.BlockHash == blockHash {
		slog.Debug("block already processed with same hash, skipping", "height", height, "hash", blockHash)
		return &BlockResult{
			Height:               height,
			BlockHash:            blockHash,
			TxCount:              existing.TxCount,
			BRC20OperationsFound: existing.BRC20OperationsFound,
			BRC20OperationsValid: existing.BRC20OperationsValid,
			ProcessingTime:       time.Since(start),
		}, nil
	}

	blockTimestamp := time.Unix(block.Time, 0).UTC()

	found, valid, err := ix.processBlockTransactions(ctx, block, height, blockHash, blockTimestamp)
	if err != nil {
		return nil, fmt.Errorf("process transactions for block %d: %w", height, err)
	}

	processedBlock := &types.ProcessedBlock{
		Height:               height,
		BlockHash:            blockHash,
		TxCount:              len(block.Tx),
		BRC20OperationsFound: found,
		BRC20OperationsValid: valid,
		Timestamp:            blockTimestamp,
		ProcessedAt:          time.Now().UTC(),
	}

	if err := ix.Store.UpsertProcessedBlock(ctx, processedBlock); err != nil {
		return nil, fmt.Errorf("upsert processed block %d: %w", height, err)
	}

	if current, ok, err := ix.Store.GetProcessedBlock(ctx, height); err == nil && ok && current.BlockHash != blockHash {
		slog.Warn("concurrent writer recorded a different hash for this height; treating as late reorg",
			"height", height, "stored_hash", current.BlockHash, "this_hash", blockHash)
	}

	return &BlockResult{
		Height:               height,
		BlockHash:            blockHash,
		TxCount:              len(block.Tx),
		BRC20OperationsFound: found,
		BRC20OperationsValid: valid,
		ProcessingTime:       time.Since(start),
	}, nil
}

// processBlockTransactions implements the §4.7 per-block loop: pre-scan for
// candidates, prioritize valid marketplace transfers ahead of everything
// else (original order preserved within each class), process every
// candidate into state, then flush.
func (ix *Indexer) processBlockTransactions(ctx context.Context, block *rpcclient.Block, height int64, blockHash string, blockTimestamp time.Time) (found, valid int, err error) {
	state := types.NewIntermediateState()

	var marketplace, simple []int
	for txIndex, tx := range block.Tx {
		if txIndex == 0 {
			continue // coinbase
		}
		if !isCandidate(&tx) {
			continue
		}
		if isMarketplaceTransferCandidate(ctx, ix.Processor, &tx, height) {
			marketplace = append(marketplace, txIndex)
		} else {
			simple = append(simple, txIndex)
		}
	}

	prioritized := append(append([]int{}, marketplace...), simple...)

	for _, txIndex := range prioritized {
		tx := block.Tx[txIndex]
		beforeCount := len(state.PendingOperations())
		ix.Processor.ProcessTransaction(ctx, &tx, height, txIndex, blockHash, blockTimestamp, state)
		afterCount := len(state.PendingOperations())
		found += afterCount - beforeCount
	}

	if err := ix.Store.RunInTx(ctx, func(tx store.Store) error {
		for _, op := range state.PendingOperations() {
			if op.IsValid {
				valid++
			}
			if err := tx.InsertOperation(ctx, op); err != nil {
				return err
			}
		}
		for _, entry := range state.BalanceEntries() {
			if err := tx.UpsertBalance(ctx, entry.Address, entry.Ticker, entry.Amount); err != nil {
				return err
			}
		}
		for _, d := range pendingDeploys(state) {
			if _, ok, err := tx.GetDeploy(ctx, d.Ticker); err != nil {
				return err
			} else if ok {
				if err := tx.UpsertDeployRemainingSupply(ctx, d.Ticker, d.RemainingSupply); err != nil {
					return err
				}
			} else {
				if err := tx.InsertDeploy(ctx, d); err != nil {
					return err
				}
			}
		}
		return nil
	}); err != nil {
		return 0, 0, fmt.Errorf("flush block state: %w", err)
	}

	return found, valid, nil
}

// pendingDeploys returns every deploy record the block's IntermediateState
// touched, whether newly created or mint-mutated (remaining supply only).
func pendingDeploys(state *types.IntermediateState) []*types.Deploy {
	seen := map[string]*types.Deploy{}
	for _, op := range state.PendingOperations() {
		if op.Op != types.OpDeploy && op.Op != types.OpMint {
			continue
		}
		if d, ok := state.Deploy(op.Ticker); ok {
			seen[op.Ticker] = d
		}
	}
	out := make([]*types.Deploy, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	return out
}

// isCandidate reports whether tx carries a BRC-20-flagged OP_RETURN
// envelope, single or batched.
func isCandidate(tx *rpcclient.Tx) bool {
	if len(parser.ExtractMultiTransferCandidates(tx)) > 1 {
		return true
	}
	_, _, ok := parser.ExtractOpReturn(tx)
	return ok
}

// isMarketplaceTransferCandidate reports whether tx is a single-envelope
// transfer that resolves to a valid marketplace template, so the block
// loop can schedule it ahead of non-marketplace candidates. Multi-transfer
// batches and non-transfer operations are never prioritized.
func isMarketplaceTransferCandidate(ctx context.Context, proc *processor.Processor, tx *rpcclient.Tx, height int64) bool {
	if len(parser.ExtractMultiTransferCandidates(tx)) > 1 {
		return false
	}
	payload, _, ok := parser.ExtractOpReturn(tx)
	if !ok {
		return false
	}
	result := parser.ParseEnvelope(payload)
	if !result.Success() || result.Envelope.Op != types.OpTransfer {
		return false
	}
	return proc.ClassifyTransferPriority(ctx, tx, height)
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
