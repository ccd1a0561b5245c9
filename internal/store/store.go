// Package store defines the persistence contract shared by every backend
// (SQLite in production, an in-memory double in tests) that the indexer
// and reorg handler depend on.
package store

import (
	"context"

	"github.com/brc20/indexer/internal/amount"
	"github.com/brc20/indexer/internal/brc20/types"
)

// Store is the durable repository the indexer reads from and writes to
// once a block's IntermediateState is ready to flush. It never interprets
// BRC-20 business rules itself — that is the validator's job.
type Store interface {
	GetDeploy(ctx context.Context, ticker string) (*types.Deploy, bool, error)
	InsertDeploy(ctx context.Context, d *types.Deploy) error
	// UpsertDeployRemainingSupply persists a mint-driven change to an
	// already-deployed ticker's remaining supply. The Store sketch this
	// extends only has InsertDeploy (creation); mint needs an update path
	// since RemainingSupply mutates on every successful mint.
	UpsertDeployRemainingSupply(ctx context.Context, ticker string, remaining amount.Amount) error
	// ResetAllDeploysRemainingSupply sets every deploy's remaining supply
	// back to its max supply, symmetric to ZeroAllBalances: the reorg
	// handler's full replay needs both reset before it can re-derive
	// correct remaining-supply and balance state purely from surviving
	// mints, since DeleteAboveHeight never touches the deploys table.
	ResetAllDeploysRemainingSupply(ctx context.Context) error

	GetBalance(ctx context.Context, address, ticker string) (amount.Amount, error)
	UpsertBalance(ctx context.Context, address, ticker string, balance amount.Amount) error
	// ZeroAllBalances clears every balance row, used only by the reorg
	// handler's full replay recomputation.
	ZeroAllBalances(ctx context.Context) error

	InsertOperation(ctx context.Context, op *types.BRC20Operation) error
	ValidOperationsUpToHeight(ctx context.Context, height int64) ([]*types.BRC20Operation, error)

	GetProcessedBlock(ctx context.Context, height int64) (*types.ProcessedBlock, bool, error)
	UpsertProcessedBlock(ctx context.Context, b *types.ProcessedBlock) error
	// LatestProcessedHeight reports the highest height recorded in
	// processed_blocks, so the indexer can resume after a restart instead
	// of always starting from the configured start height.
	LatestProcessedHeight(ctx context.Context) (int64, bool, error)
	DeleteAboveHeight(ctx context.Context, height int64) (blocksDeleted, opsDeleted int64, err error)
	OperationsAboveHeight(ctx context.Context, height int64) ([]*types.BRC20Operation, error)

	RunInTx(ctx context.Context, fn func(Store) error) error
}
