package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/brc20/indexer/internal/amount"
	"github.com/brc20/indexer/internal/brc20/types"
	"github.com/brc20/indexer/internal/store"
)

// scope is satisfied by both *Store and *txScoped, letting every
// repository method be written once against the querier interface and
// reused whether or not a RunInTx transaction is active.
type scope interface {
	q() querier
}

const timeLayout = time.RFC3339Nano

func (s *Store) GetDeploy(ctx context.Context, ticker string) (*types.Deploy, bool, error) {
	return getDeploy(ctx, s, ticker)
}
func (t *txScoped) GetDeploy(ctx context.Context, ticker string) (*types.Deploy, bool, error) {
	return getDeploy(ctx, t, ticker)
}

func getDeploy(ctx context.Context, sc scope, ticker string) (*types.Deploy, bool, error) {
	row := sc.q().QueryRowContext(ctx, `
		SELECT ticker, max_supply, limit_per_op, remaining_supply,
		       deploy_txid, deploy_height, deploy_timestamp, deployer_address
		FROM deploys WHERE ticker = ?`, ticker)

	var (
		maxSupply, remainingSupply, deployTxid, deployerAddress, deployTimestamp string
		limitPerOp                                                              sql.NullString
		deployHeight                                                            int64
	)
	if err := row.Scan(&ticker, &maxSupply, &limitPerOp, &remainingSupply,
		&deployTxid, &deployHeight, &deployTimestamp, &deployerAddress); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get deploy %s: %w", ticker, err)
	}

	d := &types.Deploy{
		Ticker:          ticker,
		DeployTxid:      deployTxid,
		DeployHeight:    deployHeight,
		DeployerAddress: deployerAddress,
	}
	var err error
	if d.MaxSupply, err = amount.Parse(maxSupply, false); err != nil {
		return nil, false, fmt.Errorf("parse max_supply for %s: %w", ticker, err)
	}
	if d.RemainingSupply, err = amount.Parse(remainingSupply, false); err != nil {
		return nil, false, fmt.Errorf("parse remaining_supply for %s: %w", ticker, err)
	}
	if limitPerOp.Valid {
		lim, err := amount.Parse(limitPerOp.String, false)
		if err != nil {
			return nil, false, fmt.Errorf("parse limit_per_op for %s: %w", ticker, err)
		}
		d.LimitPerOp = &lim
	}
	if d.DeployTimestamp, err = time.Parse(timeLayout, deployTimestamp); err != nil {
		return nil, false, fmt.Errorf("parse deploy_timestamp for %s: %w", ticker, err)
	}
	return d, true, nil
}

func (s *Store) InsertDeploy(ctx context.Context, d *types.Deploy) error {
	return insertDeploy(ctx, s, d)
}
func (t *txScoped) InsertDeploy(ctx context.Context, d *types.Deploy) error {
	return insertDeploy(ctx, t, d)
}

func insertDeploy(ctx context.Context, sc scope, d *types.Deploy) error {
	var limitPerOp sql.NullString
	if d.LimitPerOp != nil {
		limitPerOp = sql.NullString{String: d.LimitPerOp.String(), Valid: true}
	}
	_, err := sc.q().ExecContext(ctx, `
		INSERT INTO deploys (ticker, max_supply, limit_per_op, remaining_supply,
		                      deploy_txid, deploy_height, deploy_timestamp, deployer_address)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Ticker, d.MaxSupply.String(), limitPerOp, d.RemainingSupply.String(),
		d.DeployTxid, d.DeployHeight, d.DeployTimestamp.Format(timeLayout), d.DeployerAddress)
	if err != nil {
		return fmt.Errorf("insert deploy %s: %w", d.Ticker, err)
	}
	return nil
}

func (s *Store) UpsertDeployRemainingSupply(ctx context.Context, ticker string, remaining amount.Amount) error {
	return upsertDeployRemainingSupply(ctx, s, ticker, remaining)
}
func (t *txScoped) UpsertDeployRemainingSupply(ctx context.Context, ticker string, remaining amount.Amount) error {
	return upsertDeployRemainingSupply(ctx, t, ticker, remaining)
}

func upsertDeployRemainingSupply(ctx context.Context, sc scope, ticker string, remaining amount.Amount) error {
	_, err := sc.q().ExecContext(ctx,
		`UPDATE deploys SET remaining_supply = ? WHERE ticker = ?`, remaining.String(), ticker)
	if err != nil {
		return fmt.Errorf("update remaining_supply for %s: %w", ticker, err)
	}
	return nil
}

func (s *Store) ResetAllDeploysRemainingSupply(ctx context.Context) error {
	return resetAllDeploysRemainingSupply(ctx, s)
}
func (t *txScoped) ResetAllDeploysRemainingSupply(ctx context.Context) error {
	return resetAllDeploysRemainingSupply(ctx, t)
}

func resetAllDeploysRemainingSupply(ctx context.Context, sc scope) error {
	_, err := sc.q().ExecContext(ctx, `UPDATE deploys SET remaining_supply = max_supply`)
	if err != nil {
		return fmt.Errorf("reset all deploys remaining supply: %w", err)
	}
	return nil
}

func (s *Store) GetBalance(ctx context.Context, address, ticker string) (amount.Amount, error) {
	return getBalance(ctx, s, address, ticker)
}
func (t *txScoped) GetBalance(ctx context.Context, address, ticker string) (amount.Amount, error) {
	return getBalance(ctx, t, address, ticker)
}

func getBalance(ctx context.Context, sc scope, address, ticker string) (amount.Amount, error) {
	var raw string
	err := sc.q().QueryRowContext(ctx,
		`SELECT balance FROM balances WHERE address = ? AND ticker = ?`, address, ticker).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return amount.Zero, nil
	}
	if err != nil {
		return amount.Zero, fmt.Errorf("get balance %s/%s: %w", address, ticker, err)
	}
	bal, err := amount.Parse(raw, false)
	if err != nil {
		return amount.Zero, fmt.Errorf("parse balance %s/%s: %w", address, ticker, err)
	}
	return bal, nil
}

func (s *Store) UpsertBalance(ctx context.Context, address, ticker string, balance amount.Amount) error {
	return upsertBalance(ctx, s, address, ticker, balance)
}
func (t *txScoped) UpsertBalance(ctx context.Context, address, ticker string, balance amount.Amount) error {
	return upsertBalance(ctx, t, address, ticker, balance)
}

func upsertBalance(ctx context.Context, sc scope, address, ticker string, balance amount.Amount) error {
	_, err := sc.q().ExecContext(ctx, `
		INSERT INTO balances (address, ticker, balance, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(address, ticker) DO UPDATE SET
			balance = excluded.balance,
			updated_at = excluded.updated_at`,
		address, ticker, balance.String(), nowStamp())
	if err != nil {
		return fmt.Errorf("upsert balance %s/%s: %w", address, ticker, err)
	}
	return nil
}

func (s *Store) ZeroAllBalances(ctx context.Context) error {
	return zeroAllBalances(ctx, s)
}
func (t *txScoped) ZeroAllBalances(ctx context.Context) error {
	return zeroAllBalances(ctx, t)
}

func zeroAllBalances(ctx context.Context, sc scope) error {
	_, err := sc.q().ExecContext(ctx,
		`UPDATE balances SET balance = '0', updated_at = ?`, nowStamp())
	if err != nil {
		return fmt.Errorf("zero all balances: %w", err)
	}
	return nil
}

func (s *Store) InsertOperation(ctx context.Context, op *types.BRC20Operation) error {
	return insertOperation(ctx, s, op)
}
func (t *txScoped) InsertOperation(ctx context.Context, op *types.BRC20Operation) error {
	return insertOperation(ctx, t, op)
}

func insertOperation(ctx context.Context, sc scope, op *types.BRC20Operation) error {
	_, err := sc.q().ExecContext(ctx, `
		INSERT INTO brc20_operations (
			txid, vout_index, operation, ticker, amount, from_address, to_address,
			block_height, block_hash, tx_index, timestamp, is_valid, error_code,
			error_message, raw_op_return, parsed_json, is_marketplace,
			is_multi_transfer, multi_transfer_step
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.Txid, op.VoutIndex, string(op.Op), op.Ticker, op.Amount.String(),
		nullableString(op.FromAddress), nullableString(op.ToAddress),
		op.BlockHeight, op.BlockHash, op.TxIndex, op.Timestamp.Format(timeLayout),
		boolToInt(op.IsValid), nullableString(op.ErrorCode), nullableString(op.ErrorMessage),
		nullableString(op.RawOpReturn), nullableString(op.ParsedJSON),
		boolToInt(op.IsMarketplace), boolToInt(op.IsMultiTransfer), op.MultiTransferStep)
	if err != nil {
		return fmt.Errorf("insert operation %s:%d: %w", op.Txid, op.VoutIndex, err)
	}
	return nil
}

func (s *Store) ValidOperationsUpToHeight(ctx context.Context, height int64) ([]*types.BRC20Operation, error) {
	return queryOperations(ctx, s,
		`SELECT txid, vout_index, operation, ticker, amount, from_address, to_address,
		        block_height, block_hash, tx_index, timestamp, is_valid, error_code,
		        error_message, raw_op_return, parsed_json, is_marketplace,
		        is_multi_transfer, multi_transfer_step
		 FROM brc20_operations
		 WHERE is_valid = 1 AND block_height <= ?
		 ORDER BY block_height ASC, tx_index ASC, multi_transfer_step ASC`, height)
}
func (t *txScoped) ValidOperationsUpToHeight(ctx context.Context, height int64) ([]*types.BRC20Operation, error) {
	return queryOperations(ctx, t,
		`SELECT txid, vout_index, operation, ticker, amount, from_address, to_address,
		        block_height, block_hash, tx_index, timestamp, is_valid, error_code,
		        error_message, raw_op_return, parsed_json, is_marketplace,
		        is_multi_transfer, multi_transfer_step
		 FROM brc20_operations
		 WHERE is_valid = 1 AND block_height <= ?
		 ORDER BY block_height ASC, tx_index ASC, multi_transfer_step ASC`, height)
}

func (s *Store) OperationsAboveHeight(ctx context.Context, height int64) ([]*types.BRC20Operation, error) {
	return queryOperations(ctx, s,
		`SELECT txid, vout_index, operation, ticker, amount, from_address, to_address,
		        block_height, block_hash, tx_index, timestamp, is_valid, error_code,
		        error_message, raw_op_return, parsed_json, is_marketplace,
		        is_multi_transfer, multi_transfer_step
		 FROM brc20_operations
		 WHERE block_height > ?
		 ORDER BY block_height ASC, tx_index ASC, multi_transfer_step ASC`, height)
}
func (t *txScoped) OperationsAboveHeight(ctx context.Context, height int64) ([]*types.BRC20Operation, error) {
	return queryOperations(ctx, t,
		`SELECT txid, vout_index, operation, ticker, amount, from_address, to_address,
		        block_height, block_hash, tx_index, timestamp, is_valid, error_code,
		        error_message, raw_op_return, parsed_json, is_marketplace,
		        is_multi_transfer, multi_transfer_step
		 FROM brc20_operations
		 WHERE block_height > ?
		 ORDER BY block_height ASC, tx_index ASC, multi_transfer_step ASC`, height)
}

func queryOperations(ctx context.Context, sc scope, query string, height int64) ([]*types.BRC20Operation, error) {
	rows, err := sc.q().QueryContext(ctx, query, height)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	var out []*types.BRC20Operation
	for rows.Next() {
		op := &types.BRC20Operation{}
		var (
			operation, amountRaw, timestamp string
			fromAddress, toAddress          sql.NullString
			errorCode, errorMessage         sql.NullString
			rawOpReturn, parsedJSON         sql.NullString
			isValid, isMarketplace          int
			isMultiTransfer                 int
		)
		if err := rows.Scan(&op.Txid, &op.VoutIndex, &operation, &op.Ticker, &amountRaw,
			&fromAddress, &toAddress, &op.BlockHeight, &op.BlockHash, &op.TxIndex,
			&timestamp, &isValid, &errorCode, &errorMessage, &rawOpReturn, &parsedJSON,
			&isMarketplace, &isMultiTransfer, &op.MultiTransferStep); err != nil {
			return nil, fmt.Errorf("scan operation row: %w", err)
		}

		op.Op = types.Operation(operation)
		op.FromAddress = fromAddress.String
		op.ToAddress = toAddress.String
		op.ErrorCode = errorCode.String
		op.ErrorMessage = errorMessage.String
		op.RawOpReturn = rawOpReturn.String
		op.ParsedJSON = parsedJSON.String
		op.IsValid = isValid != 0
		op.IsMarketplace = isMarketplace != 0
		op.IsMultiTransfer = isMultiTransfer != 0

		amt, err := amount.Parse(amountRaw, false)
		if err != nil {
			return nil, fmt.Errorf("parse amount for %s:%d: %w", op.Txid, op.VoutIndex, err)
		}
		op.Amount = amt

		ts, err := time.Parse(timeLayout, timestamp)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp for %s:%d: %w", op.Txid, op.VoutIndex, err)
		}
		op.Timestamp = ts

		out = append(out, op)
	}
	return out, rows.Err()
}

func (s *Store) GetProcessedBlock(ctx context.Context, height int64) (*types.ProcessedBlock, bool, error) {
	return getProcessedBlock(ctx, s, height)
}
func (t *txScoped) GetProcessedBlock(ctx context.Context, height int64) (*types.ProcessedBlock, bool, error) {
	return getProcessedBlock(ctx, t, height)
}

func getProcessedBlock(ctx context.Context, sc scope, height int64) (*types.ProcessedBlock, bool, error) {
	var (
		blockHash               string
		txCount, opsFound       int
		opsValid                int
		timestamp, processedAt  string
	)
	err := sc.q().QueryRowContext(ctx, `
		SELECT block_hash, tx_count, brc20_operations_found, brc20_operations_valid, timestamp, processed_at
		FROM processed_blocks WHERE height = ?`, height).
		Scan(&blockHash, &txCount, &opsFound, &opsValid, &timestamp, &processedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get processed block %d: %w", height, err)
	}

	ts, err := time.Parse(timeLayout, timestamp)
	if err != nil {
		return nil, false, fmt.Errorf("parse timestamp for block %d: %w", height, err)
	}
	pa, err := time.Parse(timeLayout, processedAt)
	if err != nil {
		return nil, false, fmt.Errorf("parse processed_at for block %d: %w", height, err)
	}

	return &types.ProcessedBlock{
		Height:                height,
		BlockHash:             blockHash,
		TxCount:               txCount,
		BRC20OperationsFound:  opsFound,
		BRC20OperationsValid:  opsValid,
		Timestamp:             ts,
		ProcessedAt:           pa,
	}, true, nil
}

func (s *Store) UpsertProcessedBlock(ctx context.Context, b *types.ProcessedBlock) error {
	return upsertProcessedBlock(ctx, s, b)
}
func (t *txScoped) UpsertProcessedBlock(ctx context.Context, b *types.ProcessedBlock) error {
	return upsertProcessedBlock(ctx, t, b)
}

func upsertProcessedBlock(ctx context.Context, sc scope, b *types.ProcessedBlock) error {
	_, err := sc.q().ExecContext(ctx, `
		INSERT INTO processed_blocks (
			height, block_hash, tx_count, brc20_operations_found,
			brc20_operations_valid, timestamp, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(height) DO UPDATE SET
			block_hash = excluded.block_hash,
			tx_count = excluded.tx_count,
			brc20_operations_found = excluded.brc20_operations_found,
			brc20_operations_valid = excluded.brc20_operations_valid,
			timestamp = excluded.timestamp,
			processed_at = excluded.processed_at`,
		b.Height, b.BlockHash, b.TxCount, b.BRC20OperationsFound, b.BRC20OperationsValid,
		b.Timestamp.Format(timeLayout), b.ProcessedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("upsert processed block %d: %w", b.Height, err)
	}
	return nil
}

func (s *Store) LatestProcessedHeight(ctx context.Context) (int64, bool, error) {
	return latestProcessedHeight(ctx, s)
}
func (t *txScoped) LatestProcessedHeight(ctx context.Context) (int64, bool, error) {
	return latestProcessedHeight(ctx, t)
}

func latestProcessedHeight(ctx context.Context, sc scope) (int64, bool, error) {
	var height sql.NullInt64
	err := sc.q().QueryRowContext(ctx, `SELECT MAX(height) FROM processed_blocks`).Scan(&height)
	if err != nil {
		return 0, false, fmt.Errorf("latest processed height: %w", err)
	}
	if !height.Valid {
		return 0, false, nil
	}
	return height.Int64, true, nil
}

func (s *Store) DeleteAboveHeight(ctx context.Context, height int64) (int64, int64, error) {
	return deleteAboveHeight(ctx, s, height)
}
func (t *txScoped) DeleteAboveHeight(ctx context.Context, height int64) (int64, int64, error) {
	return deleteAboveHeight(ctx, t, height)
}

func deleteAboveHeight(ctx context.Context, sc scope, height int64) (int64, int64, error) {
	opsResult, err := sc.q().ExecContext(ctx, `DELETE FROM brc20_operations WHERE block_height > ?`, height)
	if err != nil {
		return 0, 0, fmt.Errorf("delete operations above height %d: %w", height, err)
	}
	opsDeleted, err := opsResult.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("rows affected for deleted operations: %w", err)
	}

	blocksResult, err := sc.q().ExecContext(ctx, `DELETE FROM processed_blocks WHERE height > ?`, height)
	if err != nil {
		return 0, 0, fmt.Errorf("delete processed blocks above height %d: %w", height, err)
	}
	blocksDeleted, err := blocksResult.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("rows affected for deleted blocks: %w", err)
	}

	return blocksDeleted, opsDeleted, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nowStamp returns the current UTC wall-clock time, so updated_at reflects
// when the row was written. It is a package variable and can be replaced.
var nowStamp = func() string {
	return time.Now().UTC().Format(timeLayout)
}

var _ store.Store = (*Store)(nil)
var _ store.Store = (*txScoped)(nil)
