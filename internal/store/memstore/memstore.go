// Package memstore is an in-memory store.Store implementation used by
// tests that want fast, parallel-safe state without filesystem I/O —
// the teacher's SQLite-backed tests set up a throwaway file per test;
// the reorg/idempotence property tests in this indexer go one step
// further and need no disk at all.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/brc20/indexer/internal/amount"
	"github.com/brc20/indexer/internal/brc20/types"
	"github.com/brc20/indexer/internal/store"
)

type balanceKey struct {
	address string
	ticker  string
}

// Store is a mutex-guarded, map-backed store.Store.
type Store struct {
	mu sync.Mutex

	deploys    map[string]*types.Deploy
	balances   map[balanceKey]amount.Amount
	operations []*types.BRC20Operation
	blocks     map[int64]*types.ProcessedBlock
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		deploys:  make(map[string]*types.Deploy),
		balances: make(map[balanceKey]amount.Amount),
		blocks:   make(map[int64]*types.ProcessedBlock),
	}
}

func (s *Store) GetDeploy(ctx context.Context, ticker string) (*types.Deploy, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deploys[ticker]
	return d, ok, nil
}

func (s *Store) InsertDeploy(ctx context.Context, d *types.Deploy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.deploys[d.Ticker] = &cp
	return nil
}

func (s *Store) UpsertDeployRemainingSupply(ctx context.Context, ticker string, remaining amount.Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deploys[ticker]
	if !ok {
		return nil
	}
	cp := *d
	cp.RemainingSupply = remaining
	s.deploys[ticker] = &cp
	return nil
}

func (s *Store) ResetAllDeploysRemainingSupply(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ticker, d := range s.deploys {
		cp := *d
		cp.RemainingSupply = cp.MaxSupply
		s.deploys[ticker] = &cp
	}
	return nil
}

func (s *Store) GetBalance(ctx context.Context, address, ticker string) (amount.Amount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[balanceKey{address, ticker}]
	if !ok {
		return amount.Zero, nil
	}
	return b, nil
}

func (s *Store) UpsertBalance(ctx context.Context, address, ticker string, balance amount.Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[balanceKey{address, ticker}] = balance
	return nil
}

func (s *Store) ZeroAllBalances(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances = make(map[balanceKey]amount.Amount)
	return nil
}

func (s *Store) InsertOperation(ctx context.Context, op *types.BRC20Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *op
	s.operations = append(s.operations, &cp)
	return nil
}

func (s *Store) ValidOperationsUpToHeight(ctx context.Context, height int64) ([]*types.BRC20Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.BRC20Operation
	for _, op := range s.operations {
		if op.IsValid && op.BlockHeight <= height {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockHeight != out[j].BlockHeight {
			return out[i].BlockHeight < out[j].BlockHeight
		}
		if out[i].TxIndex != out[j].TxIndex {
			return out[i].TxIndex < out[j].TxIndex
		}
		return out[i].MultiTransferStep < out[j].MultiTransferStep
	})
	return out, nil
}

func (s *Store) GetProcessedBlock(ctx context.Context, height int64) (*types.ProcessedBlock, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[height]
	return b, ok, nil
}

func (s *Store) UpsertProcessedBlock(ctx context.Context, b *types.ProcessedBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.blocks[b.Height] = &cp
	return nil
}

func (s *Store) LatestProcessedHeight(ctx context.Context) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		latest int64
		found  bool
	)
	for h := range s.blocks {
		if !found || h > latest {
			latest = h
			found = true
		}
	}
	return latest, found, nil
}

func (s *Store) DeleteAboveHeight(ctx context.Context, height int64) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var blocksDeleted int64
	for h := range s.blocks {
		if h > height {
			delete(s.blocks, h)
			blocksDeleted++
		}
	}

	var opsDeleted int64
	kept := s.operations[:0:0]
	for _, op := range s.operations {
		if op.BlockHeight > height {
			opsDeleted++
			continue
		}
		kept = append(kept, op)
	}
	s.operations = kept

	return blocksDeleted, opsDeleted, nil
}

func (s *Store) OperationsAboveHeight(ctx context.Context, height int64) ([]*types.BRC20Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.BRC20Operation
	for _, op := range s.operations {
		if op.BlockHeight > height {
			out = append(out, op)
		}
	}
	return out, nil
}

// RunInTx runs fn directly against this same Store. The in-memory backend
// has no real transactions: each call inside fn takes the lock on its own,
// so calls from other goroutines can interleave with fn, and nothing is
// rolled back when fn returns an error; callers relying on rollback
// semantics should exercise those paths against sqlite.Store instead.
func (s *Store) RunInTx(ctx context.Context, fn func(store.Store) error) error {
	return fn(s)
}
