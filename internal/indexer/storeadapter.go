package indexer

import (
	"context"

	"github.com/brc20/indexer/internal/amount"
	"github.com/brc20/indexer/internal/brc20/types"
	"github.com/brc20/indexer/internal/store"
)

// validatorStore adapts the ctx-qualified, persistence-layer store.Store
// to the validator's simpler Store contract. The validator never needs
// cancellation propagation for these reads: they are bounded local lookups
// scoped to a single block already running under the indexer's own ctx.
type validatorStore struct {
	inner store.Store
}

// NewValidatorStore wraps a store.Store for use as a processor's
// validator.Store dependency.
func NewValidatorStore(s store.Store) validatorStoreIface {
	return validatorStore{inner: s}
}

// validatorStoreIface mirrors validator.Store's shape without importing
// the validator package here, avoiding a dependency edge this adapter
// doesn't otherwise need.
type validatorStoreIface interface {
	GetDeploy(ticker string) (*types.Deploy, bool, error)
	GetBalance(address, ticker string) (amount.Amount, bool, error)
}

func (v validatorStore) GetDeploy(ticker string) (*types.Deploy, bool, error) {
	return v.inner.GetDeploy(context.Background(), ticker)
}

func (v validatorStore) GetBalance(address, ticker string) (amount.Amount, bool, error) {
	bal, err := v.inner.GetBalance(context.Background(), address, ticker)
	if err != nil {
		return amount.Zero, false, err
	}
	return bal, true, nil
}
