// Package validator implements the BRC-20 business rules: deploy
// uniqueness, mint supply/limit accounting, and transfer balance checks.
// It never mutates state itself — callers apply the returned decision.
package validator

import (
	"github.com/brc20/indexer/internal/amount"
	"github.com/brc20/indexer/internal/brc20/errcode"
	"github.com/brc20/indexer/internal/brc20/types"
)

// Store is the persistent-storage subset the validator consults once the
// current block's intermediate state has no answer of its own.
type Store interface {
	GetDeploy(ticker string) (*types.Deploy, bool, error)
	GetBalance(address, ticker string) (amount.Amount, bool, error)
}

// View merges one block's intermediate state on top of the persistent
// store. Intermediate state always takes precedence, matching the rule
// that the store is read-only for the duration of a block.
type View struct {
	State *types.IntermediateState
	Store Store
}

// NewView builds a merged lookup over state and store.
func NewView(state *types.IntermediateState, store Store) *View {
	return &View{State: state, Store: store}
}

// Deploy returns the deploy record for ticker, checking intermediate state
// first.
func (v *View) Deploy(ticker string) (*types.Deploy, bool) {
	if d, ok := v.State.Deploy(ticker); ok {
		return d, true
	}
	d, ok, err := v.Store.GetDeploy(ticker)
	if err != nil || !ok {
		return nil, false
	}
	return d, true
}

// Balance returns address's balance of ticker, defaulting to zero.
func (v *View) Balance(address, ticker string) amount.Amount {
	if b, ok := v.State.Balance(address, ticker); ok {
		return b
	}
	b, ok, err := v.Store.GetBalance(address, ticker)
	if err != nil || !ok {
		return amount.Zero
	}
	return b
}

// TotalMinted returns how much of ticker has been minted so far, combining
// this block's in-progress mints with the deploy's persisted remaining
// supply.
func (v *View) TotalMinted(ticker string) amount.Amount {
	if m, ok := v.State.TotalMinted(ticker); ok {
		return m
	}
	d, ok := v.Deploy(ticker)
	if !ok {
		return amount.Zero
	}
	minted, err := d.MaxSupply.Sub(d.RemainingSupply)
	if err != nil {
		return amount.Zero
	}
	return minted
}

// DeployRequest is the structurally-valid input to ValidateDeploy.
type DeployRequest struct {
	Ticker          string
	MaxSupplyStr    string
	LimitStr        string
	HasLimit        bool
	DeployerAddress string // first input's address, else the first standard output after the OP_RETURN
}

// ValidateDeploy enforces deploy uniqueness and amount validity, returning
// the Deploy record to persist on success.
func ValidateDeploy(v *View, req DeployRequest) (errcode.Code, string, *types.Deploy) {
	if _, exists := v.Deploy(req.Ticker); exists {
		return errcode.TickerAlreadyExists, "ticker already deployed", nil
	}

	if req.DeployerAddress == "" {
		return errcode.NoStandardOutput, "no standard output available for deployer fallback", nil
	}

	maxSupply, err := amount.Parse(req.MaxSupplyStr, true)
	if err != nil {
		return errcode.InvalidAmount, "max supply is not a valid positive amount", nil
	}

	var limitPtr *amount.Amount
	if req.HasLimit {
		limit, err := amount.Parse(req.LimitStr, true)
		if err != nil {
			return errcode.InvalidAmount, "limit per operation is not a valid positive amount", nil
		}
		limitPtr = &limit
	}

	deploy := &types.Deploy{
		Ticker:          req.Ticker,
		MaxSupply:       maxSupply,
		LimitPerOp:      limitPtr,
		RemainingSupply: maxSupply,
		DeployerAddress: req.DeployerAddress,
	}
	return "", "", deploy
}

// MintRequest is the structurally-valid input to ValidateMint.
type MintRequest struct {
	Ticker           string
	AmountStr        string
	RecipientAddress string
}

// ValidateMint enforces an active deploy, the max-supply ceiling, and the
// per-operation mint limit.
func ValidateMint(v *View, req MintRequest) (errcode.Code, string, amount.Amount) {
	amt, err := amount.Parse(req.AmountStr, true)
	if err != nil {
		return errcode.InvalidAmount, "amount is not a valid positive amount", amount.Zero
	}

	deploy, ok := v.Deploy(req.Ticker)
	if !ok {
		return errcode.TickerNotDeployed, "ticker has not been deployed", amount.Zero
	}

	if req.RecipientAddress == "" {
		return errcode.NoValidReceiver, "no recipient output resolvable", amount.Zero
	}

	newTotal := v.TotalMinted(req.Ticker).Add(amt)
	if newTotal.GreaterThan(deploy.MaxSupply) {
		return errcode.ExceedsMaxSupply, "mint would exceed max supply", amount.Zero
	}

	if deploy.LimitPerOp != nil && amt.GreaterThan(*deploy.LimitPerOp) {
		return errcode.ExceedsMintLimit, "amount exceeds per-operation mint limit", amount.Zero
	}

	return "", "", amt
}

// TransferRequest is the structurally-valid input to ValidateTransfer.
type TransferRequest struct {
	Ticker           string
	AmountStr        string
	SenderAddress    string
	RecipientAddress string
}

// ValidateTransfer enforces an active deploy, resolvable sender/recipient,
// and sufficient sender balance. The per-operation mint limit does not
// apply to transfers.
func ValidateTransfer(v *View, req TransferRequest) (errcode.Code, string, amount.Amount) {
	amt, err := amount.Parse(req.AmountStr, true)
	if err != nil {
		return errcode.InvalidAmount, "amount is not a valid positive amount", amount.Zero
	}

	if _, ok := v.Deploy(req.Ticker); !ok {
		return errcode.TickerNotDeployed, "ticker has not been deployed", amount.Zero
	}

	if req.SenderAddress == "" || req.RecipientAddress == "" {
		return errcode.NoValidReceiver, "sender or recipient not resolvable", amount.Zero
	}

	senderBalance := v.Balance(req.SenderAddress, req.Ticker)
	if senderBalance.LessThan(amt) {
		return errcode.InsufficientBalance, "sender balance is insufficient", amount.Zero
	}

	return "", "", amt
}
