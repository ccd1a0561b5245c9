// Package registry dispatches a structurally-valid BRC-20 envelope to the
// Recognizer responsible for its operation kind. The three protocol
// operations (deploy, mint, transfer) are registered at construction, and
// Register adds or replaces a recognizer by operation name. The processor
// dispatches only deploy, mint, and transfer, and the parser rejects any
// other op, so a recognizer registered under another name is never invoked
// during transaction processing.
package registry

import (
	"github.com/brc20/indexer/internal/amount"
	"github.com/brc20/indexer/internal/brc20/errcode"
	"github.com/brc20/indexer/internal/brc20/parser"
	"github.com/brc20/indexer/internal/brc20/types"
	"github.com/brc20/indexer/internal/brc20/validator"
)

// Context carries everything a Recognizer needs to validate and apply one
// operation against the current block's intermediate state.
type Context struct {
	View             *validator.View
	State            *types.IntermediateState
	SenderAddress    string
	RecipientAddress string
	DeployerAddress  string // deploy only: sender, or the first standard output after the OP_RETURN
}

// Result is a recognizer's validate-then-apply decision.
type Result struct {
	ErrorCode    errcode.Code
	ErrorMessage string
	Amount       amount.Amount
	Deploy       *types.Deploy // set by deployRecognizer on success
}

// Valid reports whether the operation passed validation.
func (r Result) Valid() bool {
	return r.ErrorCode == ""
}

// Recognizer validates and applies one BRC-20 operation kind.
type Recognizer interface {
	Op() types.Operation
	Validate(env *parser.Envelope, ctx *Context) Result
	Apply(env *parser.Envelope, ctx *Context, result Result)
}

// Registry maps an operation name to the Recognizer that handles it.
type Registry struct {
	recognizers map[types.Operation]Recognizer
}

// New builds a Registry pre-loaded with the deploy, mint, and transfer
// recognizers.
func New() *Registry {
	r := &Registry{recognizers: make(map[types.Operation]Recognizer)}
	r.Register(deployRecognizer{})
	r.Register(mintRecognizer{})
	r.Register(transferRecognizer{})
	return r
}

// Register adds or replaces the recognizer for its own Op().
func (r *Registry) Register(rec Recognizer) {
	r.recognizers[rec.Op()] = rec
}

// Get returns the recognizer for op, if one is registered.
func (r *Registry) Get(op types.Operation) (Recognizer, bool) {
	rec, ok := r.recognizers[op]
	return rec, ok
}

// deployRecognizer implements ticker creation.
type deployRecognizer struct{}

func (deployRecognizer) Op() types.Operation { return types.OpDeploy }

func (deployRecognizer) Validate(env *parser.Envelope, ctx *Context) Result {
	code, msg, deploy := validator.ValidateDeploy(ctx.View, validator.DeployRequest{
		Ticker:          env.Ticker,
		MaxSupplyStr:    env.MaxSupply,
		LimitStr:        env.LimitPerOp,
		HasLimit:        env.HasLimitPerOp,
		DeployerAddress: ctx.DeployerAddress,
	})
	if code != "" {
		return Result{ErrorCode: code, ErrorMessage: msg}
	}
	return Result{Deploy: deploy}
}

func (deployRecognizer) Apply(env *parser.Envelope, ctx *Context, result Result) {
	ctx.State.SetDeploy(env.Ticker, result.Deploy)
	ctx.State.SetTotalMinted(env.Ticker, amount.Zero)
}

// mintRecognizer implements supply issuance against a deploy.
type mintRecognizer struct{}

func (mintRecognizer) Op() types.Operation { return types.OpMint }

func (mintRecognizer) Validate(env *parser.Envelope, ctx *Context) Result {
	code, msg, amt := validator.ValidateMint(ctx.View, validator.MintRequest{
		Ticker:           env.Ticker,
		AmountStr:        env.Amount,
		RecipientAddress: ctx.RecipientAddress,
	})
	if code != "" {
		return Result{ErrorCode: code, ErrorMessage: msg}
	}
	return Result{Amount: amt}
}

func (mintRecognizer) Apply(env *parser.Envelope, ctx *Context, result Result) {
	newTotal := ctx.View.TotalMinted(env.Ticker).Add(result.Amount)
	ctx.State.SetTotalMinted(env.Ticker, newTotal)

	if deploy, ok := ctx.View.Deploy(env.Ticker); ok {
		remaining, err := deploy.MaxSupply.Sub(newTotal)
		if err == nil {
			updated := *deploy
			updated.RemainingSupply = remaining
			ctx.State.SetDeploy(env.Ticker, &updated)
		}
	}

	current := ctx.View.Balance(ctx.RecipientAddress, env.Ticker)
	ctx.State.SetBalance(ctx.RecipientAddress, env.Ticker, current.Add(result.Amount))
}

// transferRecognizer implements balance-to-balance movement.
type transferRecognizer struct{}

func (transferRecognizer) Op() types.Operation { return types.OpTransfer }

func (transferRecognizer) Validate(env *parser.Envelope, ctx *Context) Result {
	code, msg, amt := validator.ValidateTransfer(ctx.View, validator.TransferRequest{
		Ticker:           env.Ticker,
		AmountStr:        env.Amount,
		SenderAddress:    ctx.SenderAddress,
		RecipientAddress: ctx.RecipientAddress,
	})
	if code != "" {
		return Result{ErrorCode: code, ErrorMessage: msg}
	}
	return Result{Amount: amt}
}

func (transferRecognizer) Apply(env *parser.Envelope, ctx *Context, result Result) {
	senderBalance := ctx.View.Balance(ctx.SenderAddress, env.Ticker)
	newSenderBalance, err := senderBalance.Sub(result.Amount)
	if err != nil {
		// validated sender_balance >= amount just above; this would only
		// trip on a race within the same block, which intermediate state
		// serializes away.
		return
	}
	ctx.State.SetBalance(ctx.SenderAddress, env.Ticker, newSenderBalance)

	recipientBalance := ctx.View.Balance(ctx.RecipientAddress, env.Ticker)
	ctx.State.SetBalance(ctx.RecipientAddress, env.Ticker, recipientBalance.Add(result.Amount))
}
