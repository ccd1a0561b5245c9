// Package processor drives one transaction through BRC-20 recognition:
// OP_RETURN extraction, envelope parsing, sender/recipient resolution,
// validation, and intermediate-state mutation. It never touches the
// persistent store directly — every change lands in the block's
// IntermediateState, flushed by the caller only once the whole block
// succeeds.
package processor

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/brc20/indexer/internal/amount"
	"github.com/brc20/indexer/internal/brc20/errcode"
	"github.com/brc20/indexer/internal/brc20/parser"
	"github.com/brc20/indexer/internal/brc20/registry"
	"github.com/brc20/indexer/internal/brc20/types"
	"github.com/brc20/indexer/internal/brc20/validator"
	"github.com/brc20/indexer/internal/rpcclient"
	"github.com/brc20/indexer/internal/script"
)

const nulldataType = "nulldata"

// TransferType categorizes a transfer transaction by its input signatures.
type TransferType string

const (
	TransferSimple          TransferType = "simple"
	TransferMarketplace     TransferType = "marketplace"
	TransferInvalidTemplate TransferType = "invalid_marketplace"
)

// AddressResolver recovers the address behind a previous transaction
// output, as implemented by internal/utxo.Resolver.
type AddressResolver interface {
	GetInputAddress(ctx context.Context, prevTxid string, vout int) string
}

// Processor turns decoded transactions into operation-log rows and
// intermediate-state mutations.
type Processor struct {
	Registry                *registry.Registry
	Resolver                AddressResolver
	Store                   validator.Store
	MintPositionHeight      int64
	MarketplaceCutoffHeight int64
}

// New builds a Processor wired to the given recognizer registry, UTXO
// resolver, and persistent store.
func New(reg *registry.Registry, resolver AddressResolver, store validator.Store, mintPositionHeight, marketplaceCutoffHeight int64) *Processor {
	return &Processor{
		Registry:                reg,
		Resolver:                resolver,
		Store:                   store,
		MintPositionHeight:      mintPositionHeight,
		MarketplaceCutoffHeight: marketplaceCutoffHeight,
	}
}

// ProcessTransaction recognizes and applies every BRC-20 operation carried
// by tx, appending one or more operation-log rows to state. A transaction
// carrying no BRC-20 payload at all contributes nothing.
func (p *Processor) ProcessTransaction(ctx context.Context, tx *rpcclient.Tx, blockHeight int64, txIndex int, blockHash string, blockTimestamp time.Time, state *types.IntermediateState) {
	multiCandidates := parser.ExtractMultiTransferCandidates(tx)
	if len(multiCandidates) > 1 {
		p.processMultiTransfer(ctx, tx, blockHeight, txIndex, blockHash, blockTimestamp, multiCandidates, state)
		return
	}

	payload, voutIndex, ok := parser.ExtractOpReturn(tx)
	if !ok {
		if parser.HasMultipleOpReturns(tx) {
			p.appendInvalid(state, tx, 0, blockHeight, txIndex, blockHash, blockTimestamp, nil, errcode.MultipleOpReturns, "multiple OP_RETURN outputs found", false, 0)
		}
		return
	}

	parseResult := parser.ParseEnvelope(payload)
	if !parseResult.Success() {
		if parseResult.ErrorCode != errcode.InvalidJSON {
			p.appendInvalid(state, tx, voutIndex, blockHeight, txIndex, blockHash, blockTimestamp, payload, parseResult.ErrorCode, parseResult.ErrorMessage, false, 0)
		}
		return
	}

	env := parseResult.Envelope
	env.Ticker = strings.ToUpper(env.Ticker)

	if (env.Op == types.OpMint || env.Op == types.OpTransfer) && blockHeight >= p.MintPositionHeight && voutIndex != 0 {
		p.appendInvalid(state, tx, voutIndex, blockHeight, txIndex, blockHash, blockTimestamp, payload, errcode.OpReturnNotFirst, "mint/transfer op_return must be at vout 0", false, 0)
		return
	}

	view := validator.NewView(state, p.Store)

	switch env.Op {
	case types.OpDeploy:
		p.processDeploy(ctx, tx, env, view, state, p.firstInputAddress(ctx, tx), voutIndex, blockHeight, txIndex, blockHash, blockTimestamp, payload)
	case types.OpMint:
		p.processMint(tx, env, view, state, voutIndex, blockHeight, txIndex, blockHash, blockTimestamp, payload)
	case types.OpTransfer:
		p.processTransfer(ctx, tx, env, view, state, p.firstInputAddress(ctx, tx), voutIndex, blockHeight, txIndex, blockHash, blockTimestamp, payload)
	default:
		p.appendInvalid(state, tx, voutIndex, blockHeight, txIndex, blockHash, blockTimestamp, payload, errcode.InvalidOperation, "unrecognized operation", false, 0)
	}
}

func (p *Processor) processDeploy(ctx context.Context, tx *rpcclient.Tx, env *parser.Envelope, view *validator.View, state *types.IntermediateState, sender string, voutIndex int, blockHeight int64, txIndex int, blockHash string, blockTimestamp time.Time, payload []byte) {
	deployer := sender
	if deployer == "" {
		deployer = p.firstStandardOutputAfter(tx, voutIndex)
	}

	rec, _ := p.Registry.Get(types.OpDeploy)
	rctx := &registry.Context{View: view, State: state, DeployerAddress: deployer}
	result := rec.Validate(env, rctx)

	op := p.baseOperation(tx, voutIndex, env, blockHeight, txIndex, blockHash, blockTimestamp, payload, false, 0)
	op.FromAddress = deployer

	if !result.Valid() {
		op.IsValid = false
		op.ErrorCode = string(result.ErrorCode)
		op.ErrorMessage = result.ErrorMessage
		state.AppendOperation(op)
		return
	}

	result.Deploy.DeployTxid = tx.Txid
	result.Deploy.DeployHeight = blockHeight
	result.Deploy.DeployTimestamp = blockTimestamp
	rec.Apply(env, rctx, result)

	op.IsValid = true
	op.Amount = result.Deploy.MaxSupply
	state.AppendOperation(op)
}

func (p *Processor) processMint(tx *rpcclient.Tx, env *parser.Envelope, view *validator.View, state *types.IntermediateState, voutIndex int, blockHeight int64, txIndex int, blockHash string, blockTimestamp time.Time, payload []byte) {
	recipient := p.firstStandardOutputAfter(tx, voutIndex)

	rec, _ := p.Registry.Get(types.OpMint)
	rctx := &registry.Context{View: view, State: state, RecipientAddress: recipient}
	result := rec.Validate(env, rctx)

	op := p.baseOperation(tx, voutIndex, env, blockHeight, txIndex, blockHash, blockTimestamp, payload, false, 0)
	op.ToAddress = recipient

	if !result.Valid() {
		op.IsValid = false
		op.ErrorCode = string(result.ErrorCode)
		op.ErrorMessage = result.ErrorMessage
		state.AppendOperation(op)
		return
	}

	rec.Apply(env, rctx, result)

	op.IsValid = true
	op.Amount = result.Amount
	state.AppendOperation(op)
}

func (p *Processor) processTransfer(ctx context.Context, tx *rpcclient.Tx, env *parser.Envelope, view *validator.View, state *types.IntermediateState, sender string, voutIndex int, blockHeight int64, txIndex int, blockHash string, blockTimestamp time.Time, payload []byte) {
	recipient := p.firstStandardOutputAfter(tx, voutIndex)

	transferType, invalidCode, invalidMsg := p.classifyTransferType(ctx, tx, blockHeight)

	op := p.baseOperation(tx, voutIndex, env, blockHeight, txIndex, blockHash, blockTimestamp, payload, false, 0)
	op.FromAddress = sender
	op.ToAddress = recipient
	op.IsMarketplace = transferType == TransferMarketplace

	if transferType == TransferInvalidTemplate {
		op.IsValid = false
		op.ErrorCode = string(invalidCode)
		op.ErrorMessage = invalidMsg
		state.AppendOperation(op)
		return
	}

	rec, _ := p.Registry.Get(types.OpTransfer)
	rctx := &registry.Context{View: view, State: state, SenderAddress: sender, RecipientAddress: recipient}
	result := rec.Validate(env, rctx)

	if !result.Valid() {
		op.IsValid = false
		op.ErrorCode = string(result.ErrorCode)
		op.ErrorMessage = result.ErrorMessage
		state.AppendOperation(op)
		return
	}

	rec.Apply(env, rctx, result)

	op.IsValid = true
	op.Amount = result.Amount
	state.AppendOperation(op)
}

// processMultiTransfer implements §4.6.1: strict structural pairing,
// single-ticker invariant, sequential step simulation where every step
// gets its own logged outcome — a step failing on insufficient balance
// does not prevent later steps in the same batch from being attempted
// and independently validated against the simulated balance.
func (p *Processor) processMultiTransfer(ctx context.Context, tx *rpcclient.Tx, blockHeight int64, txIndex int, blockHash string, blockTimestamp time.Time, candidates []parser.Candidate, state *types.IntermediateState) {
	if code, msg := parser.ValidateMultiTransferStructure(tx, candidates); code != "" {
		op := &types.BRC20Operation{
			Txid: tx.Txid, Op: types.OpTransfer, BlockHeight: blockHeight, BlockHash: blockHash,
			TxIndex: txIndex, Timestamp: blockTimestamp, IsValid: false,
			ErrorCode: string(code), ErrorMessage: msg, IsMultiTransfer: true,
		}
		state.AppendOperation(op)
		return
	}

	steps := make([]multiTransferParsedStep, len(candidates))
	for i, c := range candidates {
		steps[i] = multiTransferParsedStep{result: parser.ParseEnvelope(c.Payload), voutIndex: c.VoutIndex, payload: c.Payload}
	}

	ticker, metaCode, metaMsg := multiTransferMeta(steps)
	if metaCode != "" {
		op := &types.BRC20Operation{
			Txid: tx.Txid, Op: types.OpTransfer, BlockHeight: blockHeight, BlockHash: blockHash,
			TxIndex: txIndex, Timestamp: blockTimestamp, IsValid: false,
			ErrorCode: string(metaCode), ErrorMessage: metaMsg, IsMultiTransfer: true,
		}
		state.AppendOperation(op)
		return
	}

	sender := p.firstInputAddress(ctx, tx)
	view := validator.NewView(state, p.Store)

	simulated := types.NewIntermediateState()
	// Seed the simulation with every balance already visible to this block.
	for _, e := range state.BalanceEntries() {
		simulated.SetBalance(e.Address, e.Ticker, e.Amount)
	}
	simulatedView := validator.NewView(simulated, &viewStoreBridge{view})

	anyValid := false
	outcomes := make([]*types.BRC20Operation, len(steps))

	for i, step := range steps {
		logRow := &types.BRC20Operation{
			Txid: tx.Txid, VoutIndex: step.voutIndex, Op: types.OpTransfer, BlockHeight: blockHeight,
			BlockHash: blockHash, TxIndex: txIndex, Timestamp: blockTimestamp, IsMultiTransfer: true,
			MultiTransferStep: i, FromAddress: sender,
		}
		outcomes[i] = logRow

		if !step.result.Success() {
			logRow.IsValid = false
			logRow.ErrorCode = string(step.result.ErrorCode)
			logRow.ErrorMessage = step.result.ErrorMessage
			continue
		}

		env := step.result.Envelope
		env.Ticker = ticker
		logRow.Ticker = ticker
		logRow.RawOpReturn = hex.EncodeToString(step.payload)
		if b, err := json.Marshal(map[string]string{"op": "transfer", "tick": ticker, "amt": env.Amount}); err == nil {
			logRow.ParsedJSON = string(b)
		}

		recipient := p.multiTransferRecipient(tx, step.voutIndex)
		logRow.ToAddress = recipient
		if recipient == "" {
			logRow.IsValid = false
			logRow.ErrorCode = string(errcode.NoReceiverOutput)
			logRow.ErrorMessage = "missing recipient output"
			continue
		}

		code, msg, amt := validator.ValidateTransfer(simulatedView, validator.TransferRequest{
			Ticker: ticker, AmountStr: env.Amount, SenderAddress: sender, RecipientAddress: recipient,
		})
		if code != "" {
			logRow.IsValid = false
			logRow.ErrorCode = string(code)
			logRow.ErrorMessage = msg
			continue
		}

		senderBal := simulatedView.Balance(sender, ticker)
		newSenderBal, _ := senderBal.Sub(amt)
		simulated.SetBalance(sender, ticker, newSenderBal)
		recipientBal := simulatedView.Balance(recipient, ticker)
		simulated.SetBalance(recipient, ticker, recipientBal.Add(amt))

		logRow.IsValid = true
		logRow.Amount = amt
		anyValid = true
	}

	if anyValid {
		for _, e := range simulated.BalanceEntries() {
			state.SetBalance(e.Address, e.Ticker, e.Amount)
		}
	}

	for _, row := range outcomes {
		if row != nil {
			state.AppendOperation(row)
		}
	}
}

// viewStoreBridge adapts an existing View to the validator.Store interface
// so a second, simulation-scoped View can layer its own intermediate state
// on top of the first View's already-merged answers.
type viewStoreBridge struct {
	inner *validator.View
}

func (b *viewStoreBridge) GetDeploy(ticker string) (*types.Deploy, bool, error) {
	d, ok := b.inner.Deploy(ticker)
	return d, ok, nil
}

func (b *viewStoreBridge) GetBalance(address, ticker string) (amount.Amount, bool, error) {
	return b.inner.Balance(address, ticker), true, nil
}

// multiTransferParsedStep is one already-parsed candidate within a
// multi-transfer transaction.
type multiTransferParsedStep struct {
	result    parser.ParseResult
	voutIndex int
	payload   []byte
}

// multiTransferMeta enforces the single-ticker invariant (§4.6.1) across a
// multi-transfer batch's structurally-valid steps and reports the shared
// ticker, ignoring steps whose envelope failed to parse.
func multiTransferMeta(steps []multiTransferParsedStep) (ticker string, code errcode.Code, msg string) {
	var firstTicker string
	found := false
	for _, s := range steps {
		if !s.result.Success() {
			continue
		}
		t := strings.ToUpper(s.result.Envelope.Ticker)
		if !found {
			firstTicker = t
			found = true
		} else if t != firstTicker {
			return "", errcode.MultiTransferMixedTickers, "multi-transfer cannot contain multiple tickers"
		}
	}

	if !found {
		return "", errcode.MissingTicker, "no valid operations found in multi-transfer"
	}
	return firstTicker, "", ""
}

func (p *Processor) multiTransferRecipient(tx *rpcclient.Tx, voutIndex int) string {
	recipientIndex := voutIndex + 1
	if recipientIndex >= len(tx.Vout) {
		return ""
	}
	return p.outputAddress(tx.Vout[recipientIndex])
}

// appendInvalid logs a structurally-invalid (but non-silent) operation row.
func (p *Processor) appendInvalid(state *types.IntermediateState, tx *rpcclient.Tx, voutIndex int, blockHeight int64, txIndex int, blockHash string, blockTimestamp time.Time, payload []byte, code errcode.Code, msg string, isMulti bool, step int) {
	op := &types.BRC20Operation{
		Txid: tx.Txid, VoutIndex: voutIndex, Op: types.OpInvalid, BlockHeight: blockHeight, BlockHash: blockHash,
		TxIndex: txIndex, Timestamp: blockTimestamp, IsValid: false, ErrorCode: string(code), ErrorMessage: msg,
		RawOpReturn: hex.EncodeToString(payload), IsMultiTransfer: isMulti, MultiTransferStep: step,
	}
	state.AppendOperation(op)
}

func (p *Processor) baseOperation(tx *rpcclient.Tx, voutIndex int, env *parser.Envelope, blockHeight int64, txIndex int, blockHash string, blockTimestamp time.Time, payload []byte, isMulti bool, step int) *types.BRC20Operation {
	parsedJSON := ""
	if b, err := envelopeJSON(env); err == nil {
		parsedJSON = string(b)
	}
	return &types.BRC20Operation{
		Txid: tx.Txid, VoutIndex: voutIndex, Op: env.Op, Ticker: env.Ticker, BlockHeight: blockHeight,
		BlockHash: blockHash, TxIndex: txIndex, Timestamp: blockTimestamp, RawOpReturn: hex.EncodeToString(payload),
		ParsedJSON: parsedJSON, IsMultiTransfer: isMulti, MultiTransferStep: step,
	}
}

func envelopeJSON(env *parser.Envelope) ([]byte, error) {
	fields := map[string]string{"p": "brc-20", "op": string(env.Op), "tick": env.Ticker}
	switch env.Op {
	case types.OpDeploy:
		fields["m"] = env.MaxSupply
		if env.HasLimitPerOp {
			fields["l"] = env.LimitPerOp
		}
	case types.OpMint, types.OpTransfer:
		fields["amt"] = env.Amount
	}
	return json.Marshal(fields)
}

// firstInputAddress resolves the sender address from tx's first
// non-coinbase input.
func (p *Processor) firstInputAddress(ctx context.Context, tx *rpcclient.Tx) string {
	if len(tx.Vin) == 0 {
		return ""
	}
	first := tx.Vin[0]
	if first.Coinbase != "" || first.Txid == "" {
		return ""
	}
	return p.Resolver.GetInputAddress(ctx, first.Txid, first.Vout)
}

// outputAddress returns vout's address, or "" for a nulldata output or one
// whose script cannot be classified.
func (p *Processor) outputAddress(vout rpcclient.Vout) string {
	if vout.ScriptPubKey.Type == nulldataType {
		return ""
	}
	if addr := vout.ScriptPubKey.FirstAddress(); addr != "" {
		return addr
	}
	raw, err := hex.DecodeString(vout.ScriptPubKey.Hex)
	if err != nil {
		return ""
	}
	return script.AddressFromScript(raw, true)
}

// firstStandardOutputAfter scans tx's outputs strictly after afterIndex and
// returns the first one with a resolvable standard address.
func (p *Processor) firstStandardOutputAfter(tx *rpcclient.Tx, afterIndex int) string {
	for i := afterIndex + 1; i < len(tx.Vout); i++ {
		if addr := p.outputAddress(tx.Vout[i]); addr != "" {
			return addr
		}
	}
	return ""
}

// signatureBytes extracts the unlocking signature from vin: witness[0] for
// SegWit/Taproot inputs, else the first scriptSig.asm token for legacy
// inputs.
func signatureBytes(vin rpcclient.Vin) []byte {
	var sigHex string
	if len(vin.TxinWitness) > 0 {
		sigHex = vin.TxinWitness[0]
	} else if vin.ScriptSig.Asm != "" {
		parts := strings.Fields(vin.ScriptSig.Asm)
		if len(parts) > 0 {
			sigHex = parts[0]
		}
	}
	if sigHex == "" {
		return nil
	}
	raw, err := hex.DecodeString(sigHex)
	if err != nil {
		return nil
	}
	return raw
}

func (p *Processor) hasMarketplaceSighash(tx *rpcclient.Tx) bool {
	for _, vin := range tx.Vin {
		if sig := signatureBytes(vin); sig != nil && script.IsSighashSingleAnyoneCanPay(sig) {
			return true
		}
	}
	return false
}

// ClassifyTransferPriority reports whether tx is a valid marketplace
// transfer, so a caller building a block's processing queue can move
// marketplace transfers ahead of everything else without duplicating the
// sighash/template inspection performed during processing itself.
func (p *Processor) ClassifyTransferPriority(ctx context.Context, tx *rpcclient.Tx, blockHeight int64) bool {
	transferType, _, _ := p.classifyTransferType(ctx, tx, blockHeight)
	return transferType == TransferMarketplace
}

// classifyTransferType implements §4.6.2: SIMPLE when no input carries the
// marketplace sighash; otherwise MARKETPLACE or INVALID_MARKETPLACE
// depending on whether the height-appropriate template holds.
func (p *Processor) classifyTransferType(ctx context.Context, tx *rpcclient.Tx, blockHeight int64) (TransferType, errcode.Code, string) {
	if !p.hasMarketplaceSighash(tx) {
		return TransferSimple, "", ""
	}

	var code errcode.Code
	var msg string
	if blockHeight < p.MarketplaceCutoffHeight {
		code, msg = p.validateEarlyMarketplaceTemplate(ctx, tx)
	} else {
		code, msg = p.validateNewMarketplaceTemplate(ctx, tx)
	}
	if code != "" {
		return TransferInvalidTemplate, code, msg
	}
	return TransferMarketplace, "", ""
}

func (p *Processor) validateEarlyMarketplaceTemplate(ctx context.Context, tx *rpcclient.Tx) (errcode.Code, string) {
	if len(tx.Vin) < 3 {
		return errcode.InvalidMarketplaceTransaction, "early marketplace transaction must have at least 3 inputs"
	}

	found := false
	for _, vin := range tx.Vin {
		if sig := signatureBytes(vin); sig != nil && script.IsSighashSingleAnyoneCanPay(sig) {
			found = true
			break
		}
	}
	if !found {
		return errcode.InvalidSighashType, "no input with SIGHASH_SINGLE | ANYONECANPAY found"
	}

	if p.distinctInputAddressCount(ctx, tx) < 3 {
		return errcode.InvalidMarketplaceTransaction, "early marketplace transaction must involve at least 3 different addresses"
	}
	return "", ""
}

func (p *Processor) validateNewMarketplaceTemplate(ctx context.Context, tx *rpcclient.Tx) (errcode.Code, string) {
	if len(tx.Vin) < 3 {
		return errcode.InvalidMarketplaceTransaction, "marketplace transaction must have at least 3 inputs"
	}

	addr0 := p.Resolver.GetInputAddress(ctx, tx.Vin[0].Txid, tx.Vin[0].Vout)
	addr1 := p.Resolver.GetInputAddress(ctx, tx.Vin[1].Txid, tx.Vin[1].Vout)
	if addr0 == "" || addr0 != addr1 {
		return errcode.InvalidMarketplaceTransaction, "first two inputs must be from the same address"
	}

	sig0 := signatureBytes(tx.Vin[0])
	sig1 := signatureBytes(tx.Vin[1])
	if sig0 == nil || !script.IsSighashSingleAnyoneCanPay(sig0) || sig1 == nil || !script.IsSighashSingleAnyoneCanPay(sig1) {
		return errcode.InvalidSighashType, "first two inputs must use SIGHASH_SINGLE | ANYONECANPAY"
	}

	if p.distinctInputAddressCount(ctx, tx) < 3 {
		return errcode.InvalidMarketplaceTransaction, "marketplace transaction must involve at least 3 different addresses"
	}
	return "", ""
}

func (p *Processor) distinctInputAddressCount(ctx context.Context, tx *rpcclient.Tx) int {
	seen := make(map[string]struct{})
	for _, vin := range tx.Vin {
		if vin.Txid == "" {
			continue
		}
		addr := p.Resolver.GetInputAddress(ctx, vin.Txid, vin.Vout)
		if addr == "" {
			continue
		}
		seen[addr] = struct{}{}
	}
	return len(seen)
}
