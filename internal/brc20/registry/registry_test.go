package registry

import (
	"testing"

	"github.com/brc20/indexer/internal/amount"
	"github.com/brc20/indexer/internal/brc20/parser"
	"github.com/brc20/indexer/internal/brc20/types"
	"github.com/brc20/indexer/internal/brc20/validator"
)

type fakeStore struct {
	deploys  map[string]*types.Deploy
	balances map[string]amount.Amount
}

func newFakeStore() *fakeStore {
	return &fakeStore{deploys: make(map[string]*types.Deploy), balances: make(map[string]amount.Amount)}
}

func (s *fakeStore) GetDeploy(ticker string) (*types.Deploy, bool, error) {
	d, ok := s.deploys[ticker]
	return d, ok, nil
}

func (s *fakeStore) GetBalance(address, ticker string) (amount.Amount, bool, error) {
	b, ok := s.balances[address+"|"+ticker]
	return b, ok, nil
}

func TestRegistry_DeployMintTransfer(t *testing.T) {
	store := newFakeStore()
	state := types.NewIntermediateState()
	view := validator.NewView(state, store)
	reg := New()

	deployEnv := &parser.Envelope{Op: types.OpDeploy, Ticker: "ordi", MaxSupply: "1000"}
	rec, ok := reg.Get(types.OpDeploy)
	if !ok {
		t.Fatal("deploy recognizer not registered")
	}
	ctx := &Context{View: view, State: state, DeployerAddress: "bc1qdeployer"}
	result := rec.Validate(deployEnv, ctx)
	if !result.Valid() {
		t.Fatalf("deploy validate failed: %s", result.ErrorCode)
	}
	rec.Apply(deployEnv, ctx, result)

	if _, ok := state.Deploy("ordi"); !ok {
		t.Fatal("expected deploy to be recorded in intermediate state")
	}

	mintEnv := &parser.Envelope{Op: types.OpMint, Ticker: "ordi", Amount: "100"}
	mintRec, _ := reg.Get(types.OpMint)
	mintCtx := &Context{View: view, State: state, RecipientAddress: "bc1qminter"}
	mintResult := mintRec.Validate(mintEnv, mintCtx)
	if !mintResult.Valid() {
		t.Fatalf("mint validate failed: %s", mintResult.ErrorCode)
	}
	mintRec.Apply(mintEnv, mintCtx, mintResult)

	bal, _ := state.Balance("bc1qminter", "ordi")
	if bal.String() != "100" {
		t.Errorf("minter balance = %s, want 100", bal.String())
	}

	deploy, _ := state.Deploy("ordi")
	if deploy.RemainingSupply.String() != "900" {
		t.Errorf("remaining supply = %s, want 900", deploy.RemainingSupply.String())
	}

	transferEnv := &parser.Envelope{Op: types.OpTransfer, Ticker: "ordi", Amount: "40"}
	transferRec, _ := reg.Get(types.OpTransfer)
	transferCtx := &Context{View: view, State: state, SenderAddress: "bc1qminter", RecipientAddress: "bc1qrecipient"}
	transferResult := transferRec.Validate(transferEnv, transferCtx)
	if !transferResult.Valid() {
		t.Fatalf("transfer validate failed: %s", transferResult.ErrorCode)
	}
	transferRec.Apply(transferEnv, transferCtx, transferResult)

	senderBal, _ := state.Balance("bc1qminter", "ordi")
	recipientBal, _ := state.Balance("bc1qrecipient", "ordi")
	if senderBal.String() != "60" {
		t.Errorf("sender balance = %s, want 60", senderBal.String())
	}
	if recipientBal.String() != "40" {
		t.Errorf("recipient balance = %s, want 40", recipientBal.String())
	}
}

func TestRegistry_MintRejectsUnknownTicker(t *testing.T) {
	store := newFakeStore()
	state := types.NewIntermediateState()
	view := validator.NewView(state, store)
	reg := New()

	mintEnv := &parser.Envelope{Op: types.OpMint, Ticker: "ghost", Amount: "10"}
	rec, _ := reg.Get(types.OpMint)
	ctx := &Context{View: view, State: state, RecipientAddress: "bc1qrecipient"}
	result := rec.Validate(mintEnv, ctx)
	if result.Valid() {
		t.Fatal("expected mint against undeployed ticker to fail")
	}
}
