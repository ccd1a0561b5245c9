package validator

import (
	"testing"

	"github.com/brc20/indexer/internal/amount"
	"github.com/brc20/indexer/internal/brc20/errcode"
	"github.com/brc20/indexer/internal/brc20/types"
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

func TestValidateDeploy_Success(t *testing.T) {
	store := newFakeStore()
	v := NewView(types.NewIntermediateState(), store)

	code, _, deploy := ValidateDeploy(v, DeployRequest{
		Ticker:          "ordi",
		MaxSupplyStr:    "21000000",
		DeployerAddress: "bc1qdeployer",
	})
	if code != "" {
		t.Fatalf("ValidateDeploy() error_code = %s", code)
	}
	if deploy.RemainingSupply.String() != "21000000" {
		t.Errorf("RemainingSupply = %s, want 21000000", deploy.RemainingSupply.String())
	}
}

func TestValidateDeploy_AlreadyExists(t *testing.T) {
	store := newFakeStore()
	store.deploys["ordi"] = &types.Deploy{Ticker: "ordi", MaxSupply: amount.MustParse("21000000")}
	v := NewView(types.NewIntermediateState(), store)

	code, _, _ := ValidateDeploy(v, DeployRequest{Ticker: "ordi", MaxSupplyStr: "1000", DeployerAddress: "addr"})
	if code != errcode.TickerAlreadyExists {
		t.Errorf("error_code = %s, want TICKER_ALREADY_EXISTS", code)
	}
}

func TestValidateDeploy_NoDeployerFallback(t *testing.T) {
	v := NewView(types.NewIntermediateState(), newFakeStore())

	code, _, _ := ValidateDeploy(v, DeployRequest{Ticker: "ordi", MaxSupplyStr: "1000"})
	if code != errcode.NoStandardOutput {
		t.Errorf("error_code = %s, want NO_STANDARD_OUTPUT", code)
	}
}

func TestValidateDeploy_InvalidMaxSupply(t *testing.T) {
	v := NewView(types.NewIntermediateState(), newFakeStore())

	code, _, _ := ValidateDeploy(v, DeployRequest{Ticker: "ordi", MaxSupplyStr: "not-a-number", DeployerAddress: "addr"})
	if code != errcode.InvalidAmount {
		t.Errorf("error_code = %s, want INVALID_AMOUNT", code)
	}
}

func TestValidateMint_Success(t *testing.T) {
	store := newFakeStore()
	store.deploys["ordi"] = &types.Deploy{Ticker: "ordi", MaxSupply: amount.MustParse("1000"), RemainingSupply: amount.MustParse("1000")}
	v := NewView(types.NewIntermediateState(), store)

	code, _, amt := ValidateMint(v, MintRequest{Ticker: "ordi", AmountStr: "100", RecipientAddress: "bc1qrecipient"})
	if code != "" {
		t.Fatalf("ValidateMint() error_code = %s", code)
	}
	if amt.String() != "100" {
		t.Errorf("amount = %s, want 100", amt.String())
	}
}

func TestValidateMint_TickerNotDeployed(t *testing.T) {
	v := NewView(types.NewIntermediateState(), newFakeStore())

	code, _, _ := ValidateMint(v, MintRequest{Ticker: "ordi", AmountStr: "10", RecipientAddress: "addr"})
	if code != errcode.TickerNotDeployed {
		t.Errorf("error_code = %s, want TICKER_NOT_DEPLOYED", code)
	}
}

func TestValidateMint_ExceedsMaxSupply(t *testing.T) {
	store := newFakeStore()
	store.deploys["ordi"] = &types.Deploy{Ticker: "ordi", MaxSupply: amount.MustParse("100"), RemainingSupply: amount.MustParse("50")}
	v := NewView(types.NewIntermediateState(), store)

	code, _, _ := ValidateMint(v, MintRequest{Ticker: "ordi", AmountStr: "60", RecipientAddress: "addr"})
	if code != errcode.ExceedsMaxSupply {
		t.Errorf("error_code = %s, want EXCEEDS_MAX_SUPPLY", code)
	}
}

func TestValidateMint_ExceedsMintLimit(t *testing.T) {
	limit := amount.MustParse("10")
	store := newFakeStore()
	store.deploys["ordi"] = &types.Deploy{
		Ticker: "ordi", MaxSupply: amount.MustParse("1000"), RemainingSupply: amount.MustParse("1000"), LimitPerOp: &limit,
	}
	v := NewView(types.NewIntermediateState(), store)

	code, _, _ := ValidateMint(v, MintRequest{Ticker: "ordi", AmountStr: "11", RecipientAddress: "addr"})
	if code != errcode.ExceedsMintLimit {
		t.Errorf("error_code = %s, want EXCEEDS_MINT_LIMIT", code)
	}
}

func TestValidateMint_NoRecipient(t *testing.T) {
	store := newFakeStore()
	store.deploys["ordi"] = &types.Deploy{Ticker: "ordi", MaxSupply: amount.MustParse("1000"), RemainingSupply: amount.MustParse("1000")}
	v := NewView(types.NewIntermediateState(), store)

	code, _, _ := ValidateMint(v, MintRequest{Ticker: "ordi", AmountStr: "10"})
	if code != errcode.NoValidReceiver {
		t.Errorf("error_code = %s, want NO_VALID_RECEIVER", code)
	}
}

func TestValidateTransfer_Success(t *testing.T) {
	store := newFakeStore()
	store.deploys["ordi"] = &types.Deploy{Ticker: "ordi", MaxSupply: amount.MustParse("1000")}
	store.balances["bc1qsender|ordi"] = amount.MustParse("500")
	v := NewView(types.NewIntermediateState(), store)

	code, _, amt := ValidateTransfer(v, TransferRequest{
		Ticker: "ordi", AmountStr: "100", SenderAddress: "bc1qsender", RecipientAddress: "bc1qrecipient",
	})
	if code != "" {
		t.Fatalf("ValidateTransfer() error_code = %s", code)
	}
	if amt.String() != "100" {
		t.Errorf("amount = %s, want 100", amt.String())
	}
}

func TestValidateTransfer_InsufficientBalance(t *testing.T) {
	store := newFakeStore()
	store.deploys["ordi"] = &types.Deploy{Ticker: "ordi", MaxSupply: amount.MustParse("1000")}
	store.balances["bc1qsender|ordi"] = amount.MustParse("10")
	v := NewView(types.NewIntermediateState(), store)

	code, _, _ := ValidateTransfer(v, TransferRequest{
		Ticker: "ordi", AmountStr: "100", SenderAddress: "bc1qsender", RecipientAddress: "bc1qrecipient",
	})
	if code != errcode.InsufficientBalance {
		t.Errorf("error_code = %s, want INSUFFICIENT_BALANCE", code)
	}
}

func TestValidateTransfer_PrefersIntermediateBalance(t *testing.T) {
	store := newFakeStore()
	store.deploys["ordi"] = &types.Deploy{Ticker: "ordi", MaxSupply: amount.MustParse("1000")}
	store.balances["bc1qsender|ordi"] = amount.MustParse("10")

	state := types.NewIntermediateState()
	state.SetBalance("bc1qsender", "ordi", amount.MustParse("500"))
	v := NewView(state, store)

	code, _, _ := ValidateTransfer(v, TransferRequest{
		Ticker: "ordi", AmountStr: "100", SenderAddress: "bc1qsender", RecipientAddress: "bc1qrecipient",
	})
	if code != "" {
		t.Fatalf("expected success using intermediate balance, got %s", code)
	}
}

func TestValidateTransfer_UnresolvedAddresses(t *testing.T) {
	store := newFakeStore()
	store.deploys["ordi"] = &types.Deploy{Ticker: "ordi", MaxSupply: amount.MustParse("1000")}
	v := NewView(types.NewIntermediateState(), store)

	code, _, _ := ValidateTransfer(v, TransferRequest{Ticker: "ordi", AmountStr: "10", RecipientAddress: "addr"})
	if code != errcode.NoValidReceiver {
		t.Errorf("error_code = %s, want NO_VALID_RECEIVER", code)
	}
}
