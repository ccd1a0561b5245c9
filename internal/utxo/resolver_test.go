package utxo

import (
	"context"
	"errors"
	"testing"

	"github.com/brc20/indexer/internal/rpcclient"
)

type fakeFetcher struct {
	calls int
	txs   map[string]*rpcclient.Tx
	err   error
}

func (f *fakeFetcher) GetRawTransaction(ctx context.Context, txid string) (*rpcclient.Tx, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	tx, ok := f.txs[txid]
	if !ok {
		return nil, errors.New("not found")
	}
	return tx, nil
}

func TestGetInputAddress_FromAddressField(t *testing.T) {
	fetcher := &fakeFetcher{txs: map[string]*rpcclient.Tx{
		"abc": {Txid: "abc", Vout: []rpcclient.Vout{
			{N: 0, ScriptPubKey: rpcclient.ScriptPubKey{Address: "bc1qsomeaddr"}},
		}},
	}}
	r, err := New(fetcher, 10, true)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got := r.GetInputAddress(context.Background(), "abc", 0)
	if got != "bc1qsomeaddr" {
		t.Errorf("GetInputAddress() = %s, want bc1qsomeaddr", got)
	}
}

func TestGetInputAddress_FallsBackToScriptHex(t *testing.T) {
	fetcher := &fakeFetcher{txs: map[string]*rpcclient.Tx{
		"abc": {Txid: "abc", Vout: []rpcclient.Vout{
			{N: 0, ScriptPubKey: rpcclient.ScriptPubKey{Hex: "0014751e76e8199196d454941c45d1b3a323f1433bd6"[:44]}},
		}},
	}}
	r, err := New(fetcher, 10, true)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got := r.GetInputAddress(context.Background(), "abc", 0)
	if got == "" {
		t.Error("expected address derived from scriptPubKey hex fallback")
	}
}

func TestGetInputAddress_CachesDecodedTx(t *testing.T) {
	fetcher := &fakeFetcher{txs: map[string]*rpcclient.Tx{
		"abc": {Txid: "abc", Vout: []rpcclient.Vout{
			{N: 0, ScriptPubKey: rpcclient.ScriptPubKey{Address: "bc1qsomeaddr"}},
			{N: 1, ScriptPubKey: rpcclient.ScriptPubKey{Address: "bc1qotheraddr"}},
		}},
	}}
	r, err := New(fetcher, 10, true)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	r.GetInputAddress(context.Background(), "abc", 0)
	r.GetInputAddress(context.Background(), "abc", 1)

	if fetcher.calls != 1 {
		t.Errorf("rpc calls = %d, want 1 (second lookup should hit cache)", fetcher.calls)
	}
}

func TestGetInputAddress_RPCFailureYieldsEmpty(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("rpc down")}
	r, err := New(fetcher, 10, true)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got := r.GetInputAddress(context.Background(), "missing", 0)
	if got != "" {
		t.Errorf("GetInputAddress() = %s, want empty on RPC failure", got)
	}
}

func TestGetInputAddress_OutOfRangeVout(t *testing.T) {
	fetcher := &fakeFetcher{txs: map[string]*rpcclient.Tx{
		"abc": {Txid: "abc", Vout: []rpcclient.Vout{{N: 0, ScriptPubKey: rpcclient.ScriptPubKey{Address: "bc1qaddr"}}}},
	}}
	r, err := New(fetcher, 10, true)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got := r.GetInputAddress(context.Background(), "abc", 5)
	if got != "" {
		t.Errorf("GetInputAddress() = %s, want empty for out-of-range vout", got)
	}
}
