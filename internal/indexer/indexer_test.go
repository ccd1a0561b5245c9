package indexer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brc20/indexer/internal/brc20/processor"
	"github.com/brc20/indexer/internal/brc20/registry"
	"github.com/brc20/indexer/internal/brc20/types"
	"github.com/brc20/indexer/internal/config"
	"github.com/brc20/indexer/internal/indexer/reorg"
	"github.com/brc20/indexer/internal/rpcclient"
	"github.com/brc20/indexer/internal/store/memstore"
)

func testIndexerConfig() *config.Config {
	return &config.Config{RetryDelaySeconds: 0, MaxConsecutiveRPCFailures: 10}
}

type fakeResolver struct{}

func (fakeResolver) GetInputAddress(ctx context.Context, prevTxid string, vout int) string {
	return "bc1qsender"
}

func opReturnHex(payload string) string {
	b := []byte(payload)
	out := "6a" // OP_RETURN
	if len(b) <= 75 {
		out += byteHex(len(b))
	}
	for _, c := range b {
		out += byteHex(int(c))
	}
	return out
}

func byteHex(n int) string {
	const hexDigits = "0123456789abcdef"
	return string([]byte{hexDigits[(n>>4)&0xf], hexDigits[n&0xf]})
}

func standardScriptHex() string {
	return "76a91400000000000000000000000000000000000000ff88ac"
}

// newRPCServer maps JSON-RPC method names to canned responses, serving a
// single test block via getblockcount/getblockhash/getblock.
func newRPCServer(t *testing.T, blockCount int64, hash string, block map[string]any) (*rpcclient.Client, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			Params []any  `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode rpc request: %v", err)
		}

		var result any
		switch req.Method {
		case "getblockcount":
			result = blockCount
		case "getblockhash":
			result = hash
		case "getblock":
			result = block
		default:
			t.Fatalf("unexpected rpc method %q", req.Method)
		}

		json.NewEncoder(w).Encode(map[string]any{"result": result})
	}))
	client := rpcclient.New(srv.URL, "user", "pass", 1, time.Minute)
	return client, srv.Close
}

func TestIndexer_ProcessBlock_DeployAndMint(t *testing.T) {
	deployPayload := `{"p":"brc-20","op":"deploy","tick":"ordi","m":"1000","l":"100"}`
	mintPayload := `{"p":"brc-20","op":"mint","tick":"ordi","amt":"50"}`

	block := map[string]any{
		"hash":             "00000000blockhash",
		"height":           895534,
		"previousblockhash": "00000000prevhash",
		"time":             1700000000,
		"tx": []map[string]any{
			{
				"txid": "coinbasetx",
				"vin":  []map[string]any{{"coinbase": "03deadbeef"}},
				"vout": []map[string]any{},
			},
			{
				"txid": "deploytx",
				"vin": []map[string]any{
					{"txid": "prevtx1", "vout": 0},
				},
				"vout": []map[string]any{
					{"n": 0, "scriptPubKey": map[string]any{"type": "nulldata", "hex": opReturnHex(deployPayload)}},
					{"n": 1, "scriptPubKey": map[string]any{"type": "pubkeyhash", "hex": standardScriptHex(), "address": "bc1qdeployer"}},
				},
			},
			{
				"txid": "minttx",
				"vin": []map[string]any{
					{"txid": "prevtx2", "vout": 0},
				},
				"vout": []map[string]any{
					{"n": 0, "scriptPubKey": map[string]any{"type": "nulldata", "hex": opReturnHex(mintPayload)}},
					{"n": 1, "scriptPubKey": map[string]any{"type": "pubkeyhash", "hex": standardScriptHex(), "address": "bc1qrecipient"}},
				},
			},
		},
	}

	rpc, closeFn := newRPCServer(t, 895534, "00000000blockhash", block)
	defer closeFn()

	st := memstore.New()
	reg := registry.New()
	proc := processor.New(reg, fakeResolver{}, NewValidatorStore(st), 984444, 901350)
	reorgHandler := reorg.New(rpc, st, 895534, 100)
	ix := New(rpc, st, proc, reorgHandler, 895534, 100, true, testIndexerConfig())

	result, err := ix.ProcessBlock(context.Background(), 895534)
	if err != nil {
		t.Fatalf("ProcessBlock() error = %v", err)
	}
	if result.BRC20OperationsFound != 2 {
		t.Errorf("BRC20OperationsFound = %d, want 2", result.BRC20OperationsFound)
	}
	if result.BRC20OperationsValid != 2 {
		t.Errorf("BRC20OperationsValid = %d, want 2", result.BRC20OperationsValid)
	}

	bal, err := st.GetBalance(context.Background(), "bc1qrecipient", "ORDI")
	if err != nil {
		t.Fatalf("GetBalance() error = %v", err)
	}
	if bal.String() != "50" {
		t.Errorf("recipient balance = %s, want 50", bal.String())
	}

	processedBlock, ok, err := st.GetProcessedBlock(context.Background(), 895534)
	if err != nil || !ok {
		t.Fatalf("GetProcessedBlock() = %v, %v, %v", processedBlock, ok, err)
	}
	if processedBlock.TxCount != 3 {
		t.Errorf("TxCount = %d, want 3", processedBlock.TxCount)
	}
}

func TestIndexer_ProcessBlock_SkipsAlreadyProcessedSameHash(t *testing.T) {
	block := map[string]any{
		"hash":             "00000000blockhash",
		"height":           895534,
		"previousblockhash": "00000000prevhash",
		"time":             1700000000,
		"tx": []map[string]any{
			{"txid": "coinbasetx", "vin": []map[string]any{{"coinbase": "03deadbeef"}}, "vout": []map[string]any{}},
		},
	}

	rpc, closeFn := newRPCServer(t, 895534, "00000000blockhash", block)
	defer closeFn()

	st := memstore.New()
	reg := registry.New()
	proc := processor.New(reg, fakeResolver{}, NewValidatorStore(st), 984444, 901350)
	reorgHandler := reorg.New(rpc, st, 895534, 100)
	ix := New(rpc, st, proc, reorgHandler, 895534, 100, true, testIndexerConfig())

	ctx := context.Background()
	if _, err := ix.ProcessBlock(ctx, 895534); err != nil {
		t.Fatalf("first ProcessBlock() error = %v", err)
	}
	result, err := ix.ProcessBlock(ctx, 895534)
	if err != nil {
		t.Fatalf("second ProcessBlock() error = %v", err)
	}
	if result.BlockHash != "00000000blockhash" {
		t.Errorf("BlockHash = %s, want 00000000blockhash", result.BlockHash)
	}
}

func TestIndexer_DetermineStartHeight_ResumesAfterLastProcessed(t *testing.T) {
	st := memstore.New()
	reg := registry.New()
	proc := processor.New(reg, fakeResolver{}, NewValidatorStore(st), 984444, 901350)
	reorgHandler := reorg.New(nil, st, 895534, 100)
	ix := New(nil, st, proc, reorgHandler, 895534, 100, true, testIndexerConfig())

	got, err := ix.DetermineStartHeight(context.Background())
	if err != nil {
		t.Fatalf("DetermineStartHeight() error = %v", err)
	}
	if got != 895534 {
		t.Errorf("DetermineStartHeight() = %d, want 895534 (no prior progress)", got)
	}

	priorBlock := &types.ProcessedBlock{
		Height:    895600,
		BlockHash: "00000000priorhash",
		TxCount:   1,
		Timestamp: time.Unix(1700000000, 0).UTC(),
	}
	if err := st.UpsertProcessedBlock(context.Background(), priorBlock); err != nil {
		t.Fatalf("UpsertProcessedBlock() error = %v", err)
	}

	got, err = ix.DetermineStartHeight(context.Background())
	if err != nil {
		t.Fatalf("DetermineStartHeight() error = %v", err)
	}
	if got != 895601 {
		t.Errorf("DetermineStartHeight() = %d, want 895601", got)
	}
}
