package parser

import (
	"encoding/hex"
	"testing"

	"github.com/brc20/indexer/internal/brc20/errcode"
	"github.com/brc20/indexer/internal/brc20/types"
	"github.com/brc20/indexer/internal/rpcclient"
)

// opReturnScriptHex builds the hex scriptPubKey for an OP_RETURN carrying
// payload, using a direct push (payload must be <= 75 bytes).
func opReturnScriptHex(t *testing.T, payload string) string {
	t.Helper()
	if len(payload) > 75 {
		t.Fatalf("payload too long for direct push: %d", len(payload))
	}
	script := append([]byte{0x6a, byte(len(payload))}, []byte(payload)...)
	return hex.EncodeToString(script)
}

func nulldataVout(t *testing.T, n int, payload string) rpcclient.Vout {
	t.Helper()
	return rpcclient.Vout{N: n, ScriptPubKey: rpcclient.ScriptPubKey{Type: "nulldata", Hex: opReturnScriptHex(t, payload)}}
}

func standardVout(n int) rpcclient.Vout {
	return rpcclient.Vout{N: n, ScriptPubKey: rpcclient.ScriptPubKey{Type: "witness_v0_keyhash", Address: "bc1qaddr"}}
}

func TestExtractOpReturn_Single(t *testing.T) {
	tx := &rpcclient.Tx{Vout: []rpcclient.Vout{
		standardVout(0),
		nulldataVout(t, 1, `{"p":"brc-20","op":"deploy","tick":"ordi","m":"21000000"}`),
	}}

	payload, idx, ok := ExtractOpReturn(tx)
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	if idx != 1 {
		t.Errorf("vout index = %d, want 1", idx)
	}
	if string(payload) == "" {
		t.Error("expected non-empty payload")
	}
}

func TestExtractOpReturn_NoMatch(t *testing.T) {
	tx := &rpcclient.Tx{Vout: []rpcclient.Vout{standardVout(0), standardVout(1)}}

	_, _, ok := ExtractOpReturn(tx)
	if ok {
		t.Error("expected no BRC-20 candidate")
	}
}

func TestExtractOpReturn_NonBRC20Nulldata(t *testing.T) {
	tx := &rpcclient.Tx{Vout: []rpcclient.Vout{
		nulldataVout(t, 0, `unrelated data`),
	}}

	_, _, ok := ExtractOpReturn(tx)
	if ok {
		t.Error("expected non-BRC-20 nulldata to be ignored by the fast filter")
	}
}

func TestExtractOpReturnFirstPositionOnly(t *testing.T) {
	tx := &rpcclient.Tx{Vout: []rpcclient.Vout{
		nulldataVout(t, 0, `{"p":"brc-20","op":"transfer","tick":"ordi","amt":"100"}`),
		standardVout(1),
	}}

	_, idx, ok := ExtractOpReturnFirstPositionOnly(tx)
	if !ok || idx != 0 {
		t.Fatalf("ExtractOpReturnFirstPositionOnly() = idx=%d ok=%v, want 0,true", idx, ok)
	}
}

func TestExtractOpReturnFirstPositionOnly_WrongPosition(t *testing.T) {
	tx := &rpcclient.Tx{Vout: []rpcclient.Vout{
		standardVout(0),
		nulldataVout(t, 1, `{"p":"brc-20","op":"transfer","tick":"ordi","amt":"100"}`),
	}}

	_, _, ok := ExtractOpReturnFirstPositionOnly(tx)
	if ok {
		t.Error("expected position rule to reject OP_RETURN not at vout 0")
	}
}

func TestParseEnvelope_Deploy(t *testing.T) {
	result := ParseEnvelope([]byte(`{"p":"brc-20","op":"deploy","tick":"ordi","m":"21000000","l":"1000"}`))
	if !result.Success() {
		t.Fatalf("expected success, got error_code=%s message=%s", result.ErrorCode, result.ErrorMessage)
	}
	if result.Envelope.Op != types.OpDeploy {
		t.Errorf("Op = %s, want deploy", result.Envelope.Op)
	}
	if result.Envelope.MaxSupply != "21000000" {
		t.Errorf("MaxSupply = %s, want 21000000", result.Envelope.MaxSupply)
	}
	if !result.Envelope.HasLimitPerOp || result.Envelope.LimitPerOp != "1000" {
		t.Error("expected limit per op to be parsed")
	}
}

func TestParseEnvelope_DeployWithoutLimit(t *testing.T) {
	result := ParseEnvelope([]byte(`{"p":"brc-20","op":"deploy","tick":"ordi","m":"21000000"}`))
	if !result.Success() {
		t.Fatalf("expected success, got %s", result.ErrorCode)
	}
	if result.Envelope.HasLimitPerOp {
		t.Error("expected no limit per op")
	}
}

func TestParseEnvelope_Mint(t *testing.T) {
	result := ParseEnvelope([]byte(`{"p":"brc-20","op":"mint","tick":"ordi","amt":"1000"}`))
	if !result.Success() {
		t.Fatalf("expected success, got %s", result.ErrorCode)
	}
	if result.Envelope.Amount != "1000" {
		t.Errorf("Amount = %s, want 1000", result.Envelope.Amount)
	}
}

func TestParseEnvelope_InvalidJSON(t *testing.T) {
	result := ParseEnvelope([]byte(`not json`))
	if result.ErrorCode != errcode.InvalidJSON {
		t.Errorf("error_code = %s, want INVALID_JSON", result.ErrorCode)
	}
}

func TestParseEnvelope_MissingProtocol(t *testing.T) {
	result := ParseEnvelope([]byte(`{"op":"deploy","tick":"ordi","m":"100"}`))
	if result.ErrorCode != errcode.MissingProtocol {
		t.Errorf("error_code = %s, want MISSING_PROTOCOL", result.ErrorCode)
	}
}

func TestParseEnvelope_InvalidProtocol(t *testing.T) {
	result := ParseEnvelope([]byte(`{"p":"brc-19","op":"deploy","tick":"ordi","m":"100"}`))
	if result.ErrorCode != errcode.InvalidProtocol {
		t.Errorf("error_code = %s, want INVALID_PROTOCOL", result.ErrorCode)
	}
}

func TestParseEnvelope_MissingOperation(t *testing.T) {
	result := ParseEnvelope([]byte(`{"p":"brc-20","tick":"ordi"}`))
	if result.ErrorCode != errcode.MissingOperation {
		t.Errorf("error_code = %s, want MISSING_OPERATION", result.ErrorCode)
	}
}

func TestParseEnvelope_InvalidOperation(t *testing.T) {
	result := ParseEnvelope([]byte(`{"p":"brc-20","op":"burn","tick":"ordi"}`))
	if result.ErrorCode != errcode.InvalidOperation {
		t.Errorf("error_code = %s, want INVALID_OPERATION", result.ErrorCode)
	}
}

func TestParseEnvelope_MissingTicker(t *testing.T) {
	result := ParseEnvelope([]byte(`{"p":"brc-20","op":"deploy","m":"100"}`))
	if result.ErrorCode != errcode.MissingTicker {
		t.Errorf("error_code = %s, want MISSING_TICKER", result.ErrorCode)
	}
}

func TestParseEnvelope_EmptyTicker(t *testing.T) {
	result := ParseEnvelope([]byte(`{"p":"brc-20","op":"deploy","tick":"","m":"100"}`))
	if result.ErrorCode != errcode.EmptyTicker {
		t.Errorf("error_code = %s, want EMPTY_TICKER", result.ErrorCode)
	}
}

func TestParseEnvelope_TickerZeroIsValid(t *testing.T) {
	result := ParseEnvelope([]byte(`{"p":"brc-20","op":"mint","tick":"0","amt":"10"}`))
	if !result.Success() {
		t.Fatalf("expected ticker \"0\" to be valid, got %s", result.ErrorCode)
	}
}

func TestParseEnvelope_MissingMaxSupply(t *testing.T) {
	result := ParseEnvelope([]byte(`{"p":"brc-20","op":"deploy","tick":"ordi"}`))
	if result.ErrorCode != errcode.InvalidAmount {
		t.Errorf("error_code = %s, want INVALID_AMOUNT", result.ErrorCode)
	}
}

func TestParseEnvelope_MissingAmount(t *testing.T) {
	result := ParseEnvelope([]byte(`{"p":"brc-20","op":"transfer","tick":"ordi"}`))
	if result.ErrorCode != errcode.InvalidAmount {
		t.Errorf("error_code = %s, want INVALID_AMOUNT", result.ErrorCode)
	}
}

func TestParseEnvelope_NonStringAmount(t *testing.T) {
	result := ParseEnvelope([]byte(`{"p":"brc-20","op":"mint","tick":"ordi","amt":1000}`))
	if result.ErrorCode != errcode.InvalidAmount {
		t.Errorf("error_code = %s, want INVALID_AMOUNT", result.ErrorCode)
	}
}

func TestParseEnvelope_SpaceAfterColonVariant(t *testing.T) {
	result := ParseEnvelope([]byte(`{"p": "brc-20", "op": "mint", "tick": "ordi", "amt": "10"}`))
	if !result.Success() {
		t.Fatalf("expected success, got %s", result.ErrorCode)
	}
}

func TestHasMultipleOpReturns(t *testing.T) {
	tx := &rpcclient.Tx{Vout: []rpcclient.Vout{
		nulldataVout(t, 0, `{"p":"brc-20","op":"transfer","tick":"ordi","amt":"10"}`),
		standardVout(1),
		nulldataVout(t, 2, `{"p":"brc-20","op":"transfer","tick":"ordi","amt":"20"}`),
		standardVout(3),
	}}

	if !HasMultipleOpReturns(tx) {
		t.Error("expected multiple OP_RETURN outputs to be detected")
	}

	candidates := ExtractMultiTransferCandidates(tx)
	if len(candidates) != 2 {
		t.Fatalf("len(candidates) = %d, want 2", len(candidates))
	}

	code, _ := ValidateMultiTransferStructure(tx, candidates)
	if code != "" {
		t.Errorf("ValidateMultiTransferStructure() error_code = %s, want none", code)
	}
}

func TestValidateMultiTransferStructure_WrongPosition(t *testing.T) {
	tx := &rpcclient.Tx{Vout: []rpcclient.Vout{
		standardVout(0),
		nulldataVout(t, 1, `{"p":"brc-20","op":"transfer","tick":"ordi","amt":"10"}`),
		standardVout(2),
	}}
	candidates := []Candidate{{VoutIndex: 1}}

	code, _ := ValidateMultiTransferStructure(tx, candidates)
	if code != errcode.InvalidOutputPosition {
		t.Errorf("error_code = %s, want INVALID_OUTPUT_POSITION", code)
	}
}

func TestValidateMultiTransferStructure_MissingReceiver(t *testing.T) {
	tx := &rpcclient.Tx{Vout: []rpcclient.Vout{
		nulldataVout(t, 0, `{"p":"brc-20","op":"transfer","tick":"ordi","amt":"10"}`),
	}}
	candidates := []Candidate{{VoutIndex: 0}}

	code, _ := ValidateMultiTransferStructure(tx, candidates)
	if code != errcode.NoReceiverOutput {
		t.Errorf("error_code = %s, want NO_RECEIVER_OUTPUT", code)
	}
}
