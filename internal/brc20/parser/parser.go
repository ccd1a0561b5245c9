// Package parser locates and decodes the BRC-20 OP_RETURN envelope carried
// by a transaction, applying the fast nulldata/substring filter before
// paying for a JSON decode.
package parser

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"unicode/utf8"

	"github.com/brc20/indexer/internal/brc20/errcode"
	"github.com/brc20/indexer/internal/brc20/types"
	"github.com/brc20/indexer/internal/rpcclient"
	"github.com/brc20/indexer/internal/script"
)

// MaxOpReturnBytes is the Bitcoin OP_RETURN payload size ceiling this
// indexer enforces, matching the protocol's own relay-standardness limit.
const MaxOpReturnBytes = 80

const nulldataType = "nulldata"

// Envelope is a structurally valid BRC-20 JSON payload: protocol and
// operation checked, ticker non-empty, operation-specific fields present
// and string-typed. Amount parsing and business-rule enforcement belong to
// the validator.
type Envelope struct {
	Op            types.Operation
	Ticker        string
	MaxSupply     string // deploy "m"
	LimitPerOp    string // deploy "l"
	HasLimitPerOp bool
	Amount        string // mint/transfer "amt"
}

// Candidate is one BRC-20 OP_RETURN output located in a transaction, before
// JSON decoding.
type Candidate struct {
	Payload   []byte
	VoutIndex int
}

// ParseResult is the outcome of parsing one candidate's payload.
type ParseResult struct {
	Envelope     *Envelope
	ErrorCode    errcode.Code
	ErrorMessage string
}

// Success reports whether the payload parsed into a structurally valid
// envelope.
func (r ParseResult) Success() bool {
	return r.ErrorCode == ""
}

// isBRC20Nulldata reports whether a nulldata output's payload contains the
// BRC-20 protocol marker. This is the fast pre-filter from §4.4: it never
// performs a JSON decode.
func isBRC20Nulldata(payload []byte) bool {
	return script.ContainsBRC20Marker(payload)
}

// nulldataOutputs returns the payload bytes and vout index of every nulldata
// (OP_RETURN) output in tx, in vout order. It does not filter by BRC-20
// marker.
func nulldataOutputs(tx *rpcclient.Tx) []Candidate {
	var out []Candidate
	for i, vout := range tx.Vout {
		if vout.ScriptPubKey.Type != nulldataType {
			continue
		}
		payload, err := decodeScriptHex(vout.ScriptPubKey.Hex)
		if err != nil {
			continue
		}
		out = append(out, Candidate{Payload: payload, VoutIndex: i})
	}
	return out
}

// ExtractOpReturn locates the single BRC-20-flagged nulldata output in tx
// and returns its payload and vout index. It returns ok=false if none or
// more than one BRC-20-flagged nulldata output exists, or the payload
// exceeds MaxOpReturnBytes.
func ExtractOpReturn(tx *rpcclient.Tx) (payload []byte, voutIndex int, ok bool) {
	if tx == nil || len(tx.Vout) == 0 {
		return nil, 0, false
	}

	var matched []Candidate
	for _, c := range nulldataOutputs(tx) {
		if isBRC20Nulldata(c.Payload) {
			matched = append(matched, c)
		}
	}

	if len(matched) != 1 {
		return nil, 0, false
	}

	c := matched[0]
	if len(c.Payload) > MaxOpReturnBytes {
		return nil, 0, false
	}
	return c.Payload, c.VoutIndex, true
}

// ExtractOpReturnFirstPositionOnly implements the position rule: the sole
// nulldata output in tx must sit at vout 0. Used for mint/transfer at or
// after the configured position-enforcement height.
func ExtractOpReturnFirstPositionOnly(tx *rpcclient.Tx) (payload []byte, voutIndex int, ok bool) {
	if tx == nil || len(tx.Vout) == 0 {
		return nil, 0, false
	}

	first := tx.Vout[0]
	if first.ScriptPubKey.Type != nulldataType {
		return nil, 0, false
	}

	count := 0
	for _, vout := range tx.Vout {
		if vout.ScriptPubKey.Type == nulldataType {
			count++
		}
	}
	if count != 1 {
		return nil, 0, false
	}

	data, err := decodeScriptHex(first.ScriptPubKey.Hex)
	if err != nil {
		return nil, 0, false
	}
	if len(data) > MaxOpReturnBytes {
		return nil, 0, false
	}
	return data, 0, true
}

// HasMultipleOpReturns reports whether tx carries more than one nulldata
// output.
func HasMultipleOpReturns(tx *rpcclient.Tx) bool {
	if tx == nil {
		return false
	}
	count := 0
	for _, vout := range tx.Vout {
		if vout.ScriptPubKey.Type == nulldataType {
			count++
		}
	}
	return count > 1
}

// ExtractMultiTransferCandidates returns every nulldata output in tx whose
// payload fast-matches a BRC-20 transfer, provided tx carries more than one
// nulldata output at all. It performs no structural (position/ticker)
// validation — that is ValidateMultiTransferStructure's job.
func ExtractMultiTransferCandidates(tx *rpcclient.Tx) []Candidate {
	if tx == nil || !HasMultipleOpReturns(tx) {
		return nil
	}

	var out []Candidate
	for _, c := range nulldataOutputs(tx) {
		if isTransferFast(c.Payload) {
			out = append(out, c)
		}
	}
	return out
}

func isTransferFast(payload []byte) bool {
	s := string(payload)
	return bytes.Contains([]byte(s), []byte(`"p":"brc-20"`)) && bytes.Contains([]byte(s), []byte(`"op":"transfer"`))
}

// ValidateMultiTransferStructure enforces the strict (OP_RETURN, recipient)
// pairing: step i's OP_RETURN must sit at vout 2i and its recipient output
// at vout 2i+1.
func ValidateMultiTransferStructure(tx *rpcclient.Tx, candidates []Candidate) (errcode.Code, string) {
	for i, c := range candidates {
		expected := 2 * i
		if c.VoutIndex != expected {
			return errcode.InvalidOutputPosition, "op_return position mismatch in multi-transfer step"
		}
		receiverIndex := expected + 1
		if receiverIndex >= len(tx.Vout) {
			return errcode.NoReceiverOutput, "missing recipient output in multi-transfer step"
		}
	}
	return "", ""
}

// ParseEnvelope decodes payload's JSON structure and validates the
// BRC-20-mandated fields, independent of any particular candidate-selection
// path.
func ParseEnvelope(payload []byte) ParseResult {
	sanitized := bytes.ReplaceAll(payload, []byte{0}, nil)

	if !utf8.Valid(sanitized) {
		return ParseResult{ErrorCode: errcode.InvalidJSON, ErrorMessage: "payload is not valid utf-8"}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(sanitized, &raw); err != nil {
		return ParseResult{ErrorCode: errcode.InvalidJSON, ErrorMessage: "payload is not a valid JSON object"}
	}

	protocol, ok, err := stringField(raw, "p")
	if err != nil {
		return ParseResult{ErrorCode: errcode.InvalidProtocol, ErrorMessage: "protocol field 'p' must be a string"}
	}
	if !ok {
		return ParseResult{ErrorCode: errcode.MissingProtocol, ErrorMessage: "missing protocol field 'p'"}
	}
	if protocol != "brc-20" {
		return ParseResult{ErrorCode: errcode.InvalidProtocol, ErrorMessage: "invalid protocol, expected brc-20"}
	}

	opStr, ok, err := stringField(raw, "op")
	if err != nil {
		return ParseResult{ErrorCode: errcode.InvalidOperation, ErrorMessage: "operation field 'op' must be a string"}
	}
	if !ok {
		return ParseResult{ErrorCode: errcode.MissingOperation, ErrorMessage: "missing operation field 'op'"}
	}

	op := types.Operation(opStr)
	if op != types.OpDeploy && op != types.OpMint && op != types.OpTransfer {
		return ParseResult{ErrorCode: errcode.InvalidOperation, ErrorMessage: "unrecognized operation"}
	}

	ticker, ok, err := stringField(raw, "tick")
	if err != nil {
		return ParseResult{ErrorCode: errcode.MissingTicker, ErrorMessage: "ticker field 'tick' must be a string"}
	}
	if !ok {
		return ParseResult{ErrorCode: errcode.MissingTicker, ErrorMessage: "missing ticker field 'tick'"}
	}
	if ticker == "" {
		return ParseResult{ErrorCode: errcode.EmptyTicker, ErrorMessage: "ticker cannot be empty"}
	}

	env := &Envelope{Op: op, Ticker: ticker}

	switch op {
	case types.OpDeploy:
		maxSupply, ok, err := stringField(raw, "m")
		if err != nil {
			return ParseResult{ErrorCode: errcode.InvalidAmount, ErrorMessage: "max supply 'm' must be a string"}
		}
		if !ok {
			return ParseResult{ErrorCode: errcode.InvalidAmount, ErrorMessage: "missing max supply field 'm'"}
		}
		env.MaxSupply = maxSupply

		limit, hasLimit, err := stringField(raw, "l")
		if err != nil {
			return ParseResult{ErrorCode: errcode.InvalidAmount, ErrorMessage: "limit per operation 'l' must be a string"}
		}
		if hasLimit {
			env.LimitPerOp = limit
			env.HasLimitPerOp = true
		}

	case types.OpMint, types.OpTransfer:
		amt, ok, err := stringField(raw, "amt")
		if err != nil {
			return ParseResult{ErrorCode: errcode.InvalidAmount, ErrorMessage: "amount 'amt' must be a string"}
		}
		if !ok {
			return ParseResult{ErrorCode: errcode.InvalidAmount, ErrorMessage: "missing amount field 'amt'"}
		}
		env.Amount = amt
	}

	return ParseResult{Envelope: env}
}

// stringField reads key from raw as a string. ok is false if the key is
// absent or explicitly null; err is non-nil if the key is present with a
// non-string JSON value.
func stringField(raw map[string]json.RawMessage, key string) (value string, ok bool, err error) {
	v, present := raw[key]
	if !present || string(v) == "null" {
		return "", false, nil
	}
	if err := json.Unmarshal(v, &value); err != nil {
		return "", false, err
	}
	return value, true, nil
}

// errNotOpReturn is returned when a nulldata-typed output's script does not
// actually decode as a structurally valid OP_RETURN push.
var errNotOpReturn = errors.New("script: not a valid OP_RETURN push")

// decodeScriptHex decodes a scriptPubKey's hex representation into its raw
// bytes and extracts the OP_RETURN push payload from it.
func decodeScriptHex(hexStr string) ([]byte, error) {
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, err
	}
	payload := script.ExtractOpReturnPayload(raw)
	if payload == nil {
		return nil, errNotOpReturn
	}
	return payload, nil
}
