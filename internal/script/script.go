// Package script classifies Bitcoin scriptPubKeys, extracts OP_RETURN
// payloads, derives addresses, and inspects signature sighash bytes.
//
// Classification is by byte-signature inspection rather than full script
// interpretation, matching the indexer's need to recognize standard output
// shapes quickly across every transaction in a block.
package script

import (
	"encoding/binary"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// Type identifies a recognized scriptPubKey shape.
type Type string

const (
	TypeP2PKH    Type = "p2pkh"
	TypeP2SH     Type = "p2sh"
	TypeP2WPKH   Type = "p2wpkh"
	TypeP2WSH    Type = "p2wsh"
	TypeP2TR     Type = "p2tr"
	TypeOpReturn Type = "op_return"
	TypeUnknown  Type = "unknown"
)

// SighashSingleAnyoneCanPay is the sighash byte used by marketplace-style
// PSBT inputs (SIGHASH_SINGLE | SIGHASH_ANYONECANPAY).
const SighashSingleAnyoneCanPay = 0x83

// ClassifyOutputScript determines the script type of an output by its
// byte-length and opcode signature.
func ClassifyOutputScript(scriptPubKey []byte) Type {
	switch {
	case len(scriptPubKey) == 0:
		return TypeUnknown
	case len(scriptPubKey) == 25 &&
		scriptPubKey[0] == 0x76 && // OP_DUP
		scriptPubKey[1] == 0xa9 && // OP_HASH160
		scriptPubKey[2] == 0x14 && // push 20
		scriptPubKey[23] == 0x88 && // OP_EQUALVERIFY
		scriptPubKey[24] == 0xac: // OP_CHECKSIG
		return TypeP2PKH
	case len(scriptPubKey) == 23 &&
		scriptPubKey[0] == 0xa9 && // OP_HASH160
		scriptPubKey[1] == 0x14 && // push 20
		scriptPubKey[22] == 0x87: // OP_EQUAL
		return TypeP2SH
	case len(scriptPubKey) == 22 &&
		scriptPubKey[0] == 0x00 && scriptPubKey[1] == 0x14:
		return TypeP2WPKH
	case len(scriptPubKey) == 34 &&
		scriptPubKey[0] == 0x00 && scriptPubKey[1] == 0x20:
		return TypeP2WSH
	case len(scriptPubKey) == 34 &&
		scriptPubKey[0] == 0x51 && scriptPubKey[1] == 0x20:
		return TypeP2TR
	case scriptPubKey[0] == 0x6a: // OP_RETURN
		return TypeOpReturn
	default:
		return TypeUnknown
	}
}

// IsStandard reports whether t has a recoverable output address.
func IsStandard(t Type) bool {
	switch t {
	case TypeP2PKH, TypeP2SH, TypeP2WPKH, TypeP2WSH, TypeP2TR:
		return true
	default:
		return false
	}
}

// AddressFromScript derives the Bitcoin address encoded by scriptPubKey, or
// "" if the script type carries none (OP_RETURN, unknown). mainnet selects
// chaincfg.MainNetParams; otherwise chaincfg.TestNet3Params is used.
func AddressFromScript(scriptPubKey []byte, mainnet bool) string {
	params := &chaincfg.TestNet3Params
	if mainnet {
		params = &chaincfg.MainNetParams
	}

	var addr btcutil.Address
	var err error

	switch ClassifyOutputScript(scriptPubKey) {
	case TypeP2PKH:
		if len(scriptPubKey) != 25 {
			return ""
		}
		addr, err = btcutil.NewAddressPubKeyHash(scriptPubKey[3:23], params)
	case TypeP2SH:
		if len(scriptPubKey) != 23 {
			return ""
		}
		addr, err = btcutil.NewAddressScriptHash(scriptPubKey[2:22], params)
	case TypeP2WPKH:
		if len(scriptPubKey) != 22 {
			return ""
		}
		addr, err = btcutil.NewAddressWitnessPubKeyHash(scriptPubKey[2:22], params)
	case TypeP2WSH:
		if len(scriptPubKey) != 34 {
			return ""
		}
		addr, err = btcutil.NewAddressWitnessScriptHash(scriptPubKey[2:34], params)
	case TypeP2TR:
		if len(scriptPubKey) != 34 {
			return ""
		}
		addr, err = btcutil.NewAddressTaproot(scriptPubKey[2:34], params)
	default:
		return ""
	}

	if err != nil {
		return ""
	}
	return addr.EncodeAddress()
}

// ExtractOpReturnPayload reads the single data push following OP_RETURN and
// returns its raw bytes, or nil on structural failure (not an OP_RETURN
// script, truncated push, or unsupported opcode). Only a single push is
// recognized — a second opcode after the first push is ignored, matching
// how BRC-20 inscriptions encode their JSON payload as one push.
func ExtractOpReturnPayload(script []byte) []byte {
	if len(script) == 0 || script[0] != 0x6a {
		return nil
	}
	if len(script) < 2 {
		return nil
	}

	pos := 1
	opcode := script[pos]
	pos++

	var length int
	switch {
	case opcode >= 0x01 && opcode <= 0x4b:
		length = int(opcode)
	case opcode == 0x4c: // OP_PUSHDATA1
		if pos >= len(script) {
			return nil
		}
		length = int(script[pos])
		pos++
	case opcode == 0x4d: // OP_PUSHDATA2
		if pos+2 > len(script) {
			return nil
		}
		length = int(binary.LittleEndian.Uint16(script[pos : pos+2]))
		pos += 2
	case opcode == 0x4e: // OP_PUSHDATA4
		if pos+4 > len(script) {
			return nil
		}
		length = int(binary.LittleEndian.Uint32(script[pos : pos+4]))
		pos += 4
	default:
		return nil
	}

	if pos+length > len(script) {
		return nil
	}
	return script[pos : pos+length]
}

// ContainsBRC20Marker is the indexer's fast pre-scan filter: it reports
// whether payload, as raw bytes, contains the ASCII marker of a BRC-20 JSON
// envelope (with or without a space after the colon) without paying for a
// full JSON decode. It is a heuristic only — the authoritative check is
// always the parser's full structural validation.
func ContainsBRC20Marker(payload []byte) bool {
	s := string(payload)
	return strings.Contains(s, `"p":"brc-20"`) || strings.Contains(s, `"p": "brc-20"`)
}

// SighashByte returns the final byte of a DER signature (its sighash type),
// and false if sig is empty. The DER structure itself is not checked.
func SighashByte(sig []byte) (byte, bool) {
	if len(sig) == 0 {
		return 0, false
	}
	return sig[len(sig)-1], true
}

// IsSighashSingleAnyoneCanPay reports whether sig's sighash byte is
// SIGHASH_SINGLE | SIGHASH_ANYONECANPAY (0x83).
func IsSighashSingleAnyoneCanPay(sig []byte) bool {
	b, ok := SighashByte(sig)
	return ok && b == SighashSingleAnyoneCanPay
}
