// Package amount implements fixed-point BRC-20 token amount arithmetic.
//
// BRC-20 amounts arrive on the wire as decimal strings with at most 8
// fraction digits (Parse rejects more); the number of integer digits is
// not limited here. They are never treated as float64 —
// every operation here is exact decimal arithmetic via shopspring/decimal,
// matching the Python indexer's use of decimal.Decimal with an explicit
// high-precision context.
package amount

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Precision is the maximum number of significant digits carried through
// arithmetic, matching the Python original's getcontext().prec = 50.
const Precision = 50

var amountPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// ErrInvalidAmount is returned when a wire string fails the amount grammar.
var ErrInvalidAmount = errors.New("invalid amount")

// ErrNegativeResult is returned by Sub when the subtrahend exceeds the
// minuend — BRC-20 balances are never allowed to go negative.
var ErrNegativeResult = errors.New("amount subtraction would be negative")

// Amount is an exact, non-negative BRC-20 token quantity.
type Amount struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Amount{d: decimal.Zero}

// Parse validates and parses a wire amount string. Per protocol rules the
// grammar is `^[0-9]+(\.[0-9]+)?$` — no sign, no scientific notation, no
// leading "+" — with at most 8 fraction digits. mustPositive additionally rejects zero (used for deploy/mint
// amount fields, which the protocol requires strictly positive).
func Parse(s string, mustPositive bool) (Amount, error) {
	if !amountPattern.MatchString(s) {
		return Amount{}, fmt.Errorf("%w: %q does not match amount grammar", ErrInvalidAmount, s)
	}
	if i := strings.IndexByte(s, '.'); i >= 0 && len(s)-i-1 > 8 {
		return Amount{}, fmt.Errorf("%w: %q has more than 8 fraction digits", ErrInvalidAmount, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	if mustPositive && !d.IsPositive() {
		return Amount{}, fmt.Errorf("%w: %q must be strictly positive", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return Amount{}, fmt.Errorf("%w: %q must not be negative", ErrInvalidAmount, s)
	}
	return Amount{d: d}, nil
}

// MustParse is Parse, panicking on error. Intended for literal constants in
// tests and scenario seeds, never for wire input.
func MustParse(s string) Amount {
	a, err := Parse(s, false)
	if err != nil {
		panic(err)
	}
	return a
}

// IsValid reports whether s is a syntactically and semantically valid,
// strictly-positive amount string — mirrors the original's is_valid_amount.
func IsValid(s string) bool {
	_, err := Parse(s, true)
	return err == nil
}

// String renders the amount without scientific notation or padding beyond
// the precision carried through arithmetic, matching format(d, "f").
func (a Amount) String() string {
	return a.d.String()
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool { return a.d.IsZero() }

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return Amount{d: a.d.Add(b.d)}
}

// Sub returns a - b. Returns ErrNegativeResult if the result would be
// negative instead of silently clamping — balances must never go negative,
// and the caller (processor) decides whether that's a hard error or an
// "insufficient balance" business outcome.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.d.LessThan(b.d) {
		return Amount{}, fmt.Errorf("%w: %s - %s", ErrNegativeResult, a, b)
	}
	return Amount{d: a.d.Sub(b.d)}, nil
}

// Cmp returns -1, 0, or 1 as a is less than, equal to, or greater than b.
func (a Amount) Cmp(b Amount) int {
	return a.d.Cmp(b.d)
}

// GreaterThan reports whether a > b.
func (a Amount) GreaterThan(b Amount) bool { return a.Cmp(b) > 0 }

// GreaterOrEqual reports whether a >= b.
func (a Amount) GreaterOrEqual(b Amount) bool { return a.Cmp(b) >= 0 }

// LessThan reports whether a < b.
func (a Amount) LessThan(b Amount) bool { return a.Cmp(b) < 0 }

// LessOrEqual reports whether a <= b.
func (a Amount) LessOrEqual(b Amount) bool { return a.Cmp(b) <= 0 }

// Equal reports whether a == b.
func (a Amount) Equal(b Amount) bool { return a.Cmp(b) == 0 }
