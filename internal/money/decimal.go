// Package money wraps shopspring/decimal in the one place the rest of the
// engine depends on, so arithmetic failures (chiefly division by zero) map
// onto the engine's own error taxonomy instead of the library's panics.
package money

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimal is a signed fixed-point value with at least 28 significant
// digits. Equality, ordering, addition, subtraction and multiplication
// are exact; inexact division through this package's Div rounds
// half-to-even (spec.md §4.1), while the type's own Div method rounds
// ties away from zero.
type Decimal = decimal.Decimal

// DivisionPrecision matches spec.md's "at least 28 significant digits"
// floor and governs the half-even rounding point for inexact division.
const DivisionPrecision = 28

func init() {
	decimal.DivisionPrecision = DivisionPrecision
}

// ArithmeticError reports a failed decimal operation (spec.md §4.1, §7).
type ArithmeticError struct {
	Op  string
	Msg string
}

func (e *ArithmeticError) Error() string {
	return fmt.Sprintf("arithmetic error in %s: %s", e.Op, e.Msg)
}

// Zero is the additive identity.
var Zero = decimal.Zero

// Parse parses a canonical decimal string or a plain numeric string.
func Parse(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, &ArithmeticError{Op: "parse", Msg: err.Error()}
	}
	return d, nil
}

// FromInt builds a Decimal from an integer amount.
func FromInt(n int64) Decimal {
	return decimal.NewFromInt(n)
}

// Div divides a by b, failing with ArithmeticError on division by zero.
// Exact quotients are returned exactly; inexact quotients are rounded
// half-to-even at DivisionPrecision decimal places (spec.md §4.1).
// shopspring/decimal's own DivRound rounds ties away from zero, not to
// even, so the exact quotient is computed via big.Rat and the tie-break
// is applied by hand.
func Div(a, b Decimal) (Decimal, error) {
	if b.IsZero() {
		return Decimal{}, &ArithmeticError{Op: "div", Msg: "division by zero"}
	}

	aRat := a.Rat()
	bRat := b.Rat()

	num := new(big.Int).Mul(aRat.Num(), bRat.Denom())
	den := new(big.Int).Mul(aRat.Denom(), bRat.Num())

	negative := (num.Sign() < 0) != (den.Sign() < 0)
	num.Abs(num)
	den.Abs(den)

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(DivisionPrecision), nil)
	num.Mul(num, scale)

	quot, rem := new(big.Int).QuoRem(num, den, new(big.Int))

	twiceRem := new(big.Int).Lsh(rem, 1)
	switch twiceRem.Cmp(den) {
	case 1:
		quot.Add(quot, big.NewInt(1))
	case 0:
		if quot.Bit(0) == 1 {
			quot.Add(quot, big.NewInt(1))
		}
	}

	if negative {
		quot.Neg(quot)
	}

	return decimal.NewFromBigInt(quot, -int32(DivisionPrecision)), nil
}

// CanonicalString returns the canonical (no-exponent) decimal string used
// both for wire output and as the liquidation-index bucket key
// (spec.md §6 "Price key"). shopspring/decimal's String() already never
// emits exponential notation, so this is the single place that contract
// is asserted and reused.
func CanonicalString(d Decimal) string {
	return d.String()
}

// Compare gives a decimal-aware total order for two canonical strings,
// used to keep the liquidation index's ordered map consistent without
// relying on lexicographic string comparison (spec.md §6, §9).
func Compare(a, b string) (int, error) {
	da, err := Parse(a)
	if err != nil {
		return 0, err
	}
	db, err := Parse(b)
	if err != nil {
		return 0, err
	}
	return da.Cmp(db), nil
}
