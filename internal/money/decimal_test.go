package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDivByZero(t *testing.T) {
	_, err := Div(FromInt(10), Zero)
	require.Error(t, err)
	var arithErr *ArithmeticError
	require.ErrorAs(t, err, &arithErr)
	assert.Equal(t, "div", arithErr.Op)
}

func TestDivExact(t *testing.T) {
	q, err := Div(FromInt(10), FromInt(2))
	require.NoError(t, err)
	assert.True(t, q.Equal(FromInt(5)))
}

func TestDivTieRoundsUpToEvenDigit(t *testing.T) {
	// 3 / (2*10^28) = 1.5 * 10^-28: the 28th decimal digit is 1 (odd) and
	// the exact remainder beyond it is precisely half the divisor, so
	// half-to-even rounds the 28th digit up to 2.
	b, err := Parse("20000000000000000000000000000")
	require.NoError(t, err)
	q, err := Div(FromInt(3), b)
	require.NoError(t, err)

	expected, err := Parse("0.0000000000000000000000000002")
	require.NoError(t, err)
	assert.True(t, q.Equal(expected), "got %s", q.String())
}

func TestDivTieOnEvenDigitStaysPut(t *testing.T) {
	// 5 / (2*10^28) = 2.5 * 10^-28: the 28th digit is 2 (already even) and
	// the remainder is again exactly half, so half-to-even leaves it.
	b, err := Parse("20000000000000000000000000000")
	require.NoError(t, err)
	q, err := Div(FromInt(5), b)
	require.NoError(t, err)

	expected, err := Parse("0.0000000000000000000000000002")
	require.NoError(t, err)
	assert.True(t, q.Equal(expected), "got %s", q.String())
}

func TestDivNonTieRoundsNormally(t *testing.T) {
	q, err := Div(FromInt(1), FromInt(3))
	require.NoError(t, err)
	assert.Equal(t, DivisionPrecision, len(q.String())-2)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("not-a-number")
	require.Error(t, err)
}

func TestCanonicalStringNoExponent(t *testing.T) {
	d, err := Parse("0.00001")
	require.NoError(t, err)
	assert.NotContains(t, CanonicalString(d), "e")
	assert.NotContains(t, CanonicalString(d), "E")
}

func TestCompareOrdersByValueNotLexicographically(t *testing.T) {
	// "9" > "10" lexicographically but not numerically.
	cmp, err := Compare("9", "10")
	require.NoError(t, err)
	assert.Equal(t, -1, cmp)
}
