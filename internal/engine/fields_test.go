package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseMsg(t *testing.T, raw string) map[string]json.RawMessage {
	t.Helper()
	var msg map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	return msg
}

func TestDecimalFieldAcceptsStringOrNumber(t *testing.T) {
	msg := parseMsg(t, `{"a":"100.5","b":100.5}`)

	a, err := decimalField(msg, "a")
	require.NoError(t, err)
	assert.True(t, a.Equal(dec(t, "100.5")))

	b, err := decimalField(msg, "b")
	require.NoError(t, err)
	assert.True(t, b.Equal(dec(t, "100.5")))
}

func TestDecimalFieldMissingIsError(t *testing.T) {
	msg := parseMsg(t, `{}`)
	_, err := decimalField(msg, "margin")
	assert.Error(t, err)
}

func TestIntFieldAcceptsStringOrNumber(t *testing.T) {
	msg := parseMsg(t, `{"lev":"10","lev2":10}`)

	lev, err := intField(msg, "lev")
	require.NoError(t, err)
	assert.Equal(t, 10, lev)

	lev2, err := intField(msg, "lev2")
	require.NoError(t, err)
	assert.Equal(t, 10, lev2)
}

func TestStringFieldRejectsNonString(t *testing.T) {
	msg := parseMsg(t, `{"x":123}`)
	_, err := stringField(msg, "x")
	assert.Error(t, err)
}

func TestOrderErrorMessageMapsSentinels(t *testing.T) {
	assert.Equal(t, "Insufficient balance", orderErrorMessage(ErrInsufficientBalance))
	assert.Equal(t, "Order not found", orderErrorMessage(ErrOrderNotFound))
}
