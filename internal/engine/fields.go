package engine

import (
	"encoding/json"
	"fmt"

	"github.com/lev-exchange/engine/internal/money"
)

// Numeric fields in incoming commands accept either a JSON number or a
// numeric string (spec.md §4.4, §7) — the original engine's clients send
// decimals as strings to avoid float precision loss, but tests and some
// callers send bare numbers. These helpers normalize both.

func stringField(msg map[string]json.RawMessage, key string) (string, error) {
	raw, ok := msg[key]
	if !ok {
		return "", fmt.Errorf("missing field %q", key)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("field %q: not a string: %w", key, err)
	}
	return s, nil
}

func decimalField(msg map[string]json.RawMessage, key string) (money.Decimal, error) {
	raw, ok := msg[key]
	if !ok {
		return money.Zero, fmt.Errorf("missing field %q", key)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return money.Parse(s)
	}

	var f json.Number
	if err := json.Unmarshal(raw, &f); err != nil {
		return money.Zero, fmt.Errorf("field %q: not a number or numeric string", key)
	}
	return money.Parse(f.String())
}

func intField(msg map[string]json.RawMessage, key string) (int, error) {
	raw, ok := msg[key]
	if !ok {
		return 0, fmt.Errorf("missing field %q", key)
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("field %q: not an integer: %w", key, err)
		}
		return int(i), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("field %q: not a number or numeric string", key)
	}
	var i int
	if _, err := fmt.Sscanf(s, "%d", &i); err != nil {
		return 0, fmt.Errorf("field %q: not an integer string", key)
	}
	return i, nil
}

func int64Field(msg map[string]json.RawMessage, key string) (int64, error) {
	i, err := intField(msg, key)
	if err != nil {
		return 0, err
	}
	return int64(i), nil
}

func uint32Field(msg map[string]json.RawMessage, key string) (uint32, error) {
	i, err := intField(msg, key)
	if err != nil {
		return 0, err
	}
	if i < 0 {
		return 0, fmt.Errorf("field %q: must not be negative", key)
	}
	return uint32(i), nil
}
