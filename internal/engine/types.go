// Package engine implements the core trading engine: the state store
// (C3), the command processor (C4), the liquidation scanner (C5), and the
// snapshot manager (C6) described in spec.md §3-§4. The concurrency
// discipline is the teacher's reader-writer-locked, mutex-protected state
// pattern (core/engine.go, risk/manager.go in the retrieval corpus),
// generalized from a single strategy-driven position map to the full
// leveraged-order state machine spec.md requires.
package engine

import (
	"encoding/json"
	"time"

	"github.com/lev-exchange/engine/internal/money"
)

// Side is the position direction.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// AssetBalance is a non-leveraged spot holding. The core never credits
// it (spec.md §3); it exists only so the wire shape of GET_BALANCE has
// somewhere to read from.
type AssetBalance struct {
	Amount   money.Decimal
	Decimals uint32
}

// MarshalJSON emits the (amount, decimals) tuple as a two-element JSON
// array, matching the snapshot schema's ["<dec>", <u32>] shape
// (spec.md §6) inherited from the Rust original's (Decimal, u32) tuple.
func (b AssetBalance) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{b.Amount, b.Decimals})
}

func (b *AssetBalance) UnmarshalJSON(data []byte) error {
	var tuple [2]json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if err := json.Unmarshal(tuple[0], &b.Amount); err != nil {
		return err
	}
	return json.Unmarshal(tuple[1], &b.Decimals)
}

// User holds USD margin balance and (always-empty, in the core) spot
// asset balances. Created lazily on first reference (spec.md §3).
type User struct {
	USDBalance    money.Decimal            `json:"usd_balance"`
	AssetBalances map[string]AssetBalance  `json:"asset_balances"`
}

// AssetPrice is the last-writer-wins quote for one symbol.
type AssetPrice struct {
	Symbol    string        `json:"symbol"`
	BuyPrice  money.Decimal `json:"buy_price"`
	SellPrice money.Decimal `json:"sell_price"`
	Decimals  uint32        `json:"decimals"`
}

// Mid returns the arithmetic mean of buy and sell, used for unrealized
// PnL display and as the liquidation scanner's trigger price
// (spec.md §4.5, GLOSSARY "Mid price").
func (p AssetPrice) Mid() money.Decimal {
	return p.BuyPrice.Add(p.SellPrice).Div(money.FromInt(2))
}

// Order is an open leveraged position (spec.md §3).
type Order struct {
	OrderID   string        `json:"order_id"`
	UserID    string        `json:"user_id"`
	Asset     string        `json:"asset"`
	Side      Side          `json:"side"`
	Margin    money.Decimal `json:"margin"`
	Leverage  int           `json:"leverage"`
	OpenPrice money.Decimal `json:"open_price"`
	Quantity  money.Decimal `json:"quantity"`
	Timestamp int64         `json:"timestamp"`
}

// LiquidationIndexEntry is one member of a liquidation-price bucket
// (spec.md §3).
type LiquidationIndexEntry struct {
	OrderID          string        `json:"order_id"`
	UserID           string        `json:"user_id"`
	LiquidationPrice money.Decimal `json:"liquidation_price"`
}

// LiquidationPrice computes L(O) from the order's open price and
// leverage: t = 0.9/leverage, L = P(1-t) long / P(1+t) short
// (spec.md §4.5). It is deterministic and recomputable at any time,
// which is what lets the legacy snapshot loader regenerate the index.
func LiquidationPrice(o Order) money.Decimal {
	threshold := money.FromInt(9).Div(money.FromInt(10)).Div(money.FromInt(int64(o.Leverage)))
	one := money.FromInt(1)
	if o.Side == Long {
		return o.OpenPrice.Mul(one.Sub(threshold))
	}
	return o.OpenPrice.Mul(one.Add(threshold))
}

// PnL computes realized profit/loss for an order closing at closePrice
// (spec.md §4.3 step 5, GLOSSARY "PnL").
func PnL(o Order, closePrice money.Decimal) money.Decimal {
	if o.Side == Long {
		return closePrice.Sub(o.OpenPrice).Mul(o.Quantity)
	}
	return o.OpenPrice.Sub(closePrice).Mul(o.Quantity)
}

// Position pairs a live order with its unrealized PnL at mid price
// (spec.md §4.3 get_user_positions).
type Position struct {
	Order         Order         `json:"order"`
	UnrealizedPnL money.Decimal `json:"unrealized_pnl"`
}

// now is the single wall-clock read used for timestamp validation
// (processor.go's CREATE_ORDER window check) and for stamping
// db_queue records.
func now() int64 {
	return time.Now().Unix()
}
