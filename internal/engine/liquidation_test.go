package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScannerRunLiquidatesOnTick(t *testing.T) {
	s := newTestState(t)
	s.UpdatePrice(AssetPrice{Symbol: "BTC", BuyPrice: dec(t, "100"), SellPrice: dec(t, "99"), Decimals: 2})
	_, err := s.CreateOrder("o1", "alice", "BTC", Long, dec(t, "100"), 10, 1000)
	require.NoError(t, err)

	s.UpdatePrice(AssetPrice{Symbol: "BTC", BuyPrice: dec(t, "91"), SellPrice: dec(t, "90"), Decimals: 2})

	scanner := NewScanner(s, 10*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	scanner.Run(ctx)

	orders := s.GetUserOrders("alice")
	assert.Empty(t, orders, "liquidation scan should have closed the triggered order")
}

func TestTriggeredLongAndShort(t *testing.T) {
	assert.True(t, triggered(Long, dec(t, "90"), dec(t, "91")))
	assert.False(t, triggered(Long, dec(t, "92"), dec(t, "91")))
	assert.True(t, triggered(Short, dec(t, "92"), dec(t, "91")))
	assert.False(t, triggered(Short, dec(t, "90"), dec(t, "91")))
}
