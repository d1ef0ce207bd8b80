//go:build integration

package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/lev-exchange/engine/internal/broker"
	"github.com/lev-exchange/engine/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests exercise the command processor end-to-end against a real
// Redis instance, the same way rate-limiter/tests/integration_test.go
// and the hyperliquid_integration_test.go suite drive their subjects
// against live infrastructure rather than a mock. Run with
// `go test -tags=integration ./internal/engine/...` against a Redis
// reachable at 127.0.0.1:6379.
const (
	testRedisAddr = "127.0.0.1:6379"
	testRedisDB   = 15
)

func newTestProcessor(t *testing.T) (*Processor, *redis.Client) {
	t.Helper()

	raw := redis.NewClient(&redis.Options{Addr: testRedisAddr, DB: testRedisDB})
	require.NoError(t, raw.FlushDB(context.Background()).Err(), "redis must be reachable at 127.0.0.1:6379")
	t.Cleanup(func() { raw.Close() })

	cfg := &config.Config{
		OrdersStream:       "orders",
		DBQueueStream:      "db_queue",
		ResponsePrefix:     "response:",
		BrokerReadMax:      10,
		BrokerReadBlock:    100 * time.Millisecond,
		BrokerRetryBackoff: 100 * time.Millisecond,
		CreateOrderWindow:  5 * time.Second,
		NewUserBalance:     dec(t, "5000"),
	}

	b := broker.New(testRedisAddr, testRedisDB, cfg.BrokerRetryBackoff)
	t.Cleanup(func() { b.Close() })

	state := New(cfg.NewUserBalance)
	return NewProcessor(state, b, &Cursor{}, cfg), raw
}

func subscribeResponse(t *testing.T, raw *redis.Client, orderID string) *redis.PubSub {
	t.Helper()
	sub := raw.Subscribe(context.Background(), "response:"+orderID)
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })
	return sub
}

func recvResponse(t *testing.T, sub *redis.PubSub) map[string]any {
	t.Helper()
	select {
	case msg := <-sub.Channel():
		var out map[string]any
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &out))
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a response")
		return nil
	}
}

func entry(t *testing.T, id string, fields map[string]any) broker.Entry {
	t.Helper()
	body, err := json.Marshal(fields)
	require.NoError(t, err)
	return broker.Entry{ID: id, Data: string(body)}
}

func TestProcessEntryCreateOrderSuccess(t *testing.T) {
	p, raw := newTestProcessor(t)
	p.state.UpdatePrice(AssetPrice{Symbol: "BTC", BuyPrice: dec(t, "100"), SellPrice: dec(t, "99"), Decimals: 2})

	sub := subscribeResponse(t, raw, "o1")

	p.processEntry(context.Background(), entry(t, "1-0", map[string]any{
		"action": "CREATE_ORDER", "orderId": "o1", "user": "alice", "asset": "BTC",
		"type": "long", "margin": "100", "leverage": 10, "timestamp": now(),
	}))

	resp := recvResponse(t, sub)
	assert.Equal(t, "ORDER_SUCCESS", resp["action"])
	data := resp["data"].(map[string]any)
	assert.Equal(t, "o1", data["orderId"])

	balance, err := p.state.GetUserBalanceUSD("alice")
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec(t, "4900")))
}

func TestProcessEntryCreateOrderStaleTimestampRejected(t *testing.T) {
	p, raw := newTestProcessor(t)
	p.state.UpdatePrice(AssetPrice{Symbol: "BTC", BuyPrice: dec(t, "100"), SellPrice: dec(t, "99"), Decimals: 2})

	sub := subscribeResponse(t, raw, "o1")

	p.processEntry(context.Background(), entry(t, "1-0", map[string]any{
		"action": "CREATE_ORDER", "orderId": "o1", "user": "alice", "asset": "BTC",
		"type": "long", "margin": "100", "leverage": 10, "timestamp": now() - 3600,
	}))

	resp := recvResponse(t, sub)
	assert.Equal(t, "ORDER_FAILED", resp["action"])
	data := resp["data"].(map[string]any)
	assert.Equal(t, "timestamp too old", data["message"])

	orders := p.state.GetUserOrders("alice")
	assert.Empty(t, orders, "a stale-timestamp order must never be created")
}

func TestProcessEntryCreateOrderInsufficientBalanceRejected(t *testing.T) {
	p, raw := newTestProcessor(t)
	p.state.UpdatePrice(AssetPrice{Symbol: "BTC", BuyPrice: dec(t, "100"), SellPrice: dec(t, "99"), Decimals: 2})

	sub := subscribeResponse(t, raw, "o1")

	p.processEntry(context.Background(), entry(t, "1-0", map[string]any{
		"action": "CREATE_ORDER", "orderId": "o1", "user": "alice", "asset": "BTC",
		"type": "long", "margin": "10000", "leverage": 10, "timestamp": now(),
	}))

	resp := recvResponse(t, sub)
	assert.Equal(t, "ORDER_FAILED", resp["action"])
	data := resp["data"].(map[string]any)
	assert.Equal(t, "Insufficient balance", data["message"])
}

func TestProcessEntryCreateOrderDuplicateIDRejected(t *testing.T) {
	p, raw := newTestProcessor(t)
	p.state.UpdatePrice(AssetPrice{Symbol: "BTC", BuyPrice: dec(t, "100"), SellPrice: dec(t, "99"), Decimals: 2})

	msg := map[string]any{
		"action": "CREATE_ORDER", "orderId": "o1", "user": "alice", "asset": "BTC",
		"type": "long", "margin": "10", "leverage": 10, "timestamp": now(),
	}

	sub1 := subscribeResponse(t, raw, "o1")
	p.processEntry(context.Background(), entry(t, "1-0", msg))
	first := recvResponse(t, sub1)
	assert.Equal(t, "ORDER_SUCCESS", first["action"])
	sub1.Close()

	sub2 := subscribeResponse(t, raw, "o1")
	p.processEntry(context.Background(), entry(t, "2-0", msg))
	second := recvResponse(t, sub2)
	assert.Equal(t, "ORDER_FAILED", second["action"])
	data := second["data"].(map[string]any)
	assert.Equal(t, "Order id already exists", data["message"])
}

func TestProcessEntryCloseOrderEmitsDBQueueRecordOnlyOnClose(t *testing.T) {
	p, raw := newTestProcessor(t)
	p.state.UpdatePrice(AssetPrice{Symbol: "BTC", BuyPrice: dec(t, "100"), SellPrice: dec(t, "99"), Decimals: 2})

	createSub := subscribeResponse(t, raw, "o1")
	p.processEntry(context.Background(), entry(t, "1-0", map[string]any{
		"action": "CREATE_ORDER", "orderId": "o1", "user": "alice", "asset": "BTC",
		"type": "long", "margin": "100", "leverage": 10, "timestamp": now(),
	}))
	recvResponse(t, createSub)
	createSub.Close()

	// Other command types must never append to db_queue.
	p.processEntry(context.Background(), entry(t, "2-0", map[string]any{
		"action": "GET_BALANCE_USD", "user": "alice", "orderId": "bal-1",
	}))

	entries, err := raw.XRange(context.Background(), "db_queue", "-", "+").Result()
	require.NoError(t, err)
	assert.Empty(t, entries, "db_queue must stay empty until a CLOSE_ORDER is processed")

	p.state.UpdatePrice(AssetPrice{Symbol: "BTC", BuyPrice: dec(t, "121"), SellPrice: dec(t, "120"), Decimals: 2})

	closeSub := subscribeResponse(t, raw, "o1")
	p.processEntry(context.Background(), entry(t, "3-0", map[string]any{
		"action": "CLOSE_ORDER", "orderId": "o1",
	}))
	resp := recvResponse(t, closeSub)
	assert.Equal(t, "ORDER_SUCCESS", resp["action"])

	entries, err = raw.XRange(context.Background(), "db_queue", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1, "exactly one db_queue record must be appended for the close")

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(entries[0].Values["data"].(string)), &record))
	assert.Equal(t, "SAVE_CLOSED_ORDER", record["action"])
	assert.Equal(t, "o1", record["orderId"])
	assert.NotEmpty(t, record["recordId"])
}

func TestProcessEntryCloseOrderUnknownFails(t *testing.T) {
	p, raw := newTestProcessor(t)
	sub := subscribeResponse(t, raw, "ghost")

	p.processEntry(context.Background(), entry(t, "1-0", map[string]any{
		"action": "CLOSE_ORDER", "orderId": "ghost",
	}))

	resp := recvResponse(t, sub)
	assert.Equal(t, "ORDER_FAILED", resp["action"])
	data := resp["data"].(map[string]any)
	assert.Equal(t, "Order not found", data["message"])
}

func TestProcessEntryGetSupportedAssetsShape(t *testing.T) {
	p, raw := newTestProcessor(t)
	p.cfg.SupportedAssets = []config.SupportedAsset{
		{Symbol: "BTC", Name: "Bitcoin", ImageURL: "https://example.com/btc.png"},
	}

	sub := subscribeResponse(t, raw, "req-1")
	p.processEntry(context.Background(), entry(t, "1-0", map[string]any{
		"action": "GET_SUPPORTED_ASSETS", "orderId": "req-1",
	}))

	resp := recvResponse(t, sub)
	assert.Equal(t, "SUPPORTED_ASSETS", resp["action"])
	assets := resp["assets"].([]any)
	require.Len(t, assets, 1)
	asset := assets[0].(map[string]any)
	assert.Equal(t, "BTC", asset["symbol"])
	assert.Equal(t, "Bitcoin", asset["name"])
	assert.Equal(t, "https://example.com/btc.png", asset["imageUrl"])
}

func TestProcessEntryGetOrdersTopLevelKey(t *testing.T) {
	p, raw := newTestProcessor(t)
	p.state.UpdatePrice(AssetPrice{Symbol: "BTC", BuyPrice: dec(t, "100"), SellPrice: dec(t, "99"), Decimals: 2})

	createSub := subscribeResponse(t, raw, "o1")
	p.processEntry(context.Background(), entry(t, "1-0", map[string]any{
		"action": "CREATE_ORDER", "orderId": "o1", "user": "alice", "asset": "BTC",
		"type": "long", "margin": "100", "leverage": 10, "timestamp": now(),
	}))
	recvResponse(t, createSub)
	createSub.Close()

	sub := subscribeResponse(t, raw, "req-1")
	p.processEntry(context.Background(), entry(t, "2-0", map[string]any{
		"action": "GET_ORDERS", "user": "alice", "orderId": "req-1",
	}))

	resp := recvResponse(t, sub)
	assert.Equal(t, "ORDERS", resp["action"])
	orders := resp["orders"].([]any)
	require.Len(t, orders, 1)
}

func TestProcessEntryUnknownActionNoResponse(t *testing.T) {
	p, raw := newTestProcessor(t)
	sub := subscribeResponse(t, raw, "req-1")

	p.processEntry(context.Background(), entry(t, "1-0", map[string]any{
		"action": "NOT_A_REAL_ACTION", "orderId": "req-1",
	}))

	select {
	case msg := <-sub.Channel():
		t.Fatalf("expected no response for an unknown action, got %q", msg.Payload)
	case <-time.After(300 * time.Millisecond):
	}
}
