package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lev-exchange/engine/internal/broker"
	"github.com/lev-exchange/engine/internal/config"
	"github.com/lev-exchange/engine/internal/money"
	"github.com/rs/zerolog/log"
)

// Processor is the command dispatcher (C4): it consumes JSON messages
// off the orders stream, validates them, mutates State, and emits a
// response plus (for closes) a db_queue side-effect record
// (spec.md §4.4). Grounded on core/engine.go's mainLoop/processTick
// dispatch and the original Rust engine's processor.rs, generalized
// from a tick-driven strategy router to an action-keyed command router.
type Processor struct {
	state  *State
	broker *broker.Broker
	cursor *Cursor
	cfg    *config.Config
}

func NewProcessor(state *State, b *broker.Broker, cursor *Cursor, cfg *config.Config) *Processor {
	return &Processor{state: state, broker: b, cursor: cursor, cfg: cfg}
}

// Run drives the command loop: read, process, advance the cursor, repeat
// (spec.md §4.4 "processing loop invariant"). Transient broker errors are
// retried after the configured backoff (spec.md §4.2, §7).
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		entries, err := p.broker.ReadNext(ctx, p.cfg.OrdersStream, p.cursor.Get(), p.cfg.BrokerReadMax, p.cfg.BrokerReadBlock)
		if err != nil {
			log.Error().Err(err).Msg("failed to read from order stream")
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.broker.RetryBackoff()):
			}
			continue
		}

		for _, entry := range entries {
			p.processEntry(ctx, entry)
			p.cursor.Set(entry.ID)
		}
	}
}

func (p *Processor) processEntry(ctx context.Context, entry broker.Entry) {
	var msg map[string]json.RawMessage
	if err := json.Unmarshal([]byte(entry.Data), &msg); err != nil {
		log.Error().Err(err).Str("entry_id", entry.ID).Msg("malformed command: not a JSON object")
		return
	}

	action, err := stringField(msg, "action")
	if err != nil {
		log.Error().Err(err).Str("entry_id", entry.ID).Msg("malformed command: missing action")
		return
	}

	switch action {
	case "LATEST_PRICE":
		p.handleLatestPrice(msg)
	case "CREATE_ORDER":
		p.handleCreateOrder(ctx, msg)
	case "CLOSE_ORDER":
		p.handleCloseOrder(ctx, msg)
	case "GET_BALANCE_USD":
		p.handleGetBalanceUSD(ctx, msg)
	case "GET_BALANCE":
		p.handleGetBalance(ctx, msg)
	case "GET_SUPPORTED_ASSETS":
		p.handleGetSupportedAssets(ctx, msg)
	case "GET_ORDERS":
		p.handleGetOrders(ctx, msg)
	default:
		log.Warn().Str("action", action).Msg("unknown action")
	}
}

func (p *Processor) handleLatestPrice(msg map[string]json.RawMessage) {
	symbol, err := stringField(msg, "symbol")
	if err != nil {
		log.Error().Err(err).Msg("LATEST_PRICE: missing symbol")
		return
	}
	buyPrice, err := decimalField(msg, "buyPrice")
	if err != nil {
		log.Error().Err(err).Msg("LATEST_PRICE: invalid buyPrice")
		return
	}
	sellPrice, err := decimalField(msg, "sellPrice")
	if err != nil {
		log.Error().Err(err).Msg("LATEST_PRICE: invalid sellPrice")
		return
	}
	decimals, err := uint32Field(msg, "decimals")
	if err != nil {
		log.Error().Err(err).Msg("LATEST_PRICE: invalid decimals")
		return
	}

	p.state.UpdatePrice(AssetPrice{Symbol: symbol, BuyPrice: buyPrice, SellPrice: sellPrice, Decimals: decimals})
}

func (p *Processor) handleCreateOrder(ctx context.Context, msg map[string]json.RawMessage) {
	orderID, err := stringField(msg, "orderId")
	if err != nil {
		log.Error().Err(err).Msg("CREATE_ORDER: missing orderId")
		return
	}

	userID, errUser := stringField(msg, "user")
	asset, errAsset := stringField(msg, "asset")
	orderType, errType := stringField(msg, "type")
	margin, errMargin := decimalField(msg, "margin")
	leverage, errLev := intField(msg, "leverage")
	timestamp, errTS := int64Field(msg, "timestamp")

	if errUser != nil || errAsset != nil || errType != nil || errMargin != nil || errLev != nil || errTS != nil {
		p.replyOrderFailed(ctx, orderID, "malformed CREATE_ORDER request")
		return
	}

	var side Side
	switch orderType {
	case "long":
		side = Long
	case "short":
		side = Short
	default:
		p.replyOrderFailed(ctx, orderID, "invalid order type")
		return
	}

	if leverage <= 0 {
		p.replyOrderFailed(ctx, orderID, "leverage must be positive")
		return
	}
	if margin.Sign() <= 0 {
		p.replyOrderFailed(ctx, orderID, "margin must be positive")
		return
	}

	if diff := now() - timestamp; diff > int64(p.cfg.CreateOrderWindow.Seconds()) || diff < -int64(p.cfg.CreateOrderWindow.Seconds()) {
		p.replyOrderFailed(ctx, orderID, "timestamp too old")
		return
	}

	_, err = p.state.CreateOrder(orderID, userID, asset, side, margin, leverage, timestamp)
	if err != nil {
		p.replyOrderFailed(ctx, orderID, orderErrorMessage(err))
		return
	}

	p.reply(ctx, orderID, map[string]any{
		"action": "ORDER_SUCCESS",
		"data": map[string]any{
			"orderId": orderID,
			"message": "Order created successfully",
		},
	})
}

func (p *Processor) handleCloseOrder(ctx context.Context, msg map[string]json.RawMessage) {
	orderID, err := stringField(msg, "orderId")
	if err != nil {
		log.Error().Err(err).Msg("CLOSE_ORDER: missing orderId")
		return
	}

	pnl, closePrice, err := p.state.CloseOrder(orderID)
	if err != nil {
		p.replyOrderFailed(ctx, orderID, orderErrorMessage(err))
		return
	}

	closeMessage := fmt.Sprintf("Order closed at price %s", money.CanonicalString(closePrice))
	p.reply(ctx, orderID, map[string]any{
		"action": "ORDER_SUCCESS",
		"data": map[string]any{
			"orderId": orderID,
			"pnl":     pnl,
			"message": closeMessage,
		},
	})

	// Successful closes append a SAVE_CLOSED_ORDER record to db_queue;
	// liquidations never do (spec.md §4.4, Open Question in §9 resolved
	// by preserving the original engine's behavior).
	dbPayload, err := json.Marshal(map[string]any{
		"recordId":   uuid.NewString(),
		"action":     "SAVE_CLOSED_ORDER",
		"orderId":    orderID,
		"pnl":        pnl,
		"closePrice": closePrice,
		"timestamp":  now(),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal db_queue payload")
		return
	}
	if _, err := p.broker.Append(ctx, p.cfg.DBQueueStream, string(dbPayload)); err != nil {
		log.Error().Err(err).Msg("failed to append to db_queue")
	}
}

func (p *Processor) handleGetBalanceUSD(ctx context.Context, msg map[string]json.RawMessage) {
	userID, err1 := stringField(msg, "user")
	orderID, err2 := stringField(msg, "orderId")
	if err1 != nil || err2 != nil {
		log.Error().Msg("GET_BALANCE_USD: missing user or orderId")
		return
	}

	p.state.GetOrCreateUser(userID)
	balance, err := p.state.GetUserBalanceUSD(userID)
	if err != nil {
		p.reply(ctx, orderID, map[string]any{
			"action": "BALANCE_FAILED",
			"data":   map[string]any{"message": orderErrorMessage(err)},
		})
		return
	}

	p.reply(ctx, orderID, map[string]any{
		"action": "BALANCE_USD",
		"data":   map[string]any{"balance": balance},
	})
}

func (p *Processor) handleGetBalance(ctx context.Context, msg map[string]json.RawMessage) {
	userID, err1 := stringField(msg, "user")
	orderID, err2 := stringField(msg, "orderId")
	if err1 != nil || err2 != nil {
		log.Error().Msg("GET_BALANCE: missing user or orderId")
		return
	}

	p.state.GetOrCreateUser(userID)
	balances := p.state.GetUserBalance(userID)

	response := map[string]any{"action": "BALANCE"}
	for asset, bal := range balances {
		response[asset] = map[string]any{
			"balance":  bal.Amount,
			"decimals": bal.Decimals,
		}
	}
	p.reply(ctx, orderID, response)
}

func (p *Processor) handleGetSupportedAssets(ctx context.Context, msg map[string]json.RawMessage) {
	orderID, err := stringField(msg, "orderId")
	if err != nil {
		log.Error().Msg("GET_SUPPORTED_ASSETS: missing orderId")
		return
	}

	assets := make([]map[string]any, 0, len(p.cfg.SupportedAssets))
	for _, a := range p.cfg.SupportedAssets {
		assets = append(assets, map[string]any{
			"symbol":   a.Symbol,
			"name":     a.Name,
			"imageUrl": a.ImageURL,
		})
	}

	p.reply(ctx, orderID, map[string]any{
		"action": "SUPPORTED_ASSETS",
		"assets": assets,
	})
}

func (p *Processor) handleGetOrders(ctx context.Context, msg map[string]json.RawMessage) {
	userID, err1 := stringField(msg, "user")
	orderID, err2 := stringField(msg, "orderId")
	if err1 != nil || err2 != nil {
		log.Error().Msg("GET_ORDERS: missing user or orderId")
		return
	}

	p.state.GetOrCreateUser(userID)
	orders := p.state.GetUserOrders(userID)

	p.reply(ctx, orderID, map[string]any{
		"action": "ORDERS",
		"orders": orders,
	})
}

func (p *Processor) replyOrderFailed(ctx context.Context, orderID, message string) {
	p.reply(ctx, orderID, map[string]any{
		"action": "ORDER_FAILED",
		"data": map[string]any{
			"orderId": orderID,
			"message": message,
		},
	})
}

func (p *Processor) reply(ctx context.Context, orderID string, payload map[string]any) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("order_id", orderID).Msg("failed to marshal response")
		return
	}
	if err := p.broker.Publish(ctx, p.cfg.ResponsePrefix+orderID, string(body)); err != nil {
		log.Error().Err(err).Str("order_id", orderID).Msg("failed to publish response")
	}
}

// orderErrorMessage maps the engine error taxonomy (spec.md §7) to the
// user-facing message string carried in ORDER_FAILED/BALANCE_FAILED.
func orderErrorMessage(err error) string {
	switch {
	case Is(err, ErrInsufficientBalance):
		return "Insufficient balance"
	case Is(err, ErrAssetPriceUnavailable):
		return "Asset price not available"
	case Is(err, ErrOrderNotFound):
		return "Order not found"
	case Is(err, ErrUserNotFound):
		return "User not found"
	case Is(err, ErrOrderIDTaken):
		return "Order id already exists"
	default:
		return err.Error()
	}
}
