package engine

import (
	"sync"

	"github.com/lev-exchange/engine/internal/money"
)

// State is the single authoritative store (spec.md §3). It presents
// reader-writer semantics over five sub-tables and enforces the fixed
// global lock acquisition order (spec.md §5): users -> orders_by_id ->
// orders_by_user -> liquidation_index -> asset_prices. The teacher's
// engine keeps one coarse mu sync.RWMutex guarding one map
// (core/engine.go, risk/manager.go); this generalizes that to one lock
// per table so the liquidation scanner's read-heavy sweep never blocks
// command processing on unrelated tables.
type State struct {
	usersMu sync.RWMutex
	users   map[string]*User

	ordersByIDMu sync.RWMutex
	ordersByID   map[string]Order

	ordersByUserMu sync.RWMutex
	ordersByUser   map[string][]string // user_id -> order_id, insertion order

	liquidationMu sync.RWMutex
	liquidation   *liquidationIndex

	pricesMu sync.RWMutex
	prices   map[string]AssetPrice

	newUserBalance money.Decimal
}

// New creates an empty State. newUserBalance is the starting USD
// balance lazily credited to a user on first touch (spec.md §3,
// default 5000).
func New(newUserBalance money.Decimal) *State {
	return &State{
		users:        make(map[string]*User),
		ordersByID:   make(map[string]Order),
		ordersByUser: make(map[string][]string),
		liquidation:  newLiquidationIndex(),
		prices:       make(map[string]AssetPrice),

		newUserBalance: newUserBalance,
	}
}

func (s *State) newUser() *User {
	return &User{
		USDBalance:    s.newUserBalance,
		AssetBalances: make(map[string]AssetBalance),
	}
}

// GetOrCreateUser returns a snapshot of the user, creating it with the
// configured starting balance if absent (spec.md §4.3).
func (s *State) GetOrCreateUser(userID string) User {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	return s.getOrCreateUserLocked(userID)
}

func (s *State) getOrCreateUserLocked(userID string) User {
	u, ok := s.users[userID]
	if !ok {
		u = s.newUser()
		s.users[userID] = u
	}
	return *u
}

// UpdatePrice upserts the latest quote for a symbol (spec.md §4.3).
func (s *State) UpdatePrice(p AssetPrice) {
	s.pricesMu.Lock()
	defer s.pricesMu.Unlock()
	s.prices[p.Symbol] = p
}

// GetPrice returns the current quote for symbol, if any.
func (s *State) GetPrice(symbol string) (AssetPrice, bool) {
	s.pricesMu.RLock()
	defer s.pricesMu.RUnlock()
	p, ok := s.prices[symbol]
	return p, ok
}

// CreateOrder implements spec.md §4.3 create_order. Apart from lazily
// creating the user (which happens before the balance check), it never
// mutates state on an error path (invariant: InsufficientBalance leaves
// the user's balance untouched).
func (s *State) CreateOrder(orderID, userID, asset string, side Side, margin money.Decimal, leverage int, timestamp int64) (Order, error) {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	s.ordersByIDMu.Lock()
	defer s.ordersByIDMu.Unlock()
	s.ordersByUserMu.Lock()
	defer s.ordersByUserMu.Unlock()
	s.liquidationMu.Lock()
	defer s.liquidationMu.Unlock()

	if _, exists := s.ordersByID[orderID]; exists {
		return Order{}, ErrOrderIDTaken
	}

	// asset_prices is acquired last, nested inside the write locks above,
	// per spec.md §5's "acquired last" option.
	s.pricesMu.RLock()
	price, ok := s.prices[asset]
	s.pricesMu.RUnlock()
	if !ok {
		return Order{}, ErrAssetPriceUnavailable
	}

	var openPrice money.Decimal
	if side == Long {
		openPrice = price.BuyPrice
	} else {
		openPrice = price.SellPrice
	}

	quantity, err := money.Div(margin.Mul(money.FromInt(int64(leverage))), openPrice)
	if err != nil {
		return Order{}, ErrAssetPriceUnavailable
	}

	user := s.getOrCreateUserLocked(userID)
	if user.USDBalance.LessThan(margin) {
		return Order{}, ErrInsufficientBalance
	}

	order := Order{
		OrderID:   orderID,
		UserID:    userID,
		Asset:     asset,
		Side:      side,
		Margin:    margin,
		Leverage:  leverage,
		OpenPrice: openPrice,
		Quantity:  quantity,
		Timestamp: timestamp,
	}

	u := s.users[userID]
	u.USDBalance = u.USDBalance.Sub(margin)

	s.ordersByID[orderID] = order
	s.ordersByUser[userID] = append(s.ordersByUser[userID], orderID)

	liqPrice := LiquidationPrice(order)
	s.liquidation.insert(asset, money.CanonicalString(liqPrice), LiquidationIndexEntry{
		OrderID:          orderID,
		UserID:           userID,
		LiquidationPrice: liqPrice,
	})

	return order, nil
}

// removeOrderLocked drops order from all three order indices. Caller
// must hold ordersByIDMu, ordersByUserMu, and liquidationMu for writing.
func (s *State) removeOrderLocked(order Order) {
	delete(s.ordersByID, order.OrderID)

	bucket := s.ordersByUser[order.UserID]
	for i, id := range bucket {
		if id == order.OrderID {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(s.ordersByUser, order.UserID)
	} else {
		s.ordersByUser[order.UserID] = bucket
	}

	liqPrice := LiquidationPrice(order)
	s.liquidation.remove(order.Asset, money.CanonicalString(liqPrice), order.OrderID)
}

// CloseOrder implements spec.md §4.3 close_order: remove the order from
// every index first, then price and credit. Mirrors the original
// engine's balance_manager.rs close_order, which removes before pricing
// too — a closed order is never restored even if pricing then fails.
func (s *State) CloseOrder(orderID string) (pnl money.Decimal, closePrice money.Decimal, err error) {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	s.ordersByIDMu.Lock()
	defer s.ordersByIDMu.Unlock()
	s.ordersByUserMu.Lock()
	defer s.ordersByUserMu.Unlock()
	s.liquidationMu.Lock()
	defer s.liquidationMu.Unlock()

	order, ok := s.ordersByID[orderID]
	if !ok {
		return money.Zero, money.Zero, ErrOrderNotFound
	}
	s.removeOrderLocked(order)

	s.pricesMu.RLock()
	price, ok := s.prices[order.Asset]
	s.pricesMu.RUnlock()
	if !ok {
		return money.Zero, money.Zero, ErrAssetPriceUnavailable
	}

	if order.Side == Long {
		closePrice = price.SellPrice
	} else {
		closePrice = price.BuyPrice
	}
	pnl = PnL(order, closePrice)

	u, ok := s.users[order.UserID]
	if !ok {
		return money.Zero, money.Zero, ErrUserNotFound
	}
	u.USDBalance = u.USDBalance.Add(order.Margin).Add(pnl)

	return pnl, closePrice, nil
}

// LiquidateOrder implements spec.md §4.3 liquidate_order: same index
// removal as close, but the margin is forfeit (no credit).
func (s *State) LiquidateOrder(orderID string) error {
	s.ordersByIDMu.Lock()
	defer s.ordersByIDMu.Unlock()
	s.ordersByUserMu.Lock()
	defer s.ordersByUserMu.Unlock()
	s.liquidationMu.Lock()
	defer s.liquidationMu.Unlock()

	order, ok := s.ordersByID[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	s.removeOrderLocked(order)
	return nil
}

// GetUserBalanceUSD returns the user's cash balance.
func (s *State) GetUserBalanceUSD(userID string) (money.Decimal, error) {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return money.Zero, ErrUserNotFound
	}
	return u.USDBalance, nil
}

// GetUserBalance returns only the non-leveraged spot asset_balances
// (spec.md §4.3 — intentionally not positions).
func (s *State) GetUserBalance(userID string) map[string]AssetBalance {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return map[string]AssetBalance{}
	}
	out := make(map[string]AssetBalance, len(u.AssetBalances))
	for k, v := range u.AssetBalances {
		out[k] = v
	}
	return out
}

// GetUserOrders returns the live orders for userID.
func (s *State) GetUserOrders(userID string) []Order {
	s.ordersByIDMu.RLock()
	defer s.ordersByIDMu.RUnlock()
	s.ordersByUserMu.RLock()
	defer s.ordersByUserMu.RUnlock()

	ids := s.ordersByUser[userID]
	orders := make([]Order, 0, len(ids))
	for _, id := range ids {
		if o, ok := s.ordersByID[id]; ok {
			orders = append(orders, o)
		}
	}
	return orders
}

// GetUserPositions returns each live order with its unrealized PnL at
// mid price (spec.md §4.3).
func (s *State) GetUserPositions(userID string) []Position {
	s.ordersByIDMu.RLock()
	defer s.ordersByIDMu.RUnlock()
	s.ordersByUserMu.RLock()
	defer s.ordersByUserMu.RUnlock()
	s.pricesMu.RLock()
	defer s.pricesMu.RUnlock()

	ids := s.ordersByUser[userID]
	positions := make([]Position, 0, len(ids))
	for _, id := range ids {
		o, ok := s.ordersByID[id]
		if !ok {
			continue
		}
		price, ok := s.prices[o.Asset]
		if !ok {
			continue
		}
		positions = append(positions, Position{Order: o, UnrealizedPnL: PnL(o, price.Mid())})
	}
	return positions
}
