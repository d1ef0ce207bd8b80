package engine

import (
	"context"
	"time"

	"github.com/lev-exchange/engine/internal/money"
	"github.com/rs/zerolog/log"
)

// candidate is one order flagged for liquidation during a scan.
type candidate struct {
	orderID string
	userID  string
}

// collectLiquidationCandidates implements the read phase of spec.md
// §4.5's scan algorithm: for every asset with a live price, walk its
// liquidation buckets and flag any order whose liquidation price is
// crossed by the current mid. All reads happen under read locks only;
// nothing is mutated here (mirrors the original engine's
// check_liquidations, which takes read guards on orders and prices and
// returns a plain Vec of ids).
func (s *State) collectLiquidationCandidates() []candidate {
	s.ordersByIDMu.RLock()
	defer s.ordersByIDMu.RUnlock()
	s.liquidationMu.RLock()
	defer s.liquidationMu.RUnlock()
	s.pricesMu.RLock()
	defer s.pricesMu.RUnlock()

	var hits []candidate
	for asset, bucket := range s.liquidation.byAsset {
		price, ok := s.prices[asset]
		if !ok {
			continue
		}
		mid := price.Mid()

		for _, key := range bucket.keys {
			for _, entry := range bucket.entries[key] {
				order, ok := s.ordersByID[entry.OrderID]
				if !ok {
					continue
				}
				if triggered(order.Side, mid, entry.LiquidationPrice) {
					hits = append(hits, candidate{orderID: entry.OrderID, userID: entry.UserID})
				}
			}
		}
	}
	return hits
}

// triggered implements spec.md §4.5's trigger condition: LONG fires when
// mid <= L, SHORT fires when mid >= L.
func triggered(side Side, mid, liquidationPrice money.Decimal) bool {
	if side == Long {
		return mid.LessThanOrEqual(liquidationPrice)
	}
	return mid.GreaterThanOrEqual(liquidationPrice)
}

// Scanner periodically sweeps the liquidation index and forfeits margin
// on any order that has crossed its liquidation price. Modeled on the
// teacher's positionMonitorLoop (core/engine.go): a plain time.Ticker
// driving a stop-check loop, ticks do not accumulate (spec.md §5).
type Scanner struct {
	state  *State
	period time.Duration
}

// NewScanner builds a scanner with the configured period (spec.md §4.5:
// "Periodic task, period 1 s").
func NewScanner(state *State, period time.Duration) *Scanner {
	return &Scanner{state: state, period: period}
}

// Run blocks, ticking every s.period until ctx is canceled. Order-by-
// order OrderNotFound from the mutation phase is tolerated — the order
// may have just been closed by a racing command (spec.md §4.5 tie-break
// rule).
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scanner) tick() {
	hits := s.state.collectLiquidationCandidates()
	for _, c := range hits {
		if err := s.state.LiquidateOrder(c.orderID); err != nil {
			if err == ErrOrderNotFound {
				continue
			}
			log.Error().Err(err).Str("order_id", c.orderID).Msg("liquidation scan: unexpected error")
			continue
		}
		log.Info().Str("order_id", c.orderID).Str("user_id", c.userID).Msg("order liquidated")
	}
}
