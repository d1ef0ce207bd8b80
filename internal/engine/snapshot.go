package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/lev-exchange/engine/internal/money"
	"github.com/rs/zerolog/log"
)

// snapshotDoc is the canonical on-disk shape from spec.md §6. LegacyOrders
// carries the pre-index format (user_id -> []Order); when present and
// OrdersByID/LiquidationMap are absent, it triggers the migration path
// spec.md §4.6/§9 describe.
type snapshotDoc struct {
	Users          map[string]*User                          `json:"users"`
	OrdersByID     map[string]Order                           `json:"orders_by_id"`
	OrdersByUser   map[string][]string                         `json:"orders_by_user"`
	LiquidationMap map[string]map[string][]LiquidationIndexEntry `json:"liquidation_map"`
	Prices         map[string]AssetPrice                       `json:"prices"`
	LastProcessedID string                                     `json:"last_processed_id"`
	Timestamp       int64                                      `json:"timestamp"`

	LegacyOrders map[string][]Order `json:"orders,omitempty"`
}

// SnapshotManager owns the periodic checkpoint (C6). Write protocol
// (spec.md §4.6): serialize under a read lock across all tables, write
// to a temp file, fsync, atomic rename — the original engine's
// processor.rs::save_snapshot writes the file directly with no
// temp/rename step; spec.md calls that out as a gap an implementer MUST
// close, which this does.
type SnapshotManager struct {
	state  *State
	cursor *Cursor
	path   string
	period time.Duration
}

func NewSnapshotManager(state *State, cursor *Cursor, path string, period time.Duration) *SnapshotManager {
	return &SnapshotManager{state: state, cursor: cursor, path: path, period: period}
}

// Run ticks every m.period, saving a snapshot each time, until ctx is
// canceled. Save failures are logged and retried on the next tick
// (spec.md §7 SnapshotError); the engine keeps running.
func (m *SnapshotManager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Save(); err != nil {
				log.Error().Err(err).Msg("snapshot save failed")
			}
		}
	}
}

// Save takes a single simultaneous read lock across all five tables —
// the only multi-table read in the system (spec.md §5) — serializes,
// and atomically replaces the snapshot file.
func (m *SnapshotManager) Save() error {
	s := m.state

	s.usersMu.RLock()
	s.ordersByIDMu.RLock()
	s.ordersByUserMu.RLock()
	s.liquidationMu.RLock()
	s.pricesMu.RLock()
	defer s.pricesMu.RUnlock()
	defer s.liquidationMu.RUnlock()
	defer s.ordersByUserMu.RUnlock()
	defer s.ordersByIDMu.RUnlock()
	defer s.usersMu.RUnlock()

	doc := snapshotDoc{
		Users:           make(map[string]*User, len(s.users)),
		OrdersByID:      make(map[string]Order, len(s.ordersByID)),
		OrdersByUser:    make(map[string][]string, len(s.ordersByUser)),
		LiquidationMap:  make(map[string]map[string][]LiquidationIndexEntry, len(s.liquidation.byAsset)),
		Prices:          make(map[string]AssetPrice, len(s.prices)),
		LastProcessedID: m.cursor.Get(),
		Timestamp:       time.Now().Unix(),
	}

	for id, u := range s.users {
		cp := *u
		doc.Users[id] = &cp
	}
	for id, o := range s.ordersByID {
		doc.OrdersByID[id] = o
	}
	for user, ids := range s.ordersByUser {
		cp := make([]string, len(ids))
		copy(cp, ids)
		doc.OrdersByUser[user] = cp
	}
	for asset, bucket := range s.liquidation.byAsset {
		byKey := make(map[string][]LiquidationIndexEntry, len(bucket.keys))
		for key, entries := range bucket.entries {
			cp := make([]LiquidationIndexEntry, len(entries))
			copy(cp, entries)
			byKey[key] = cp
		}
		doc.LiquidationMap[asset] = byKey
	}
	for symbol, p := range s.prices {
		doc.Prices[symbol] = p
	}

	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	log.Info().
		Int("users", len(doc.Users)).
		Int("orders", len(doc.OrdersByID)).
		Int("prices", len(doc.Prices)).
		Msg("saving snapshot")

	return writeAtomic(m.path, payload)
}

// writeAtomic writes data to a temp file beside path, fsyncs it, then
// renames it onto path — the crash-consistency step spec.md §4.6
// mandates.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// Load restores state from m.path before the command loop begins
// (spec.md §4.6). A missing or unparseable file starts the engine
// empty and logs — it is never fatal. Returns the last_processed_id to
// resume from (the processor then starts reading strictly after it).
func (m *SnapshotManager) Load() (lastProcessedID string, err error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Msg("no snapshot found, starting fresh")
			return "", nil
		}
		log.Warn().Err(err).Msg("snapshot unreadable, starting fresh")
		return "", nil
	}

	var doc snapshotDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		log.Warn().Err(err).Msg("snapshot unparseable, starting fresh")
		return "", nil
	}

	s := m.state
	s.usersMu.Lock()
	s.ordersByIDMu.Lock()
	s.ordersByUserMu.Lock()
	s.liquidationMu.Lock()
	defer s.liquidationMu.Unlock()
	defer s.ordersByUserMu.Unlock()
	defer s.ordersByIDMu.Unlock()
	defer s.usersMu.Unlock()

	if doc.Users != nil {
		s.users = doc.Users
		log.Info().Int("count", len(s.users)).Msg("restored users from snapshot")
	}

	usingLegacy := doc.OrdersByID == nil && doc.LiquidationMap == nil && doc.LegacyOrders != nil
	if usingLegacy {
		log.Info().Msg("legacy snapshot format detected, rebuilding order indices")
		s.ordersByID = make(map[string]Order)
		s.ordersByUser = make(map[string][]string)
		s.liquidation = newLiquidationIndex()

		for _, userOrders := range doc.LegacyOrders {
			for _, o := range userOrders {
				s.ordersByID[o.OrderID] = o
				s.ordersByUser[o.UserID] = append(s.ordersByUser[o.UserID], o.OrderID)

				liqPrice := LiquidationPrice(o)
				s.liquidation.insert(o.Asset, money.CanonicalString(liqPrice), LiquidationIndexEntry{
					OrderID:          o.OrderID,
					UserID:           o.UserID,
					LiquidationPrice: liqPrice,
				})
			}
		}
		log.Info().Int("count", len(s.ordersByID)).Msg("converted legacy orders to indexed format")
	} else {
		if doc.OrdersByID != nil {
			s.ordersByID = doc.OrdersByID
			log.Info().Int("count", len(s.ordersByID)).Msg("restored orders_by_id from snapshot")
		}
		if doc.OrdersByUser != nil {
			s.ordersByUser = doc.OrdersByUser
			log.Info().Msg("restored orders_by_user from snapshot")
		}
		if doc.LiquidationMap != nil {
			idx := newLiquidationIndex()
			for asset, byKey := range doc.LiquidationMap {
				bucket := newPriceBucket()
				for key, entries := range byKey {
					bucket.keys = append(bucket.keys, key)
					bucket.entries[key] = entries
				}
				sortBucketKeys(bucket)
				idx.byAsset[asset] = bucket
			}
			s.liquidation = idx
			log.Info().Msg("restored liquidation_map from snapshot")
		} else if doc.OrdersByID != nil {
			// New format without a liquidation_map is a rebuild trigger,
			// not an error (spec.md §9).
			log.Warn().Msg("snapshot missing liquidation_map, rebuilding from orders_by_id")
			idx := newLiquidationIndex()
			for _, o := range s.ordersByID {
				liqPrice := LiquidationPrice(o)
				idx.insert(o.Asset, money.CanonicalString(liqPrice), LiquidationIndexEntry{
					OrderID:          o.OrderID,
					UserID:           o.UserID,
					LiquidationPrice: liqPrice,
				})
			}
			s.liquidation = idx
		}
	}

	if doc.Prices != nil {
		s.pricesMu.Lock()
		s.prices = doc.Prices
		s.pricesMu.Unlock()
		log.Info().Int("count", len(s.prices)).Msg("restored prices from snapshot")
	}

	if doc.LastProcessedID != "" {
		log.Info().Str("last_processed_id", doc.LastProcessedID).Msg("restored last processed id")
	}

	return doc.LastProcessedID, nil
}

func sortBucketKeys(b *priceBucket) {
	// Re-derive sorted order via repeated insertion so the decimal-aware
	// comparator (not raw string order) governs key placement, matching
	// the ordering invariant insert() maintains on the write path
	// (spec.md §6, §9).
	keys := b.keys
	b.keys = nil
	for _, k := range keys {
		i := b.search(k)
		b.keys = append(b.keys, "")
		copy(b.keys[i+1:], b.keys[i:])
		b.keys[i] = k
	}
}
