package engine

import (
	"sort"

	"github.com/lev-exchange/engine/internal/money"
)

// priceBucket holds every order whose liquidation price canonicalizes to
// the same key, plus the asset's keys kept in decimal-aware sorted order
// so a future range scan (spec.md §4.3 "the structure ... must support
// the range form") can binary-search into it. The current scanner
// (spec.md §4.5) still walks every bucket, but the ordering invariant is
// maintained regardless.
type priceBucket struct {
	keys    []string
	entries map[string][]LiquidationIndexEntry
}

func newPriceBucket() *priceBucket {
	return &priceBucket{entries: make(map[string][]LiquidationIndexEntry)}
}

func (b *priceBucket) insert(key string, entry LiquidationIndexEntry) {
	if _, exists := b.entries[key]; !exists {
		i := b.search(key)
		b.keys = append(b.keys, "")
		copy(b.keys[i+1:], b.keys[i:])
		b.keys[i] = key
	}
	b.entries[key] = append(b.entries[key], entry)
}

// remove deletes the entry for orderID under key, dropping the key (and,
// by the caller, the asset) if its bucket becomes empty
// (spec.md §3 invariant 6).
func (b *priceBucket) remove(key, orderID string) {
	list, ok := b.entries[key]
	if !ok {
		return
	}
	for i, e := range list {
		if e.OrderID == orderID {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(b.entries, key)
		i := b.search(key)
		if i < len(b.keys) && b.keys[i] == key {
			b.keys = append(b.keys[:i], b.keys[i+1:]...)
		}
		return
	}
	b.entries[key] = list
}

func (b *priceBucket) isEmpty() bool {
	return len(b.keys) == 0
}

// search returns the index where key belongs among b.keys in
// decimal-aware ascending order (spec.md §6 "Price key").
func (b *priceBucket) search(key string) int {
	return sort.Search(len(b.keys), func(i int) bool {
		cmp, err := money.Compare(b.keys[i], key)
		if err != nil {
			return b.keys[i] >= key
		}
		return cmp >= 0
	})
}

// liquidationIndex is asset -> priceBucket (spec.md §3, §4.3).
type liquidationIndex struct {
	byAsset map[string]*priceBucket
}

func newLiquidationIndex() *liquidationIndex {
	return &liquidationIndex{byAsset: make(map[string]*priceBucket)}
}

func (idx *liquidationIndex) insert(asset, key string, entry LiquidationIndexEntry) {
	bucket, ok := idx.byAsset[asset]
	if !ok {
		bucket = newPriceBucket()
		idx.byAsset[asset] = bucket
	}
	bucket.insert(key, entry)
}

func (idx *liquidationIndex) remove(asset, key, orderID string) {
	bucket, ok := idx.byAsset[asset]
	if !ok {
		return
	}
	bucket.remove(key, orderID)
	if bucket.isEmpty() {
		delete(idx.byAsset, asset)
	}
}
