// Package marketdata maintains per-symbol order book snapshots polled from
// a backend. The connector reads best prices and walks depth to convert
// market requests into priced orders.
package marketdata

import (
	"context"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/nikolaydubina/fpdecimal"

	"github.com/erain9/batchingo/pkg/core"
)

// Level is one price level of a book side
type Level struct {
	Price    fpdecimal.Decimal
	Quantity fpdecimal.Decimal
}

// Snapshot is a full view of one symbol's book at a point in time
type Snapshot struct {
	Symbol string
	Bids   []Level
	Asks   []Level
	At     time.Time
}

// BookSource produces book snapshots. The REST and memory backends
// implement it.
type BookSource interface {
	BookSnapshot(ctx context.Context, symbol string) (Snapshot, error)
}

type bidItem struct {
	level Level
}

// Bids sort descending: highest price first
func (b *bidItem) Less(than btree.Item) bool {
	return b.level.Price.GreaterThan(than.(*bidItem).level.Price)
}

type askItem struct {
	level Level
}

// Asks sort ascending: lowest price first
func (a *askItem) Less(than btree.Item) bool {
	return a.level.Price.LessThan(than.(*askItem).level.Price)
}

// Book holds one symbol's bid and ask levels, rebuilt from snapshots
type Book struct {
	mu        sync.RWMutex
	symbol    string
	bids      *btree.BTree
	asks      *btree.BTree
	updatedAt time.Time
}

// NewBook creates an empty book for a symbol
func NewBook(symbol string) *Book {
	return &Book{
		symbol: symbol,
		bids:   btree.New(32),
		asks:   btree.New(32),
	}
}

// Symbol returns the pair the book tracks
func (b *Book) Symbol() string {
	return b.symbol
}

// Apply replaces the book contents with a snapshot
func (b *Book) Apply(snap Snapshot) {
	bids := btree.New(32)
	for _, lvl := range snap.Bids {
		bids.ReplaceOrInsert(&bidItem{level: lvl})
	}
	asks := btree.New(32)
	for _, lvl := range snap.Asks {
		asks.ReplaceOrInsert(&askItem{level: lvl})
	}

	at := snap.At
	if at.IsZero() {
		at = time.Now()
	}

	b.mu.Lock()
	b.bids = bids
	b.asks = asks
	b.updatedAt = at
	b.mu.Unlock()
}

// UpdatedAt returns when the last snapshot was applied
func (b *Book) UpdatedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updatedAt
}

// BestBid returns the highest bid level
func (b *Book) BestBid() (Level, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	item := b.bids.Min()
	if item == nil {
		return Level{}, false
	}
	return item.(*bidItem).level, true
}

// BestAsk returns the lowest ask level
func (b *Book) BestAsk() (Level, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	item := b.asks.Min()
	if item == nil {
		return Level{}, false
	}
	return item.(*askItem).level, true
}

// MidPrice returns the midpoint between best bid and best ask
func (b *Book) MidPrice() (fpdecimal.Decimal, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return fpdecimal.Zero, false
	}
	return bid.Price.Add(ask.Price).Div(fpdecimal.FromInt(2)), true
}

// PriceForQuantity walks the book depth a taker order of the given size
// would consume and returns the worst price it touches. Buys walk the
// asks, sells walk the bids. The second return is false when the book is
// too shallow to fill the quantity.
func (b *Book) PriceForQuantity(side core.Side, quantity fpdecimal.Decimal) (fpdecimal.Decimal, bool) {
	if quantity.LessThanOrEqual(fpdecimal.Zero) {
		return fpdecimal.Zero, false
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	tree := b.asks
	if side == core.Sell {
		tree = b.bids
	}

	remaining := quantity
	price := fpdecimal.Zero
	filled := false
	tree.Ascend(func(item btree.Item) bool {
		var lvl Level
		if side == core.Sell {
			lvl = item.(*bidItem).level
		} else {
			lvl = item.(*askItem).level
		}

		price = lvl.Price
		remaining = remaining.Sub(lvl.Quantity)
		if remaining.LessThanOrEqual(fpdecimal.Zero) {
			filled = true
			return false
		}
		return true
	})

	return price, filled
}

// Depth returns the number of levels per side
func (b *Book) Depth() (bids, asks int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.Len(), b.asks.Len()
}

// Snapshot returns the current contents, best prices first
func (b *Book) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := Snapshot{
		Symbol: b.symbol,
		Bids:   make([]Level, 0, b.bids.Len()),
		Asks:   make([]Level, 0, b.asks.Len()),
		At:     b.updatedAt,
	}
	b.bids.Ascend(func(item btree.Item) bool {
		snap.Bids = append(snap.Bids, item.(*bidItem).level)
		return true
	})
	b.asks.Ascend(func(item btree.Item) bool {
		snap.Asks = append(snap.Asks, item.(*askItem).level)
		return true
	})

	return snap
}
