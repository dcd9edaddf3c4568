// Package book maintains local L2 order book replicas for subscribed assets.
//
// The Cache is fed from two sources:
//   - WebSocket "book" snapshots via ReplaceBook (full replacement)
//   - WebSocket "price_change" deltas via UpsertPriceChange (incremental)
//
// From the replica it derives the values the feed layer uses to synthesize
// price_update events: midpoint ((bestBid+bestAsk)/2), spread
// (bestAsk−bestBid), and the last announced price. Prices and sizes are
// stored as decimals, never binary floats, so "0.7000" and "0.7" are the
// same level and re-serialization carries no trailing zeros.
package book

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"polymarket-ws/pkg/types"
)

var (
	// ErrBookNotFound is returned when an asset has never received a snapshot.
	ErrBookNotFound = errors.New("order book not found")
	// ErrIncompleteBook is returned when a derived value needs both sides
	// of the book and at least one is empty.
	ErrIncompleteBook = errors.New("order book missing bids or asks")
)

// Level is one price level held in decimal form.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Entry is the replica of one asset's book plus the last derived values.
// Bids are sorted strictly descending by price, asks strictly ascending.
type Entry struct {
	AssetID   string
	Bids      []Level
	Asks      []Level
	Hash      string // opaque snapshot identifier from the feed
	Timestamp string

	// Last announced derived values, kept as strings to preserve decimal
	// fidelity. Empty until first computed.
	Midpoint string
	Spread   string
	Price    string
}

// Snapshot is a caller-owned copy of an Entry with levels re-serialized
// to wire form.
type Snapshot struct {
	AssetID   string
	Bids      []types.PriceLevel
	Asks      []types.PriceLevel
	Hash      string
	Timestamp string
	Midpoint  string
	Spread    string
	Price     string
}

// Cache maps asset IDs to book entries. It is concurrency-safe: feed
// updates for an asset come from the reader goroutine of the group that
// owns it, while REST seeding, Remove and Clear run on other goroutines.
type Cache struct {
	mu    sync.RWMutex
	books map[string]*Entry
}

// NewCache creates an empty book cache.
func NewCache() *Cache {
	return &Cache{books: make(map[string]*Entry)}
}

// ReplaceBook replaces the asset's book with a full snapshot and recomputes
// midpoint and spread when both sides are present. The last announced price
// survives the replacement.
func (c *Cache) ReplaceBook(ev types.BookEvent) error {
	bids, err := parseLevels(ev.Bids, true)
	if err != nil {
		return fmt.Errorf("parse bids: %w", err)
	}
	asks, err := parseLevels(ev.Asks, false)
	if err != nil {
		return fmt.Errorf("parse asks: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.books[ev.AssetID]
	if !ok {
		entry = &Entry{AssetID: ev.AssetID}
		c.books[ev.AssetID] = entry
	}
	entry.Bids = bids
	entry.Asks = asks
	entry.Hash = ev.Hash
	entry.Timestamp = ev.Timestamp
	entry.refreshDerived()
	return nil
}

// SeedIfAbsent installs a REST snapshot only when the asset has no entry
// yet. Used to re-seed books after a reconnect without clobbering anything
// a fresher WebSocket snapshot already wrote.
func (c *Cache) SeedIfAbsent(resp types.BookResponse) error {
	c.mu.RLock()
	_, exists := c.books[resp.AssetID]
	c.mu.RUnlock()
	if exists {
		return nil
	}
	return c.ReplaceBook(types.BookEvent{
		EventType: types.EventTypeBook,
		AssetID:   resp.AssetID,
		Market:    resp.Market,
		Timestamp: resp.Timestamp,
		Hash:      resp.Hash,
		Bids:      resp.Bids,
		Asks:      resp.Asks,
	})
}

// UpsertPriceChange applies each delta of a price_change event. A size of
// zero removes the level; otherwise the level is inserted or updated with
// sort order preserved. Returns ErrBookNotFound when the asset has never
// received a snapshot.
func (c *Cache) UpsertPriceChange(ev types.PriceChangeEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.books[ev.AssetID]
	if !ok {
		return fmt.Errorf("asset %s: %w", ev.AssetID, ErrBookNotFound)
	}

	for _, ch := range ev.Changes {
		price, err := decimal.NewFromString(ch.Price)
		if err != nil {
			return fmt.Errorf("parse change price %q: %w", ch.Price, err)
		}
		size, err := decimal.NewFromString(ch.Size)
		if err != nil {
			return fmt.Errorf("parse change size %q: %w", ch.Size, err)
		}
		if ch.Side == types.BUY {
			entry.Bids = upsertLevel(entry.Bids, price, size, true)
		} else {
			entry.Asks = upsertLevel(entry.Asks, price, size, false)
		}
	}
	entry.Timestamp = ev.Timestamp
	entry.refreshDerived()
	return nil
}

// SpreadOver reports whether the asset's spread is at or above threshold.
func (c *Cache) SpreadOver(assetID string, threshold decimal.Decimal) (bool, error) {
	_, spread, err := c.Derived(assetID)
	if err != nil {
		return false, err
	}
	return spread.GreaterThanOrEqual(threshold), nil
}

// Midpoint returns the asset's current midpoint as a decimal string.
func (c *Cache) Midpoint(assetID string) (string, error) {
	mid, _, err := c.Derived(assetID)
	if err != nil {
		return "", err
	}
	return mid.String(), nil
}

// Derived returns the current midpoint and spread. Fails with
// ErrBookNotFound when the asset has no entry and ErrIncompleteBook when
// either side of the book is empty.
func (c *Cache) Derived(assetID string) (mid, spread decimal.Decimal, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.books[assetID]
	if !ok {
		return mid, spread, fmt.Errorf("asset %s: %w", assetID, ErrBookNotFound)
	}
	if len(entry.Bids) == 0 || len(entry.Asks) == 0 {
		return mid, spread, fmt.Errorf("asset %s: %w", assetID, ErrIncompleteBook)
	}
	bestBid := entry.Bids[0].Price
	bestAsk := entry.Asks[0].Price
	return bestBid.Add(bestAsk).Div(two), bestAsk.Sub(bestBid), nil
}

// CompareAndSetPrice stores newPrice as the asset's announced price and
// reports whether it differed from the previous value.
func (c *Cache) CompareAndSetPrice(assetID, newPrice string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.books[assetID]
	if !ok {
		return false, fmt.Errorf("asset %s: %w", assetID, ErrBookNotFound)
	}
	if entry.Price == newPrice {
		return false, nil
	}
	entry.Price = newPrice
	return true, nil
}

// GetBookEntry returns a copy of the asset's entry, or nil when absent.
func (c *Cache) GetBookEntry(assetID string) *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.books[assetID]
	if !ok {
		return nil
	}
	return &Snapshot{
		AssetID:   entry.AssetID,
		Bids:      serializeLevels(entry.Bids),
		Asks:      serializeLevels(entry.Asks),
		Hash:      entry.Hash,
		Timestamp: entry.Timestamp,
		Midpoint:  entry.Midpoint,
		Spread:    entry.Spread,
		Price:     entry.Price,
	}
}

// Remove drops the asset's entry, if any.
func (c *Cache) Remove(assetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.books, assetID)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.books = make(map[string]*Entry)
}

// Len returns the number of tracked assets.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.books)
}

var two = decimal.NewFromInt(2)

// refreshDerived recomputes the entry's Midpoint and Spread strings.
// Caller holds the write lock. Both sides empty or one-sided books leave
// the strings untouched.
func (e *Entry) refreshDerived() {
	if len(e.Bids) == 0 || len(e.Asks) == 0 {
		return
	}
	bestBid := e.Bids[0].Price
	bestAsk := e.Asks[0].Price
	e.Midpoint = bestBid.Add(bestAsk).Div(two).String()
	e.Spread = bestAsk.Sub(bestBid).String()
}

// parseLevels converts wire levels to decimals and sorts them: descending
// for bids, ascending for asks. Zero-size levels are dropped.
func parseLevels(levels []types.PriceLevel, descending bool) ([]Level, error) {
	out := make([]Level, 0, len(levels))
	for _, lvl := range levels {
		price, err := decimal.NewFromString(lvl.Price)
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", lvl.Price, err)
		}
		size, err := decimal.NewFromString(lvl.Size)
		if err != nil {
			return nil, fmt.Errorf("size %q: %w", lvl.Size, err)
		}
		if size.IsZero() {
			continue
		}
		out = append(out, Level{Price: price, Size: size})
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out, nil
}

// upsertLevel inserts, updates, or removes (size zero) one level while
// preserving sort order.
func upsertLevel(levels []Level, price, size decimal.Decimal, descending bool) []Level {
	idx := sort.Search(len(levels), func(i int) bool {
		if descending {
			return levels[i].Price.LessThanOrEqual(price)
		}
		return levels[i].Price.GreaterThanOrEqual(price)
	})

	if idx < len(levels) && levels[idx].Price.Equal(price) {
		if size.IsZero() {
			return append(levels[:idx], levels[idx+1:]...)
		}
		levels[idx].Size = size
		return levels
	}

	if size.IsZero() {
		return levels
	}
	levels = append(levels, Level{})
	copy(levels[idx+1:], levels[idx:])
	levels[idx] = Level{Price: price, Size: size}
	return levels
}

// serializeLevels converts decimal levels back to wire strings with
// trailing zeros stripped.
func serializeLevels(levels []Level) []types.PriceLevel {
	out := make([]types.PriceLevel, len(levels))
	for i, lvl := range levels {
		out[i] = types.PriceLevel{Price: lvl.Price.String(), Size: lvl.Size.String()}
	}
	return out
}
