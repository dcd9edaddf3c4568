package book

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"polymarket-ws/pkg/types"
)

const testAsset = "asset-123"

func snapshotEvent(bids, asks []types.PriceLevel) types.BookEvent {
	return types.BookEvent{
		EventType: types.EventTypeBook,
		AssetID:   testAsset,
		Timestamp: "1700000000000",
		Hash:      "hash-1",
		Bids:      bids,
		Asks:      asks,
	}
}

func TestReplaceBookComputesDerived(t *testing.T) {
	t.Parallel()
	c := NewCache()

	err := c.ReplaceBook(snapshotEvent(
		[]types.PriceLevel{{Price: "0.54", Size: "200"}, {Price: "0.55", Size: "100"}},
		[]types.PriceLevel{{Price: "0.57", Size: "150"}},
	))
	if err != nil {
		t.Fatalf("ReplaceBook: %v", err)
	}

	entry := c.GetBookEntry(testAsset)
	if entry == nil {
		t.Fatal("GetBookEntry returned nil after snapshot")
	}
	if entry.Bids[0].Price != "0.55" {
		t.Errorf("best bid = %q, want 0.55 (bids must sort descending)", entry.Bids[0].Price)
	}
	if entry.Midpoint != "0.56" {
		t.Errorf("midpoint = %q, want 0.56", entry.Midpoint)
	}
	if entry.Spread != "0.02" {
		t.Errorf("spread = %q, want 0.02", entry.Spread)
	}
}

func TestReplaceBookOneSidedLeavesDerivedEmpty(t *testing.T) {
	t.Parallel()
	c := NewCache()

	if err := c.ReplaceBook(snapshotEvent([]types.PriceLevel{{Price: "0.50", Size: "10"}}, nil)); err != nil {
		t.Fatalf("ReplaceBook: %v", err)
	}

	entry := c.GetBookEntry(testAsset)
	if entry.Midpoint != "" || entry.Spread != "" {
		t.Errorf("midpoint/spread = %q/%q, want empty for one-sided book", entry.Midpoint, entry.Spread)
	}

	if _, err := c.Midpoint(testAsset); !errors.Is(err, ErrIncompleteBook) {
		t.Errorf("Midpoint error = %v, want ErrIncompleteBook", err)
	}
	if _, err := c.SpreadOver(testAsset, decimal.RequireFromString("0.10")); !errors.Is(err, ErrIncompleteBook) {
		t.Errorf("SpreadOver error = %v, want ErrIncompleteBook", err)
	}
}

func TestReplaceBookPreservesAnnouncedPrice(t *testing.T) {
	t.Parallel()
	c := NewCache()

	if err := c.ReplaceBook(snapshotEvent(
		[]types.PriceLevel{{Price: "0.60", Size: "10"}},
		[]types.PriceLevel{{Price: "0.62", Size: "8"}},
	)); err != nil {
		t.Fatalf("ReplaceBook: %v", err)
	}
	if _, err := c.CompareAndSetPrice(testAsset, "0.61"); err != nil {
		t.Fatalf("CompareAndSetPrice: %v", err)
	}

	// Fresh snapshot must not reset the announced price.
	if err := c.ReplaceBook(snapshotEvent(
		[]types.PriceLevel{{Price: "0.58", Size: "10"}},
		[]types.PriceLevel{{Price: "0.64", Size: "8"}},
	)); err != nil {
		t.Fatalf("ReplaceBook: %v", err)
	}
	if got := c.GetBookEntry(testAsset).Price; got != "0.61" {
		t.Errorf("price after snapshot = %q, want 0.61", got)
	}
}

// Mirrors the snapshot-then-deltas sequence: applying D1..Dn to B must leave
// the book equal to the folded result, zero-size levels absent, order kept.
func TestUpsertPriceChangeAppliesDeltas(t *testing.T) {
	t.Parallel()
	c := NewCache()

	if err := c.ReplaceBook(snapshotEvent(
		[]types.PriceLevel{{Price: "0.60", Size: "10"}},
		[]types.PriceLevel{{Price: "0.62", Size: "8"}},
	)); err != nil {
		t.Fatalf("ReplaceBook: %v", err)
	}

	err := c.UpsertPriceChange(types.PriceChangeEvent{
		EventType: types.EventTypePriceChange,
		AssetID:   testAsset,
		Timestamp: "1700000000001",
		Changes: []types.PriceChange{
			{Price: "0.60", Size: "0", Side: types.BUY},
			{Price: "0.59", Size: "5", Side: types.BUY},
		},
	})
	if err != nil {
		t.Fatalf("UpsertPriceChange: %v", err)
	}

	entry := c.GetBookEntry(testAsset)
	if len(entry.Bids) != 1 || entry.Bids[0].Price != "0.59" || entry.Bids[0].Size != "5" {
		t.Fatalf("bids = %+v, want single level (0.59, 5)", entry.Bids)
	}
	if entry.Spread != "0.03" {
		t.Errorf("spread = %q, want 0.03", entry.Spread)
	}
	if entry.Midpoint != "0.605" {
		t.Errorf("midpoint = %q, want 0.605", entry.Midpoint)
	}
}

func TestUpsertPriceChangeSortOrder(t *testing.T) {
	t.Parallel()
	c := NewCache()

	if err := c.ReplaceBook(snapshotEvent(
		[]types.PriceLevel{{Price: "0.50", Size: "10"}, {Price: "0.48", Size: "20"}},
		[]types.PriceLevel{{Price: "0.55", Size: "10"}, {Price: "0.57", Size: "20"}},
	)); err != nil {
		t.Fatalf("ReplaceBook: %v", err)
	}

	err := c.UpsertPriceChange(types.PriceChangeEvent{
		AssetID: testAsset,
		Changes: []types.PriceChange{
			{Price: "0.49", Size: "5", Side: types.BUY},   // between existing bids
			{Price: "0.56", Size: "5", Side: types.SELL},  // between existing asks
			{Price: "0.50", Size: "15", Side: types.BUY},  // update in place
			{Price: "0.58", Size: "5", Side: types.SELL},  // append at tail
			{Price: "0.51", Size: "25", Side: types.BUY},  // new best bid
		},
	})
	if err != nil {
		t.Fatalf("UpsertPriceChange: %v", err)
	}

	entry := c.GetBookEntry(testAsset)
	wantBids := []string{"0.51", "0.5", "0.49", "0.48"}
	for i, want := range wantBids {
		if entry.Bids[i].Price != want {
			t.Fatalf("bids[%d].Price = %q, want %q (got %+v)", i, entry.Bids[i].Price, want, entry.Bids)
		}
	}
	wantAsks := []string{"0.55", "0.56", "0.57", "0.58"}
	for i, want := range wantAsks {
		if entry.Asks[i].Price != want {
			t.Fatalf("asks[%d].Price = %q, want %q (got %+v)", i, entry.Asks[i].Price, want, entry.Asks)
		}
	}
	if entry.Bids[1].Size != "15" {
		t.Errorf("bids[1].Size = %q, want 15 (in-place update)", entry.Bids[1].Size)
	}
}

func TestUpsertPriceChangeBookNotFound(t *testing.T) {
	t.Parallel()
	c := NewCache()

	err := c.UpsertPriceChange(types.PriceChangeEvent{
		AssetID: "never-seen",
		Changes: []types.PriceChange{{Price: "0.50", Size: "1", Side: types.BUY}},
	})
	if !errors.Is(err, ErrBookNotFound) {
		t.Errorf("error = %v, want ErrBookNotFound", err)
	}
}

func TestSpreadOver(t *testing.T) {
	t.Parallel()
	c := NewCache()

	if err := c.ReplaceBook(snapshotEvent(
		[]types.PriceLevel{{Price: "0.40", Size: "10"}},
		[]types.PriceLevel{{Price: "0.52", Size: "8"}},
	)); err != nil {
		t.Fatalf("ReplaceBook: %v", err)
	}

	tests := []struct {
		threshold string
		want      bool
	}{
		{"0.10", true},  // 0.12 >= 0.10
		{"0.12", true},  // boundary: spread == threshold
		{"0.13", false}, // 0.12 < 0.13
	}
	for _, tt := range tests {
		got, err := c.SpreadOver(testAsset, decimal.RequireFromString(tt.threshold))
		if err != nil {
			t.Fatalf("SpreadOver(%s): %v", tt.threshold, err)
		}
		if got != tt.want {
			t.Errorf("SpreadOver(%s) = %v, want %v", tt.threshold, got, tt.want)
		}
	}

	if _, err := c.SpreadOver("missing", decimal.RequireFromString("0.10")); !errors.Is(err, ErrBookNotFound) {
		t.Errorf("error = %v, want ErrBookNotFound", err)
	}
}

func TestCompareAndSetPrice(t *testing.T) {
	t.Parallel()
	c := NewCache()

	if _, err := c.CompareAndSetPrice("missing", "0.5"); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("error = %v, want ErrBookNotFound", err)
	}

	if err := c.ReplaceBook(snapshotEvent(
		[]types.PriceLevel{{Price: "0.60", Size: "10"}},
		[]types.PriceLevel{{Price: "0.62", Size: "8"}},
	)); err != nil {
		t.Fatalf("ReplaceBook: %v", err)
	}

	changed, err := c.CompareAndSetPrice(testAsset, "0.61")
	if err != nil || !changed {
		t.Fatalf("CompareAndSetPrice = (%v, %v), want (true, nil)", changed, err)
	}
	changed, err = c.CompareAndSetPrice(testAsset, "0.61")
	if err != nil || changed {
		t.Fatalf("repeat CompareAndSetPrice = (%v, %v), want (false, nil)", changed, err)
	}
}

func TestSeedIfAbsent(t *testing.T) {
	t.Parallel()
	c := NewCache()

	resp := types.BookResponse{
		AssetID: testAsset,
		Bids:    []types.PriceLevel{{Price: "0.30", Size: "1"}},
		Asks:    []types.PriceLevel{{Price: "0.40", Size: "1"}},
		Hash:    "rest-hash",
	}
	if err := c.SeedIfAbsent(resp); err != nil {
		t.Fatalf("SeedIfAbsent: %v", err)
	}
	if got := c.GetBookEntry(testAsset).Hash; got != "rest-hash" {
		t.Fatalf("hash = %q, want rest-hash", got)
	}

	// An existing entry must not be overwritten.
	resp.Hash = "rest-hash-2"
	if err := c.SeedIfAbsent(resp); err != nil {
		t.Fatalf("SeedIfAbsent: %v", err)
	}
	if got := c.GetBookEntry(testAsset).Hash; got != "rest-hash" {
		t.Errorf("hash = %q, want rest-hash (seed must not clobber)", got)
	}
}

func TestRemoveAndClear(t *testing.T) {
	t.Parallel()
	c := NewCache()

	for _, id := range []string{"a", "b"} {
		ev := snapshotEvent(
			[]types.PriceLevel{{Price: "0.50", Size: "1"}},
			[]types.PriceLevel{{Price: "0.52", Size: "1"}},
		)
		ev.AssetID = id
		if err := c.ReplaceBook(ev); err != nil {
			t.Fatalf("ReplaceBook(%s): %v", id, err)
		}
	}

	c.Remove("a")
	if c.GetBookEntry("a") != nil {
		t.Error("entry a still present after Remove")
	}
	if c.GetBookEntry("b") == nil {
		t.Error("entry b vanished after removing a")
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", c.Len())
	}
}

func TestZeroSizeSnapshotLevelsDropped(t *testing.T) {
	t.Parallel()
	c := NewCache()

	if err := c.ReplaceBook(snapshotEvent(
		[]types.PriceLevel{{Price: "0.50", Size: "0"}, {Price: "0.49", Size: "5"}},
		[]types.PriceLevel{{Price: "0.52", Size: "1"}},
	)); err != nil {
		t.Fatalf("ReplaceBook: %v", err)
	}
	entry := c.GetBookEntry(testAsset)
	if len(entry.Bids) != 1 || entry.Bids[0].Price != "0.49" {
		t.Errorf("bids = %+v, want only (0.49, 5)", entry.Bids)
	}
}

func TestDecimalNormalization(t *testing.T) {
	t.Parallel()
	c := NewCache()

	if err := c.ReplaceBook(snapshotEvent(
		[]types.PriceLevel{{Price: "0.7000", Size: "10.500"}},
		[]types.PriceLevel{{Price: "0.8000", Size: "1"}},
	)); err != nil {
		t.Fatalf("ReplaceBook: %v", err)
	}
	entry := c.GetBookEntry(testAsset)
	if entry.Bids[0].Price != "0.7" {
		t.Errorf("price = %q, want 0.7 (trailing zeros stripped)", entry.Bids[0].Price)
	}
	if entry.Bids[0].Size != "10.5" {
		t.Errorf("size = %q, want 10.5", entry.Bids[0].Size)
	}
	if entry.Midpoint != "0.75" {
		t.Errorf("midpoint = %q, want 0.75", entry.Midpoint)
	}
}
