package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"polymarket-ws/internal/book"
	"polymarket-ws/pkg/types"
)

// priceUpdateSpreadThreshold selects the fair-price signal: below it the
// midpoint drives price_update synthesis, at or above it the last trade
// price does.
var priceUpdateSpreadThreshold = decimal.RequireFromString("0.10")

// marketDispatch is the set of batch sinks the pipeline feeds. The manager
// wires these to the user's handlers behind the subscription filter.
type marketDispatch struct {
	book        func([]types.BookEvent)
	tick        func([]types.TickSizeChangeEvent)
	priceChange func([]types.PriceChangeEvent)
	lastTrade   func([]types.LastTradePriceEvent)
	priceUpdate func([]types.PriceUpdateEvent)
	err         func(error)
}

// marketPolicy demultiplexes market-channel frames: receive-time key
// filtering, bucketing by event kind, handler dispatch, book maintenance,
// and derived price synthesis.
type marketPolicy struct {
	reg      *Registry
	cache    *book.Cache
	dispatch marketDispatch
	logger   *slog.Logger
}

func (p *marketPolicy) subscribePayload(keys []string) any {
	if keys == nil {
		keys = []string{}
	}
	return types.MarketSubscribeMsg{AssetIDs: keys, Type: "market", InitialDump: true}
}

func (p *marketPolicy) handleMessage(groupID string, frame []byte) {
	entries, err := splitFrame(frame)
	if err != nil {
		p.dispatch.err(fmt.Errorf("parse frame: %w", err))
		return
	}

	keys, ok := p.reg.KeySet(groupID)
	if !ok {
		// Group was just removed; nothing here is subscribed anymore.
		return
	}

	var (
		books      []types.BookEvent
		ticks      []types.TickSizeChangeEvent
		changes    []types.PriceChangeEvent
		lastTrades []types.LastTradePriceEvent
	)
	for _, raw := range entries {
		var env struct {
			EventType string `json:"event_type"`
			AssetID   string `json:"asset_id"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			p.dispatch.err(fmt.Errorf("parse event: %w", err))
			continue
		}
		if env.EventType == "" || env.AssetID == "" {
			p.logger.Debug("dropping event without discriminator")
			continue
		}
		if _, subscribed := keys[env.AssetID]; !subscribed {
			// Stale event for a recently-removed asset.
			p.logger.Debug("dropping event for unsubscribed asset", "asset_id", env.AssetID)
			continue
		}

		switch env.EventType {
		case types.EventTypeBook:
			var ev types.BookEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				p.dispatch.err(fmt.Errorf("parse book event: %w", err))
				continue
			}
			books = append(books, ev)
		case types.EventTypePriceChange:
			var ev types.PriceChangeEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				p.dispatch.err(fmt.Errorf("parse price_change event: %w", err))
				continue
			}
			changes = append(changes, ev)
		case types.EventTypeTickSizeChange:
			var ev types.TickSizeChangeEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				p.dispatch.err(fmt.Errorf("parse tick_size_change event: %w", err))
				continue
			}
			ticks = append(ticks, ev)
		case types.EventTypeLastTradePrice:
			var ev types.LastTradePriceEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				p.dispatch.err(fmt.Errorf("parse last_trade_price event: %w", err))
				continue
			}
			lastTrades = append(lastTrades, ev)
		default:
			p.dispatch.err(fmt.Errorf("unknown event type %q", env.EventType))
		}
	}

	if len(books) > 0 {
		p.dispatch.book(books)
	}
	if len(ticks) > 0 {
		p.dispatch.tick(ticks)
	}
	if len(changes) > 0 {
		p.dispatch.priceChange(changes)
	}
	if len(lastTrades) > 0 {
		p.dispatch.lastTrade(lastTrades)
	}

	// Book maintenance and derived price synthesis. Cache failures are
	// logged and skipped, never fatal to the socket.
	var updates []types.PriceUpdateEvent
	for _, ev := range books {
		if err := p.cache.ReplaceBook(ev); err != nil {
			p.logger.Warn("replace book failed", "asset_id", ev.AssetID, "error", err)
		}
	}
	for _, ev := range changes {
		if err := p.cache.UpsertPriceChange(ev); err != nil {
			p.logger.Warn("apply price change failed", "asset_id", ev.AssetID, "error", err)
			continue
		}
		if upd, ok := p.synthesizeFromPriceChange(ev); ok {
			updates = append(updates, upd)
		}
	}
	for _, ev := range lastTrades {
		if upd, ok := p.synthesizeFromLastTrade(ev); ok {
			updates = append(updates, upd)
		}
	}
	if len(updates) > 0 {
		p.dispatch.priceUpdate(updates)
	}
}

// synthesizeFromPriceChange announces the midpoint as the fair price while
// the spread is tight: spread < 0.10 and midpoint differs from the stored
// price.
func (p *marketPolicy) synthesizeFromPriceChange(ev types.PriceChangeEvent) (types.PriceUpdateEvent, bool) {
	mid, spread, err := p.cache.Derived(ev.AssetID)
	if err != nil {
		p.logger.Debug("skipping derived price", "asset_id", ev.AssetID, "error", err)
		return types.PriceUpdateEvent{}, false
	}
	if spread.GreaterThanOrEqual(priceUpdateSpreadThreshold) {
		return types.PriceUpdateEvent{}, false
	}
	return p.announcePrice(ev.AssetID, mid.String(), mid, spread, ev, ev.Timestamp)
}

// synthesizeFromLastTrade announces the normalized trade price as the fair
// price while the spread is wide: spread >= 0.10 and the price differs from
// the stored one.
func (p *marketPolicy) synthesizeFromLastTrade(ev types.LastTradePriceEvent) (types.PriceUpdateEvent, bool) {
	mid, spread, err := p.cache.Derived(ev.AssetID)
	if err != nil {
		p.logger.Debug("skipping derived price", "asset_id", ev.AssetID, "error", err)
		return types.PriceUpdateEvent{}, false
	}
	if spread.LessThan(priceUpdateSpreadThreshold) {
		return types.PriceUpdateEvent{}, false
	}
	price, err := decimal.NewFromString(ev.Price)
	if err != nil {
		p.logger.Warn("bad last trade price", "asset_id", ev.AssetID, "price", ev.Price)
		return types.PriceUpdateEvent{}, false
	}
	return p.announcePrice(ev.AssetID, price.String(), mid, spread, ev, ev.Timestamp)
}

// announcePrice stores newPrice if it differs from the current announced
// value and builds the synthetic event carrying the triggering event and a
// book snapshot.
func (p *marketPolicy) announcePrice(assetID, newPrice string, mid, spread decimal.Decimal, trigger any, timestamp string) (types.PriceUpdateEvent, bool) {
	changed, err := p.cache.CompareAndSetPrice(assetID, newPrice)
	if err != nil {
		p.logger.Debug("skipping derived price", "asset_id", assetID, "error", err)
		return types.PriceUpdateEvent{}, false
	}
	if !changed {
		return types.PriceUpdateEvent{}, false
	}

	entry := p.cache.GetBookEntry(assetID)
	if entry == nil {
		return types.PriceUpdateEvent{}, false
	}
	return types.PriceUpdateEvent{
		EventType:       types.EventTypePriceUpdate,
		AssetID:         assetID,
		TriggeringEvent: trigger,
		Timestamp:       timestamp,
		Book:            types.BookLevels{Bids: entry.Bids, Asks: entry.Asks},
		Price:           newPrice,
		Midpoint:        mid.String(),
		Spread:          spread.String(),
	}, true
}

// splitFrame accepts either a single JSON event object or an array of them.
func splitFrame(frame []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var entries []json.RawMessage
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, err
		}
		return entries, nil
	}
	var entry json.RawMessage
	if err := json.Unmarshal(trimmed, &entry); err != nil {
		return nil, err
	}
	return []json.RawMessage{entry}, nil
}
