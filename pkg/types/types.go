// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the multiplexer — order book
// levels, WebSocket event payloads for both CLOB channels, and the
// subscription messages sent on connect. It has no dependencies on internal
// packages, so it can be imported by any layer.
package types

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order book level change: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Market-channel event type discriminators.
const (
	EventTypeBook           = "book"
	EventTypePriceChange    = "price_change"
	EventTypeTickSizeChange = "tick_size_change"
	EventTypeLastTradePrice = "last_trade_price"
	EventTypePriceUpdate    = "price_update" // client-synthesized, never on the wire
)

// User-channel event type discriminators.
const (
	EventTypeOrder = "order"
	EventTypeTrade = "trade"
)

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level in the order book.
// Price and Size are strings because the CLOB API returns them as strings
// to preserve decimal precision.
type PriceLevel struct {
	Price string `json:"price"` // e.g. "0.55"
	Size  string `json:"size"`  // e.g. "100.5"
}

// BookLevels is the bid/ask pair carried inside a synthetic price_update.
type BookLevels struct {
	Bids []PriceLevel `json:"bids"` // sorted descending by price (best bid first)
	Asks []PriceLevel `json:"asks"` // sorted ascending by price (best ask first)
}

// BookResponse is the REST response from GET /book for a single token.
type BookResponse struct {
	Market    string       `json:"market"`
	AssetID   string       `json:"asset_id"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Hash      string       `json:"hash"`
	Timestamp string       `json:"timestamp"`
	TickSize  string       `json:"tick_size"`
	NegRisk   bool         `json:"neg_risk"`
}

// BookParams identifies one token in a batched POST /books request.
type BookParams struct {
	TokenID string `json:"token_id"`
}

// ————————————————————————————————————————————————————————————————————————
// Market channel events
// ————————————————————————————————————————————————————————————————————————
// These structs map 1:1 to the JSON messages sent over the market WebSocket.
// A frame is either a single event object or an array of them, discriminated
// by the event_type field.

// BookEvent is a full order book snapshot. Replaces the entire local book
// for the given asset.
type BookEvent struct {
	EventType string       `json:"event_type"` // always "book"
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market"` // condition ID
	Timestamp string       `json:"timestamp"`
	Hash      string       `json:"hash"` // book version hash
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
}

// PriceChange is a single level delta within a price_change event.
// Size "0" removes the level.
type PriceChange struct {
	Price string `json:"price"`
	Size  string `json:"size"`
	Side  Side   `json:"side"`
}

// PriceChangeEvent is an incremental order book update. Contains one or
// more level changes applied in order.
type PriceChangeEvent struct {
	EventType string        `json:"event_type"` // always "price_change"
	AssetID   string        `json:"asset_id"`
	Market    string        `json:"market"`
	Timestamp string        `json:"timestamp"`
	Changes   []PriceChange `json:"changes"`
}

// TickSizeChangeEvent signals a change in a market's price granularity.
type TickSizeChangeEvent struct {
	EventType   string `json:"event_type"` // always "tick_size_change"
	AssetID     string `json:"asset_id"`
	Market      string `json:"market"`
	OldTickSize string `json:"old_tick_size"`
	NewTickSize string `json:"new_tick_size"`
	Timestamp   string `json:"timestamp"`
}

// LastTradePriceEvent reports the most recent trade on an asset.
type LastTradePriceEvent struct {
	EventType string `json:"event_type"` // always "last_trade_price"
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      Side   `json:"side"`
	Timestamp string `json:"timestamp"`
}

// PriceUpdateEvent is synthesized locally when the book implies a new fair
// price: the midpoint when the spread is tight, the last trade price when it
// is wide. It is delivered to handlers only and never sent on the wire.
type PriceUpdateEvent struct {
	EventType       string     `json:"event_type"` // always "price_update"
	AssetID         string     `json:"asset_id"`
	TriggeringEvent any        `json:"triggering_event"` // the PriceChangeEvent or LastTradePriceEvent
	Timestamp       string     `json:"timestamp"`
	Book            BookLevels `json:"book"`
	Price           string     `json:"price"`
	Midpoint        string     `json:"midpoint"`
	Spread          string     `json:"spread"`
}

// ————————————————————————————————————————————————————————————————————————
// User channel events
// ————————————————————————————————————————————————————————————————————————

// TradeEvent is a fill notification from the user channel.
type TradeEvent struct {
	EventType string `json:"event_type"` // always "trade"
	ID        string `json:"id"`         // trade ID
	Market    string `json:"market"`     // condition ID, used for filtering
	AssetID   string `json:"asset_id"`   // token ID that was traded
	Side      Side   `json:"side"`
	Size      string `json:"size"`
	Price     string `json:"price"`
	Outcome   string `json:"outcome"` // "Yes" or "No"
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// OrderEvent is an order lifecycle notification from the user channel.
// Received on placement, update, or cancellation.
type OrderEvent struct {
	EventType       string   `json:"event_type"` // always "order"
	ID              string   `json:"id"`         // order ID
	Market          string   `json:"market"`     // condition ID, used for filtering
	AssetID         string   `json:"asset_id"`
	Side            Side     `json:"side"`
	Price           string   `json:"price"`
	OriginalSize    string   `json:"original_size"`
	SizeMatched     string   `json:"size_matched"` // cumulative filled
	Outcome         string   `json:"outcome"`
	Owner           string   `json:"owner"` // API key
	Timestamp       string   `json:"timestamp"`
	Type            string   `json:"type"`             // "PLACEMENT", "UPDATE", "CANCELLATION"
	AssociateTrades []string `json:"associate_trades"` // trade IDs from partial fills
}

// ————————————————————————————————————————————————————————————————————————
// Subscription messages
// ————————————————————————————————————————————————————————————————————————

// Credentials is the L2 API key triplet for the user channel. The
// multiplexer passes it through opaquely; deriving it is the caller's job.
type Credentials struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// MarketSubscribeMsg is sent once on connect to the market channel.
type MarketSubscribeMsg struct {
	AssetIDs    []string `json:"assets_ids"`
	Type        string   `json:"type"` // always "market"
	InitialDump bool     `json:"initial_dump"`
}

// UserSubscribeMsg is sent once on connect to the user channel. An empty
// Markets list subscribes to all of the account's activity.
type UserSubscribeMsg struct {
	Markets []string    `json:"markets"`
	Type    string      `json:"type"` // always "USER"
	Auth    Credentials `json:"auth"`
}
