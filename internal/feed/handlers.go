package feed

import "polymarket-ws/pkg/types"

// MarketHandlers is the callback record for the market channel. Every field
// is optional; nil fields are skipped. Event handlers receive the batch from
// one frame after subscription filtering, so a batch may be empty. Handlers
// for one socket are invoked sequentially in frame order; across sockets no
// ordering is guaranteed.
type MarketHandlers struct {
	OnBook           func([]types.BookEvent)
	OnTickSizeChange func([]types.TickSizeChangeEvent)
	OnPriceChange    func([]types.PriceChangeEvent)
	OnLastTradePrice func([]types.LastTradePriceEvent)
	OnPriceUpdate    func([]types.PriceUpdateEvent)

	OnOpen  func(groupID string, assetIDs []string)
	OnClose func(groupID string, code int, reason string)
	OnError func(error)
}

// UserHandlers is the callback record for the user channel.
type UserHandlers struct {
	OnOrder func([]types.OrderEvent)
	OnTrade func([]types.TradeEvent)

	OnOpen  func(groupID string, marketIDs []string)
	OnClose func(groupID string, code int, reason string)
	OnError func(error)
}
