package feed

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"polymarket-ws/pkg/types"
)

// userDispatch is the pair of batch sinks the user pipeline feeds, wired by
// the manager to the caller's handlers behind the market filter.
type userDispatch struct {
	order func([]types.OrderEvent)
	trade func([]types.TradeEvent)
	err   func(error)
}

// userPolicy demultiplexes user-channel frames into order and trade
// batches. Unlike the market pipeline there is no receive-time key filter:
// filtering happens at dispatch time so a subscribe-all group passes
// everything through.
type userPolicy struct {
	auth     types.Credentials
	dispatch userDispatch
	logger   *slog.Logger
}

func (p *userPolicy) subscribePayload(keys []string) any {
	if keys == nil {
		keys = []string{}
	}
	return types.UserSubscribeMsg{Markets: keys, Type: "USER", Auth: p.auth}
}

func (p *userPolicy) handleMessage(groupID string, frame []byte) {
	entries, err := splitFrame(frame)
	if err != nil {
		p.dispatch.err(fmt.Errorf("parse frame: %w", err))
		return
	}

	var (
		orders []types.OrderEvent
		trades []types.TradeEvent
	)
	for _, raw := range entries {
		var env struct {
			EventType string `json:"event_type"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			p.dispatch.err(fmt.Errorf("parse event: %w", err))
			continue
		}
		if env.EventType == "" {
			p.logger.Debug("dropping event without discriminator")
			continue
		}

		switch env.EventType {
		case types.EventTypeOrder:
			var ev types.OrderEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				p.dispatch.err(fmt.Errorf("parse order event: %w", err))
				continue
			}
			orders = append(orders, ev)
		case types.EventTypeTrade:
			var ev types.TradeEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				p.dispatch.err(fmt.Errorf("parse trade event: %w", err))
				continue
			}
			trades = append(trades, ev)
		default:
			p.dispatch.err(fmt.Errorf("unknown event type %q", env.EventType))
		}
	}

	if len(orders) > 0 {
		p.dispatch.order(orders)
	}
	if len(trades) > 0 {
		p.dispatch.trade(trades)
	}
}
