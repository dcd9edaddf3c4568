// Polymarket feed — a subscription multiplexer for the Polymarket CLOB
// WebSocket API.
//
// Architecture:
//
//	main.go               — entry point: loads config, wires managers, waits for SIGINT/SIGTERM
//	feed/manager.go       — coordinators: add/remove subscriptions, reaper, dispatch filtering
//	feed/registry.go      — shards subscription keys into groups, one websocket per group
//	feed/socket.go        — per-group websocket state machine with jittered heartbeat
//	feed/market.go        — market-channel pipeline: demux, book maintenance, derived prices
//	feed/user.go          — user-channel pipeline: order/trade demux
//	book/cache.go         — decimal L2 order book replicas and midpoint/spread math
//	exchange/client.go    — REST client used to re-seed books on reconnect
//	exchange/ratelimit.go — token buckets fronting dials and book reads
//
// The binary subscribes to the configured asset IDs (market channel) and,
// when markets or subscribe_to_all are configured, the account's activity
// (user channel), then logs book, price_change, price_update, order and
// trade batches until interrupted.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"polymarket-ws/internal/config"
	"polymarket-ws/internal/exchange"
	"polymarket-ws/internal/feed"
	"polymarket-ws/pkg/types"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("POLY_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	var source feed.BookSource
	if cfg.Feed.SeedBooks {
		source = exchange.NewClient(cfg.API.CLOBBaseURL, logger)
	}

	market := feed.NewMarketManager(feed.MarketHandlers{
		OnBook: func(evs []types.BookEvent) {
			for _, ev := range evs {
				logger.Info("book", "asset_id", ev.AssetID, "bids", len(ev.Bids), "asks", len(ev.Asks))
			}
		},
		OnPriceChange: func(evs []types.PriceChangeEvent) {
			for _, ev := range evs {
				logger.Info("price_change", "asset_id", ev.AssetID, "changes", len(ev.Changes))
			}
		},
		OnPriceUpdate: func(evs []types.PriceUpdateEvent) {
			for _, ev := range evs {
				logger.Info("price_update", "asset_id", ev.AssetID, "price", ev.Price, "midpoint", ev.Midpoint, "spread", ev.Spread)
			}
		},
		OnOpen: func(groupID string, assetIDs []string) {
			logger.Info("market group connected", "group_id", groupID, "assets", len(assetIDs))
		},
		OnClose: func(groupID string, code int, reason string) {
			logger.Warn("market group closed", "group_id", groupID, "code", code, "reason", reason)
		},
		OnError: func(err error) {
			logger.Error("market feed error", "error", err)
		},
	}, feed.MarketOptions{
		URL:                         cfg.API.WSMarketURL,
		MaxAssetsPerWS:              cfg.Feed.MaxAssetsPerWS,
		ReconnectAndCleanupInterval: cfg.Feed.ReconnectAndCleanupInterval,
		BookSource:                  source,
		Logger:                      logger,
	})
	market.AddSubscriptions(context.Background(), cfg.Feed.AssetIDs)

	var user *feed.UserManager
	if len(cfg.Feed.Markets) > 0 || cfg.Feed.SubscribeToAll {
		user = feed.NewUserManager(feed.UserHandlers{
			OnOrder: func(evs []types.OrderEvent) {
				for _, ev := range evs {
					logger.Info("order", "id", ev.ID, "market", ev.Market, "type", ev.Type)
				}
			},
			OnTrade: func(evs []types.TradeEvent) {
				for _, ev := range evs {
					logger.Info("trade", "id", ev.ID, "market", ev.Market, "price", ev.Price, "size", ev.Size)
				}
			},
			OnError: func(err error) {
				logger.Error("user feed error", "error", err)
			},
		}, feed.UserOptions{
			URL: cfg.API.WSUserURL,
			Auth: types.Credentials{
				ApiKey:     cfg.API.ApiKey,
				Secret:     cfg.API.Secret,
				Passphrase: cfg.API.Passphrase,
			},
			SubscribeToAll:              cfg.Feed.SubscribeToAll,
			MaxMarketsPerWS:             cfg.Feed.MaxMarketsPerWS,
			ReconnectAndCleanupInterval: cfg.Feed.ReconnectAndCleanupInterval,
			Logger:                      logger,
		})
		user.AddSubscriptions(context.Background(), cfg.Feed.Markets)
	}

	logger.Info("polymarket feed started",
		"assets", len(cfg.Feed.AssetIDs),
		"markets", len(cfg.Feed.Markets),
		"subscribe_to_all", cfg.Feed.SubscribeToAll,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	market.ClearState()
	if user != nil {
		user.ClearState()
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
