// Package feed implements the subscription multiplexer for the Polymarket
// CLOB WebSocket API.
//
// Subscription keys — asset IDs on the market channel, condition IDs on the
// user channel — are sharded into groups of bounded size, each backed by
// one websocket. A periodic reaper drops groups that have drained empty and
// redials groups whose socket died. The market variant additionally
// maintains a local order book replica and synthesizes price_update events
// when the book implies a new fair price.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"polymarket-ws/internal/book"
	"polymarket-ws/internal/exchange"
	"polymarket-ws/pkg/types"
)

// DefaultReconnectAndCleanupInterval is the reaper cadence.
const DefaultReconnectAndCleanupInterval = 10 * time.Second

// DefaultMaxMarketsPerWS bounds a user group's market count.
const DefaultMaxMarketsPerWS = 100

// BookSource fetches order book snapshots over REST, used to re-seed the
// cache when a market group (re)connects.
type BookSource interface {
	GetOrderBooks(ctx context.Context, tokenIDs []string) ([]types.BookResponse, error)
}

// manager is the channel-agnostic coordinator shared by both variants:
// registry bookkeeping, rate-limited dials, and the reaper loop. The
// variants differ only in their channel policy and dispatch filtering.
type manager struct {
	url         string
	reg         *Registry
	limiter     Limiter
	policy      channelPolicy
	maxPerGroup int
	interval    time.Duration
	logger      *slog.Logger
	onError     func(error)
	lifecycle   lifecycleHooks

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// start launches the reaper. Reaper errors are surfaced through onError and
// never stop the loop.
func (m *manager) start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.runCtx.Done():
				return
			case <-ticker.C:
				m.reapOnce()
			}
		}
	}()
}

func (m *manager) reapOnce() {
	redial, removed := m.reg.ReconnectAndCleanup()
	for _, g := range removed {
		if g.sock == nil {
			continue
		}
		if err := g.sock.close(); err != nil {
			m.emitError(fmt.Errorf("close group %s: %w", g.ID, err))
		}
	}
	for _, id := range redial {
		go m.dialGroup(m.runCtx, id)
	}
}

// addKeys shards keys into the registry and dials every group that needs a
// (re)connect. Dial failures are surfaced through onError; the reaper
// retries DEAD groups on its next tick.
func (m *manager) addKeys(ctx context.Context, keys []string) {
	for _, id := range m.reg.AddKeys(keys, m.maxPerGroup) {
		go m.dialGroup(ctx, id)
	}
}

func (m *manager) dialGroup(ctx context.Context, groupID string) {
	sock := m.reg.SocketFor(groupID)
	if sock == nil {
		created := newGroupSocket(groupID, m.url, m.reg, m.limiter, m.policy, m.hooks(), m.logger)
		attached, ok := m.reg.AttachSocket(groupID, created)
		if !ok {
			m.emitError(fmt.Errorf("dial requested for unknown group %s", groupID))
			return
		}
		sock = attached
	}
	if err := sock.connect(ctx); err != nil {
		m.emitError(fmt.Errorf("connect group %s: %w", groupID, err))
	}
}

// clearState stops the reaper, atomically empties the registry, and closes
// every removed socket outside the lock. The manager is terminal afterward.
func (m *manager) clearState() []*Group {
	m.cancel()
	m.wg.Wait()

	removed := m.reg.ClearAllGroups()
	for _, g := range removed {
		if g.sock == nil {
			continue
		}
		if err := g.sock.close(); err != nil {
			m.emitError(fmt.Errorf("close group %s: %w", g.ID, err))
		}
	}
	return removed
}

func (m *manager) emitError(err error) {
	if m.onError != nil {
		m.onError(err)
		return
	}
	m.logger.Error("feed error", "error", err)
}

// hooks returns the lifecycle wiring installed by the variant constructor.
func (m *manager) hooks() lifecycleHooks {
	return m.lifecycle
}

// ————————————————————————————————————————————————————————————————————————
// Market variant
// ————————————————————————————————————————————————————————————————————————

// MarketOptions configures a MarketManager. Zero values select defaults.
type MarketOptions struct {
	// URL of the market websocket endpoint, e.g. wss://host/ws/market.
	URL string
	// BurstLimiter overrides the default 5-burst/5-per-second dial bucket.
	BurstLimiter Limiter
	// ReconnectAndCleanupInterval overrides the 10s reaper cadence.
	ReconnectAndCleanupInterval time.Duration
	// MaxAssetsPerWS bounds a group's asset count. Default: unbounded.
	MaxAssetsPerWS int
	// BookSource, when set, re-seeds missing books over REST on (re)connect.
	BookSource BookSource
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// MarketManager multiplexes per-asset order book subscriptions across a
// fleet of market-channel websockets. Construction starts the reaper;
// ClearState is the sole shutdown point.
type MarketManager struct {
	manager
	cache    *book.Cache
	source   BookSource
	handlers MarketHandlers
}

// NewMarketManager creates the manager and starts its reaper.
func NewMarketManager(handlers MarketHandlers, opts MarketOptions) *MarketManager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ws_market")

	limiter := opts.BurstLimiter
	if limiter == nil {
		limiter = exchange.NewDialLimiter()
	}
	interval := opts.ReconnectAndCleanupInterval
	if interval <= 0 {
		interval = DefaultReconnectAndCleanupInterval
	}
	maxPerGroup := opts.MaxAssetsPerWS
	if maxPerGroup <= 0 {
		maxPerGroup = math.MaxInt
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &MarketManager{
		manager: manager{
			url:         opts.URL,
			reg:         NewRegistry(),
			limiter:     limiter,
			maxPerGroup: maxPerGroup,
			interval:    interval,
			logger:      logger,
			onError:     handlers.OnError,
			runCtx:      ctx,
			cancel:      cancel,
		},
		cache:    book.NewCache(),
		source:   opts.BookSource,
		handlers: handlers,
	}
	m.manager.lifecycle = lifecycleHooks{
		onOpen:  m.groupOpened,
		onClose: handlers.OnClose,
		onError: m.emitError,
	}
	m.manager.policy = &marketPolicy{
		reg:    m.reg,
		cache:  m.cache,
		logger: logger,
		dispatch: marketDispatch{
			book:        func(evs []types.BookEvent) { dispatchMarket(m, m.handlers.OnBook, evs, bookAsset) },
			tick:        func(evs []types.TickSizeChangeEvent) { dispatchMarket(m, m.handlers.OnTickSizeChange, evs, tickAsset) },
			priceChange: func(evs []types.PriceChangeEvent) { dispatchMarket(m, m.handlers.OnPriceChange, evs, changeAsset) },
			lastTrade:   func(evs []types.LastTradePriceEvent) { dispatchMarket(m, m.handlers.OnLastTradePrice, evs, tradePriceAsset) },
			priceUpdate: func(evs []types.PriceUpdateEvent) { dispatchMarket(m, m.handlers.OnPriceUpdate, evs, updateAsset) },
			err:         m.emitError,
		},
	}
	m.start()
	return m
}

// AddSubscriptions subscribes the given asset IDs, dialing new or revived
// groups as needed. Errors are surfaced through OnError, never returned.
func (m *MarketManager) AddSubscriptions(ctx context.Context, assetIDs []string) {
	m.addKeys(ctx, assetIDs)
}

// RemoveSubscriptions drops the asset IDs from the registry and the book
// cache. Sockets are not closed immediately: the next reaper cycle closes
// groups that drained empty, trading a short window of wasted frames for
// never missing events on a still-subscribed key.
func (m *MarketManager) RemoveSubscriptions(assetIDs []string) {
	for _, key := range m.reg.RemoveKeys(assetIDs) {
		m.cache.Remove(key)
	}
}

// ClearState stops the reaper, closes every socket, and clears the book
// cache. The manager is terminal afterward.
func (m *MarketManager) ClearState() {
	m.clearState()
	m.cache.Clear()
}

// Books exposes the order book cache for direct reads.
func (m *MarketManager) Books() *book.Cache {
	return m.cache
}

// groupOpened runs the caller's OnOpen hook and, when a BookSource is
// configured, re-seeds any of the group's assets missing from the cache.
func (m *MarketManager) groupOpened(groupID string, keys []string) {
	if m.handlers.OnOpen != nil {
		m.handlers.OnOpen(groupID, keys)
	}
	if m.source == nil {
		return
	}

	var missing []string
	for _, key := range keys {
		if m.cache.GetBookEntry(key) == nil {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		books, err := m.source.GetOrderBooks(m.runCtx, missing)
		if err != nil {
			m.emitError(fmt.Errorf("seed books for group %s: %w", groupID, err))
			return
		}
		for _, b := range books {
			if err := m.cache.SeedIfAbsent(b); err != nil {
				m.logger.Warn("seed book failed", "asset_id", b.AssetID, "error", err)
			}
		}
	}()
}

// dispatchMarket filters a batch down to assets still present in the
// registry and invokes the handler with the result — possibly empty, so
// consumers observe the tick either way. An asset found in more than one
// group violates the sharding invariant and is delivered with a warning.
func dispatchMarket[E any](m *MarketManager, handler func([]E), events []E, assetOf func(E) string) {
	if handler == nil {
		return
	}
	kept := make([]E, 0, len(events))
	for _, ev := range events {
		asset := assetOf(ev)
		switch n := m.reg.GroupCountForKey(asset); {
		case n == 0:
			m.logger.Debug("dropping event for unsubscribed asset", "asset_id", asset)
		case n > 1:
			m.logger.Warn("asset subscribed in multiple groups", "asset_id", asset, "groups", n)
			kept = append(kept, ev)
		default:
			kept = append(kept, ev)
		}
	}
	handler(kept)
}

func bookAsset(ev types.BookEvent) string                 { return ev.AssetID }
func tickAsset(ev types.TickSizeChangeEvent) string       { return ev.AssetID }
func changeAsset(ev types.PriceChangeEvent) string        { return ev.AssetID }
func tradePriceAsset(ev types.LastTradePriceEvent) string { return ev.AssetID }
func updateAsset(ev types.PriceUpdateEvent) string        { return ev.AssetID }

// ————————————————————————————————————————————————————————————————————————
// User variant
// ————————————————————————————————————————————————————————————————————————

// UserOptions configures a UserManager.
type UserOptions struct {
	// URL of the user websocket endpoint, e.g. wss://host/ws/user.
	URL string
	// Auth is the opaque L2 credential triplet sent in the subscribe payload.
	Auth types.Credentials
	// SubscribeToAll pins one group that subscribes with an empty market
	// list, streaming all of the account's activity. The group survives the
	// reaper even when empty and disables dispatch-time filtering.
	SubscribeToAll bool
	// BurstLimiter overrides the default dial bucket.
	BurstLimiter Limiter
	// ReconnectAndCleanupInterval overrides the 10s reaper cadence.
	ReconnectAndCleanupInterval time.Duration
	// MaxMarketsPerWS bounds a group's market count. Default 100.
	MaxMarketsPerWS int
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// UserManager multiplexes per-market account streams (orders and trades)
// across user-channel websockets.
type UserManager struct {
	manager
	handlers UserHandlers
}

// NewUserManager creates the manager, starts its reaper, and — when
// SubscribeToAll is set — dials the pinned all-markets group immediately.
func NewUserManager(handlers UserHandlers, opts UserOptions) *UserManager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ws_user")

	limiter := opts.BurstLimiter
	if limiter == nil {
		limiter = exchange.NewDialLimiter()
	}
	interval := opts.ReconnectAndCleanupInterval
	if interval <= 0 {
		interval = DefaultReconnectAndCleanupInterval
	}
	maxPerGroup := opts.MaxMarketsPerWS
	if maxPerGroup <= 0 {
		maxPerGroup = DefaultMaxMarketsPerWS
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &UserManager{
		manager: manager{
			url:         opts.URL,
			reg:         NewRegistry(),
			limiter:     limiter,
			maxPerGroup: maxPerGroup,
			interval:    interval,
			logger:      logger,
			onError:     handlers.OnError,
			runCtx:      ctx,
			cancel:      cancel,
		},
		handlers: handlers,
	}
	m.manager.lifecycle = lifecycleHooks{
		onOpen:  handlers.OnOpen,
		onClose: handlers.OnClose,
		onError: m.emitError,
	}
	m.manager.policy = &userPolicy{
		auth:   opts.Auth,
		logger: logger,
		dispatch: userDispatch{
			order: func(evs []types.OrderEvent) { dispatchUser(m, m.handlers.OnOrder, evs, orderMarket) },
			trade: func(evs []types.TradeEvent) { dispatchUser(m, m.handlers.OnTrade, evs, tradeMarket) },
			err:   m.emitError,
		},
	}
	m.start()

	if opts.SubscribeToAll {
		id := m.reg.EnsurePinnedGroup()
		go m.dialGroup(m.runCtx, id)
	}
	return m
}

// AddSubscriptions subscribes the given market (condition) IDs.
func (m *UserManager) AddSubscriptions(ctx context.Context, marketIDs []string) {
	m.addKeys(ctx, marketIDs)
}

// RemoveSubscriptions drops the market IDs; emptied groups close at the
// next reaper cycle.
func (m *UserManager) RemoveSubscriptions(marketIDs []string) {
	m.reg.RemoveKeys(marketIDs)
}

// ClearState stops the reaper and closes every socket, including a pinned
// subscribe-all group. The manager is terminal afterward.
func (m *UserManager) ClearState() {
	m.clearState()
}

// dispatchUser filters by the current market set — unless a subscribe-all
// group exists, in which case everything passes — and always invokes the
// handler with the filtered (possibly empty) batch.
func dispatchUser[E any](m *UserManager, handler func([]E), events []E, marketOf func(E) string) {
	if handler == nil {
		return
	}
	if m.reg.HasSubscribeToAll() {
		handler(events)
		return
	}
	kept := make([]E, 0, len(events))
	for _, ev := range events {
		if m.reg.HasKey(marketOf(ev)) {
			kept = append(kept, ev)
		} else {
			m.logger.Debug("dropping event for unsubscribed market", "market", marketOf(ev))
		}
	}
	handler(kept)
}

func orderMarket(ev types.OrderEvent) string { return ev.Market }
func tradeMarket(ev types.TradeEvent) string { return ev.Market }
