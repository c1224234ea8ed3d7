// Package engine drives the trading rounds: merge staged orders, evict
// timed-out ones, match, aggregate, persist and notify.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luxfi/log"

	"github.com/marketsim/engine/pkg/aggregate"
	"github.com/marketsim/engine/pkg/market"
	"github.com/marketsim/engine/pkg/metrics"
)

// Store persists completed trades and assigns their store ids. A failure is
// never fatal to the round.
type Store interface {
	Persist(ctx context.Context, trades []*market.Trade) error
}

// Config holds the externally supplied engine parameters.
type Config struct {
	// Delay is the pause between two rounds in continuous mode.
	Delay time.Duration
	// Timeout is the age after which an unmatched order is evicted.
	Timeout time.Duration
	// Window is the volume retention span; zero means the default 10s.
	Window time.Duration
}

type stagedSell struct {
	sellerName string
	order      *market.SellOrder
}

type stagedBuy struct {
	buyerName string
	order     *market.BuyOrder
}

// Engine owns one market and a staging area for newly submitted orders. The
// book, price table and volume table are only ever touched by the goroutine
// executing a round; callers reach them through the staging area and the
// aggregator.
type Engine struct {
	cfg    Config
	logger log.Logger

	mkt *market.Market
	agg *aggregate.Aggregator

	store    Store
	listener market.Listener
	met      *metrics.Metrics
	clock    func() time.Time

	sellMu      sync.Mutex
	stagedSells []stagedSell
	buyMu       sync.Mutex
	stagedBuys  []stagedBuy

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the persistence collaborator.
func WithStore(s Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithListener sets the engine-level event listener. It also becomes the
// sink of participants registered by this engine.
func WithListener(l market.Listener) Option {
	return func(e *Engine) { e.listener = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.met = m }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.clock = now }
}

// New creates an engine. The market is opening for trading.
func New(cfg Config, logger log.Logger, opts ...Option) *Engine {
	if cfg.Window == 0 {
		cfg.Window = aggregate.Window
	}
	e := &Engine{
		cfg:    cfg,
		logger: logger,
		mkt:    market.NewMarket(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.agg = aggregate.New(aggregate.WithWindow(cfg.Window), aggregate.WithClock(e.clock))
	return e
}

// SubmitSell validates and stages a sell order. The returned handle is live:
// its remaining quantity reflects matching as rounds run. The call never
// blocks on the round.
func (e *Engine) SubmitSell(sellerName, productID string, quantity int, askPrice float64, id int) (*market.SellOrder, error) {
	if quantity <= 0 {
		return nil, market.ErrInvalidQuantity
	}
	if askPrice <= 0 {
		return nil, market.ErrInvalidPrice
	}
	order := &market.SellOrder{
		ID:                id,
		ProductID:         productID,
		Quantity:          quantity,
		RemainingQuantity: quantity,
		AskPrice:          askPrice,
	}
	e.sellMu.Lock()
	e.stagedSells = append(e.stagedSells, stagedSell{sellerName: sellerName, order: order})
	e.sellMu.Unlock()
	if e.met != nil {
		e.met.OrderSubmitted("sell")
	}
	return order, nil
}

// SubmitBuy validates and stages a buy order. The buyer accepts the
// prevailing ask, whatever it is.
func (e *Engine) SubmitBuy(buyerName, productID string, quantity int, id int) (*market.BuyOrder, error) {
	if quantity <= 0 {
		return nil, market.ErrInvalidQuantity
	}
	order := &market.BuyOrder{
		ID:                id,
		ProductID:         productID,
		Quantity:          quantity,
		RemainingQuantity: quantity,
	}
	e.buyMu.Lock()
	e.stagedBuys = append(e.stagedBuys, stagedBuy{buyerName: buyerName, order: order})
	e.buyMu.Unlock()
	if e.met != nil {
		e.met.OrderSubmitted("buy")
	}
	return order, nil
}

// CurrentPrice returns the last known price for a product.
func (e *Engine) CurrentPrice(productID string) (market.LastPrice, bool) {
	return e.agg.CurrentPrice(productID)
}

// CurrentVolume returns the combined volume over the retention window.
func (e *Engine) CurrentVolume(productID string) market.VolumeRecord {
	return e.agg.CurrentVolume(productID)
}

// VolumePerMinute returns the per-minute volume estimate.
func (e *Engine) VolumePerMinute(productID string) market.VolumeRecord {
	return e.agg.PerMinute(productID)
}

// Start begins the continuous round loop. It returns immediately.
func (e *Engine) Start() {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.wg.Add(1)
	go e.loop(ctx)
	e.logger.Debug("market is opening for trading", "delay", e.cfg.Delay, "timeout", e.cfg.Timeout)
}

// Stop halts the loop at the next round boundary and waits for it to exit.
// The in-flight round always completes.
func (e *Engine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	e.cancel()
	e.wg.Wait()
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()
	for {
		e.runRound(ctx, true)

		select {
		case <-ctx.Done():
			e.notify(e.listener, market.Event{Type: market.EventStopped})
			return
		case <-time.After(e.cfg.Delay):
		}

		if ctx.Err() != nil {
			e.notify(e.listener, market.Event{Type: market.EventStopped})
			return
		}
	}
}

// RunOnce executes exactly one round, staged orders included, and returns
// its trades. Used when rounds are re-scheduled externally.
func (e *Engine) RunOnce(ctx context.Context) []*market.Trade {
	return e.runRound(ctx, true)
}

// runRound is the only place market, price and volume state is mutated.
func (e *Engine) runRound(ctx context.Context, mergeStaged bool) []*market.Trade {
	start := e.clock()

	if mergeStaged {
		e.merge(start)
	}
	e.evict(start)

	trades := e.mkt.Trade(start)
	for _, t := range trades {
		e.agg.Record(t)
	}
	e.agg.Purge()

	if len(trades) > 0 && e.store != nil {
		// Non-fatal: a matched trade is still notified even when it could
		// not be recorded.
		if err := e.store.Persist(ctx, trades); err != nil {
			e.logger.Error("failed to persist trades", "count", len(trades), "error", err)
			if e.met != nil {
				e.met.PersistFailed()
			}
		}
	}

	for _, t := range trades {
		e.notify(t.Buyer.Listener, market.Event{Type: market.EventPurchase, Trade: t})
		e.notify(t.Seller.Listener, market.Event{Type: market.EventSale, Trade: t})
	}

	stats := &market.Stats{
		Books:   e.mkt.Summaries(),
		Prices:  e.agg.Prices(),
		Volumes: e.agg.Volumes(),
	}
	e.notify(e.listener, market.Event{Type: market.EventStats, Stats: stats})

	if e.met != nil {
		e.met.TradesMatched(len(trades))
		for _, s := range stats.Books {
			e.met.SetOpenOrders(s.ProductID, "sell", s.OpenSellOrders)
			e.met.SetOpenOrders(s.ProductID, "buy", s.OpenBuyOrders)
		}
		e.met.RoundCompleted(e.clock().Sub(start))
	}

	if len(trades) > 0 {
		e.logger.Info("trading round completed", "trades", len(trades),
			"took", e.clock().Sub(start))
	} else {
		e.logger.Debug("no trades this round")
	}
	return trades
}

// merge drains the staging area into the books. Participants are resolved by
// name (existing ones reused) and createdAt is stamped here, at admission.
func (e *Engine) merge(now time.Time) {
	e.sellMu.Lock()
	sells := e.stagedSells
	e.stagedSells = nil
	e.sellMu.Unlock()

	for _, st := range sells {
		e.admitSell(st.sellerName, st.order, now)
	}

	e.buyMu.Lock()
	buys := e.stagedBuys
	e.stagedBuys = nil
	e.buyMu.Unlock()

	for _, st := range buys {
		e.admitBuy(st.buyerName, st.order, now)
	}
}

func (e *Engine) admitSell(sellerName string, order *market.SellOrder, now time.Time) {
	book := e.mkt.Book(order.ProductID)
	seller := book.Seller(sellerName)
	if seller.Listener == nil {
		seller.Listener = e.listener
	}
	order.Seller = seller
	order.CreatedAt = now
	book.AddSellOrder(order)
}

func (e *Engine) admitBuy(buyerName string, order *market.BuyOrder, now time.Time) {
	book := e.mkt.Book(order.ProductID)
	buyer := book.Buyer(buyerName)
	if buyer.Listener == nil {
		buyer.Listener = e.listener
	}
	order.Buyer = buyer
	order.CreatedAt = now
	book.AddBuyOrder(order)
}

func (e *Engine) evict(now time.Time) {
	sells, buys := e.mkt.EvictOutdated(e.cfg.Timeout, now)
	for _, o := range sells {
		if e.met != nil {
			e.met.OrderTimedOut("sell")
		}
		if o.Seller.Listener != nil {
			e.notify(o.Seller.Listener, market.Event{Type: market.EventTimeoutSell, SellOrder: o})
		} else {
			e.logger.Debug("incomplete sell order timed out", "order", o.String())
		}
	}
	for _, o := range buys {
		if e.met != nil {
			e.met.OrderTimedOut("buy")
		}
		if o.Buyer.Listener != nil {
			e.notify(o.Buyer.Listener, market.Event{Type: market.EventTimeoutBuy, BuyOrder: o})
		} else {
			e.logger.Debug("incomplete buy order timed out", "order", o.String())
		}
	}
}

// notify delivers an event to a sink. A panicking sink is contained here so
// it cannot take the round down with it.
func (e *Engine) notify(l market.Listener, ev market.Event) {
	if l == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("event sink failed", "event", ev.Type.String(), "error", r)
		}
	}()
	l.OnEvent(ev)
}
