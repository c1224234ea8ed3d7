// Package api is the HTTP gateway in front of the trading engines: order
// submission, result polling, price/volume queries and a websocket stream of
// round statistics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luxfi/log"
	"github.com/shopspring/decimal"

	"github.com/marketsim/engine/pkg/market"
)

// ErrUnknownProduct is returned when no engine owns the requested product.
var ErrUnknownProduct = fmt.Errorf("unknown product")

const (
	resultTTL     = time.Minute
	cleanInterval = 5 * time.Second
)

// Engine is the slice of the trading engine the gateway talks to.
type Engine interface {
	SubmitSell(sellerName, productID string, quantity int, askPrice float64, id int) (*market.SellOrder, error)
	SubmitBuy(buyerName, productID string, quantity int, id int) (*market.BuyOrder, error)
	CurrentPrice(productID string) (market.LastPrice, bool)
	CurrentVolume(productID string) market.VolumeRecord
	VolumePerMinute(productID string) market.VolumeRecord
}

type result struct {
	message string
	created time.Time
}

// Gateway routes requests to the engine owning each product and collects
// round results for polling. It implements market.Listener and is meant to
// be registered as the engine-level sink.
type Gateway struct {
	logger  log.Logger
	engines map[string]Engine // productID -> engine

	resultsMu sync.Mutex
	results   map[string]result

	statsMu    sync.RWMutex
	latest     *market.Stats
	timedOut   atomic.Int64
	totalSales atomic.Int64

	clientsMu sync.RWMutex
	clients   map[*wsClient]bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a gateway over a productID -> engine routing table.
func New(engines map[string]Engine, logger log.Logger) *Gateway {
	return &Gateway{
		logger:  logger,
		engines: engines,
		results: make(map[string]result),
		clients: make(map[*wsClient]bool),
	}
}

// Start launches the result cleaner.
func (g *Gateway) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.wg.Add(1)
	go g.cleaner(ctx)
}

// Stop halts the cleaner and disconnects websocket clients.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
		g.wg.Wait()
	}
	g.clientsMu.Lock()
	for c := range g.clients {
		c.close()
	}
	g.clients = make(map[*wsClient]bool)
	g.clientsMu.Unlock()
}

// Handler returns the gateway routes.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sell", g.handleSell)
	mux.HandleFunc("/buy", g.handleBuy)
	mux.HandleFunc("/result", g.handleResult)
	mux.HandleFunc("/price", g.handlePrice)
	mux.HandleFunc("/volume", g.handleVolume)
	mux.HandleFunc("/stats", g.handleStats)
	mux.HandleFunc("/ws", g.handleWS)
	return mux
}

func (g *Gateway) engineFor(productID string) (Engine, error) {
	e, ok := g.engines[productID]
	if !ok {
		return nil, ErrUnknownProduct
	}
	return e, nil
}

func (g *Gateway) handleSell(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	productID := q.Get("productId")
	e, err := g.engineFor(productID)
	if err != nil {
		httpError(w, http.StatusNotFound, err)
		return
	}

	quantity, err := strconv.Atoi(q.Get("quantity"))
	if err != nil {
		httpError(w, http.StatusBadRequest, fmt.Errorf("invalid quantity: %w", err))
		return
	}
	// Decimal parse avoids the float round trip on user-supplied prices.
	price, err := decimal.NewFromString(q.Get("price"))
	if err != nil {
		httpError(w, http.StatusBadRequest, fmt.Errorf("invalid price: %w", err))
		return
	}
	id, err := strconv.Atoi(q.Get("id"))
	if err != nil {
		httpError(w, http.StatusBadRequest, fmt.Errorf("invalid id: %w", err))
		return
	}

	order, err := e.SubmitSell(q.Get("userId"), productID, quantity, price.InexactFloat64(), id)
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"orderId":   order.ID,
		"productId": order.ProductID,
		"quantity":  order.Quantity,
		"askPrice":  order.AskPrice,
	})
}

func (g *Gateway) handleBuy(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	productID := q.Get("productId")
	e, err := g.engineFor(productID)
	if err != nil {
		httpError(w, http.StatusNotFound, err)
		return
	}

	quantity, err := strconv.Atoi(q.Get("quantity"))
	if err != nil {
		httpError(w, http.StatusBadRequest, fmt.Errorf("invalid quantity: %w", err))
		return
	}
	id, err := strconv.Atoi(q.Get("id"))
	if err != nil {
		httpError(w, http.StatusBadRequest, fmt.Errorf("invalid id: %w", err))
		return
	}

	order, err := e.SubmitBuy(q.Get("userId"), productID, quantity, id)
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"orderId":   order.ID,
		"productId": order.ProductID,
		"quantity":  order.Quantity,
	})
}

func (g *Gateway) handleResult(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	g.resultsMu.Lock()
	res, ok := g.results[id]
	g.resultsMu.Unlock()
	if !ok {
		httpError(w, http.StatusNotFound, fmt.Errorf("no result for order %s", id))
		return
	}
	writeJSON(w, map[string]string{"id": id, "result": res.message})
}

func (g *Gateway) handlePrice(w http.ResponseWriter, r *http.Request) {
	productID := r.URL.Query().Get("productId")
	e, err := g.engineFor(productID)
	if err != nil {
		httpError(w, http.StatusNotFound, err)
		return
	}
	mp, ok := e.CurrentPrice(productID)
	if !ok {
		httpError(w, http.StatusNotFound, fmt.Errorf("no price yet for product %s", productID))
		return
	}
	writeJSON(w, mp)
}

func (g *Gateway) handleVolume(w http.ResponseWriter, r *http.Request) {
	productID := r.URL.Query().Get("productId")
	e, err := g.engineFor(productID)
	if err != nil {
		httpError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"window":    e.CurrentVolume(productID),
		"perMinute": e.VolumePerMinute(productID),
	})
}

func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	g.statsMu.RLock()
	latest := g.latest
	g.statsMu.RUnlock()
	writeJSON(w, map[string]interface{}{
		"stats":          latest,
		"totalSales":     g.totalSales.Load(),
		"timedOutOrders": g.timedOut.Load(),
	})
}

// OnEvent implements market.Listener. It never blocks: results go into the
// cache, stats are broadcast best-effort.
func (g *Gateway) OnEvent(ev market.Event) {
	switch ev.Type {
	case market.EventSale:
		g.totalSales.Add(1)
		g.putResult(ev.Trade.SellOrderID, saleMessage("sale", ev.Trade))
	case market.EventPurchase:
		g.putResult(ev.Trade.BuyOrderID, saleMessage("purchase", ev.Trade))
	case market.EventTimeoutSell:
		g.timedOut.Add(1)
		g.putResult(ev.SellOrder.ID, fmt.Sprintf("TIMEOUT %s", ev.SellOrder))
	case market.EventTimeoutBuy:
		g.timedOut.Add(1)
		g.putResult(ev.BuyOrder.ID, fmt.Sprintf("TIMEOUT %s", ev.BuyOrder))
	case market.EventStats:
		g.statsMu.Lock()
		g.latest = ev.Stats
		g.statsMu.Unlock()
		g.broadcast(ev.Stats)
	case market.EventStopped:
		g.logger.Info("engine stopped trading")
	}
}

func saleMessage(kind string, t *market.Trade) string {
	return fmt.Sprintf("%s %s", kind, t)
}

func (g *Gateway) putResult(orderID int, message string) {
	g.resultsMu.Lock()
	g.results[strconv.Itoa(orderID)] = result{message: message, created: time.Now()}
	g.resultsMu.Unlock()
}

// cleaner removes results older than a minute, every 5 seconds. Clients that
// want durable history read the store instead.
func (g *Gateway) cleaner(ctx context.Context) {
	defer g.wg.Done()

	ticker := time.NewTicker(cleanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			g.resultsMu.Lock()
			for id, res := range g.results {
				if now.Sub(res.created) > resultTTL {
					delete(g.results, id)
				}
			}
			g.resultsMu.Unlock()
		}
	}
}

func httpError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
