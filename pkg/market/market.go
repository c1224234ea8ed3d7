package market

import (
	"sort"
	"time"
)

// Market is a collection of order books keyed by product. One engine instance
// owns exactly one Market; products are partitioned across instances by the
// caller, never shared.
type Market struct {
	books map[string]*OrderBook
}

// NewMarket creates an empty market.
func NewMarket() *Market {
	return &Market{books: make(map[string]*OrderBook)}
}

// Book returns the order book for a product, creating it on first use.
func (m *Market) Book(productID string) *OrderBook {
	b, ok := m.books[productID]
	if !ok {
		b = NewOrderBook(productID)
		m.books[productID] = b
	}
	return b
}

// productIDs returns all known products in deterministic order.
func (m *Market) productIDs() []string {
	ids := make([]string, 0, len(m.books))
	for id := range m.books {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Trade runs one matching round over every product that has at least one
// open order and returns the trades in the order they were generated.
func (m *Market) Trade(now time.Time) []*Trade {
	var trades []*Trade
	for _, id := range m.productIDs() {
		b := m.books[id]
		if b.OpenOrderCount() == 0 {
			continue
		}
		trades = append(trades, b.Match(now)...)
	}
	return trades
}

// EvictOutdated removes timed-out orders from every book.
func (m *Market) EvictOutdated(timeout time.Duration, now time.Time) ([]*SellOrder, []*BuyOrder) {
	var sells []*SellOrder
	var buys []*BuyOrder
	for _, id := range m.productIDs() {
		s, b := m.books[id].EvictOutdated(timeout, now)
		sells = append(sells, s...)
		buys = append(buys, b...)
	}
	return sells, buys
}

// Summaries reports the depth of every book, sorted by product id.
func (m *Market) Summaries() []BookSummary {
	out := make([]BookSummary, 0, len(m.books))
	for _, id := range m.productIDs() {
		out = append(out, m.books[id].Summary())
	}
	return out
}
