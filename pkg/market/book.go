package market

import (
	"sort"
	"time"
)

// OrderBook holds the open sell and buy orders for one product, together with
// the participants that own them. All state is reachable only through the
// owning Market; there is no shared registry across books.
type OrderBook struct {
	ProductID string

	sellers map[string]*Seller
	buyers  map[string]*Buyer

	sells []*SellOrder
	buys  []*BuyOrder
}

// NewOrderBook creates an empty book for one product.
func NewOrderBook(productID string) *OrderBook {
	return &OrderBook{
		ProductID: productID,
		sellers:   make(map[string]*Seller),
		buyers:    make(map[string]*Buyer),
	}
}

// Seller returns the seller registered under name, creating it on first use.
// Identity is the name; the same seller object is reused for later orders.
func (b *OrderBook) Seller(name string) *Seller {
	s, ok := b.sellers[name]
	if !ok {
		s = &Seller{Name: name}
		b.sellers[name] = s
	}
	return s
}

// Buyer returns the buyer registered under name, creating it on first use.
func (b *OrderBook) Buyer(name string) *Buyer {
	buyer, ok := b.buyers[name]
	if !ok {
		buyer = &Buyer{Name: name}
		b.buyers[name] = buyer
	}
	return buyer
}

// AddSellOrder admits an open sell order. CreatedAt must already be stamped
// by the caller (admission time, not submission time).
func (b *OrderBook) AddSellOrder(o *SellOrder) {
	b.sells = append(b.sells, o)
	o.Seller.orders = append(o.Seller.orders, o)
}

// AddBuyOrder admits an open buy order.
func (b *OrderBook) AddBuyOrder(o *BuyOrder) {
	b.buys = append(b.buys, o)
	o.Buyer.orders = append(o.Buyer.orders, o)
}

func (b *OrderBook) removeSell(o *SellOrder) {
	for i, so := range b.sells {
		if so == o {
			b.sells = append(b.sells[:i], b.sells[i+1:]...)
			break
		}
	}
	for i, so := range o.Seller.orders {
		if so == o {
			o.Seller.orders = append(o.Seller.orders[:i], o.Seller.orders[i+1:]...)
			break
		}
	}
}

func (b *OrderBook) removeBuy(o *BuyOrder) {
	for i, bo := range b.buys {
		if bo == o {
			b.buys = append(b.buys[:i], b.buys[i+1:]...)
			break
		}
	}
	for i, bo := range o.Buyer.orders {
		if bo == o {
			o.Buyer.orders = append(o.Buyer.orders[:i], o.Buyer.orders[i+1:]...)
			break
		}
	}
}

// EvictOutdated removes every open order whose age exceeds timeout and
// returns the evicted orders. An evicted order is gone for good: it can never
// match afterwards, even if a compatible counterpart shows up later.
func (b *OrderBook) EvictOutdated(timeout time.Duration, now time.Time) ([]*SellOrder, []*BuyOrder) {
	var sells []*SellOrder
	for _, o := range append([]*SellOrder(nil), b.sells...) {
		if now.Sub(o.CreatedAt) > timeout {
			b.removeSell(o)
			sells = append(sells, o)
		}
	}
	var buys []*BuyOrder
	for _, o := range append([]*BuyOrder(nil), b.buys...) {
		if now.Sub(o.CreatedAt) > timeout {
			b.removeBuy(o)
			buys = append(buys, o)
		}
	}
	return sells, buys
}

// Match runs one round of continuous double-auction matching. Sell orders are
// consumed cheapest first (ties broken by admission time, then id); buy
// orders are processed in arrival order and, having no price ceiling, sweep
// as many sellers as their quantity allows. The matched price is always the
// seller's ask. Filled orders are removed from the book; partially filled
// ones stay for the next round.
func (b *OrderBook) Match(now time.Time) []*Trade {
	if len(b.sells) == 0 || len(b.buys) == 0 {
		return nil
	}

	sells := append([]*SellOrder(nil), b.sells...)
	sort.SliceStable(sells, func(i, j int) bool {
		if sells[i].AskPrice != sells[j].AskPrice {
			return sells[i].AskPrice < sells[j].AskPrice
		}
		if !sells[i].CreatedAt.Equal(sells[j].CreatedAt) {
			return sells[i].CreatedAt.Before(sells[j].CreatedAt)
		}
		return sells[i].ID < sells[j].ID
	})

	buys := append([]*BuyOrder(nil), b.buys...)
	sort.SliceStable(buys, func(i, j int) bool {
		if !buys[i].CreatedAt.Equal(buys[j].CreatedAt) {
			return buys[i].CreatedAt.Before(buys[j].CreatedAt)
		}
		return buys[i].ID < buys[j].ID
	})

	var trades []*Trade
	for _, buy := range buys {
		for buy.RemainingQuantity > 0 && len(sells) > 0 {
			sell := sells[0]

			qty := buy.RemainingQuantity
			if sell.RemainingQuantity < qty {
				qty = sell.RemainingQuantity
			}

			buy.RemainingQuantity -= qty
			sell.RemainingQuantity -= qty

			trades = append(trades, &Trade{
				ProductID:   b.ProductID,
				Buyer:       buy.Buyer,
				Seller:      sell.Seller,
				Price:       sell.AskPrice,
				Quantity:    qty,
				BuyOrderID:  buy.ID,
				SellOrderID: sell.ID,
				Timestamp:   now,
			})

			if sell.RemainingQuantity == 0 {
				sells = sells[1:]
				b.removeSell(sell)
			}
		}
		if buy.RemainingQuantity == 0 {
			b.removeBuy(buy)
		} else if len(sells) == 0 {
			// Supply exhausted; the remaining buys carry over unmatched.
			break
		}
	}
	return trades
}

// Summary reports the current depth of the book.
func (b *OrderBook) Summary() BookSummary {
	s := BookSummary{ProductID: b.ProductID}
	for _, o := range b.sells {
		s.OpenSellOrders++
		s.SellVolume += o.RemainingQuantity
		if s.BestAsk == 0 || o.AskPrice < s.BestAsk {
			s.BestAsk = o.AskPrice
		}
	}
	for _, o := range b.buys {
		s.OpenBuyOrders++
		s.BuyVolume += o.RemainingQuantity
	}
	return s
}

// OpenOrderCount returns the number of open orders on both sides.
func (b *OrderBook) OpenOrderCount() int {
	return len(b.sells) + len(b.buys)
}
