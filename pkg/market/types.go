// Package market implements the order model, per-product order books and
// the price-time-priority matching round for a continuous double auction.
package market

import (
	"fmt"
	"time"
)

// Errors
var (
	ErrInvalidQuantity = fmt.Errorf("invalid quantity")
	ErrInvalidPrice    = fmt.Errorf("invalid ask price")
)

// EventType identifies what a Listener is being told about.
type EventType int

const (
	EventSale EventType = iota
	EventPurchase
	EventTimeoutSell
	EventTimeoutBuy
	EventStats
	EventStopped
)

func (t EventType) String() string {
	switch t {
	case EventSale:
		return "SALE"
	case EventPurchase:
		return "PURCHASE"
	case EventTimeoutSell:
		return "TIMEOUT_SELL"
	case EventTimeoutBuy:
		return "TIMEOUT_BUY"
	case EventStats:
		return "STATS"
	case EventStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Event is a closed variant: exactly one payload field is set, determined by
// Type. Trade for SALE/PURCHASE, SellOrder/BuyOrder for the timeout kinds,
// Stats for STATS, nothing for STOPPED.
type Event struct {
	Type      EventType
	Trade     *Trade
	SellOrder *SellOrder
	BuyOrder  *BuyOrder
	Stats     *Stats
}

// Listener receives engine events. Implementations must not block and must
// not let failures escape back into the trading round.
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(ev Event) { f(ev) }

// Seller owns open sell orders. Identity is the name, case-sensitive.
type Seller struct {
	Name     string
	Listener Listener

	orders []*SellOrder
}

// Buyer owns open buy orders. Identity is the name, case-sensitive.
type Buyer struct {
	Name     string
	Listener Listener

	orders []*BuyOrder
}

// OpenOrders returns the seller's open orders.
func (s *Seller) OpenOrders() []*SellOrder {
	return append([]*SellOrder(nil), s.orders...)
}

// OpenOrders returns the buyer's open orders.
func (b *Buyer) OpenOrders() []*BuyOrder {
	return append([]*BuyOrder(nil), b.orders...)
}

// SellOrder is an offer of Quantity units at AskPrice. RemainingQuantity only
// ever decreases; the order leaves the book when it reaches zero or when the
// order times out.
type SellOrder struct {
	ID                int
	ProductID         string
	Quantity          int
	RemainingQuantity int
	AskPrice          float64
	CreatedAt         time.Time
	Seller            *Seller
}

func (o *SellOrder) String() string {
	return fmt.Sprintf("SO{id=%d product=%s ask=%.4f remaining=%d/%d seller=%s}",
		o.ID, o.ProductID, o.AskPrice, o.RemainingQuantity, o.Quantity, o.Seller.Name)
}

// BuyOrder has no price ceiling: the buyer pays whatever the matched ask is.
type BuyOrder struct {
	ID                int
	ProductID         string
	Quantity          int
	RemainingQuantity int
	CreatedAt         time.Time
	Buyer             *Buyer
}

func (o *BuyOrder) String() string {
	return fmt.Sprintf("PO{id=%d product=%s remaining=%d/%d buyer=%s}",
		o.ID, o.ProductID, o.RemainingQuantity, o.Quantity, o.Buyer.Name)
}

// Trade records one match. StoreID is zero until the trade has been durably
// persisted, at which point the store fills it in.
type Trade struct {
	StoreID     uint64
	ProductID   string
	Buyer       *Buyer
	Seller      *Seller
	Price       float64
	Quantity    int
	BuyOrderID  int
	SellOrderID int
	Timestamp   time.Time
}

func (t *Trade) String() string {
	return fmt.Sprintf("Trade{product=%s price=%.4f qty=%d buyer=%s seller=%s}",
		t.ProductID, t.Price, t.Quantity, t.Buyer.Name, t.Seller.Name)
}

// LastPrice is the most recent trade price for a product.
type LastPrice struct {
	ProductID string
	Price     float64
	Timestamp time.Time
}

// VolumeRecord is one volume sample, or the sum of several. A freshly sampled
// record has Count == 1 and a timestamp; a combined record carries no
// timestamp and is not itself replayable.
type VolumeRecord struct {
	ProductID     string
	NumberOfSales int
	Turnover      float64
	Timestamp     time.Time
	Count         int
}

// Add combines two volume records by summing. The result has no timestamp.
func (v VolumeRecord) Add(o VolumeRecord) VolumeRecord {
	return VolumeRecord{
		ProductID:     o.ProductID,
		NumberOfSales: v.NumberOfSales + o.NumberOfSales,
		Turnover:      v.Turnover + o.Turnover,
		Count:         v.Count + o.Count,
	}
}

// BookSummary is the per-product line of a stats snapshot.
type BookSummary struct {
	ProductID      string  `json:"productId"`
	OpenSellOrders int     `json:"openSellOrders"`
	OpenBuyOrders  int     `json:"openBuyOrders"`
	SellVolume     int     `json:"sellVolume"`
	BuyVolume      int     `json:"buyVolume"`
	BestAsk        float64 `json:"bestAsk"`
}

// Stats is the payload of an EventStats: the book summaries plus the current
// last-price and windowed-volume tables.
type Stats struct {
	Books   []BookSummary           `json:"books"`
	Prices  map[string]LastPrice    `json:"prices"`
	Volumes map[string]VolumeRecord `json:"volumes"`
}
