// Package notify publishes engine events to NATS subjects.
package notify

import (
	"encoding/json"
	"time"

	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"

	"github.com/marketsim/engine/pkg/market"
)

// Publisher forwards engine events to NATS. Publishing is fire and forget:
// a failed publish is logged and never reaches the trading round.
type Publisher struct {
	nc     *nats.Conn
	logger log.Logger
	prefix string
}

// New connects to NATS and returns a publisher using the given subject
// prefix (e.g. "market").
func New(url, prefix string, logger log.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, logger: logger, prefix: prefix}, nil
}

// Close drains the connection.
func (p *Publisher) Close() {
	p.nc.Close()
}

// OnEvent implements market.Listener.
func (p *Publisher) OnEvent(ev market.Event) {
	payload, err := EncodeEvent(ev)
	if err != nil {
		p.logger.Warn("failed to encode event", "event", ev.Type.String(), "error", err)
		return
	}
	if err := p.nc.Publish(p.prefix+SubjectSuffix(ev.Type), payload); err != nil {
		p.logger.Warn("failed to publish event", "event", ev.Type.String(), "error", err)
	}
}

// SubjectSuffix maps an event type to its subject suffix.
func SubjectSuffix(t market.EventType) string {
	switch t {
	case market.EventSale:
		return ".trades.sale"
	case market.EventPurchase:
		return ".trades.purchase"
	case market.EventTimeoutSell:
		return ".timeouts.sell"
	case market.EventTimeoutBuy:
		return ".timeouts.buy"
	case market.EventStats:
		return ".stats"
	case market.EventStopped:
		return ".stopped"
	default:
		return ".unknown"
	}
}

type tradeMessage struct {
	StoreID     uint64    `json:"storeId,omitempty"`
	ProductID   string    `json:"productId"`
	Buyer       string    `json:"buyer"`
	Seller      string    `json:"seller"`
	Price       float64   `json:"price"`
	Quantity    int       `json:"quantity"`
	BuyOrderID  int       `json:"buyOrderId"`
	SellOrderID int       `json:"sellOrderId"`
	Timestamp   time.Time `json:"timestamp"`
}

type timeoutMessage struct {
	OrderID           int       `json:"orderId"`
	ProductID         string    `json:"productId"`
	Quantity          int       `json:"quantity"`
	RemainingQuantity int       `json:"remainingQuantity"`
	CreatedAt         time.Time `json:"createdAt"`
	Owner             string    `json:"owner"`
}

// EncodeEvent renders the wire payload for an event.
func EncodeEvent(ev market.Event) ([]byte, error) {
	switch ev.Type {
	case market.EventSale, market.EventPurchase:
		t := ev.Trade
		return json.Marshal(tradeMessage{
			StoreID:     t.StoreID,
			ProductID:   t.ProductID,
			Buyer:       t.Buyer.Name,
			Seller:      t.Seller.Name,
			Price:       t.Price,
			Quantity:    t.Quantity,
			BuyOrderID:  t.BuyOrderID,
			SellOrderID: t.SellOrderID,
			Timestamp:   t.Timestamp,
		})
	case market.EventTimeoutSell:
		o := ev.SellOrder
		return json.Marshal(timeoutMessage{
			OrderID:           o.ID,
			ProductID:         o.ProductID,
			Quantity:          o.Quantity,
			RemainingQuantity: o.RemainingQuantity,
			CreatedAt:         o.CreatedAt,
			Owner:             o.Seller.Name,
		})
	case market.EventTimeoutBuy:
		o := ev.BuyOrder
		return json.Marshal(timeoutMessage{
			OrderID:           o.ID,
			ProductID:         o.ProductID,
			Quantity:          o.Quantity,
			RemainingQuantity: o.RemainingQuantity,
			CreatedAt:         o.CreatedAt,
			Owner:             o.Buyer.Name,
		})
	case market.EventStats:
		return json.Marshal(ev.Stats)
	default:
		return json.Marshal(map[string]string{"event": ev.Type.String()})
	}
}
