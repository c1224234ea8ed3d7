// Package store persists completed trades and assigns their store ids.
package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/log"
	"github.com/shopspring/decimal"

	"github.com/marketsim/engine/pkg/market"
)

const (
	tradePrefix = "trade:"
	seqKey      = "trade:seq"
)

// TradeRecord is the durable row for one trade. Price and turnover are kept
// as decimal strings so nothing is lost to float formatting.
type TradeRecord struct {
	ID          uint64    `json:"id"`
	BuyerName   string    `json:"buyerName"`
	SellerName  string    `json:"sellerName"`
	ProductID   string    `json:"productId"`
	Price       string    `json:"price"`
	Quantity    int       `json:"quantity"`
	Turnover    string    `json:"turnover"`
	BuyOrderID  int       `json:"buyOrderId"`
	SellOrderID int       `json:"sellOrderId"`
	Timestamp   time.Time `json:"timestamp"`
}

// TradeStore records trades in a key-value database under trade:<id>. The
// id sequence is persisted so ids keep growing across restarts.
type TradeStore struct {
	db     database.Database
	logger log.Logger
	seq    uint64
}

// New opens a trade store over db, restoring the id sequence.
func New(db database.Database, logger log.Logger) (*TradeStore, error) {
	s := &TradeStore{db: db, logger: logger}

	raw, err := db.Get([]byte(seqKey))
	switch {
	case err == nil && len(raw) == 8:
		s.seq = binary.BigEndian.Uint64(raw)
	case err == database.ErrNotFound:
		// fresh store
	case err != nil:
		return nil, fmt.Errorf("failed to restore trade sequence: %w", err)
	}
	return s, nil
}

// Persist writes all trades of a round and fills in their store ids. The
// database is only held for the duration of this call.
func (s *TradeStore) Persist(ctx context.Context, trades []*market.Trade) error {
	for _, t := range trades {
		if err := ctx.Err(); err != nil {
			return err
		}

		id := s.seq + 1
		price := decimal.NewFromFloat(t.Price)
		rec := TradeRecord{
			ID:          id,
			BuyerName:   t.Buyer.Name,
			SellerName:  t.Seller.Name,
			ProductID:   t.ProductID,
			Price:       price.String(),
			Quantity:    t.Quantity,
			Turnover:    price.Mul(decimal.NewFromInt(int64(t.Quantity))).String(),
			BuyOrderID:  t.BuyOrderID,
			SellOrderID: t.SellOrderID,
			Timestamp:   t.Timestamp,
		}

		value, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal trade: %w", err)
		}
		if err := s.db.Put(tradeKey(id), value); err != nil {
			return fmt.Errorf("failed to store trade: %w", err)
		}

		s.seq = id
		t.StoreID = id
	}

	seqRaw := make([]byte, 8)
	binary.BigEndian.PutUint64(seqRaw, s.seq)
	if err := s.db.Put([]byte(seqKey), seqRaw); err != nil {
		return fmt.Errorf("failed to store trade sequence: %w", err)
	}

	s.logger.Debug("persisted trades", "count", len(trades), "lastId", s.seq)
	return nil
}

// Get reads one persisted trade back.
func (s *TradeStore) Get(id uint64) (*TradeRecord, error) {
	raw, err := s.db.Get(tradeKey(id))
	if err != nil {
		return nil, err
	}
	var rec TradeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trade %d: %w", id, err)
	}
	return &rec, nil
}

func tradeKey(id uint64) []byte {
	key := make([]byte, len(tradePrefix)+8)
	copy(key, tradePrefix)
	binary.BigEndian.PutUint64(key[len(tradePrefix):], id)
	return key
}
