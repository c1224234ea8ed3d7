package store

import (
	"context"
	"testing"
	"time"

	"github.com/luxfi/database/manager"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketsim/engine/pkg/market"
)

func newTestStore(t *testing.T) *TradeStore {
	t.Helper()

	dbManager := manager.NewManager(t.TempDir(), nil)
	db, err := dbManager.New(manager.DefaultMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	level, _ := log.ToLevel("debug")
	s, err := New(db, log.NewTestLogger(level))
	require.NoError(t, err)
	return s
}

func sampleTrades(n int) []*market.Trade {
	buyer := &market.Buyer{Name: "bert"}
	seller := &market.Seller{Name: "anna"}
	trades := make([]*market.Trade, 0, n)
	for i := 0; i < n; i++ {
		trades = append(trades, &market.Trade{
			ProductID:   "42",
			Buyer:       buyer,
			Seller:      seller,
			Price:       10.5,
			Quantity:    3,
			BuyOrderID:  100 + i,
			SellOrderID: 200 + i,
			Timestamp:   time.Now(),
		})
	}
	return trades
}

func TestPersistAssignsIncreasingIDs(t *testing.T) {
	s := newTestStore(t)

	trades := sampleTrades(3)
	require.NoError(t, s.Persist(context.Background(), trades))

	assert.Equal(t, uint64(1), trades[0].StoreID)
	assert.Equal(t, uint64(2), trades[1].StoreID)
	assert.Equal(t, uint64(3), trades[2].StoreID)

	more := sampleTrades(1)
	require.NoError(t, s.Persist(context.Background(), more))
	assert.Equal(t, uint64(4), more[0].StoreID)
}

func TestPersistedTradeReadsBack(t *testing.T) {
	s := newTestStore(t)

	trades := sampleTrades(1)
	require.NoError(t, s.Persist(context.Background(), trades))

	rec, err := s.Get(trades[0].StoreID)
	require.NoError(t, err)

	assert.Equal(t, "bert", rec.BuyerName)
	assert.Equal(t, "anna", rec.SellerName)
	assert.Equal(t, "42", rec.ProductID)
	assert.Equal(t, "10.5", rec.Price, "price survives as an exact decimal string")
	assert.Equal(t, "31.5", rec.Turnover)
	assert.Equal(t, 3, rec.Quantity)
}

func TestGetUnknownTrade(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(999)
	assert.Error(t, err)
}

func TestPersistRespectsContext(t *testing.T) {
	s := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Persist(ctx, sampleTrades(1))
	assert.Error(t, err)
}
