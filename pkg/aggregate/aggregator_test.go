package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketsim/engine/pkg/market"
)

func trade(product string, qty int, price float64, at time.Time) *market.Trade {
	return &market.Trade{
		ProductID: product,
		Buyer:     &market.Buyer{Name: "b"},
		Seller:    &market.Seller{Name: "s"},
		Price:     price,
		Quantity:  qty,
		Timestamp: at,
	}
}

func TestWindowedVolumeCombines(t *testing.T) {
	now := time.Now()
	a := New(WithClock(func() time.Time { return now }))

	a.Record(trade("P", 2, 10, now))
	a.Record(trade("P", 3, 12, now))

	vr := a.CurrentVolume("P")
	assert.Equal(t, 5, vr.NumberOfSales)
	assert.Equal(t, 2, vr.Count)
	assert.InDelta(t, 2*10+3*12.0, vr.Turnover, 1e-9)
	assert.True(t, vr.Timestamp.IsZero(), "combined record carries no timestamp")
}

func TestStaleSamplesExcluded(t *testing.T) {
	now := time.Now()
	clock := now
	a := New(WithClock(func() time.Time { return clock }))

	a.Record(trade("P", 2, 10, now))

	clock = now.Add(11 * time.Second)
	a.Record(trade("P", 3, 10, clock))

	vr := a.CurrentVolume("P")
	assert.Equal(t, 3, vr.NumberOfSales, "sample older than the window must be purged")
	assert.Equal(t, 1, vr.Count)
}

func TestEmptyVolumeIsZeroRecord(t *testing.T) {
	a := New()
	vr := a.CurrentVolume("nothing")
	assert.Equal(t, "nothing", vr.ProductID)
	assert.Zero(t, vr.NumberOfSales)
	assert.Zero(t, vr.Turnover)
	assert.Zero(t, vr.Count)
}

func TestLastPriceMonotonic(t *testing.T) {
	now := time.Now()
	a := New(WithClock(func() time.Time { return now }))

	a.Record(trade("P", 1, 10, now))
	a.Record(trade("P", 1, 99, now.Add(-time.Second))) // out-of-order, must not apply

	mp, ok := a.CurrentPrice("P")
	require.True(t, ok)
	assert.Equal(t, 10.0, mp.Price)

	// Equal timestamp replaces: the later-applied trade wins the tie.
	a.Record(trade("P", 1, 11, now))
	mp, _ = a.CurrentPrice("P")
	assert.Equal(t, 11.0, mp.Price)
}

func TestNoPriceForUnknownProduct(t *testing.T) {
	a := New()
	_, ok := a.CurrentPrice("missing")
	assert.False(t, ok)
}

func TestPerMinuteScaling(t *testing.T) {
	now := time.Now()
	a := New(WithWindow(10*time.Second), WithClock(func() time.Time { return now }))

	a.Record(trade("P", 5, 2, now))

	vr := a.PerMinute("P")
	assert.Equal(t, 30, vr.NumberOfSales, "10s window scales x6 to a minute")
	assert.InDelta(t, 60.0, vr.Turnover, 1e-9)
}

func TestVolumesSnapshotPurges(t *testing.T) {
	now := time.Now()
	clock := now
	a := New(WithClock(func() time.Time { return clock }))

	a.Record(trade("P", 2, 10, now))
	clock = now.Add(time.Minute)

	vols := a.Volumes()
	_, ok := vols["P"]
	assert.False(t, ok, "fully stale product should drop out of the table")
}
