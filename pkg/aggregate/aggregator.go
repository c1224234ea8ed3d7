// Package aggregate maintains last-trade prices and windowed volume samples
// for each product.
package aggregate

import (
	"sync"
	"time"

	"github.com/marketsim/engine/pkg/market"
)

// Window is the default retention span for volume samples.
const Window = 10 * time.Second

// Aggregator tracks the last price per product and a sliding window of
// volume samples. It is written by the trading round and read by the
// gateway, so access is serialized internally.
type Aggregator struct {
	mu      sync.Mutex
	window  time.Duration
	prices  map[string]market.LastPrice
	volumes map[string][]market.VolumeRecord
	now     func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithWindow overrides the retention window.
func WithWindow(w time.Duration) Option {
	return func(a *Aggregator) { a.window = w }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// New creates an aggregator with the default 10s window.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		window:  Window,
		prices:  make(map[string]market.LastPrice),
		volumes: make(map[string][]market.VolumeRecord),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Record applies one trade: updates the last price (unless the trade is
// older than the stored one) and appends a volume sample. Stale samples are
// purged first.
func (a *Aggregator) Record(t *market.Trade) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.purgeLocked(a.now())

	if mp, ok := a.prices[t.ProductID]; !ok || !mp.Timestamp.After(t.Timestamp) {
		a.prices[t.ProductID] = market.LastPrice{
			ProductID: t.ProductID,
			Price:     t.Price,
			Timestamp: t.Timestamp,
		}
	}

	a.volumes[t.ProductID] = append(a.volumes[t.ProductID], market.VolumeRecord{
		ProductID:     t.ProductID,
		NumberOfSales: t.Quantity,
		Turnover:      float64(t.Quantity) * t.Price,
		Timestamp:     t.Timestamp,
		Count:         1,
	})
}

// CurrentPrice returns the last known price for a product.
func (a *Aggregator) CurrentPrice(productID string) (market.LastPrice, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	mp, ok := a.prices[productID]
	return mp, ok
}

// CurrentVolume returns the combined volume record over the retention
// window: stale samples are purged, the remainder folded. An all-zero record
// is returned when no samples exist.
func (a *Aggregator) CurrentVolume(productID string) market.VolumeRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.purgeLocked(a.now())

	combined := market.VolumeRecord{ProductID: productID}
	for _, vr := range a.volumes[productID] {
		combined = combined.Add(vr)
	}
	combined.ProductID = productID
	return combined
}

// PerMinute estimates per-minute volume: the windowed sum scaled by
// 60s / window.
func (a *Aggregator) PerMinute(productID string) market.VolumeRecord {
	vr := a.CurrentVolume(productID)
	scale := float64(time.Minute) / float64(a.window)
	vr.NumberOfSales = int(float64(vr.NumberOfSales) * scale)
	vr.Turnover = vr.Turnover * scale
	vr.Count = int(float64(vr.Count) * scale)
	return vr
}

// Prices returns a copy of the last-price table.
func (a *Aggregator) Prices() map[string]market.LastPrice {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]market.LastPrice, len(a.prices))
	for k, v := range a.prices {
		out[k] = v
	}
	return out
}

// Volumes returns the combined volume record per product, after purging.
func (a *Aggregator) Volumes() map[string]market.VolumeRecord {
	a.mu.Lock()
	a.purgeLocked(a.now())
	ids := make([]string, 0, len(a.volumes))
	for id := range a.volumes {
		ids = append(ids, id)
	}
	a.mu.Unlock()

	out := make(map[string]market.VolumeRecord, len(ids))
	for _, id := range ids {
		out[id] = a.CurrentVolume(id)
	}
	return out
}

// Purge drops samples older than the window.
func (a *Aggregator) Purge() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.purgeLocked(a.now())
}

func (a *Aggregator) purgeLocked(now time.Time) {
	for id, vrs := range a.volumes {
		kept := vrs[:0]
		for _, vr := range vrs {
			if now.Sub(vr.Timestamp) < a.window {
				kept = append(kept, vr)
			}
		}
		if len(kept) == 0 {
			delete(a.volumes, id)
			continue
		}
		a.volumes[id] = kept
	}
}
