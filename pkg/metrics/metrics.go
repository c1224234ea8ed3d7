// Package metrics exposes Prometheus metrics for the trading engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	ordersSubmitted *prometheus.CounterVec
	tradesMatched   prometheus.Counter
	ordersTimedOut  *prometheus.CounterVec
	persistFailures prometheus.Counter
	roundDuration   prometheus.Histogram
	openOrders      *prometheus.GaugeVec
}

// New creates and registers the engine metrics under a namespace.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		ordersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_submitted_total",
			Help:      "Total number of orders submitted",
		}, []string{"side"}),

		tradesMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_matched_total",
			Help:      "Total number of trades matched",
		}),

		ordersTimedOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_timed_out_total",
			Help:      "Total number of orders evicted on timeout",
		}, []string{"side"}),

		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Total number of failed trade persistence attempts",
		}),

		roundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_duration_seconds",
			Help:      "Duration of one trading round",
			Buckets:   prometheus.DefBuckets,
		}),

		openOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_orders",
			Help:      "Open orders currently in the book",
		}, []string{"product", "side"}),
	}

	registry.MustRegister(
		m.ordersSubmitted,
		m.tradesMatched,
		m.ordersTimedOut,
		m.persistFailures,
		m.roundDuration,
		m.openOrders,
	)

	return m
}

// OrderSubmitted counts one submission on the given side ("buy" or "sell").
func (m *Metrics) OrderSubmitted(side string) {
	m.ordersSubmitted.WithLabelValues(side).Inc()
}

// TradesMatched counts trades produced by a round.
func (m *Metrics) TradesMatched(n int) {
	m.tradesMatched.Add(float64(n))
}

// OrderTimedOut counts an eviction on the given side.
func (m *Metrics) OrderTimedOut(side string) {
	m.ordersTimedOut.WithLabelValues(side).Inc()
}

// PersistFailed counts a failed persistence attempt.
func (m *Metrics) PersistFailed() {
	m.persistFailures.Inc()
}

// RoundCompleted records the duration of one round.
func (m *Metrics) RoundCompleted(d time.Duration) {
	m.roundDuration.Observe(d.Seconds())
}

// SetOpenOrders records the current depth of a book side.
func (m *Metrics) SetOpenOrders(product, side string, n int) {
	m.openOrders.WithLabelValues(product, side).Set(float64(n))
}

// Handler returns an HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
