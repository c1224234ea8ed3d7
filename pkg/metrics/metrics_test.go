package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsExposedOverHTTP(t *testing.T) {
	m := New("tradingengine")

	m.OrderSubmitted("sell")
	m.OrderSubmitted("sell")
	m.OrderSubmitted("buy")
	m.TradesMatched(3)
	m.OrderTimedOut("buy")
	m.PersistFailed()
	m.RoundCompleted(25 * time.Millisecond)
	m.SetOpenOrders("42", "sell", 7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `tradingengine_orders_submitted_total{side="sell"} 2`)
	assert.Contains(t, body, `tradingengine_orders_submitted_total{side="buy"} 1`)
	assert.Contains(t, body, "tradingengine_trades_matched_total 3")
	assert.Contains(t, body, `tradingengine_orders_timed_out_total{side="buy"} 1`)
	assert.Contains(t, body, "tradingengine_persist_failures_total 1")
	assert.Contains(t, body, `tradingengine_open_orders{product="42",side="sell"} 7`)
}
