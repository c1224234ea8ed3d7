package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketsim/engine/pkg/engine"
)

type fixture struct {
	gw  *Gateway
	eng *engine.Engine
	srv *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	level, _ := log.ToLevel("debug")
	logger := log.NewTestLogger(level)

	engines := make(map[string]Engine)
	gw := New(engines, logger)

	eng := engine.New(
		engine.Config{Delay: time.Millisecond, Timeout: time.Minute},
		logger,
		engine.WithListener(gw),
	)
	engines["42"] = eng

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	return &fixture{gw: gw, eng: eng, srv: srv}
}

func (f *fixture) get(t *testing.T, path string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestSellAndBuyReturnHandles(t *testing.T) {
	f := newFixture(t)

	code, body := f.get(t, "/sell?userId=anna&productId=42&quantity=5&price=10.5&id=1")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["orderId"])
	assert.Equal(t, 10.5, body["askPrice"])

	code, body = f.get(t, "/buy?userId=bert&productId=42&quantity=3&id=2")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(3), body["quantity"])
}

func TestSubmissionValidationErrors(t *testing.T) {
	f := newFixture(t)

	code, body := f.get(t, "/sell?userId=anna&productId=42&quantity=0&price=10&id=1")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "quantity")

	code, _ = f.get(t, "/sell?userId=anna&productId=42&quantity=5&price=nan.00&id=1")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.get(t, "/buy?userId=bert&productId=42&quantity=five&id=2")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestUnknownProductRejected(t *testing.T) {
	f := newFixture(t)

	code, _ := f.get(t, "/sell?userId=anna&productId=99&quantity=5&price=10&id=1")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestResultAvailableAfterRound(t *testing.T) {
	f := newFixture(t)

	f.get(t, "/sell?userId=anna&productId=42&quantity=3&price=8&id=11")
	f.get(t, "/buy?userId=bert&productId=42&quantity=3&id=22")

	f.eng.RunOnce(context.Background())

	code, body := f.get(t, "/result?id=11")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body["result"], "sale")

	code, body = f.get(t, "/result?id=22")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body["result"], "purchase")

	code, _ = f.get(t, "/result?id=404")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPriceAndVolumeEndpoints(t *testing.T) {
	f := newFixture(t)

	code, _ := f.get(t, "/price?productId=42")
	assert.Equal(t, http.StatusNotFound, code, "no price before any trade")

	f.get(t, "/sell?userId=anna&productId=42&quantity=2&price=7&id=1")
	f.get(t, "/buy?userId=bert&productId=42&quantity=2&id=2")
	f.eng.RunOnce(context.Background())

	code, body := f.get(t, "/price?productId=42")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 7.0, body["Price"])

	code, body = f.get(t, "/volume?productId=42")
	assert.Equal(t, http.StatusOK, code)
	window := body["window"].(map[string]interface{})
	assert.Equal(t, float64(2), window["NumberOfSales"])
	perMinute := body["perMinute"].(map[string]interface{})
	assert.Equal(t, float64(12), perMinute["NumberOfSales"], "10s window scales x6")
}

func TestStatsEndpoint(t *testing.T) {
	f := newFixture(t)

	f.get(t, "/sell?userId=anna&productId=42&quantity=2&price=7&id=1")
	f.eng.RunOnce(context.Background())

	code, body := f.get(t, "/stats")
	assert.Equal(t, http.StatusOK, code)
	require.NotNil(t, body["stats"])
	stats := body["stats"].(map[string]interface{})
	books := stats["books"].([]interface{})
	require.Len(t, books, 1)
	assert.Equal(t, float64(1), books[0].(map[string]interface{})["openSellOrders"])
}

func TestTimeoutCountedAndReported(t *testing.T) {
	level, _ := log.ToLevel("debug")
	logger := log.NewTestLogger(level)

	engines := make(map[string]Engine)
	gw := New(engines, logger)

	now := time.Now()
	clockNow := now
	eng := engine.New(
		engine.Config{Delay: time.Millisecond, Timeout: 10 * time.Second},
		logger,
		engine.WithListener(gw),
		engine.WithClock(func() time.Time { return clockNow }),
	)
	engines["42"] = eng

	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()
	f := &fixture{gw: gw, eng: eng, srv: srv}

	f.get(t, "/sell?userId=anna&productId=42&quantity=2&price=7&id=33")
	eng.RunOnce(context.Background())

	clockNow = now.Add(time.Minute)
	eng.RunOnce(context.Background())

	code, body := f.get(t, "/result?id=33")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body["result"], "TIMEOUT")

	_, statsBody := f.get(t, "/stats")
	assert.Equal(t, float64(1), statsBody["timedOutOrders"])
}
