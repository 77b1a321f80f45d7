package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"futuresim/internal/market"
	"futuresim/internal/pkg/circuit"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exchangeInfoFixture = `{
  "symbols": [
    {"symbol": "BTCUSDT", "filters": [
      {"filterType": "PRICE_FILTER", "tickSize": "0.10"},
      {"filterType": "LOT_SIZE", "minQty": "0.001", "maxQty": "1000", "stepSize": "0.001"}
    ]},
    {"symbol": "ETHUSDT", "filters": [
      {"filterType": "LOT_SIZE", "minQty": "0.01", "maxQty": "10000", "stepSize": "0.01"}
    ]}
  ]
}`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/klines", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
		assert.Equal(t, "1704067200000", r.URL.Query().Get("startTime"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			[1704067200000,"42000.1","42500.0","41900.5","42300.2","120.5",1704070799999,"0",310,"0","0","0"],
			[1704070800000,"42300.2","42400.0","42100.0","42200.0","98.1",1704074399999,"0",250,"0","0","0"]
		]`))
	})
	mux.HandleFunc("/fapi/v1/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(exchangeInfoFixture))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchKlines(t *testing.T) {
	srv := newTestServer(t)
	src, err := New(Config{RESTBaseURL: srv.URL})
	require.NoError(t, err)

	candles, err := src.Fetch(context.Background(), market.FetchRequest{
		Symbol:   "btc/usdt",
		Interval: "1H",
		Start:    1704067200000,
		Limit:    2,
	})
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, int64(1704067200000), candles[0].OpenTime)
	assert.InDelta(t, 41900.5, candles[0].Low, 1e-9)
	assert.InDelta(t, 42300.2, candles[0].Close, 1e-9)
	assert.Equal(t, int64(310), candles[0].Trades)
	assert.Equal(t, "binance", src.Name())
}

func TestFetchRequiresSymbol(t *testing.T) {
	src, err := New(Config{RESTBaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	_, err = src.Fetch(context.Background(), market.FetchRequest{Interval: "1h"})
	assert.Error(t, err)
}

func TestLotFilters(t *testing.T) {
	srv := newTestServer(t)
	src, err := New(Config{RESTBaseURL: srv.URL + "/"})
	require.NoError(t, err)

	filters, err := src.LotFilters(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Contains(t, filters, "BTCUSDT")
	assert.InDelta(t, 0.001, filters["BTCUSDT"].MinQty, 1e-12)
	assert.NotContains(t, filters, "ETHUSDT")

	all, err := src.LotFilters(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = src.LotFilters(context.Background(), "DOGEUSDT")
	assert.Error(t, err)
}

func TestExchangeSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", exchangeSymbol(" btc/usdt "))
	assert.Equal(t, "ETHUSDT", exchangeSymbol("ETH-USDT"))
}

func TestFetchOpensBreaker(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":-1000,"msg":"down"}`))
	}))
	t.Cleanup(srv.Close)
	src, err := New(Config{RESTBaseURL: srv.URL, BreakerThreshold: 2, BreakerCooldown: time.Hour})
	require.NoError(t, err)

	req := market.FetchRequest{Symbol: "BTCUSDT", Interval: "1h", Limit: 10}
	for i := 0; i < 2; i++ {
		_, err = src.Fetch(context.Background(), req)
		require.Error(t, err)
	}
	_, err = src.Fetch(context.Background(), req)
	assert.ErrorIs(t, err, circuit.ErrOpen)
	assert.Equal(t, 2, hits)
}

func TestToCandleRejectsBadNumbers(t *testing.T) {
	_, err := toCandle(&futures.Kline{OpenTime: 1, Open: "1", High: "x", Low: "1", Close: "1", Volume: "1"})
	assert.ErrorContains(t, err, "bad high")
}

func TestFetchDropsFormingKline(t *testing.T) {
	srv := newTestServer(t)
	src, err := New(Config{RESTBaseURL: srv.URL})
	require.NoError(t, err)
	src.now = func() time.Time { return time.UnixMilli(1704074000000) }

	candles, err := src.Fetch(context.Background(), market.FetchRequest{Symbol: "BTCUSDT", Interval: "1h", Start: 1704067200000, Limit: 2})
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, int64(1704067200000), candles[0].OpenTime)
}
