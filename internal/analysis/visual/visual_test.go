package visual

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futuresim/internal/backtest"
	"futuresim/internal/types"
)

func sampleInput(n int) backtest.ReportInput {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]backtest.Candle, n)
	snaps := make([]backtest.Snapshot, n)
	for i := range candles {
		open := start.Add(time.Duration(i) * time.Hour).UnixMilli()
		price := 100 + float64(i%7)
		candles[i] = backtest.Candle{OpenTime: open, CloseTime: open + 3_599_999, Open: price, High: price * 1.01, Low: price * 0.99, Close: price, Volume: 10}
		snaps[i] = backtest.Snapshot{TS: open, Balance: 1000, Equity: 1000 + float64(i), Drawdown: float64(i % 3)}
	}
	snaps[n-1].Liquidation = 50
	entry, exit := n/4, n*3/4
	return backtest.ReportInput{
		Run: backtest.Run{ID: "run-1", Pair: "BTCUSDT", Timeframe: "1h", Strategy: "bollinger",
			Stats: backtest.RunStats{ROI: 1.5, Orders: 2}},
		Candles:   candles,
		Snapshots: snaps,
		Fills: []backtest.Fill{
			{Kind: backtest.FillOpen, Position: types.PositionLong, Price: 101, At: candles[entry].Time().Add(10 * time.Minute)},
			{Kind: backtest.FillClose, Position: types.PositionLong, Price: 104, At: candles[exit].Time()},
		},
	}
}

func TestBuildRunHTML(t *testing.T) {
	html, err := BuildRunHTML(sampleInput(40))
	require.NoError(t, err)
	page := string(html)
	assert.Contains(t, page, "BTCUSDT 1h bollinger")
	assert.Contains(t, page, "BB Upper")
	assert.Contains(t, page, "Equity")
	assert.Contains(t, page, "Long entry")

	_, err = BuildRunHTML(backtest.ReportInput{Run: backtest.Run{ID: "empty"}})
	assert.Error(t, err)
}

func TestBuildRunHTMLShortSeriesSkipsBands(t *testing.T) {
	in := sampleInput(5)
	in.Fills = nil
	html, err := BuildRunHTML(in)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(html), "BB Upper"))
}

func TestBuildRunHTMLShortSeriesKeepsMarkers(t *testing.T) {
	for _, n := range []int{1, 2, 5, 11} {
		in := sampleInput(n)
		require.Len(t, in.Fills, 2)
		html, err := BuildRunHTML(in)
		require.NoError(t, err, "n=%d", n)
		assert.Contains(t, string(html), "Long entry", "n=%d", n)
	}
}

func TestReporterWritesHTML(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	r, err := NewReporter(dir, false)
	require.NoError(t, err)

	path, err := r.RenderRunReport(context.Background(), sampleInput(30))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run-1.html"), path)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	_, err = NewReporter(" ", false)
	assert.Error(t, err)
}

func TestBarIndex(t *testing.T) {
	in := sampleInput(4)
	assert.Equal(t, -1, barIndex(in.Candles, in.Candles[0].OpenTime-1))
	assert.Equal(t, 0, barIndex(in.Candles, in.Candles[0].OpenTime))
	assert.Equal(t, 1, barIndex(in.Candles, in.Candles[1].OpenTime+5))
	assert.Equal(t, 3, barIndex(in.Candles, in.Candles[3].OpenTime+10_000_000))
	assert.Equal(t, -1, barIndex(nil, 0))
}
