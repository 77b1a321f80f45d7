package backtest

import (
	"context"
	"sync"
	"time"

	"futuresim/internal/market"
)

// hourly builds n one-hour candles starting at start with closes from
// prices, cycling when n exceeds len(prices).
func hourly(start time.Time, n int, prices ...float64) []Candle {
	out := make([]Candle, n)
	step := time.Hour.Milliseconds()
	for i := range out {
		p := prices[i%len(prices)]
		open := start.UnixMilli() + int64(i)*step
		out[i] = Candle{
			OpenTime:  open,
			CloseTime: open + step - 1,
			Open:      p,
			High:      p * 1.01,
			Low:       p * 0.99,
			Close:     p,
			Volume:    10,
		}
	}
	return out
}

// fakeSource serves candles from memory, honouring Start, End and Limit.
type fakeSource struct {
	mu      sync.Mutex
	candles []Candle
	calls   int
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(_ context.Context, req market.FetchRequest) ([]Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	var out []Candle
	for _, c := range f.candles {
		if c.OpenTime < req.Start || (req.End > 0 && c.OpenTime > req.End) {
			continue
		}
		out = append(out, c)
		if req.Limit > 0 && len(out) == req.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
