// Package market holds the bar types shared by sources, stores and the
// simulation driver.
package market

import (
	"fmt"
	"time"
)

// Candle is one OHLCV bar. Times are Unix milliseconds.
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// Time is the bar open time in UTC.
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.OpenTime).UTC()
}

// Validate checks that the prices are positive and low/high bound the bar.
func (c Candle) Validate() error {
	if c.Low <= 0 || c.High <= 0 || c.Open <= 0 || c.Close <= 0 {
		return fmt.Errorf("candle %d: prices must be positive", c.OpenTime)
	}
	if c.Low > c.High || c.Open < c.Low || c.Open > c.High || c.Close < c.Low || c.Close > c.High {
		return fmt.Errorf("candle %d: low %.8f high %.8f do not bound open %.8f close %.8f", c.OpenTime, c.Low, c.High, c.Open, c.Close)
	}
	return nil
}

func (c Candle) TimeString() string {
	if c.OpenTime <= 0 {
		return "-"
	}
	return c.Time().Format("2006-01-02 15:04") + "Z"
}

type Candles []Candle

// Closes returns the close series.
func (cs Candles) Closes() []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Close
	}
	return out
}

// Span returns the first and last open times.
func (cs Candles) Span() (first, last int64) {
	if len(cs) == 0 {
		return 0, 0
	}
	return cs[0].OpenTime, cs[len(cs)-1].OpenTime
}

// FetchRequest asks a source for klines of one symbol and interval.
type FetchRequest struct {
	Symbol   string
	Interval string
	Start    int64 // Unix ms
	End      int64 // Unix ms, 0 for open ended
	Limit    int
}
