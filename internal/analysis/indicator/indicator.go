// Package indicator computes the technical series used by strategies and
// reports. Series are aligned with their input: entry i describes bar i.
package indicator

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"futuresim/internal/market"
)

// Bands is a Bollinger envelope around a simple moving average.
type Bands struct {
	Periods int
	Upper   []float64
	Middle  []float64
	Lower   []float64
}

// Bollinger computes SMA ± dev standard deviations over periods closes.
func Bollinger(closes []float64, periods int, dev float64) (Bands, error) {
	if periods < 2 {
		return Bands{}, fmt.Errorf("bollinger periods must be >= 2, got %d", periods)
	}
	if dev <= 0 {
		return Bands{}, fmt.Errorf("bollinger deviation must be > 0, got %v", dev)
	}
	if len(closes) < periods {
		return Bands{Periods: periods}, fmt.Errorf("bollinger needs %d closes, got %d", periods, len(closes))
	}
	upper, middle, lower := talib.BBands(closes, periods, dev, dev, talib.SMA)
	return Bands{Periods: periods, Upper: upper, Middle: middle, Lower: lower}, nil
}

// Ready reports whether bar i has a full window behind it.
func (b Bands) Ready(i int) bool {
	return i >= b.Periods-1 && i < len(b.Middle) && valid(b.Middle[i])
}

// Distance is close minus the band middle at bar i.
func (b Bands) Distance(closes []float64, i int) float64 {
	if !b.Ready(i) || i >= len(closes) {
		return 0
	}
	return closes[i] - b.Middle[i]
}

// Window summarizes the last bars of a lookback period.
type Window struct {
	Mean float64
	Low  float64
	High float64
}

// Trailing summarizes the up to period bars ending at idx: mean close,
// lowest low and highest high.
func Trailing(candles []market.Candle, idx, period int) Window {
	if idx < 0 || idx >= len(candles) || period <= 0 {
		return Window{}
	}
	from := max(0, idx+1-period)
	w := Window{Low: math.Inf(1), High: math.Inf(-1)}
	for _, c := range candles[from : idx+1] {
		w.Mean += c.Close
		w.Low = math.Min(w.Low, c.Low)
		w.High = math.Max(w.High, c.High)
	}
	w.Mean /= float64(idx + 1 - from)
	return w
}

// NudgeLow moves the window low toward the mean by frac of the distance.
func (w Window) NudgeLow(frac float64) float64 {
	return w.Low + math.Abs(w.Mean-w.Low)*frac
}

// NudgeHigh moves the window high toward the mean by frac of the distance.
func (w Window) NudgeHigh(frac float64) float64 {
	return w.High - math.Abs(w.Mean-w.High)*frac
}

// ATR returns the average true range series, zero before the first full
// window.
func ATR(candles []market.Candle, period int) ([]float64, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles")
	}
	if period <= 0 {
		period = 14
	}
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}
	return talib.Atr(highs, lows, closes, period), nil
}

// SMA returns the simple moving average series.
func SMA(series []float64, period int) []float64 {
	if period <= 0 || len(series) < period {
		return make([]float64, len(series))
	}
	return talib.Sma(series, period)
}

func valid(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
