package strategy

import (
	"context"
	"fmt"

	"futuresim/internal/analysis/indicator"
	"futuresim/internal/backtest"
	"futuresim/internal/market"
	"futuresim/internal/types"
)

const BollingerName = "bollinger"

// BollingerParams configures the band strategy.
type BollingerParams struct {
	Periods int     `json:"periods"`
	Dev     float64 `json:"dev"`
	// Window is the lookback of the limit price anchors.
	Window int `json:"window"`
	// Nudge moves the limit price from the window extreme toward its mean.
	Nudge float64 `json:"nudge"`
	// InvestDivisor sizes entries as MaxInvest / InvestDivisor.
	InvestDivisor float64 `json:"invest_divisor"`
}

func defaultBollingerParams() BollingerParams {
	return BollingerParams{Periods: 50, Dev: 2, Window: 24, Nudge: 0.05, InvestDivisor: 10}
}

// Bollinger goes LONG below the lower band and SHORT above the upper band,
// and back to NEUTRAL when the close crosses the moving average. Entries and
// exits are LIMIT orders anchored at the recent extremes.
type Bollinger struct {
	params  BollingerParams
	candles []market.Candle
	closes  []float64
	bands   indicator.Bands
	signal  types.Position
}

// NewBollinger builds the strategy from params.
func NewBollinger(params map[string]any) (backtest.Strategy, error) {
	p := defaultBollingerParams()
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Periods < 2 || p.Dev <= 0 || p.Window <= 0 || p.Nudge < 0 || p.Nudge > 1 || p.InvestDivisor < 1 {
		return nil, fmt.Errorf("invalid bollinger params %+v", p)
	}
	return &Bollinger{params: p}, nil
}

func (b *Bollinger) Name() string { return BollingerName }

// Prepare computes the bands over the whole dataset.
func (b *Bollinger) Prepare(candles []backtest.Candle) error {
	b.candles = candles
	b.closes = market.Candles(candles).Closes()
	bands, err := indicator.Bollinger(b.closes, b.params.Periods, b.params.Dev)
	if err != nil {
		return err
	}
	b.bands = bands
	b.signal = types.PositionNeutral
	return nil
}

// Signal returns the position predicted at bar idx. The previous signal is
// kept until a band break or a cross of the average changes it.
func (b *Bollinger) Signal(idx int) types.Position {
	if !b.bands.Ready(idx) {
		b.signal = types.PositionNeutral
		return b.signal
	}
	closePx := b.closes[idx]
	switch {
	case closePx < b.bands.Lower[idx]:
		b.signal = types.PositionLong
	case closePx > b.bands.Upper[idx]:
		b.signal = types.PositionShort
	case b.bands.Ready(idx-1) && b.bands.Distance(b.closes, idx)*b.bands.Distance(b.closes, idx-1) < 0:
		b.signal = types.PositionNeutral
	}
	return b.signal
}

func (b *Bollinger) OnBar(_ context.Context, s *backtest.Session, idx int, _ backtest.Candle) error {
	mgr := s.Manager()
	if mgr.CurrentlyNeutral() {
		if _, err := s.RemoveLimitOrders(); err != nil {
			return err
		}
	}
	window := indicator.Trailing(b.candles, idx, b.params.Window)
	switch b.Signal(idx) {
	case types.PositionLong:
		if !mgr.CurrentlyNeutral() {
			return nil
		}
		_, err := s.GoLong(backtest.Intent{
			Quote:         s.MaxInvest(false) / b.params.InvestDivisor,
			OrderType:     types.OrderTypeLimit,
			ExpectedPrice: window.NudgeLow(b.params.Nudge),
		})
		return err
	case types.PositionShort:
		if !mgr.CurrentlyNeutral() {
			return nil
		}
		_, err := s.GoShort(backtest.Intent{
			Quote:         s.MaxInvest(false) / b.params.InvestDivisor,
			OrderType:     types.OrderTypeLimit,
			ExpectedPrice: window.NudgeHigh(b.params.Nudge),
		})
		return err
	case types.PositionNeutral:
		if mgr.CurrentlyNeutral() {
			return nil
		}
		if _, err := s.RemoveLimitOrders(); err != nil {
			return err
		}
		exit := window.NudgeLow(b.params.Nudge)
		if mgr.CurrentlyLong() {
			exit = window.NudgeHigh(b.params.Nudge)
		}
		_, err := s.GoNeutral(backtest.NeutralRequest{Percent: 100, OrderType: types.OrderTypeLimit, ExpectedPrice: exit})
		return err
	}
	return nil
}
