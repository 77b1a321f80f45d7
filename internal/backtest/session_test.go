package backtest

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"futuresim/internal/manager"
	"futuresim/internal/margin"
	"futuresim/internal/order"
	"futuresim/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sessionStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type barFunc func(ctx context.Context, s *Session, idx int, bar Candle) error

type funcStrategy struct{ onBar barFunc }

func (f funcStrategy) Name() string           { return "func" }
func (f funcStrategy) Prepare([]Candle) error { return nil }
func (f funcStrategy) OnBar(ctx context.Context, s *Session, idx int, bar Candle) error {
	if f.onBar == nil {
		return nil
	}
	return f.onBar(ctx, s, idx, bar)
}

func newSession(t *testing.T, fees order.Fees) *Session {
	t.Helper()
	tbl, err := margin.DefaultTables().Table("BTCUSDT")
	require.NoError(t, err)
	s, err := NewSession(SessionConfig{
		Pair:           "BTCUSDT",
		Table:          tbl,
		Leverage:       10,
		Difficulty:     types.DifficultyMedium,
		Fees:           fees,
		InitialBalance: 1000,
		Seed:           42,
	})
	require.NoError(t, err)
	return s
}

func bar(idx int, low, high, closePx float64) Candle {
	open := sessionStart.Add(time.Duration(idx) * time.Hour).UnixMilli()
	return Candle{
		OpenTime:  open,
		CloseTime: open + time.Hour.Milliseconds() - 1,
		Open:      closePx,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    1,
	}
}

func flat(idx int, price float64) Candle { return bar(idx, price, price, price) }

func assertConserved(t *testing.T, s *Session) {
	t.Helper()
	fees, pnl := s.Totals()
	lhs := s.Wallet().Balance() + s.Manager().OpenMarginQuote() + s.Manager().HeldLimitQuote()
	assert.InDelta(t, s.Wallet().InitialBalance()+pnl-fees, lhs, 1e-6)
}

func TestNewSessionValidation(t *testing.T) {
	tbl, err := margin.DefaultTables().Table("BTCUSDT")
	require.NoError(t, err)
	_, err = NewSession(SessionConfig{Table: tbl, Leverage: 10})
	assert.Error(t, err)
	_, err = NewSession(SessionConfig{Table: tbl, Leverage: 10, InitialBalance: 100, Fluctuation: 2})
	assert.ErrorIs(t, err, order.ErrInvalidFluctuation)
	_, err = NewSession(SessionConfig{Table: tbl, Leverage: 10, InitialBalance: 100, System: types.OrderSystemHedging})
	assert.ErrorIs(t, err, order.ErrUnsupportedSystem)
}

func TestSessionConservesQuote(t *testing.T) {
	s := newSession(t, order.DefaultFees())
	strat := funcStrategy{onBar: func(_ context.Context, s *Session, idx int, _ Candle) error {
		var err error
		switch idx {
		case 0:
			_, err = s.GoLong(Intent{Quote: 50, WalletPercent: true})
		case 1:
			_, err = s.GoShort(Intent{Quote: 100})
		case 2:
			_, err = s.GoLong(Intent{Quote: 30, WalletPercent: true, GoNeutralFirst: true})
		case 3:
			_, err = s.GoShort(Intent{Quote: 80, OrderType: types.OrderTypeLimit, ExpectedPrice: 120})
		case 4:
			_, err = s.GoNeutral(NeutralRequest{Percent: 50})
		}
		return err
	}}
	prices := []float64{100, 104, 98, 101, 97, 99}
	for i, p := range prices {
		_, err := s.Step(context.Background(), i, flat(i, p), strat)
		require.NoError(t, err)
		assertConserved(t, s)
	}
	require.NoError(t, s.Finish())
	assertConserved(t, s)
	assert.Zero(t, s.Manager().HeldLimitQuote())
	assert.Len(t, s.Wallet().History(), len(prices))
}

func TestWalletPercentSpendsShareOfMaxInvest(t *testing.T) {
	s := newSession(t, order.Fees{})
	_, err := s.Step(context.Background(), 0, flat(0, 100), funcStrategy{onBar: func(_ context.Context, s *Session, _ int, _ Candle) error {
		res, err := s.GoLong(Intent{Quote: 50, WalletPercent: true})
		if err == nil {
			assert.InDelta(t, 500, res.Spent, 1e-9)
		}
		return err
	}})
	require.NoError(t, err)
	assert.InDelta(t, 500, s.Wallet().Balance(), 1e-9)
	assert.InDelta(t, 1000, s.Equity(), 1e-9)
	assert.InDelta(t, 0, s.ROI(), 1e-9)
}

func TestMaxInvestRejectsOversizedRequests(t *testing.T) {
	s := newSession(t, order.Fees{})
	var got error
	_, err := s.Step(context.Background(), 0, flat(0, 100), funcStrategy{onBar: func(_ context.Context, s *Session, _ int, _ Candle) error {
		_, got = s.GoLong(Intent{Quote: 2000})
		return got
	}})
	require.NoError(t, err, "max invest is recoverable")
	assert.ErrorIs(t, got, order.ErrMaxInvest)
	assert.Contains(t, got.Error(), "Can't open more than 1000.0000")
	assert.True(t, s.Manager().CurrentlyNeutral())
}

func TestMaxInvestCountsClosingValue(t *testing.T) {
	s := newSession(t, order.Fees{})
	s.bar, s.hasBar = flat(0, 100), true
	_, err := s.GoLong(Intent{Quote: 500})
	require.NoError(t, err)

	assert.InDelta(t, 500, s.MaxInvest(false), 1e-9)
	assert.InDelta(t, 1000, s.MaxInvest(true), 1e-9)

	// Reversing may spend the released margin as well.
	res, err := s.GoShort(Intent{Quote: 900})
	require.NoError(t, err)
	assert.InDelta(t, 5000, res.ClosedNotional, 1e-6)
	assert.True(t, s.Manager().CurrentlyShort())
	assert.InDelta(t, 400, s.Manager().OpenMarginQuote(), 1e-6)
	assert.InDelta(t, 600, s.Wallet().Balance(), 1e-6)
}

func TestQueuedOppositeLimitHoldsOnlyBalance(t *testing.T) {
	s := newSession(t, order.DefaultFees())
	s.bar, s.hasBar = flat(0, 100), true
	_, err := s.GoLong(Intent{Quote: 50, WalletPercent: true})
	require.NoError(t, err)
	free := s.Wallet().Balance()
	require.Greater(t, s.MaxInvest(true), free)

	res, err := s.GoShort(Intent{Quote: 100, WalletPercent: true, OrderType: types.OrderTypeLimit, ExpectedPrice: 105})
	require.NoError(t, err)
	require.NotNil(t, res.Queued)
	assert.LessOrEqual(t, res.Held, free+1e-9)
	assert.InDelta(t, free-res.Held, s.Wallet().Balance(), 1e-9)
	assert.True(t, s.Manager().CurrentlyLong())
	assertConserved(t, s)

	refund, err := s.RemoveLimitOrders()
	require.NoError(t, err)
	assert.InDelta(t, res.Held, refund, 1e-12)
	assert.InDelta(t, free, s.Wallet().Balance(), 1e-9)
	assertConserved(t, s)
}

func TestQueuedOppositeLimitWithEmptyWallet(t *testing.T) {
	s := newSession(t, order.Fees{})
	s.bar, s.hasBar = flat(0, 100), true
	_, err := s.GoLong(Intent{Quote: 100, WalletPercent: true})
	require.NoError(t, err)
	require.InDelta(t, 0, s.Wallet().Balance(), 1e-9)

	_, err = s.GoShort(Intent{Quote: 100, WalletPercent: true, OrderType: types.OrderTypeLimit, ExpectedPrice: 105})
	assert.ErrorIs(t, err, order.ErrMinInvest)
	_, err = s.GoShort(Intent{Quote: 500, OrderType: types.OrderTypeLimit, ExpectedPrice: 105})
	assert.ErrorIs(t, err, order.ErrMaxInvest)
	assert.Empty(t, s.Manager().LimitOrders())
	assert.Zero(t, s.Manager().HeldLimitQuote())
	assertConserved(t, s)

	// a limit the close already reached fills at once and may spend the
	// margin it releases
	res, err := s.GoShort(Intent{Quote: 500, OrderType: types.OrderTypeLimit, ExpectedPrice: 100})
	require.NoError(t, err)
	assert.Nil(t, res.Queued)
	assert.InDelta(t, 5000, res.ClosedNotional, 1e-6)
	assert.InDelta(t, 500, s.Wallet().Balance(), 1e-6)
	assert.True(t, s.Manager().CurrentlyLong())
	assertConserved(t, s)
}

func TestRandomWalkConservesQuote(t *testing.T) {
	for seed := uint64(1); seed <= 8; seed++ {
		r := rand.New(rand.NewPCG(seed, seed*31))
		s := newSession(t, order.DefaultFees())
		strat := funcStrategy{onBar: func(_ context.Context, s *Session, _ int, cur Candle) error {
			pct := 10 + r.Float64()*90
			offset := cur.Close * (r.Float64() - 0.5) * 0.04
			var err error
			switch r.IntN(7) {
			case 0:
				_, err = s.GoLong(Intent{Quote: pct, WalletPercent: true})
			case 1:
				_, err = s.GoShort(Intent{Quote: pct, WalletPercent: true})
			case 2:
				_, err = s.GoLong(Intent{Quote: pct, WalletPercent: true, OrderType: types.OrderTypeLimit, ExpectedPrice: cur.Close + offset})
			case 3:
				_, err = s.GoShort(Intent{Quote: pct, WalletPercent: true, OrderType: types.OrderTypeLimit, ExpectedPrice: cur.Close + offset})
			case 4:
				_, err = s.GoNeutral(NeutralRequest{Percent: pct})
			case 5:
				_, err = s.GoNeutral(NeutralRequest{Percent: pct, OrderType: types.OrderTypeLimit, ExpectedPrice: cur.Close + offset})
			case 6:
				_, err = s.RemoveLimitOrders()
			}
			return err
		}}
		price := 100.0
		for i := 0; i < 120; i++ {
			next := price * (1 + (r.Float64()-0.5)*0.06)
			low := math.Min(price, next) * (1 - r.Float64()*0.01)
			high := math.Max(price, next) * (1 + r.Float64()*0.01)
			c := bar(i, low, high, next)
			c.Open = price
			price = next
			_, err := s.Step(context.Background(), i, c, strat)
			require.NoError(t, err, "seed %d bar %d", seed, i)
			require.GreaterOrEqual(t, s.Wallet().Balance(), -1e-9, "seed %d bar %d", seed, i)
			assertConserved(t, s)
		}
		require.NoError(t, s.Finish(), "seed %d", seed)
		assertConserved(t, s)
		assert.Zero(t, s.Manager().HeldLimitQuote(), "seed %d", seed)
	}
}

func TestMaxInvestValuesReleaseAtWorstExit(t *testing.T) {
	s := newSession(t, order.Fees{})
	s.bar, s.hasBar = flat(0, 100), true
	_, err := s.GoLong(Intent{Quote: 500})
	require.NoError(t, err)

	s.bar = bar(1, 97, 103, 100)
	assert.InDelta(t, 500+s.Manager().ClosingValue(97), s.MaxInvest(true), 1e-9)
	assert.Less(t, s.MaxInvest(true), 500+s.Manager().ClosingValue(100))

	for i := 0; i < 3; i++ {
		_, err = s.GoShort(Intent{Quote: 100, WalletPercent: true})
		require.NoError(t, err)
		require.GreaterOrEqual(t, s.Wallet().Balance(), -1e-9)
		assertConserved(t, s)
		_, err = s.GoLong(Intent{Quote: 100, WalletPercent: true})
		require.NoError(t, err)
		require.GreaterOrEqual(t, s.Wallet().Balance(), -1e-9)
		assertConserved(t, s)
	}
}

func TestGoNeutralFirstUsesSeparateClose(t *testing.T) {
	s := newSession(t, order.Fees{})
	s.bar, s.hasBar = flat(0, 100), true
	_, err := s.GoLong(Intent{Quote: 200})
	require.NoError(t, err)

	res, err := s.GoShort(Intent{Quote: 100, GoNeutralFirst: true})
	require.NoError(t, err)
	assert.InDelta(t, 2000, res.ClosedNotional, 1e-6)
	assert.True(t, s.Manager().CurrentlyShort())
	assert.InDelta(t, 100, s.Manager().OpenMarginQuote(), 1e-9)
	assert.InDelta(t, 900, s.Wallet().Balance(), 1e-9)

	fills := s.DrainFills()
	kinds := make([]string, 0, len(fills))
	for _, f := range fills {
		kinds = append(kinds, f.Kind)
	}
	assert.Equal(t, []string{FillOpen, FillClose, FillOpen}, kinds)
	assert.Empty(t, s.DrainFills())
}

func TestGoNeutralLimitWaitsForPrice(t *testing.T) {
	s := newSession(t, order.Fees{})
	strat := funcStrategy{onBar: func(_ context.Context, s *Session, idx int, _ Candle) error {
		switch idx {
		case 0:
			if _, err := s.GoLong(Intent{Quote: 100}); err != nil {
				return err
			}
			_, err := s.GoNeutral(NeutralRequest{OrderType: types.OrderTypeLimit, ExpectedPrice: 110})
			return err
		}
		return nil
	}}
	_, err := s.Step(context.Background(), 0, flat(0, 100), strat)
	require.NoError(t, err)
	require.Len(t, s.Manager().LimitOrders(), 1)
	assert.True(t, s.Manager().CurrentlyLong())

	_, err = s.Step(context.Background(), 1, bar(1, 101, 112, 111), strat)
	require.NoError(t, err)
	assert.True(t, s.Manager().CurrentlyNeutral())
	assert.Empty(t, s.Manager().LimitOrders())
	_, pnl := s.Totals()
	assert.GreaterOrEqual(t, pnl, 100-1e-6)
	assertConserved(t, s)
}

func TestStepLiquidatesBeforeStrategy(t *testing.T) {
	s := newSession(t, order.Fees{})
	sawPosition := types.PositionLong
	var queued manager.Result
	strat := funcStrategy{onBar: func(_ context.Context, s *Session, idx int, _ Candle) error {
		switch idx {
		case 0:
			_, err := s.GoLong(Intent{Quote: 100})
			if err != nil {
				return err
			}
			queued, err = s.GoLong(Intent{Quote: 50, OrderType: types.OrderTypeLimit, ExpectedPrice: 95})
			return err
		case 1:
			sawPosition = s.Manager().Position()
		}
		return nil
	}}
	_, err := s.Step(context.Background(), 0, flat(0, 100), strat)
	require.NoError(t, err)
	require.NotNil(t, queued.Queued)
	require.Greater(t, queued.Held, 0.0)
	require.InDelta(t, 1000-100-queued.Held, s.Wallet().Balance(), 1e-9)

	report, err := s.Step(context.Background(), 1, bar(1, 80, 101, 85), strat)
	require.NoError(t, err)
	require.NotNil(t, report.Liquidation)
	assert.Equal(t, types.PositionNeutral, sawPosition)
	assert.InDelta(t, 100, report.Liquidation.LostMargin, 1e-6)
	assert.InDelta(t, 900, s.Wallet().Balance(), 1e-6)
	assert.InDelta(t, 900, report.Equity, 1e-6)
	assert.Len(t, s.Liquidations(), 1)
	assertConserved(t, s)

	var liquidations int
	for _, f := range s.DrainFills() {
		if f.Kind == FillLiquidation {
			liquidations++
		}
	}
	assert.Equal(t, 1, liquidations)
}

func TestStepAbortsOnContextAndFatalErrors(t *testing.T) {
	s := newSession(t, order.Fees{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Step(ctx, 0, flat(0, 100), nil)
	assert.ErrorIs(t, err, context.Canceled)

	boom := errors.New("boom")
	_, err = s.Step(context.Background(), 0, flat(0, 100), funcStrategy{onBar: func(context.Context, *Session, int, Candle) error {
		return boom
	}})
	assert.ErrorIs(t, err, boom)

	assert.True(t, IsRecoverable(order.ErrMinInvest))
	assert.False(t, IsRecoverable(errors.Join(order.ErrMinInvest, manager.ErrLiquidationNotConverged)))
}
