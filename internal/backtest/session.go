package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"futuresim/internal/chaos"
	"futuresim/internal/logger"
	"futuresim/internal/manager"
	"futuresim/internal/margin"
	"futuresim/internal/order"
	"futuresim/internal/types"
	"futuresim/internal/wallet"
)

// SessionConfig configures one engine instance.
type SessionConfig struct {
	Pair           string
	Table          margin.Table
	Leverage       int
	Difficulty     types.Difficulty
	Fees           order.Fees
	System         types.OrderSystem
	InitialBalance float64
	// Fluctuation is the slippage buffer used when sizing investments.
	Fluctuation float64
	Seed        uint64
	// Sampler overrides the seeded chaos sampler.
	Sampler order.Sampler
}

// Intent asks the session to build exposure on one side.
type Intent struct {
	Quote float64
	// WalletPercent reads Quote as a percentage of MaxInvest.
	WalletPercent bool
	// GoNeutralFirst closes the opposite exposure with its own order before
	// opening.
	GoNeutralFirst bool
	OrderType      types.OrderType
	// ExpectedPrice defaults to the bar close.
	ExpectedPrice float64
}

// NeutralRequest closes Percent of the open exposure.
type NeutralRequest struct {
	Percent       float64
	OrderType     types.OrderType
	ExpectedPrice float64
}

// StepReport is the account state after one bar.
type StepReport struct {
	At          time.Time
	Balance     float64
	Equity      float64
	Held        float64
	Exposure    float64
	Liquidation *manager.Liquidation
}

// Session drives one manager and one wallet bar by bar. Each run owns its
// own Session; it is not safe for concurrent use.
type Session struct {
	cfg     SessionConfig
	manager *manager.Manager
	wallet  *wallet.Wallet
	fills   *fillRecorder

	bar    Candle
	index  int
	hasBar bool

	liquidations []*manager.Liquidation
}

// NewSession builds the engine for cfg.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.InitialBalance <= 0 {
		return nil, fmt.Errorf("initial balance must be > 0, got %.4f", cfg.InitialBalance)
	}
	if cfg.Fluctuation < 0 || cfg.Fluctuation > 1 {
		return nil, fmt.Errorf("%w: %v", order.ErrInvalidFluctuation, cfg.Fluctuation)
	}
	sampler := cfg.Sampler
	if sampler == nil {
		sampler = chaos.New(cfg.Seed)
	}
	mgr, err := manager.New(manager.Config{
		Pair:       cfg.Pair,
		Leverage:   cfg.Leverage,
		Difficulty: cfg.Difficulty,
		Fees:       cfg.Fees,
		System:     cfg.System,
	}, cfg.Table, sampler)
	if err != nil {
		return nil, err
	}
	return &Session{
		cfg:     cfg,
		manager: mgr,
		wallet:  wallet.New(cfg.InitialBalance),
		fills:   newFillRecorder(),
		index:   -1,
	}, nil
}

func (s *Session) Manager() *manager.Manager { return s.manager }
func (s *Session) Wallet() *wallet.Wallet    { return s.wallet }

// Bar returns the bar being processed and its index.
func (s *Session) Bar() (Candle, int) { return s.bar, s.index }

// Liquidations returns every liquidation so far.
func (s *Session) Liquidations() []*manager.Liquidation {
	return append([]*manager.Liquidation(nil), s.liquidations...)
}

// Step runs the per-bar sequence: liquidation check, limit fills, a second
// liquidation check for limits filled in this bar, the strategy, and the
// wallet snapshot. Recoverable engine errors from the strategy are logged;
// solver failures and context errors abort.
func (s *Session) Step(ctx context.Context, idx int, bar Candle, strat Strategy) (StepReport, error) {
	if err := ctx.Err(); err != nil {
		return StepReport{}, err
	}
	if err := bar.Validate(); err != nil {
		return StepReport{}, err
	}
	s.bar, s.index, s.hasBar = bar, idx, true
	at := bar.Time()
	report := StepReport{At: at}

	liq, err := s.checkLiquidation(at)
	if err != nil {
		return report, err
	}
	report.Liquidation = liq

	res, err := s.manager.CheckLimitOrders(at, bar.Low, bar.Close, bar.High)
	if serr := s.settle(res); serr != nil {
		return report, serr
	}
	if err != nil {
		if !IsRecoverable(err) {
			return report, err
		}
		logger.Warnf("[backtest] %s bar %d: limit orders: %v", s.cfg.Pair, idx, err)
	}

	if liq, err = s.checkLiquidation(at); err != nil {
		return report, err
	}
	if liq != nil {
		report.Liquidation = liq
	}

	if strat != nil {
		if err := strat.OnBar(ctx, s, idx, bar); err != nil {
			if !IsRecoverable(err) {
				return report, err
			}
			logger.Debugf("[backtest] %s bar %d: %s: %v", s.cfg.Pair, idx, strat.Name(), err)
		}
	}

	s.wallet.Record(at)
	report.Balance = s.wallet.Balance()
	report.Held = s.manager.HeldLimitQuote()
	report.Equity = s.Equity()
	report.Exposure = s.manager.InvestedNotional(bar.Close)
	return report, nil
}

func (s *Session) checkLiquidation(at time.Time) (*manager.Liquidation, error) {
	liq, err := s.manager.CheckLiquidation(at, s.bar.Low, s.bar.High)
	if liq == nil {
		return nil, err
	}
	s.liquidations = append(s.liquidations, liq)
	if serr := s.settle(liq.Result()); serr != nil {
		return liq, serr
	}
	return liq, err
}

// IsRecoverable reports whether err is an engine rejection a strategy may
// simply ignore.
func IsRecoverable(err error) bool {
	if err == nil || errors.Is(err, manager.ErrLiquidationNotConverged) {
		return false
	}
	for _, target := range []error{
		order.ErrInvalidLeverage,
		order.ErrInvalidPosition,
		order.ErrInsufficientMargin,
		order.ErrMinInvest,
		order.ErrInvalidFluctuation,
		order.ErrAlreadyClosed,
		order.ErrNotOpen,
		order.ErrInvalidAmount,
		order.ErrRequiredParameterMissing,
		order.ErrNoMoney,
		order.ErrMaxInvest,
		order.ErrCantChangeLeverage,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// settle applies a manager result to the wallet and records new fills.
func (s *Session) settle(res manager.Result) error {
	s.fills.collect(s.manager.OpenOrders(), s.manager.ClosedOrders())
	net := res.Net()
	if net == 0 {
		return nil
	}
	if err := s.wallet.Update(net); err != nil {
		return fmt.Errorf("settle %.8f quote: %w", net, err)
	}
	return nil
}

// GoLong opens or adds LONG exposure.
func (s *Session) GoLong(in Intent) (manager.Result, error) {
	return s.goDirection(types.PositionLong, in)
}

// GoShort opens or adds SHORT exposure.
func (s *Session) GoShort(in Intent) (manager.Result, error) {
	return s.goDirection(types.PositionShort, in)
}

func (s *Session) goDirection(pos types.Position, in Intent) (manager.Result, error) {
	if !s.hasBar {
		return manager.Result{}, fmt.Errorf("%w: no bar to trade on", order.ErrRequiredParameterMissing)
	}
	var total manager.Result
	opposite := s.manager.MustCloseOpenPositions(pos)
	if opposite && in.GoNeutralFirst {
		res, err := s.GoNeutral(NeutralRequest{Percent: 100, OrderType: types.OrderTypeMarket})
		if err != nil {
			return res, err
		}
		total = res
		opposite = false
	}

	expected := in.ExpectedPrice
	if expected <= 0 {
		expected = s.bar.Close
	}
	req := manager.SubmitRequest{
		At:            s.bar.Time(),
		Price:         order.FromBar(s.bar.Low, s.bar.High, s.bar.Close),
		Position:      pos,
		OrderType:     in.OrderType,
		ExpectedPrice: expected,
		Fluctuation:   s.cfg.Fluctuation,
	}
	// only an immediate fill releases the opposite exposure
	maxInvest := s.MaxInvest(opposite && s.manager.ExecutesNow(req))
	quote := in.Quote
	if in.WalletPercent {
		quote = maxInvest * math.Min(math.Max(in.Quote, 0), 100) / 100
	}
	if quote > maxInvest+1e-9 {
		return total, fmt.Errorf("%w: Trying to open position size: %.4f. Can't open more than %.4f", order.ErrMaxInvest, quote, maxInvest)
	}
	req.Quote = quote
	res, err := s.manager.SubmitOrder(req)
	if serr := s.settle(res); serr != nil {
		err = serr
		if res.Queued != nil {
			s.manager.CancelLimit(res.Queued)
			res.Held, res.Queued = 0, nil
		}
	}
	total.Merge(res)
	return total, err
}

// GoNeutral closes Percent of the exposure. A LIMIT request whose price the
// bar has not reached yet is queued as a reduce-only limit.
func (s *Session) GoNeutral(req NeutralRequest) (manager.Result, error) {
	if !s.hasBar {
		return manager.Result{}, fmt.Errorf("%w: no bar to trade on", order.ErrRequiredParameterMissing)
	}
	if s.manager.CurrentlyNeutral() {
		return manager.Result{}, nil
	}
	pct := req.Percent
	if pct <= 0 {
		pct = 100
	}
	expected := req.ExpectedPrice
	if expected <= 0 {
		expected = s.bar.Close
	}
	if req.OrderType == types.OrderTypeLimit && !s.closeReached(expected) {
		_, err := s.manager.SubmitReduceOnlyLimit(s.bar.Time(), expected, pct)
		return manager.Result{}, err
	}
	res, err := s.manager.Close(manager.CloseRequest{
		At:            s.bar.Time(),
		Price:         order.FromBar(s.bar.Low, s.bar.High, s.bar.Close),
		ExpectedPrice: expected,
		OrderType:     req.OrderType,
		Amount:        pct,
		Percent:       true,
	})
	if serr := s.settle(res); serr != nil {
		return res, serr
	}
	return res, err
}

// closeReached reports whether selling a LONG (buying back a SHORT) at
// price is already possible at the current close.
func (s *Session) closeReached(price float64) bool {
	switch s.manager.Position() {
	case types.PositionLong:
		return s.bar.Close >= price
	case types.PositionShort:
		return s.bar.Close <= price
	}
	return false
}

// MaxInvest is the largest quote a new request may spend: the wallet balance,
// plus what closing the current exposure would release when considerClosing
// is set. The release is valued at the worst exit price of the bar, the low
// for a LONG and the high for a SHORT, and discounted by the fluctuation
// buffer.
func (s *Session) MaxInvest(considerClosing bool) float64 {
	total := s.wallet.Balance()
	if considerClosing && s.hasBar {
		exit := s.bar.Low
		if s.manager.CurrentlyShort() {
			exit = s.bar.High
		}
		if v := s.manager.ClosingValue(exit); v > 0 {
			total += v * (1 - s.cfg.Fluctuation)
		}
	}
	return total
}

// RemoveLimitOrders cancels every pending limit and credits the held quote.
func (s *Session) RemoveLimitOrders() (float64, error) {
	refund := s.manager.RemoveLimitOrders()
	if refund == 0 {
		return 0, nil
	}
	return refund, s.wallet.Update(refund)
}

// Equity is balance + open margin + held limit quote + unrealized PnL at the
// current close.
func (s *Session) Equity() float64 {
	equity := s.wallet.Balance() + s.manager.OpenMarginQuote() + s.manager.HeldLimitQuote()
	if s.hasBar {
		equity += s.manager.UnrealizedPnL(s.bar.Close)
	}
	return equity
}

// ROI is the equity return in percent of the initial balance.
func (s *Session) ROI() float64 {
	initial := s.wallet.InitialBalance()
	if initial == 0 {
		return 0
	}
	return (s.Equity() - initial) / initial * 100
}

// Finish ends the session: pending limits are removed and refunded. Open
// exposure stays open and is valued at the last close.
func (s *Session) Finish() error {
	_, err := s.RemoveLimitOrders()
	s.fills.collect(s.manager.OpenOrders(), s.manager.ClosedOrders())
	return err
}

// DrainFills returns the fills recorded since the previous call.
func (s *Session) DrainFills() []Fill {
	s.fills.collect(s.manager.OpenOrders(), s.manager.ClosedOrders())
	return s.fills.drain()
}

// Totals sums fees and realized PnL over every order.
func (s *Session) Totals() (fees, realizedPnL float64) {
	for _, o := range s.manager.OpenOrders() {
		fees += o.RealizedFee()
		realizedPnL += o.RealizedPnL()
	}
	for _, o := range s.manager.ClosedOrders() {
		fees += o.RealizedFee()
		realizedPnL += o.RealizedPnL()
	}
	return fees, realizedPnL
}
