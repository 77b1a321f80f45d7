package manager

import (
	"errors"
	"fmt"
	"math"
	"time"

	"futuresim/internal/logger"
	"futuresim/internal/order"
	"futuresim/internal/types"
)

// SubmitRequest asks for quote (margin plus fees) of exposure on one side.
type SubmitRequest struct {
	At            time.Time
	Price         order.PriceSource
	Quote         float64
	Position      types.Position
	OrderType     types.OrderType
	ExpectedPrice float64
	// Leverage overrides the manager leverage when > 0.
	Leverage int
	// Fluctuation is the slippage buffer in [0,1] used to size investment units.
	Fluctuation float64
	// ForceLimit fills a LIMIT order now regardless of the current close.
	ForceLimit bool
}

// Result reports every quote movement caused by one engine call.
type Result struct {
	// Spent is margin plus opening fee of a newly opened order.
	Spent float64 `json:"spent"`
	// Held is quote reserved by a queued limit order.
	Held float64 `json:"held"`
	// Released is the settlement of closed exposure: margin + PnL - fee.
	Released float64 `json:"released"`
	// Refunded is previously held limit quote handed back.
	Refunded float64 `json:"refunded"`
	// ClosedNotional is the notional closed before opening.
	ClosedNotional float64 `json:"closed_notional"`
	// LostMargin is margin forfeited to liquidation.
	LostMargin float64        `json:"lost_margin"`
	Opened     []*order.Order `json:"-"`
	Queued     *LimitOrder    `json:"-"`
}

// Net is the signed amount the wallet must apply.
func (r Result) Net() float64 {
	return r.Released + r.Refunded - r.Spent - r.Held
}

// Merge adds other's movements to r.
func (r *Result) Merge(other Result) {
	r.Spent += other.Spent
	r.Held += other.Held
	r.Released += other.Released
	r.Refunded += other.Refunded
	r.ClosedNotional += other.ClosedNotional
	r.LostMargin += other.LostMargin
	r.Opened = append(r.Opened, other.Opened...)
	if other.Queued != nil {
		r.Queued = other.Queued
	}
}

// SubmitOrder quantizes the request to whole minimum-investment units, closes
// opposing exposure first, and then opens (MARKET, or LIMIT whose price the
// current close already reached) or queues (other LIMIT) the remainder.
func (m *Manager) SubmitOrder(req SubmitRequest) (Result, error) {
	if !req.Position.IsDirectional() {
		return Result{}, order.ErrInvalidPosition
	}
	leverage := req.Leverage
	if leverage <= 0 {
		leverage = m.leverage
	}
	expected := req.ExpectedPrice
	if expected <= 0 {
		expected = req.Price.Price
	}
	if expected <= 0 {
		expected = req.Price.Close
	}
	if expected <= 0 {
		return Result{}, fmt.Errorf("%w: expected execution price", order.ErrRequiredParameterMissing)
	}

	unit, err := m.MinQuoteInvest(expected, leverage, req.OrderType, req.Fluctuation)
	if err != nil {
		return Result{}, err
	}
	if req.Quote < unit {
		return Result{}, fmt.Errorf("%w: min quote invest is %.8f", order.ErrMinInvest, unit)
	}
	quote := unit * math.Floor(req.Quote/unit+1e-9)
	if quote > req.Quote {
		quote = req.Quote
	}

	switch req.OrderType {
	case types.OrderTypeMarket:
		return m.execute(req.At, req.Price, quote, leverage, req.Position, req.OrderType, expected)
	case types.OrderTypeLimit:
		if req.ForceLimit || limitReached(req.Position, expected, req.Price) {
			return m.execute(req.At, req.Price, quote, leverage, req.Position, req.OrderType, expected)
		}
		o, err := m.newOrder(quote*float64(leverage), expected, req.Position, leverage, req.OrderType, req.At)
		if err != nil {
			return Result{}, err
		}
		lo := &LimitOrder{Order: o, Held: quote, Fluctuation: req.Fluctuation}
		m.addLimit(lo)
		logger.Debugf("[manager] %s queued %s limit %.4f for %.2f quote", m.cfg.Pair, req.Position, expected, quote)
		return Result{Held: quote, Queued: lo}, nil
	}
	return Result{}, fmt.Errorf("unsupported order type %s", req.OrderType)
}

// ExecutesNow reports whether SubmitOrder would fill req on the current bar
// instead of queueing it.
func (m *Manager) ExecutesNow(req SubmitRequest) bool {
	if req.OrderType != types.OrderTypeLimit || req.ForceLimit {
		return true
	}
	expected := req.ExpectedPrice
	if expected <= 0 {
		expected = req.Price.Price
	}
	if expected <= 0 {
		expected = req.Price.Close
	}
	return limitReached(req.Position, expected, req.Price)
}

// limitReached reports whether the current close already crossed the limit
// price: at or below it for a buy, at or above it for a sell.
func limitReached(pos types.Position, price float64, src order.PriceSource) bool {
	closePx := src.Close
	if src.Price > 0 {
		closePx = src.Price
	}
	if closePx <= 0 {
		return false
	}
	switch pos {
	case types.PositionLong:
		return closePx <= price
	case types.PositionShort:
		return closePx >= price
	}
	return false
}

func (m *Manager) execute(at time.Time, src order.PriceSource, quote float64, leverage int, pos types.Position, t types.OrderType, expected float64) (Result, error) {
	var res Result
	price, err := m.executionPrice(src, pos, t, expected)
	if err != nil {
		return res, err
	}

	notional := quote * float64(leverage)
	if m.MustCloseOpenPositions(pos) {
		closed, err := m.closeAt(at, t, price, notional)
		if err != nil {
			return res, err
		}
		res.Merge(closed)
		notional -= closed.ClosedNotional
		if notional <= 0 || isNegligible(notional) {
			return res, nil
		}
	}

	o, err := m.newOrder(notional, expected, pos, leverage, t, at)
	if err != nil {
		return res, err
	}
	spent, err := o.Open(at, order.At(price))
	if err != nil {
		if errors.Is(err, order.ErrInsufficientMargin) && res.ClosedNotional > 0 {
			// the leftover after reducing the opposite side is below one lot
			return res, nil
		}
		return res, err
	}
	m.track(o)
	m.open = append(m.open, o)
	res.Spent = spent
	res.Opened = append(res.Opened, o)
	return res, m.recomputeLiquidation()
}

// CloseRequest reduces the open exposure.
type CloseRequest struct {
	At            time.Time
	Price         order.PriceSource
	ExpectedPrice float64
	OrderType     types.OrderType
	// Amount is notional quote, or a percentage when Percent is set.
	Amount  float64
	Percent bool
}

// Close reduces the netted exposure by a notional amount or a percentage at
// one sampled price. The closed size is rounded to whole minimum base units.
func (m *Manager) Close(req CloseRequest) (Result, error) {
	if len(m.open) == 0 {
		return Result{}, fmt.Errorf("%w: no open position on %s", order.ErrNotOpen, m.cfg.Pair)
	}
	price, err := m.open[0].ExecutionPrice(req.Price, req.ExpectedPrice, req.OrderType, false)
	if err != nil {
		return Result{}, err
	}
	amount := req.Amount
	if req.Percent {
		amount = m.InvestedNotional(price) * math.Min(math.Max(req.Amount, 0), 100) / 100
	}
	if amount <= 0 {
		return Result{}, fmt.Errorf("%w: %.8f", order.ErrInvalidAmount, req.Amount)
	}
	return m.closeAt(req.At, req.OrderType, price, amount)
}

// closeAt closes notional (capped at the invested notional) pro rata across
// open orders.
func (m *Manager) closeAt(at time.Time, t types.OrderType, price, notional float64) (Result, error) {
	var res Result
	invested := m.InvestedNotional(price)
	if invested <= 0 {
		return res, nil
	}
	toClose := m.open[0].MultipleOfMinBase(price, math.Min(invested, notional), invested)
	pct := toClose / invested * 100
	logger.Debugf("[manager] %s closing %.1f of %.1f notional at %.2f", m.cfg.Pair, toClose, invested, price)

	var errs []error
	for _, o := range m.open {
		settled, err := o.Close(order.CloseRequest{
			At:        at,
			OrderType: t,
			Amount:    pct,
			Percent:   true,
			Price:     order.At(price),
			Silent:    true,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res.Released += settled
	}
	res.ClosedNotional = toClose
	m.moveClosed()
	if err := m.recomputeLiquidation(); err != nil {
		errs = append(errs, err)
	}
	return res, errors.Join(errs...)
}

func isNegligible(v float64) bool {
	return math.Abs(v) < 1e-9
}
