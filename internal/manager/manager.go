// Package manager aggregates the orders of one trading pair.
//
// Only the NETTING discipline is implemented: every open order shares one
// side, an opposite request first reduces the existing exposure, and a single
// liquidation price is solved for the combined margin.
package manager

import (
	"errors"
	"fmt"
	"time"

	"futuresim/internal/chaos"
	"futuresim/internal/logger"
	"futuresim/internal/margin"
	"futuresim/internal/order"
	"futuresim/internal/types"
)

// DefaultFluctuation is the slippage buffer applied to minimum investments.
const DefaultFluctuation = 0.05

// ErrLiquidationNotConverged signals that the netting liquidation search
// never found a feasible price. It indicates a bookkeeping bug rather than a
// market condition.
var ErrLiquidationNotConverged = errors.New("netting liquidation search did not converge")

// Config describes the trading rules of a manager.
type Config struct {
	Pair       string
	Leverage   int
	Difficulty types.Difficulty
	Fees       order.Fees
	System     types.OrderSystem
}

// Manager owns the open, pending and closed orders of one pair.
// It is not safe for concurrent use.
type Manager struct {
	cfg      Config
	table    margin.Table
	sampler  order.Sampler
	leverage int

	open   []*order.Order
	limits []*LimitOrder
	closed []*order.Order

	liquidation    float64
	hasLiquidation bool
	nextID         int64
}

// New builds a manager. HEDGING is rejected with order.ErrUnsupportedSystem.
func New(cfg Config, table margin.Table, sampler order.Sampler) (*Manager, error) {
	switch cfg.System {
	case types.OrderSystemNetting:
	case types.OrderSystemHedging:
		return nil, fmt.Errorf("%w: %s", order.ErrUnsupportedSystem, cfg.System)
	default:
		return nil, fmt.Errorf("%w: %d", order.ErrUnsupportedSystem, int(cfg.System))
	}
	if cfg.Leverage == 0 {
		cfg.Leverage = 1
	}
	if cfg.Pair == "" {
		cfg.Pair = table.Pair
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	if maxLev := table.MaxLeverage(0); cfg.Leverage < 1 || cfg.Leverage > maxLev {
		return nil, fmt.Errorf("%w %d. Leverage must be between 1 and %d", order.ErrInvalidLeverage, cfg.Leverage, maxLev)
	}
	return &Manager{cfg: cfg, table: table, sampler: sampler, leverage: cfg.Leverage}, nil
}

// Pair returns the managed pair.
func (m *Manager) Pair() string { return m.cfg.Pair }

// Leverage returns the leverage applied to new orders.
func (m *Manager) Leverage() int { return m.leverage }

// Table returns the pair's margin table.
func (m *Manager) Table() margin.Table { return m.table }

// OpenOrders returns the open orders in insertion order.
func (m *Manager) OpenOrders() []*order.Order { return append([]*order.Order(nil), m.open...) }

// LimitOrders returns the pending limit book.
func (m *Manager) LimitOrders() []*LimitOrder { return append([]*LimitOrder(nil), m.limits...) }

// ClosedOrders returns the closed and liquidated orders.
func (m *Manager) ClosedOrders() []*order.Order { return append([]*order.Order(nil), m.closed...) }

// NettingLiquidation returns the liquidation price of the aggregated
// exposure; ok is false when nothing is open.
func (m *Manager) NettingLiquidation() (price float64, ok bool) {
	return m.liquidation, m.hasLiquidation
}

// Position returns the current side, NEUTRAL when flat.
func (m *Manager) Position() types.Position {
	if len(m.open) == 0 {
		return types.PositionNeutral
	}
	switch m.cfg.System {
	case types.OrderSystemNetting:
		return m.open[0].Position
	case types.OrderSystemHedging:
		return types.PositionNeutral
	}
	return types.PositionNeutral
}

// CurrentlyNeutral reports whether no exposure is open.
func (m *Manager) CurrentlyNeutral() bool { return m.Position() == types.PositionNeutral }

// CurrentlyLong reports whether the open exposure is LONG.
func (m *Manager) CurrentlyLong() bool { return m.Position() == types.PositionLong }

// CurrentlyShort reports whether the open exposure is SHORT.
func (m *Manager) CurrentlyShort() bool { return m.Position() == types.PositionShort }

// MustCloseOpenPositions reports whether a request for requested has to
// reduce the current exposure first.
func (m *Manager) MustCloseOpenPositions(requested types.Position) bool {
	current := m.Position()
	if current == types.PositionNeutral {
		return false
	}
	switch m.cfg.System {
	case types.OrderSystemNetting:
		return current != requested
	case types.OrderSystemHedging:
		return false
	}
	return false
}

// InvestedNotional sums the notional value of open orders at price.
func (m *Manager) InvestedNotional(price float64) float64 {
	total := 0.0
	for _, o := range m.open {
		total += order.NotionalValue(o.OpenSizeBase(), price)
	}
	return total
}

// OpenMarginQuote sums the margin pledged by open orders.
func (m *Manager) OpenMarginQuote() float64 {
	total := 0.0
	for _, o := range m.open {
		total += o.OpenMarginQuote()
	}
	return total
}

// UnrealizedPnL sums open PnL at price, fees excluded.
func (m *Manager) UnrealizedPnL(price float64) float64 {
	total := 0.0
	for _, o := range m.open {
		total += o.UnrealizedPnL(price)
	}
	return total
}

// ClosingValue is the quote that closing everything at price would credit.
func (m *Manager) ClosingValue(price float64) float64 {
	total := 0.0
	for _, o := range m.open {
		size := o.OpenSizeQuote()
		total += o.OpenMarginQuote() + o.PnL(price, size) - o.CloseFee(size, price, types.OrderTypeMarket)
	}
	return total
}

// ChangeLeverage sets the leverage of future orders. Lowering it while a
// position is open is refused with order.ErrCantChangeLeverage.
func (m *Manager) ChangeLeverage(leverage int) (bool, error) {
	if maxLev := m.table.MaxLeverage(0); leverage < 1 || leverage > maxLev {
		return false, fmt.Errorf("%w %d. Leverage must be between 1 and %d", order.ErrInvalidLeverage, leverage, maxLev)
	}
	if len(m.open) > 0 && leverage < m.leverage {
		logger.Debugf("[manager] %s refused leverage change %d -> %d", m.cfg.Pair, m.leverage, leverage)
		return false, fmt.Errorf("%w: cant change leverage to %d, current is %d with open position", order.ErrCantChangeLeverage, leverage, m.leverage)
	}
	m.leverage = leverage
	return true, nil
}

// MinQuoteInvest returns the smallest spend (margin plus fee) accepted at
// price for the given leverage and order type.
func (m *Manager) MinQuoteInvest(price float64, leverage int, t types.OrderType, fluctuation float64) (float64, error) {
	if fluctuation < 0 || fluctuation > 1 {
		return 0, fmt.Errorf("%w: %v", order.ErrInvalidFluctuation, fluctuation)
	}
	probe, err := m.newOrder(0, price, types.PositionLong, leverage, t, time.Time{})
	if err != nil {
		return 0, err
	}
	inv, err := probe.MinQuoteInvest(price, fluctuation)
	if err != nil {
		return 0, err
	}
	return inv.MinQuote, nil
}

func (m *Manager) newOrder(notional, expectedPrice float64, pos types.Position, leverage int, t types.OrderType, at time.Time) (*order.Order, error) {
	return order.New(order.Params{
		Pair:               m.cfg.Pair,
		ExpectedQuote:      notional,
		ExpectedEntryPrice: expectedPrice,
		Position:           pos,
		Leverage:           leverage,
		Fees:               m.cfg.Fees,
		OrderType:          t,
		Difficulty:         m.cfg.Difficulty,
		CreatedAt:          at,
	}, m.table, m.sampler)
}

// executionPrice samples a fill for side pos opening at expected.
func (m *Manager) executionPrice(src order.PriceSource, pos types.Position, t types.OrderType, expected float64) (float64, error) {
	if src.Price > 0 {
		return src.Price, nil
	}
	if src.Low <= 0 || src.High <= 0 || src.Close <= 0 || src.Low > src.High {
		return 0, fmt.Errorf("%w: must provide candle info to calculate the fill price", order.ErrRequiredParameterMissing)
	}
	if m.sampler == nil {
		return 0, fmt.Errorf("%w: no price sampler configured", order.ErrRequiredParameterMissing)
	}
	if expected <= 0 {
		expected = src.Close
	}
	return m.sampler.Sample(chaos.Request{
		ExpectedPrice: expected,
		Low:           src.Low,
		Close:         src.Close,
		High:          src.High,
		Position:      pos,
		OrderType:     t,
		Difficulty:    m.cfg.Difficulty,
	}), nil
}

func (m *Manager) track(o *order.Order) {
	m.nextID++
	o.ID = m.nextID
}

// moveClosed transfers terminal orders from the open set to the closed log.
func (m *Manager) moveClosed() {
	kept := m.open[:0]
	for _, o := range m.open {
		if o.IsClosed() {
			m.closed = append(m.closed, o)
			continue
		}
		kept = append(kept, o)
	}
	for i := len(kept); i < len(m.open); i++ {
		m.open[i] = nil
	}
	m.open = kept
}
