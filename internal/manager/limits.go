package manager

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"futuresim/internal/logger"
	"futuresim/internal/order"
	"futuresim/internal/types"
)

// LimitOrder is a pending order waiting for a bar to reach its price.
type LimitOrder struct {
	Order *order.Order
	// Held is the quote reserved from the wallet until the order fills or is
	// removed.
	Held        float64
	Fluctuation float64
	// ReduceOnly orders only close the opposite exposure by ClosePercent and
	// never open a new position.
	ReduceOnly   bool
	ClosePercent float64
}

// Price is the limit price.
func (l *LimitOrder) Price() float64 { return l.Order.ExpectedEntryPrice }

// Position is the side the limit trades.
func (l *LimitOrder) Position() types.Position { return l.Order.Position }

// addLimit inserts into the book: buys by descending price, then sells by
// ascending price, so the first entries are the closest to fill.
func (m *Manager) addLimit(lo *LimitOrder) {
	m.limits = append(m.limits, lo)
	slices.SortStableFunc(m.limits, func(a, b *LimitOrder) int {
		if a.Position() != b.Position() {
			if a.Position() == types.PositionLong {
				return -1
			}
			return 1
		}
		switch {
		case a.Price() == b.Price():
			return 0
		case a.Position() == types.PositionLong && a.Price() > b.Price(),
			a.Position() == types.PositionShort && a.Price() < b.Price():
			return -1
		}
		return 1
	})
}

// SubmitReduceOnlyLimit queues a limit that closes percent of the current
// exposure once price is reached. It holds no quote.
func (m *Manager) SubmitReduceOnlyLimit(at time.Time, price, percent float64) (*LimitOrder, error) {
	if m.CurrentlyNeutral() {
		return nil, fmt.Errorf("%w: no open position on %s", order.ErrNotOpen, m.cfg.Pair)
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: limit price", order.ErrRequiredParameterMissing)
	}
	if percent <= 0 || percent > 100 {
		return nil, fmt.Errorf("%w: %.4f%%", order.ErrInvalidAmount, percent)
	}
	o, err := m.newOrder(0, price, m.Position().Opposite(), m.leverage, types.OrderTypeLimit, at)
	if err != nil {
		return nil, err
	}
	lo := &LimitOrder{Order: o, ReduceOnly: true, ClosePercent: percent}
	m.addLimit(lo)
	logger.Debugf("[manager] %s queued reduce-only %s limit %.4f for %.1f%%", m.cfg.Pair, o.Position, price, percent)
	return lo, nil
}

// CheckLimitOrders fills every pending limit the bar reaches, in book order.
// Filled orders refund their held quote and are re-submitted as forced limit
// fills. Orders that fail to fill are dropped with their hold refunded.
func (m *Manager) CheckLimitOrders(at time.Time, low, closePx, high float64) (Result, error) {
	var res Result
	if len(m.limits) == 0 {
		return res, nil
	}
	pending := m.limits
	m.limits = nil
	var errs []error
	for _, lo := range pending {
		if !lo.Order.ShouldExecute(low, high) {
			m.limits = append(m.limits, lo)
			continue
		}
		src := order.FromBar(low, high, closePx)
		if lo.ReduceOnly {
			if m.Position() != lo.Position().Opposite() {
				logger.Debugf("[manager] %s dropped reduce-only limit %.4f, position is %s", m.cfg.Pair, lo.Price(), m.Position())
				continue
			}
			closed, err := m.Close(CloseRequest{
				At:            at,
				Price:         src,
				ExpectedPrice: lo.Price(),
				OrderType:     types.OrderTypeLimit,
				Amount:        lo.ClosePercent,
				Percent:       true,
			})
			if err != nil {
				errs = append(errs, err)
			}
			res.Merge(closed)
			continue
		}

		res.Refunded += lo.Held
		filled, err := m.SubmitOrder(SubmitRequest{
			At:            at,
			Price:         src,
			Quote:         lo.Held,
			Position:      lo.Position(),
			OrderType:     types.OrderTypeLimit,
			ExpectedPrice: lo.Price(),
			Leverage:      lo.Order.Leverage,
			Fluctuation:   lo.Fluctuation,
			ForceLimit:    true,
		})
		if err != nil {
			if errors.Is(err, ErrLiquidationNotConverged) {
				errs = append(errs, err)
			} else {
				logger.Warnf("[manager] %s limit %.4f not filled: %v", m.cfg.Pair, lo.Price(), err)
				continue
			}
		}
		res.Merge(filled)
	}
	return res, errors.Join(errs...)
}

// RemoveLimitOrders cancels the whole book and returns the quote to refund.
func (m *Manager) RemoveLimitOrders() float64 {
	refund := m.HeldLimitQuote()
	m.limits = nil
	return refund
}

// Liquidation describes a netting liquidation event.
type Liquidation struct {
	At         time.Time      `json:"at"`
	Price      float64        `json:"price"`
	Position   types.Position `json:"position"`
	Orders     []*order.Order `json:"-"`
	LostMargin float64        `json:"lost_margin"`
	Refunded   float64        `json:"refunded"`
}

// Result converts the event into wallet movements.
func (l *Liquidation) Result() Result {
	if l == nil {
		return Result{}
	}
	return Result{Refunded: l.Refunded, LostMargin: l.LostMargin}
}

// CheckLiquidation liquidates every open order when the bar trades at or
// through the netting liquidation price: a LONG when the low reaches it, a
// SHORT when the high does. Pending limits are cancelled and refunded. The
// returned event is nil when nothing happened.
func (m *Manager) CheckLiquidation(at time.Time, low, high float64) (*Liquidation, error) {
	if !m.hasLiquidation || len(m.open) == 0 {
		return nil, nil
	}
	pos := m.Position()
	switch {
	case pos == types.PositionLong && low <= m.liquidation:
	case pos == types.PositionShort && high >= m.liquidation:
	default:
		return nil, nil
	}

	event := &Liquidation{At: at, Price: m.liquidation, Position: pos}
	var errs []error
	for _, o := range m.open {
		settled, err := o.LiquidateAt(at, m.liquidation)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		event.LostMargin -= settled
		event.Orders = append(event.Orders, o)
	}
	m.moveClosed()
	event.Refunded = m.RemoveLimitOrders()
	m.liquidation, m.hasLiquidation = 0, false
	logger.Infof("[manager] %s %s liquidated at %.4f, lost %.4f margin", m.cfg.Pair, pos, event.Price, event.LostMargin)
	return event, errors.Join(errs...)
}

// CancelLimit drops lo from the book and returns its held quote. It returns
// 0 when lo is not pending.
func (m *Manager) CancelLimit(lo *LimitOrder) float64 {
	i := slices.Index(m.limits, lo)
	if i < 0 {
		return 0
	}
	m.limits = slices.Delete(m.limits, i, i+1)
	return lo.Held
}

// HeldLimitQuote sums the quote reserved by pending limits.
func (m *Manager) HeldLimitQuote() float64 {
	total := 0.0
	for _, lo := range m.limits {
		total += lo.Held
	}
	return total
}
