package manager

import (
	"fmt"

	"futuresim/internal/logger"
	"futuresim/internal/types"
)

const (
	nettingInitialStep = 512.0
	nettingMinStep     = 0.4
)

// recomputeLiquidation refreshes the netting liquidation price after the
// open set changed.
func (m *Manager) recomputeLiquidation() error {
	switch len(m.open) {
	case 0:
		m.liquidation, m.hasLiquidation = 0, false
		return nil
	case 1:
		m.liquidation, m.hasLiquidation = m.open[0].LiquidationPrice, true
		return nil
	}
	price, err := m.solveNettingLiquidation()
	m.liquidation, m.hasLiquidation = price, true
	return err
}

// solveNettingLiquidation walks from the newest entry price against the
// position with a halving step, keeping every candidate at which the combined
// open margin still covers unrealized losses and market closing fees. An
// order past its own liquidation price contributes without the closing fee.
func (m *Manager) solveNettingLiquidation() (float64, error) {
	last := m.open[len(m.open)-1]
	direction := last.Direction()
	candidate := last.EntryPrice
	accepted := false
	for step := nettingInitialStep; step >= nettingMinStep; {
		next := candidate - step*direction
		if next > 0 && m.availableAt(next) >= 0 {
			candidate = next
			accepted = true
			continue
		}
		step /= 2
	}
	if !accepted {
		logger.Warnf("[manager] %s netting liquidation stuck at %.4f", m.cfg.Pair, candidate)
		return candidate, fmt.Errorf("%w: %s at %.4f", ErrLiquidationNotConverged, m.cfg.Pair, candidate)
	}
	logger.Debugf("[manager] %s netting liquidation %.4f over %d orders", m.cfg.Pair, candidate, len(m.open))
	return candidate, nil
}

func (m *Manager) availableAt(price float64) float64 {
	total := 0.0
	for _, o := range m.open {
		value := o.OpenMarginQuote() + o.UnrealizedPnL(price)
		if !o.ShouldLiquidate(price) {
			value -= o.CloseFee(o.OpenSizeQuote(), price, types.OrderTypeMarket)
		}
		total += value
	}
	return total
}
