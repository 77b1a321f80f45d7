package backtest

import (
	"futuresim/internal/order"
)

// fillRecorder turns the order book state into Fill rows, emitting each
// entry and closing fill exactly once.
type fillRecorder struct {
	seen       map[*order.Order]int
	closedSeen int
	pending    []Fill
}

func newFillRecorder() *fillRecorder {
	return &fillRecorder{seen: make(map[*order.Order]int)}
}

// collect scans open orders and the closed orders added since the last scan.
func (r *fillRecorder) collect(open, closed []*order.Order) {
	for _, o := range open {
		r.scan(o)
	}
	if r.closedSeen > len(closed) {
		r.closedSeen = 0
	}
	for _, o := range closed[r.closedSeen:] {
		r.scan(o)
		delete(r.seen, o)
	}
	r.closedSeen = len(closed)
}

func (r *fillRecorder) scan(o *order.Order) {
	n, tracked := r.seen[o]
	if !tracked {
		r.pending = append(r.pending, Fill{
			OrderID:   o.ID,
			Kind:      FillOpen,
			Position:  o.Position,
			OrderType: o.OrderType,
			Price:     o.EntryPrice,
			SizeQuote: o.SizeQuote,
			Margin:    o.MarginQuote,
			Fee:       o.OpeningFeeQuote,
			At:        o.OpenedAt,
		})
	}
	for _, f := range o.Fills[n:] {
		kind := FillClose
		if f.Liquidation {
			kind = FillLiquidation
		}
		r.pending = append(r.pending, Fill{
			OrderID:   o.ID,
			Kind:      kind,
			Position:  o.Position,
			OrderType: f.OrderType,
			Price:     f.Price,
			SizeQuote: f.SizeQuote,
			Margin:    f.SizeQuote / float64(o.Leverage),
			Fee:       f.Fee,
			PnL:       f.PnL,
			At:        f.At,
		})
	}
	r.seen[o] = len(o.Fills)
}

func (r *fillRecorder) drain() []Fill {
	out := r.pending
	r.pending = nil
	return out
}
