package order

import (
	"math"
	"time"

	"futuresim/internal/types"

	"github.com/shopspring/decimal"
)

const (
	zeroTolerance = 1e-9
	lotEpsilon    = 1e-12
	lotRemainder  = 1e-10
)

// ClosingFill records one (partial) close or the liquidation of an order.
type ClosingFill struct {
	At          time.Time       `json:"at"`
	Price       float64         `json:"price"`
	OrderType   types.OrderType `json:"order_type"`
	SizeQuote   float64         `json:"size_quote"`
	Fee         float64         `json:"fee"`
	PnL         float64         `json:"pnl"`
	Liquidation bool            `json:"liquidation"`
}

// Investment is the smallest tradable unit of an order at a given price.
type Investment struct {
	MinSizeQuote       float64 `json:"min_size_quote"`
	MinMarginQuote     float64 `json:"min_margin_quote"`
	MinOpeningFeeQuote float64 `json:"min_opening_fee_quote"`
	MinQuote           float64 `json:"min_quote"`
}

// Times returns how many whole units fit into quote.
func (inv Investment) Times(quote float64) int64 {
	return floorTimes(quote, inv.MinQuote)
}

// PriceSource resolves a fill price. A positive Price is used as is,
// otherwise the bar range is sampled.
type PriceSource struct {
	Price float64
	Low   float64
	High  float64
	Close float64
}

// At fills at an exact price.
func At(price float64) PriceSource { return PriceSource{Price: price} }

// FromBar samples the fill inside a bar.
func FromBar(low, high, closePx float64) PriceSource {
	return PriceSource{Low: low, High: high, Close: closePx}
}

func (p PriceSource) direct() bool { return p.Price > 0 }

func (p PriceSource) hasBar() bool {
	return p.Low > 0 && p.High > 0 && p.Close > 0 && p.Low <= p.High
}

// floorTimes returns floor(amount / unit) with a tiny tolerance so an amount
// that is an exact multiple is not rounded one unit down.
func floorTimes(amount, unit float64) int64 {
	if unit <= 0 || amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0
	}
	divisor := decimal.NewFromFloat(unit).Sub(decimal.NewFromFloat(lotEpsilon))
	if divisor.Sign() <= 0 {
		return 0
	}
	return decimal.NewFromFloat(amount).Div(divisor).Floor().IntPart()
}

func isZero(v float64) bool {
	return math.Abs(v) < zeroTolerance
}
