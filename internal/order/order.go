// Package order models one leveraged futures position from entry fill to
// final close or liquidation.
//
// Sizes are tracked in quote-at-entry terms: SizeQuote is the notional at the
// entry price and never changes with the market. PnL follows the inverse
// (coin-margined) convention:
//
//	PnL = (1/entry - 1/close) * quote * close * direction
package order

import (
	"fmt"
	"math"
	"time"

	"futuresim/internal/chaos"
	"futuresim/internal/logger"
	"futuresim/internal/margin"
	"futuresim/internal/types"
)

// LiquidationRounds is the number of fixed-point iterations used to settle
// the liquidation price against the stepwise maintenance-margin table.
const LiquidationRounds = 5

// Sampler produces fill prices for bars.
type Sampler interface {
	Sample(req chaos.Request) float64
}

// Fees is a maker/taker schedule. A disabled schedule charges nothing.
type Fees struct {
	Enabled bool    `json:"enabled"`
	Maker   float64 `json:"maker"`
	Taker   float64 `json:"taker"`
}

// DefaultFees returns the Binance USDT-M base tier.
func DefaultFees() Fees {
	return Fees{Enabled: true, Maker: 0.0002, Taker: 0.0004}
}

// Rate returns the fee rate applied to an order type.
func (f Fees) Rate(t types.OrderType) float64 {
	if !f.Enabled {
		return 0
	}
	switch t {
	case types.OrderTypeMarket:
		return f.Taker
	case types.OrderTypeLimit:
		return f.Maker
	}
	return f.Taker
}

// Params are the requested attributes of an order.
type Params struct {
	Pair string `json:"pair"`
	// ExpectedQuote is the position notional requested. ExpectedQuote/Leverage
	// is the quote that leaves the wallet, fees included.
	ExpectedQuote      float64          `json:"expected_quote"`
	ExpectedEntryPrice float64          `json:"expected_entry_price"`
	Position           types.Position   `json:"position"`
	Leverage           int              `json:"leverage"`
	Fees               Fees             `json:"fees"`
	OrderType          types.OrderType  `json:"order_type"`
	Difficulty         types.Difficulty `json:"difficulty"`
	CreatedAt          time.Time        `json:"created_at"`
}

// Order is one leveraged exposure opened at a single entry fill.
// State changes only through Open, Close and Liquidate.
type Order struct {
	Params

	ID               int64         `json:"id"`
	EntryPrice       float64       `json:"entry_price"`
	SizeQuote        float64       `json:"size_quote"`
	MarginQuote      float64       `json:"margin_quote"`
	OpeningFeeQuote  float64       `json:"opening_fee_quote"`
	OpenedAt         time.Time     `json:"opened_at"`
	LiquidationPrice float64       `json:"liquidation_price"`
	Liquidated       bool          `json:"liquidated"`
	Fills            []ClosingFill `json:"fills"`

	table   margin.Table
	sampler Sampler
}

// New validates params against the pair's table. The sampler may be nil when
// every fill is supplied with an explicit price.
func New(p Params, table margin.Table, sampler Sampler) (*Order, error) {
	if !p.Position.IsDirectional() {
		return nil, ErrInvalidPosition
	}
	if p.ExpectedQuote < 0 {
		return nil, fmt.Errorf("%w: negative expected quote %.4f", ErrInvalidAmount, p.ExpectedQuote)
	}
	maxLev := table.MaxLeverage(p.ExpectedQuote)
	if p.Leverage < 1 || p.Leverage > maxLev {
		return nil, fmt.Errorf("%w %d. Leverage must be between 1 and %d", ErrInvalidLeverage, p.Leverage, maxLev)
	}
	if p.Pair == "" {
		p.Pair = table.Pair
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	return &Order{Params: p, table: table, sampler: sampler}, nil
}

// Direction is +1 for LONG and -1 for SHORT.
func (o *Order) Direction() float64 { return o.Position.Direction() }

// MinBaseUnit is the pair's smallest tradable base amount.
func (o *Order) MinBaseUnit() float64 { return o.table.MinBaseUnit }

// Opened reports whether the entry fill happened.
func (o *Order) Opened() bool { return !o.OpenedAt.IsZero() }

// ClosedSizeQuote is the entry-quote size already closed.
func (o *Order) ClosedSizeQuote() float64 {
	total := 0.0
	for _, f := range o.Fills {
		total += f.SizeQuote
	}
	return total
}

// OpenSizeQuote is the entry-quote size still open.
func (o *Order) OpenSizeQuote() float64 {
	open := o.SizeQuote - o.ClosedSizeQuote()
	if isZero(open) {
		return 0
	}
	return open
}

// OpenMarginQuote is the margin still pledged. Always >= 0.
func (o *Order) OpenMarginQuote() float64 {
	return math.Abs(o.OpenSizeQuote()) / float64(o.Leverage)
}

// SizeBase is the base amount bought at entry.
func (o *Order) SizeBase() float64 {
	if o.EntryPrice == 0 {
		return 0
	}
	return o.SizeQuote / o.EntryPrice
}

// OpenSizeBase is the base amount still open.
func (o *Order) OpenSizeBase() float64 {
	if o.EntryPrice == 0 {
		return 0
	}
	return o.OpenSizeQuote() / o.EntryPrice
}

// OpenQuoteInvestment is the quote that left the wallet at open.
func (o *Order) OpenQuoteInvestment() float64 {
	return o.MarginQuote + o.OpeningFeeQuote
}

// HeldQuote is the quote a pending limit order reserves.
func (o *Order) HeldQuote() float64 {
	return o.ExpectedQuote / float64(o.Leverage)
}

// IsOpen reports whether the order still carries exposure.
func (o *Order) IsOpen() bool {
	return o.Opened() && !o.Liquidated && !isZero(o.OpenSizeQuote())
}

// IsClosed reports the terminal state: fully closed or liquidated.
func (o *Order) IsClosed() bool {
	return o.Opened() && !o.IsOpen()
}

// RealizedPnL sums fill PnL, fees excluded.
func (o *Order) RealizedPnL() float64 {
	total := 0.0
	for _, f := range o.Fills {
		total += f.PnL
	}
	return total
}

// RealizedFee is the opening fee plus every closing fee.
func (o *Order) RealizedFee() float64 {
	total := o.OpeningFeeQuote
	for _, f := range o.Fills {
		total += f.Fee
	}
	return total
}

// RealizedPnLWithFee is RealizedPnL minus RealizedFee.
func (o *Order) RealizedPnLWithFee() float64 {
	return o.RealizedPnL() - o.RealizedFee()
}

// LiquidatedMargin is the margin lost to liquidation, 0 otherwise.
func (o *Order) LiquidatedMargin() float64 {
	if !o.Liquidated {
		return 0
	}
	for i := len(o.Fills) - 1; i >= 0; i-- {
		if o.Fills[i].Liquidation {
			return -o.Fills[i].PnL
		}
	}
	return 0
}

// NotionalValue is base * price.
func NotionalValue(base, price float64) float64 {
	return base * price
}

// PnL returns the profit of quote (entry-quote terms) closed at price,
// fees excluded.
func (o *Order) PnL(price, quote float64) float64 {
	if o.EntryPrice == 0 || price == 0 {
		return 0
	}
	return (1/o.EntryPrice - 1/price) * quote * price * o.Direction()
}

// UnrealizedPnL is the PnL of the open size at price.
func (o *Order) UnrealizedPnL(price float64) float64 {
	return o.PnL(price, o.OpenSizeQuote())
}

// CloseFee is the fee charged for closing quote at price.
func (o *Order) CloseFee(quote, price float64, t types.OrderType) float64 {
	if o.EntryPrice == 0 {
		return 0
	}
	return NotionalValue(quote/o.EntryPrice, price) * o.Fees.Rate(t)
}

// ShouldLiquidate reports whether price is at or past the liquidation price.
func (o *Order) ShouldLiquidate(price float64) bool {
	switch o.Position {
	case types.PositionLong:
		return price <= o.LiquidationPrice
	case types.PositionShort:
		return price >= o.LiquidationPrice
	}
	return false
}

// ShouldExecute reports whether a bar reaches the limit price.
func (o *Order) ShouldExecute(low, high float64) bool {
	switch o.Position {
	case types.PositionLong:
		return low <= o.ExpectedEntryPrice
	case types.PositionShort:
		return high >= o.ExpectedEntryPrice
	}
	return false
}

// WhenExecute returns the price a limit fills at within a bar: the open when
// the bar gaps through the limit, the limit price otherwise.
func (o *Order) WhenExecute(open, low, high float64) (float64, bool) {
	expected := o.ExpectedEntryPrice
	switch o.Position {
	case types.PositionLong:
		if open <= expected {
			return open, true
		}
		if low <= expected {
			return expected, true
		}
	case types.PositionShort:
		if open >= expected {
			return open, true
		}
		if high >= expected {
			return expected, true
		}
	}
	return 0, false
}

// MinQuoteInvest returns the minimum investment at price with a fluctuation
// buffer in [0,1]. One unit pledges margin for one minimum base amount and
// pays its opening fee.
func (o *Order) MinQuoteInvest(price, fluctuation float64) (Investment, error) {
	if fluctuation < 0 || fluctuation > 1 {
		return Investment{}, fmt.Errorf("%w: %v", ErrInvalidFluctuation, fluctuation)
	}
	minMargin := o.table.MinBaseUnit * price * (1 + fluctuation)
	minSize := minMargin * float64(o.Leverage)
	minFee := minSize * o.Fees.Rate(o.OrderType) * (1 + fluctuation)
	return Investment{
		MinSizeQuote:       minSize,
		MinMarginQuote:     minMargin,
		MinOpeningFeeQuote: minFee,
		MinQuote:           minMargin + minFee,
	}, nil
}

// ExecutionPrice samples a fill for this order. Closing fills use the
// opposite side: closing a LONG sells into the bar like a SHORT entry.
func (o *Order) ExecutionPrice(src PriceSource, expected float64, t types.OrderType, opening bool) (float64, error) {
	if src.direct() {
		return src.Price, nil
	}
	if !src.hasBar() {
		return 0, fmt.Errorf("%w: must provide candle info to calculate the fill price", ErrRequiredParameterMissing)
	}
	if o.sampler == nil {
		return 0, fmt.Errorf("%w: no price sampler configured", ErrRequiredParameterMissing)
	}
	if expected <= 0 {
		expected = src.Close
	}
	pos := o.Position
	if !opening {
		pos = pos.Opposite()
	}
	return o.sampler.Sample(chaos.Request{
		ExpectedPrice: expected,
		Low:           src.Low,
		Close:         src.Close,
		High:          src.High,
		Position:      pos,
		OrderType:     t,
		Difficulty:    o.Difficulty,
	}), nil
}

// Open fills the entry and returns the quote spent (margin plus opening fee).
// The size is the largest whole multiple of one minimum investment that fits
// into ExpectedQuote/Leverage; zero multiples fail with ErrInsufficientMargin
// and leave the order untouched.
func (o *Order) Open(at time.Time, src PriceSource) (float64, error) {
	if o.Opened() {
		return 0, ErrAlreadyOpen
	}
	price, err := o.ExecutionPrice(src, o.ExpectedEntryPrice, o.OrderType, true)
	if err != nil {
		return 0, err
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: entry price %.8f", ErrRequiredParameterMissing, price)
	}
	inv, err := o.MinQuoteInvest(price, 0)
	if err != nil {
		return 0, err
	}
	times := inv.Times(o.ExpectedQuote / float64(o.Leverage))
	if times == 0 {
		logger.Debugf("[order] %s %s: %v", o.Pair, o.Position, ErrInsufficientMargin)
		return 0, ErrInsufficientMargin
	}
	n := float64(times)
	o.EntryPrice = price
	o.SizeQuote = inv.MinSizeQuote * n
	o.MarginQuote = inv.MinMarginQuote * n
	o.OpeningFeeQuote = inv.MinOpeningFeeQuote * n
	o.OpenedAt = at
	o.LiquidationPrice = o.LiquidationPriceAfter(LiquidationRounds)

	action := "Buying"
	if o.Position == types.PositionShort {
		action = "Selling"
	}
	logger.Debugf("[order] %s | %s %.1f quote for %.1f, leverage %d", at.Format(time.RFC3339), action, o.SizeQuote, o.EntryPrice, o.Leverage)
	return o.OpenQuoteInvestment(), nil
}

// LiquidationPriceAfter iterates the liquidation fixed point rounds times
// starting from the entry price:
//
//	liq = entry + direction * (MM(notional at liq) - open margin) / open base
func (o *Order) LiquidationPriceAfter(rounds int) float64 {
	base := o.OpenSizeBase()
	if base == 0 {
		return 0
	}
	direction := o.Direction()
	balance := o.OpenMarginQuote()
	liq := o.EntryPrice
	for i := 0; i < rounds; i++ {
		mm := o.table.MaintenanceMargin(NotionalValue(base, liq))
		liq = o.EntryPrice + direction*(mm-balance)/base
	}
	return liq
}

// CloseRequest describes a (partial) close.
type CloseRequest struct {
	At        time.Time
	OrderType types.OrderType
	// Amount is notional quote at the close price, or a percentage of the
	// open notional when Percent is set.
	Amount  float64
	Percent bool
	Price   PriceSource
	// ExpectedPrice feeds the sampler when Price carries a bar. Defaults to
	// the bar close.
	ExpectedPrice float64
	// RoundToLot closes a whole multiple of the minimum base amount.
	RoundToLot bool
	// CheckLiquidation liquidates instead when the fill is past the
	// liquidation price.
	CheckLiquidation bool
	Silent           bool
}

// Close closes part or all of the order and returns the quote credited back:
// released margin plus PnL minus the closing fee. A terminal order reports
// ErrAlreadyClosed and settles 0.
func (o *Order) Close(req CloseRequest) (float64, error) {
	if !o.Opened() {
		return 0, ErrNotOpen
	}
	if o.IsClosed() {
		o.logAlreadyClosed()
		return 0, ErrAlreadyClosed
	}
	price, err := o.ExecutionPrice(req.Price, req.ExpectedPrice, req.OrderType, false)
	if err != nil {
		return 0, err
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: close price %.8f", ErrRequiredParameterMissing, price)
	}
	if req.CheckLiquidation && o.ShouldLiquidate(price) {
		if _, err := o.Liquidate(req.At); err != nil {
			return 0, err
		}
		return 0, nil
	}

	notional := NotionalValue(o.OpenSizeBase(), price)
	amount := req.Amount
	if req.Percent {
		amount = notional * math.Min(math.Max(req.Amount, 0), 100) / 100
	}
	if amount > notional {
		amount = notional
	}
	if amount <= 0 || isZero(amount) {
		return 0, fmt.Errorf("%w: %.8f", ErrInvalidAmount, req.Amount)
	}
	if req.RoundToLot {
		amount = o.MultipleOfMinBase(price, amount, notional)
	}

	prc := amount / notional
	closedSize := o.OpenSizeQuote() * prc
	releasedMargin := o.OpenMarginQuote() * prc
	if prc >= 1-zeroTolerance {
		closedSize = o.OpenSizeQuote()
		releasedMargin = o.OpenMarginQuote()
	}
	fill := ClosingFill{
		At:        req.At,
		Price:     price,
		OrderType: req.OrderType,
		SizeQuote: closedSize,
		Fee:       o.CloseFee(closedSize, price, req.OrderType),
		PnL:       o.PnL(price, closedSize),
	}
	o.Fills = append(o.Fills, fill)
	if !req.Silent {
		o.logClose(fill)
	}
	return releasedMargin + fill.PnL - fill.Fee, nil
}

// MultipleOfMinBase rounds a close of amount (out of notional open, both at
// price) down to whole minimum base units. A remainder smaller than one unit
// is folded into the close, and a close smaller than one unit becomes one unit.
func (o *Order) MultipleOfMinBase(price, amount, notional float64) float64 {
	minQuote := o.table.MinBaseUnit * price
	rounded := minQuote * float64(floorTimes(amount, minQuote))
	if notional-rounded+lotRemainder < minQuote {
		rounded = notional
	}
	if isZero(rounded) {
		rounded = minQuote
	}
	return math.Min(rounded, notional)
}

// Liquidate forfeits the remaining margin at the order's own liquidation
// price. No closing fee is charged. The returned settlement is -open margin.
func (o *Order) Liquidate(at time.Time) (float64, error) {
	return o.LiquidateAt(at, o.LiquidationPrice)
}

// LiquidateAt liquidates at an externally solved price, as done for netted
// exposures.
func (o *Order) LiquidateAt(at time.Time, price float64) (float64, error) {
	if !o.Opened() {
		return 0, ErrNotOpen
	}
	if o.IsClosed() {
		o.logAlreadyClosed()
		return 0, ErrAlreadyClosed
	}
	lost := o.OpenMarginQuote()
	fill := ClosingFill{
		At:          at,
		Price:       price,
		OrderType:   types.OrderTypeMarket,
		SizeQuote:   o.OpenSizeQuote(),
		PnL:         -lost,
		Liquidation: true,
	}
	o.Liquidated = true
	o.Fills = append(o.Fills, fill)
	o.logClose(fill)
	return -lost, nil
}

func (o *Order) logClose(f ClosingFill) {
	action := "Selling"
	if o.Position == types.PositionShort {
		action = "Buying"
	}
	kind := "closing"
	if f.Liquidation {
		kind = "liquidating"
	}
	if o.IsOpen() {
		kind += " partially"
	}
	logger.Debugf("[order] %s | %s (%s) %.1f quote for %.1f", f.At.Format(time.RFC3339), action, kind, f.SizeQuote, f.Price)
}

func (o *Order) logAlreadyClosed() {
	state := "closed"
	if o.Liquidated {
		state = "liquidated"
	}
	logger.Debugf("[order] %d already %s", o.ID, state)
}
