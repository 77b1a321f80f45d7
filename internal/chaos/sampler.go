// Package chaos turns an OHLC bar into a single simulated fill price.
package chaos

import (
	"math"
	"math/rand/v2"

	"futuresim/internal/types"
)

const degenerateWidth = 1e-12

// Request describes one fill to simulate.
type Request struct {
	ExpectedPrice float64
	Low           float64
	Close         float64
	High          float64
	Position      types.Position
	OrderType     types.OrderType
	Difficulty    types.Difficulty
}

// Sampler draws fill prices from a triangular distribution spanning the
// best and worst executions of a bar. It is not safe for concurrent use;
// every backtest run owns its own Sampler.
type Sampler struct {
	rng *rand.Rand
}

// New returns a Sampler seeded deterministically.
func New(seed uint64) *Sampler {
	return &Sampler{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewWithRand wraps a caller-owned generator.
func NewWithRand(rng *rand.Rand) *Sampler {
	if rng == nil {
		return New(0)
	}
	return &Sampler{rng: rng}
}

// Sample returns one execution price for req.
func (s *Sampler) Sample(req Request) float64 {
	low, mode, high := Bounds(req)
	if math.Abs(high-low) < degenerateWidth {
		return (low + high) / 2
	}
	return Triangular(s.rng.Float64(), low, mode, high)
}

// Bounds returns the distribution support and peak for req.
//
// MARKET: LONG fills best at the low and worst at the high, SHORT inverted.
// LIMIT: the worst bound never crosses the requested price and the close is
// clamped into the resulting range.
func Bounds(req Request) (low, mode, high float64) {
	var best, worst float64
	closePx := req.Close
	switch req.OrderType {
	case types.OrderTypeMarket:
		switch req.Position {
		case types.PositionLong:
			best, worst = req.Low, req.High
		case types.PositionShort:
			best, worst = req.High, req.Low
		default:
			best, worst = req.Close, req.Close
		}
	case types.OrderTypeLimit:
		switch req.Position {
		case types.PositionLong:
			best = req.Low
			worst = math.Min(req.High, req.ExpectedPrice)
			closePx = math.Min(closePx, worst)
		case types.PositionShort:
			best = req.High
			worst = math.Max(req.Low, req.ExpectedPrice)
			closePx = math.Max(closePx, worst)
		default:
			best, worst = req.Close, req.Close
		}
	default:
		best, worst = req.Close, req.Close
	}

	low = math.Min(best, worst)
	high = math.Max(best, worst)
	closePx = clamp(closePx, low, high)

	switch req.Difficulty {
	case types.DifficultyLow:
		mode = best
	case types.DifficultyHigh:
		mode = worst
	default:
		mode = closePx
	}
	return low, clamp(mode, low, high), high
}

// Triangular maps a uniform u in [0,1) through the inverse CDF of
// Triangular(a, c, b) with a <= c <= b.
func Triangular(u, a, c, b float64) float64 {
	width := b - a
	if width <= 0 {
		return a
	}
	split := (c - a) / width
	if u < split {
		return a + math.Sqrt(u*width*(c-a))
	}
	return b - math.Sqrt((1-u)*width*(b-c))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
