package chaos

import (
	"testing"

	"futuresim/internal/types"

	"github.com/stretchr/testify/assert"
)

func TestBounds(t *testing.T) {
	bar := Request{Low: 90, Close: 95, High: 100}
	tests := []struct {
		name            string
		mutate          func(r *Request)
		low, mode, high float64
	}{
		{
			name:   "market long medium peaks at close",
			mutate: func(r *Request) { r.Position = types.PositionLong; r.Difficulty = types.DifficultyMedium },
			low:    90, mode: 95, high: 100,
		},
		{
			name:   "market long low peaks at best (low)",
			mutate: func(r *Request) { r.Position = types.PositionLong; r.Difficulty = types.DifficultyLow },
			low:    90, mode: 90, high: 100,
		},
		{
			name:   "market short high peaks at worst (low)",
			mutate: func(r *Request) { r.Position = types.PositionShort; r.Difficulty = types.DifficultyHigh },
			low:    90, mode: 90, high: 100,
		},
		{
			name: "limit long caps worst at requested price",
			mutate: func(r *Request) {
				r.Position = types.PositionLong
				r.OrderType = types.OrderTypeLimit
				r.ExpectedPrice = 93
				r.Difficulty = types.DifficultyMedium
			},
			low: 90, mode: 93, high: 93,
		},
		{
			name: "limit short caps worst at requested price",
			mutate: func(r *Request) {
				r.Position = types.PositionShort
				r.OrderType = types.OrderTypeLimit
				r.ExpectedPrice = 97
				r.Difficulty = types.DifficultyHigh
			},
			low: 97, mode: 97, high: 100,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := bar
			tc.mutate(&req)
			low, mode, high := Bounds(req)
			assert.Equal(t, tc.low, low)
			assert.Equal(t, tc.mode, mode)
			assert.Equal(t, tc.high, high)
		})
	}
}

func TestSampleStaysInRange(t *testing.T) {
	s := New(42)
	req := Request{Low: 99, Close: 100, High: 101, Position: types.PositionLong, Difficulty: types.DifficultyMedium}
	for i := 0; i < 1000; i++ {
		px := s.Sample(req)
		assert.GreaterOrEqual(t, px, 99.0)
		assert.LessOrEqual(t, px, 101.0)
	}
}

func TestSampleDegenerateBar(t *testing.T) {
	s := New(1)
	req := Request{Low: 100, Close: 100, High: 100, Position: types.PositionShort}
	assert.Equal(t, 100.0, s.Sample(req))
}

func TestSampleIsReproducible(t *testing.T) {
	req := Request{Low: 90, Close: 92, High: 110, Position: types.PositionLong, Difficulty: types.DifficultyHigh}
	a, b := New(7), New(7)
	for i := 0; i < 50; i++ {
		assert.Equal(t, a.Sample(req), b.Sample(req))
	}
	assert.NotEqual(t, New(7).Sample(req), New(8).Sample(req))
}

func TestTriangularInverseCDF(t *testing.T) {
	assert.Equal(t, 0.0, Triangular(0, 0, 5, 10))
	assert.InDelta(t, 5.0, Triangular(0.5, 0, 5, 10), 1e-12)
	assert.InDelta(t, 10.0, Triangular(0.999999999999, 0, 5, 10), 1e-5)
	// mode at the lower edge
	assert.InDelta(t, 10-10*0.5, Triangular(0.75, 0, 0, 10), 1e-12)
}
