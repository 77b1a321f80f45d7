package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCandleValidate(t *testing.T) {
	ok := Candle{OpenTime: 1, Open: 100, High: 101, Low: 99, Close: 100.5}
	assert.NoError(t, ok.Validate())

	cases := map[string]Candle{
		"zero price":       {Open: 0, High: 1, Low: 1, Close: 1},
		"inverted range":   {Open: 100, High: 99, Low: 101, Close: 100},
		"close above high": {Open: 100, High: 101, Low: 99, Close: 102},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, c.Validate())
		})
	}
}

func TestCandlesHelpers(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	cs := Candles{
		{OpenTime: start.UnixMilli(), Close: 1},
		{OpenTime: start.Add(time.Hour).UnixMilli(), Close: 2},
	}
	assert.Equal(t, []float64{1, 2}, cs.Closes())
	first, last := cs.Span()
	assert.Equal(t, start, time.UnixMilli(first).UTC())
	assert.Equal(t, start.Add(time.Hour).UnixMilli(), last)
	assert.Equal(t, "2024-03-01 00:00Z", cs[0].TimeString())
	assert.Equal(t, "-", Candle{}.TimeString())
}
