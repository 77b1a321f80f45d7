package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe(" 1H ")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, tf.Duration)

	tf, err = ParseTimeframe("7d")
	require.NoError(t, err)
	assert.Equal(t, "1w", tf.SourceInterval)

	_, err = ParseTimeframe("2h")
	assert.Error(t, err)
	assert.Contains(t, SupportedTimeframes(), "15m")
}

func TestAlignRangeAndCount(t *testing.T) {
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)
	hour := time.Hour.Milliseconds()

	start, end := tf.AlignRange(10*hour+5, 3*hour+7)
	assert.Equal(t, 3*hour, start)
	assert.Equal(t, 10*hour, end)
	assert.Equal(t, int64(8), tf.ExpectedCandles(start, end))
	assert.Zero(t, tf.ExpectedCandles(end, start))
}

func TestParseDateRange(t *testing.T) {
	from, to, err := ParseDateRange("2023-01-01", "2023-01-03")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2023, 1, 3, 23, 59, 59, int(999*time.Millisecond), time.UTC), to)

	_, _, err = ParseDateRange("2023-01-03", "2023-01-03")
	assert.ErrorIs(t, err, ErrInvalidRange)
	assert.EqualError(t, err, "end date must be greater than start date")

	_, _, err = ParseDateRange("2023/01/01", "2023-01-03")
	assert.Error(t, err)
}
