package backtest

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the date format accepted by range requests and CSV names.
const DateLayout = "2006-01-02"

// ErrInvalidRange rejects a range whose end is not after its start.
var ErrInvalidRange = errors.New("end date must be greater than start date")

// Timeframe is a bar interval. SourceInterval is the exchange kline
// interval that produces it.
type Timeframe struct {
	Key            string
	Duration       time.Duration
	SourceInterval string
}

// timeframes is ordered by duration.
var timeframes = []Timeframe{
	{"1m", time.Minute, "1m"},
	{"5m", 5 * time.Minute, "5m"},
	{"15m", 15 * time.Minute, "15m"},
	{"30m", 30 * time.Minute, "30m"},
	{"1h", time.Hour, "1h"},
	{"4h", 4 * time.Hour, "4h"},
	{"1d", 24 * time.Hour, "1d"},
	{"3d", 3 * 24 * time.Hour, "3d"},
	{"7d", 7 * 24 * time.Hour, "1w"},
}

// ParseTimeframe looks up a timeframe key, ignoring case and spaces.
func ParseTimeframe(input string) (Timeframe, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	for _, tf := range timeframes {
		if tf.Key == key {
			return tf, nil
		}
	}
	return Timeframe{}, fmt.Errorf("unsupported timeframe: %s", input)
}

// SupportedTimeframes lists the keys from shortest to longest.
func SupportedTimeframes() []string {
	out := make([]string, len(timeframes))
	for i, tf := range timeframes {
		out[i] = tf.Key
	}
	return out
}

func (tf Timeframe) durationMillis() int64 {
	return tf.Duration.Milliseconds()
}

// floor rounds ts down to the grid, negative timestamps included.
func (tf Timeframe) floor(ts int64) int64 {
	step := tf.durationMillis()
	if step <= 0 {
		return ts
	}
	r := ts % step
	if r < 0 {
		r += step
	}
	return ts - r
}

// AlignRange snaps millisecond bounds to the timeframe grid with start <= end.
func (tf Timeframe) AlignRange(start, end int64) (int64, int64) {
	return tf.floor(min(start, end)), tf.floor(max(start, end))
}

// ExpectedCandles counts the bars in [start, end].
func (tf Timeframe) ExpectedCandles(start, end int64) int64 {
	step := tf.durationMillis()
	if end < start || step == 0 {
		return 0
	}
	return (end-start)/step + 1
}

// ParseDateRange parses YYYY-MM-DD bounds in UTC. The end date is inclusive:
// the returned end is the last millisecond of that day.
func ParseDateRange(start, end string) (time.Time, time.Time, error) {
	from, err := time.ParseInLocation(DateLayout, strings.TrimSpace(start), time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	to, err := time.ParseInLocation(DateLayout, strings.TrimSpace(end), time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q: %w", end, err)
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, ErrInvalidRange
	}
	return from, to.Add(24*time.Hour - time.Millisecond), nil
}
