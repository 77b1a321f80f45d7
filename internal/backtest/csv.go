package backtest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const csvTimeLayout = "2006-01-02 15:04:05"

var csvHeader = []string{"Date", "Open", "High", "Low", "Close", "Volume"}

// CSVPath names the export of one download: <dir>/<PAIR>_<interval>_<start>_<end>.csv.
func CSVPath(dir, pair, interval string, start, end time.Time) string {
	name := fmt.Sprintf("%s_%s_%s_%s.csv",
		strings.ToUpper(pair), strings.ToLower(interval), start.UTC().Format(DateLayout), end.UTC().Format(DateLayout))
	return filepath.Join(dir, name)
}

// ReadCSV loads candles from path. A missing file returns os.ErrNotExist.
func ReadCSV(path string, tf Timeframe) ([]Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeCSV(f, tf)
}

func decodeCSV(r io.Reader, tf Timeframe) ([]Candle, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(csvHeader)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if !strings.EqualFold(strings.TrimSpace(header[0]), csvHeader[0]) {
		return nil, fmt.Errorf("unexpected csv header %v", header)
	}
	var out []Candle
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		c, err := parseCSVRecord(rec, tf)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func parseCSVRecord(rec []string, tf Timeframe) (Candle, error) {
	ts, err := time.ParseInLocation(csvTimeLayout, strings.TrimSpace(rec[0]), time.UTC)
	if err != nil {
		return Candle{}, err
	}
	var vals [5]float64
	for i := range vals {
		vals[i], err = strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
		if err != nil {
			return Candle{}, fmt.Errorf("column %s: %w", csvHeader[i+1], err)
		}
	}
	c := Candle{
		OpenTime: ts.UnixMilli(),
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
	}
	if step := tf.durationMillis(); step > 0 {
		c.CloseTime = c.OpenTime + step - 1
	}
	return c, c.Validate()
}

// WriteCSV writes candles to path, creating parent directories.
func WriteCSV(path string, candles []Candle) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		_ = f.Close()
		return err
	}
	for _, c := range candles {
		rec := []string{
			c.Time().Format(csvTimeLayout),
			strconv.FormatFloat(c.Open, 'f', -1, 64),
			strconv.FormatFloat(c.High, 'f', -1, 64),
			strconv.FormatFloat(c.Low, 'f', -1, 64),
			strconv.FormatFloat(c.Close, 'f', -1, 64),
			strconv.FormatFloat(c.Volume, 'f', -1, 64),
		}
		if err := w.Write(rec); err != nil {
			_ = f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
