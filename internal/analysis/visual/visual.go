// Package visual renders run reports: an HTML page with price, equity and
// drawdown charts, optionally captured to PNG with headless Chrome.
package visual

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"futuresim/internal/analysis/indicator"
	"futuresim/internal/backtest"
	"futuresim/internal/logger"
	pos "futuresim/internal/types"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorBand          = "#fbbf24"
	colorMiddle        = "#3b82f6"
	colorEquity        = "#22d3ee"
	colorBalance       = "#a78bfa"
	colorLiquidation   = "#fb7185"

	chartWidthPx     = 1600
	klineHeightPx    = 600
	equityHeightPx   = 320
	drawdownHeightPx = 220

	bandPeriods = 20
	bandDev     = 2.0
)

// Reporter writes run reports into a directory.
type Reporter struct {
	dir string
	png bool
}

// NewReporter returns a Reporter writing to dir. With png set every report
// is also captured to <run>.png.
func NewReporter(dir string, png bool) (*Reporter, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("report dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Reporter{dir: dir, png: png}, nil
}

// RenderRunReport implements backtest.Reporter. It returns the HTML path.
func (r *Reporter) RenderRunReport(ctx context.Context, in backtest.ReportInput) (string, error) {
	html, err := BuildRunHTML(in)
	if err != nil {
		return "", err
	}
	name := in.Run.ID
	if name == "" {
		name = fmt.Sprintf("%s_%d", strings.ToLower(in.Run.Pair), time.Now().Unix())
	}
	path := filepath.Join(r.dir, name+".html")
	if err := os.WriteFile(path, html, 0o644); err != nil {
		return "", err
	}
	if r.png {
		height := klineHeightPx + equityHeightPx + drawdownHeightPx + 120
		shot, err := capturePNG(ctx, path, chartWidthPx, height)
		if err != nil {
			logger.Warnf("[visual] png for run %s skipped: %v", in.Run.ID, err)
		} else if err := os.WriteFile(filepath.Join(r.dir, name+".png"), shot, 0o644); err != nil {
			return path, err
		}
	}
	logger.Infof("[visual] run %s report written to %s", in.Run.ID, path)
	return path, nil
}

// BuildRunHTML renders the report page.
func BuildRunHTML(in backtest.ReportInput) ([]byte, error) {
	if len(in.Candles) == 0 {
		return nil, fmt.Errorf("no candles to render for run %s", in.Run.ID)
	}
	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("%s %s %s", in.Run.Pair, in.Run.Strategy, in.Run.ID)
	page.SetLayout(components.PageFlexLayout)

	xAxis := buildXAxis(in.Candles)
	page.AddCharts(
		buildPriceChart(in, xAxis),
		buildEquityChart(in, xAxis),
		buildDrawdownChart(in, xAxis),
	)
	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func initOpts(height int) opts.Initialization {
	return opts.Initialization{
		Theme:           types.ThemeWesteros,
		Width:           fmt.Sprintf("%dpx", chartWidthPx),
		Height:          fmt.Sprintf("%dpx", height),
		BackgroundColor: colorBackground,
	}
}

// panel is the shared look of the secondary charts under the price chart.
func panel(title string, height int, legend bool) []charts.GlobalOpts {
	return []charts.GlobalOpts{
		charts.WithInitializationOpts(initOpts(height)),
		charts.WithTitleOpts(opts.Title{Title: title, Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(legend), TextStyle: &opts.TextStyle{Color: colorTextSecondary}}),
		axisTooltip(),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: mutedLabel(false)}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true), AxisLabel: mutedLabel(true), SplitLine: gridLines(opts.Float(0.15))}),
	}
}

func axisTooltip() charts.GlobalOpts {
	return charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"})
}

func mutedLabel(show bool) *opts.AxisLabel {
	return &opts.AxisLabel{Show: opts.Bool(show), Color: colorTextSecondary}
}

func gridLines(opacity types.Float) *opts.SplitLine {
	return &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opacity}}
}

func subtitle(run backtest.Run) string {
	s := run.Stats
	return fmt.Sprintf("ROI %.2f%% | max drawdown %.2f%% | orders %d | liquidations %d | fees %.4f",
		s.ROI, s.MaxDrawdownPct, s.Orders, s.Liquidations, s.Fees)
}

func buildPriceChart(in backtest.ReportInput, xAxis []string) *charts.Kline {
	lo, hi := priceBounds(in.Candles)
	pad := (hi - lo) * 0.05
	if pad <= 0 {
		pad = math.Max(1, math.Abs(hi)*0.01)
	}
	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(klineHeightPx)),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("%s %s %s", strings.ToUpper(in.Run.Pair), in.Run.Timeframe, in.Run.Strategy),
			Subtitle:      subtitle(in.Run),
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		axisTooltip(),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", AxisLabel: mutedLabel(true)}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: mutedLabel(true),
			Min:       round(lo-pad, 4),
			Max:       round(hi+pad, 4),
			SplitLine: gridLines(opts.Float(0.2)),
		}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)
	data := make([]opts.KlineData, 0, len(in.Candles))
	for _, c := range in.Candles {
		data = append(data, opts.KlineData{Value: [4]float64{c.Open, c.Close, c.Low, c.High}})
	}
	kline.SetXAxis(xAxis)
	kline.AddSeries("Price", data)

	if bands, err := indicator.Bollinger(closes(in.Candles), bandPeriods, bandDev); err == nil {
		line := charts.NewLine()
		line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
		line.SetXAxis(xAxis)
		line.AddSeries("BB Upper", bandLine(bands, bands.Upper), charts.WithLineStyleOpts(opts.LineStyle{Color: colorBand, Width: 1}))
		line.AddSeries("SMA", bandLine(bands, bands.Middle), charts.WithLineStyleOpts(opts.LineStyle{Color: colorMiddle, Width: 1}))
		line.AddSeries("BB Lower", bandLine(bands, bands.Lower), charts.WithLineStyleOpts(opts.LineStyle{Color: colorBand, Width: 1}))
		kline.Overlap(line)
	}
	if len(in.Fills) > 0 {
		kline.Overlap(buildFillMarkers(in, xAxis))
	}
	return kline
}

// buildFillMarkers plots entries, exits and liquidations on the bar they
// happened in.
func buildFillMarkers(in backtest.ReportInput, xAxis []string) *charts.Scatter {
	longs := make([]opts.ScatterData, len(xAxis))
	shorts := make([]opts.ScatterData, len(xAxis))
	exits := make([]opts.ScatterData, len(xAxis))
	for i := range xAxis {
		longs[i], shorts[i], exits[i] = opts.ScatterData{Value: nil}, opts.ScatterData{Value: nil}, opts.ScatterData{Value: nil}
	}
	for _, f := range in.Fills {
		idx := barIndex(in.Candles, f.At.UnixMilli())
		if idx < 0 {
			continue
		}
		point := opts.ScatterData{Value: round(f.Price, 4), SymbolSize: 12}
		switch {
		case f.Kind != backtest.FillOpen:
			exits[idx] = point
		case f.Position == pos.PositionLong:
			longs[idx] = point
		default:
			shorts[idx] = point
		}
	}
	scatter := charts.NewScatter()
	scatter.SetXAxis(xAxis)
	scatter.AddSeries("Long entry", longs, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorBull}))
	scatter.AddSeries("Short entry", shorts, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorBear}))
	scatter.AddSeries("Exit", exits, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorTextPrimary}))
	return scatter
}

func buildEquityChart(in backtest.ReportInput, xAxis []string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(panel("Equity", equityHeightPx, true)...)
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	equity := make([]opts.LineData, len(xAxis))
	balance := make([]opts.LineData, len(xAxis))
	liquidations := make([]opts.LineData, len(xAxis))
	for i := range xAxis {
		equity[i], balance[i], liquidations[i] = opts.LineData{Value: nil}, opts.LineData{Value: nil}, opts.LineData{Value: nil}
	}
	for _, s := range in.Snapshots {
		idx := barIndex(in.Candles, s.TS)
		if idx < 0 {
			continue
		}
		equity[idx] = opts.LineData{Value: round(s.Equity, 4)}
		balance[idx] = opts.LineData{Value: round(s.Balance, 4)}
		if s.Liquidation > 0 {
			liquidations[idx] = opts.LineData{Value: round(s.Equity, 4), Symbol: "pin", SymbolSize: 18}
		}
	}
	line.SetXAxis(xAxis)
	line.AddSeries("Equity", equity, charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}))
	line.AddSeries("Balance", balance, charts.WithLineStyleOpts(opts.LineStyle{Color: colorBalance, Width: 1}))
	line.AddSeries("Liquidation", liquidations,
		charts.WithLineStyleOpts(opts.LineStyle{Width: 0}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: colorLiquidation}),
	)
	return line
}

func buildDrawdownChart(in backtest.ReportInput, xAxis []string) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(panel("Drawdown %", drawdownHeightPx, false)...)
	data := make([]opts.BarData, len(xAxis))
	for i := range data {
		data[i] = opts.BarData{Value: nil}
	}
	for _, s := range in.Snapshots {
		if idx := barIndex(in.Candles, s.TS); idx >= 0 {
			data[idx] = opts.BarData{
				Value:     round(-s.Drawdown, 4),
				ItemStyle: &opts.ItemStyle{Color: colorBear, Opacity: opts.Float(0.6)},
			}
		}
	}
	bar.SetXAxis(xAxis)
	bar.AddSeries("Drawdown", data)
	return bar
}

func buildXAxis(candles []backtest.Candle) []string {
	x := make([]string, len(candles))
	for i, c := range candles {
		x[i] = c.Time().Format("01-02 15:04")
	}
	return x
}

func bandLine(b indicator.Bands, series []float64) []opts.LineData {
	out := make([]opts.LineData, len(series))
	for i, v := range series {
		if !b.Ready(i) {
			out[i] = opts.LineData{Value: nil}
			continue
		}
		out[i] = opts.LineData{Value: round(v, 4)}
	}
	return out
}

// barIndex returns the bar whose [open, next open) contains ts, or -1.
func barIndex(candles []backtest.Candle, ts int64) int {
	if len(candles) == 0 || ts < candles[0].OpenTime {
		return -1
	}
	i := sort.Search(len(candles), func(i int) bool { return candles[i].OpenTime > ts })
	return i - 1
}

func closes(candles []backtest.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}

func priceBounds(candles []backtest.Candle) (minVal, maxVal float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	minVal = candles[0].Low
	maxVal = candles[0].High
	for _, c := range candles {
		minVal = math.Min(minVal, c.Low)
		maxVal = math.Max(maxVal, c.High)
	}
	return minVal, maxVal
}
