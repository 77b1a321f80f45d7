package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"futuresim/internal/logger"
	"futuresim/internal/market"
	"futuresim/internal/pkg/circuit"

	"github.com/adshao/go-binance/v2/futures"
)

// Binance rejects kline pages above 1500 rows.
const (
	maxKlineLimit     = 1500
	defaultKlineLimit = 1000
)

// Source downloads USDT-M futures klines through the go-binance SDK.
type Source struct {
	cfg     Config
	client  *futures.Client
	breaker *circuit.Breaker
	now     func() time.Time
}

func New(cfg Config) (*Source, error) {
	cfg = cfg.withDefaults()
	httpClient, err := newHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	client := futures.NewClient("", "")
	client.BaseURL = cfg.RESTBaseURL
	client.HTTPClient = httpClient
	return &Source{
		cfg:     cfg,
		client:  client,
		breaker: circuit.New("binance-klines", cfg.BreakerThreshold, cfg.BreakerCooldown),
		now:     time.Now,
	}, nil
}

func newHTTPClient(cfg Config) (*http.Client, error) {
	c := &http.Client{Timeout: cfg.HTTPTimeout}
	if cfg.ProxyURL == "" {
		return c, nil
	}
	proxy, err := url.Parse(cfg.ProxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REST proxy url: %w", err)
	}
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return nil, fmt.Errorf("http DefaultTransport is %T, not *http.Transport", http.DefaultTransport)
	}
	tr := base.Clone()
	tr.Proxy = http.ProxyURL(proxy)
	c.Transport = tr
	return c, nil
}

func (s *Source) Name() string { return "binance" }

// Fetch returns up to req.Limit closed klines starting at req.Start. The
// still-forming kline is dropped.
func (s *Source) Fetch(ctx context.Context, req market.FetchRequest) ([]market.Candle, error) {
	symbol := exchangeSymbol(req.Symbol)
	interval := strings.ToLower(strings.TrimSpace(req.Interval))
	if symbol == "" || interval == "" {
		return nil, fmt.Errorf("symbol and interval are required")
	}
	limit := req.Limit
	if limit <= 0 || limit > maxKlineLimit {
		limit = defaultKlineLimit
	}
	call := s.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit)
	if req.Start > 0 {
		call.StartTime(req.Start)
	}
	if req.End > 0 {
		call.EndTime(req.End)
	}

	var klines []*futures.Kline
	if err := s.breaker.Do(func() (err error) {
		klines, err = call.Do(ctx)
		return err
	}, isContextErr); err != nil {
		return nil, fmt.Errorf("binance klines %s %s: %w", symbol, interval, err)
	}

	cutoff := s.now().UnixMilli()
	out := make([]market.Candle, 0, len(klines))
	for _, kl := range klines {
		if kl == nil || kl.CloseTime >= cutoff {
			continue
		}
		c, err := toCandle(kl)
		if err != nil {
			return nil, fmt.Errorf("binance klines %s %s: %w", symbol, interval, err)
		}
		out = append(out, c)
	}
	logger.Debugf("[binance] %s %s fetched %d klines from %d", symbol, interval, len(out), req.Start)
	return out, nil
}

func toCandle(kl *futures.Kline) (market.Candle, error) {
	c := market.Candle{OpenTime: kl.OpenTime, CloseTime: kl.CloseTime, Trades: kl.TradeNum}
	fields := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"open", kl.Open, &c.Open},
		{"high", kl.High, &c.High},
		{"low", kl.Low, &c.Low},
		{"close", kl.Close, &c.Close},
		{"volume", kl.Volume, &c.Volume},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f.raw), 64)
		if err != nil {
			return market.Candle{}, fmt.Errorf("kline %d: bad %s %q", kl.OpenTime, f.name, f.raw)
		}
		*f.dst = v
	}
	return c, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// exchangeSymbol turns "BTC/USDT" or "btc-usdt" into "BTCUSDT".
func exchangeSymbol(sym string) string {
	sym = strings.ToUpper(strings.TrimSpace(sym))
	return strings.NewReplacer("/", "", "-", "", "_", "", ":USDT", "").Replace(sym)
}
