package config

import "strings"

// Config is the root configuration of futuresim.
type Config struct {
	App      AppConfig      `yaml:"app"`
	Engine   EngineConfig   `yaml:"engine"`
	Wallet   WalletConfig   `yaml:"wallet"`
	Data     DataConfig     `yaml:"data"`
	Backtest BacktestConfig `yaml:"backtest"`
	Strategy StrategyConfig `yaml:"strategy"`
}

type AppConfig struct {
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`
	// LogFormat is "text" or "json".
	LogFormat string `yaml:"log_format"`
	LogPath   string `yaml:"log_path"`
	HTTPAddr  string `yaml:"http_addr"`
}

// EngineConfig holds the order engine defaults of every run.
type EngineConfig struct {
	Pair        string  `yaml:"pair"`
	Leverage    int     `yaml:"leverage"`
	Difficulty  string  `yaml:"difficulty"`
	OrderSystem string  `yaml:"order_system"`
	UseFee      bool    `yaml:"use_fee"`
	FeeMaker    float64 `yaml:"fee_maker"`
	FeeTaker    float64 `yaml:"fee_taker"`
	Fluctuation float64 `yaml:"fluctuation"`
	Seed        uint64  `yaml:"seed"`
	// MarginTablesPath overrides the built-in tables per pair. Empty keeps
	// the built-in set.
	MarginTablesPath  string `yaml:"margin_tables_path"`
	WatchMarginTables bool   `yaml:"watch_margin_tables"`
	// SyncLotSizes refreshes min_base_unit from the exchange LOT_SIZE
	// filters at startup.
	SyncLotSizes bool `yaml:"sync_lot_sizes"`
}

type WalletConfig struct {
	InitialBalance float64 `yaml:"initial_balance"`
}

// DataConfig configures candle downloads and the local caches.
type DataConfig struct {
	Dir             string `yaml:"dir"`
	BinanceBaseURL  string `yaml:"binance_base_url"`
	TimeoutSeconds  int    `yaml:"timeout"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	MaxBatch        int    `yaml:"max_batch"`
	MaxConcurrent   int    `yaml:"max_concurrent"`
}

type BacktestConfig struct {
	MaxConcurrentRuns int    `yaml:"max_concurrent_runs"`
	ResultsPath       string `yaml:"results_path"`
	ReportDir         string `yaml:"report_dir"`
	RenderPNG         bool   `yaml:"render_png"`
}

type StrategyConfig struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:"params"`
}

// CandleDir is the sqlite candle cache directory.
func (d DataConfig) CandleDir() string {
	return strings.TrimRight(d.Dir, "/") + "/candles"
}

// CSVDir holds the per-run CSV exports.
func (d DataConfig) CSVDir() string {
	return strings.TrimRight(d.Dir, "/") + "/csv"
}

// keySet tracks the dotted paths explicitly set in the config files.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if k == nil {
		return false
	}
	_, ok := k[strings.ToLower(strings.TrimSpace(path))]
	return ok
}
