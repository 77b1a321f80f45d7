package config

import "strings"

const (
	defaultAppEnv         = "dev"
	defaultAppLogLevel    = "info"
	defaultAppLogPath     = "data/logs/futuresim.log"
	defaultAppHTTPAddr    = ":9991"
	defaultPair           = "BTCUSDT"
	defaultLeverage       = 10
	defaultDifficulty     = "MEDIUM"
	defaultOrderSystem    = "NETTING"
	defaultFeeMaker       = 0.0002
	defaultFeeTaker       = 0.0004
	defaultFluctuation    = 0.01
	defaultInitialBalance = 1000
	defaultDataDir        = "data"
	defaultBinanceBaseURL = "https://fapi.binance.com"
	defaultDataTimeout    = 15
	defaultRateLimit      = 480
	defaultMaxBatch       = 1000
	defaultDataConcurrent = 2
	defaultRunConcurrent  = 2
	defaultResultsPath    = "data/results.db"
	defaultReportDir      = "data/reports"
	defaultStrategy       = "bollinger"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Engine.applyDefaults(keys)
	c.Wallet.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Strategy.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, "text"),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (e *EngineConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("engine.pair", &e.Pair, defaultPair),
		stringFieldDefault("engine.difficulty", &e.Difficulty, defaultDifficulty),
		stringFieldDefault("engine.order_system", &e.OrderSystem, defaultOrderSystem),
		intFieldDefault("engine.leverage", &e.Leverage, defaultLeverage),
		boolFieldDefault("engine.use_fee", &e.UseFee, true),
		floatFieldDefault("engine.fee_maker", &e.FeeMaker, defaultFeeMaker),
		floatFieldDefault("engine.fee_taker", &e.FeeTaker, defaultFeeTaker),
		floatFieldDefault("engine.fluctuation", &e.Fluctuation, defaultFluctuation),
	)
	e.Pair = strings.ToUpper(strings.TrimSpace(e.Pair))
}

func (w *WalletConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		floatFieldDefault("wallet.initial_balance", &w.InitialBalance, defaultInitialBalance),
	)
}

func (d *DataConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("data.dir", &d.Dir, defaultDataDir),
		stringFieldDefault("data.binance_base_url", &d.BinanceBaseURL, defaultBinanceBaseURL),
		intFieldDefault("data.timeout", &d.TimeoutSeconds, defaultDataTimeout),
		intFieldDefault("data.rate_limit_per_min", &d.RateLimitPerMin, defaultRateLimit),
		intFieldDefault("data.max_batch", &d.MaxBatch, defaultMaxBatch),
		intFieldDefault("data.max_concurrent", &d.MaxConcurrent, defaultDataConcurrent),
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("backtest.max_concurrent_runs", &b.MaxConcurrentRuns, defaultRunConcurrent),
		stringFieldDefault("backtest.results_path", &b.ResultsPath, defaultResultsPath),
		stringFieldDefault("backtest.report_dir", &b.ReportDir, defaultReportDir),
	)
}

func (s *StrategyConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("strategy.name", &s.Name, defaultStrategy),
	)
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}

// applyFieldDefaults skips keys present in the files, so an explicit zero
// survives.
func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target == 0 },
		apply: func() { *target = def },
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:   key,
		apply: func() { *target = def },
	}
}
