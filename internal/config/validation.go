package config

import (
	"fmt"
	"strings"

	"futuresim/internal/types"
)

func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Engine.validate(); err != nil {
		return err
	}
	if c.Wallet.InitialBalance <= 0 {
		return fmt.Errorf("wallet.initial_balance must be > 0")
	}
	if err := c.Data.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Strategy.Name) == "" {
		return fmt.Errorf("strategy.name cannot be empty")
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(a.LogLevel)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("app.log_level %q is not one of debug/info/warn/error", a.LogLevel)
	}
	switch strings.ToLower(strings.TrimSpace(a.LogFormat)) {
	case "text", "json":
	default:
		return fmt.Errorf("app.log_format %q must be text or json", a.LogFormat)
	}
	if strings.TrimSpace(a.HTTPAddr) == "" {
		return fmt.Errorf("app.http_addr cannot be empty")
	}
	return nil
}

func (e *EngineConfig) validate() error {
	if e.Pair == "" {
		return fmt.Errorf("engine.pair cannot be empty")
	}
	if e.Leverage < 1 {
		return fmt.Errorf("engine.leverage must be >= 1")
	}
	if _, err := types.ParseDifficulty(e.Difficulty); err != nil {
		return fmt.Errorf("engine.difficulty: %w", err)
	}
	system, err := types.ParseOrderSystem(e.OrderSystem)
	if err != nil {
		return fmt.Errorf("engine.order_system: %w", err)
	}
	if system != types.OrderSystemNetting {
		return fmt.Errorf("engine.order_system %s is not supported", system)
	}
	if e.FeeMaker < 0 || e.FeeTaker < 0 {
		return fmt.Errorf("engine fees must be >= 0")
	}
	if e.Fluctuation < 0 || e.Fluctuation > 1 {
		return fmt.Errorf("engine.fluctuation must be within [0, 1]")
	}
	if e.WatchMarginTables && strings.TrimSpace(e.MarginTablesPath) == "" {
		return fmt.Errorf("engine.watch_margin_tables requires engine.margin_tables_path")
	}
	return nil
}

func (d *DataConfig) validate() error {
	if strings.TrimSpace(d.Dir) == "" {
		return fmt.Errorf("data.dir cannot be empty")
	}
	if !strings.HasPrefix(d.BinanceBaseURL, "http://") && !strings.HasPrefix(d.BinanceBaseURL, "https://") {
		return fmt.Errorf("data.binance_base_url must be an http(s) url")
	}
	if d.TimeoutSeconds <= 0 || d.RateLimitPerMin <= 0 || d.MaxBatch <= 0 || d.MaxConcurrent <= 0 {
		return fmt.Errorf("data.timeout, rate_limit_per_min, max_batch and max_concurrent must be > 0")
	}
	if d.MaxBatch > 1500 {
		return fmt.Errorf("data.max_batch must be <= 1500")
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if b.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("backtest.max_concurrent_runs must be > 0")
	}
	if b.RenderPNG && strings.TrimSpace(b.ReportDir) == "" {
		return fmt.Errorf("backtest.render_png requires backtest.report_dir")
	}
	return nil
}
