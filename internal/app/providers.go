package app

import (
	"fmt"
	"strings"
	"time"

	"futuresim/internal/analysis/visual"
	"futuresim/internal/backtest"
	"futuresim/internal/config"
	"futuresim/internal/gateway/binance"
	"futuresim/internal/logger"
	"futuresim/internal/margin"
	"futuresim/internal/strategy"
	backtesthttp "futuresim/internal/transport/http/backtest"
	"futuresim/internal/types"
)

func provideMarginRegistry(cfg *config.Config) (*margin.Registry, error) {
	reg, err := margin.NewRegistry(cfg.Engine.MarginTablesPath, cfg.Engine.WatchMarginTables)
	if err != nil {
		return nil, fmt.Errorf("load margin tables: %w", err)
	}
	reg.OnChange(func(s margin.Snapshot) {
		logger.Infof("[margin] tables v%d active, pairs=%v", s.Version, s.Tables.Pairs())
	})
	return reg, nil
}

func provideCandleStore(cfg *config.Config) (*backtest.Store, func(), error) {
	store, err := backtest.NewStore(cfg.Data.CandleDir())
	if err != nil {
		return nil, nil, fmt.Errorf("open candle store: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}

func provideResultStore(cfg *config.Config) (*backtest.ResultStore, func(), error) {
	results, err := backtest.NewResultStore(cfg.Backtest.ResultsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open result store: %w", err)
	}
	return results, func() { _ = results.Close() }, nil
}

func provideBinanceSource(cfg *config.Config) (*binance.Source, error) {
	return binance.New(binance.Config{
		RESTBaseURL: cfg.Data.BinanceBaseURL,
		HTTPTimeout: time.Duration(cfg.Data.TimeoutSeconds) * time.Second,
	})
}

func provideCandleService(cfg *config.Config, store *backtest.Store, src *binance.Source) (*backtest.Service, error) {
	return backtest.NewService(backtest.ServiceConfig{
		Store:           store,
		Sources:         map[string]backtest.CandleSource{src.Name(): src},
		DefaultExchange: src.Name(),
		DataDir:         cfg.Data.CSVDir(),
		RateLimitPerMin: cfg.Data.RateLimitPerMin,
		MaxBatch:        cfg.Data.MaxBatch,
		MaxConcurrent:   cfg.Data.MaxConcurrent,
	})
}

// provideReporter returns a nil Reporter when no report dir is configured.
func provideReporter(cfg *config.Config) (backtest.Reporter, error) {
	if strings.TrimSpace(cfg.Backtest.ReportDir) == "" {
		return nil, nil
	}
	r, err := visual.NewReporter(cfg.Backtest.ReportDir, cfg.Backtest.RenderPNG)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func provideStrategies() *strategy.Registry {
	return strategy.NewRegistry()
}

func provideDefaults(cfg *config.Config) (backtest.Defaults, error) {
	difficulty, err := types.ParseDifficulty(cfg.Engine.Difficulty)
	if err != nil {
		return backtest.Defaults{}, err
	}
	system, err := types.ParseOrderSystem(cfg.Engine.OrderSystem)
	if err != nil {
		return backtest.Defaults{}, err
	}
	return backtest.Defaults{
		Pair:           cfg.Engine.Pair,
		Timeframe:      "1h",
		Strategy:       cfg.Strategy.Name,
		StrategyParams: cfg.Strategy.Params,
		InitialBalance: cfg.Wallet.InitialBalance,
		Leverage:       cfg.Engine.Leverage,
		Difficulty:     difficulty,
		System:         system,
		UseFees:        cfg.Engine.UseFee,
		FeeMaker:       cfg.Engine.FeeMaker,
		FeeTaker:       cfg.Engine.FeeTaker,
		Fluctuation:    cfg.Engine.Fluctuation,
		Seed:           cfg.Engine.Seed,
	}, nil
}

func provideSimulator(cfg *config.Config, svc *backtest.Service, results *backtest.ResultStore, strategies *strategy.Registry, tables *margin.Registry, reporter backtest.Reporter, defaults backtest.Defaults) (*backtest.Simulator, error) {
	return backtest.NewSimulator(backtest.SimulatorConfig{
		Loader:        svc,
		Results:       results,
		Strategies:    strategies,
		Tables:        tables,
		Reporter:      reporter,
		Defaults:      defaults,
		MaxConcurrent: cfg.Backtest.MaxConcurrentRuns,
	})
}

func provideHTTPServer(cfg *config.Config, svc *backtest.Service, sim *backtest.Simulator, results *backtest.ResultStore, tables *margin.Registry) (*backtesthttp.Server, error) {
	return backtesthttp.NewServer(backtesthttp.Config{
		Addr:      cfg.App.HTTPAddr,
		Svc:       svc,
		Simulator: sim,
		Results:   results,
		Margins:   tables,
	})
}
