// Package app wires the stores, the candle service, the simulator and the
// HTTP API, and owns their lifecycle.
package app

import (
	"context"
	"fmt"

	"futuresim/internal/backtest"
	"futuresim/internal/config"
	"futuresim/internal/gateway/binance"
	"futuresim/internal/logger"
	"futuresim/internal/margin"
	backtesthttp "futuresim/internal/transport/http/backtest"

	"golang.org/x/sync/errgroup"
)

// lotSource reads exchange lot filters.
type lotSource interface {
	LotFilters(ctx context.Context, symbols ...string) (map[string]binance.LotFilter, error)
}

// App holds the wired components.
type App struct {
	cfg     *config.Config
	margins *margin.Registry
	lots    lotSource
	svc     *backtest.Service
	sim     *backtest.Simulator
	results *backtest.ResultStore
	server  *backtesthttp.Server
	Summary *StartupSummary

	cleanup func()
}

func newApp(ctx context.Context, cfg *config.Config, margins *margin.Registry, src *binance.Source, svc *backtest.Service, sim *backtest.Simulator, results *backtest.ResultStore, server *backtesthttp.Server) *App {
	svc.SetContext(ctx)
	sim.SetContext(ctx)
	return &App{
		cfg:     cfg,
		margins: margins,
		lots:    src,
		svc:     svc,
		sim:     sim,
		results: results,
		server:  server,
		Summary: newStartupSummary(cfg, margins),
	}
}

// NewApp builds the application without starting it. Close releases the
// stores.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	a, cleanup, err := buildAppWithWire(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.cleanup = cleanup
	return a, nil
}

// Close releases the stores. It is safe to call more than once.
func (a *App) Close() {
	if a == nil || a.cleanup == nil {
		return
	}
	a.cleanup()
	a.cleanup = nil
}

// Serve runs the HTTP API until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	if a == nil || a.server == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		logger.InfoBlock(a.Summary.String())
	}
	a.svc.SetContext(ctx)
	a.sim.SetContext(ctx)

	group, ctx := errgroup.WithContext(ctx)
	if a.cfg.Engine.SyncLotSizes {
		group.Go(func() error {
			if err := a.SyncLotSizes(ctx); err != nil {
				logger.Warnf("[app] lot size sync failed: %v", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	return group.Wait()
}

// Run executes one simulation per seed, or a single one when seeds is empty.
func (a *App) Run(ctx context.Context, req backtest.RunRequest, seeds []uint64) ([]backtest.Run, error) {
	if a == nil || a.sim == nil {
		return nil, fmt.Errorf("app not initialized")
	}
	if a.cfg.Engine.SyncLotSizes {
		if err := a.SyncLotSizes(ctx); err != nil {
			logger.Warnf("[app] lot size sync failed: %v", err)
		}
	}
	if len(seeds) > 0 {
		return a.sim.RunBatch(ctx, req, seeds)
	}
	run, err := a.sim.RunSync(ctx, req)
	if err != nil {
		return nil, err
	}
	return []backtest.Run{run}, nil
}

// SyncLotSizes copies the exchange LOT_SIZE minimums into the margin tables.
// Pairs the exchange does not list keep their configured unit.
func (a *App) SyncLotSizes(ctx context.Context) error {
	pairs := a.margins.Snapshot().Tables.Pairs()
	filters, err := a.lots.LotFilters(ctx, pairs...)
	if err != nil {
		if len(filters) == 0 {
			return err
		}
		logger.Warnf("[app] partial lot size sync: %v", err)
	}
	units := make(map[string]float64, len(filters))
	for sym, f := range filters {
		units[sym] = f.MinQty
	}
	changed := a.margins.ApplyLotSizes(units)
	logger.Infof("[app] lot sizes synced, %d of %d tables changed", changed, len(pairs))
	return nil
}
