package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"futuresim/internal/logger"
	"futuresim/internal/margin"
	"futuresim/internal/order"
	"futuresim/internal/types"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const persistBatch = 500

// DatasetLoader resolves the candles of a run.
type DatasetLoader interface {
	Load(ctx context.Context, req LoadRequest) ([]Candle, error)
}

// ReportInput is everything a report renderer needs.
type ReportInput struct {
	Run       Run
	Candles   []Candle
	Snapshots []Snapshot
	Fills     []Fill
}

// Reporter renders a finished run and returns the report location.
type Reporter interface {
	RenderRunReport(ctx context.Context, in ReportInput) (string, error)
}

// Defaults fill the zero fields of a RunRequest.
type Defaults struct {
	Pair           string
	Timeframe      string
	Strategy       string
	StrategyParams map[string]any
	InitialBalance float64
	Leverage       int
	Difficulty     types.Difficulty
	System         types.OrderSystem
	UseFees        bool
	FeeMaker       float64
	FeeTaker       float64
	Fluctuation    float64
	Seed           uint64
}

type SimulatorConfig struct {
	Loader     DatasetLoader
	Results    *ResultStore
	Strategies StrategyFactory
	Tables     margin.Provider
	Reporter   Reporter
	Defaults   Defaults
	// MaxConcurrent bounds the runs executing at once.
	MaxConcurrent int
}

// Simulator replays strategies over historical candles. Every run owns its
// own Session; runs share nothing but the stores.
type Simulator struct {
	loader   DatasetLoader
	results  *ResultStore
	factory  StrategyFactory
	tables   margin.Provider
	reporter Reporter
	defaults Defaults

	maxConcurrent int
	sem           *semaphore.Weighted
	baseCtx       context.Context
}

func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if cfg.Loader == nil {
		return nil, fmt.Errorf("dataset loader is required")
	}
	if cfg.Strategies == nil {
		return nil, fmt.Errorf("strategy factory is required")
	}
	if cfg.Tables == nil {
		cfg.Tables = margin.DefaultTables()
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Simulator{
		loader:        cfg.Loader,
		results:       cfg.Results,
		factory:       cfg.Strategies,
		tables:        cfg.Tables,
		reporter:      cfg.Reporter,
		defaults:      cfg.Defaults,
		maxConcurrent: maxConcurrent,
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
		baseCtx:       context.Background(),
	}, nil
}

func (s *Simulator) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Simulator) ctx() context.Context {
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}

// plannedRun is a validated request.
type plannedRun struct {
	run    Run
	report bool
}

func (s *Simulator) plan(req RunRequest) (plannedRun, error) {
	d := s.defaults
	cfg := RunConfig{
		Pair:           strings.ToUpper(firstNonEmpty(req.Pair, d.Pair)),
		Timeframe:      strings.ToLower(firstNonEmpty(req.Timeframe, d.Timeframe)),
		Strategy:       firstNonEmpty(req.Strategy, d.Strategy),
		StrategyParams: req.Params,
		InitialBalance: req.InitialBalance,
		Leverage:       req.Leverage,
		Difficulty:     d.Difficulty,
		UseFees:        d.UseFees,
		FeeMaker:       d.FeeMaker,
		FeeTaker:       d.FeeTaker,
		Fluctuation:    d.Fluctuation,
		Seed:           d.Seed,
	}
	if cfg.Pair == "" {
		return plannedRun{}, fmt.Errorf("%w: pair", order.ErrRequiredParameterMissing)
	}
	if cfg.Strategy == "" {
		return plannedRun{}, fmt.Errorf("%w: strategy", order.ErrRequiredParameterMissing)
	}
	if cfg.StrategyParams == nil && cfg.Strategy == d.Strategy {
		cfg.StrategyParams = d.StrategyParams
	}
	tf, err := ParseTimeframe(cfg.Timeframe)
	if err != nil {
		return plannedRun{}, err
	}
	cfg.Timeframe = tf.Key
	start, end, err := ParseDateRange(req.Start, req.End)
	if err != nil {
		return plannedRun{}, err
	}
	cfg.StartDate, cfg.EndDate = strings.TrimSpace(req.Start), strings.TrimSpace(req.End)
	cfg.StartTS, cfg.EndTS = start.UnixMilli(), end.UnixMilli()

	if cfg.InitialBalance <= 0 {
		cfg.InitialBalance = d.InitialBalance
	}
	if cfg.InitialBalance <= 0 {
		return plannedRun{}, fmt.Errorf("initial balance must be > 0")
	}
	if cfg.Leverage <= 0 {
		cfg.Leverage = d.Leverage
	}
	if req.Difficulty != "" {
		if cfg.Difficulty, err = types.ParseDifficulty(req.Difficulty); err != nil {
			return plannedRun{}, err
		}
	}
	if req.UseFees != nil {
		cfg.UseFees = *req.UseFees
	}
	if req.Fluctuation != nil {
		cfg.Fluctuation = *req.Fluctuation
	}
	if cfg.Fluctuation < 0 || cfg.Fluctuation > 1 {
		return plannedRun{}, fmt.Errorf("%w: %v", order.ErrInvalidFluctuation, cfg.Fluctuation)
	}
	if req.Seed != nil {
		cfg.Seed = *req.Seed
	}

	now := time.Now()
	return plannedRun{
		run: Run{
			ID:             uuid.NewString(),
			Pair:           cfg.Pair,
			Strategy:       cfg.Strategy,
			Status:         RunStatusPending,
			Timeframe:      cfg.Timeframe,
			StartTS:        cfg.StartTS,
			EndTS:          cfg.EndTS,
			InitialBalance: cfg.InitialBalance,
			Config:         cfg,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
		report: req.Report,
	}, nil
}

// StartRun validates and persists the run, then executes it in the
// background. The returned run is in the pending state.
func (s *Simulator) StartRun(req RunRequest) (Run, error) {
	if s.results == nil {
		return Run{}, fmt.Errorf("async runs need a result store")
	}
	p, err := s.plan(req)
	if err != nil {
		return Run{}, err
	}
	if err := s.results.InsertRun(s.ctx(), p.run); err != nil {
		return Run{}, err
	}
	go s.runLoop(p)
	return p.run, nil
}

func (s *Simulator) runLoop(p plannedRun) {
	ctx := s.ctx()
	if !s.sem.TryAcquire(1) {
		logger.Infof("[backtest] run %s waiting for a free worker", p.run.ID)
		if err := s.sem.Acquire(ctx, 1); err != nil {
			_ = s.results.UpdateRunStatus(context.Background(), p.run.ID, RunStatusFailed, err.Error())
			return
		}
	}
	defer s.sem.Release(1)
	if _, err := s.execute(ctx, p); err != nil {
		logger.Warnf("[backtest] run %s failed: %v", p.run.ID, err)
	}
}

// RunSync executes one run inline and returns its final state.
func (s *Simulator) RunSync(ctx context.Context, req RunRequest) (Run, error) {
	p, err := s.plan(req)
	if err != nil {
		return Run{}, err
	}
	if s.results != nil {
		if err := s.results.InsertRun(ctx, p.run); err != nil {
			return Run{}, err
		}
	}
	return s.execute(ctx, p)
}

// RunBatch executes req once per seed, at most MaxConcurrent at a time.
// Runs are returned in seed order.
func (s *Simulator) RunBatch(ctx context.Context, req RunRequest, seeds []uint64) ([]Run, error) {
	runs := make([]Run, len(seeds))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(s.maxConcurrent)
	for i, seed := range seeds {
		group.Go(func() error {
			r := req
			r.Seed = &seed
			run, err := s.RunSync(gctx, r)
			if err != nil {
				return fmt.Errorf("seed %d: %w", seed, err)
			}
			runs[i] = run
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return runs, nil
}

// execute runs the bar loop and stores the outcome. Failures are recorded on
// the run row.
func (s *Simulator) execute(ctx context.Context, p plannedRun) (Run, error) {
	run := p.run
	s.setStatus(run.ID, RunStatusRunning, "loading candles")
	stats, err := s.simulate(ctx, &run, p.report)
	if err != nil {
		run.Status = RunStatusFailed
		run.Message = err.Error()
		s.setStatus(run.ID, RunStatusFailed, err.Error())
		return run, err
	}
	run.Status = RunStatusDone
	run.Message = "done"
	run.Stats = stats
	run.FinalBalance = stats.FinalBalance
	run.ROI = stats.ROI
	run.MaxDrawdownPct = stats.MaxDrawdownPct
	run.CompletedAt = stats.FinishedAt
	run.UpdatedAt = stats.FinishedAt
	if s.results != nil {
		if err := s.results.UpdateRunSummary(context.Background(), run.ID, RunStatusDone, stats, run.Message); err != nil {
			return run, err
		}
	}
	logger.Infof("[backtest] run %s done: %s %s roi=%.2f%% max_dd=%.2f%% orders=%d liquidations=%d",
		run.ID, run.Pair, run.Strategy, stats.ROI, stats.MaxDrawdownPct, stats.Orders, stats.Liquidations)
	return run, nil
}

func (s *Simulator) setStatus(id, status, message string) {
	if s.results == nil {
		return
	}
	if err := s.results.UpdateRunStatus(context.Background(), id, status, message); err != nil && !errors.Is(err, ErrRunNotFound) {
		logger.Warnf("[backtest] run %s status update failed: %v", id, err)
	}
}

func (s *Simulator) simulate(ctx context.Context, run *Run, report bool) (RunStats, error) {
	cfg := run.Config
	candles, err := s.loader.Load(ctx, LoadRequest{
		Pair:      cfg.Pair,
		Timeframe: cfg.Timeframe,
		Start:     time.UnixMilli(cfg.StartTS).UTC(),
		End:       time.UnixMilli(cfg.EndTS).UTC(),
	})
	if err != nil {
		return RunStats{}, fmt.Errorf("load candles: %w", err)
	}
	strat, err := s.factory.NewStrategy(cfg.Strategy, cfg.StrategyParams)
	if err != nil {
		return RunStats{}, err
	}
	if err := strat.Prepare(candles); err != nil {
		return RunStats{}, fmt.Errorf("prepare %s: %w", strat.Name(), err)
	}
	table, err := s.tables.Table(cfg.Pair)
	if err != nil {
		return RunStats{}, err
	}
	fees := order.Fees{Enabled: cfg.UseFees, Maker: cfg.FeeMaker, Taker: cfg.FeeTaker}
	session, err := NewSession(SessionConfig{
		Pair:           cfg.Pair,
		Table:          table,
		Leverage:       cfg.Leverage,
		Difficulty:     cfg.Difficulty,
		Fees:           fees,
		System:         s.defaults.System,
		InitialBalance: cfg.InitialBalance,
		Fluctuation:    cfg.Fluctuation,
		Seed:           cfg.Seed,
	})
	if err != nil {
		return RunStats{}, err
	}

	acc := newRunAccumulator(run.ID, cfg.InitialBalance)
	progressStep := max(10, len(candles)/20)
	for idx, bar := range candles {
		step, err := session.Step(ctx, idx, bar, strat)
		if err != nil {
			return RunStats{}, fmt.Errorf("bar %d (%s): %w", idx, bar.TimeString(), err)
		}
		acc.observe(bar, step)
		acc.addFills(session.DrainFills())
		if acc.pending() >= persistBatch {
			if err := s.flush(ctx, acc); err != nil {
				return RunStats{}, err
			}
		}
		if (idx+1)%progressStep == 0 {
			s.setStatus(run.ID, RunStatusRunning, fmt.Sprintf("processing %d/%d (%.1f%%)",
				idx+1, len(candles), float64(idx+1)/float64(len(candles))*100))
		}
	}
	if err := session.Finish(); err != nil {
		return RunStats{}, err
	}
	acc.addFills(session.DrainFills())
	if err := s.flush(ctx, acc); err != nil {
		return RunStats{}, err
	}

	stats := acc.stats(session)
	if report && s.reporter != nil {
		snapshot := *run
		snapshot.Stats = stats
		path, err := s.reporter.RenderRunReport(ctx, ReportInput{
			Run:       snapshot,
			Candles:   candles,
			Snapshots: acc.allSnapshots,
			Fills:     acc.allFills,
		})
		if err != nil {
			logger.Warnf("[backtest] run %s report failed: %v", run.ID, err)
		} else {
			stats.Report = path
		}
	}
	return stats, nil
}

func (s *Simulator) flush(ctx context.Context, acc *runAccumulator) error {
	snaps, fills := acc.takePending()
	if s.results == nil {
		return nil
	}
	if err := s.results.InsertSnapshots(ctx, snaps); err != nil {
		return fmt.Errorf("store snapshots: %w", err)
	}
	if err := s.results.InsertFills(ctx, fills); err != nil {
		return fmt.Errorf("store fills: %w", err)
	}
	return nil
}

// runAccumulator tracks the equity curve and buffers rows for persistence.
type runAccumulator struct {
	runID   string
	initial float64

	peak, valley float64
	maxDrawdown  float64
	bars         int

	snaps        []Snapshot
	fills        []Fill
	allSnapshots []Snapshot
	allFills     []Fill
}

func newRunAccumulator(runID string, initial float64) *runAccumulator {
	return &runAccumulator{runID: runID, initial: initial, peak: initial, valley: initial}
}

func (a *runAccumulator) observe(bar Candle, step StepReport) {
	a.bars++
	equity := step.Equity
	a.peak = math.Max(a.peak, equity)
	a.valley = math.Min(a.valley, equity)
	drawdown := 0.0
	if a.peak > 0 {
		drawdown = (a.peak - equity) / a.peak * 100
	}
	a.maxDrawdown = math.Max(a.maxDrawdown, drawdown)
	snap := Snapshot{
		RunID:    a.runID,
		TS:       bar.CloseTime,
		Balance:  step.Balance,
		Equity:   equity,
		Drawdown: drawdown,
		Exposure: step.Exposure,
		Held:     step.Held,
	}
	if step.Liquidation != nil {
		snap.Liquidation = step.Liquidation.Price
		snap.Note = fmt.Sprintf("%s liquidated, lost %.4f", step.Liquidation.Position, step.Liquidation.LostMargin)
	}
	a.snaps = append(a.snaps, snap)
	a.allSnapshots = append(a.allSnapshots, snap)
}

func (a *runAccumulator) addFills(fills []Fill) {
	for i := range fills {
		fills[i].RunID = a.runID
	}
	a.fills = append(a.fills, fills...)
	a.allFills = append(a.allFills, fills...)
}

func (a *runAccumulator) pending() int { return len(a.snaps) + len(a.fills) }

func (a *runAccumulator) takePending() ([]Snapshot, []Fill) {
	snaps, fills := a.snaps, a.fills
	a.snaps, a.fills = nil, nil
	return snaps, fills
}

func (a *runAccumulator) stats(session *Session) RunStats {
	fees, realized := session.Totals()
	mgr := session.Manager()
	equity := session.Equity()
	return RunStats{
		FinalBalance:   session.Wallet().Balance(),
		FinalEquity:    equity,
		Profit:         equity - a.initial,
		ROI:            session.ROI(),
		MaxDrawdownPct: a.maxDrawdown,
		Orders:         len(mgr.OpenOrders()) + len(mgr.ClosedOrders()),
		ClosedOrders:   len(mgr.ClosedOrders()),
		Liquidations:   len(session.Liquidations()),
		Fees:           fees,
		RealizedPnL:    realized,
		Bars:           a.bars,
		EquityPeak:     a.peak,
		EquityValley:   a.valley,
		FinishedAt:     time.Now(),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
