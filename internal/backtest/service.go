package backtest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"futuresim/internal/logger"
	"futuresim/internal/market"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ServiceConfig configures the candle Service.
type ServiceConfig struct {
	Store   *Store
	Sources map[string]CandleSource
	// DefaultExchange picks the source when a request names none.
	DefaultExchange string
	// DataDir holds the CSV exports. Empty disables the CSV cache.
	DataDir string

	RateLimitPerMin int
	MaxBatch        int
	MaxConcurrent   int
}

func (c ServiceConfig) limit() rate.Limit {
	if c.RateLimitPerMin <= 0 {
		return 8
	}
	return rate.Limit(float64(c.RateLimitPerMin) / 60)
}

// Service downloads candles into the sqlite cache, tracks fetch jobs and
// loads run datasets.
type Service struct {
	store    *Store
	sources  map[string]CandleSource
	fallback string
	dataDir  string
	batch    int

	limiter *rate.Limiter
	workers *semaphore.Weighted
	jobs    *jobBook
	host    atomic.Pointer[context.Context]
}

func NewService(cfg ServiceConfig) (*Service, error) {
	switch {
	case cfg.Store == nil:
		return nil, fmt.Errorf("candle store is required")
	case len(cfg.Sources) == 0:
		return nil, fmt.Errorf("at least one candle source is required")
	}
	svc := &Service{
		store:    cfg.Store,
		sources:  make(map[string]CandleSource, len(cfg.Sources)),
		fallback: strings.ToLower(cfg.DefaultExchange),
		dataDir:  cfg.DataDir,
		batch:    cmpOr(cfg.MaxBatch, 1000),
		limiter:  rate.NewLimiter(cfg.limit(), 1),
		workers:  semaphore.NewWeighted(int64(cmpOr(cfg.MaxConcurrent, 2))),
		jobs:     newJobBook(),
	}
	for name, src := range cfg.Sources {
		name = strings.ToLower(name)
		svc.sources[name] = src
		if svc.fallback == "" {
			svc.fallback = name
		}
	}
	return svc, nil
}

func cmpOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// SetContext installs the host context used to cancel background jobs.
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.host.Store(&ctx)
	}
}

func (s *Service) ctx() context.Context {
	if p := s.host.Load(); p != nil {
		return *p
	}
	return context.Background()
}

func (s *Service) source(exchange string) (CandleSource, error) {
	name := strings.ToLower(exchange)
	if name == "" {
		name = s.fallback
	}
	if src, ok := s.sources[name]; ok {
		return src, nil
	}
	return nil, fmt.Errorf("unknown candle source: %s", exchange)
}

// SubmitFetch queues a download. A range already complete in the cache only
// gets the integrity check.
func (s *Service) SubmitFetch(params FetchParams) (FetchJob, error) {
	params.Symbol = strings.ToUpper(strings.TrimSpace(params.Symbol))
	if params.Symbol == "" {
		return FetchJob{}, fmt.Errorf("symbol is required")
	}
	tf, err := ParseTimeframe(params.Timeframe)
	if err != nil {
		return FetchJob{}, err
	}
	src, err := s.source(params.Exchange)
	if err != nil {
		return FetchJob{}, err
	}
	params.Timeframe = tf.Key
	if params.Start, params.End = tf.AlignRange(params.Start, params.End); params.Start == params.End {
		return FetchJob{}, ErrInvalidRange
	}
	report, err := s.store.CheckIntegrity(s.ctx(), params.Symbol, tf.Key, tf, params.Start, params.End)
	if err != nil {
		return FetchJob{}, err
	}

	now := time.Now()
	job := &FetchJob{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		Params:    params,
		Total:     report.Expected,
		Completed: min(report.Present, report.Expected),
		Missing:   report.Gaps,
		StartedAt: now,
		UpdatedAt: now,
	}
	s.jobs.add(job)
	logger.Infof("[backtest] job %s submitted: %s %s [%d,%d] expected=%d gaps=%d",
		job.ID, params.Symbol, tf.Key, params.Start, params.End, report.Expected, len(report.Gaps))

	if report.Complete() {
		s.jobs.finish(job.ID, JobStatusDone, "data already complete", nil, nil)
	} else {
		go s.runJob(job.ID, params, tf, report.Gaps, src)
	}
	out, _ := s.jobs.get(job.ID)
	return out, nil
}

func (s *Service) runJob(id string, params FetchParams, tf Timeframe, gaps []Gap, src CandleSource) {
	ctx := s.ctx()
	if err := s.workers.Acquire(ctx, 1); err != nil {
		s.jobs.finish(id, JobStatusFailed, "service stopped", gaps, nil)
		return
	}
	defer s.workers.Release(1)

	s.jobs.mutate(id, func(j *FetchJob) {
		j.Status = JobStatusRunning
		j.Message = ""
	})
	logger.Infof("[backtest] job %s started, gaps=%d", id, len(gaps))

	warnings, err := s.fill(ctx, src, params.Symbol, tf, gaps, func(n int) {
		s.jobs.mutate(id, func(j *FetchJob) { j.Completed += int64(n) })
	})
	if err != nil {
		s.jobs.finish(id, JobStatusFailed, err.Error(), nil, warnings)
		return
	}

	final, err := s.store.CheckIntegrity(ctx, params.Symbol, tf.Key, tf, params.Start, params.End)
	switch {
	case err != nil:
		s.jobs.finish(id, JobStatusFailed, "integrity check failed: "+err.Error(), nil, warnings)
	case final.Complete():
		s.jobs.finish(id, JobStatusDone, "fetch finished", nil, warnings)
	default:
		s.jobs.finish(id, JobStatusPartial, "finished with gaps", final.Gaps, warnings)
	}
	job, _ := s.jobs.get(id)
	logger.Infof("[backtest] job %s finished, status=%s gaps=%d", id, job.Status, len(job.Missing))
}

// fill downloads every gap in pages of at most batch bars, throttled by the
// shared limiter. An empty page ends its gap with a warning.
func (s *Service) fill(ctx context.Context, src CandleSource, symbol string, tf Timeframe, gaps []Gap, progress func(int)) ([]string, error) {
	step := tf.durationMillis()
	var warnings []string
	for _, gap := range gaps {
		for cursor := gap.From; cursor <= gap.To; {
			if err := s.limiter.Wait(ctx); err != nil {
				return warnings, err
			}
			page, err := src.Fetch(ctx, market.FetchRequest{
				Symbol:   symbol,
				Interval: tf.SourceInterval,
				Start:    cursor,
				End:      gap.To,
				Limit:    min(int((gap.To-cursor)/step)+1, s.batch),
			})
			if err != nil {
				return warnings, fmt.Errorf("%s fetch failed: %w", src.Name(), err)
			}
			if len(page) == 0 {
				warnings = append(warnings, fmt.Sprintf("range [%d,%d] returned no candles", cursor, gap.To))
				break
			}
			n, err := s.store.InsertCandles(ctx, symbol, tf.Key, page)
			if err != nil {
				return warnings, fmt.Errorf("store candles failed: %w", err)
			}
			if progress != nil {
				progress(n)
			}
			next := page[len(page)-1].OpenTime + step
			if next <= cursor {
				break
			}
			cursor = next
		}
	}
	return warnings, nil
}

// LoadRequest selects the dataset of a run. Start and End are inclusive.
type LoadRequest struct {
	Exchange  string
	Pair      string
	Timeframe string
	Start     time.Time
	End       time.Time
}

// Load returns the candles of req. It reads the CSV export when present,
// then the sqlite cache, and downloads what the cache misses. A dataset not
// read from CSV is exported to CSV.
func (s *Service) Load(ctx context.Context, req LoadRequest) ([]Candle, error) {
	pair := strings.ToUpper(strings.TrimSpace(req.Pair))
	if pair == "" {
		return nil, fmt.Errorf("pair is required")
	}
	if !req.End.After(req.Start) {
		return nil, ErrInvalidRange
	}
	tf, err := ParseTimeframe(req.Timeframe)
	if err != nil {
		return nil, err
	}

	csvPath := ""
	if s.dataDir != "" {
		csvPath = CSVPath(s.dataDir, pair, tf.Key, req.Start, req.End)
		if candles, ok := s.readExport(csvPath, tf); ok {
			return candles, nil
		}
	}

	start, end := tf.AlignRange(req.Start.UnixMilli(), req.End.UnixMilli())
	if err := s.ensure(ctx, req.Exchange, pair, tf, start, end); err != nil {
		return nil, err
	}
	candles, err := s.store.RangeCandles(ctx, pair, tf.Key, start, end)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles for %s %s in [%s, %s]", pair, tf.Key,
			req.Start.UTC().Format(DateLayout), req.End.UTC().Format(DateLayout))
	}
	if csvPath != "" {
		if err := WriteCSV(csvPath, candles); err != nil {
			logger.Warnf("[backtest] export %s failed: %v", csvPath, err)
		}
	}
	return candles, nil
}

func (s *Service) readExport(path string, tf Timeframe) ([]Candle, bool) {
	candles, err := ReadCSV(path, tf)
	switch {
	case err == nil && len(candles) > 0:
		logger.Debugf("[backtest] loaded %d candles from %s", len(candles), path)
		return candles, true
	case err != nil && !errors.Is(err, os.ErrNotExist):
		logger.Warnf("[backtest] ignoring unreadable %s: %v", path, err)
	}
	return nil, false
}

// ensure downloads the bars of [start, end] missing from the cache.
func (s *Service) ensure(ctx context.Context, exchange, pair string, tf Timeframe, start, end int64) error {
	report, err := s.store.CheckIntegrity(ctx, pair, tf.Key, tf, start, end)
	if err != nil || report.Complete() {
		return err
	}
	src, err := s.source(exchange)
	if err != nil {
		return err
	}
	warnings, err := s.fill(ctx, src, pair, tf, report.Gaps, nil)
	for _, w := range warnings {
		logger.Warnf("[backtest] %s %s: %s", pair, tf.Key, w)
	}
	return err
}

// JobSnapshot returns a copy of one job.
func (s *Service) JobSnapshot(id string) (FetchJob, bool) {
	return s.jobs.get(id)
}

// JobsSnapshot returns copies of every job, oldest first.
func (s *Service) JobsSnapshot() []FetchJob {
	return s.jobs.list()
}

// ManifestInfo reads the cache manifest.
func (s *Service) ManifestInfo(ctx context.Context, symbol, timeframe string) (Manifest, error) {
	if symbol == "" || timeframe == "" {
		return Manifest{}, errors.New("symbol and timeframe are required")
	}
	return s.store.Manifest(ctx, symbol, timeframe)
}

// QueryCandles reads cached candles in [start, end].
func (s *Service) QueryCandles(ctx context.Context, symbol, timeframe string, start, end int64, limit int) ([]market.Candle, error) {
	if symbol == "" || timeframe == "" {
		return nil, errors.New("symbol and timeframe are required")
	}
	return s.store.QueryCandles(ctx, symbol, timeframe, start, end, limit)
}
