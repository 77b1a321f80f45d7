package backtest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"futuresim/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLoader struct{ candles []Candle }

func (l stubLoader) Load(context.Context, LoadRequest) ([]Candle, error) {
	return append([]Candle(nil), l.candles...), nil
}

type stubFactory map[string]func(params map[string]any) Strategy

func (f stubFactory) NewStrategy(name string, params map[string]any) (Strategy, error) {
	build, ok := f[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return build(params), nil
}

type stubReporter struct {
	mu    sync.Mutex
	calls []ReportInput
}

func (r *stubReporter) RenderRunReport(_ context.Context, in ReportInput) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, in)
	return "reports/" + in.Run.ID + ".html", nil
}

// roundTrip buys a tenth of the wallet on the first bar and exits on bar 10.
func roundTrip(map[string]any) Strategy {
	return funcStrategy{onBar: func(_ context.Context, s *Session, idx int, _ Candle) error {
		switch idx {
		case 0:
			_, err := s.GoLong(Intent{Quote: 10, WalletPercent: true})
			return err
		case 10:
			_, err := s.GoNeutral(NeutralRequest{Percent: 100})
			return err
		}
		return nil
	}}
}

func newTestSimulator(t *testing.T, withResults bool, reporter Reporter) (*Simulator, *ResultStore) {
	t.Helper()
	var rs *ResultStore
	if withResults {
		rs = newTestResultStore(t)
	}
	sim, err := NewSimulator(SimulatorConfig{
		Loader:     stubLoader{candles: hourly(day0, 24, 100, 103, 97, 101)},
		Results:    rs,
		Strategies: stubFactory{"round_trip": roundTrip},
		Reporter:   reporter,
		Defaults: Defaults{
			Pair:           "BTCUSDT",
			Timeframe:      "1h",
			Strategy:       "round_trip",
			InitialBalance: 10_000,
			Leverage:       10,
			Difficulty:     types.DifficultyMedium,
			UseFees:        true,
			FeeMaker:       0.0002,
			FeeTaker:       0.0004,
			Fluctuation:    0.01,
			Seed:           1,
		},
		MaxConcurrent: 2,
	})
	require.NoError(t, err)
	return sim, rs
}

func TestRunSyncPersistsResults(t *testing.T) {
	reporter := &stubReporter{}
	sim, rs := newTestSimulator(t, true, reporter)
	ctx := context.Background()

	run, err := sim.RunSync(ctx, RunRequest{Start: "2024-03-01", End: "2024-03-02", Report: true})
	require.NoError(t, err)
	assert.Equal(t, RunStatusDone, run.Status)
	assert.Equal(t, 24, run.Stats.Bars)
	assert.Equal(t, 1, run.Stats.Orders)
	assert.Equal(t, 1, run.Stats.ClosedOrders)
	assert.Greater(t, run.Stats.Fees, 0.0)
	assert.InDelta(t, run.Stats.FinalBalance, run.Stats.FinalEquity, 1e-9, "flat at the end")
	assert.InDelta(t, 10_000+run.Stats.RealizedPnL-run.Stats.Fees, run.Stats.FinalBalance, 1e-6)
	assert.Equal(t, "reports/"+run.ID+".html", run.Stats.Report)
	require.Len(t, reporter.calls, 1)
	assert.Len(t, reporter.calls[0].Snapshots, 24)

	stored, err := rs.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusDone, stored.Status)
	assert.InDelta(t, run.ROI, stored.ROI, 1e-9)
	assert.Equal(t, "BTCUSDT", stored.Config.Pair)

	snaps, err := rs.ListSnapshots(ctx, run.ID, 0)
	require.NoError(t, err)
	assert.Len(t, snaps, 24)
	for _, s := range snaps {
		assert.GreaterOrEqual(t, s.Drawdown, 0.0)
		assert.LessOrEqual(t, s.Drawdown, run.MaxDrawdownPct+1e-9)
	}
	fills, err := rs.ListFills(ctx, run.ID, 0)
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, FillOpen, fills[0].Kind)
	assert.Equal(t, FillClose, fills[1].Kind)
}

func TestRunSyncIsDeterministicPerSeed(t *testing.T) {
	sim, _ := newTestSimulator(t, false, nil)
	ctx := context.Background()
	seed := uint64(77)
	req := RunRequest{Start: "2024-03-01", End: "2024-03-02", Seed: &seed}
	a, err := sim.RunSync(ctx, req)
	require.NoError(t, err)
	b, err := sim.RunSync(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, a.Stats.FinalBalance, b.Stats.FinalBalance)
}

func TestRunRequestValidation(t *testing.T) {
	sim, _ := newTestSimulator(t, false, nil)
	ctx := context.Background()
	bad := -0.5
	tests := []struct {
		name string
		req  RunRequest
	}{
		{"range", RunRequest{Start: "2024-03-02", End: "2024-03-01"}},
		{"date", RunRequest{Start: "03/01/2024", End: "2024-03-02"}},
		{"timeframe", RunRequest{Start: "2024-03-01", End: "2024-03-02", Timeframe: "2h"}},
		{"difficulty", RunRequest{Start: "2024-03-01", End: "2024-03-02", Difficulty: "extreme"}},
		{"fluctuation", RunRequest{Start: "2024-03-01", End: "2024-03-02", Fluctuation: &bad}},
		{"strategy", RunRequest{Start: "2024-03-01", End: "2024-03-02", Strategy: "unknown"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := sim.RunSync(ctx, tc.req)
			assert.Error(t, err)
		})
	}
}

func TestStartRunCompletesInBackground(t *testing.T) {
	sim, rs := newTestSimulator(t, true, nil)
	run, err := sim.StartRun(RunRequest{Start: "2024-03-01", End: "2024-03-02"})
	require.NoError(t, err)
	assert.Equal(t, RunStatusPending, run.Status)

	require.Eventually(t, func() bool {
		got, err := rs.GetRun(context.Background(), run.ID)
		return err == nil && got.Status == RunStatusDone
	}, 5*time.Second, 20*time.Millisecond)

	noStore, _ := newTestSimulator(t, false, nil)
	_, err = noStore.StartRun(RunRequest{Start: "2024-03-01", End: "2024-03-02"})
	assert.Error(t, err)
}

func TestRunBatchOwnsOneEnginePerSeed(t *testing.T) {
	sim, _ := newTestSimulator(t, false, nil)
	runs, err := sim.RunBatch(context.Background(), RunRequest{Start: "2024-03-01", End: "2024-03-02"}, []uint64{3, 4, 5})
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for i, seed := range []uint64{3, 4, 5} {
		assert.Equal(t, seed, runs[i].Config.Seed)
		assert.Equal(t, RunStatusDone, runs[i].Status)
	}
}
