package backtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, src *fakeSource, dataDir string) *Service {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	svc, err := NewService(ServiceConfig{
		Store:           store,
		Sources:         map[string]CandleSource{"Fake": src},
		DataDir:         dataDir,
		RateLimitPerMin: 60000,
		MaxBatch:        5,
	})
	require.NoError(t, err)
	return svc
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(ServiceConfig{})
	assert.Error(t, err)
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	_, err = NewService(ServiceConfig{Store: store})
	assert.Error(t, err)
}

func TestLoadPrefersCSVThenCacheThenSource(t *testing.T) {
	start, end, err := ParseDateRange("2024-03-01", "2024-03-02")
	require.NoError(t, err)
	src := &fakeSource{candles: hourly(start, 48, 100, 102, 98)}
	dataDir := t.TempDir()
	svc := newTestService(t, src, dataDir)
	ctx := context.Background()
	req := LoadRequest{Pair: "btcusdt", Timeframe: "1h", Start: start, End: end}

	got, err := svc.Load(ctx, req)
	require.NoError(t, err)
	assert.Len(t, got, 48)
	assert.Equal(t, 10, src.Calls(), "48 bars in pages of 5")

	path := CSVPath(dataDir, "BTCUSDT", "1h", start, end)
	_, err = os.Stat(path)
	require.NoError(t, err, "dataset exported to csv")

	again, err := svc.Load(ctx, req)
	require.NoError(t, err)
	assert.Len(t, again, 48)
	assert.Equal(t, 10, src.Calls(), "csv hit skips the source")

	require.NoError(t, os.Remove(path))
	cached, err := svc.Load(ctx, req)
	require.NoError(t, err)
	assert.Len(t, cached, 48)
	assert.Equal(t, 10, src.Calls(), "complete cache skips the source")
}

func TestLoadValidatesRequest(t *testing.T) {
	svc := newTestService(t, &fakeSource{}, "")
	ctx := context.Background()
	_, err := svc.Load(ctx, LoadRequest{Pair: "BTCUSDT", Timeframe: "1h", Start: day0, End: day0})
	assert.ErrorIs(t, err, ErrInvalidRange)
	_, err = svc.Load(ctx, LoadRequest{Timeframe: "1h", Start: day0, End: day0.Add(time.Hour)})
	assert.Error(t, err)
	_, err = svc.Load(ctx, LoadRequest{Pair: "BTCUSDT", Timeframe: "2h", Start: day0, End: day0.Add(time.Hour)})
	assert.Error(t, err)
	_, err = svc.Load(ctx, LoadRequest{Pair: "BTCUSDT", Timeframe: "1h", Start: day0, End: day0.Add(5 * time.Hour)})
	assert.ErrorContains(t, err, "no candles")
}

func TestSubmitFetchCompletesJob(t *testing.T) {
	src := &fakeSource{candles: hourly(day0, 24, 100)}
	svc := newTestService(t, src, "")
	job, err := svc.SubmitFetch(FetchParams{
		Symbol:    "btcusdt",
		Timeframe: "1h",
		Start:     day0.UnixMilli(),
		End:       day0.Add(23 * time.Hour).UnixMilli(),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 24, job.Total)
	assert.Equal(t, "BTCUSDT", job.Params.Symbol)

	require.Eventually(t, func() bool {
		snap, ok := svc.JobSnapshot(job.ID)
		return ok && snap.Status == JobStatusDone
	}, 5*time.Second, 10*time.Millisecond)

	snap, _ := svc.JobSnapshot(job.ID)
	assert.EqualValues(t, 24, snap.Completed)
	assert.Empty(t, snap.Missing)
	assert.Len(t, svc.JobsSnapshot(), 1)

	again, err := svc.SubmitFetch(job.Params)
	require.NoError(t, err)
	snap, _ = svc.JobSnapshot(again.ID)
	assert.Equal(t, JobStatusDone, snap.Status)
	assert.Equal(t, "data already complete", snap.Message)

	_, err = svc.SubmitFetch(FetchParams{Symbol: "BTCUSDT", Timeframe: "1h", Exchange: "nope", Start: 1, End: 2})
	assert.Error(t, err)
}
