package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "engine:\n  pair: ethusdt\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ETHUSDT", cfg.Engine.Pair)
	assert.Equal(t, 10, cfg.Engine.Leverage)
	assert.True(t, cfg.Engine.UseFee)
	assert.InDelta(t, 0.0004, cfg.Engine.FeeTaker, 1e-12)
	assert.InDelta(t, 1000.0, cfg.Wallet.InitialBalance, 1e-12)
	assert.Equal(t, "bollinger", cfg.Strategy.Name)
	assert.Equal(t, ":9991", cfg.App.HTTPAddr)
	assert.Equal(t, "data/candles", cfg.Data.CandleDir())
	assert.Equal(t, "data/csv", cfg.Data.CSVDir())
}

func TestLoadKeepsExplicitZeros(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
engine:
  use_fee: false
  fluctuation: 0
  fee_maker: 0
strategy:
  name: scripted
  params:
    strict: "true"
    steps:
      - {bar: 1, action: long, quote: 10}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Engine.UseFee)
	assert.Zero(t, cfg.Engine.Fluctuation)
	assert.Zero(t, cfg.Engine.FeeMaker)
	assert.InDelta(t, 0.0004, cfg.Engine.FeeTaker, 1e-12)
	assert.Equal(t, "scripted", cfg.Strategy.Name)
	assert.Contains(t, cfg.Strategy.Params, "steps")
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "engine:\n  leverage: 5\n  pair: SOLUSDT\n")
	path := writeFile(t, dir, "config.yaml", "include: [base.yaml]\nengine:\n  leverage: 20\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Engine.Leverage)
	assert.Equal(t, "SOLUSDT", cfg.Engine.Pair)
}

func TestLoadRejectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	path := writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")
	_, err := Load(path)
	assert.ErrorContains(t, err, "include cycle")
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"hedging":         "engine:\n  order_system: HEDGING\n",
		"difficulty":      "engine:\n  difficulty: extreme\n",
		"fluctuation":     "engine:\n  fluctuation: 1.5\n",
		"balance":         "wallet:\n  initial_balance: -1\n",
		"log level":       "app:\n  log_level: chatty\n",
		"log format":      "app:\n  log_format: xml\n",
		"base url":        "data:\n  binance_base_url: fapi.binance.com\n",
		"batch":           "data:\n  max_batch: 5000\n",
		"watch w/o path":  "engine:\n  watch_margin_tables: true\n",
		"png w/o dir":     "backtest:\n  render_png: true\n  report_dir: \"\"\n",
		"empty strategy":  "strategy:\n  name: \"\"\n",
		"negative fee":    "engine:\n  fee_taker: -0.1\n",
		"zero concurrent": "backtest:\n  max_concurrent_runs: 0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(EnvPath, "")
	assert.Equal(t, DefaultPath, Path())
	t.Setenv(EnvPath, "/etc/futuresim.yaml")
	assert.Equal(t, "/etc/futuresim.yaml", Path())
}

func TestRepositoryConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", cfg.Engine.Pair)
	assert.EqualValues(t, 50, cfg.Strategy.Params["periods"])
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "engine:\n  leverage: 5\n")
	t.Setenv("FUTURESIM_ENGINE_LEVERAGE", "25")
	t.Setenv("FUTURESIM_ENGINE_USE_FEE", "false")
	t.Setenv("FUTURESIM_WALLET_INITIAL_BALANCE", "250.5")
	t.Setenv("FUTURESIM_UNKNOWN_KEY", "ignored")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Engine.Leverage)
	assert.False(t, cfg.Engine.UseFee)
	assert.Equal(t, 250.5, cfg.Wallet.InitialBalance)
}

func TestIncludeList(t *testing.T) {
	got, err := includeList([]any{" a.yaml ", "", "b.yaml"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.yaml", "b.yaml"}, got)

	got, err = includeList("only.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"only.yaml"}, got)

	_, err = includeList([]any{1})
	assert.Error(t, err)
}
