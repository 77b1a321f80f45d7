package margin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableLookup(t *testing.T) {
	tbl, err := DefaultTables().Table("btcusdt")
	require.NoError(t, err)
	require.NoError(t, tbl.Validate())

	tests := []struct {
		name     string
		notional float64
		maxLev   int
		mm       float64
	}{
		{"first tier", 1_000, 125, 4},
		{"boundary is inclusive", 50_000, 125, 200},
		{"second tier", 100_000, 100, 450},
		{"third tier", 1_000_000, 50, 8_700},
		{"beyond last bracket", 600_000_000, 1, 600_000_000*0.5 - 101_421_300},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.maxLev, tbl.MaxLeverage(tc.notional))
			assert.InDelta(t, tc.mm, tbl.MaintenanceMargin(tc.notional), 1e-6)
		})
	}
}

func TestMaintenanceMarginContinuousAcrossBrackets(t *testing.T) {
	tbl, err := DefaultTables().Table("BTCUSDT")
	require.NoError(t, err)
	for i := 0; i+1 < len(tbl.Tiers); i++ {
		pb := tbl.Tiers[i].PositionBracket
		next := tbl.Tiers[i+1]
		upper := pb*next.MaintenanceRate - next.MaintenanceAmount
		assert.InDelta(t, tbl.MaintenanceMargin(pb), upper, 1e-6, "bracket %v", pb)
	}
}

func TestMarginRatio(t *testing.T) {
	tbl, _ := DefaultTables().Table("BTCUSDT")
	// 10 base long from 100, margin 100: at 91 equity is 10, mm is 910*0.004.
	ratio := tbl.MarginRatio(910, 100, 10, 100, 91, 1)
	assert.InDelta(t, 3.64/10, ratio, 1e-9)
}

func TestUnknownPair(t *testing.T) {
	_, err := DefaultTables().Table("DOGEUSDT")
	assert.ErrorIs(t, err, ErrUnknownPair)
}

func TestTableValidate(t *testing.T) {
	bad := Table{Pair: "X", MinBaseUnit: 0.1, Tiers: []Tier{
		{PositionBracket: 100, MaxLeverage: 10, MaintenanceRate: 0.01},
		{PositionBracket: 50, MaxLeverage: 5, MaintenanceRate: 0.02},
	}}
	assert.Error(t, bad.Validate())
	assert.Error(t, Table{Pair: "X"}.Validate())
}

func TestRegistryLoadsFileAndMergesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tables.yaml")
	body := `pairs:
  ethusdt:
    min_base_unit: 0.01
    tiers:
      - {pb: 10000, ml: 50, mmr: 0.01, ma: 0}
      - {pb: 100000, ml: 20, mmr: 0.02, ma: 100}
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	reg, err := NewRegistry(path, false)
	require.NoError(t, err)

	eth, err := reg.Table("ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", eth.Pair)
	assert.Equal(t, 0.01, eth.MinBaseUnit)
	assert.Equal(t, 20, eth.MaxLeverage(50_000))

	_, err = reg.Table("BTCUSDT")
	require.NoError(t, err, "built-in tables stay available")
	assert.Equal(t, int64(1), reg.Snapshot().Version)
}

func TestRegistryRejectsInvalidDocument(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"missing tiers": "pairs:\n  BTCUSDT:\n    min_base_unit: 0.001\n",
		"zero leverage": "pairs:\n  BTCUSDT:\n    min_base_unit: 0.001\n    tiers:\n      - {pb: 10, ml: 0, mmr: 0.01, ma: 0}\n",
		"unknown field": "pairs:\n  BTCUSDT:\n    min_base_unit: 0.001\n    lot: 2\n    tiers:\n      - {pb: 10, ml: 5, mmr: 0.01, ma: 0}\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := NewRegistry(path, false)
			assert.Error(t, err)
		})
	}
}

func TestRegistryWithoutPathServesDefaults(t *testing.T) {
	reg, err := NewRegistry("", false)
	require.NoError(t, err)
	tbl, err := reg.Table("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.001, tbl.MinBaseUnit)
}

func TestShippedConfigIsValid(t *testing.T) {
	reg, err := NewRegistry(filepath.Join("..", "..", "configs", "margin_tables.yaml"), false)
	require.NoError(t, err)
	tbl, err := reg.Table("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, DefaultTables()["BTCUSDT"].Tiers, tbl.Tiers)
}

func TestRegistryApplyLotSizes(t *testing.T) {
	reg, err := NewRegistry("", false)
	require.NoError(t, err)
	before := reg.Snapshot().Version

	changed := reg.ApplyLotSizes(map[string]float64{"btcusdt": 0.002, "NOPEUSDT": 1, "ETHUSDT": 0})
	assert.Equal(t, 1, changed)
	tbl, err := reg.Table("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.002, tbl.MinBaseUnit)
	assert.Equal(t, before+1, reg.Snapshot().Version)

	assert.Zero(t, reg.ApplyLotSizes(map[string]float64{"BTCUSDT": 0.002}))
}
