package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"futuresim/internal/types"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrRunNotFound is returned for unknown run ids.
var ErrRunNotFound = errors.New("run not found")

type runModel struct {
	ID             string         `gorm:"column:id;primaryKey"`
	Pair           string         `gorm:"column:pair;index"`
	Strategy       string         `gorm:"column:strategy"`
	Status         string         `gorm:"column:status"`
	Timeframe      string         `gorm:"column:timeframe"`
	StartTS        int64          `gorm:"column:start_ts"`
	EndTS          int64          `gorm:"column:end_ts"`
	InitialBalance float64        `gorm:"column:initial_balance"`
	FinalBalance   float64        `gorm:"column:final_balance"`
	ROI            float64        `gorm:"column:roi"`
	MaxDrawdown    float64        `gorm:"column:max_drawdown"`
	Message        string         `gorm:"column:message"`
	ConfigJSON     datatypes.JSON `gorm:"column:config_json;type:TEXT"`
	StatsJSON      datatypes.JSON `gorm:"column:stats_json;type:TEXT"`
	CreatedAtUnix  int64          `gorm:"column:created_at;index"`
	UpdatedAtUnix  int64          `gorm:"column:updated_at"`
	CompletedAt    *int64         `gorm:"column:completed_at"`
}

func (runModel) TableName() string { return "backtest_runs" }

type fillModel struct {
	ID        int64   `gorm:"column:id;primaryKey;autoIncrement"`
	RunID     string  `gorm:"column:run_id;index"`
	OrderID   int64   `gorm:"column:order_id"`
	Kind      string  `gorm:"column:kind"`
	Position  string  `gorm:"column:position"`
	OrderType string  `gorm:"column:order_type"`
	Price     float64 `gorm:"column:price"`
	SizeQuote float64 `gorm:"column:size_quote"`
	Margin    float64 `gorm:"column:margin"`
	Fee       float64 `gorm:"column:fee"`
	PnL       float64 `gorm:"column:pnl"`
	AtUnixMs  int64   `gorm:"column:at"`
}

func (fillModel) TableName() string { return "backtest_fills" }

type snapshotModel struct {
	ID          int64   `gorm:"column:id;primaryKey;autoIncrement"`
	RunID       string  `gorm:"column:run_id;index"`
	TS          int64   `gorm:"column:ts"`
	Balance     float64 `gorm:"column:balance"`
	Equity      float64 `gorm:"column:equity"`
	Drawdown    float64 `gorm:"column:drawdown"`
	Exposure    float64 `gorm:"column:exposure"`
	Held        float64 `gorm:"column:held"`
	Liquidation float64 `gorm:"column:liquidation"`
	Note        string  `gorm:"column:note"`
}

func (snapshotModel) TableName() string { return "backtest_snapshots" }

// ResultStore persists runs, fills and equity snapshots through gorm.
type ResultStore struct {
	db   *gorm.DB
	path string
}

// NewResultStore opens (and migrates) the sqlite file at path.
func NewResultStore(path string) (*ResultStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("result store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}, &fillModel{}, &snapshotModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &ResultStore{db: db, path: path}, nil
}

func (s *ResultStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertRun writes a new run row.
func (s *ResultStore) InsertRun(ctx context.Context, run Run) error {
	m, err := newRunModel(run)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	m.CreatedAtUnix, m.UpdatedAtUnix = now, now
	return s.db.WithContext(ctx).Create(&m).Error
}

// UpdateRunStatus changes status and message only.
func (s *ResultStore) UpdateRunStatus(ctx context.Context, id, status, message string) error {
	payload := map[string]any{
		"status":     status,
		"message":    message,
		"updated_at": time.Now().UnixMilli(),
	}
	if status == RunStatusDone || status == RunStatusFailed {
		payload["completed_at"] = time.Now().UnixMilli()
	}
	return s.updateRun(ctx, id, payload)
}

// UpdateRunSummary stores the final status and stats.
func (s *ResultStore) UpdateRunSummary(ctx context.Context, id, status string, stats RunStats, message string) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	payload := map[string]any{
		"status":        status,
		"message":       message,
		"final_balance": stats.FinalBalance,
		"roi":           stats.ROI,
		"max_drawdown":  stats.MaxDrawdownPct,
		"stats_json":    datatypes.JSON(statsJSON),
		"updated_at":    now,
	}
	if status == RunStatusDone || status == RunStatusFailed {
		payload["completed_at"] = now
	}
	return s.updateRun(ctx, id, payload)
}

func (s *ResultStore) updateRun(ctx context.Context, id string, payload map[string]any) error {
	res := s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", id).Updates(payload)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// InsertFills batch-inserts fills and assigns their ids.
func (s *ResultStore) InsertFills(ctx context.Context, fills []Fill) error {
	if len(fills) == 0 {
		return nil
	}
	models := make([]fillModel, 0, len(fills))
	for _, f := range fills {
		models = append(models, fillModel{
			RunID:     f.RunID,
			OrderID:   f.OrderID,
			Kind:      f.Kind,
			Position:  f.Position.String(),
			OrderType: f.OrderType.String(),
			Price:     f.Price,
			SizeQuote: f.SizeQuote,
			Margin:    f.Margin,
			Fee:       f.Fee,
			PnL:       f.PnL,
			AtUnixMs:  f.At.UnixMilli(),
		})
	}
	if err := s.db.WithContext(ctx).CreateInBatches(&models, 200).Error; err != nil {
		return err
	}
	for i := range fills {
		fills[i].ID = models[i].ID
	}
	return nil
}

// InsertSnapshots batch-inserts equity snapshots.
func (s *ResultStore) InsertSnapshots(ctx context.Context, snaps []Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	models := make([]snapshotModel, 0, len(snaps))
	for _, snap := range snaps {
		models = append(models, snapshotModel{
			RunID:       snap.RunID,
			TS:          snap.TS,
			Balance:     snap.Balance,
			Equity:      snap.Equity,
			Drawdown:    snap.Drawdown,
			Exposure:    snap.Exposure,
			Held:        snap.Held,
			Liquidation: snap.Liquidation,
			Note:        snap.Note,
		})
	}
	return s.db.WithContext(ctx).CreateInBatches(&models, 500).Error
}

// ListRuns returns the latest runs first.
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var models []runModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(models))
	for _, m := range models {
		out = append(out, m.toRun())
	}
	return out, nil
}

// GetRun loads one run.
func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	var m runModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, err
	}
	return m.toRun(), nil
}

// ListFills returns fills in execution order. limit <= 0 returns all.
func (s *ResultStore) ListFills(ctx context.Context, runID string, limit int) ([]Fill, error) {
	q := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []fillModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Fill, 0, len(models))
	for _, m := range models {
		pos, _ := types.ParsePosition(m.Position)
		ot, _ := types.ParseOrderType(m.OrderType)
		out = append(out, Fill{
			ID:        m.ID,
			RunID:     m.RunID,
			OrderID:   m.OrderID,
			Kind:      m.Kind,
			Position:  pos,
			OrderType: ot,
			Price:     m.Price,
			SizeQuote: m.SizeQuote,
			Margin:    m.Margin,
			Fee:       m.Fee,
			PnL:       m.PnL,
			At:        time.UnixMilli(m.AtUnixMs).UTC(),
		})
	}
	return out, nil
}

// ListSnapshots returns snapshots by time. limit <= 0 returns all.
func (s *ResultStore) ListSnapshots(ctx context.Context, runID string, limit int) ([]Snapshot, error) {
	q := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("ts ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []snapshotModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(models))
	for _, m := range models {
		out = append(out, Snapshot{
			ID:          m.ID,
			RunID:       m.RunID,
			TS:          m.TS,
			Balance:     m.Balance,
			Equity:      m.Equity,
			Drawdown:    m.Drawdown,
			Exposure:    m.Exposure,
			Held:        m.Held,
			Liquidation: m.Liquidation,
			Note:        m.Note,
		})
	}
	return out, nil
}

func newRunModel(run Run) (runModel, error) {
	cfgJSON, err := json.Marshal(run.Config)
	if err != nil {
		return runModel{}, err
	}
	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return runModel{}, err
	}
	return runModel{
		ID:             run.ID,
		Pair:           run.Pair,
		Strategy:       run.Strategy,
		Status:         run.Status,
		Timeframe:      run.Timeframe,
		StartTS:        run.StartTS,
		EndTS:          run.EndTS,
		InitialBalance: run.InitialBalance,
		FinalBalance:   run.FinalBalance,
		ROI:            run.ROI,
		MaxDrawdown:    run.MaxDrawdownPct,
		Message:        run.Message,
		ConfigJSON:     datatypes.JSON(cfgJSON),
		StatsJSON:      datatypes.JSON(statsJSON),
	}, nil
}

func (m runModel) toRun() Run {
	run := Run{
		ID:             m.ID,
		Pair:           m.Pair,
		Strategy:       m.Strategy,
		Status:         m.Status,
		Timeframe:      m.Timeframe,
		StartTS:        m.StartTS,
		EndTS:          m.EndTS,
		InitialBalance: m.InitialBalance,
		FinalBalance:   m.FinalBalance,
		ROI:            m.ROI,
		MaxDrawdownPct: m.MaxDrawdown,
		Message:        m.Message,
		CreatedAt:      timeFromMillis(m.CreatedAtUnix),
		UpdatedAt:      timeFromMillis(m.UpdatedAtUnix),
	}
	if m.CompletedAt != nil {
		run.CompletedAt = timeFromMillis(*m.CompletedAt)
	}
	if len(m.ConfigJSON) > 0 {
		_ = json.Unmarshal(m.ConfigJSON, &run.Config)
	}
	if len(m.StatsJSON) > 0 {
		_ = json.Unmarshal(m.StatsJSON, &run.Stats)
	}
	return run
}

func timeFromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
