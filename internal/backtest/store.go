package backtest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// schemaVersion is stored in PRAGMA user_version of every series file.
const schemaVersion = 1

const candleColumns = `open_time, close_time, open, high, low, close, volume, trades`

const (
	defaultQueryLimit = 200
	maxQueryLimit     = 2000
)

// Manifest summarizes one symbol@timeframe cache file.
type Manifest struct {
	Symbol     string `json:"symbol"`
	Timeframe  string `json:"timeframe"`
	MinTime    int64  `json:"min_time"`
	MaxTime    int64  `json:"max_time"`
	Rows       int64  `json:"rows"`
	LastSyncAt int64  `json:"last_sync_at"`
	Path       string `json:"path"`
}

// series is one open sqlite file.
type series struct {
	symbol    string
	timeframe string
	path      string
	db        *sql.DB
}

// Store caches candles in one sqlite file per symbol and timeframe, laid
// out as <root>/<SYMBOL>/<timeframe>.db.
type Store struct {
	root string

	mu     sync.Mutex
	series map[string]*series
}

func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("candle store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, series: make(map[string]*series)}, nil
}

// Close closes every open series and returns the first error.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for key, sr := range s.series {
		if err := sr.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.series, key)
	}
	return firstErr
}

func (s *Store) open(symbol, timeframe string) (*series, error) {
	symbol, timeframe = strings.ToUpper(strings.TrimSpace(symbol)), strings.ToLower(strings.TrimSpace(timeframe))
	if symbol == "" || timeframe == "" {
		return nil, fmt.Errorf("symbol and timeframe are required")
	}
	key := symbol + "@" + timeframe
	s.mu.Lock()
	defer s.mu.Unlock()
	if sr, ok := s.series[key]; ok {
		return sr, nil
	}
	path := filepath.Join(s.root, symbol, timeframe+".db")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path))
	if err != nil {
		return nil, err
	}
	// One writer per file keeps sqlite from returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", key, err)
	}
	sr := &series{symbol: symbol, timeframe: timeframe, path: path, db: db}
	s.series[key] = sr
	return sr, nil
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return err
	}
	if version >= schemaVersion {
		return nil
	}
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			open_time  INTEGER PRIMARY KEY,
			close_time INTEGER NOT NULL,
			open       REAL NOT NULL,
			high       REAL NOT NULL,
			low        REAL NOT NULL,
			close      REAL NOT NULL,
			volume     REAL NOT NULL,
			trades     INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		);
		PRAGMA user_version = ` + fmt.Sprint(schemaVersion) + `;`)
	return err
}

// InsertCandles upserts candles keyed by open time and returns how many
// rows were written. Invalid bars abort the batch.
func (s *Store) InsertCandles(ctx context.Context, symbol, timeframe string, candles []Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	for _, c := range candles {
		if err := c.Validate(); err != nil {
			return 0, err
		}
	}
	sr, err := s.open(symbol, timeframe)
	if err != nil {
		return 0, err
	}
	tx, err := sr.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO candles (`+candleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, c.OpenTime, c.CloseTime, c.Open, c.High, c.Low, c.Close, c.Volume, c.Trades); err != nil {
			return 0, err
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta (key, value) VALUES ('last_sync_at', ?)`, time.Now().UnixMilli()); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(candles), nil
}

// LoadOpenTimes returns the cached open times within [start, end].
func (s *Store) LoadOpenTimes(ctx context.Context, symbol, timeframe string, start, end int64) ([]int64, error) {
	sr, err := s.open(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	rows, err := sr.db.QueryContext(ctx, `SELECT open_time FROM candles WHERE open_time BETWEEN ? AND ? ORDER BY open_time`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// Manifest aggregates the cached range of a series.
func (s *Store) Manifest(ctx context.Context, symbol, timeframe string) (Manifest, error) {
	sr, err := s.open(symbol, timeframe)
	if err != nil {
		return Manifest{}, err
	}
	m := Manifest{Symbol: sr.symbol, Timeframe: sr.timeframe, Path: sr.path}
	err = sr.db.QueryRowContext(ctx, `
		SELECT COALESCE(MIN(open_time), 0), COALESCE(MAX(open_time), 0), COUNT(1),
		       COALESCE((SELECT value FROM meta WHERE key = 'last_sync_at'), 0)
		FROM candles`).Scan(&m.MinTime, &m.MaxTime, &m.Rows, &m.LastSyncAt)
	if err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// QueryCandles reads at most limit candles in ascending open time. Without
// a start bound it returns the latest ones.
func (s *Store) QueryCandles(ctx context.Context, symbol, timeframe string, start, end int64, limit int) ([]Candle, error) {
	sr, err := s.open(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	limit = min(max(limit, 0), maxQueryLimit)
	if limit == 0 {
		limit = defaultQueryLimit
	}
	if start > 0 && end > 0 && end < start {
		start, end = end, start
	}
	var (
		where []string
		args  []any
	)
	if start > 0 {
		where, args = append(where, "open_time >= ?"), append(args, start)
	}
	if end > 0 {
		where, args = append(where, "open_time <= ?"), append(args, end)
	}
	latest := start <= 0
	query := `SELECT ` + candleColumns + ` FROM candles`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if latest {
		query += " ORDER BY open_time DESC"
	} else {
		query += " ORDER BY open_time ASC"
	}
	query += " LIMIT ?"
	args = append(args, limit)

	list, err := queryCandles(ctx, sr.db, query, args...)
	if err != nil {
		return nil, err
	}
	if latest {
		slices.Reverse(list)
	}
	return list, nil
}

// RangeCandles returns every candle with open time in [start, end].
func (s *Store) RangeCandles(ctx context.Context, symbol, timeframe string, start, end int64) ([]Candle, error) {
	if start <= 0 || end <= 0 {
		return nil, fmt.Errorf("start and end must be > 0")
	}
	if end < start {
		start, end = end, start
	}
	sr, err := s.open(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	return queryCandles(ctx, sr.db, `SELECT `+candleColumns+` FROM candles WHERE open_time BETWEEN ? AND ? ORDER BY open_time ASC`, start, end)
}

func queryCandles(ctx context.Context, db *sql.DB, query string, args ...any) ([]Candle, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Candle
	for rows.Next() {
		var c Candle
		if err := rows.Scan(&c.OpenTime, &c.CloseTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Trades); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// Gap is a missing open-time interval, both ends inclusive.
type Gap struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// IntegrityReport compares the cache against the expected bar grid.
type IntegrityReport struct {
	Expected int64 `json:"expected"`
	Present  int64 `json:"present"`
	Gaps     []Gap `json:"gaps,omitempty"`
}

// Complete reports whether no bar is missing.
func (r IntegrityReport) Complete() bool {
	return len(r.Gaps) == 0 && r.Present >= r.Expected
}

// CheckIntegrity walks the tf grid of [start, end] and collects the runs of
// missing bars.
func (s *Store) CheckIntegrity(ctx context.Context, symbol, timeframe string, tf Timeframe, start, end int64) (IntegrityReport, error) {
	report := IntegrityReport{Expected: tf.ExpectedCandles(start, end)}
	if report.Expected == 0 {
		return report, nil
	}
	present, err := s.LoadOpenTimes(ctx, symbol, timeframe, start, end)
	if err != nil {
		return report, err
	}
	report.Present = int64(len(present))
	step := tf.durationMillis()
	next := start
	for _, ts := range present {
		if ts < next {
			continue
		}
		if ts > next {
			report.Gaps = append(report.Gaps, Gap{From: next, To: ts - step})
		}
		next = ts + step
	}
	if next <= end {
		report.Gaps = append(report.Gaps, Gap{From: next, To: end})
	}
	return report, nil
}
