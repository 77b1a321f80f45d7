package backtest

import (
	"time"

	"futuresim/internal/types"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// Fill kinds.
const (
	FillOpen        = "open"
	FillClose       = "close"
	FillLiquidation = "liquidation"
)

// RunConfig is the parameter snapshot of a run, enough to replay it.
type RunConfig struct {
	Pair           string           `json:"pair"`
	Timeframe      string           `json:"timeframe"`
	StartDate      string           `json:"start_date"`
	EndDate        string           `json:"end_date"`
	StartTS        int64            `json:"start_ts"`
	EndTS          int64            `json:"end_ts"`
	Strategy       string           `json:"strategy"`
	StrategyParams map[string]any   `json:"strategy_params,omitempty"`
	InitialBalance float64          `json:"initial_balance"`
	Leverage       int              `json:"leverage"`
	Difficulty     types.Difficulty `json:"difficulty"`
	UseFees        bool             `json:"use_fees"`
	FeeMaker       float64          `json:"fee_maker"`
	FeeTaker       float64          `json:"fee_taker"`
	Fluctuation    float64          `json:"fluctuation"`
	Seed           uint64           `json:"seed"`
}

// RunStats summarizes the outcome of a run.
type RunStats struct {
	FinalBalance   float64   `json:"final_balance"`
	FinalEquity    float64   `json:"final_equity"`
	Profit         float64   `json:"profit"`
	ROI            float64   `json:"roi"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	Orders         int       `json:"orders"`
	ClosedOrders   int       `json:"closed_orders"`
	Liquidations   int       `json:"liquidations"`
	Fees           float64   `json:"fees"`
	RealizedPnL    float64   `json:"realized_pnl"`
	Bars           int       `json:"bars"`
	EquityPeak     float64   `json:"equity_peak"`
	EquityValley   float64   `json:"equity_valley"`
	Report         string    `json:"report,omitempty"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Run is one simulation.
type Run struct {
	ID             string    `json:"id"`
	Pair           string    `json:"pair"`
	Strategy       string    `json:"strategy"`
	Status         string    `json:"status"`
	Timeframe      string    `json:"timeframe"`
	StartTS        int64     `json:"start_ts"`
	EndTS          int64     `json:"end_ts"`
	InitialBalance float64   `json:"initial_balance"`
	FinalBalance   float64   `json:"final_balance"`
	ROI            float64   `json:"roi"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	Message        string    `json:"message"`
	Config         RunConfig `json:"config"`
	Stats          RunStats  `json:"stats"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	CompletedAt    time.Time `json:"completed_at"`
}

// Fill is one entry, close or liquidation fill of a run.
type Fill struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	OrderID   int64           `json:"order_id"`
	Kind      string          `json:"kind"`
	Position  types.Position  `json:"position"`
	OrderType types.OrderType `json:"order_type"`
	Price     float64         `json:"price"`
	SizeQuote float64         `json:"size_quote"`
	Margin    float64         `json:"margin"`
	Fee       float64         `json:"fee"`
	PnL       float64         `json:"pnl"`
	At        time.Time       `json:"at"`
}

// Snapshot is the account state at the end of one bar.
type Snapshot struct {
	ID          int64   `json:"id"`
	RunID       string  `json:"run_id"`
	TS          int64   `json:"ts"`
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	Drawdown    float64 `json:"drawdown"`
	Exposure    float64 `json:"exposure"`
	Held        float64 `json:"held"`
	Liquidation float64 `json:"liquidation,omitempty"`
	Note        string  `json:"note,omitempty"`
}

// RunRequest is the API/CLI input of a run. Zero values fall back to the
// engine defaults.
type RunRequest struct {
	Pair           string         `json:"pair"`
	Timeframe      string         `json:"timeframe"`
	Start          string         `json:"start" binding:"required"`
	End            string         `json:"end" binding:"required"`
	Strategy       string         `json:"strategy"`
	Params         map[string]any `json:"params"`
	InitialBalance float64        `json:"initial_balance"`
	Leverage       int            `json:"leverage"`
	Difficulty     string         `json:"difficulty"`
	UseFees        *bool          `json:"use_fees"`
	Fluctuation    *float64       `json:"fluctuation"`
	Seed           *uint64        `json:"seed"`
	Report         bool           `json:"report"`
}
