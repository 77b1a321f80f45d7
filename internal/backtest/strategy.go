package backtest

import "context"

// Strategy decides, bar by bar, what the Session should do.
type Strategy interface {
	Name() string
	// Prepare receives the whole series before the first bar so indicator
	// columns can be computed up front.
	Prepare(candles []Candle) error
	// OnBar runs after liquidation and limit checks of bar idx.
	OnBar(ctx context.Context, s *Session, idx int, bar Candle) error
}

// StrategyFactory builds a fresh Strategy per run.
type StrategyFactory interface {
	NewStrategy(name string, params map[string]any) (Strategy, error)
}
