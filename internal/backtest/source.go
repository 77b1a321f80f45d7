package backtest

import (
	"context"

	"futuresim/internal/market"
)

type Candle = market.Candle

// CandleSource downloads klines from a remote venue.
type CandleSource interface {
	Fetch(ctx context.Context, req market.FetchRequest) ([]market.Candle, error)
	Name() string
}
