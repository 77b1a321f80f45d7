//go:build wireinject

package app

import (
	"context"

	"futuresim/internal/config"

	"github.com/google/wire"
)

var providerSet = wire.NewSet(
	provideMarginRegistry,
	provideCandleStore,
	provideResultStore,
	provideBinanceSource,
	provideCandleService,
	provideReporter,
	provideStrategies,
	provideDefaults,
	provideSimulator,
	provideHTTPServer,
	newApp,
)

func buildAppWithWire(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	wire.Build(providerSet)
	return nil, nil, nil
}
