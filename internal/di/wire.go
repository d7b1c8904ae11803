//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"MarketMaker/pkg/config"
	"MarketMaker/pkg/logger"
	"MarketMaker/pkg/server"
)

// InitializeApp wires the session, its backends and the status API. The returned cleanup closes
// the backends and must run after App.Run returns.
func InitializeApp(cfg *config.Config, log *logger.Logger) (*server.App, func(), error) {
	wire.Build(
		ProvideMetrics,
		ProvideProfiles,

		// Backends
		ProvideEventPublisher,
		ProvideJournal,
		ProvideStateStore,

		// Exchange or paper
		ProvideExchangeSession,
		ProvideOrderGateway,

		// Engine
		ProvideCore,
		ProvideEngine,
		ProvidePipeline,
		ProvideRunner,
		ProvideReplayConsumer,

		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}
