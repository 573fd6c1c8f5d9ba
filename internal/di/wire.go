//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	domsvc "NightScan/internal/domain/service"
	"NightScan/internal/service/gateway"
	"NightScan/pkg/config"
	"NightScan/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Infrastructure
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,
		ProvideCache,

		// Market data
		ProvideThrottle,
		ProvideProviders,
		ProvideGateway,
		wire.Bind(new(domsvc.MarketData), new(*gateway.Gateway)),

		// Analytics
		ProvideRegimeEngine,
		ProvideSentiment,
		ProvidePredictor,
		ProvideScorer,
		ProvideValidation,

		// Persistence
		ProvideRunStore,
		ProvidePublisher,

		// Use cases and transport
		ProvidePipeline,
		ProvideRunsUseCase,
		ProvideHTTPServer,

		ProvideApp,
	)
	return nil, nil, nil
}
