package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"NightScan/internal/domain/repository"
	domsvc "NightScan/internal/domain/service"
	"NightScan/internal/handler/api"
	internalrepo "NightScan/internal/repository"
	"NightScan/internal/service/gateway"
	svcmetrics "NightScan/internal/service/metrics"
	"NightScan/internal/service/provider"
	"NightScan/internal/service/ratelimit"
	"NightScan/internal/service/retry"
	"NightScan/internal/services/analytics"
	"NightScan/internal/services/prediction"
	"NightScan/internal/services/regime"
	"NightScan/internal/services/scoring"
	"NightScan/internal/services/sentiment"
	"NightScan/internal/usecase"
	"NightScan/pkg/cache"
	pkgch "NightScan/pkg/clickhouse"
	"NightScan/pkg/config"
	xhttp "NightScan/pkg/http"
	pkgkafka "NightScan/pkg/kafka"
	applogger "NightScan/pkg/logger"
	"NightScan/pkg/metrics"
	"NightScan/pkg/server"
)

const userAgent = "Mozilla/5.0 (compatible; nightscan/1.0)"

// ProvideKafkaProducer creates the shared producer. It is nil when no
// brokers are configured.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.MaxAttempts),
		pkgkafka.WithWriteTimeout(cfg.Kafka.WriteTimeout),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	pkgkafka.RegisterMetrics(prometheus.DefaultRegisterer)
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideLogger builds the process logger. Warn and error lines are
// aggregated and shipped to kafka.log_topic when it is set.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, func(), error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	if producer == nil || cfg.Kafka.LogTopic == "" {
		return l, func() {}, nil
	}
	l.AddCollector(&applogger.CollectionConfig{
		Window:    cfg.Kafka.LogWindow,
		Topic:     cfg.Kafka.LogTopic,
		Publisher: producer,
	})
	return l, l.RemoveCollector, nil
}

// ProvideMetrics creates the Prometheus recorder and registers the service
// collectors on the default registry.
func ProvideMetrics() repository.Metrics {
	svcmetrics.Register(prometheus.DefaultRegisterer)
	return metrics.New(prometheus.DefaultRegisterer)
}

// ProvideCache returns the history cache: memory only, or memory in front
// of Redis.
func ProvideCache(cfg *config.Config, l *applogger.Logger) (cache.Service, func(), error) {
	if !cfg.Cache.Redis.Enabled {
		mem := cache.NewMemoryCache(
			cache.WithMemoryMaxSize(cfg.Cache.MaxEntries),
			cache.WithMemoryCleanup(10*time.Minute),
		)
		return mem, func() { _ = mem.Close() }, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Cache.Redis.Addr),
		cache.WithRedisPassword(cfg.Cache.Redis.Password),
		cache.WithRedisDB(cfg.Cache.Redis.DB),
		cache.WithRedisPool(10, 2, 5*time.Second),
		cache.WithRedisPrefix("nightscan:history"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis cache: %w", err)
	}
	l.Info("history cache backed by redis", applogger.String("addr", cfg.Cache.Redis.Addr))
	layered := cache.NewLayeredCache(rc,
		cache.WithLayeredMemorySize(cfg.Cache.MaxEntries),
		cache.WithLayeredL1TTL(cfg.Gateway.CacheTTL),
	)
	return layered, func() { _ = layered.Close() }, nil
}

// ProvideThrottle configures spacing and daily budgets per provider.
func ProvideThrottle(cfg *config.Config) *ratelimit.Throttle {
	t := ratelimit.New()
	t.Configure(provider.NamePrimary, ratelimit.Limits{
		MinSpacing:  cfg.Providers.Primary.MinSpacing,
		DailyBudget: cfg.Providers.Primary.DailyBudget,
	})
	t.Configure(provider.NameSecondary, ratelimit.Limits{
		MinSpacing:  cfg.Providers.Secondary.MinSpacing,
		DailyBudget: cfg.Providers.Secondary.DailyBudget,
	})
	return t
}

// ProvideProviders builds the fallback chain in priority order.
func ProvideProviders(cfg *config.Config, throttle *ratelimit.Throttle) []repository.HistoryProvider {
	var out []repository.HistoryProvider
	if p := cfg.Providers.Primary; p.Enabled {
		opts := []provider.Option{
			provider.WithClient(xhttp.NewClient(xhttp.WithTimeout(p.Timeout), xhttp.WithUserAgent(userAgent))),
			provider.WithPacer(throttle),
		}
		if p.BaseURL != "" {
			opts = append(opts, provider.WithBaseURL(p.BaseURL))
		}
		out = append(out, provider.NewYahoo(opts...))
	}
	if p := cfg.Providers.Secondary; p.Enabled {
		opts := []provider.Option{
			provider.WithClient(xhttp.NewClient(xhttp.WithTimeout(p.Timeout))),
			provider.WithAPIKey(p.APIKey),
		}
		if p.BaseURL != "" {
			opts = append(opts, provider.WithBaseURL(p.BaseURL))
		}
		out = append(out, provider.NewAlphaVantage(opts...))
	}
	return out
}

func ProvideGateway(
	cfg *config.Config,
	providers []repository.HistoryProvider,
	throttle *ratelimit.Throttle,
	c cache.Service,
	m repository.Metrics,
	l *applogger.Logger,
) *gateway.Gateway {
	r := cfg.Gateway.Retry
	return gateway.New(providers, throttle,
		gateway.WithCache(c, cfg.Gateway.CacheTTL),
		gateway.WithRetry(retry.Policy{
			MaxAttempts: r.MaxAttempts,
			Initial:     r.Initial,
			Max:         r.Max,
			Multiplier:  r.Multiplier,
		}),
		gateway.WithBreaker(cfg.Gateway.Breaker.ConsecutiveFailures, cfg.Gateway.Breaker.OpenTimeout),
		gateway.WithBatchSampleSize(cfg.Gateway.BatchSampleSize),
		gateway.WithCallTimeout(provider.NamePrimary, cfg.Providers.Primary.Timeout),
		gateway.WithCallTimeout(provider.NameSecondary, cfg.Providers.Secondary.Timeout),
		gateway.WithMetrics(m),
		gateway.WithLogger(l.With(applogger.String("module", "gateway"))),
	)
}

func ProvideRegimeEngine(cfg *config.Config, data domsvc.MarketData, l *applogger.Logger) domsvc.RegimeEngine {
	return regime.NewEngine(data, cfg.Regime, regime.WithLogger(l.With(applogger.String("module", "regime"))))
}

// ProvideSentiment wires the symbol feed, the cached macro feeds and, when
// configured, the model classifier.
func ProvideSentiment(cfg *config.Config, l *applogger.Logger) domsvc.SentimentScorer {
	sl := l.With(applogger.String("module", "sentiment"))
	reader := sentiment.NewFeedReader(cfg.Sentiment,
		sentiment.WithFeedClient(xhttp.NewClient(xhttp.WithTimeout(cfg.Sentiment.Timeout), xhttp.WithUserAgent(userAgent))),
	)
	opts := []sentiment.Option{
		sentiment.WithNewsSource(sentiment.NewSymbolFeed(reader, cfg.Sentiment.SymbolFeedURL)),
		sentiment.WithUniverse(cfg.Universe.Symbols),
		sentiment.WithLogger(sl),
	}
	if len(cfg.Sentiment.MacroFeeds) > 0 {
		opts = append(opts, sentiment.WithMacro(sentiment.NewMacroCache(reader, cfg.Sentiment.MacroFeeds, cfg.Sentiment.MacroTTL, sl)))
	}
	if cfg.Models.ClassifierURL != "" {
		opts = append(opts, sentiment.WithClassifier(analytics.NewHTTPClassifier(cfg.Models.ClassifierURL, cfg.Models.Timeout)))
	}
	return sentiment.New(opts...)
}

func ProvidePredictor(cfg *config.Config, l *applogger.Logger) (domsvc.Predictor, error) {
	opts := []prediction.Option{prediction.WithLogger(l.With(applogger.String("module", "ensemble")))}
	if cfg.Models.ForecasterURL != "" {
		opts = append(opts, prediction.WithForecaster(analytics.NewHTTPForecaster(cfg.Models.ForecasterURL, cfg.Models.Timeout)))
	}
	return prediction.NewEnsemble(cfg.Ensemble, opts...)
}

func ProvideScorer(cfg *config.Config) domsvc.Scorer {
	return scoring.NewScorer(cfg.Scoring)
}

func ProvideValidation(cfg *config.Config, data domsvc.MarketData, l *applogger.Logger) *usecase.ValidationStage {
	return usecase.NewValidationStage(data, cfg.Validation, l.With(applogger.String("module", "validation")))
}

// ProvideRunStore archives runs in ClickHouse when enabled, in memory
// otherwise.
func ProvideRunStore(cfg *config.Config, l *applogger.Logger) (repository.RunStore, func(), error) {
	ch := cfg.ClickHouse
	if !ch.Enabled {
		return internalrepo.NewMemoryRunStore(30), func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithHost(ch.Host),
		pkgch.WithPort(ch.Port),
		pkgch.WithDatabase(ch.Database),
		pkgch.WithCredentials(ch.User, ch.Password),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout, ch.WriteTimeout),
		pkgch.WithMaxConnections(4, 2),
		pkgch.WithMaxExecutionTime(ch.ReadTimeout),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if err := client.InitSchema(ctx, internalrepo.RunsSchema("")); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	l.Info("run archive ready", applogger.String("database", ch.Database))

	store := internalrepo.NewClickHouseRunStore(client.DB(), "")
	store.SetLogger(l)
	return store, func() { _ = client.Close() }, nil
}

// ProvidePublisher publishes finished runs to kafka.summary_topic. The
// producer is closed by its own provider.
func ProvidePublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.SummaryPublisher {
	if producer == nil || cfg.Kafka.SummaryTopic == "" {
		return internalrepo.NopPublisher{}
	}
	return internalrepo.NewKafkaSummaryPublisher(producer, cfg.Kafka.SummaryTopic)
}

func ProvidePipeline(
	cfg *config.Config,
	data *gateway.Gateway,
	engine domsvc.RegimeEngine,
	scorer domsvc.SentimentScorer,
	validation *usecase.ValidationStage,
	predictor domsvc.Predictor,
	ranker domsvc.Scorer,
	store repository.RunStore,
	pub repository.SummaryPublisher,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.Pipeline {
	return usecase.NewPipeline(cfg, usecase.PipelineDeps{
		Data:       data,
		Regime:     engine,
		Sentiment:  scorer,
		Validation: validation,
		Predictor:  predictor,
		Scorer:     ranker,
	},
		usecase.WithRunStore(store),
		usecase.WithPublisher(pub),
		usecase.WithMetrics(m),
		usecase.WithLogger(l.With(applogger.String("module", "pipeline"))),
	)
}

func ProvideRunsUseCase(store repository.RunStore) *usecase.RunsUseCase {
	return usecase.NewRunsUseCase(store)
}

func ProvideHTTPServer(cfg *config.Config, runs *usecase.RunsUseCase, l *applogger.Logger) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(l, []xhttp.Handler{api.NewRunsEchoHandler(l, runs)},
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(true),
		xhttp.WithMetrics(metricsPath, prometheus.DefaultRegisterer, prometheus.DefaultGatherer),
	)
}

func ProvideApp(cfg *config.Config, pipeline *usecase.Pipeline, srv *xhttp.Server, l *applogger.Logger) (*server.App, error) {
	return server.New(pipeline, srv, l, cfg.Pipeline.Schedule, cfg.Pipeline.Timezone)
}
