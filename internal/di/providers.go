package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"MarketMaker/internal/domain/models"
	drepo "MarketMaker/internal/domain/repository"
	"MarketMaker/internal/handler/api"
	mid "MarketMaker/internal/middleware"
	"MarketMaker/internal/repository"
	"MarketMaker/internal/service/exchange"
	"MarketMaker/internal/service/paper"
	"MarketMaker/internal/service/ratelimit"
	"MarketMaker/internal/services/execution"
	"MarketMaker/internal/services/features"
	"MarketMaker/internal/services/orders"
	"MarketMaker/internal/services/regime"
	"MarketMaker/internal/services/risk"
	"MarketMaker/internal/services/scenario"
	"MarketMaker/internal/usecase"
	pkgch "MarketMaker/pkg/clickhouse"
	"MarketMaker/pkg/cache"
	"MarketMaker/pkg/config"
	xhttp "MarketMaker/pkg/http"
	pkgkafka "MarketMaker/pkg/kafka"
	"MarketMaker/pkg/logger"
	"MarketMaker/pkg/metrics"
	"MarketMaker/pkg/server"
)

const (
	initTimeout      = 10 * time.Second
	logFlushInterval = 30 * time.Second
	logFlushCount    = 100
)

// Profiles are the scenario profiles loaded at startup.
type Profiles []*models.ScenarioProfile

// ProvideMetrics creates the Prometheus recorder.
func ProvideMetrics() drepo.Metrics {
	return metrics.New()
}

// ProvideProfiles loads every profile under the configured directory. Unreadable files are
// logged and skipped; the built-in fallback covers an empty directory.
func ProvideProfiles(cfg *config.Config, log *logger.Logger) Profiles {
	profiles, errs := scenario.LoadDir(cfg.Session.ProfilesDir)
	for _, err := range errs {
		log.Warn("profile skipped", logger.Error(err))
	}
	ids := make([]string, 0, len(profiles))
	for _, p := range profiles {
		ids = append(ids, p.ScenarioID)
	}
	log.Info("profiles loaded", logger.String("dir", cfg.Session.ProfilesDir), logger.Strings("ids", ids))
	return profiles
}

// ProvideEventPublisher creates the event bus selected by backend.type and routes aggregated
// logs through it.
func ProvideEventPublisher(cfg *config.Config, log *logger.Logger) (drepo.EventPublisher, func(), error) {
	var (
		pub interface {
			drepo.EventPublisher
			logger.Publisher
		}
		err error
	)
	switch cfg.Backend.Type {
	case "kafka":
		var producer *pkgkafka.Producer
		producer, err = pkgkafka.NewProducer(
			pkgkafka.WithBrokers(cfg.Kafka.Brokers),
			pkgkafka.WithCompression(cfg.Kafka.Compression),
			pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
			pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
			pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
			pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
			pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
			pkgkafka.WithHashByKey(true),
		)
		if err == nil {
			pub = repository.NewKafkaEventPublisher(producer, cfg.Backend.EventsTopic)
		}
	case "nats":
		pub, err = repository.NewNATSEventPublisher(repository.NATSConfig{
			URL:           cfg.NATS.URL,
			Name:          cfg.NATS.Name,
			Prefix:        cfg.NATS.Prefix,
			JetStream:     cfg.NATS.JetStream,
			Stream:        cfg.NATS.Stream,
			Timeout:       cfg.NATS.Timeout,
			ReconnectWait: cfg.NATS.ReconnectWait,
			MaxReconnects: cfg.NATS.MaxReconnects,
		}, log)
	default:
		log.Info("event bus disabled")
		return nil, func() {}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s publisher: %w", cfg.Backend.Type, err)
	}

	log.AddCollector(&logger.CollectionConfig{
		TimeInterval:   logFlushInterval,
		CountThreshold: logFlushCount,
		Topic:          cfg.Backend.LogsTopic,
		Publisher:      pub,
	})
	cleanup := func() {
		log.RemoveCollector()
		if err := pub.Close(); err != nil {
			log.Warn("publisher close failed", logger.Error(err))
		}
	}
	return pub, cleanup, nil
}

// ProvideJournal opens ClickHouse and creates the journal tables when enabled.
func ProvideJournal(cfg *config.Config, log *logger.Logger) (drepo.Journal, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	ch := cfg.ClickHouse
	opts := []pkgch.ClientOption{
		pkgch.WithAddr(net.JoinHostPort(ch.Host, strconv.Itoa(ch.Port))),
		pkgch.WithAuth(ch.Database, ch.User, ch.Password),
		pkgch.WithPool(10, 5),
		pkgch.WithHTTP(ch.UseHTTP),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout),
	}
	if ch.MaxExecutionTime > 0 {
		opts = append(opts, pkgch.WithSetting("max_execution_time", int(ch.MaxExecutionTime.Seconds())))
	}
	if ch.AsyncInsert {
		opts = append(opts, pkgch.WithSetting("async_insert", 1))
		if ch.WaitForAsync {
			opts = append(opts, pkgch.WithSetting("wait_for_async_insert", 1))
		}
	}
	client, err := pkgch.NewClient(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	journal := repository.NewClickHouseJournal(client.DB(), cfg.ClickHouse.Database, log)
	if err := client.Migrate(ctx, journal.Schema()); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	cleanup := func() {
		if err := client.Close(); err != nil {
			log.Warn("clickhouse close failed", logger.Error(err))
		}
	}
	return journal, cleanup, nil
}

// ProvideStateStore keeps engine state in Redis when enabled and in process memory otherwise.
func ProvideStateStore(cfg *config.Config, log *logger.Logger) (*repository.CacheStateStore, func(), error) {
	var svc cache.Service
	if cfg.Redis.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
		defer cancel()
		rc, err := cache.NewRedisCache(ctx,
			cache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
			cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
			cache.WithRedisPrefix(cfg.Redis.Prefix),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		svc = rc
	} else {
		log.Info("state kept in memory; restarts start flat")
		svc = cache.NewMemoryCache()
	}
	store := repository.NewCacheStateStore(svc, cfg.Redis.TTL)
	cleanup := func() {
		if err := store.Close(); err != nil {
			log.Warn("state store close failed", logger.Error(err))
		}
	}
	return store, cleanup, nil
}

func exchangeConfig(cfg *config.Config) exchange.Config {
	x := cfg.Exchange
	return exchange.Config{
		Host:             x.Host,
		Secure:           x.Secure,
		StudentID:        x.StudentID,
		Password:         x.Password,
		Scenario:         cfg.Session.Scenario,
		MarketPath:       x.MarketPath,
		OrderPath:        x.OrderPath,
		RegisterPath:     x.RegisterPath,
		HandshakeTimeout: x.HandshakeTimeout,
		ReconnectDelay:   x.ReconnectDelay,
		PingInterval:     x.PingInterval,
		OrdersPerSecond:  x.OrdersPerSecond,
		RegisterRetries:  x.RegisterRetries,
	}
}

// ProvideExchangeSession creates the credential holder shared by both sockets.
func ProvideExchangeSession() *exchange.Session {
	return exchange.NewSession()
}

// ProvideOrderGateway returns the exchange order socket in live mode and the paper gateway in
// replay mode.
func ProvideOrderGateway(cfg *config.Config, session *exchange.Session, log *logger.Logger) drepo.OrderGateway {
	if cfg.Session.Mode == "replay" {
		return paper.NewGateway(log)
	}
	rate := float64(cfg.Exchange.OrdersPerSecond)
	return exchange.NewOrderClient(exchangeConfig(cfg), session, ratelimit.New(rate, rate), log)
}

// ProvideCore builds the decision components, tuned from config and the fallback profile.
func ProvideCore(cfg *config.Config, profiles Profiles, gateway drepo.OrderGateway, m drepo.Metrics, log *logger.Logger) usecase.Core {
	ec := cfg.Engine
	matcher := scenario.NewMatcher(profiles, scenario.DefaultProfile())
	def := matcher.Default()
	tick := def.BaseParams.TickSize

	extractor := features.NewExtractor(
		features.WithWindowSizes(ec.Windows.Short, ec.Windows.Medium, ec.Windows.Long),
		features.WithCusum(ec.Cusum.Slack, ec.Cusum.Threshold),
		features.WithSpike(ec.Spike.Ratio, ec.Spike.Duration),
	)
	rm := risk.NewManager(risk.FromProfile(def.BaseParams), tick, risk.WithHardLimit(ec.Risk.HardLimit))

	oc := orders.Config{
		MaxOpen:         ec.Orders.MaxOpen,
		CancelThreshold: ec.Orders.CancelThreshold,
		StaleAge:        ec.Orders.StaleAge,
		StaleEvery:      ec.Orders.StaleEvery,
		DriftTicks:      ec.Orders.DriftTicks,
		Tick:            tick,
	}

	return usecase.Core{
		Extractor: extractor,
		Matcher:   matcher,
		Classifier: regime.New(extractor,
			regime.WithCalibrationSteps(def.BaseParams.CalibrationSteps),
			regime.WithCooldown(ec.Regime.Cooldown),
			regime.WithPersistence(ec.Regime.Persistence, ec.Regime.ExitCrashPersistence, ec.Regime.ExitStressedPersistence),
			regime.WithDeadMarket(ec.Regime.DeadSpread, ec.Regime.DeadDepth),
			regime.WithThresholds(*def.RegimeThresholds),
			regime.WithShortWindow(ec.Windows.Short),
		),
		Risk:    rm,
		Breaker: risk.NewBreaker(ec.Breaker.Threshold, ec.Breaker.Cooldown),
		Orders: orders.NewManager(gateway, cfg.Session.ID, log,
			orders.WithConfig(oc),
			orders.WithMetrics(m),
		),
		Router: execution.NewRouter(rm, def.RegimeStrategies, tick,
			execution.WithDeadMarket(ec.Regime.DeadSpread, ec.DepthFloor),
		),
	}
}

// ProvideEngine creates the trading engine.
func ProvideEngine(
	cfg *config.Config,
	core usecase.Core,
	pub drepo.EventPublisher,
	journal drepo.Journal,
	store *repository.CacheStateStore,
	m drepo.Metrics,
	log *logger.Logger,
) *usecase.TradingEngine {
	opts := []usecase.EngineOption{
		usecase.WithSession(cfg.Session.ID, cfg.Session.Scenario),
		usecase.WithStateStore(store, cfg.Session.PersistEvery),
	}
	if pub != nil {
		opts = append(opts, usecase.WithPublisher(pub))
	}
	if journal != nil {
		opts = append(opts, usecase.WithJournal(journal))
	}
	return usecase.NewTradingEngine(core, log, m, opts...)
}

// ProvidePipeline creates the event pipeline. A paper gateway observes every snapshot so resting
// orders can fill.
func ProvidePipeline(cfg *config.Config, engine *usecase.TradingEngine, gateway drepo.OrderGateway, m drepo.Metrics, log *logger.Logger) *mid.EventPipeline {
	opts := []mid.PipelineOption{mid.WithBufferSize(cfg.Engine.QueueSize)}
	if obs, ok := gateway.(mid.Observer); ok {
		opts = append(opts, mid.WithObserver(obs))
	}
	return mid.NewEventPipeline(engine, gateway, m, log, opts...)
}

// ProvideRunner creates the session runner. Live sessions register and stream from the exchange;
// replay sessions are fed by the Kafka consumer.
func ProvideRunner(
	cfg *config.Config,
	session *exchange.Session,
	gateway drepo.OrderGateway,
	pipe *mid.EventPipeline,
	engine *usecase.TradingEngine,
	store *repository.CacheStateStore,
	m drepo.Metrics,
	log *logger.Logger,
) *usecase.SessionRunner {
	opts := []usecase.RunnerOption{
		usecase.WithSessionLock(store),
		usecase.WithMaxReconnects(cfg.Exchange.MaxReconnects),
	}
	if cfg.Session.Mode == "live" {
		xc := exchangeConfig(cfg)
		opts = append(opts,
			usecase.WithRegistrar(exchange.NewRegistrar(xc, xhttp.NewClient(xhttp.WithInsecureTLS(xc.Secure)), session, log)),
			usecase.WithMarketStream(exchange.NewMarketClient(xc, session, log)),
		)
	}
	return usecase.NewSessionRunner(gateway, pipe, engine, m, log, opts...)
}

// ProvideReplayConsumer creates the snapshot consumer in replay mode and returns nil otherwise.
func ProvideReplayConsumer(cfg *config.Config, pipe *mid.EventPipeline, m drepo.Metrics, log *logger.Logger) (*pkgkafka.Consumer, error) {
	if cfg.Session.Mode != "replay" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(log,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.HookFuncs{
		Err: func(_ context.Context, _ string, km kafka.Message, _ []byte, err error) {
			m.RecordError("replay")
			log.Debug("replay message failed", logger.Int64("offset", km.Offset), logger.Error(err))
		},
	})
	consumer.RegisterHandler(usecase.NewKafkaSnapshotHandler(cfg.Kafka.ReplayTopic, pipe, m))
	return consumer, nil
}

// ProvideHTTPServer creates the status API.
func ProvideHTTPServer(cfg *config.Config, engine *usecase.TradingEngine, runner *usecase.SessionRunner, log *logger.Logger) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(log,
		[]xhttp.Handler{api.NewSessionEchoHandler(log, engine, runner)},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
	)
}

// ProvideApp assembles the application.
func ProvideApp(cfg *config.Config, log *logger.Logger, runner *usecase.SessionRunner, consumer *pkgkafka.Consumer, srv *xhttp.Server) *server.App {
	return server.New(cfg, log, runner, consumer, srv)
}
