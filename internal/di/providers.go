package di

import (
	"context"
	"fmt"
	"time"

	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"FinGuard/internal/domain/repository"
	"FinGuard/internal/handler/api"
	mid "FinGuard/internal/middleware"
	internalrepo "FinGuard/internal/repository"
	"FinGuard/internal/service/binance"
	"FinGuard/internal/service/ratelimit"
	"FinGuard/internal/services/analytics"
	"FinGuard/internal/services/ml"
	"FinGuard/internal/usecase"
	pkgcache "FinGuard/pkg/cache"
	pkgch "FinGuard/pkg/clickhouse"
	"FinGuard/pkg/config"
	xhttp "FinGuard/pkg/http"
	pkgkafka "FinGuard/pkg/kafka"
	"FinGuard/pkg/logger"
	"FinGuard/pkg/metrics"
	"FinGuard/pkg/queue"
	"FinGuard/pkg/server"
)

// Optional components (Kafka, ClickHouse, Redis, Binance) are provided as nil
// when disabled in config; consumers check for nil.

// ProviderSet is every provider InitializeApp needs.
var ProviderSet = wire.NewSet(
	ProvideLogger,
	ProvideRegistry,
	wire.Bind(new(prometheus.Registerer), new(*prometheus.Registry)),
	ProvideMetrics,
	wire.Bind(new(repository.Metrics), new(*metrics.Recorder)),

	ProvideKafkaProducer,
	ProvideClickHouseClient,
	ProvideRedisClient,

	ProvideAnalysisStore,
	ProvideResultCache,
	ProvideEventPublisher,
	ProvideAnalyzerFactory,
	ProvideLiveWindow,
	ProvideQueue,
	ProvideAnalysisService,

	ProvideRateLimiter,
	ProvideAnalysisHandler,
	ProvideHTTPServer,

	ProvideTradeCollector,
	ProvideKafkaConsumer,
	ProvideApp,
)

// ProvideLogger builds the application logger. With Kafka enabled, error
// entries are aggregated and shipped to the logs topic by ProvideApp.
func ProvideLogger(cfg *config.Config) (*logger.Logger, func(), error) {
	l, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return l, l.RemoveCollector, nil
}

// ProvideRegistry creates the Prometheus registry served on the metrics path.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg prometheus.Registerer) *metrics.Recorder {
	return metrics.New(reg)
}

// ProvideKafkaProducer creates a Kafka producer, nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config, reg prometheus.Registerer, l *logger.Logger) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	p := cfg.Kafka.Producer
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(p.BatchSize, p.Linger),
		pkgkafka.WithWriteTimeout(p.WriteTimeout),
		pkgkafka.WithMaxAttempts(p.MaxAttempts),
		pkgkafka.WithAsync(p.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithProducerRegisterer(reg),
		pkgkafka.WithProducerLogger(l),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	cleanup := func() {
		if err := producer.Close(); err != nil {
			l.Warn("kafka producer close", logger.Error(err))
		}
	}
	return producer, cleanup, nil
}

// ProvideClickHouseClient connects to ClickHouse, nil when disabled.
func ProvideClickHouseClient(cfg *config.Config, l *logger.Logger) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	ch := cfg.ClickHouse
	ctx, cancel := context.WithTimeout(context.Background(), ch.DialTimeout+5*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddr(ch.Host, ch.Port),
		pkgch.WithDatabase(ch.Database),
		pkgch.WithCredentials(ch.User, ch.Password),
		pkgch.WithMaxConnections(ch.MaxOpenConns, ch.MaxIdleConns),
		pkgch.WithHTTP(ch.UseHTTP),
		pkgch.WithAsyncInsert(ch.AsyncInsert, ch.WaitForAsync),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout),
		pkgch.WithMaxExecutionTime(ch.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	cleanup := func() {
		if err := client.Close(); err != nil {
			l.Warn("clickhouse close", logger.Error(err))
		}
	}
	return client, cleanup, nil
}

// ProvideRedisClient connects to Redis, nil when disabled.
func ProvideRedisClient(cfg *config.Config, l *logger.Logger) (*redis.Client, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	rc := cfg.Redis
	client, _, err := pkgcache.NewRedisClient(context.Background(),
		pkgcache.WithRedisAddr(rc.Host, rc.Port),
		pkgcache.WithRedisAuth(rc.Password, rc.DB),
		pkgcache.WithRedisPool(rc.PoolSize, rc.MinIdleConns, 0),
		pkgcache.WithRedisPrefix(rc.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis client: %w", err)
	}
	cleanup := func() {
		if err := client.Close(); err != nil {
			l.Warn("redis close", logger.Error(err))
		}
	}
	return client, cleanup, nil
}

// ProvideAnalysisStore uses ClickHouse when connected and an in-memory store
// otherwise.
func ProvideAnalysisStore(cfg *config.Config, ch *pkgch.Client, l *logger.Logger) (repository.AnalysisStore, error) {
	if ch == nil {
		l.Warn("clickhouse disabled, analyses are kept in memory")
		return internalrepo.NewMemoryAnalysisStore(1000), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ch.InitSchema(ctx, internalrepo.AnalysisSchema(cfg.ClickHouse.Database)); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return internalrepo.NewCHAnalysisStore(ch, l), nil
}

// ProvideResultCache layers a memory cache over Redis when Redis is enabled.
// The shared Redis client is left open by the cache's Close.
func ProvideResultCache(cfg *config.Config, rc *redis.Client) (repository.ResultCache, func()) {
	var svc interface {
		pkgcache.Service
		Close() error
	}
	if rc != nil {
		svc = pkgcache.NewLayeredCache(
			pkgcache.NewRedisCacheWithClient(rc, cfg.Redis.Prefix),
			pkgcache.WithLayeredMemorySize(512),
			pkgcache.WithLayeredL1TTL(time.Minute),
		)
	} else {
		svc = pkgcache.NewMemoryCache(
			pkgcache.WithMemoryMaxSize(1024),
			pkgcache.WithMemoryCleanup(time.Minute),
			pkgcache.WithMemoryDefaultTTL(cfg.Redis.ResultTTL),
		)
	}
	return internalrepo.NewResultCache(svc), func() { _ = svc.Close() }
}

// ProvideEventPublisher publishes analysis events to Kafka, nil when disabled.
func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.EventPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.ResultsTopic, cfg.Kafka.AlertsTopic)
}

// ProvideAnalyzerFactory builds the analyzer factory and routes per-model
// failures into metrics.
func ProvideAnalyzerFactory(cfg *config.Config, l *logger.Logger, m repository.Metrics) *analytics.Factory {
	return analytics.NewFactory(analytics.FactoryConfig{
		Pool:     cfg.Analysis.Pool,
		ModelDir: cfg.Analysis.ModelDir,
		Persist:  cfg.Analysis.PersistModels,
		Seed:     cfg.Analysis.Seed,
	}, l, analytics.WithFailureHook(func(slot ml.SlotName, stage string, _ error) {
		m.RecordModelFailure(string(slot), stage)
	}))
}

func ProvideLiveWindow(cfg *config.Config) *usecase.LiveWindow {
	return usecase.NewLiveWindow(cfg.Live.WindowSize)
}

// ProvideQueue creates the Redis job queue, nil unless queue.enabled.
func ProvideQueue(cfg *config.Config, rc *redis.Client, l *logger.Logger) *queue.RedisQueue {
	if !cfg.Queue.Enabled || rc == nil {
		return nil
	}
	return queue.NewRedisQueue(l, queue.Config{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
	}, rc, queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"))
}

// ProvideAnalysisService wires the analysis use case and registers the batch
// job on the queue.
func ProvideAnalysisService(
	cfg *config.Config,
	factory *analytics.Factory,
	store repository.AnalysisStore,
	cache repository.ResultCache,
	events repository.EventPublisher,
	window *usecase.LiveWindow,
	m repository.Metrics,
	q *queue.RedisQueue,
	l *logger.Logger,
) *usecase.AnalysisService {
	opts := []usecase.ServiceOption{
		usecase.WithResultCache(cache, cfg.Redis.ResultTTL),
		usecase.WithTimeout(cfg.Analysis.Timeout),
		usecase.WithServiceLogger(l),
	}
	if events != nil {
		opts = append(opts, usecase.WithEventPublisher(events))
	}
	if q != nil {
		opts = append(opts, usecase.WithQueue(q))
	}
	svc := usecase.NewAnalysisService(factory, store, window, m, opts...)
	if q != nil {
		q.RegisterJob(usecase.NewBatchJob(svc, l))
	}
	return svc
}

func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	rl := cfg.Live.RateLimit
	return ratelimit.New(rl.Capacity, rl.RefillPerSec)
}

func ProvideAnalysisHandler(cfg *config.Config, svc *usecase.AnalysisService, limiter *ratelimit.Limiter, l *logger.Logger) *api.AnalysisEchoHandler {
	return api.NewAnalysisEchoHandler(l, svc, limiter, api.HandlerConfig{
		MaxUploadBytes:   cfg.Upload.MaxBytes,
		LiveDefaultLimit: cfg.Live.DefaultLimit,
	})
}

func ProvideHTTPServer(cfg *config.Config, h *api.AnalysisEchoHandler, reg *prometheus.Registry, l *logger.Logger) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithLogger(l),
	}
	path := ""
	if cfg.Metrics.Enabled {
		path = cfg.Metrics.Path
	}
	opts = append(opts, xhttp.WithMetrics(path, reg, reg))
	return xhttp.NewServer(h, opts...)
}

// ProvideTradeCollector builds the Binance collector, nil unless binance.enabled.
func ProvideTradeCollector(
	cfg *config.Config,
	window *usecase.LiveWindow,
	producer *pkgkafka.Producer,
	m repository.Metrics,
	l *logger.Logger,
) *usecase.TradeCollector {
	if !cfg.Binance.Enabled {
		return nil
	}
	b := cfg.Binance
	stream := binance.New(b.WebSocketURL, b.Symbol,
		binance.WithReconnectDelay(b.ReconnectDelay),
		binance.WithPingInterval(b.PingInterval),
		binance.WithBufferSize(b.BufferSize),
		binance.WithLogger(l),
	)

	pipeOpts := []mid.PipelineOption{
		mid.WithMaxRPS(b.MaxRPS),
		mid.WithBufferSize(b.BufferSize),
		mid.WithPipelineLogger(l),
	}
	if producer != nil && cfg.Kafka.MirrorTrades {
		pipeOpts = append(pipeOpts, mid.WithMirror(internalrepo.NewKafkaTradePublisher(producer, cfg.Kafka.TradesTopic)))
	}
	pipe := mid.NewRealtimePipeline(window, m, pipeOpts...)

	rest := binance.NewREST(b.RESTURL, xhttp.NewClient(
		xhttp.WithTimeout(10*time.Second),
		xhttp.WithUserAgent("finguard"),
		xhttp.WithRetry(3, time.Second),
	))
	return usecase.NewTradeCollector(stream, pipe, window, m,
		usecase.WithBackfill(rest, b.Symbol),
		usecase.WithCollectorLogger(l),
	)
}

// ProvideKafkaConsumer consumes trade ticks into the live window, nil unless
// kafka.consumer.enabled.
func ProvideKafkaConsumer(
	cfg *config.Config,
	window *usecase.LiveWindow,
	m repository.Metrics,
	reg prometheus.Registerer,
	l *logger.Logger,
) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	cc := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cc.GroupID),
		pkgkafka.WithConsumerWorkers(cc.Workers),
		pkgkafka.WithConsumerBufferSize(cc.BufferSize),
		pkgkafka.WithConsumerRetry(cc.RetryMax, cc.BackoffMin, cc.BackoffMax),
		pkgkafka.WithConsumerDLQ(cc.DLQTopic),
		pkgkafka.WithConsumerRegisterer(reg),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(
		pkgkafka.TraceHook(),
		pkgkafka.ValidJSONHook(),
		pkgkafka.LoggingHook(l),
	))
	consumer.RegisterHandler(usecase.NewKafkaTicksHandler(cfg.Kafka.TradesTopic, window, m))
	return consumer, nil
}

// ProvideApp assembles the application and attaches Kafka log shipping.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	httpServer *xhttp.Server,
	svc *usecase.AnalysisService,
	collector *usecase.TradeCollector,
	consumer *pkgkafka.Consumer,
	q *queue.RedisQueue,
	producer *pkgkafka.Producer,
) *server.App {
	if producer != nil && cfg.Kafka.ShipLogs && cfg.Kafka.LogsTopic != "" {
		l.AddCollector(&logger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Kafka.LogsTopic,
			Publisher:      producer,
		})
	}

	opts := []server.Option{server.WithHealth(svc.Health)}
	if collector != nil {
		opts = append(opts, server.WithCollector(collector))
	}
	if consumer != nil {
		opts = append(opts, server.WithConsumer(consumer))
	}
	if q != nil {
		opts = append(opts, server.WithQueue(q))
	}
	return server.New(cfg, l, httpServer, opts...)
}
