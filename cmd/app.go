package cmd

import (
	"context"
	"time"

	errors "github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
	"github.com/Laisky/zap"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Laisky/laisky-kb-retrieval/internal/events"
	"github.com/Laisky/laisky-kb-retrieval/internal/indexopt"
	"github.com/Laisky/laisky-kb-retrieval/internal/kb"
	"github.com/Laisky/laisky-kb-retrieval/internal/metrics"
	"github.com/Laisky/laisky-kb-retrieval/internal/retrieval"
	"github.com/Laisky/laisky-kb-retrieval/internal/retrieval/embedding"
	"github.com/Laisky/laisky-kb-retrieval/internal/usage"
	"github.com/Laisky/laisky-kb-retrieval/library/config"
	"github.com/Laisky/laisky-kb-retrieval/library/db/postgres"
	"github.com/Laisky/laisky-kb-retrieval/library/db/redis"
	"github.com/Laisky/laisky-kb-retrieval/library/log"
)

// app holds the process-wide handles built from configuration.
type app struct {
	pool      *pgxpool.Pool
	rdb       *goredis.Client
	sink      *events.AsyncSink
	engine    *kb.Engine
	scheduler *indexopt.Scheduler
	indexopt  indexopt.Settings
	retrieval retrieval.Settings
}

func connectPostgres(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := postgres.NewPool(ctx, postgres.DialInfo{
		Addr:   config.String("settings.db.postgres.addr", "localhost"),
		Port:   config.Int("settings.db.postgres.port", 5432),
		DBName: config.String("settings.db.postgres.db", "kb"),
		User:   config.String("settings.db.postgres.user", "postgres"),
		Pwd:    gconfig.S.GetString("settings.db.postgres.pwd"),
	}, postgres.PoolOptions{
		MaxConns:   int32(config.Int("settings.db.postgres.max_conns", 50)),
		MinConns:   int32(config.Int("settings.db.postgres.min_conns", 2)),
		LogQueries: config.Bool("settings.db.postgres.log_queries", false),
		Logger:     log.Logger.Named("postgres"),
	})
	if err != nil {
		return nil, errors.Wrap(err, "connect chunk store")
	}
	return pool, nil
}

// newUsageStore prefers redis and falls back to process memory when no
// redis address is configured.
func newUsageStore(ctx context.Context) (usage.Store, *goredis.Client, error) {
	addr := config.String("settings.db.redis.addr", "")
	if addr == "" {
		log.Logger.Warn("redis not configured, usage is kept in memory")
		store, err := usage.NewMemoryStore(config.Int("settings.usage.memory_keys", 1024))
		return store, nil, errors.WithStack(err)
	}

	rdb, err := redis.NewClient(ctx, redis.DialInfo{
		Addr: addr,
		Pwd:  gconfig.S.GetString("settings.db.redis.pwd"),
		DB:   config.Int("settings.db.redis.db", 0),
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect usage store")
	}
	return usage.NewRedisStore(rdb), rdb, nil
}

func newApp(ctx context.Context) (*app, error) {
	a := &app{
		indexopt:  indexopt.LoadSettingsFromConfig(),
		retrieval: retrieval.LoadSettingsFromConfig(),
	}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	var err error
	if a.pool, err = connectPostgres(ctx); err != nil {
		return nil, err
	}

	usageStore, rdb, err := newUsageStore(ctx)
	if err != nil {
		return nil, err
	}
	a.rdb = rdb
	tracker, err := usage.NewTracker(usageStore, usage.LoadSettingsFromConfig(), log.Logger.Named("usage_tracker"))
	if err != nil {
		return nil, errors.Wrap(err, "new usage tracker")
	}

	embedSettings := embedding.LoadSettingsFromConfig()
	provider, err := embedding.NewProvider(embedSettings, nil)
	if err != nil {
		return nil, errors.Wrap(err, "new embedding provider")
	}
	gateway, err := embedding.NewGateway(provider, embedSettings, log.Logger.Named("embedding_gateway"))
	if err != nil {
		return nil, errors.Wrap(err, "new embedding gateway")
	}

	a.sink = events.NewAsyncSink(events.NewLoggerSink(log.Logger.Named("events")),
		config.Int("settings.events.buffer", 1024))
	latency := metrics.NewLatencyWindow(config.Int("settings.retrieval.latency_window", 1000))

	search, err := retrieval.NewService(a.pool, gateway, a.retrieval, retrieval.Dependencies{
		Sink:    a.sink,
		Usage:   tracker,
		Latency: latency,
		Logger:  log.Logger.Named("retrieval_service"),
	})
	if err != nil {
		return nil, errors.Wrap(err, "new search service")
	}

	clock := func() time.Time { return time.Now().UTC() }
	statementLatency := indexopt.NewStatementLatency(a.pool, latency, a.indexopt.QueryTimeout)
	analyzer, err := indexopt.NewAnalyzer(a.pool, statementLatency, a.indexopt, log.Logger.Named("indexopt_analyzer"))
	if err != nil {
		return nil, errors.Wrap(err, "new analyzer")
	}
	executor, err := indexopt.NewExecutor(a.pool, a.indexopt, a.sink, log.Logger.Named("indexopt_executor"), clock)
	if err != nil {
		return nil, errors.Wrap(err, "new executor")
	}
	optimizer, err := indexopt.NewOptimizer(analyzer, executor, a.indexopt, a.sink, log.Logger.Named("indexopt_optimizer"), clock)
	if err != nil {
		return nil, errors.Wrap(err, "new optimizer")
	}
	if a.scheduler, err = indexopt.NewScheduler(a.pool, analyzer, a.indexopt, a.sink,
		log.Logger.Named("indexopt_scheduler"), clock); err != nil {
		return nil, errors.Wrap(err, "new maintenance scheduler")
	}
	sampler, err := indexopt.NewStoreSampler(a.pool, indexopt.PgxPoolStats(a.pool), latency, a.indexopt, clock)
	if err != nil {
		return nil, errors.Wrap(err, "new performance sampler")
	}
	monitor, err := indexopt.NewMonitor(sampler, a.indexopt, a.sink, log.Logger.Named("indexopt_monitor"), clock)
	if err != nil {
		return nil, errors.Wrap(err, "new performance monitor")
	}

	if a.engine, err = kb.New(kb.Components{
		Search:    search,
		Optimizer: optimizer,
		Scheduler: a.scheduler,
		Monitor:   monitor,
		Usage:     tracker,
		Settings:  a.indexopt,
		Logger:    log.Logger.Named("kb_engine"),
		Clock:     clock,
	}); err != nil {
		return nil, errors.Wrap(err, "new engine")
	}

	log.Logger.Info("engine ready",
		zap.String("embedding_provider", embedSettings.Provider),
		zap.String("embedding_model", embedSettings.Model),
		zap.Int("embedding_dimension", embedSettings.Dimension),
		zap.Strings("tables", a.indexopt.Tables))
	ready = true
	return a, nil
}

// Close releases every handle in reverse construction order.
func (a *app) Close() {
	if a == nil {
		return
	}
	if a.engine != nil {
		a.engine.Close()
	}
	if a.sink != nil {
		a.sink.Close()
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			log.Logger.Warn("close redis", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
