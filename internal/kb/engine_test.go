package kb

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/Laisky/laisky-kb-retrieval/internal/events"
	"github.com/Laisky/laisky-kb-retrieval/internal/indexopt"
	"github.com/Laisky/laisky-kb-retrieval/internal/retrieval"
	"github.com/Laisky/laisky-kb-retrieval/internal/retrieval/embedding"
	"github.com/Laisky/laisky-kb-retrieval/internal/usage"
)

var (
	indexColumns = []string{
		"indexrelname", "relname", "amname", "size", "idx_scan", "idx_tup_read", "idx_tup_fetch",
		"idx_blks_hit", "idx_blks_read", "modifications", "last_vacuum", "last_analyze", "indexdef",
	}
	chunkColumns = []string{"id", "document_id", "chunk_index", "content", "metadata", "distance"}
	engineNow    = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
)

type countingSampler struct {
	calls  atomic.Int32
	sample indexopt.PerformanceSample
}

func (s *countingSampler) Sample(ctx context.Context) (indexopt.PerformanceSample, error) {
	s.calls.Add(1)
	return s.sample, nil
}

type engineHarness struct {
	engine  *Engine
	mock    pgxmock.PgxPoolIface
	sampler *countingSampler
	sink    *events.MemorySink
}

func newEngineHarness(t *testing.T) *engineHarness {
	t.Helper()
	logger := logSDK.Shared.Named("test_kb")
	clock := func() time.Time { return engineNow }

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	gateway, err := embedding.NewGateway(embedding.NewDeterministicProvider(8),
		embedding.Settings{Model: "deterministic", Dimension: 8, Normalize: true}, logger)
	require.NoError(t, err)

	store, err := usage.NewMemoryStore(8)
	require.NoError(t, err)
	tracker, err := usage.NewTracker(store, usage.Settings{}, logger)
	require.NoError(t, err)

	search, err := retrieval.NewService(mock, gateway, retrieval.DefaultSettings(), retrieval.Dependencies{
		Usage:  tracker,
		Logger: logger,
	})
	require.NoError(t, err)

	settings := indexopt.DefaultSettings()
	analyzer, err := indexopt.NewAnalyzer(mock, nil, settings, logger)
	require.NoError(t, err)
	executor, err := indexopt.NewExecutor(mock, settings, nil, logger, clock)
	require.NoError(t, err)
	optimizer, err := indexopt.NewOptimizer(analyzer, executor, settings, nil, logger, clock)
	require.NoError(t, err)
	scheduler, err := indexopt.NewScheduler(mock, analyzer, settings, nil, logger, clock)
	require.NoError(t, err)

	sampler := &countingSampler{sample: indexopt.PerformanceSample{
		Timestamp:     engineNow,
		AvgQueryTime:  20 * time.Millisecond,
		CacheHitRatio: 0.99,
		PoolUsage:     0.1,
	}}
	sink := events.NewMemorySink(16)
	monitor, err := indexopt.NewMonitor(sampler, settings, sink, logger, clock)
	require.NoError(t, err)

	engine, err := New(Components{
		Search:    search,
		Optimizer: optimizer,
		Scheduler: scheduler,
		Monitor:   monitor,
		Usage:     tracker,
		Settings:  settings,
		Logger:    logger,
		Clock:     clock,
	})
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return &engineHarness{engine: engine, mock: mock, sampler: sampler, sink: sink}
}

func TestNewRequiresComponents(t *testing.T) {
	_, err := New(Components{})
	require.Error(t, err)
}

func TestEngineSearchFeedsUsage(t *testing.T) {
	h := newEngineHarness(t)
	h.mock.ExpectQuery("FROM kb_chunks").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(chunkColumns).AddRow("c-1", "doc-1", 0, "refund policy", "{}", 0.2))

	results, err := h.engine.SimilaritySearch(context.Background(), retrieval.SearchRequest{
		Query: "refund policy",
		Scope: retrieval.Scope{ChatbotID: "bot-1", SessionID: "s-1"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	require.Eventually(t, func() bool {
		summary, err := h.engine.UsageSummary(context.Background(), "bot-1")
		return err == nil && summary.Count == 1
	}, time.Second, 5*time.Millisecond)

	summary, err := h.engine.UsageSummary(context.Background(), "bot-1")
	require.NoError(t, err)
	require.Equal(t, 1, summary.Successes)
	require.InDelta(t, 1.0, summary.AvgResultCount, 1e-9)
}

func TestEngineHealthCheckSamplesOnDemand(t *testing.T) {
	h := newEngineHarness(t)
	h.mock.ExpectQuery("FROM pg_stat_user_indexes s").
		WithArgs([]string{"kb_chunks"}).
		WillReturnRows(pgxmock.NewRows(indexColumns).
			AddRow("idx_vec", "kb_chunks", "hnsw", int64(1<<20), int64(100), int64(0), int64(0),
				int64(99), int64(1), int64(10), nil, nil,
				"CREATE INDEX idx_vec ON public.kb_chunks USING hnsw (embedding vector_cosine_ops)"))

	report, err := h.engine.GetHealthCheck(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.mock.ExpectationsWereMet())
	require.Equal(t, indexopt.StatusHealthy, report.Status)
	require.NotNil(t, report.Sample)
	require.Len(t, report.Indexes, 1)
	require.EqualValues(t, 1, h.sampler.calls.Load())
	require.Empty(t, h.engine.PerformanceHistory())
	require.Empty(t, h.sink.Recent(events.AlertRaised, 0))
}

func TestEngineHealthCheckLeavesMonitorUntouched(t *testing.T) {
	h := newEngineHarness(t)
	h.sampler.sample.AvgQueryTime = 5 * time.Second
	h.sampler.sample.CacheHitRatio = 0.5
	for i := 0; i < 2; i++ {
		h.mock.ExpectQuery("FROM pg_stat_user_indexes s").
			WithArgs([]string{"kb_chunks"}).
			WillReturnRows(pgxmock.NewRows(indexColumns))
	}

	report, err := h.engine.GetHealthCheck(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report.Sample)
	require.Equal(t, 5*time.Second, report.Sample.AvgQueryTime)
	require.Empty(t, h.engine.PerformanceHistory())
	require.Empty(t, h.sink.Recent(events.AlertRaised, 0))

	_, err = h.engine.GetHealthCheck(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, h.sampler.calls.Load())
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestEngineHealthCheckReportsStoreOutage(t *testing.T) {
	h := newEngineHarness(t)
	h.mock.ExpectQuery("FROM pg_stat_user_indexes s").
		WithArgs([]string{"kb_chunks"}).
		WillReturnError(context.DeadlineExceeded)

	report, err := h.engine.GetHealthCheck(context.Background())
	require.NoError(t, err)
	require.Equal(t, indexopt.StatusCritical, report.Status)
}

func TestEngineMonitoringLifecycle(t *testing.T) {
	h := newEngineHarness(t)

	h.engine.StartMonitoring(context.Background(), 10*time.Millisecond)
	running, interval := h.engine.MonitoringStatus()
	require.True(t, running)
	require.Equal(t, 10*time.Millisecond, interval)

	require.Eventually(t, func() bool { return len(h.engine.PerformanceHistory()) > 0 }, time.Second, 5*time.Millisecond)

	h.engine.StopMonitoring()
	h.engine.StopMonitoring()
	running, _ = h.engine.MonitoringStatus()
	require.False(t, running)
}

func TestEngineOptimizeDefaultsToConfiguredTable(t *testing.T) {
	h := newEngineHarness(t)
	h.mock.ExpectQuery("FROM pg_stat_user_indexes s").
		WithArgs([]string{"kb_chunks"}).
		WillReturnRows(pgxmock.NewRows(indexColumns))
	h.mock.ExpectQuery("FROM pg_stat_user_tables t").
		WithArgs("kb_chunks").
		WillReturnRows(pgxmock.NewRows([]string{
			"relname", "n_live_tup", "total_bytes", "modifications", "seq_scan", "idx_scan", "last_vacuum", "last_analyze",
		}).AddRow("kb_chunks", int64(3000), int64(1<<20), int64(0), int64(0), int64(0), nil, nil))

	report, err := h.engine.OptimizeIndexes(context.Background(), "", indexopt.OptimizeOptions{})
	require.NoError(t, err)
	require.Equal(t, "kb_chunks", report.Table)
	require.Len(t, report.Recommendations, 1)
	require.Contains(t, report.Recommendations[0].Statements[0], "lists = 3")
}
