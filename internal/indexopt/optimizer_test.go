package indexopt

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/Laisky/laisky-kb-retrieval/internal/events"
)

func newTestOptimizer(t *testing.T, mock pgxmock.PgxPoolIface, sink events.Sink, latency LatencySource) *Optimizer {
	t.Helper()
	clock := func() time.Time { return testNow }
	analyzer, err := NewAnalyzer(mock, latency, DefaultSettings(), testLogger())
	require.NoError(t, err)
	exec, err := NewExecutor(mock, DefaultSettings(), sink, testLogger(), clock)
	require.NoError(t, err)
	opt, err := NewOptimizer(analyzer, exec, DefaultSettings(), sink, testLogger(), clock)
	require.NoError(t, err)
	return opt
}

func TestOptimizeAutoAppliesEligibleRecommendations(t *testing.T) {
	mock := newMockPool(t)
	sink := events.NewMemorySink(16)
	opt := newTestOptimizer(t, mock, sink, &staticLatency{avg: 350 * time.Millisecond})

	mock.ExpectQuery("FROM pg_stat_user_indexes s").
		WithArgs([]string{"kb_chunks"}).
		WillReturnRows(pgxmock.NewRows(indexColumns).
			AddRow("idx_vec", "kb_chunks", "ivfflat", int64(8<<20), int64(200), int64(0), int64(0),
				int64(990), int64(10), int64(90), nil, nil,
				"CREATE INDEX idx_vec ON public.kb_chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists='50')"))
	mock.ExpectQuery("FROM pg_stat_user_tables t").
		WithArgs("kb_chunks").
		WillReturnRows(pgxmock.NewRows(tableColumns).
			AddRow("kb_chunks", int64(50000), int64(1<<30), int64(90), int64(0), int64(200),
				ts(testNow.Add(-24*time.Hour)), ts(testNow.Add(-24*time.Hour))))
	mock.ExpectExec(regexp.QuoteMeta(`REINDEX INDEX CONCURRENTLY "idx_vec"`)).WillReturnResult(pgxmock.NewResult("REINDEX", 0))

	report, err := opt.Optimize(context.Background(), "kb_chunks", OptimizeOptions{AutoApply: true})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Equal(t, KindRebuild, report.Recommendations[0].Kind)
	require.Equal(t, PriorityHigh, report.Recommendations[0].Priority)
	require.Contains(t, kinds(report.Recommendations), KindStructureSwap)
	require.Len(t, report.Applied, 1)
	require.True(t, report.Applied[0].Applied)

	analyzed := sink.Recent(events.OptimizationAnalyzed, 0)
	require.Len(t, analyzed, 1)
	require.True(t, analyzed[0].Success)
	require.Equal(t, len(report.Recommendations), analyzed[0].Metadata["recommendations"])
}

func TestOptimizeWithoutApplyNeverExecutes(t *testing.T) {
	mock := newMockPool(t)
	opt := newTestOptimizer(t, mock, nil, nil)

	mock.ExpectQuery("FROM pg_stat_user_indexes s").WithArgs([]string{"kb_chunks"}).WillReturnRows(pgxmock.NewRows(indexColumns))
	mock.ExpectQuery("FROM pg_stat_user_tables t").
		WithArgs("kb_chunks").
		WillReturnRows(pgxmock.NewRows(tableColumns).
			AddRow("kb_chunks", int64(50000), int64(1<<30), int64(0), int64(10), int64(0), nil, nil))

	report, err := opt.Optimize(context.Background(), "kb_chunks", OptimizeOptions{})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Len(t, report.Recommendations, 1)
	require.Equal(t, KindCreateIndex, report.Recommendations[0].Kind)
	require.Empty(t, report.Applied)
}

func TestOptimizeRequiresTable(t *testing.T) {
	mock := newMockPool(t)
	opt := newTestOptimizer(t, mock, nil, nil)

	_, err := opt.Optimize(context.Background(), "", OptimizeOptions{})
	require.True(t, IsCode(err, ErrCodeInvalidInput))
}
