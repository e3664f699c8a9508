package retrieval

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/pashagolub/pgxmock/v4"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/require"

	"github.com/Laisky/laisky-kb-retrieval/internal/events"
	"github.com/Laisky/laisky-kb-retrieval/internal/metrics"
	"github.com/Laisky/laisky-kb-retrieval/internal/usage"
)

var chunkColumns = []string{"id", "document_id", "chunk_index", "content", "metadata", "score"}

type fakeEmbedder struct {
	err        error
	queryCalls atomic.Int32
	batchCalls atomic.Int32
	batchSize  atomic.Int32
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) (pgvector.Vector, error) {
	f.queryCalls.Add(1)
	if f.err != nil {
		return pgvector.Vector{}, f.err
	}
	return pgvector.NewVector([]float32{0.6, 0.8, 0}), nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	f.batchCalls.Add(1)
	f.batchSize.Store(int32(len(texts)))
	if f.err != nil {
		return nil, f.err
	}
	out := make([]pgvector.Vector, 0, len(texts))
	for i := range texts {
		if i%2 == 0 {
			out = append(out, pgvector.NewVector([]float32{1, 0, 0}))
		} else {
			out = append(out, pgvector.NewVector([]float32{0, 1, 0}))
		}
	}
	return out, nil
}

type testHarness struct {
	svc      *Service
	mock     pgxmock.PgxPoolIface
	embedder *fakeEmbedder
	sink     *events.MemorySink
	tracker  *usage.Tracker
	latency  *metrics.LatencyWindow
}

func newHarness(t *testing.T, mutate func(*Settings)) *testHarness {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := usage.NewMemoryStore(16)
	require.NoError(t, err)
	tracker, err := usage.NewTracker(store, usage.Settings{Retain: 50}, nil)
	require.NoError(t, err)

	settings := DefaultSettings()
	if mutate != nil {
		mutate(&settings)
	}

	h := &testHarness{
		mock:     mock,
		embedder: &fakeEmbedder{},
		sink:     events.NewMemorySink(64),
		tracker:  tracker,
		latency:  metrics.NewLatencyWindow(16),
	}
	h.svc, err = NewService(mock, h.embedder, settings, Dependencies{
		Sink:    h.sink,
		Usage:   tracker,
		Latency: h.latency,
		Logger:  logSDK.Shared.Named("test_retrieval"),
	})
	require.NoError(t, err)
	return h
}

func floatPtr(v float64) *float64 { return &v }

func TestNewServiceRequiresCollaborators(t *testing.T) {
	_, err := NewService(nil, &fakeEmbedder{}, DefaultSettings(), Dependencies{})
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewService(mock, nil, DefaultSettings(), Dependencies{})
	require.Error(t, err)
}

func TestResolveFilter(t *testing.T) {
	h := newHarness(t, nil)

	f, err := h.svc.resolveFilter(Filter{})
	require.NoError(t, err)
	require.Equal(t, 5, f.limit)
	require.InDelta(t, 0.1, f.minSimilarity, 1e-9)

	f, err = h.svc.resolveFilter(Filter{MaxResults: 50, MinSimilarity: floatPtr(0)})
	require.NoError(t, err)
	require.Equal(t, 50, f.limit)
	require.Zero(t, f.minSimilarity)

	for _, bad := range []Filter{
		{MaxResults: 51},
		{MaxResults: -1},
		{MinSimilarity: floatPtr(-0.1)},
		{MinSimilarity: floatPtr(1.5)},
		{CollectionIDs: []string{""}},
	} {
		_, err := h.svc.resolveFilter(bad)
		require.True(t, IsCode(err, ErrCodeFilterValidationFailure), "filter %+v", bad)
	}
}

func TestSettingsSanitize(t *testing.T) {
	s := Settings{MaxResultsCap: 500, DefaultMaxResults: 80, DefaultMinSimilarity: 3, VectorWeight: -1}.sanitize()
	require.Equal(t, 50, s.MaxResultsCap)
	require.Equal(t, 50, s.DefaultMaxResults)
	require.InDelta(t, 0.1, s.DefaultMinSimilarity, 1e-9)
	require.InDelta(t, 0.7, s.VectorWeight, 1e-9)
	require.Equal(t, 20, s.HybridCeiling)
	require.Equal(t, 3*time.Second, s.QueryTimeout)
	require.Equal(t, time.Second, s.UsageTimeout)
}

// stallingRecorder holds every write until its context expires.
type stallingRecorder struct {
	started atomic.Int32
	expired atomic.Int32
}

func (r *stallingRecorder) Record(ctx context.Context, _ usage.Record) error {
	r.started.Add(1)
	<-ctx.Done()
	r.expired.Add(1)
	return ctx.Err()
}

func TestSearchDoesNotWaitForUsageRecorder(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	recorder := &stallingRecorder{}
	settings := DefaultSettings()
	settings.UsageTimeout = 300 * time.Millisecond
	svc, err := NewService(mock, &fakeEmbedder{}, settings, Dependencies{
		Usage:  recorder,
		Logger: logSDK.Shared.Named("test_retrieval"),
	})
	require.NoError(t, err)

	mock.ExpectQuery(`FROM kb_chunks`).
		WithArgs(pgxmock.AnyArg(), 0.1, 5).
		WillReturnRows(pgxmock.NewRows(chunkColumns).AddRow("c-1", "doc-1", 0, "text", "{}", 0.2))

	startAt := time.Now()
	results, err := svc.SimilaritySearch(context.Background(), SearchRequest{
		Query: "text",
		Scope: Scope{ChatbotID: "bot-1"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Less(t, time.Since(startAt), 150*time.Millisecond)

	require.Eventually(t, func() bool { return recorder.started.Load() == 1 }, time.Second, 5*time.Millisecond)
	svc.Wait()
	require.EqualValues(t, 1, recorder.expired.Load())
	require.Zero(t, svc.UsageDropped())
}

func TestUsageBacklogDropsRecords(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	recorder := &stallingRecorder{}
	settings := DefaultSettings()
	settings.UsageTimeout = 200 * time.Millisecond
	svc, err := NewService(mock, &fakeEmbedder{}, settings, Dependencies{Usage: recorder})
	require.NoError(t, err)

	for i := 0; i < maxPendingUsage+3; i++ {
		svc.finish(context.Background(), opSimilaritySearch, SearchRequest{Query: "q"}, time.Now(), 0, nil)
	}
	require.EqualValues(t, 3, svc.UsageDropped())

	svc.Wait()
	require.EqualValues(t, maxPendingUsage, recorder.expired.Load())
}

func TestRunMigrations(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`CREATE EXTENSION IF NOT EXISTS vector`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS kb_chunks .*embedding vector\(3\).*to_tsvector\('english', content\)`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	for i := 0; i < 4; i++ {
		mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_kb_chunks_`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}

	settings := DefaultSettings()
	settings.EmbeddingDim = 3
	settings.TextSearchConfig = "english"
	require.NoError(t, RunMigrations(context.Background(), mock, settings))
	require.NoError(t, mock.ExpectationsWereMet())

	settings.TextSearchConfig = "english'; drop table x; --"
	require.Error(t, RunMigrations(context.Background(), mock, settings))
}
