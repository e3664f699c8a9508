package indexopt

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func daysAgo(days float64) *time.Time {
	t := testNow.Add(-time.Duration(days * float64(24*time.Hour)))
	return &t
}

func freshStats(rows int64) TableStats {
	return TableStats{
		Table:       "kb_chunks",
		RowCount:    rows,
		IndexScans:  1000,
		LastVacuum:  daysAgo(1),
		LastAnalyze: daysAgo(1),
	}
}

func ivfflatMetric(name string, lists int) IndexMetric {
	return IndexMetric{
		Name:       name,
		Type:       IndexIVFFlat,
		Table:      "kb_chunks",
		Scans:      1000,
		HitRatio:   0.99,
		Lists:      lists,
		Definition: fmt.Sprintf("CREATE INDEX %s ON public.kb_chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists='%d')", name, lists),
	}
}

func kinds(recs []Recommendation) []Kind {
	out := make([]Kind, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Kind)
	}
	return out
}

func TestRecommendCreateIndexWhenNoVectorIndex(t *testing.T) {
	r := NewRecommender(DefaultSettings())
	aux := IndexMetric{Name: "idx_kb_chunks_kb", Type: IndexAuxiliary, Table: "kb_chunks", Scans: 10}

	recs := r.Recommend("kb_chunks", []IndexMetric{aux}, TableStats{Table: "kb_chunks", RowCount: 50000}, testNow)
	require.Len(t, recs, 1)

	rec := recs[0]
	require.Equal(t, KindCreateIndex, rec.Kind)
	require.Equal(t, PriorityHigh, rec.Priority)
	require.Equal(t, float64(100), rec.CostBenefit)
	require.Len(t, rec.Statements, 1)
	require.Contains(t, rec.Statements[0], "USING ivfflat (\"embedding\" vector_cosine_ops) WITH (lists = 50)")
	require.Contains(t, rec.Statements[0], "CONCURRENTLY")
	require.Zero(t, rec.EstimatedDowntimeMinutes)
	require.Equal(t, []string{`DROP INDEX CONCURRENTLY IF EXISTS "idx_kb_chunks_embedding_ivfflat"`}, rec.Rollback)
}

func TestRecommendRebuildForFragmentedSlowIndex(t *testing.T) {
	r := NewRecommender(DefaultSettings())
	m := ivfflatMetric("idx_vec", 50)
	m.FragmentationRatio = 0.45
	m.AvgQueryTime = 350 * time.Millisecond

	recs := r.Recommend("kb_chunks", []IndexMetric{m}, freshStats(50000), testNow)
	require.NotEmpty(t, recs)

	rebuild := recs[0]
	require.Equal(t, KindRebuild, rebuild.Kind)
	require.Equal(t, PriorityHigh, rebuild.Priority)
	require.Zero(t, rebuild.EstimatedDowntimeMinutes)
	require.Equal(t, []string{`REINDEX INDEX CONCURRENTLY "idx_vec"`}, rebuild.Statements)
	require.True(t, rebuild.AutoApplicable(DefaultThresholds().AutoApplyConfidence))
	require.Contains(t, kinds(recs), KindStructureSwap)
	require.NotContains(t, kinds(recs), KindReparameterize)
}

func TestRecommendRebuildPriority(t *testing.T) {
	r := NewRecommender(DefaultSettings())

	m := ivfflatMetric("idx_vec", 5)
	m.FragmentationRatio = 0.5
	m.AvgQueryTime = 250 * time.Millisecond
	recs := r.Recommend("kb_chunks", []IndexMetric{m}, freshStats(5000), testNow)
	require.Equal(t, KindRebuild, recs[0].Kind)
	require.Equal(t, PriorityMedium, recs[0].Priority)

	m.FragmentationRatio = 0
	m.AvgQueryTime = 210 * time.Millisecond
	recs = r.Recommend("kb_chunks", []IndexMetric{m}, freshStats(5000), testNow)
	require.Equal(t, KindRebuild, recs[0].Kind)
	require.False(t, recs[0].AutoApplicable(0.8), "latency alone is not conclusive")

	m.AvgQueryTime = 100 * time.Millisecond
	require.Empty(t, r.Recommend("kb_chunks", []IndexMetric{m}, freshStats(5000), testNow))
}

func TestRecommendReparameterize(t *testing.T) {
	r := NewRecommender(DefaultSettings())

	recs := r.Recommend("kb_chunks", []IndexMetric{ivfflatMetric("idx_vec", 100)}, freshStats(50000), testNow)
	require.Len(t, recs, 1)
	rec := recs[0]
	require.Equal(t, KindReparameterize, rec.Kind)
	require.Equal(t, []string{
		`CREATE INDEX CONCURRENTLY "idx_vec_new" ON "kb_chunks" USING ivfflat (embedding vector_cosine_ops) WITH (lists = 50)`,
		`DROP INDEX CONCURRENTLY IF EXISTS "idx_vec"`,
		`ALTER INDEX "idx_vec_new" RENAME TO "idx_vec"`,
	}, rec.Statements)
	require.Len(t, rec.Rollback, 2)
	require.Contains(t, rec.Rollback[1], "WITH (lists = 100)")
	require.False(t, rec.AutoApplicable(0.8))

	// within 20% of the optimum
	require.Empty(t, r.Recommend("kb_chunks", []IndexMetric{ivfflatMetric("idx_vec", 55)}, freshStats(50000), testNow))
}

func TestOptimalListsClamped(t *testing.T) {
	r := NewRecommender(DefaultSettings())
	require.Equal(t, 1, r.OptimalLists(0))
	require.Equal(t, 1, r.OptimalLists(999))
	require.Equal(t, 50, r.OptimalLists(50000))
	require.Equal(t, 32768, r.OptimalLists(1_000_000_000))
}

func TestRecommendStaleness(t *testing.T) {
	r := NewRecommender(DefaultSettings())
	stats := freshStats(5000)
	stats.LastVacuum = daysAgo(8)
	stats.LastAnalyze = daysAgo(4)

	recs := r.Recommend("kb_chunks", []IndexMetric{ivfflatMetric("idx_vec", 5)}, stats, testNow)
	require.Len(t, recs, 2)
	require.Equal(t, PriorityMedium, recs[0].Priority)
	require.Equal(t, []string{`ANALYZE "kb_chunks"`}, recs[0].Statements)
	require.Equal(t, PriorityLow, recs[1].Priority)
	require.Equal(t, []string{`VACUUM (ANALYZE) "kb_chunks"`}, recs[1].Statements)
	for _, rec := range recs {
		require.Equal(t, KindMaintenance, rec.Kind)
	}

	stats.LastVacuum = daysAgo(6)
	stats.LastAnalyze = daysAgo(2)
	require.Empty(t, r.Recommend("kb_chunks", []IndexMetric{ivfflatMetric("idx_vec", 5)}, stats, testNow))
}

func TestRecommendAdvisoryKinds(t *testing.T) {
	r := NewRecommender(DefaultSettings())
	m := ivfflatMetric("idx_vec", 20)
	m.HitRatio = 0.5
	stats := freshStats(20000)
	stats.SeqScans = 5000
	stats.IndexScans = 10

	recs := r.Recommend("kb_chunks", []IndexMetric{m}, stats, testNow)
	require.ElementsMatch(t, []Kind{KindResourceAdjust, KindRewriteQuery}, kinds(recs))
	for _, rec := range recs {
		require.Empty(t, rec.Statements)
		require.False(t, rec.AutoApplicable(0))
	}
}

func TestRecommendThresholdOverride(t *testing.T) {
	settings := DefaultSettings()
	settings.Thresholds.FragmentationRatio = 0.5
	r := NewRecommender(settings)

	m := ivfflatMetric("idx_vec", 5)
	m.FragmentationRatio = 0.45
	require.Empty(t, r.Recommend("kb_chunks", []IndexMetric{m}, freshStats(5000), testNow))
}

func TestRecommendationOrdering(t *testing.T) {
	r := NewRecommender(DefaultSettings())

	var indexes []IndexMetric
	for i, avg := range []time.Duration{120, 180, 260, 420, 90} {
		m := ivfflatMetric(fmt.Sprintf("idx_vec_%d", i), 10*(i+1))
		m.AvgQueryTime = avg * time.Millisecond
		m.FragmentationRatio = 0.1 * float64(i)
		m.Scans = int64(10 * (i + 1) * (i + 1))
		m.HitRatio = 0.7 + 0.05*float64(i)
		indexes = append(indexes, m)
	}
	stats := freshStats(40000)
	stats.LastVacuum = daysAgo(30)
	stats.LastAnalyze = nil

	recs := r.Recommend("kb_chunks", indexes, stats, testNow)
	require.Greater(t, len(recs), 5)
	for i := 1; i < len(recs); i++ {
		prev, cur := recs[i-1], recs[i]
		require.GreaterOrEqual(t, prev.Priority.Rank(), cur.Priority.Rank())
		if prev.Priority == cur.Priority {
			require.GreaterOrEqual(t, prev.CostBenefit, cur.CostBenefit)
		}
	}
	for _, rec := range recs {
		require.GreaterOrEqual(t, rec.CostBenefit, 0.0)
		require.LessOrEqual(t, rec.CostBenefit, 100.0)
		for _, stmt := range rec.Statements {
			require.False(t, strings.Contains(stmt, "'"), "statement %q must not embed literals", stmt)
		}
	}
}

func TestCostBenefitComponents(t *testing.T) {
	r := NewRecommender(DefaultSettings())

	idle := IndexMetric{}
	require.Equal(t, 10.0, r.costBenefit(KindRebuild, idle))
	require.Equal(t, 40.0, r.costBenefit(KindStructureSwap, idle))

	saturated := IndexMetric{Scans: 10_000_000, AvgQueryTime: time.Second, FragmentationRatio: 5}
	require.Equal(t, 100.0, r.costBenefit(KindStructureSwap, saturated))

	atBudget := IndexMetric{AvgQueryTime: 200 * time.Millisecond}
	require.InDelta(t, 32.5+25, r.costBenefit(KindReparameterize, atBudget), 1e-9)
}
