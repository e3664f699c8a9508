package indexopt

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
)

// base cost/benefit points per action kind
var kindBase = map[Kind]float64{
	KindRebuild:        10,
	KindReparameterize: 25,
	KindStructureSwap:  40,
	KindRewriteQuery:   15,
	KindMaintenance:    5,
	KindResourceAdjust: 5,
}

const (
	maxDeficitPoints = 65
	maxUsagePoints   = 50
	maxCostBenefit   = 100
	maxIdentifierLen = 63
)

var opClassPattern = regexp.MustCompile(`^[a-z0-9_]{1,63}$`)

// Recommender turns index metrics into prioritized remediations. It is a
// pure function of its inputs and never touches the store.
type Recommender struct {
	th      Thresholds
	column  string
	opClass string
}

// NewRecommender constructs a recommender from settings.
func NewRecommender(settings Settings) *Recommender {
	settings = settings.sanitize()
	opClass := settings.OpClass
	if !opClassPattern.MatchString(opClass) {
		opClass = DefaultSettings().OpClass
	}
	return &Recommender{
		th:      settings.Thresholds,
		column:  pgx.Identifier{settings.VectorColumn}.Sanitize(),
		opClass: opClass,
	}
}

// Thresholds returns the effective policy.
func (r *Recommender) Thresholds() Thresholds { return r.th }

// Recommend evaluates the vector indexes of table. A table without any
// vector index yields only a create_index recommendation. The result is
// ordered by priority, then by descending cost/benefit.
func (r *Recommender) Recommend(table string, indexes []IndexMetric, stats TableStats, now time.Time) []Recommendation {
	var vector []IndexMetric
	for _, m := range indexes {
		if m.Table == table && m.Type.IsVector() {
			vector = append(vector, m)
		}
	}
	if len(vector) == 0 {
		return []Recommendation{r.createIndex(table, stats)}
	}

	var out []Recommendation
	for _, m := range vector {
		if rec, ok := r.rebuild(m); ok {
			out = append(out, rec)
		}
		if rec, ok := r.reparameterize(m, stats); ok {
			out = append(out, rec)
		}
		if rec, ok := r.structureSwap(m, stats); ok {
			out = append(out, rec)
		}
		if rec, ok := r.resourceAdjust(m); ok {
			out = append(out, rec)
		}
	}
	if rec, ok := r.rewriteQuery(table, stats, vector); ok {
		out = append(out, rec)
	}
	out = append(out, r.staleness(table, stats, vector, now)...)

	SortRecommendations(out)
	return out
}

// SortRecommendations orders by priority (high first), then by
// descending cost/benefit. Ties keep their relative order.
func SortRecommendations(recs []Recommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		if pi, pj := recs[i].Priority.Rank(), recs[j].Priority.Rank(); pi != pj {
			return pi > pj
		}
		return recs[i].CostBenefit > recs[j].CostBenefit
	})
}

// OptimalLists is rows / RowsPerList clamped to [MinLists, MaxLists].
func (r *Recommender) OptimalLists(rows int64) int {
	lists := rows / r.th.RowsPerList
	return int(max(int64(r.th.MinLists), min(lists, int64(r.th.MaxLists))))
}

func (r *Recommender) createIndex(table string, stats TableStats) Recommendation {
	lists := r.OptimalLists(stats.RowCount)
	name := indexName("idx", table, "embedding_ivfflat")
	return Recommendation{
		Kind:     KindCreateIndex,
		Priority: PriorityHigh,
		Table:    table,
		Index:    name,
		Description: fmt.Sprintf("table %s has no vector index; create an ivfflat index with lists = %d for %d rows",
			table, lists, stats.RowCount),
		ExpectedImprovement: "replaces sequential distance scans with approximate nearest-neighbour lookups",
		Statements: []string{fmt.Sprintf("CREATE INDEX CONCURRENTLY IF NOT EXISTS %s ON %s USING ivfflat (%s) WITH (lists = %d)",
			ident(name), ident(table), r.columnExpr(""), lists)},
		Rollback:    []string{"DROP INDEX CONCURRENTLY IF EXISTS " + ident(name)},
		CostBenefit: maxCostBenefit,
		Confidence:  0.9,
	}
}

func (r *Recommender) rebuild(m IndexMetric) (Recommendation, bool) {
	fragmented := m.FragmentationRatio > r.th.FragmentationRatio
	slow := m.AvgQueryTime > r.th.SlowQuery
	if !fragmented && !slow {
		return Recommendation{}, false
	}

	priority := PriorityMedium
	if m.AvgQueryTime > r.th.CriticalQuery {
		priority = PriorityHigh
	}
	confidence := 0.6
	if fragmented {
		confidence = 0.85
	}
	return Recommendation{
		Kind:     KindRebuild,
		Priority: priority,
		Table:    m.Table,
		Index:    m.Name,
		Description: fmt.Sprintf("rebuild %s: fragmentation %.2f (limit %.2f), average query time %s (budget %s)",
			m.Name, m.FragmentationRatio, r.th.FragmentationRatio, m.AvgQueryTime.Round(time.Millisecond), r.th.SlowQuery),
		ExpectedImprovement: "compacts index pages and recomputes cluster centroids from current data",
		Statements:          []string{"REINDEX INDEX CONCURRENTLY " + ident(m.Name)},
		CostBenefit:         r.costBenefit(KindRebuild, m),
		Confidence:          confidence,
	}, true
}

func (r *Recommender) reparameterize(m IndexMetric, stats TableStats) (Recommendation, bool) {
	if m.Type != IndexIVFFlat || m.Lists <= 0 {
		return Recommendation{}, false
	}
	optimal := r.OptimalLists(stats.RowCount)
	deviation := math.Abs(float64(m.Lists-optimal)) / float64(optimal)
	if deviation <= r.th.ListsDeviation {
		return Recommendation{}, false
	}

	column := r.columnExpr(m.Definition)
	tmp := truncateIdentifier(m.Name + "_new")
	return Recommendation{
		Kind:     KindReparameterize,
		Priority: PriorityMedium,
		Table:    m.Table,
		Index:    m.Name,
		Description: fmt.Sprintf("%s uses lists = %d but %d rows suggest lists = %d (%.0f%% off)",
			m.Name, m.Lists, stats.RowCount, optimal, deviation*100),
		ExpectedImprovement: "balances partition sizes so each list scan touches fewer vectors",
		Statements: []string{
			fmt.Sprintf("CREATE INDEX CONCURRENTLY %s ON %s USING ivfflat (%s) WITH (lists = %d)",
				ident(tmp), ident(m.Table), column, optimal),
			"DROP INDEX CONCURRENTLY IF EXISTS " + ident(m.Name),
			fmt.Sprintf("ALTER INDEX %s RENAME TO %s", ident(tmp), ident(m.Name)),
		},
		Rollback: []string{
			"DROP INDEX CONCURRENTLY IF EXISTS " + ident(tmp),
			fmt.Sprintf("CREATE INDEX CONCURRENTLY IF NOT EXISTS %s ON %s USING ivfflat (%s) WITH (lists = %d)",
				ident(m.Name), ident(m.Table), column, m.Lists),
		},
		CostBenefit: r.costBenefit(KindReparameterize, m),
		Confidence:  0.75,
	}, true
}

func (r *Recommender) structureSwap(m IndexMetric, stats TableStats) (Recommendation, bool) {
	if m.Type != IndexIVFFlat ||
		stats.RowCount <= r.th.StructureSwapRows ||
		m.AvgQueryTime <= r.th.StructureSwapQuery {
		return Recommendation{}, false
	}

	name := indexName("idx", m.Table, "embedding_hnsw")
	return Recommendation{
		Kind:     KindStructureSwap,
		Priority: PriorityMedium,
		Table:    m.Table,
		Index:    m.Name,
		Description: fmt.Sprintf("evaluate an hnsw index (m = %d, ef_construction = %d) next to %s for %d rows at %s average",
			r.th.HNSWM, r.th.HNSWEfConstruction, m.Name, stats.RowCount, m.AvgQueryTime.Round(time.Millisecond)),
		ExpectedImprovement: "graph search keeps recall high with lower latency on large corpora",
		Statements: []string{fmt.Sprintf("CREATE INDEX CONCURRENTLY IF NOT EXISTS %s ON %s USING hnsw (%s) WITH (m = %d, ef_construction = %d)",
			ident(name), ident(m.Table), r.columnExpr(m.Definition), r.th.HNSWM, r.th.HNSWEfConstruction)},
		Rollback:    []string{"DROP INDEX CONCURRENTLY IF EXISTS " + ident(name)},
		CostBenefit: r.costBenefit(KindStructureSwap, m),
		Confidence:  0.5,
	}, true
}

func (r *Recommender) resourceAdjust(m IndexMetric) (Recommendation, bool) {
	if m.Scans == 0 || m.HitRatio >= r.th.CacheHitFloor {
		return Recommendation{}, false
	}
	return Recommendation{
		Kind:     KindResourceAdjust,
		Priority: PriorityLow,
		Table:    m.Table,
		Index:    m.Name,
		Description: fmt.Sprintf("%s hit ratio %.2f is below %.2f; size shared_buffers to hold its %d bytes",
			m.Name, m.HitRatio, r.th.CacheHitFloor, m.SizeBytes),
		ExpectedImprovement: "serves index pages from memory instead of disk",
		CostBenefit:         r.costBenefit(KindResourceAdjust, m),
		Confidence:          0.5,
	}, true
}

func (r *Recommender) rewriteQuery(table string, stats TableStats, vector []IndexMetric) (Recommendation, bool) {
	if stats.RowCount <= r.th.StructureSwapRows || stats.SeqScans <= stats.IndexScans {
		return Recommendation{}, false
	}
	return Recommendation{
		Kind:     KindRewriteQuery,
		Priority: PriorityLow,
		Table:    table,
		Description: fmt.Sprintf("%s sees %d sequential scans against %d index scans; order searches by the distance operator with a LIMIT so the vector index is used",
			table, stats.SeqScans, stats.IndexScans),
		ExpectedImprovement: "lets the planner choose the vector index",
		CostBenefit:         r.costBenefit(KindRewriteQuery, busiest(vector)),
		Confidence:          0.4,
	}, true
}

func (r *Recommender) staleness(table string, stats TableStats, vector []IndexMetric, now time.Time) []Recommendation {
	if stats.RowCount <= 0 {
		return nil
	}
	m := busiest(vector)
	usage := usagePoints(stats.SeqScans + stats.IndexScans)

	var out []Recommendation
	if age, stale := staleAge(stats.LastVacuum, now, r.th.VacuumStaleAfter); stale {
		out = append(out, Recommendation{
			Kind:                KindMaintenance,
			Priority:            PriorityLow,
			Table:               table,
			Index:               m.Name,
			Description:         fmt.Sprintf("%s was last vacuumed %s ago", table, describeAge(age)),
			ExpectedImprovement: "reclaims dead tuples and refreshes planner statistics",
			Statements:          []string{"VACUUM (ANALYZE) " + ident(table)},
			CostBenefit:         clampScore(stalenessPoints(age, r.th.VacuumStaleAfter) + usage + kindBase[KindMaintenance]),
			Confidence:          0.8,
		})
	}
	if age, stale := staleAge(stats.LastAnalyze, now, r.th.AnalyzeStaleAfter); stale {
		out = append(out, Recommendation{
			Kind:                KindMaintenance,
			Priority:            PriorityMedium,
			Table:               table,
			Index:               m.Name,
			Description:         fmt.Sprintf("%s statistics were last refreshed %s ago", table, describeAge(age)),
			ExpectedImprovement: "keeps planner estimates for filtered vector searches accurate",
			Statements:          []string{"ANALYZE " + ident(table)},
			CostBenefit:         clampScore(stalenessPoints(age, r.th.AnalyzeStaleAfter) + usage + kindBase[KindMaintenance]),
			Confidence:          0.9,
		})
	}
	return out
}

// costBenefit sums a performance deficit (up to 65 points), usage volume
// (up to 50) and the action base, clamped to 100.
func (r *Recommender) costBenefit(kind Kind, m IndexMetric) float64 {
	latency := float64(m.AvgQueryTime) / float64(r.th.SlowQuery)
	fragmentation := m.FragmentationRatio / r.th.FragmentationRatio
	deficit := maxDeficitPoints * clamp01(math.Max(latency, fragmentation)/2)
	return clampScore(deficit + usagePoints(m.Scans) + kindBase[kind])
}

// usagePoints grows logarithmically and saturates at a million scans.
func usagePoints(scans int64) float64 {
	if scans <= 0 {
		return 0
	}
	return maxUsagePoints * clamp01(math.Log10(1+float64(scans))/6)
}

func stalenessPoints(age, limit time.Duration) float64 {
	return maxDeficitPoints * clamp01(float64(age)/float64(2*limit))
}

// staleAge reports the age of last and whether it exceeds limit. A
// missing timestamp counts as never run.
func staleAge(last *time.Time, now time.Time, limit time.Duration) (time.Duration, bool) {
	if last == nil {
		return 2 * limit, true
	}
	age := now.Sub(*last)
	return age, age > limit
}

func describeAge(age time.Duration) string {
	return fmt.Sprintf("%.1f days", age.Hours()/24)
}

func busiest(indexes []IndexMetric) IndexMetric {
	var out IndexMetric
	for _, m := range indexes {
		if m.Scans >= out.Scans {
			out = m
		}
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func clampScore(v float64) float64 {
	v = math.Max(0, math.Min(maxCostBenefit, v))
	return math.Round(v*100) / 100
}

func (r *Recommender) columnExpr(definition string) string {
	if expr := indexColumn(definition); expr != "" {
		return expr
	}
	return r.column + " " + r.opClass
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func indexName(prefix, table, suffix string) string {
	return truncateIdentifier(prefix + "_" + table + "_" + suffix)
}

func truncateIdentifier(name string) string {
	if len(name) <= maxIdentifierLen {
		return name
	}
	return name[:maxIdentifierLen]
}
