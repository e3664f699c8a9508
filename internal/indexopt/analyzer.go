package indexopt

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Laisky/laisky-kb-retrieval/internal/metrics"
	"github.com/Laisky/laisky-kb-retrieval/library/log"
)

// DB defines the database capabilities required by the optimizer.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DB = (*pgxpool.Pool)(nil)

// Clock provides the current time in UTC.
type Clock func() time.Time

func defaultClock() time.Time { return time.Now().UTC() }

// LatencySource reports the average search latency observed on a table.
type LatencySource interface {
	AvgQueryTime(ctx context.Context, table string) (time.Duration, error)
}

const indexMetricsSQL = `SELECT s.indexrelname, s.relname, am.amname,
	pg_relation_size(s.indexrelid), s.idx_scan, s.idx_tup_read, s.idx_tup_fetch,
	COALESCE(io.idx_blks_hit, 0), COALESCE(io.idx_blks_read, 0),
	COALESCE(t.n_tup_upd, 0) + COALESCE(t.n_tup_del, 0),
	GREATEST(t.last_vacuum, t.last_autovacuum), GREATEST(t.last_analyze, t.last_autoanalyze),
	pg_get_indexdef(s.indexrelid)
FROM pg_stat_user_indexes s
JOIN pg_statio_user_indexes io ON io.indexrelid = s.indexrelid
JOIN pg_stat_user_tables t ON t.relid = s.relid
JOIN pg_class c ON c.oid = s.indexrelid
JOIN pg_am am ON am.oid = c.relam
WHERE s.relname = ANY($1::text[])
ORDER BY s.relname, s.indexrelname`

const tableStatsSQL = `SELECT t.relname, t.n_live_tup, pg_total_relation_size(t.relid),
	COALESCE(t.n_tup_upd, 0) + COALESCE(t.n_tup_del, 0),
	COALESCE(t.seq_scan, 0), COALESCE(t.idx_scan, 0),
	GREATEST(t.last_vacuum, t.last_autovacuum), GREATEST(t.last_analyze, t.last_autoanalyze)
FROM pg_stat_user_tables t
WHERE t.relname = $1`

// Analyzer derives IndexMetrics from the store's statistics views. It
// never mutates store state.
type Analyzer struct {
	db       DB
	latency  LatencySource
	settings Settings
	logger   logSDK.Logger
}

// NewAnalyzer constructs an analyzer. latency may be nil, in which case
// average query times are reported as zero.
func NewAnalyzer(db DB, latency LatencySource, settings Settings, logger logSDK.Logger) (*Analyzer, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	if logger == nil {
		logger = log.Logger.Named("indexopt_analyzer")
	}
	return &Analyzer{db: db, latency: latency, settings: settings.sanitize(), logger: logger}, nil
}

// Analyze returns one metric per index on tables, or on the configured
// tables when none are given.
func (a *Analyzer) Analyze(ctx context.Context, tables ...string) ([]IndexMetric, error) {
	if len(tables) == 0 {
		tables = a.settings.Tables
	}

	queryCtx, cancel := context.WithTimeout(ctx, a.settings.QueryTimeout)
	defer cancel()

	rows, err := a.db.Query(queryCtx, indexMetricsSQL, tables)
	if err != nil {
		return nil, storeError(queryCtx, "query index statistics", "", errors.Wrap(err, "query index statistics"))
	}
	defer rows.Close()

	var out []IndexMetric
	for rows.Next() {
		var (
			m                       IndexMetric
			amName                  string
			blksHit, blksRead, mods int64
			lastVacuum, lastAnalyze pgtype.Timestamptz
		)
		if err := rows.Scan(&m.Name, &m.Table, &amName, &m.SizeBytes, &m.Scans, &m.TuplesRead, &m.TuplesFetch,
			&blksHit, &blksRead, &mods, &lastVacuum, &lastAnalyze, &m.Definition); err != nil {
			return nil, storeError(queryCtx, "scan index statistics", "", errors.Wrap(err, "scan index statistics"))
		}
		m.Type = indexTypeOf(amName)
		m.HitRatio = hitRatio(m.Scans, blksHit, blksRead)
		m.FragmentationRatio = fragmentationRatio(mods, m.Scans)
		m.LastVacuum = timePtr(lastVacuum)
		m.LastAnalyze = timePtr(lastAnalyze)
		m.Lists = indexParam(m.Definition, listsParam)
		m.M = indexParam(m.Definition, mParam)
		m.EfConstruction = indexParam(m.Definition, efConstructionParam)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(queryCtx, "iterate index statistics", "", errors.Wrap(err, "iterate index statistics"))
	}

	if a.latency != nil {
		avgByTable := map[string]time.Duration{}
		for i := range out {
			avg, ok := avgByTable[out[i].Table]
			if !ok {
				avg, err = a.latency.AvgQueryTime(ctx, out[i].Table)
				if err != nil {
					a.logger.Warn("read average query time", zap.String("table", out[i].Table), zap.Error(err))
				}
				avgByTable[out[i].Table] = avg
			}
			if out[i].Type.IsVector() {
				out[i].AvgQueryTime = avg
			}
		}
	}

	a.logger.Debug("analyzed indexes", zap.Strings("tables", tables), zap.Int("indexes", len(out)))
	return out, nil
}

// TableStats reads row and staleness statistics of one table.
func (a *Analyzer) TableStats(ctx context.Context, table string) (TableStats, error) {
	queryCtx, cancel := context.WithTimeout(ctx, a.settings.QueryTimeout)
	defer cancel()

	var (
		st                      TableStats
		lastVacuum, lastAnalyze pgtype.Timestamptz
	)
	err := a.db.QueryRow(queryCtx, tableStatsSQL, table).Scan(&st.Table, &st.RowCount, &st.TotalBytes,
		&st.Modifications, &st.SeqScans, &st.IndexScans, &lastVacuum, &lastAnalyze)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			e := NewError(ErrCodeInvalidInput, "table not found", false)
			e.Table = table
			return TableStats{}, e
		}
		return TableStats{}, storeError(queryCtx, "query table statistics", table, errors.Wrap(err, "query table statistics"))
	}
	if st.RowCount < 0 {
		st.RowCount = 0
	}
	st.LastVacuum = timePtr(lastVacuum)
	st.LastAnalyze = timePtr(lastAnalyze)
	return st, nil
}

// fragmentationRatio is modifications per scan, zero without scans.
func fragmentationRatio(modifications, scans int64) float64 {
	if scans <= 0 || modifications <= 0 {
		return 0
	}
	return float64(modifications) / float64(scans)
}

func hitRatio(scans, hit, read int64) float64 {
	if scans <= 0 || hit+read <= 0 {
		return 0
	}
	return float64(hit) / float64(hit+read)
}

func indexTypeOf(amName string) IndexType {
	switch amName {
	case "ivfflat":
		return IndexIVFFlat
	case "hnsw":
		return IndexHNSW
	default:
		return IndexAuxiliary
	}
}

var (
	listsParam          = regexp.MustCompile(`(?i)\blists\s*=\s*'?(\d+)`)
	mParam              = regexp.MustCompile(`(?i)\bm\s*=\s*'?(\d+)`)
	efConstructionParam = regexp.MustCompile(`(?i)\bef_construction\s*=\s*'?(\d+)`)
	indexUsing          = regexp.MustCompile(`(?i)\bUSING\s+\w+\s*\(`)
)

func indexParam(definition string, re *regexp.Regexp) int {
	match := re.FindStringSubmatch(definition)
	if len(match) < 2 {
		return 0
	}
	v, err := strconv.Atoi(match[1])
	if err != nil {
		return 0
	}
	return v
}

// indexColumn returns the column expression of an index definition,
// e.g. "embedding vector_cosine_ops".
func indexColumn(definition string) string {
	loc := indexUsing.FindStringIndex(definition)
	if loc == nil {
		return ""
	}
	depth := 1
	for i := loc[1]; i < len(definition); i++ {
		switch definition[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return strings.TrimSpace(definition[loc[1]:i])
			}
		}
	}
	return ""
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time.UTC()
	return &t
}

// StatementLatency reads mean execution time of searches on a table from
// pg_stat_statements, falling back to the in-process latency window when
// the extension is unavailable or has no data.
type StatementLatency struct {
	db       DB
	fallback *metrics.LatencyWindow
	timeout  time.Duration
}

// NewStatementLatency constructs a latency source. fallback may be nil.
func NewStatementLatency(db DB, fallback *metrics.LatencyWindow, timeout time.Duration) *StatementLatency {
	if timeout <= 0 {
		timeout = DefaultSettings().QueryTimeout
	}
	return &StatementLatency{db: db, fallback: fallback, timeout: timeout}
}

const statementLatencySQL = `SELECT COALESCE(SUM(total_exec_time) / NULLIF(SUM(calls), 0), 0)
FROM pg_stat_statements
WHERE query ILIKE '%' || $1 || '%' AND query ILIKE '%<=>%'`

// AvgQueryTime implements LatencySource.
func (l *StatementLatency) AvgQueryTime(ctx context.Context, table string) (time.Duration, error) {
	var avgMillis float64
	if l.db != nil {
		queryCtx, cancel := context.WithTimeout(ctx, l.timeout)
		defer cancel()

		err := l.db.QueryRow(queryCtx, statementLatencySQL, table).Scan(&avgMillis)
		if err == nil && avgMillis > 0 {
			return time.Duration(avgMillis * float64(time.Millisecond)), nil
		}
		if err != nil && l.fallback == nil {
			return 0, storeError(queryCtx, "query statement latency", table, errors.Wrap(err, "query pg_stat_statements"))
		}
	}
	if l.fallback != nil {
		return l.fallback.Stats().Avg, nil
	}
	return 0, nil
}
