// Package indexopt keeps the vector index of the chunk store within its
// latency budget. It analyzes index statistics, recommends and applies
// remediations, runs housekeeping and monitors live performance.
package indexopt

import "time"

// IndexType is the structural family of a physical index.
type IndexType string

const (
	IndexIVFFlat   IndexType = "ivfflat"
	IndexHNSW      IndexType = "hnsw"
	IndexAuxiliary IndexType = "auxiliary"
)

// IsVector reports whether the index serves nearest-neighbour queries.
func (t IndexType) IsVector() bool {
	return t == IndexIVFFlat || t == IndexHNSW
}

// IndexMetric is a derived snapshot of one physical index.
type IndexMetric struct {
	Name        string    `json:"name"`
	Type        IndexType `json:"type"`
	Table       string    `json:"table"`
	SizeBytes   int64     `json:"size_bytes"`
	Scans       int64     `json:"scans"`
	TuplesRead  int64     `json:"tuples_read"`
	TuplesFetch int64     `json:"tuples_fetched"`
	// HitRatio is the share of index block reads served from cache.
	HitRatio float64 `json:"hit_ratio"`
	// AvgQueryTime is the average latency observed for searches on the table.
	AvgQueryTime time.Duration `json:"avg_query_time"`
	LastVacuum   *time.Time    `json:"last_vacuum,omitempty"`
	LastAnalyze  *time.Time    `json:"last_analyze,omitempty"`
	// FragmentationRatio is row modifications per index scan.
	FragmentationRatio float64 `json:"fragmentation_ratio"`
	// Lists is the ivfflat partition count, M and EfConstruction the hnsw
	// build parameters. Zero when absent.
	Lists          int    `json:"lists,omitempty"`
	M              int    `json:"m,omitempty"`
	EfConstruction int    `json:"ef_construction,omitempty"`
	Definition     string `json:"definition"`
}

// TableStats are table level row and size statistics.
type TableStats struct {
	Table         string     `json:"table"`
	RowCount      int64      `json:"row_count"`
	TotalBytes    int64      `json:"total_bytes"`
	Modifications int64      `json:"modifications"`
	SeqScans      int64      `json:"seq_scans"`
	IndexScans    int64      `json:"index_scans"`
	LastVacuum    *time.Time `json:"last_vacuum,omitempty"`
	LastAnalyze   *time.Time `json:"last_analyze,omitempty"`
}

// Kind is the action of a recommendation.
type Kind string

const (
	KindCreateIndex    Kind = "create_index"
	KindRebuild        Kind = "rebuild"
	KindReparameterize Kind = "reparameterize"
	KindStructureSwap  Kind = "structure_swap"
	KindMaintenance    Kind = "maintenance"
	KindRewriteQuery   Kind = "rewrite_query"
	KindResourceAdjust Kind = "resource_adjust"
)

// Priority orders recommendations and health issues.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank maps high, medium and low onto 3, 2 and 1.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Recommendation is one advisory remediation.
type Recommendation struct {
	Kind                Kind     `json:"kind"`
	Priority            Priority `json:"priority"`
	Table               string   `json:"table"`
	Index               string   `json:"index,omitempty"`
	Description         string   `json:"description"`
	ExpectedImprovement string   `json:"expected_improvement"`
	// Statements run in order; Rollback undoes a partially applied sequence.
	Statements               []string `json:"statements,omitempty"`
	Rollback                 []string `json:"rollback,omitempty"`
	EstimatedDowntimeMinutes float64  `json:"estimated_downtime_minutes"`
	CostBenefit              float64  `json:"cost_benefit"`
	Confidence               float64  `json:"confidence"`
}

// AutoApplicable reports whether rec may run without review.
func (r Recommendation) AutoApplicable(minConfidence float64) bool {
	return r.EstimatedDowntimeMinutes == 0 && len(r.Statements) > 0 && r.Confidence >= minConfidence
}

// PerformanceSample is one monitor observation.
type PerformanceSample struct {
	Timestamp      time.Time     `json:"timestamp"`
	AvgQueryTime   time.Duration `json:"avg_query_time"`
	P95QueryTime   time.Duration `json:"p95_query_time"`
	SampledQueries int           `json:"sampled_queries"`
	CacheHitRatio  float64       `json:"cache_hit_ratio"`
	// PoolUsage is acquired over maximum pool connections.
	PoolUsage         float64 `json:"pool_usage"`
	MemoryBytes       uint64  `json:"memory_bytes"`
	ActiveConnections int64   `json:"active_connections"`
	DatabaseBytes     int64   `json:"database_bytes"`
}

// TaskKind is a housekeeping action.
type TaskKind string

const (
	TaskVacuumAnalyze TaskKind = "vacuum_analyze"
	TaskAnalyze       TaskKind = "analyze"
)

// TaskStatus is the outcome of a maintenance task.
type TaskStatus string

const (
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

// MaintenanceTask records one executed housekeeping action.
type MaintenanceTask struct {
	Kind              TaskKind      `json:"kind"`
	Table             string        `json:"table"`
	Priority          Priority      `json:"priority"`
	AutoRun           bool          `json:"auto_run"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	ActualDuration    time.Duration `json:"actual_duration"`
	LastRun           time.Time     `json:"last_run"`
	NextScheduled     time.Time     `json:"next_scheduled"`
	Status            TaskStatus    `json:"status"`
	Error             string        `json:"error,omitempty"`
}
