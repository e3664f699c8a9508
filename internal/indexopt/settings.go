package indexopt

import (
	"time"

	"github.com/Laisky/laisky-kb-retrieval/library/config"
)

// Thresholds are the policy constants of analysis, recommendation,
// monitoring and health scoring. They are workload dependent; every one
// can be overridden from configuration.
type Thresholds struct {
	// FragmentationRatio above which an index is rebuilt.
	FragmentationRatio float64
	// SlowQuery is the latency budget of a search round-trip.
	SlowQuery time.Duration
	// CriticalQuery raises a rebuild to high priority.
	CriticalQuery time.Duration
	// RowsPerList sizes ivfflat partitions: lists = rows / RowsPerList.
	RowsPerList int64
	MinLists    int
	MaxLists    int
	// ListsDeviation is the tolerated relative drift of the current lists
	// parameter from its optimum before reparameterizing.
	ListsDeviation float64
	// StructureSwapRows and StructureSwapQuery gate the hnsw suggestion.
	StructureSwapRows  int64
	StructureSwapQuery time.Duration
	HNSWM              int
	HNSWEfConstruction int
	VacuumStaleAfter   time.Duration
	AnalyzeStaleAfter  time.Duration
	// CacheHitFloor applies to the database buffer cache and to index hit ratios.
	CacheHitFloor float64
	// PoolUsageCeiling is the tolerated share of acquired pool connections.
	PoolUsageCeiling float64
	// StorageBudgetBytes is the database size treated as full for health
	// scoring. Zero disables the storage sub-score penalty.
	StorageBudgetBytes int64
	// AutoApplyConfidence is the minimum confidence of a zero-downtime
	// recommendation that is applied without review.
	AutoApplyConfidence float64
}

// DefaultThresholds returns the built-in policy.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FragmentationRatio:  0.3,
		SlowQuery:           200 * time.Millisecond,
		CriticalQuery:       300 * time.Millisecond,
		RowsPerList:         1000,
		MinLists:            1,
		MaxLists:            32768,
		ListsDeviation:      0.2,
		StructureSwapRows:   10000,
		StructureSwapQuery:  150 * time.Millisecond,
		HNSWM:               16,
		HNSWEfConstruction:  64,
		VacuumStaleAfter:    7 * 24 * time.Hour,
		AnalyzeStaleAfter:   3 * 24 * time.Hour,
		CacheHitFloor:       0.9,
		PoolUsageCeiling:    0.8,
		StorageBudgetBytes:  50 << 30,
		AutoApplyConfidence: 0.8,
	}
}

// Settings configures the optimizer, scheduler and monitor.
type Settings struct {
	// Tables are the tables analyzed and maintained.
	Tables []string
	// VectorColumn and OpClass describe newly created vector indexes.
	VectorColumn string
	OpClass      string
	Thresholds   Thresholds
	// QueryTimeout bounds catalog queries; StatementTimeout bounds DDL
	// and maintenance statements.
	QueryTimeout        time.Duration
	StatementTimeout    time.Duration
	MonitorInterval     time.Duration
	MaintenanceInterval time.Duration
	HistorySize         int
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		Tables:              []string{"kb_chunks"},
		VectorColumn:        "embedding",
		OpClass:             "vector_cosine_ops",
		Thresholds:          DefaultThresholds(),
		QueryTimeout:        5 * time.Second,
		StatementTimeout:    30 * time.Minute,
		MonitorInterval:     5 * time.Minute,
		MaintenanceInterval: 6 * time.Hour,
		HistorySize:         1000,
	}
}

// LoadSettingsFromConfig reads settings.indexopt.* and returns sanitized settings.
func LoadSettingsFromConfig() Settings {
	def := DefaultSettings()
	th := def.Thresholds
	cfg := Settings{
		Tables:              config.Strings("settings.indexopt.tables", def.Tables),
		VectorColumn:        config.String("settings.indexopt.vector_column", def.VectorColumn),
		OpClass:             config.String("settings.indexopt.opclass", def.OpClass),
		QueryTimeout:        config.Duration("settings.indexopt.query_timeout", def.QueryTimeout),
		StatementTimeout:    config.Duration("settings.indexopt.statement_timeout", def.StatementTimeout),
		MonitorInterval:     config.Duration("settings.indexopt.monitor_interval", def.MonitorInterval),
		MaintenanceInterval: config.Duration("settings.indexopt.maintenance_interval", def.MaintenanceInterval),
		HistorySize:         config.Int("settings.indexopt.history_size", def.HistorySize),
		Thresholds: Thresholds{
			FragmentationRatio:  config.Float("settings.indexopt.thresholds.fragmentation_ratio", th.FragmentationRatio),
			SlowQuery:           config.Duration("settings.indexopt.thresholds.slow_query", th.SlowQuery),
			CriticalQuery:       config.Duration("settings.indexopt.thresholds.critical_query", th.CriticalQuery),
			RowsPerList:         int64(config.Int("settings.indexopt.thresholds.rows_per_list", int(th.RowsPerList))),
			MinLists:            config.Int("settings.indexopt.thresholds.min_lists", th.MinLists),
			MaxLists:            config.Int("settings.indexopt.thresholds.max_lists", th.MaxLists),
			ListsDeviation:      config.Float("settings.indexopt.thresholds.lists_deviation", th.ListsDeviation),
			StructureSwapRows:   int64(config.Int("settings.indexopt.thresholds.structure_swap_rows", int(th.StructureSwapRows))),
			StructureSwapQuery:  config.Duration("settings.indexopt.thresholds.structure_swap_query", th.StructureSwapQuery),
			HNSWM:               config.Int("settings.indexopt.thresholds.hnsw_m", th.HNSWM),
			HNSWEfConstruction:  config.Int("settings.indexopt.thresholds.hnsw_ef_construction", th.HNSWEfConstruction),
			VacuumStaleAfter:    config.Duration("settings.indexopt.thresholds.vacuum_stale_after", th.VacuumStaleAfter),
			AnalyzeStaleAfter:   config.Duration("settings.indexopt.thresholds.analyze_stale_after", th.AnalyzeStaleAfter),
			CacheHitFloor:       config.Float("settings.indexopt.thresholds.cache_hit_floor", th.CacheHitFloor),
			PoolUsageCeiling:    config.Float("settings.indexopt.thresholds.pool_usage_ceiling", th.PoolUsageCeiling),
			StorageBudgetBytes:  int64(config.Int("settings.indexopt.thresholds.storage_budget_bytes", int(th.StorageBudgetBytes))),
			AutoApplyConfidence: config.Float("settings.indexopt.thresholds.auto_apply_confidence", th.AutoApplyConfidence),
		},
	}
	return cfg.sanitize()
}

func (s Settings) sanitize() Settings {
	def := DefaultSettings()
	if len(s.Tables) == 0 {
		s.Tables = def.Tables
	}
	if s.VectorColumn == "" {
		s.VectorColumn = def.VectorColumn
	}
	if s.OpClass == "" {
		s.OpClass = def.OpClass
	}
	if s.QueryTimeout <= 0 {
		s.QueryTimeout = def.QueryTimeout
	}
	if s.StatementTimeout <= 0 {
		s.StatementTimeout = def.StatementTimeout
	}
	if s.MonitorInterval <= 0 {
		s.MonitorInterval = def.MonitorInterval
	}
	if s.MaintenanceInterval <= 0 {
		s.MaintenanceInterval = def.MaintenanceInterval
	}
	if s.HistorySize <= 0 {
		s.HistorySize = def.HistorySize
	}
	s.Thresholds = s.Thresholds.sanitize()
	return s
}

func (t Thresholds) sanitize() Thresholds {
	def := DefaultThresholds()
	if t.FragmentationRatio <= 0 {
		t.FragmentationRatio = def.FragmentationRatio
	}
	if t.SlowQuery <= 0 {
		t.SlowQuery = def.SlowQuery
	}
	if t.CriticalQuery < t.SlowQuery {
		t.CriticalQuery = max(def.CriticalQuery, t.SlowQuery)
	}
	if t.RowsPerList <= 0 {
		t.RowsPerList = def.RowsPerList
	}
	if t.MinLists <= 0 {
		t.MinLists = def.MinLists
	}
	if t.MaxLists < t.MinLists {
		t.MaxLists = def.MaxLists
	}
	if t.ListsDeviation <= 0 {
		t.ListsDeviation = def.ListsDeviation
	}
	if t.StructureSwapRows <= 0 {
		t.StructureSwapRows = def.StructureSwapRows
	}
	if t.StructureSwapQuery <= 0 {
		t.StructureSwapQuery = def.StructureSwapQuery
	}
	if t.HNSWM <= 0 {
		t.HNSWM = def.HNSWM
	}
	if t.HNSWEfConstruction <= 0 {
		t.HNSWEfConstruction = def.HNSWEfConstruction
	}
	if t.VacuumStaleAfter <= 0 {
		t.VacuumStaleAfter = def.VacuumStaleAfter
	}
	if t.AnalyzeStaleAfter <= 0 {
		t.AnalyzeStaleAfter = def.AnalyzeStaleAfter
	}
	if t.CacheHitFloor <= 0 || t.CacheHitFloor > 1 {
		t.CacheHitFloor = def.CacheHitFloor
	}
	if t.PoolUsageCeiling <= 0 || t.PoolUsageCeiling > 1 {
		t.PoolUsageCeiling = def.PoolUsageCeiling
	}
	if t.StorageBudgetBytes < 0 {
		t.StorageBudgetBytes = 0
	}
	if t.AutoApplyConfidence <= 0 || t.AutoApplyConfidence > 1 {
		t.AutoApplyConfidence = def.AutoApplyConfidence
	}
	return t
}
