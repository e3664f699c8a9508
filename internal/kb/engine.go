// Package kb is the caller-facing facade of the retrieval engine. It joins
// search, index optimization, maintenance, monitoring and usage
// accounting behind one handle.
package kb

import (
	"context"
	"time"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"

	"github.com/Laisky/laisky-kb-retrieval/internal/indexopt"
	"github.com/Laisky/laisky-kb-retrieval/internal/retrieval"
	"github.com/Laisky/laisky-kb-retrieval/internal/usage"
	"github.com/Laisky/laisky-kb-retrieval/library/log"
)

// Components are the collaborators of an Engine, constructed once at
// process start.
type Components struct {
	Search    *retrieval.Service
	Optimizer *indexopt.Optimizer
	Scheduler *indexopt.Scheduler
	Monitor   *indexopt.Monitor
	// Usage is optional; UsageSummary fails without it.
	Usage    *usage.Tracker
	Settings indexopt.Settings
	Logger   logSDK.Logger
	Clock    func() time.Time
}

// Engine serves the knowledge-base lookup API.
type Engine struct {
	search    *retrieval.Service
	optimizer *indexopt.Optimizer
	scheduler *indexopt.Scheduler
	monitor   *indexopt.Monitor
	usage     *usage.Tracker
	settings  indexopt.Settings
	logger    logSDK.Logger
	clock     func() time.Time
}

// New constructs an engine.
func New(c Components) (*Engine, error) {
	switch {
	case c.Search == nil:
		return nil, errors.New("search service is required")
	case c.Optimizer == nil:
		return nil, errors.New("optimizer is required")
	case c.Scheduler == nil:
		return nil, errors.New("maintenance scheduler is required")
	case c.Monitor == nil:
		return nil, errors.New("performance monitor is required")
	}
	e := &Engine{
		search:    c.Search,
		optimizer: c.Optimizer,
		scheduler: c.Scheduler,
		monitor:   c.Monitor,
		usage:     c.Usage,
		settings:  c.Settings,
		logger:    c.Logger,
		clock:     c.Clock,
	}
	if len(e.settings.Tables) == 0 {
		e.settings = indexopt.DefaultSettings()
	}
	if e.logger == nil {
		e.logger = log.Logger.Named("kb_engine")
	}
	if e.clock == nil {
		e.clock = func() time.Time { return time.Now().UTC() }
	}
	return e, nil
}

// SimilaritySearch returns the chunks nearest to query.
func (e *Engine) SimilaritySearch(ctx context.Context, req retrieval.SearchRequest) ([]retrieval.SearchResult, error) {
	return e.search.SimilaritySearch(ctx, req)
}

// HybridSearch blends vector and lexical rankings.
func (e *Engine) HybridSearch(ctx context.Context, req retrieval.HybridRequest) ([]retrieval.SearchResult, error) {
	return e.search.HybridSearch(ctx, req)
}

// SimilarToDocument finds chunks of other documents similar to a text.
func (e *Engine) SimilarToDocument(ctx context.Context, req retrieval.DocumentRequest) ([]retrieval.SearchResult, error) {
	return e.search.SimilarToDocument(ctx, req)
}

// AnalyzeIndexPerformance returns metrics for every index on the
// configured tables.
func (e *Engine) AnalyzeIndexPerformance(ctx context.Context) ([]indexopt.IndexMetric, error) {
	return e.optimizer.Analyzer().Analyze(ctx)
}

// OptimizeIndexes recommends remediations for table and, when asked,
// applies the zero-downtime high-confidence ones.
func (e *Engine) OptimizeIndexes(ctx context.Context, table string, opt indexopt.OptimizeOptions) (indexopt.Report, error) {
	if table == "" && len(e.settings.Tables) > 0 {
		table = e.settings.Tables[0]
	}
	return e.optimizer.Optimize(ctx, table, opt)
}

// ApplyRecommendations executes reviewed recommendations.
func (e *Engine) ApplyRecommendations(ctx context.Context, recs []indexopt.Recommendation) []indexopt.ApplyResult {
	return e.optimizer.Executor().Apply(ctx, recs)
}

// RunMaintenance runs due housekeeping on tables, or the configured ones.
func (e *Engine) RunMaintenance(ctx context.Context, tables ...string) ([]indexopt.MaintenanceTask, error) {
	return e.scheduler.RunOnce(ctx, tables...)
}

// StartMonitoring starts the sampling loop. A non-positive interval uses
// the configured default. Starting twice is a no-op.
func (e *Engine) StartMonitoring(ctx context.Context, interval time.Duration) {
	e.monitor.Start(ctx, interval)
}

// StopMonitoring stops the sampling loop. It is idempotent.
func (e *Engine) StopMonitoring() {
	e.monitor.Stop()
}

// MonitoringStatus reports whether the loop runs and its interval.
func (e *Engine) MonitoringStatus() (running bool, interval time.Duration) {
	return e.monitor.Running(), e.monitor.Interval()
}

// PerformanceHistory returns a copy of the retained samples.
func (e *Engine) PerformanceHistory() []indexopt.PerformanceSample {
	return e.monitor.History()
}

// GetHealthCheck scores the latest sample and fresh index metrics. When
// the monitor has no sample yet, one is taken but neither retained in the
// history nor alerted on.
func (e *Engine) GetHealthCheck(ctx context.Context) (indexopt.HealthReport, error) {
	if err := ctx.Err(); err != nil {
		return indexopt.HealthReport{}, errors.Wrap(err, "health check cancelled")
	}

	var sample *indexopt.PerformanceSample
	if latest, ok := e.monitor.Latest(); ok {
		sample = &latest
	} else if taken, err := e.monitor.Sample(ctx); err != nil {
		e.logger.Warn("take performance sample for health check", zap.Error(err))
	} else {
		sample = &taken
	}

	indexes, err := e.optimizer.Analyzer().Analyze(ctx)
	report := indexopt.Health(sample, indexes, e.settings.Thresholds, e.clock())
	if err != nil {
		e.logger.Warn("analyze indexes for health check", zap.Error(err))
		report.Issues = append(report.Issues, indexopt.Issue{
			Severity:  indexopt.PriorityHigh,
			Component: "store",
			Message:   "index statistics unavailable",
		})
		report.Status = indexopt.StatusCritical
	}
	return report, nil
}

// UsageSummary aggregates the retained usage of a chatbot.
func (e *Engine) UsageSummary(ctx context.Context, chatbotID string) (usage.Summary, error) {
	if e.usage == nil {
		return usage.Summary{}, errors.New("usage accounting is disabled")
	}
	return e.usage.Summary(ctx, chatbotID)
}

// Close stops background work.
func (e *Engine) Close() {
	e.monitor.Stop()
	e.search.Wait()
}
