package indexopt

import (
	"context"
	"time"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"

	"github.com/Laisky/laisky-kb-retrieval/internal/events"
	"github.com/Laisky/laisky-kb-retrieval/library/log"
)

const opOptimize = "optimize_indexes"

// OptimizeOptions tunes one optimization run.
type OptimizeOptions struct {
	// AutoApply runs zero-downtime recommendations whose confidence
	// reaches Thresholds.AutoApplyConfidence.
	AutoApply bool
	// Thresholds overrides the configured policy for this run.
	Thresholds *Thresholds
}

// Report is the result of one optimization run.
type Report struct {
	Table           string           `json:"table"`
	Stats           TableStats       `json:"stats"`
	Indexes         []IndexMetric    `json:"indexes"`
	Recommendations []Recommendation `json:"recommendations"`
	Applied         []ApplyResult    `json:"applied,omitempty"`
}

// Optimizer runs analysis, recommendation and optional application.
type Optimizer struct {
	analyzer *Analyzer
	executor *Executor
	settings Settings
	sink     events.Sink
	logger   logSDK.Logger
	clock    Clock
}

// NewOptimizer constructs an optimizer.
func NewOptimizer(analyzer *Analyzer, executor *Executor, settings Settings, sink events.Sink, logger logSDK.Logger, clock Clock) (*Optimizer, error) {
	if analyzer == nil {
		return nil, errors.New("analyzer is required")
	}
	if executor == nil {
		return nil, errors.New("executor is required")
	}
	if sink == nil {
		sink = events.Nop{}
	}
	if logger == nil {
		logger = log.Logger.Named("indexopt_optimizer")
	}
	if clock == nil {
		clock = defaultClock
	}
	return &Optimizer{
		analyzer: analyzer,
		executor: executor,
		settings: settings.sanitize(),
		sink:     sink,
		logger:   logger,
		clock:    clock,
	}, nil
}

// Analyzer returns the underlying analyzer.
func (o *Optimizer) Analyzer() *Analyzer { return o.analyzer }

// Executor returns the underlying executor.
func (o *Optimizer) Executor() *Executor { return o.executor }

// Optimize analyzes table and recommends remediations. With AutoApply,
// eligible recommendations are executed; the rest are left for review.
func (o *Optimizer) Optimize(ctx context.Context, table string, opt OptimizeOptions) (Report, error) {
	if table == "" {
		return Report{}, NewError(ErrCodeInvalidInput, "table is required", false)
	}
	startAt := o.clock()
	report := Report{Table: table}

	indexes, err := o.analyzer.Analyze(ctx, table)
	if err != nil {
		o.emitAnalyzed(report, startAt, err)
		return report, err
	}
	report.Indexes = indexes

	if report.Stats, err = o.analyzer.TableStats(ctx, table); err != nil {
		o.emitAnalyzed(report, startAt, err)
		return report, err
	}

	settings := o.settings
	if opt.Thresholds != nil {
		settings.Thresholds = *opt.Thresholds
	}
	recommender := NewRecommender(settings)
	report.Recommendations = recommender.Recommend(table, indexes, report.Stats, o.clock())
	o.emitAnalyzed(report, startAt, nil)

	o.logger.Info("optimization analyzed",
		zap.String("table", table),
		zap.Int("indexes", len(indexes)),
		zap.Int("recommendations", len(report.Recommendations)))

	if opt.AutoApply {
		var eligible []Recommendation
		for _, rec := range report.Recommendations {
			if rec.AutoApplicable(recommender.Thresholds().AutoApplyConfidence) {
				eligible = append(eligible, rec)
			}
		}
		report.Applied = o.executor.Apply(ctx, eligible)
	}
	return report, nil
}

func (o *Optimizer) emitAnalyzed(report Report, startAt time.Time, err error) {
	evt := events.New(events.OptimizationAnalyzed, opOptimize, o.clock())
	evt.Duration = o.clock().Sub(startAt)
	evt.Success = err == nil
	evt.Metadata["table"] = report.Table
	evt.Metadata["indexes"] = len(report.Indexes)
	evt.Metadata["recommendations"] = len(report.Recommendations)
	if typed, ok := AsError(err); ok {
		evt.Metadata["error_code"] = string(typed.Code)
	}
	o.sink.Emit(evt)
}
