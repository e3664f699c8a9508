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

const opApplyRecommendation = "apply_recommendation"

// ApplyResult is the outcome of one applied recommendation.
type ApplyResult struct {
	Recommendation Recommendation `json:"recommendation"`
	Applied        bool           `json:"applied"`
	RolledBack     bool           `json:"rolled_back"`
	Duration       time.Duration  `json:"duration"`
	// Err is an OPTIMIZATION_EXECUTION_FAILURE carrying the failed
	// statement and the rollback statements.
	Err error `json:"-"`
}

// Executor runs recommendation statements against the store. Each
// recommendation is isolated: a failure is rolled back and reported
// without stopping the rest.
type Executor struct {
	db       DB
	sink     events.Sink
	logger   logSDK.Logger
	clock    Clock
	timeout  time.Duration
	minTrust float64
}

// NewExecutor constructs an executor.
func NewExecutor(db DB, settings Settings, sink events.Sink, logger logSDK.Logger, clock Clock) (*Executor, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	settings = settings.sanitize()
	if sink == nil {
		sink = events.Nop{}
	}
	if logger == nil {
		logger = log.Logger.Named("indexopt_executor")
	}
	if clock == nil {
		clock = defaultClock
	}
	return &Executor{
		db:       db,
		sink:     sink,
		logger:   logger,
		clock:    clock,
		timeout:  settings.StatementTimeout,
		minTrust: settings.Thresholds.AutoApplyConfidence,
	}, nil
}

// AutoApplicable filters recommendations that may run without review.
func (e *Executor) AutoApplicable(recs []Recommendation) []Recommendation {
	var out []Recommendation
	for _, rec := range recs {
		if rec.AutoApplicable(e.minTrust) {
			out = append(out, rec)
		}
	}
	return out
}

// Apply executes each recommendation in order. Recommendations without
// statements are skipped.
func (e *Executor) Apply(ctx context.Context, recs []Recommendation) []ApplyResult {
	results := make([]ApplyResult, 0, len(recs))
	for _, rec := range recs {
		if len(rec.Statements) == 0 {
			continue
		}
		if ctx.Err() != nil {
			results = append(results, ApplyResult{
				Recommendation: rec,
				Err:            executionError(rec, "", errors.Wrap(ctx.Err(), "apply cancelled")),
			})
			continue
		}
		results = append(results, e.applyOne(ctx, rec))
	}
	return results
}

func (e *Executor) applyOne(ctx context.Context, rec Recommendation) ApplyResult {
	startAt := e.clock()
	logger := e.logger.With(
		zap.String("kind", string(rec.Kind)),
		zap.String("table", rec.Table),
		zap.String("index", rec.Index))

	result := ApplyResult{Recommendation: rec}
	for _, stmt := range rec.Statements {
		if err := e.exec(ctx, stmt); err != nil {
			result.Err = executionError(rec, stmt, err)
			result.RolledBack = e.rollback(ctx, rec, logger)
			logger.Error("apply recommendation",
				zap.String("statement", stmt),
				zap.Bool("rolled_back", result.RolledBack),
				zap.Error(err))
			break
		}
	}
	result.Applied = result.Err == nil
	result.Duration = e.clock().Sub(startAt)
	if result.Applied {
		logger.Info("recommendation applied", zap.Duration("cost", result.Duration))
	}

	evt := events.New(events.OptimizationApplied, opApplyRecommendation, e.clock())
	evt.Duration = result.Duration
	evt.Success = result.Applied
	evt.Metadata["kind"] = string(rec.Kind)
	evt.Metadata["table"] = rec.Table
	evt.Metadata["index"] = rec.Index
	evt.Metadata["rolled_back"] = result.RolledBack
	e.sink.Emit(evt)
	return result
}

// rollback runs every rollback statement, continuing past failures.
// It reports whether all of them succeeded.
func (e *Executor) rollback(ctx context.Context, rec Recommendation, logger logSDK.Logger) bool {
	if len(rec.Rollback) == 0 {
		return false
	}
	ctx = context.WithoutCancel(ctx)
	ok := true
	for _, stmt := range rec.Rollback {
		if err := e.exec(ctx, stmt); err != nil {
			ok = false
			logger.Error("rollback statement failed", zap.String("statement", stmt), zap.Error(err))
		}
	}
	return ok
}

func (e *Executor) exec(ctx context.Context, stmt string) error {
	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if _, err := e.db.Exec(execCtx, stmt); err != nil {
		return errors.Wrap(err, "exec statement")
	}
	return nil
}

func executionError(rec Recommendation, stmt string, cause error) *Error {
	return &Error{
		Code:      ErrCodeOptimizationExecutionFailure,
		Message:   "remediation statement failed",
		Table:     rec.Table,
		Index:     rec.Index,
		Statement: stmt,
		Rollback:  append([]string(nil), rec.Rollback...),
		cause:     cause,
	}
}
