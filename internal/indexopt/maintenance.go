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

const opMaintenance = "maintenance"

// StatsReader reads table statistics.
type StatsReader interface {
	TableStats(ctx context.Context, table string) (TableStats, error)
}

// Scheduler runs housekeeping on tables whose vacuum or statistics age
// crossed its threshold. A failing table is recorded and does not stop
// the others.
type Scheduler struct {
	db       DB
	stats    StatsReader
	sink     events.Sink
	settings Settings
	logger   logSDK.Logger
	clock    Clock
}

// NewScheduler constructs a maintenance scheduler.
func NewScheduler(db DB, stats StatsReader, settings Settings, sink events.Sink, logger logSDK.Logger, clock Clock) (*Scheduler, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	if stats == nil {
		return nil, errors.New("stats reader is required")
	}
	if sink == nil {
		sink = events.Nop{}
	}
	if logger == nil {
		logger = log.Logger.Named("indexopt_maintenance")
	}
	if clock == nil {
		clock = defaultClock
	}
	return &Scheduler{
		db:       db,
		stats:    stats,
		sink:     sink,
		settings: settings.sanitize(),
		logger:   logger,
		clock:    clock,
	}, nil
}

// Start runs RunOnce every interval until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = s.settings.MaintenanceInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Warn("maintenance run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce checks every configured table, or the given ones, and executes
// due housekeeping. It returns the tasks that ran, including failed ones.
// The error is non-nil only when ctx is done.
func (s *Scheduler) RunOnce(ctx context.Context, tables ...string) ([]MaintenanceTask, error) {
	if len(tables) == 0 {
		tables = s.settings.Tables
	}

	var tasks []MaintenanceTask
	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return tasks, errors.Wrap(err, "maintenance cancelled")
		}

		stats, err := s.stats.TableStats(ctx, table)
		if err != nil {
			s.logger.Warn("read table statistics", zap.String("table", table), zap.Error(err))
			continue
		}
		if task, due := s.dueTask(stats); due {
			tasks = append(tasks, s.execute(ctx, task))
		}
	}
	return tasks, nil
}

// dueTask picks at most one action per table: a full vacuum when vacuum
// is stale, which also refreshes statistics, otherwise a plain analyze.
func (s *Scheduler) dueTask(stats TableStats) (MaintenanceTask, bool) {
	now := s.clock()
	th := s.settings.Thresholds
	task := MaintenanceTask{
		Table:         stats.Table,
		AutoRun:       true,
		LastRun:       now,
		NextScheduled: now.Add(s.settings.MaintenanceInterval),
	}
	if task.Table == "" {
		return task, false
	}

	if _, stale := staleAge(stats.LastVacuum, now, th.VacuumStaleAfter); stale {
		task.Kind = TaskVacuumAnalyze
		task.Priority = PriorityLow
		task.EstimatedDuration = estimateDuration(stats, 20000)
		return task, true
	}
	if _, stale := staleAge(stats.LastAnalyze, now, th.AnalyzeStaleAfter); stale {
		task.Kind = TaskAnalyze
		task.Priority = PriorityMedium
		task.EstimatedDuration = estimateDuration(stats, 200000)
		return task, true
	}
	return task, false
}

func (s *Scheduler) execute(ctx context.Context, task MaintenanceTask) MaintenanceTask {
	stmt := "ANALYZE " + ident(task.Table)
	if task.Kind == TaskVacuumAnalyze {
		stmt = "VACUUM (ANALYZE) " + ident(task.Table)
	}
	logger := s.logger.With(zap.String("table", task.Table), zap.String("kind", string(task.Kind)))

	execCtx, cancel := context.WithTimeout(ctx, s.settings.StatementTimeout)
	defer cancel()

	startAt := s.clock()
	_, err := s.db.Exec(execCtx, stmt)
	task.ActualDuration = s.clock().Sub(startAt)
	task.Status = TaskSucceeded
	if err != nil {
		task.Status = TaskFailed
		task.Error = storeError(execCtx, "maintenance statement failed", task.Table, err).Error()
		logger.Error("maintenance task failed", zap.String("statement", stmt), zap.Error(err))
	} else {
		logger.Info("maintenance task done", zap.Duration("cost", task.ActualDuration))
	}

	evt := events.New(events.MaintenanceExecuted, opMaintenance, s.clock())
	evt.Duration = task.ActualDuration
	evt.Success = err == nil
	evt.Metadata["table"] = task.Table
	evt.Metadata["kind"] = string(task.Kind)
	evt.Metadata["priority"] = string(task.Priority)
	if err != nil {
		evt.Metadata["error"] = task.Error
	}
	s.sink.Emit(evt)
	return task
}

// estimateDuration assumes rowsPerSecond throughput, at least one second.
func estimateDuration(stats TableStats, rowsPerSecond int64) time.Duration {
	d := time.Duration(stats.RowCount/rowsPerSecond) * time.Second
	return max(d, time.Second)
}
