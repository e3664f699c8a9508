package indexopt

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Laisky/laisky-kb-retrieval/internal/events"
	"github.com/Laisky/laisky-kb-retrieval/internal/metrics"
	"github.com/Laisky/laisky-kb-retrieval/library/log"
)

const opMonitor = "performance_monitor"

// Sampler takes one performance sample.
type Sampler interface {
	Sample(ctx context.Context) (PerformanceSample, error)
}

// PoolStats reports acquired and maximum pool connections.
type PoolStats func() (acquired, maxConns int32)

// PgxPoolStats adapts a pgx pool.
func PgxPoolStats(pool *pgxpool.Pool) PoolStats {
	return func() (int32, int32) {
		st := pool.Stat()
		return st.AcquiredConns(), st.MaxConns()
	}
}

const storeSampleSQL = `SELECT
	COALESCE(SUM(blks_hit)::float8 / NULLIF(SUM(blks_hit) + SUM(blks_read), 0), 1),
	(SELECT COUNT(*) FROM pg_stat_activity WHERE datname = current_database() AND state <> 'idle'),
	pg_database_size(current_database())
FROM pg_stat_database
WHERE datname = current_database()`

// StoreSampler combines database statistics, pool usage and the
// in-process search latency window.
type StoreSampler struct {
	db      DB
	pool    PoolStats
	latency *metrics.LatencyWindow
	timeout time.Duration
	clock   Clock
}

// NewStoreSampler constructs a sampler. pool and latency may be nil.
func NewStoreSampler(db DB, pool PoolStats, latency *metrics.LatencyWindow, settings Settings, clock Clock) (*StoreSampler, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	if clock == nil {
		clock = defaultClock
	}
	return &StoreSampler{
		db:      db,
		pool:    pool,
		latency: latency,
		timeout: settings.sanitize().QueryTimeout,
		clock:   clock,
	}, nil
}

// Sample implements Sampler.
func (s *StoreSampler) Sample(ctx context.Context) (PerformanceSample, error) {
	sample := PerformanceSample{Timestamp: s.clock()}

	queryCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.db.QueryRow(queryCtx, storeSampleSQL).Scan(
		&sample.CacheHitRatio, &sample.ActiveConnections, &sample.DatabaseBytes); err != nil {
		return sample, storeError(queryCtx, "query database statistics", "", errors.Wrap(err, "query database statistics"))
	}

	if s.latency != nil {
		st := s.latency.Stats()
		sample.AvgQueryTime = st.Avg
		sample.P95QueryTime = st.P95
		sample.SampledQueries = st.Count
	}
	if s.pool != nil {
		if acquired, maxConns := s.pool(); maxConns > 0 {
			sample.PoolUsage = float64(acquired) / float64(maxConns)
		}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	sample.MemoryBytes = mem.HeapAlloc
	return sample, nil
}

// Alert is one threshold breach of a sample.
type Alert struct {
	Metric    string   `json:"metric"`
	Severity  Priority `json:"severity"`
	Value     float64  `json:"value"`
	Threshold float64  `json:"threshold"`
	Message   string   `json:"message"`
}

// Monitor samples performance on a fixed interval into a bounded
// history and raises alerts on threshold breaches. Alerts are advisory
// events, never errors.
type Monitor struct {
	sampler Sampler
	history *metrics.Ring[PerformanceSample]
	th      Thresholds
	sink    events.Sink
	logger  logSDK.Logger
	clock   Clock

	mu       sync.Mutex
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewMonitor constructs a stopped monitor.
func NewMonitor(sampler Sampler, settings Settings, sink events.Sink, logger logSDK.Logger, clock Clock) (*Monitor, error) {
	if sampler == nil {
		return nil, errors.New("sampler is required")
	}
	settings = settings.sanitize()
	if sink == nil {
		sink = events.Nop{}
	}
	if logger == nil {
		logger = log.Logger.Named("indexopt_monitor")
	}
	if clock == nil {
		clock = defaultClock
	}
	return &Monitor{
		sampler:  sampler,
		history:  metrics.NewRing[PerformanceSample](settings.HistorySize),
		th:       settings.Thresholds,
		sink:     sink,
		logger:   logger,
		clock:    clock,
		interval: settings.MonitorInterval,
	}, nil
}

// Start launches the sampling loop. Starting a running monitor is a
// no-op. A non-positive interval uses the configured default.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	if interval > 0 {
		m.interval = interval
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	m.cancel, m.done = cancel, done
	go m.loop(loopCtx, m.interval, done)
	m.logger.Info("performance monitor started", zap.Duration("interval", m.interval))
}

// Stop halts the loop and waits for it to exit. It is idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Info("performance monitor stopped")
}

// Running reports whether the loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// Interval returns the current sampling interval.
func (m *Monitor) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

func (m *Monitor) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, _, err := m.Tick(ctx); err != nil {
			m.logger.Warn("performance sample failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sample takes one sample without recording it or raising alerts.
// A panic in the sampler is recovered and returned as error.
func (m *Monitor) Sample(ctx context.Context) (sample PerformanceSample, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("performance sample panicked: %v", r)
		}
	}()

	sample, err = m.sampler.Sample(ctx)
	if err != nil {
		return sample, err
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = m.clock()
	}
	return sample, nil
}

// Tick takes one sample, appends it to the history and evaluates alert
// thresholds.
func (m *Monitor) Tick(ctx context.Context) (sample PerformanceSample, alerts []Alert, err error) {
	sample, err = m.Sample(ctx)
	if err != nil {
		return sample, nil, err
	}
	m.history.Add(sample)

	alerts = EvaluateAlerts(sample, m.th)
	for _, a := range alerts {
		evt := events.New(events.AlertRaised, opMonitor, m.clock())
		evt.Success = false
		evt.Metadata["metric"] = a.Metric
		evt.Metadata["severity"] = string(a.Severity)
		evt.Metadata["value"] = a.Value
		evt.Metadata["threshold"] = a.Threshold
		evt.Metadata["message"] = a.Message
		m.sink.Emit(evt)
	}
	return sample, alerts, nil
}

// Latest returns the newest sample.
func (m *Monitor) Latest() (PerformanceSample, bool) {
	return m.history.Last()
}

// History returns a copy of the retained samples, oldest first.
func (m *Monitor) History() []PerformanceSample {
	return m.history.Items()
}

// EvaluateAlerts checks a sample against the latency, cache and pool
// thresholds. Each breached threshold yields exactly one alert.
func EvaluateAlerts(s PerformanceSample, th Thresholds) []Alert {
	var alerts []Alert
	if s.AvgQueryTime > th.SlowQuery {
		alerts = append(alerts, Alert{
			Metric:    "avg_query_time_ms",
			Severity:  PriorityHigh,
			Value:     millis(s.AvgQueryTime),
			Threshold: millis(th.SlowQuery),
			Message:   fmt.Sprintf("average query time %s exceeds %s", s.AvgQueryTime.Round(time.Millisecond), th.SlowQuery),
		})
	}
	if s.CacheHitRatio < th.CacheHitFloor {
		alerts = append(alerts, Alert{
			Metric:    "cache_hit_ratio",
			Severity:  PriorityMedium,
			Value:     s.CacheHitRatio,
			Threshold: th.CacheHitFloor,
			Message:   fmt.Sprintf("cache hit ratio %.2f is below %.2f", s.CacheHitRatio, th.CacheHitFloor),
		})
	}
	if s.PoolUsage > th.PoolUsageCeiling {
		alerts = append(alerts, Alert{
			Metric:    "pool_usage",
			Severity:  PriorityHigh,
			Value:     s.PoolUsage,
			Threshold: th.PoolUsageCeiling,
			Message:   fmt.Sprintf("connection pool usage %.0f%% exceeds %.0f%%", s.PoolUsage*100, th.PoolUsageCeiling*100),
		})
	}
	return alerts
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
