package indexopt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHealthHealthy(t *testing.T) {
	sample := PerformanceSample{
		AvgQueryTime:  50 * time.Millisecond,
		CacheHitRatio: 0.98,
		PoolUsage:     0.1,
		DatabaseBytes: 5 << 30,
	}
	indexes := []IndexMetric{
		{Name: "idx_vec", Type: IndexIVFFlat, Scans: 100, HitRatio: 0.96},
		{Name: "idx_kb", Type: IndexAuxiliary, Scans: 100, HitRatio: 1},
		{Name: "idx_unused", Type: IndexAuxiliary},
	}

	report := Health(&sample, indexes, DefaultThresholds(), testNow)
	require.Equal(t, StatusHealthy, report.Status)
	require.Empty(t, report.Issues)
	require.Equal(t, SubScores{QueryTime: 75, CacheHit: 98, IndexHit: 98, Connection: 90, Storage: 90}, report.SubScores)
	require.InDelta(t, 90.2, report.Score, 1e-9)
	require.Equal(t, testNow, report.GeneratedAt)
}

func TestHealthCriticalOnLatency(t *testing.T) {
	sample := PerformanceSample{AvgQueryTime: 450 * time.Millisecond, CacheHitRatio: 0.95}

	report := Health(&sample, nil, DefaultThresholds(), testNow)
	require.Equal(t, StatusCritical, report.Status)
	require.Zero(t, report.SubScores.QueryTime)
	require.Equal(t, float64(100), report.SubScores.IndexHit)
}

func TestHealthWarningOnFragmentation(t *testing.T) {
	sample := PerformanceSample{AvgQueryTime: 10 * time.Millisecond, CacheHitRatio: 0.99}
	indexes := []IndexMetric{{Name: "idx_vec", Type: IndexHNSW, Scans: 10, HitRatio: 0.99, FragmentationRatio: 0.6}}

	report := Health(&sample, indexes, DefaultThresholds(), testNow)
	require.Equal(t, StatusWarning, report.Status)
	require.Len(t, report.Issues, 1)
	require.Equal(t, "index:idx_vec", report.Issues[0].Component)
}

func TestHealthWithoutSample(t *testing.T) {
	report := Health(nil, nil, DefaultThresholds(), testNow)
	require.Equal(t, StatusWarning, report.Status)
	require.Nil(t, report.Sample)
	require.GreaterOrEqual(t, report.Score, 0.0)
	require.LessOrEqual(t, report.Score, 100.0)
}
