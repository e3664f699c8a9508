package indexopt

import (
	"fmt"
	"math"
	"time"
)

// HealthStatus is the categorical health of the engine.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusWarning  HealthStatus = "warning"
	StatusCritical HealthStatus = "critical"
)

// Issue is one detected problem.
type Issue struct {
	Severity  Priority `json:"severity"`
	Component string   `json:"component"`
	Message   string   `json:"message"`
}

// SubScores are the five equally weighted health components, 0 to 100.
type SubScores struct {
	QueryTime  float64 `json:"query_time"`
	CacheHit   float64 `json:"cache_hit"`
	IndexHit   float64 `json:"index_hit"`
	Connection float64 `json:"connection"`
	Storage    float64 `json:"storage"`
}

// HealthReport is the composite health check.
type HealthReport struct {
	Score       float64            `json:"score"`
	Status      HealthStatus       `json:"status"`
	SubScores   SubScores          `json:"sub_scores"`
	Issues      []Issue            `json:"issues"`
	Sample      *PerformanceSample `json:"sample,omitempty"`
	Indexes     []IndexMetric      `json:"indexes"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// Health scores the latest sample and index metrics. sample may be nil
// when the monitor has not produced one yet.
func Health(sample *PerformanceSample, indexes []IndexMetric, th Thresholds, now time.Time) HealthReport {
	th = th.sanitize()
	report := HealthReport{Sample: sample, Indexes: indexes, GeneratedAt: now}

	var s PerformanceSample
	if sample != nil {
		s = *sample
	} else {
		s.CacheHitRatio = 1
		report.Issues = append(report.Issues, Issue{
			Severity:  PriorityMedium,
			Component: "monitor",
			Message:   "no performance sample collected yet",
		})
	}

	for _, a := range EvaluateAlerts(s, th) {
		report.Issues = append(report.Issues, Issue{Severity: a.Severity, Component: a.Metric, Message: a.Message})
	}

	var (
		hitSum     float64
		hitIndexes int
	)
	for _, m := range indexes {
		if m.Scans > 0 {
			hitSum += m.HitRatio
			hitIndexes++
			if m.HitRatio < th.CacheHitFloor {
				report.Issues = append(report.Issues, Issue{
					Severity:  PriorityLow,
					Component: "index:" + m.Name,
					Message:   fmt.Sprintf("index hit ratio %.2f is below %.2f", m.HitRatio, th.CacheHitFloor),
				})
			}
		}
		if m.Type.IsVector() && m.FragmentationRatio > th.FragmentationRatio {
			report.Issues = append(report.Issues, Issue{
				Severity:  PriorityMedium,
				Component: "index:" + m.Name,
				Message:   fmt.Sprintf("fragmentation %.2f exceeds %.2f", m.FragmentationRatio, th.FragmentationRatio),
			})
		}
	}

	report.SubScores = SubScores{
		QueryTime:  percent(1 - float64(s.AvgQueryTime)/float64(th.SlowQuery)),
		CacheHit:   percent(s.CacheHitRatio),
		IndexHit:   100,
		Connection: percent(1 - s.PoolUsage),
		Storage:    100,
	}
	if hitIndexes > 0 {
		report.SubScores.IndexHit = percent(hitSum / float64(hitIndexes))
	}
	if th.StorageBudgetBytes > 0 {
		report.SubScores.Storage = percent(1 - float64(s.DatabaseBytes)/float64(th.StorageBudgetBytes))
	}

	sub := report.SubScores
	report.Score = math.Round((sub.QueryTime+sub.CacheHit+sub.IndexHit+sub.Connection+sub.Storage)/5*100) / 100
	report.Status = statusOf(report.Issues)
	return report
}

func statusOf(issues []Issue) HealthStatus {
	status := StatusHealthy
	for _, issue := range issues {
		switch issue.Severity {
		case PriorityHigh:
			return StatusCritical
		case PriorityMedium:
			status = StatusWarning
		}
	}
	return status
}

func percent(ratio float64) float64 {
	return math.Round(clamp01(ratio)*10000) / 100
}
