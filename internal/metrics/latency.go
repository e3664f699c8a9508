package metrics

import (
	"sort"
	"time"
)

// LatencyStats summarizes a latency window.
type LatencyStats struct {
	Count int
	Avg   time.Duration
	P95   time.Duration
	Max   time.Duration
}

// LatencyWindow keeps the most recent request latencies.
type LatencyWindow struct {
	ring *Ring[time.Duration]
}

// NewLatencyWindow keeps up to size observations.
func NewLatencyWindow(size int) *LatencyWindow {
	if size <= 0 {
		size = 1000
	}
	return &LatencyWindow{ring: NewRing[time.Duration](size)}
}

// Observe records one latency.
func (w *LatencyWindow) Observe(d time.Duration) {
	if d < 0 {
		d = 0
	}
	w.ring.Add(d)
}

// Stats computes average, p95 and max over the window.
func (w *LatencyWindow) Stats() LatencyStats {
	samples := w.ring.Items()
	if len(samples) == 0 {
		return LatencyStats{}
	}

	var total time.Duration
	for _, s := range samples {
		total += s
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	idx := (len(samples)*95+99)/100 - 1
	idx = max(0, min(idx, len(samples)-1))
	return LatencyStats{
		Count: len(samples),
		Avg:   total / time.Duration(len(samples)),
		P95:   samples[idx],
		Max:   samples[len(samples)-1],
	}
}
