package uploader

import (
	"math"
	"slices"
	"sync"
	"time"
)

// LatencyPercentiles holds p50 and p95 values of the upload latency window.
type LatencyPercentiles struct {
	P50 time.Duration `json:"p50"`
	P95 time.Duration `json:"p95"`
}

// latencyWindow is a bounded ring buffer of recent upload latencies. It is
// safe for concurrent use.
type latencyWindow struct {
	mu   sync.Mutex
	data []time.Duration
	pos  int
	full bool
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 100
	}
	return &latencyWindow{data: make([]time.Duration, size)}
}

func (w *latencyWindow) add(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.data[w.pos] = d
	w.pos++
	if w.pos >= len(w.data) {
		w.pos = 0
		w.full = true
	}
}

func (w *latencyWindow) percentiles() LatencyPercentiles {
	w.mu.Lock()
	n := w.pos
	if w.full {
		n = len(w.data)
	}
	sorted := slices.Clone(w.data[:n])
	w.mu.Unlock()

	if n == 0 {
		return LatencyPercentiles{}
	}
	slices.Sort(sorted)
	return LatencyPercentiles{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
	}
}

// percentile returns the value at the given percentile (0.0-1.0) from a
// sorted slice of durations using nearest-rank.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
