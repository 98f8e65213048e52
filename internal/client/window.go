package client

import (
	"math"
	"sync"
)

// WindowStats summarises one full averaging window of reply latencies.
type WindowStats struct {
	Count int
	MinMs int64
	MaxMs int64
	AvgMs int64
}

// latencyWindow accumulates replies until size samples arrived, then yields
// their min/max/avg and starts over.
type latencyWindow struct {
	size int

	mu    sync.Mutex
	count int
	total int64
	min   int64
	max   int64
}

func newLatencyWindow(size int) *latencyWindow {
	w := &latencyWindow{size: size}
	w.reset()
	return w
}

func (w *latencyWindow) reset() {
	w.count = 0
	w.total = 0
	w.min = math.MaxInt64
	w.max = 0
}

// add records one delay and reports the window stats when it just filled.
func (w *latencyWindow) add(delayMs int64) (WindowStats, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.total += delayMs
	if delayMs > w.max {
		w.max = delayMs
	}
	if delayMs < w.min {
		w.min = delayMs
	}
	w.count++
	if w.count < w.size {
		return WindowStats{}, false
	}
	stats := WindowStats{
		Count: w.count,
		MinMs: w.min,
		MaxMs: w.max,
		AvgMs: w.total / int64(w.count),
	}
	w.reset()
	return stats, true
}
