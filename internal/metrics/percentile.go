package metrics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// PercentileCounter keeps every raw sample and reports p90/p95/p99 over all of
// them each cycle. Samples are never discarded.
type PercentileCounter struct {
	name    string
	mu      sync.Mutex
	samples []int64
	dirty   atomic.Bool

	sink    Sink
	printer *printer
}

// Percentiles holds order statistics of a sample set. Values are in the
// samples' unit (milliseconds for every counter in this module).
type Percentiles struct {
	Count int   `json:"count"`
	P90   int64 `json:"p90_ms"`
	P95   int64 `json:"p95_ms"`
	P99   int64 `json:"p99_ms"`
}

// NewPercentileCounter creates a counter whose report lines are labelled name.
func NewPercentileCounter(name string, sink Sink) *PercentileCounter {
	if sink == nil {
		sink = NewWriterSink(nil)
	}
	c := &PercentileCounter{name: name, sink: sink}
	c.printer = newPrinter(name, ReportInterval, c.Report)
	return c
}

// Name returns the report label.
func (c *PercentileCounter) Name() string {
	return c.name
}

// Add appends one sample.
func (c *PercentileCounter) Add(value int64) {
	c.mu.Lock()
	c.samples = append(c.samples, value)
	c.mu.Unlock()
	c.dirty.Store(true)
}

// Len returns the number of samples recorded so far.
func (c *PercentileCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}

// Percentiles sorts a copy of the samples and picks index int(len*p) for each
// percentile, clamped to the last sample. ok is false when there are no samples.
func (c *PercentileCounter) Percentiles() (Percentiles, bool) {
	c.mu.Lock()
	sorted := make([]int64, len(c.samples))
	copy(sorted, c.samples)
	c.mu.Unlock()

	if len(sorted) == 0 {
		return Percentiles{}, false
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return Percentiles{
		Count: len(sorted),
		P90:   sorted[percentileIndex(len(sorted), 0.90)],
		P95:   sorted[percentileIndex(len(sorted), 0.95)],
		P99:   sorted[percentileIndex(len(sorted), 0.99)],
	}, true
}

func percentileIndex(n int, p float64) int {
	idx := int(float64(n) * p)
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

// StartPrint arms the periodic report. Only the first call has an effect.
func (c *PercentileCounter) StartPrint(ctx context.Context) {
	c.printer.start(ctx)
}

// Stop halts the periodic report and waits for an in-flight cycle to finish.
func (c *PercentileCounter) Stop() {
	c.printer.stop()
}

// Report writes one percentile line when samples arrived since the last report.
func (c *PercentileCounter) Report(now time.Time) error {
	if !c.dirty.Swap(false) {
		return nil
	}
	p, ok := c.Percentiles()
	if !ok {
		return nil
	}
	return c.sink.WriteLine(fmt.Sprintf("%s: %s: %d, 99%% takes less than %d ms, 95%% takes less than %d ms, 90%% takes less than %d ms",
		now.UTC().Format(TimeLayout), c.name, p.Count, p.P99, p.P95, p.P90))
}
