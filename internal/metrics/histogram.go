package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	// BucketCount is the number of latency buckets. The last bucket is open ended.
	BucketCount = 10
	// BucketStepMs is the width of every bounded bucket in milliseconds.
	BucketStepMs = 100

	// TimeLayout is the UTC timestamp prefix of every report line.
	TimeLayout = "2006-01-02T15:04:05Z"

	maxTrackableLatencyMs = 3_600_000
)

// HistogramCounter buckets round-trip latencies into fixed 100ms steps and
// counts traffic. Buckets accumulate for the lifetime of the counter; a report
// is written only when new latencies arrived since the previous one.
type HistogramCounter struct {
	buckets       [BucketCount]atomic.Int64
	sent          atomic.Int64
	sentBytes     atomic.Int64
	received      atomic.Int64
	receivedBytes atomic.Int64
	connSuccess   atomic.Int64
	connFailure   atomic.Int64
	dirty         atomic.Bool

	// hist keeps full resolution for the end of run summary.
	histMu sync.Mutex
	hist   *hdrhistogram.Histogram

	sink    Sink
	verbose bool
	printer *printer
}

// HistogramSnapshot is a point-in-time copy of a HistogramCounter.
type HistogramSnapshot struct {
	Buckets           [BucketCount]int64
	Sent              int64
	SentBytes         int64
	Received          int64
	ReceivedBytes     int64
	ConnectionSuccess int64
	ConnectionFailure int64
}

// NewHistogramCounter creates a counter reporting to sink. With verbose set,
// every report cycle also writes a JSON line with the per-bucket counters.
func NewHistogramCounter(sink Sink, verbose bool) *HistogramCounter {
	if sink == nil {
		sink = NewWriterSink(nil)
	}
	h := &HistogramCounter{
		hist:    hdrhistogram.New(1, maxTrackableLatencyMs, 3),
		sink:    sink,
		verbose: verbose,
	}
	h.printer = newPrinter("latency", ReportInterval, h.Report)
	return h
}

// BucketIndex maps a latency in milliseconds to its bucket.
func BucketIndex(delayMs int64) int {
	if delayMs < 0 {
		return 0
	}
	idx := delayMs / BucketStepMs
	if idx >= BucketCount {
		return BucketCount - 1
	}
	return int(idx)
}

// Latency records one round trip.
func (h *HistogramCounter) Latency(delayMs int64) {
	h.buckets[BucketIndex(delayMs)].Add(1)
	h.dirty.Store(true)

	v := delayMs
	if v < 1 {
		v = 1
	}
	if v > maxTrackableLatencyMs {
		v = maxTrackableLatencyMs
	}
	h.histMu.Lock()
	_ = h.hist.RecordValue(v)
	h.histMu.Unlock()
}

// RecordSentSize counts one sent message of the given size.
func (h *HistogramCounter) RecordSentSize(bytes int64) {
	h.sent.Add(1)
	h.sentBytes.Add(bytes)
}

// RecordRecvSize counts one received message of the given size.
func (h *HistogramCounter) RecordRecvSize(bytes int64) {
	h.received.Add(1)
	h.receivedBytes.Add(bytes)
}

// ConnectionSuccess counts a completed connection handshake.
func (h *HistogramCounter) ConnectionSuccess() {
	h.connSuccess.Add(1)
}

// ConnectionFailure counts a closed or failed connection.
func (h *HistogramCounter) ConnectionFailure() {
	h.connFailure.Add(1)
}

// Snapshot copies every counter. Counters are read independently; the copy is
// not a consistent joint snapshot.
func (h *HistogramCounter) Snapshot() HistogramSnapshot {
	var s HistogramSnapshot
	for i := range h.buckets {
		s.Buckets[i] = h.buckets[i].Load()
	}
	s.Sent = h.sent.Load()
	s.SentBytes = h.sentBytes.Load()
	s.Received = h.received.Load()
	s.ReceivedBytes = h.receivedBytes.Load()
	s.ConnectionSuccess = h.connSuccess.Load()
	s.ConnectionFailure = h.connFailure.Load()
	return s
}

// Sum returns the number of recorded latencies.
func (s HistogramSnapshot) Sum() int64 {
	var sum int64
	for _, c := range s.Buckets {
		sum += c
	}
	return sum
}

// Slow returns the count in the open ended last bucket.
func (s HistogramSnapshot) Slow() int64 {
	return s.Buckets[BucketCount-1]
}

// Fast returns the count in all bounded buckets.
func (s HistogramSnapshot) Fast() int64 {
	return s.Sum() - s.Slow()
}

// StartPrint arms the periodic report. Only the first call has an effect.
func (h *HistogramCounter) StartPrint(ctx context.Context) {
	h.printer.start(ctx)
}

// Stop halts the periodic report and waits for an in-flight cycle to finish.
func (h *HistogramCounter) Stop() {
	h.printer.stop()
}

// Report writes the distribution line when latencies arrived since the last
// report. Nothing is written while no latency has been recorded.
func (h *HistogramCounter) Report(now time.Time) error {
	if !h.dirty.Swap(false) {
		return nil
	}
	snap := h.Snapshot()

	sum := snap.Sum()
	if sum == 0 {
		return nil
	}
	if err := h.sink.WriteLine(formatDistribution(now, snap)); err != nil {
		return err
	}
	if h.verbose {
		line, err := formatCounters(now, snap)
		if err != nil {
			return err
		}
		return h.sink.WriteLine(line)
	}
	return nil
}

func formatDistribution(now time.Time, snap HistogramSnapshot) string {
	sum := snap.Sum()
	fast, slow := snap.Fast(), snap.Slow()
	boundary := (BucketCount - 1) * BucketStepMs
	return fmt.Sprintf("%s: total=%d, <%dms: count=%d percent=%.3f%%, >=%dms: count=%d percent=%.3f%%",
		now.UTC().Format(TimeLayout),
		sum,
		boundary, fast, float64(fast)*100/float64(sum),
		boundary, slow, float64(slow)*100/float64(sum),
	)
}

func formatCounters(now time.Time, snap HistogramSnapshot) (string, error) {
	counters := make(map[string]int64, BucketCount+4)
	for i, c := range snap.Buckets {
		label := strconv.Itoa(BucketStepMs + i*BucketStepMs)
		if i < BucketCount-1 {
			counters["message:lt:"+label] = c
		} else {
			counters["message:ge:"+label] = c
		}
	}
	counters["message:sent"] = snap.Sent
	counters["message:received"] = snap.Received
	counters["message:sendSize"] = snap.SentBytes
	counters["message:recvSize"] = snap.ReceivedBytes

	data, err := json.Marshal(struct {
		Time     string           `json:"Time"`
		Counters map[string]int64 `json:"Counters"`
	}{
		Time:     now.UTC().Format(TimeLayout),
		Counters: counters,
	})
	if err != nil {
		return "", fmt.Errorf("encode counters: %w", err)
	}
	return string(data), nil
}

// LatencyStats summarises every recorded latency at full resolution.
type LatencyStats struct {
	Count  int64   `json:"count"`
	MinMs  int64   `json:"min_ms"`
	MaxMs  int64   `json:"max_ms"`
	MeanMs float64 `json:"mean_ms"`
	P50Ms  int64   `json:"p50_ms"`
	P90Ms  int64   `json:"p90_ms"`
	P99Ms  int64   `json:"p99_ms"`
}

// LatencyStats computes full-resolution latency statistics.
func (h *HistogramCounter) LatencyStats() LatencyStats {
	h.histMu.Lock()
	defer h.histMu.Unlock()

	total := h.hist.TotalCount()
	if total == 0 {
		return LatencyStats{}
	}
	return LatencyStats{
		Count:  total,
		MinMs:  h.hist.Min(),
		MaxMs:  h.hist.Max(),
		MeanMs: h.hist.Mean(),
		P50Ms:  h.hist.ValueAtQuantile(50),
		P90Ms:  h.hist.ValueAtQuantile(90),
		P99Ms:  h.hist.ValueAtQuantile(99),
	}
}
