package metrics_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/torosent/pushload/internal/metrics"
)

var reportTime = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func TestBucketIndex(t *testing.T) {
	tests := []struct {
		delay int64
		want  int
	}{
		{-5, 0},
		{0, 0},
		{99, 0},
		{100, 1},
		{150, 1},
		{250, 2},
		{899, 8},
		{900, 9},
		{999, 9},
		{1500, 9},
		{1 << 40, 9},
	}
	for _, tt := range tests {
		if got := metrics.BucketIndex(tt.delay); got != tt.want {
			t.Errorf("BucketIndex(%d) = %d, want %d", tt.delay, got, tt.want)
		}
	}
}

func TestHistogramDistribution(t *testing.T) {
	h := metrics.NewHistogramCounter(nil, false)
	for _, d := range []int64{50, 150, 250, 999, 1500} {
		h.Latency(d)
	}

	snap := h.Snapshot()
	want := [metrics.BucketCount]int64{1, 1, 1, 0, 0, 0, 0, 0, 0, 2}
	// 50->0, 150->1, 250->2, 999->9, 1500->9
	if snap.Buckets != want {
		t.Fatalf("buckets = %v, want %v", snap.Buckets, want)
	}
	if snap.Sum() != 5 {
		t.Errorf("sum = %d, want 5", snap.Sum())
	}
	if snap.Slow() != 2 || snap.Fast() != 3 {
		t.Errorf("slow/fast = %d/%d, want 2/3", snap.Slow(), snap.Fast())
	}
}

func TestHistogramReportSplit(t *testing.T) {
	var buf bytes.Buffer
	h := metrics.NewHistogramCounter(metrics.NewWriterSink(&buf), false)
	for _, d := range []int64{50, 150, 250, 350, 1500} {
		h.Latency(d)
	}

	if err := h.Report(reportTime); err != nil {
		t.Fatalf("Report() error = %v", err)
	}

	want := "2026-03-04T05:06:07Z: total=5, <900ms: count=4 percent=80.000%, >=900ms: count=1 percent=20.000%\n"
	if buf.String() != want {
		t.Fatalf("report line = %q, want %q", buf.String(), want)
	}
}

func TestHistogramReportSkippedWithoutSamples(t *testing.T) {
	var buf bytes.Buffer
	h := metrics.NewHistogramCounter(metrics.NewWriterSink(&buf), true)
	h.RecordSentSize(10)

	if err := h.Report(reportTime); err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
}

func TestHistogramReportOnlyWhenDirty(t *testing.T) {
	var buf bytes.Buffer
	h := metrics.NewHistogramCounter(metrics.NewWriterSink(&buf), false)
	h.Latency(10)

	_ = h.Report(reportTime)
	_ = h.Report(reportTime)
	if lines := strings.Count(buf.String(), "\n"); lines != 1 {
		t.Fatalf("expected 1 line after two reports, got %d", lines)
	}

	h.Latency(20)
	_ = h.Report(reportTime)
	if !strings.Contains(buf.String(), "total=2") {
		t.Fatalf("buckets should accumulate across reports, got %q", buf.String())
	}
}

func TestHistogramVerboseCounters(t *testing.T) {
	var buf bytes.Buffer
	h := metrics.NewHistogramCounter(metrics.NewWriterSink(&buf), true)
	h.Latency(120)
	h.RecordSentSize(100)
	h.RecordRecvSize(120)

	if err := h.Report(reportTime); err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}

	var parsed struct {
		Time     string
		Counters map[string]int64
	}
	if err := json.Unmarshal([]byte(lines[1]), &parsed); err != nil {
		t.Fatalf("unmarshal counters: %v", err)
	}
	checks := map[string]int64{
		"message:lt:200":   1,
		"message:ge:1000":  0,
		"message:sent":     1,
		"message:sendSize": 100,
		"message:received": 1,
		"message:recvSize": 120,
	}
	for key, want := range checks {
		if got, ok := parsed.Counters[key]; !ok || got != want {
			t.Errorf("counter %s = %d (present %v), want %d", key, got, ok, want)
		}
	}
}

func TestHistogramConcurrentRecording(t *testing.T) {
	h := metrics.NewHistogramCounter(nil, false)

	var wg sync.WaitGroup
	workers := 10
	perWorker := 100
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				h.Latency(int64(i * 100))
				h.RecordSentSize(1)
			}
		}(i)
	}
	wg.Wait()

	snap := h.Snapshot()
	if snap.Sum() != int64(workers*perWorker) {
		t.Errorf("sum = %d, want %d", snap.Sum(), workers*perWorker)
	}
	if snap.Sent != int64(workers*perWorker) {
		t.Errorf("sent = %d, want %d", snap.Sent, workers*perWorker)
	}
	if stats := h.LatencyStats(); stats.Count != int64(workers*perWorker) {
		t.Errorf("latency stats count = %d", stats.Count)
	}
}

func TestHistogramStartPrintWritesPeriodically(t *testing.T) {
	var buf bytes.Buffer
	sink := &countingSink{inner: metrics.NewWriterSink(&buf)}
	h := metrics.NewHistogramCounter(sink, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.StartPrint(ctx)
	h.StartPrint(ctx)
	h.StartPrint(ctx)
	h.Latency(10)

	time.Sleep(metrics.ReportInterval + 300*time.Millisecond)
	h.Stop()
	h.Stop()

	if got := sink.count(); got != 1 {
		t.Fatalf("expected exactly one report line, got %d", got)
	}
}

type countingSink struct {
	mu    sync.Mutex
	n     int
	inner metrics.Sink
}

func (s *countingSink) WriteLine(line string) error {
	s.mu.Lock()
	s.n++
	s.mu.Unlock()
	return s.inner.WriteLine(line)
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}
