// Package metrics provides the concurrent counters that measure a push load test.
//
// # HistogramCounter
//
// [HistogramCounter] buckets reply latencies into ten 100ms buckets (the last
// one open ended) and counts sent and received traffic with atomic operations:
//
//	sink := metrics.NewFileSink("Counters.txt")
//	hist := metrics.NewHistogramCounter(sink, false)
//	hist.StartPrint(ctx)
//	defer hist.Stop()
//
//	hist.Latency(delayMs)
//
// Every second, if new latencies arrived, one line with the fast/slow split is
// appended to the sink.
//
// # PercentileCounter
//
// [PercentileCounter] keeps every raw sample under a single mutex and reports
// p90, p95 and p99 over a sorted copy. The harness uses one instance for
// reconnect cost and one for connect (auth + handshake) cost.
//
// # Sinks
//
// Counters never open files themselves; a [Sink] is injected at construction.
// [FileSink] appends with a cross-process advisory lock, [WriterSink] wraps any
// io.Writer.
//
// # Thread Safety
//
// All recording methods are safe for concurrent use. Reports take point-in-time
// snapshots of each counter independently.
package metrics
