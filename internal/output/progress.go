package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/pushload/internal/metrics"
)

// RunState exposes the live counters of a running driver.
type RunState interface {
	Connected() int
	Cycles() int64
}

// ProgressReporter displays real-time progress updates.
type ProgressReporter struct {
	hist     *metrics.HistogramCounter
	run      RunState
	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
	start    time.Time
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(hist *metrics.HistogramCounter, run RunState, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		hist:     hist,
		run:      run,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
		start:    time.Now(),
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.loop()
}

// Stop halts progress updates and terminates the line.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
		fmt.Fprintln(p.writer)
	}
}

func (p *ProgressReporter) loop() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, p.line(time.Since(p.start)))
		case <-p.done:
			return
		}
	}
}

func (p *ProgressReporter) line(elapsed time.Duration) string {
	snap := p.hist.Snapshot()
	line := fmt.Sprintf("\rElapsed: %s", elapsed.Truncate(time.Second))
	if p.run != nil {
		line += fmt.Sprintf(" | Connected: %d | Cycles: %d", p.run.Connected(), p.run.Cycles())
	}
	line += fmt.Sprintf(" | Sent: %d | Received: %d | Slow: %d | Conn fail: %d",
		snap.Sent, snap.Received, snap.Slow(), snap.ConnectionFailure)
	if secs := elapsed.Seconds(); secs > 0 {
		line += fmt.Sprintf(" | Recv/s: %.1f", float64(snap.Received)/secs)
	}
	return line
}
