package metrics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ReportInterval is the period between counter report cycles.
const ReportInterval = time.Second

// printer owns the periodic report task of one counter. It can be armed once;
// Stop is safe to call any number of times, before or after start.
type printer struct {
	interval time.Duration
	report   func(now time.Time) error
	name     string

	started  int32
	stopOnce sync.Once
	done     chan struct{}
	finished chan struct{}
}

func newPrinter(name string, interval time.Duration, report func(time.Time) error) *printer {
	if interval <= 0 {
		interval = ReportInterval
	}
	return &printer{
		interval: interval,
		report:   report,
		name:     name,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// start arms the ticker. It returns false when the printer was already armed.
func (p *printer) start(ctx context.Context) bool {
	if !atomic.CompareAndSwapInt32(&p.started, 0, 1) {
		return false
	}
	go p.run(ctx)
	return true
}

func (p *printer) stop() {
	p.stopOnce.Do(func() {
		close(p.done)
	})
	if atomic.LoadInt32(&p.started) == 1 {
		<-p.finished
	}
}

func (p *printer) run(ctx context.Context) {
	defer close(p.finished)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			if err := p.report(now); err != nil {
				slog.Warn("counter report failed", "counter", p.name, "error", err)
			}
		case <-ctx.Done():
			return
		case <-p.done:
			return
		}
	}
}
