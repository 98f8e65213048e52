package driver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/torosent/pushload/internal/client"
)

// Result captures execution summary.
type Result struct {
	Clients  int // clients requested
	Admitted int // clients that connected during startup
	Cycles   int64
	Duration time.Duration
}

// Driver starts the virtual clients and paces their sends.
type Driver struct {
	opt Options

	mu       sync.RWMutex
	admitted []Client

	cycles atomic.Int64
}

// New creates a Driver. opt.NewClient is required.
func New(opt Options) *Driver {
	opt.normalize()
	return &Driver{opt: opt}
}

// Run starts every client, then runs send cycles until ctx ends, Duration
// elapses or MessageCount cycles completed.
func (d *Driver) Run(ctx context.Context) Result {
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if d.opt.Duration > 0 {
		deadlineCtx, deadlineCancel := context.WithTimeout(ctx, d.opt.Duration)
		ctx = deadlineCtx
		defer deadlineCancel()
	}

	admitted := d.startup(ctx)
	d.mu.Lock()
	d.admitted = admitted
	d.mu.Unlock()

	d.opt.Logger.Info("startup finished",
		"requested", d.opt.Clients,
		"admitted", len(admitted),
		"took", time.Since(start).Round(time.Millisecond),
	)
	if d.opt.OnStartup != nil {
		d.opt.OnStartup(len(admitted))
	}

	if ctx.Err() == nil && len(admitted) > 0 {
		d.opt.Logger.Info("start sending", "interval", d.opt.Interval, "payload_bytes", d.opt.PayloadSize)
		d.loop(ctx, admitted)
	}

	return Result{
		Clients:  d.opt.Clients,
		Admitted: len(admitted),
		Cycles:   d.cycles.Load(),
		Duration: time.Since(start),
	}
}

// Admitted returns the clients in the working set.
func (d *Driver) Admitted() []Client {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Client(nil), d.admitted...)
}

// Connected counts admitted clients currently connected.
func (d *Driver) Connected() int {
	n := 0
	for _, c := range d.Admitted() {
		if c.State() == client.Connected {
			n++
		}
	}
	return n
}

// Cycles reports completed send cycles.
func (d *Driver) Cycles() int64 {
	return d.cycles.Load()
}

// startup creates the clients, paced by ConnectRate, and admits those that
// reach Connected within the startup attempts. Clients that never connect
// are dropped for the rest of the run.
func (d *Driver) startup(ctx context.Context) []Client {
	limiter := d.opt.LimiterFactory(d.opt.ConnectRate)
	slots := make([]Client, d.opt.Clients)

	var wg sync.WaitGroup
	for i := 0; i < d.opt.Clients; i++ {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		c := d.opt.NewClient(ClientID(d.opt.UserPrefix, i+1))
		wg.Add(1)
		go func(i int, c Client) {
			defer wg.Done()
			if d.admit(ctx, c) {
				slots[i] = c
			}
		}(i, c)
	}
	wg.Wait()

	admitted := make([]Client, 0, len(slots))
	for _, c := range slots {
		if c != nil {
			admitted = append(admitted, c)
		}
	}
	return admitted
}

func (d *Driver) admit(ctx context.Context, c Client) bool {
	logger := d.opt.Logger.With("client", c.ID())
	for attempt := 1; attempt <= d.opt.StartupAttempts; attempt++ {
		switch c.State() {
		case client.Connected:
			logger.Debug("admitted", "attempt", attempt)
			return true
		case client.Disconnected:
			go d.connect(ctx, c)
		}
		select {
		case <-time.After(d.opt.StartupInterval):
		case <-ctx.Done():
			return false
		}
	}
	if c.State() == client.Connected {
		return true
	}
	logger.Warn("dropped after startup attempts", "attempts", d.opt.StartupAttempts)
	return false
}

func (d *Driver) loop(ctx context.Context, clients []Client) {
	for {
		began := time.Now()
		for _, c := range clients {
			if ctx.Err() != nil {
				return
			}
			if c.State() == client.Disconnected {
				go d.reconnect(ctx, c)
				continue
			}
			payload := make([]byte, d.opt.PayloadSize)
			d.opt.Rand.Read(payload)
			c.Send(ctx, payload)
		}
		n := d.cycles.Add(1)
		if d.opt.MessageCount > 0 && n >= int64(d.opt.MessageCount) {
			return
		}

		if sleep := nextSleep(d.opt.Interval, time.Since(began)); sleep > 0 {
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return
			}
		} else if ctx.Err() != nil {
			return
		}
	}
}

func (d *Driver) connect(ctx context.Context, c Client) {
	if err := c.Connect(ctx); err != nil && ctx.Err() == nil {
		d.opt.Logger.Debug("connect attempt failed", "client", c.ID(), "error", err)
	}
}

func (d *Driver) reconnect(ctx context.Context, c Client) {
	if d.opt.FastReconnect {
		err := c.Reconnect(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		if !errors.Is(err, client.ErrNoTransport) {
			d.opt.Logger.Debug("fast reconnect failed, logging in again", "client", c.ID(), "error", err)
		}
	}
	d.connect(ctx, c)
}

// nextSleep returns how long to wait before the next cycle. Overruns yield
// zero; missed cycles are never made up.
func nextSleep(interval, elapsed time.Duration) time.Duration {
	if remaining := interval - elapsed; remaining > 0 {
		return remaining
	}
	return 0
}
