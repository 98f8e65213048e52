package driver

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/torosent/pushload/internal/client"
)

// Client is the part of a virtual client the driver drives.
// *client.VirtualClient implements it.
type Client interface {
	ID() string
	State() client.State
	Connect(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Send(ctx context.Context, payload []byte)
}

// Factory builds the client with the given id.
type Factory func(id string) Client

// Options configure the Driver.
type Options struct {
	Clients      int           // number of virtual clients to start
	UserPrefix   string        // client ids are <prefix>_<i>, i from 1
	Interval     time.Duration // target cycle length
	PayloadSize  int           // random payload bytes per send
	MessageCount int           // cycles to run (0 means unlimited)
	Duration     time.Duration // overall time limit (0 means no duration cap)
	ConnectRate  int           // client creations per second during startup (0 means unlimited)

	StartupAttempts int           // admission checks per client
	StartupInterval time.Duration // pause between admission checks

	// FastReconnect restarts a dropped client's existing transport before
	// falling back to a full Connect.
	FastReconnect bool

	NewClient Factory // required

	// OnStartup is called once after admission with the admitted count.
	OnStartup func(admitted int)

	Logger         *slog.Logger
	Rand           *rand.Rand
	LimiterFactory func(rps int) *rate.Limiter // optional injection for tests
}

func (o *Options) normalize() {
	if o.Clients <= 0 {
		o.Clients = 1
	}
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.PayloadSize <= 0 {
		o.PayloadSize = 1
	}
	if o.MessageCount < 0 {
		o.MessageCount = 0
	}
	if o.ConnectRate < 0 {
		o.ConnectRate = 0
	}
	if o.StartupAttempts <= 0 {
		o.StartupAttempts = 10
	}
	if o.StartupInterval <= 0 {
		o.StartupInterval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(rps int) *rate.Limiter {
			if rps <= 0 {
				return rate.NewLimiter(rate.Inf, 0)
			}
			return rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// ClientID formats the id of the i-th client.
func ClientID(prefix string, i int) string {
	return fmt.Sprintf("%s_%d", prefix, i)
}
