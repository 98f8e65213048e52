package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/pushload/internal/clientmetrics"
	"github.com/torosent/pushload/internal/hub"
	"github.com/torosent/pushload/internal/tracing"
)

// Hub methods used by the load test.
const (
	MethodPerformanceTest = "PerformanceTest"
	MethodConnected       = "Connected"
)

var (
	// ErrNoCredentials is returned by Connect when login produced nothing.
	ErrNoCredentials = errors.New("client: no credentials")
	// ErrNoTransport is returned by Reconnect before any Connect built a transport.
	ErrNoTransport = errors.New("client: no transport to restart")
)

// State is the connection state of a VirtualClient.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Transport is the duplex hub channel a client drives. *hub.Conn implements it.
type Transport interface {
	On(target string, fn hub.Handler)
	OnClosed(fn func(error))
	Start(ctx context.Context) error
	Send(ctx context.Context, target string, args ...any) error
	Close() error
}

// Dialer builds an unstarted transport for the given service url and token.
type Dialer func(serviceURL, token string) Transport

// HubDialer returns a Dialer producing hub connections that share base settings.
func HubDialer(base hub.Config) Dialer {
	return func(serviceURL, token string) Transport {
		cfg := base
		cfg.URL = serviceURL
		cfg.AccessToken = token
		return hub.NewConn(cfg)
	}
}

// CredentialSource yields the service url and token, empty on failure.
// *auth.Cache implements it.
type CredentialSource interface {
	Credentials(ctx context.Context) (serviceURL, token string)
}

// LatencyRecorder receives reply latencies, traffic sizes and connection events.
// *metrics.HistogramCounter implements it.
type LatencyRecorder interface {
	Latency(delayMs int64)
	RecordSentSize(bytes int64)
	RecordRecvSize(bytes int64)
	ConnectionSuccess()
	ConnectionFailure()
}

// SampleRecorder receives duration samples in milliseconds.
// *metrics.PercentileCounter implements it.
type SampleRecorder interface {
	Add(value int64)
}

// Config configures a VirtualClient.
type Config struct {
	ID          string
	Credentials CredentialSource
	Dial        Dialer
	Counter     LatencyRecorder
	Reconnects  SampleRecorder // close-to-handshake durations, optional
	Connects    SampleRecorder // attempt-to-handshake durations, optional

	// UseCounter routes reply latencies to Counter. When false each client
	// logs min/max/avg for every AvgCount replies instead.
	UseCounter bool
	AvgCount   int

	// HandshakeMethod is the server greeting that marks a session usable.
	// Empty treats a successful transport start as the handshake.
	HandshakeMethod string

	Reconnect RetryPolicy
	Tracer    trace.Tracer
	Logger    *slog.Logger
	Now       func() time.Time
}

// VirtualClient is one simulated user holding a hub session.
type VirtualClient struct {
	cfg    Config
	logger *slog.Logger
	window *latencyWindow

	state atomic.Int32

	mu          sync.Mutex
	transport   Transport
	gen         uint64
	closedAt    int64 // unix ms, 0 unless awaiting reconnect
	lastAttempt time.Time
}

// New creates a disconnected client. Credentials, Dial and Counter are required.
func New(cfg Config) *VirtualClient {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.AvgCount <= 0 {
		cfg.AvgCount = 100
	}
	if cfg.Reconnect.MaxAttempts == 0 {
		cfg.Reconnect = DefaultReconnectPolicy()
	}
	return &VirtualClient{
		cfg:    cfg,
		logger: cfg.Logger.With("client", cfg.ID),
		window: newLatencyWindow(cfg.AvgCount),
	}
}

// ID returns the client id used for login.
func (c *VirtualClient) ID() string { return c.cfg.ID }

// State returns the current connection state.
func (c *VirtualClient) State() State { return State(c.state.Load()) }

// Connect logs in (using cached credentials when valid), builds a fresh
// transport and starts it. It is a no-op while Connecting or Connected.
// Failures are logged and leave the client Disconnected.
func (c *VirtualClient) Connect(ctx context.Context) (err error) {
	if !c.state.CompareAndSwap(int32(Disconnected), int32(Connecting)) {
		return nil
	}

	if c.cfg.Tracer != nil {
		var span trace.Span
		ctx, span = tracing.StartRequestSpan(ctx, c.cfg.Tracer, "hub", "connect")
		defer func() {
			tracing.EndSpan(span, err, attribute.String("pushload.client_id", c.cfg.ID))
		}()
	}

	c.mu.Lock()
	c.lastAttempt = c.cfg.Now()
	c.mu.Unlock()

	serviceURL, token := c.cfg.Credentials.Credentials(ctx)
	if serviceURL == "" || token == "" {
		c.state.Store(int32(Disconnected))
		return ErrNoCredentials
	}

	t := c.cfg.Dial(serviceURL, token)
	c.mu.Lock()
	old := c.transport
	c.gen++
	gen := c.gen
	c.transport = t
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}

	c.bind(t, gen)
	if err := c.start(ctx, t, gen); err != nil {
		c.logger.Error("connect failed", "error", err)
		if errors.Is(err, hub.ErrUnauthorized) {
			if inv, ok := c.cfg.Credentials.(interface{ Invalidate() }); ok {
				inv.Invalidate()
			}
		}
		return fmt.Errorf("connect %s: %w", c.cfg.ID, err)
	}
	return nil
}

// Reconnect restarts the existing transport without logging in again, up to
// the reconnect policy's attempt budget. It is a no-op while Connecting or
// Connected.
func (c *VirtualClient) Reconnect(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(Disconnected), int32(Connecting)) {
		return nil
	}

	c.mu.Lock()
	t := c.transport
	gen := c.gen
	c.lastAttempt = c.cfg.Now()
	c.mu.Unlock()

	if t == nil {
		c.state.Store(int32(Disconnected))
		return ErrNoTransport
	}

	attempts := 0
	err := c.cfg.Reconnect.Do(ctx, func(ctx context.Context) error {
		attempts++
		return t.Start(ctx)
	})
	if err != nil {
		c.logger.Error("reconnect failed", "attempts", attempts, "error", err)
		c.failStart(gen)
		return fmt.Errorf("reconnect %s: %w", c.cfg.ID, err)
	}
	if c.cfg.HandshakeMethod == "" {
		c.onConnected(gen)
	}
	return nil
}

// Send dispatches payload with the current time on the load-test method. It
// is a no-op unless Connected and never waits for the write; delivery
// failures are only logged. Send takes ownership of payload.
func (c *VirtualClient) Send(ctx context.Context, payload []byte) {
	if c.State() != Connected {
		return
	}
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		return
	}

	env := hub.Envelope{CreatedTime: c.cfg.Now().UTC(), Content: payload}
	c.cfg.Counter.RecordSentSize(int64(len(payload)))
	go func() {
		if err := t.Send(ctx, MethodPerformanceTest, env); err != nil {
			c.logger.Debug("send failed", "error", err)
		}
	}()
}

// Close drops the transport without recording a connection failure.
func (c *VirtualClient) Close() error {
	c.mu.Lock()
	t := c.transport
	c.transport = nil
	c.gen++
	c.closedAt = 0
	c.mu.Unlock()

	c.state.Store(int32(Disconnected))
	if t == nil {
		return nil
	}
	if m, ok := t.(interface{ Metrics() clientmetrics.Snapshot }); ok {
		snap := m.Metrics()
		c.logger.Debug("closing transport",
			"starts", snap.Starts,
			"sent", snap.MessagesSent,
			"received", snap.MessagesReceived,
			"errors", snap.Errors,
			"handshake", snap.HandshakeDuration)
	}
	return t.Close()
}

func (c *VirtualClient) bind(t Transport, gen uint64) {
	t.OnClosed(func(err error) { c.onClosed(gen, err) })
	if c.cfg.HandshakeMethod != "" {
		t.On(c.cfg.HandshakeMethod, func([]json.RawMessage) { c.onConnected(gen) })
	}
	t.On(MethodPerformanceTest, c.onMessage)
}

func (c *VirtualClient) start(ctx context.Context, t Transport, gen uint64) error {
	if err := t.Start(ctx); err != nil {
		c.failStart(gen)
		return err
	}
	if c.cfg.HandshakeMethod == "" {
		c.onConnected(gen)
	}
	return nil
}

func (c *VirtualClient) failStart(gen uint64) {
	c.cfg.Counter.ConnectionFailure()
	c.mu.Lock()
	if gen == c.gen {
		c.state.CompareAndSwap(int32(Connecting), int32(Disconnected))
	}
	c.mu.Unlock()
}

func (c *VirtualClient) onConnected(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || !c.state.CompareAndSwap(int32(Connecting), int32(Connected)) {
		c.mu.Unlock()
		return
	}
	now := c.cfg.Now()
	closedAt := c.closedAt
	c.closedAt = 0
	cost := now.Sub(c.lastAttempt).Milliseconds()
	c.mu.Unlock()

	if closedAt != 0 && c.cfg.Reconnects != nil {
		c.cfg.Reconnects.Add(now.UnixMilli() - closedAt)
	}
	if c.cfg.Connects != nil {
		c.cfg.Connects.Add(cost)
	}
	c.cfg.Counter.ConnectionSuccess()
	c.logger.Info("connected", "cost_ms", cost)
}

func (c *VirtualClient) onClosed(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.state.Store(int32(Disconnected))
	c.closedAt = c.cfg.Now().UnixMilli()
	c.mu.Unlock()

	c.cfg.Counter.ConnectionFailure()
	if cause != nil {
		c.logger.Warn("connection closed", "error", cause)
	} else {
		c.logger.Info("connection closed")
	}
}

func (c *VirtualClient) onMessage(args []json.RawMessage) {
	if len(args) == 0 {
		return
	}
	var env hub.Envelope
	if err := json.Unmarshal(args[0], &env); err != nil {
		c.logger.Debug("invalid reply", "error", err)
		return
	}
	delay := c.cfg.Now().Sub(env.CreatedTime).Milliseconds()
	c.cfg.Counter.RecordRecvSize(int64(len(env.Content)))

	if c.cfg.UseCounter {
		c.cfg.Counter.Latency(delay)
		return
	}
	if stats, full := c.window.add(delay); full {
		c.logger.Info("latency window",
			"replies", stats.Count,
			"min_ms", stats.MinMs,
			"max_ms", stats.MaxMs,
			"avg_ms", stats.AvgMs,
		)
	}
}
