package main

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/pushload/internal/auth"
	"github.com/torosent/pushload/internal/client"
	"github.com/torosent/pushload/internal/config"
	"github.com/torosent/pushload/internal/driver"
	"github.com/torosent/pushload/internal/hub"
	"github.com/torosent/pushload/internal/metrics"
	"github.com/torosent/pushload/internal/tracing"
)

func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

type counterSinks struct {
	latency   metrics.Sink
	reconnect metrics.Sink
	connect   metrics.Sink
}

// newCounterSinks routes counter reports to their files in counter mode and
// to w otherwise.
func newCounterSinks(cfg *config.Config, w io.Writer) counterSinks {
	if !cfg.UseCounter {
		sink := metrics.NewWriterSink(w)
		return counterSinks{latency: sink, reconnect: sink, connect: sink}
	}
	return counterSinks{
		latency:   metrics.NewFileSink(cfg.CountersFile),
		reconnect: metrics.NewFileSink(cfg.ReconnectFile),
		connect:   metrics.NewFileSink(cfg.ConnectFile),
	}
}

func buildAuthenticator(cfg *config.Config, tp *tracing.Provider) auth.Authenticator {
	if cfg.DirectMode() {
		return auth.NewStaticAuthenticator(cfg.HubURL, cfg.Token, 0)
	}
	return auth.NewLoginAuthenticator(cfg.URL, cfg.Password, cfg.LoginTimeout,
		auth.WithTracing(tp.Tracer(), tp.ShouldPropagate()))
}

func hubConfig(cfg *config.Config, logger *slog.Logger) hub.Config {
	return hub.Config{
		Headers:          makeHeaders(cfg.Headers),
		HandshakeTimeout: cfg.HandshakeTimeout,
		Logger:           logger,
	}
}

func makeHeaders(values map[string]string) http.Header {
	if len(values) == 0 {
		return nil
	}
	h := make(http.Header, len(values))
	for k, v := range values {
		h.Set(k, v)
	}
	return h
}

// fleet creates virtual clients and keeps them for shutdown.
type fleet struct {
	cfg           *config.Config
	authenticator auth.Authenticator
	dial          client.Dialer
	hist          *metrics.HistogramCounter
	reconnects    *metrics.PercentileCounter
	connects      *metrics.PercentileCounter
	tracer        trace.Tracer
	policy        client.RetryPolicy
	logger        *slog.Logger

	mu      sync.Mutex
	clients []*client.VirtualClient
}

func newFleet(
	cfg *config.Config,
	authenticator auth.Authenticator,
	dial client.Dialer,
	hist *metrics.HistogramCounter,
	reconnects, connects *metrics.PercentileCounter,
	tp *tracing.Provider,
	logger *slog.Logger,
) *fleet {
	policy := client.DefaultReconnectPolicy()
	policy.MaxAttempts = cfg.ReconnectAttempts

	f := &fleet{
		cfg:           cfg,
		authenticator: authenticator,
		dial:          dial,
		hist:          hist,
		reconnects:    reconnects,
		connects:      connects,
		policy:        policy,
		logger:        logger,
	}
	if cfg.Tracing.Enabled() {
		f.tracer = tp.Tracer()
	}
	return f
}

// newClient implements driver.Factory.
func (f *fleet) newClient(id string) driver.Client {
	c := client.New(client.Config{
		ID:              id,
		Credentials:     auth.NewCache(id, f.authenticator, f.logger),
		Dial:            f.dial,
		Counter:         f.hist,
		Reconnects:      f.reconnects,
		Connects:        f.connects,
		UseCounter:      f.cfg.UseCounter,
		AvgCount:        f.cfg.AvgCount,
		HandshakeMethod: f.cfg.HandshakeMethod,
		Reconnect:       f.policy,
		Tracer:          f.tracer,
		Logger:          f.logger,
	})
	f.mu.Lock()
	f.clients = append(f.clients, c)
	f.mu.Unlock()
	return c
}

func (f *fleet) closeAll() {
	f.mu.Lock()
	clients := f.clients
	f.clients = nil
	f.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
}
