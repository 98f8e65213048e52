package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/torosent/pushload/internal/client"
	"github.com/torosent/pushload/internal/config"
	"github.com/torosent/pushload/internal/driver"
	"github.com/torosent/pushload/internal/metrics"
	"github.com/torosent/pushload/internal/output"
	"github.com/torosent/pushload/internal/promexport"
	"github.com/torosent/pushload/internal/threshold"
	"github.com/torosent/pushload/internal/tracing"
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	runID := ulid.Make().String()
	logger := newLogger(cfg.LogLevel, stderr).With("run", runID)

	tp, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	sinks := newCounterSinks(cfg, stderr)
	hist := metrics.NewHistogramCounter(sinks.latency, cfg.VerboseCounters)
	reconnects := metrics.NewPercentileCounter("reconnect", sinks.reconnect)
	connects := metrics.NewPercentileCounter("connect", sinks.connect)

	authenticator := buildAuthenticator(cfg, tp)
	dial := client.HubDialer(hubConfig(cfg, logger))
	clients := newFleet(cfg, authenticator, dial, hist, reconnects, connects, tp, logger)

	d := driver.New(driver.Options{
		Clients:         cfg.Threads,
		UserPrefix:      cfg.UserPrefix,
		Interval:        cfg.Delay,
		PayloadSize:     cfg.Size,
		MessageCount:    cfg.MessageCount,
		Duration:        cfg.Duration,
		ConnectRate:     cfg.ConnectRate,
		StartupAttempts: cfg.StartupAttempts,
		StartupInterval: cfg.StartupInterval,
		FastReconnect:   cfg.FastReconnect,
		NewClient:       clients.newClient,
		OnStartup: func(admitted int) {
			hist.StartPrint(ctx)
			reconnects.StartPrint(ctx)
			connects.StartPrint(ctx)
		},
		Logger: logger,
	})

	if cfg.MetricsAddr != "" {
		srv, err := promexport.Listen(cfg.MetricsAddr, promexport.NewCollector(hist, reconnects, connects, d), logger)
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	var progress *output.ProgressReporter
	if cfg.Progress && !cfg.JSONOutput {
		progress = output.NewProgressReporter(hist, d, progressInterval, stderr)
		progress.Start()
	}

	logger.Info("starting",
		"clients", cfg.Threads,
		"delay", cfg.Delay,
		"size", cfg.Size,
		"prefix", cfg.UserPrefix,
		"direct", cfg.DirectMode(),
	)
	result := d.Run(ctx)
	clients.closeAll()

	if progress != nil {
		progress.Stop()
	}
	hist.Stop()
	reconnects.Stop()
	connects.Stop()
	flushCounters(hist, reconnects, connects, logger)

	summary := metrics.Summarize(result.Duration, hist, reconnects, connects)
	summary.RunID = runID
	summary.Clients = result.Clients
	summary.Admitted = result.Admitted
	summary.Cycles = result.Cycles

	if cfg.JSONOutput {
		if err := output.PrintJSONReport(stdout, summary); err != nil {
			return err
		}
	} else {
		output.PrintReport(stdout, summary)
	}

	if len(thresholds) == 0 {
		return nil
	}
	return checkThresholds(stdout, threshold.NewEvaluator(thresholds).Evaluate(summary))
}

// flushCounters writes the final report of every counter so the files hold
// the state at exit even when the last tick was missed.
func flushCounters(hist *metrics.HistogramCounter, reconnects, connects *metrics.PercentileCounter, logger *slog.Logger) {
	now := time.Now()
	if err := hist.Report(now); err != nil {
		logger.Warn("write latency report", "error", err)
	}
	for _, c := range []*metrics.PercentileCounter{reconnects, connects} {
		if err := c.Report(now); err != nil {
			logger.Warn("write report", "counter", c.Name(), "error", err)
		}
	}
}

func checkThresholds(w io.Writer, results []threshold.Result) error {
	fmt.Fprintln(w, "\nThresholds:")
	failed := 0
	for _, r := range results {
		fmt.Fprintf(w, "  %s\n", r.Message)
		if !r.Pass {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d thresholds failed", failed, len(results))
	}
	return nil
}
